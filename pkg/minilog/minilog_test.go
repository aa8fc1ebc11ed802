// Copyright (2012) Sandia Corporation.
// Under the terms of Contract DE-AC04-94AL85000 with Sandia Corporation,
// the U.S. Government retains certain rights in this software.

package minilog

import (
	"bytes"
	"strings"
	"testing"
)

func TestFilter(t *testing.T) {
	sink1 := new(bytes.Buffer)
	defer DelLogger("sink1Level")

	AddLogger("sink1Level", sink1, DEBUG, false)

	Debugln("test 123")
	if !strings.Contains(sink1.String(), "test 123") {
		t.Fatal("sink1 got:", sink1.String())
	}

	AddFilter("sink1Level", "minilog_test")
	Debugln("test 456")
	if strings.Contains(sink1.String(), "test 456") {
		t.Fatal("filtered line leaked through:", sink1.String())
	}

	DelFilter("sink1Level", "minilog_test")
	Debugln("test 456")
	if !strings.Contains(sink1.String(), "test 456") {
		t.Fatal("unfiltered line missing:", sink1.String())
	}
}

func TestMultilog(t *testing.T) {
	sink1 := new(bytes.Buffer)
	sink2 := new(bytes.Buffer)
	defer DelLogger("sink1")
	defer DelLogger("sink2")

	AddLogger("sink1", sink1, DEBUG, false)
	AddLogger("sink2", sink2, WARN, false)

	Debugln("debug only")
	Warnln("debug and warn")

	if !strings.Contains(sink1.String(), "debug only") {
		t.Fatal("sink1 missing debug line")
	}
	if strings.Contains(sink2.String(), "debug only") {
		t.Fatal("sink2 (warn level) should not have debug line")
	}
	if !strings.Contains(sink2.String(), "debug and warn") {
		t.Fatal("sink2 missing warn line")
	}
}

func TestLevelRoundTrip(t *testing.T) {
	for _, name := range []string{"debug", "info", "warn", "error", "fatal"} {
		lvl, err := ParseLevel(name)
		if err != nil {
			t.Fatalf("ParseLevel(%v): %v", name, err)
		}
		if lvl.String() != name {
			t.Fatalf("round trip mismatch: %v -> %v -> %v", name, lvl, lvl.String())
		}
	}

	if _, err := ParseLevel("bogus"); err == nil {
		t.Fatal("expected error for invalid level")
	}
}
