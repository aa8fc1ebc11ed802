package frsw

import (
	"bytes"
	"testing"

	"github.com/GNS3/dynamips-fabric/internal/nio"
)

func makeFrame(dlci uint32, payload []byte) []byte {
	frame := make([]byte, HeaderSize+len(payload))
	EncodeDLCI(frame, dlci)
	copy(frame[HeaderSize:], payload)
	return frame
}

// TestDLCIRoundTrip confirms DecodeDLCI(EncodeDLCI(dlci)) == dlci
// across the 10-bit range's interesting boundaries.
func TestDLCIRoundTrip(t *testing.T) {
	for _, dlci := range []uint32{0, 1, 16, 100, 200, 511, 512, 1007, 1023} {
		frame := makeFrame(dlci, nil)
		if got := DecodeDLCI(frame); got != dlci {
			t.Fatalf("dlci %d: round trip got %d", dlci, got)
		}
	}
}

// TestSwitchRewritesDLCIAndForwards is scenario S5: a 20-byte frame
// addressed to dlci=100 arriving on A is forwarded to B re-encoded for
// dlci=200, with the connection counter incremented.
func TestSwitchRewritesDLCIAndForwards(t *testing.T) {
	a, aPeer := nio.NewFIFO("a"), nio.NewFIFO("aPeer")
	b, bPeer := nio.NewFIFO("b"), nio.NewFIFO("bPeer")
	if err := nio.CrossConnectFIFO(a, aPeer); err != nil {
		t.Fatal(err)
	}
	if err := nio.CrossConnectFIFO(b, bPeer); err != nil {
		t.Fatal(err)
	}

	sw := NewSwitch("fr0")
	if err := sw.CreateVC(a, 100, b, 200); err != nil {
		t.Fatalf("CreateVC: %v", err)
	}

	payload := bytes.Repeat([]byte{0x42}, 18)
	frame := makeFrame(100, payload)

	if err := sw.HandleFrame(a, frame); err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}

	buf := make([]byte, 64)
	n, err := bPeer.Recv(buf)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	got := buf[:n]
	if len(got) != len(frame) {
		t.Fatalf("forwarded frame length = %d, want %d", len(got), len(frame))
	}
	if DecodeDLCI(got) != 200 {
		t.Fatalf("forwarded DLCI = %d, want 200", DecodeDLCI(got))
	}
	if !bytes.Equal(got[HeaderSize:], payload) {
		t.Fatal("forwarded payload mismatch")
	}

	sw.mu.Lock()
	c := sw.lookup(a, 100)
	sw.mu.Unlock()
	if c == nil || c.Count != 1 {
		t.Fatalf("expected connection counter 1, got %+v", c)
	}
}

func TestSwitchDropsUnknownDLCI(t *testing.T) {
	a := nio.NewFIFO("a")
	sw := NewSwitch("fr0")

	frame := makeFrame(55, []byte{0x01, 0x02})
	if err := sw.HandleFrame(a, frame); err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}
	if sw.Drop() != 1 {
		t.Fatalf("expected drop count 1, got %d", sw.Drop())
	}
}

func TestSwitchIgnoresLMIDLCIs(t *testing.T) {
	a, aPeer := nio.NewFIFO("a"), nio.NewFIFO("aPeer")
	nio.CrossConnectFIFO(a, aPeer)
	sw := NewSwitch("fr0")

	frame := makeFrame(DLCILMIAnsi, []byte{0x75})
	if err := sw.HandleFrame(a, frame); err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}
	if sw.Drop() != 0 {
		t.Fatalf("LMI frame should not count as a drop, got %d", sw.Drop())
	}
}

func TestCreateVCRejectsDuplicate(t *testing.T) {
	a := nio.NewFIFO("a")
	b := nio.NewFIFO("b")
	sw := NewSwitch("fr0")

	if err := sw.CreateVC(a, 100, b, 200); err != nil {
		t.Fatal(err)
	}
	if err := sw.CreateVC(a, 100, b, 300); err != ErrConnExists {
		t.Fatalf("expected ErrConnExists, got %v", err)
	}
}

func TestDeleteVC(t *testing.T) {
	a := nio.NewFIFO("a")
	b := nio.NewFIFO("b")
	sw := NewSwitch("fr0")

	if err := sw.CreateVC(a, 100, b, 200); err != nil {
		t.Fatal(err)
	}
	if err := sw.DeleteVC(a, 100, b, 200); err != nil {
		t.Fatalf("DeleteVC: %v", err)
	}
	if err := sw.DeleteVC(a, 100, b, 200); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}
