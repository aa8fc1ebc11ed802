package hv

import (
	"bufio"
	"net"
	"strings"
	"testing"

	"github.com/GNS3/dynamips-fabric/internal/registry"
)

func TestTokenizeHonorsQuotedSubstrings(t *testing.T) {
	tokens, err := tokenize(`atmsw create "my switch"`)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"atmsw", "create", "my switch"}
	if len(tokens) != len(want) {
		t.Fatalf("got %v, want %v", tokens, want)
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Fatalf("got %v, want %v", tokens, want)
		}
	}
}

func TestTokenizeRejectsUnterminatedQuote(t *testing.T) {
	if _, err := tokenize(`atmsw create "unterminated`); err == nil {
		t.Fatal("expected an error for an unterminated quoted token")
	}
}

// dialServer starts s on a loopback port and returns a connected client
// plus a teardown func.
func dialServer(t *testing.T, s *Server) (*bufio.ReadWriter, func()) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			go s.serveConn(c)
		}
	}()

	conn, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		l.Close()
		t.Fatal(err)
	}
	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	return rw, func() {
		conn.Close()
		l.Close()
	}
}

func sendLine(t *testing.T, rw *bufio.ReadWriter, line string) string {
	t.Helper()
	if _, err := rw.WriteString(line + "\r\n"); err != nil {
		t.Fatal(err)
	}
	if err := rw.Flush(); err != nil {
		t.Fatal(err)
	}
	reply, err := rw.ReadString('\n')
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	return strings.TrimRight(reply, "\r\n")
}

func TestServerDispatchesUnknownModuleAndCommand(t *testing.T) {
	reg := registry.New()
	s := NewServer()
	s.RegisterModule(NewNioModule(reg))

	rw, done := dialServer(t, s)
	defer done()

	if got := sendLine(t, rw, "bogus create foo"); !strings.HasPrefix(got, "201") {
		t.Fatalf("expected HSC_ERR_UNK_MODULE (201), got %q", got)
	}

	rw2, done2 := dialServer(t, s)
	defer done2()
	if got := sendLine(t, rw2, "nio bogus_cmd foo"); !strings.HasPrefix(got, "202") {
		t.Fatalf("expected HSC_ERR_UNK_CMD (202), got %q", got)
	}
}

func TestServerDispatchesBadParamCount(t *testing.T) {
	reg := registry.New()
	s := NewServer()
	s.RegisterModule(NewNioModule(reg))

	rw, done := dialServer(t, s)
	defer done()

	if got := sendLine(t, rw, "nio create_null"); !strings.HasPrefix(got, "203") {
		t.Fatalf("expected HSC_ERR_BAD_PARAM (203), got %q", got)
	}
}

func TestNioCreateNullThenList(t *testing.T) {
	reg := registry.New()
	s := NewServer()
	s.RegisterModule(NewNioModule(reg))

	rw, done := dialServer(t, s)
	defer done()

	if got := sendLine(t, rw, "nio create_null A"); !strings.HasPrefix(got, "100") {
		t.Fatalf("expected InfoOK (100), got %q", got)
	}

	if got := sendLine(t, rw, "nio list"); !strings.HasPrefix(got, "101") {
		t.Fatalf("expected an InfoMsg continuation line, got %q", got)
	}
}

func TestAtmswCreateVPCRoundTrip(t *testing.T) {
	reg := registry.New()
	s := NewServer()
	s.RegisterModule(NewNioModule(reg))
	s.RegisterModule(NewAtmswModule(reg))

	rw, done := dialServer(t, s)
	defer done()

	mustOK := func(line string) {
		t.Helper()
		if got := sendLine(t, rw, line); !strings.HasPrefix(got, "100") {
			t.Fatalf("%q: expected InfoOK, got %q", line, got)
		}
	}

	mustOK("nio create_null A")
	mustOK("nio create_null B")
	mustOK("atmsw create sw0")
	mustOK("atmsw create_vpc sw0 A 1 B 2")

	// Creating the same VPC again must fail with HSC_ERR_BINDING (205),
	// proof codeFor mapped atmfab.ErrVPExists correctly end to end.
	if got := sendLine(t, rw, "atmsw create_vpc sw0 A 1 B 2"); !strings.HasPrefix(got, "205") {
		t.Fatalf("expected HSC_ERR_BINDING (205) on duplicate VPC, got %q", got)
	}
}

func TestAtmswDeleteUnknownObjectReportsErrDelete(t *testing.T) {
	reg := registry.New()
	s := NewServer()
	s.RegisterModule(NewAtmswModule(reg))

	rw, done := dialServer(t, s)
	defer done()

	if got := sendLine(t, rw, "atmsw delete does-not-exist"); !strings.HasPrefix(got, "207") {
		t.Fatalf("expected HSC_ERR_DELETE (207) deleting an unknown switch, got %q", got)
	}
}
