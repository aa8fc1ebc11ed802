package nio

import (
	"testing"
	"time"
)

func TestFIFOSendRecvRoundTrip(t *testing.T) {
	a := NewFIFO("a")
	b := NewFIFO("b")
	if err := CrossConnectFIFO(a, b); err != nil {
		t.Fatalf("CrossConnectFIFO: %v", err)
	}

	msg := []byte("hello fifo")
	if n, err := a.Send(msg); err != nil || n != len(msg) {
		t.Fatalf("Send: n=%d err=%v", n, err)
	}

	buf := make([]byte, 1500)
	n, err := b.Recv(buf)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(buf[:n]) != string(msg) {
		t.Fatalf("got %q, want %q", buf[:n], msg)
	}

	if stats := a.Stats(); stats.PktsOut != 1 || stats.BytesOut != uint64(len(msg)) {
		t.Fatalf("unexpected sender stats: %+v", stats)
	}
	if stats := b.Stats(); stats.PktsIn != 1 || stats.BytesIn != uint64(len(msg)) {
		t.Fatalf("unexpected receiver stats: %+v", stats)
	}
}

func TestNullTransportSendNeverBlocks(t *testing.T) {
	n := NewNull("n0")
	done := make(chan struct{})
	go func() {
		n.Send([]byte("x"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("send on a null NIO should return immediately")
	}
}

func TestBindFilterDropsMatchingMAC(t *testing.T) {
	a := NewFIFO("a")
	b := NewFIFO("b")
	if err := CrossConnectFIFO(a, b); err != nil {
		t.Fatalf("CrossConnectFIFO: %v", err)
	}

	if err := b.BindFilter(DirRX, "macdrop", []string{"01:80:C2"}); err != nil {
		t.Fatalf("BindFilter: %v", err)
	}

	bpdu := append([]byte{0x01, 0x80, 0xC2, 0x00, 0x00, 0x00}, []byte("bpdu")...)
	if _, err := a.Send(bpdu); err != nil {
		t.Fatalf("Send: %v", err)
	}

	buf := make([]byte, 1500)
	n, err := b.Recv(buf)
	if n != -1 || err != nil {
		t.Fatalf("expected drop (-1, nil), got n=%d err=%v", n, err)
	}
	if stats := b.Stats(); stats.BytesIn != 0 {
		t.Fatalf("dropped frame must not count toward bytes_in, got %+v", stats)
	}
}
