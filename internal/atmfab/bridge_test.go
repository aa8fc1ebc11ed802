package atmfab

import (
	"bytes"
	"testing"

	"github.com/GNS3/dynamips-fabric/internal/nio"
)

// TestBridgeEthernetToATMToEthernet drives scenario S2 end to end: a
// frame injected on the Ethernet side is segmented into AAL5/RFC1483
// cells, and feeding those cells back into a second bridge's RecvCell
// reconstructs the original frame on its Ethernet NIO.
func TestBridgeEthernetToATMToEthernet(t *testing.T) {
	eth, ethPeer := nio.NewFIFO("eth"), nio.NewFIFO("ethPeer")
	atmA, atmB := nio.NewFIFO("atmA"), nio.NewFIFO("atmB")
	if err := nio.CrossConnectFIFO(eth, ethPeer); err != nil {
		t.Fatal(err)
	}
	if err := nio.CrossConnectFIFO(atmA, atmB); err != nil {
		t.Fatal(err)
	}

	b := NewBridge("br0")
	if err := b.Configure(eth, atmA, 0, 32); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	frame := bytes.Repeat([]byte{0xAB}, 64)
	if err := b.RecvPacket(frame); err != nil {
		t.Fatalf("RecvPacket: %v", err)
	}

	sink, sinkPeer := nio.NewFIFO("sink"), nio.NewFIFO("sinkPeer")
	if err := nio.CrossConnectFIFO(sink, sinkPeer); err != nil {
		t.Fatal(err)
	}

	rx := NewBridge("br1")
	if err := rx.Configure(sink, atmB, 0, 32); err != nil {
		t.Fatalf("Configure rx: %v", err)
	}

	cell := make([]byte, CellSize)
	for i := 0; i < 2; i++ {
		n, err := atmB.Recv(cell)
		if err != nil || n != CellSize {
			t.Fatalf("Recv cell %d: n=%d err=%v", i, n, err)
		}
		if err := rx.RecvCell(cell[:n]); err != nil {
			t.Fatalf("RecvCell %d: %v", i, err)
		}
	}

	buf := make([]byte, 1500)
	n, err := sinkPeer.Recv(buf)
	if err != nil {
		t.Fatalf("Recv forwarded frame: %v", err)
	}
	if !bytes.Equal(buf[:n], frame) {
		t.Fatalf("forwarded frame mismatch: got %d bytes, want %d", n, len(frame))
	}
}

func TestBridgeIgnoresWrongVPIVCI(t *testing.T) {
	eth := nio.NewFIFO("eth")
	atmA, atmB := nio.NewFIFO("atmA"), nio.NewFIFO("atmB")
	nio.CrossConnectFIFO(atmA, atmB)

	b := NewBridge("br0")
	if err := b.Configure(eth, atmA, 0, 32); err != nil {
		t.Fatal(err)
	}

	cell := makeCell(0, 99) // wrong VCI
	if err := b.RecvCell(cell); err != nil {
		t.Fatalf("RecvCell: %v", err)
	}
}

func TestConfigureRejectsDoubleBind(t *testing.T) {
	b := NewBridge("br0")
	eth, atm := nio.NewFIFO("eth"), nio.NewFIFO("atm")
	if err := b.Configure(eth, atm, 0, 32); err != nil {
		t.Fatal(err)
	}
	if err := b.Configure(eth, atm, 0, 32); err != ErrBridgeConfigured {
		t.Fatalf("expected ErrBridgeConfigured, got %v", err)
	}
}
