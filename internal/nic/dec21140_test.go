package nic

import (
	"net"
	"testing"
	"time"

	"github.com/GNS3/dynamips-fabric/internal/nic/engine"
	"github.com/GNS3/dynamips-fabric/internal/nio"
)

// writeDec21140SetupFrame lays out a 192-byte setup frame at addr with
// one unicast slot, matching the 12-byte-per-entry/6-byte-address
// layout dec21140_update_mac_addr expects.
func writeDec21140SetupFrame(t *testing.T, mem engine.GuestMem, addr uint32, mac [6]byte) {
	t.Helper()
	buf := make([]byte, dec21140SetupFrameSize)
	for i := 12; i < len(buf); i++ {
		buf[i] = 0xFF // broadcast fills the unused slots and is skipped
	}
	buf[0], buf[1] = mac[0], mac[1]
	buf[4], buf[5] = mac[2], mac[3]
	buf[8], buf[9] = mac[4], mac[5]
	if err := mem.WriteAt(addr, buf); err != nil {
		t.Fatal(err)
	}
}

func TestDec21140SetupFrameInstallsMACTable(t *testing.T) {
	mem := engine.NewFlatGuestMem(1 << 20)
	d := NewDec21140("e0/0", mem)

	const txDescAddr = 0x5000
	const setupAddr = 0x6000
	mac := [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	writeDec21140SetupFrame(t, mem, setupAddr, mac)

	mem.WriteUint32(txDescAddr, dec21140Own)
	mem.WriteUint32(txDescAddr+4, dec21140TXSET)
	mem.WriteUint32(txDescAddr+8, setupAddr)

	d.WriteCSR(4, txDescAddr)
	d.WriteCSR(6, csr6StartTX)

	ok, err := d.scanTXOnce(func([]byte) error {
		t.Fatal("setup frame should not be handed to send")
		return nil
	})
	if err != nil {
		t.Fatalf("scanTXOnce: %v", err)
	}
	if !ok {
		t.Fatal("scanTXOnce should report the setup descriptor as consumed")
	}

	want := net.HardwareAddr(mac[:])
	addrs := d.UnicastAddresses()
	if len(addrs) != 1 || addrs[0].String() != want.String() {
		t.Fatalf("unicast table = %v, want [%v]", addrs, want)
	}

	if !d.filter.Accepts(mac[:]) {
		t.Fatal("filter should accept the installed unicast address")
	}
	other := [6]byte{0x02, 0x03, 0x04, 0x05, 0x06, 0x07}
	if d.filter.Accepts(other[:]) {
		t.Fatal("filter should reject an address absent from the table")
	}

	own, err := mem.ReadUint32(txDescAddr)
	if err != nil {
		t.Fatal(err)
	}
	if own&dec21140Own != 0 {
		t.Fatal("own-bit should be cleared once the setup descriptor is consumed")
	}
}

func TestDec21140PromiscuousAcceptsEverything(t *testing.T) {
	mem := engine.NewFlatGuestMem(1 << 20)
	d := NewDec21140("e0/0", mem)
	d.WriteCSR(6, csr6Promisc)

	dst := [6]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	if !d.filter.Accepts(dst[:]) {
		t.Fatal("promiscuous mode should accept any destination")
	}
}

func TestDec21140RoundTripsFrameThroughNIO(t *testing.T) {
	mem := engine.NewFlatGuestMem(1 << 20)
	d := NewDec21140("e0/0", mem)

	const rxDescAddr = 0x1000
	const rxBufAddr = 0x2000
	mem.WriteUint32(rxDescAddr, dec21140Own)
	mem.WriteUint32(rxDescAddr+4, 256)
	mem.WriteUint32(rxDescAddr+8, rxBufAddr)
	mem.WriteUint32(rxDescAddr+12, 0)

	d.WriteCSR(3, rxDescAddr)
	d.WriteCSR(6, csr6StartRX|csr6Promisc)

	mux := nio.NewMultiplexer(4)
	defer mux.Close()

	guestSide, wireSide := nio.NewFIFO("guest"), nio.NewFIFO("wire")
	nio.CrossConnectFIFO(guestSide, wireSide)

	if err := d.SetNIO(mux, guestSide); err != nil {
		t.Fatalf("SetNIO: %v", err)
	}
	defer d.UnsetNIO()

	frame := make([]byte, 60)
	frame[0], frame[1], frame[2] = 0x00, 0x11, 0x22
	frame[12], frame[13] = 0x08, 0x00

	if _, err := wireSide.Send(frame); err != nil {
		t.Fatalf("Send: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		v, _ := mem.ReadUint32(rxDescAddr)
		if v&dec21140Own == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the frame to land in the RX descriptor")
		case <-time.After(time.Millisecond):
		}
	}

	var got [60]byte
	mem.ReadAt(rxBufAddr, got[:])
	for i := range frame {
		if got[i] != frame[i] {
			t.Fatalf("RX buffer byte %d mismatch: got %#x want %#x", i, got[i], frame[i])
		}
	}

	if !d.InterruptPending() {
		t.Fatal("CSR5 RI should have raised the interrupt line")
	}
}

func TestDec21140TXSendsFrame(t *testing.T) {
	mem := engine.NewFlatGuestMem(1 << 20)
	d := NewDec21140("e0/0", mem)

	const txDescAddr = 0x5000
	const txBufAddr = 0x6000
	frame := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	if err := mem.WriteAt(txBufAddr, frame); err != nil {
		t.Fatal(err)
	}
	mem.WriteUint32(txDescAddr, dec21140Own)
	mem.WriteUint32(txDescAddr+4, dec21140TXFS|dec21140TXLS|uint32(len(frame)))
	mem.WriteUint32(txDescAddr+8, txBufAddr)

	d.WriteCSR(4, txDescAddr)
	d.WriteCSR(6, csr6StartTX)

	guestSide, wireSide := nio.NewFIFO("guest"), nio.NewFIFO("wire")
	nio.CrossConnectFIFO(guestSide, wireSide)
	d.ring.BindNIO(guestSide)
	d.n = guestSide

	var sent []byte
	ok, err := d.scanTXOnce(func(pkt []byte) error {
		sent = append([]byte(nil), pkt...)
		return nil
	})
	if err != nil {
		t.Fatalf("scanTXOnce: %v", err)
	}
	if !ok {
		t.Fatal("scanTXOnce should report the frame as sent")
	}
	if len(sent) != len(frame) {
		t.Fatalf("sent %d bytes, want %d", len(sent), len(frame))
	}
	for i := range frame {
		if sent[i] != frame[i] {
			t.Fatalf("sent byte %d = %#x, want %#x", i, sent[i], frame[i])
		}
	}

	own, _ := mem.ReadUint32(txDescAddr)
	if own&dec21140Own != 0 {
		t.Fatal("own-bit should be cleared after transmit")
	}
	if d.csr[5]&csr5TI == 0 {
		t.Fatal("CSR5 TI should be set after a successful transmit")
	}
}

// TestDec21140MIIWriteBitBangsThroughCSR9 drives the clause-22-style
// bit stream CSR9's serial MII protocol expects — preamble, ST/OP
// select (write), five PHY bits, five register bits, a two-bit
// turnaround, then sixteen data bits — and checks the resulting
// register file entry, exercising both the WriteCSR(9, ...) dispatch
// and the mii_newbit state machine it drives.
func TestDec21140MIIWriteBitBangsThroughCSR9(t *testing.T) {
	mem := engine.NewFlatGuestMem(1 << 20)
	d := NewDec21140("e0/0", mem)

	bits := []int{
		1, 1, 0, // preamble tail
		1, 0, // ST=1, OP=0 (write)
		1, // write-select
		0, 0, 1, 0, 1, // phy = 5
		0, 0, 0, 1, 1, // reg = 3
		1, 0, // turnaround
		1, 0, 1, 1, 1, 1, 1, 0, 1, 1, 1, 0, 1, 1, 1, 1, // data = 0xBEEF
	}
	for _, b := range bits {
		v := csr9Write | csr9MDCClock
		if b != 0 {
			v |= csr9TXBit
		}
		d.WriteCSR(9, v)
	}

	if got := d.mii.regs[5][3]; got != 0xBEEF {
		t.Fatalf("mii reg[5][3] = %#x, want 0xbeef", got)
	}
}

func TestDec21140MIIReadsLinkStatus(t *testing.T) {
	d := NewDec21140("e0/0", engine.NewFlatGuestMem(1<<16))
	d.mii.reg = 1

	if got := d.mii.read(true); got != 0x04 {
		t.Fatalf("BMSR with link up = %#x, want 0x04", got)
	}
	if got := d.mii.read(false); got != 0x00 {
		t.Fatalf("BMSR with link down = %#x, want 0x00", got)
	}
}
