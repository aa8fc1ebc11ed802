package engine

import (
	"testing"
	"time"

	"github.com/GNS3/dynamips-fabric/internal/nio"
)

func testProfile() Profile {
	return Profile{
		Name:            "test",
		MaxFrameSize:    2048,
		TXBurst:         16,
		LengthIsNegated: true,
		DefaultStyle:    2,
	}
}

// writeRXDesc writes one descriptor (style 2 layout: word0=bufAddr,
// word1=status, word2=count, word3=user) at addr.
func writeRXDesc(t *testing.T, mem GuestMem, addr uint32, bufAddr uint32, bufLen int, own bool) {
	t.Helper()
	status := EncodeNegLen(bufLen)
	if own {
		status |= BitOwn
	}
	if err := mem.WriteUint32(addr, bufAddr); err != nil {
		t.Fatal(err)
	}
	if err := mem.WriteUint32(addr+4, status); err != nil {
		t.Fatal(err)
	}
	if err := mem.WriteUint32(addr+8, 0); err != nil {
		t.Fatal(err)
	}
	if err := mem.WriteUint32(addr+12, 0); err != nil {
		t.Fatal(err)
	}
}

// EncodeNegLen mirrors Profile.EncodeLen(n, 0) for test descriptor setup.
func EncodeNegLen(n int) uint32 {
	return (^(uint32(n) - 1)) & LenMask
}

// TestHandleRXChainedDescriptors is scenario S3: two 100-byte RX
// buffers receive a 150-byte frame.
func TestHandleRXChainedDescriptors(t *testing.T) {
	mem := NewFlatGuestMem(65536)
	n := nio.NewFIFO("rxnio")

	ring := NewRing(testProfile(), mem, n)
	ring.SetRXRing(0x1000, 1) // l2len=1 -> 2 descriptors
	ring.SetGates(true, false)

	const descBase = 0x1000
	const buf1 = 0x2000
	const buf2 = 0x3000
	writeRXDesc(t, mem, descBase+0, buf1, 100, true)
	writeRXDesc(t, mem, descBase+16, buf2, 100, true)

	frame := make([]byte, 150)
	for i := range frame {
		frame[i] = byte(i)
	}

	ok, err := ring.HandleRX(frame)
	if err != nil {
		t.Fatalf("HandleRX: %v", err)
	}
	if !ok {
		t.Fatal("expected HandleRX to accept the frame")
	}

	status0, _ := mem.ReadUint32(descBase + 4)
	if status0&BitOwn != 0 {
		t.Fatal("first descriptor own-bit should be cleared")
	}
	if status0&BitSTP == 0 {
		t.Fatal("first descriptor should have start-of-packet set")
	}
	if status0&BitENP != 0 {
		t.Fatal("first descriptor should not carry end-of-packet")
	}

	status1, _ := mem.ReadUint32(descBase + 16 + 4)
	if status1&BitOwn != 0 {
		t.Fatal("second descriptor own-bit should be cleared")
	}
	if status1&BitENP == 0 {
		t.Fatal("second descriptor should carry end-of-packet")
	}

	count1, _ := mem.ReadUint32(descBase + 16 + 8)
	if int(count1&LenMask) != 154 {
		t.Fatalf("final descriptor byte count = %d, want 154 (150 + 4-byte CRC)", count1&LenMask)
	}

	var got1, got2 [100]byte
	mem.ReadAt(buf1, got1[:])
	mem.ReadAt(buf2, got2[:50])
	for i := 0; i < 100; i++ {
		if got1[i] != frame[i] {
			t.Fatalf("buffer 1 byte %d mismatch", i)
		}
	}
	for i := 0; i < 50; i++ {
		if got2[i] != frame[100+i] {
			t.Fatalf("buffer 2 byte %d mismatch", i)
		}
	}

	if ring.rxPos != 0 {
		t.Fatalf("rx cursor should have wrapped back to 0, got %d", ring.rxPos)
	}
}

// TestHandleRXRequiresOwnership is property P5: a descriptor the
// guest has not handed over (own-bit clear) is never touched.
func TestHandleRXRequiresOwnership(t *testing.T) {
	mem := NewFlatGuestMem(65536)
	n := nio.NewFIFO("rxnio")
	ring := NewRing(testProfile(), mem, n)
	ring.SetRXRing(0x1000, 0)
	ring.SetGates(true, false)

	writeRXDesc(t, mem, 0x1000, 0x2000, 100, false)

	ok, err := ring.HandleRX(make([]byte, 50))
	if err != nil {
		t.Fatalf("HandleRX: %v", err)
	}
	if ok {
		t.Fatal("HandleRX should refuse a frame when the device owns no descriptor")
	}
	status, _ := mem.ReadUint32(0x1004)
	if status&BitOwn != 0 {
		t.Fatal("own bit should remain as the guest left it")
	}
}

// TestScanTXGathersChainAndClearsOwnership is scenario S4's shape
// (minus bandwidth shaping, tested at the nio package level): a two-
// descriptor TX chain is gathered into one frame and both own-bits
// are cleared, first cleared last.
func TestScanTXGathersChainAndClearsOwnership(t *testing.T) {
	mem := NewFlatGuestMem(65536)
	out, sink := nio.NewFIFO("out"), nio.NewFIFO("sink")
	nio.CrossConnectFIFO(out, sink)

	ring := NewRing(testProfile(), mem, out)
	ring.SetTXRing(0x5000, 1)
	ring.SetGates(false, true)

	const buf1 = 0x6000
	const buf2 = 0x7000
	mem.WriteAt(buf1, []byte{0xAA, 0xAA, 0xAA, 0xAA})
	mem.WriteAt(buf2, []byte{0xBB, 0xBB})

	status0 := EncodeNegLen(4) | BitOwn | BitSTP
	mem.WriteUint32(0x5000, buf1)
	mem.WriteUint32(0x5004, status0)
	status1 := EncodeNegLen(2) | BitOwn | BitENP
	mem.WriteUint32(0x5010, buf2)
	mem.WriteUint32(0x5014, status1)

	var sent []byte
	sendDone := make(chan struct{})
	go func() {
		buf := make([]byte, 64)
		n, _ := sink.Recv(buf)
		sent = buf[:n]
		close(sendDone)
	}()

	ok, err := ring.ScanTXOnce(out.CanTransmit, func(pkt []byte) error {
		_, err := out.Send(pkt)
		return err
	})
	if err != nil {
		t.Fatalf("ScanTXOnce: %v", err)
	}
	if !ok {
		t.Fatal("expected ScanTXOnce to transmit")
	}

	select {
	case <-sendDone:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for transmitted frame")
	}

	want := []byte{0xAA, 0xAA, 0xAA, 0xAA, 0xBB, 0xBB}
	if len(sent) != len(want) {
		t.Fatalf("sent length = %d, want %d", len(sent), len(want))
	}
	for i := range want {
		if sent[i] != want[i] {
			t.Fatalf("sent byte %d = %#x, want %#x", i, sent[i], want[i])
		}
	}

	s0, _ := mem.ReadUint32(0x5004)
	s1, _ := mem.ReadUint32(0x5014)
	if s0&BitOwn != 0 || s1&BitOwn != 0 {
		t.Fatal("both TX descriptors should have own-bit cleared after transmit")
	}
}

// TestScanTXRespectsBandwidthShaping is scenario S4 proper: a NIO
// shaped below the frame size must leave the descriptor's own-bit set
// and must not call send, then must transmit normally once the
// ceiling is lifted.
func TestScanTXRespectsBandwidthShaping(t *testing.T) {
	mem := NewFlatGuestMem(65536)
	out, sink := nio.NewFIFO("shaped-out"), nio.NewFIFO("shaped-sink")
	nio.CrossConnectFIFO(out, sink)
	out.SetBandwidth(1) // 1 kb/s: far below a 64-byte frame per 30ms window

	ring := NewRing(testProfile(), mem, out)
	ring.SetTXRing(0x5000, 0)
	ring.SetGates(false, true)

	const buf1 = 0x6000
	mem.WriteAt(buf1, make([]byte, 64))
	mem.WriteUint32(0x5000, buf1)
	mem.WriteUint32(0x5004, EncodeNegLen(64)|BitOwn|BitSTP|BitENP)

	called := false
	ok, err := ring.ScanTXOnce(out.CanTransmit, func(pkt []byte) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("ScanTXOnce: %v", err)
	}
	if ok || called {
		t.Fatal("ScanTXOnce should refuse to transmit a shaped-out frame")
	}

	status, _ := mem.ReadUint32(0x5004)
	if status&BitOwn == 0 {
		t.Fatal("shaped-out frame must leave the descriptor own-bit set")
	}
	if ring.txPos != 0 {
		t.Fatal("shaped-out frame must leave the tx cursor unmoved")
	}

	out.SetBandwidth(0) // lift the ceiling
	sendDone := make(chan struct{})
	go func() {
		buf := make([]byte, 128)
		sink.Recv(buf)
		close(sendDone)
	}()

	ok, err = ring.ScanTXOnce(out.CanTransmit, func(pkt []byte) error {
		_, err := out.Send(pkt)
		return err
	})
	if err != nil {
		t.Fatalf("ScanTXOnce after lifting ceiling: %v", err)
	}
	if !ok {
		t.Fatal("expected ScanTXOnce to transmit once the ceiling was lifted")
	}

	select {
	case <-sendDone:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for transmitted frame")
	}

	status, _ = mem.ReadUint32(0x5004)
	if status&BitOwn != 0 {
		t.Fatal("descriptor own-bit should be cleared once the frame sends")
	}
}

// TestScanTXRequiresOwnership confirms a guest-owned descriptor (own
// bit clear) blocks transmission entirely.
func TestScanTXRequiresOwnership(t *testing.T) {
	mem := NewFlatGuestMem(65536)
	n := nio.NewFIFO("tx")
	ring := NewRing(testProfile(), mem, n)
	ring.SetTXRing(0x5000, 0)
	ring.SetGates(false, true)

	mem.WriteUint32(0x5000, 0x6000)
	mem.WriteUint32(0x5004, EncodeNegLen(4)|BitSTP|BitENP) // own bit clear

	called := false
	ok, err := ring.ScanTXOnce(n.CanTransmit, func(pkt []byte) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("ScanTXOnce: %v", err)
	}
	if ok || called {
		t.Fatal("ScanTXOnce should not transmit without ownership")
	}
}
