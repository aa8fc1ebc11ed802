package engine

import "testing"

func TestMIIReadWriteRoundTrip(t *testing.T) {
	m := NewMII()
	m.Write(1, 5, 0xBEEF)
	if got := m.Read(1, 5); got != 0xBEEF {
		t.Fatalf("got %#x, want 0xBEEF", got)
	}
}

func TestMIIOutOfRangeIsHarmless(t *testing.T) {
	m := NewMII()
	if got := m.Read(99, 99); got != 0 {
		t.Fatalf("out-of-range read = %#x, want 0", got)
	}
	m.Write(99, 99, 0x1) // must not panic
}

func TestMIILinkUpReflectsInBMSR(t *testing.T) {
	m := NewMII()
	m.SetLinkUp(false)
	if m.Read(0, BMSR)&BMSRLinkUp != 0 {
		t.Fatal("link should read down")
	}
	m.SetLinkUp(true)
	if m.Read(0, BMSR)&BMSRLinkUp == 0 {
		t.Fatal("link should read up")
	}
}

func TestMIISerialReadFrame(t *testing.T) {
	m := NewMII()
	m.Write(2, 3, 0xA5A5)
	m.StartFrame(MIIOpRead, 2, 3)

	var got uint16
	for i := 0; i < 16; i++ {
		got = (got << 1) | m.ClockOut()
	}
	if got != 0xA5A5 {
		t.Fatalf("clocked out %#x, want 0xa5a5", got)
	}
}

func TestMIISerialWriteFrame(t *testing.T) {
	m := NewMII()
	m.StartFrame(MIIOpWrite, 4, 7)
	value := uint16(0x1234)
	for i := 15; i >= 0; i-- {
		m.ClockIn((value >> uint(i)) & 1)
	}
	if got := m.Read(4, 7); got != value {
		t.Fatalf("got %#x, want %#x", got, value)
	}
}
