package nic

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/GNS3/dynamips-fabric/internal/nic/engine"
	"github.com/GNS3/dynamips-fabric/internal/nio"
)

// DEC21140 (Tulip-family) descriptor bit positions, ported from
// DEC21140_RXDESC_*/TXDESC_* in unstable/dev_dec21140.c. Unlike
// Am79c971, ownership lives alone in word 0 of both rings, while RX
// packs FS/LS/the received byte count into that same word 0 and TX
// carries FS/LS/SET/the buffer length in word 1 instead — two
// genuinely different layouts on one chip, which is why this device
// supplies its own RXDescRead/TXDescRead pair rather than the
// style-swap table Am79c971 uses.
const (
	dec21140Own uint32 = 0x80000000 // word 0 of both rings

	dec21140RXFS uint32 = 0x00000200 // RDES0
	dec21140RXLS uint32 = 0x00000100 // RDES0
	dec21140RXDE uint32 = 0x00004000 // RDES0, descriptor/ring-underrun error
	dec21140RXMF uint32 = 0x00000400 // RDES0, multicast frame (reported, not filtered on)

	dec21140FLShift uint32 = 16 // RDES0 received-length field shift
	dec21140LenMask uint32 = 0x000007FF

	dec21140TXFS  uint32 = 0x20000000 // TDES1
	dec21140TXLS  uint32 = 0x40000000 // TDES1
	dec21140TXSET uint32 = 0x08000000 // TDES1, setup frame

	// dec21140First/dec21140Last are the canonical Desc.Status
	// positions this device's Profile reports through
	// engine.Profile.FirstBit/LastBit. TX's native FS/LS bits already
	// sit here; RX's native FS/LS (dec21140RXFS/dec21140RXLS) get
	// remapped onto these same positions by dec21140RXDescRead/
	// dec21140RXDescWriteback so the shared ring engine only ever has
	// to test one pair of bit values regardless of direction.
	dec21140First = dec21140TXFS
	dec21140Last  = dec21140TXLS
)

const (
	dec21140MaxPktSize      = 2048
	dec21140TXRingPassCount = 32
	dec21140SetupFrameSize  = 192

	// dec21140RingLenLog2 sizes the descriptor rings this device
	// programs into engine.Ring. The real chip has no ring-length
	// register at all — guests mark the last descriptor with RER/TER
	// and the device chases that bit indefinitely. engine.Ring's
	// power-of-two cursor, shared by every chip in this package,
	// doesn't model per-descriptor ring-end/chaining, so — the same
	// simplification Am79c971 already lives with — this device assumes
	// the conventional non-chained, fixed-size ring real DEC21140
	// drivers (Linux's tulip, in particular) actually program, sized
	// generously at 128 entries.
	dec21140RingLenLog2 = 7
)

// CSR5 (status/interrupt) bits, ported from DEC21140_CSR5_*.
const (
	csr5TI  uint32 = 0x00000001
	csr5TPS uint32 = 0x00000002
	csr5TU  uint32 = 0x00000004
	csr5TJT uint32 = 0x00000008
	csr5UNF uint32 = 0x00000020
	csr5RI  uint32 = 0x00000040
	csr5RU  uint32 = 0x00000080
	csr5RPS uint32 = 0x00000100
	csr5RWT uint32 = 0x00000200
	csr5GTE uint32 = 0x00000800
	csr5FBE uint32 = 0x00002000
	csr5AIS uint32 = 0x00008000
	csr5NIS uint32 = 0x00010000

	csr5NISBits = csr5TI | csr5RI | csr5TU
	csr5AISBits = csr5TPS | csr5TJT | csr5UNF | csr5RU | csr5RPS | csr5RWT | csr5GTE | csr5FBE

	csr5RSShift = 17
	csr5TSShift = 20
)

// CSR6 (operating mode) bits.
const (
	csr6StartRX  uint32 = 0x00000002
	csr6StartTX  uint32 = 0x00002000
	csr6Promisc  uint32 = 0x00000040
)

// CSR9 (serial ROM / MII) bits.
const (
	csr9RXBit    uint32 = 0x00080000
	csr9MIIRead  uint32 = 0x00040000
	csr9TXBit    uint32 = 0x00020000
	csr9MDCClock uint32 = 0x00010000
	csr9Read     uint32 = 0x00004000
	csr9Write    uint32 = 0x00002000
)

// Dec21140 emulates the DEC/Intel 21140 (Tulip) Fast Ethernet
// controller: sixteen directly CSR-indexed registers (no RAP/RDP
// indirection, unlike Am79c971), a setup-frame-driven unicast address
// table in place of a single station address, and the same descriptor
// ring engine every device in this package shares, parameterized for
// this chip's split RX/TX word layout.
type Dec21140 struct {
	Name string

	mem  engine.GuestMem
	ring *engine.Ring
	mii  dec21140MII

	mu  sync.Mutex
	csr [16]uint32

	filter dec21140MACFilter

	mux      *nio.Multiplexer
	n        *nio.NIO
	stopScan func()

	// IRQ is invoked whenever NIS||AIS transitions, the same trigger/
	// clear seam Am79c971.IRQ exposes to its PCI bridge wrapper.
	IRQ func(asserted bool)
}

// NewDec21140 creates a fresh Dec21140 in its post-reset state.
func NewDec21140(name string, mem engine.GuestMem) *Dec21140 {
	d := &Dec21140{Name: name, mem: mem}
	d.ring = engine.NewRing(engine.Profile{
		Name:            "dec21140",
		MaxFrameSize:    dec21140MaxPktSize,
		TXBurst:         dec21140TXRingPassCount,
		LengthIsNegated: false,
		LenMask:         dec21140LenMask,
		OwnBit:          dec21140Own,
		ErrorBit:        dec21140RXDE,
		FirstBit:        dec21140First,
		LastBit:         dec21140Last,
		RXDescRead:      dec21140RXDescRead,
		RXDescWriteback: dec21140RXDescWriteback,
		TXDescRead:      dec21140TXDescRead,
		TXDescWriteback: dec21140TXDescWriteback,
	}, mem, nil)
	return d
}

// dec21140RXDescRead composes one synthetic Desc.Status out of RDES0's
// OWN/FS/LS (remapped onto the canonical dec21140First/Last positions)
// and RDES1's buffer-length field, so engine.Ring's chain walk never
// needs to know RX packs these bits differently than TX does. RDES1
// itself (buffer length, RER, RCH) rides along in Desc.User so
// dec21140RXDescWriteback can leave it untouched.
func dec21140RXDescRead(mem engine.GuestMem, addr uint32, _ uint8) (engine.Desc, error) {
	w0, err := mem.ReadUint32(addr)
	if err != nil {
		return engine.Desc{}, err
	}
	w1, err := mem.ReadUint32(addr + 4)
	if err != nil {
		return engine.Desc{}, err
	}
	w2, err := mem.ReadUint32(addr + 8)
	if err != nil {
		return engine.Desc{}, err
	}

	status := w0 & dec21140Own
	if w0&dec21140RXFS != 0 {
		status |= dec21140First
	}
	if w0&dec21140RXLS != 0 {
		status |= dec21140Last
	}
	status |= w1 & dec21140LenMask

	return engine.Desc{BufAddr: w2, Status: status, User: w1}, nil
}

// dec21140RXDescWriteback is the inverse of dec21140RXDescRead: it
// rebuilds RDES0 from the composed Status (remapping FS/LS back to
// their native bit positions) plus the received byte count folded into
// the FL field at dec21140FLShift, and restores RDES1 verbatim from
// Desc.User. The byte count is always folded in (the writeCount
// argument the generic engine uses to gate a separate count word
// doesn't apply here: RX's count and status share RDES0, so a
// single-descriptor chain's two writebacks — mid-loop then post-loop —
// must both carry the same value, and Desc.Count is already zero for
// every non-final descriptor in a chain).
func dec21140RXDescWriteback(mem engine.GuestMem, addr uint32, d engine.Desc, _ uint8, _ bool) error {
	w0 := d.Status & (dec21140Own | dec21140RXDE)
	if d.Status&dec21140First != 0 {
		w0 |= dec21140RXFS
	}
	if d.Status&dec21140Last != 0 {
		w0 |= dec21140RXLS
	}
	w0 |= (d.Count & dec21140LenMask) << dec21140FLShift

	if err := mem.WriteUint32(addr, w0); err != nil {
		return err
	}
	return mem.WriteUint32(addr+4, d.User)
}

// dec21140TXDescRead composes Desc.Status from TDES0's OWN bit and
// TDES1's FS/LS/buffer-length fields — already at the canonical
// positions dec21140RXDescRead remaps RX onto, so no translation is
// needed on the TX side. TDES1 is preserved in Desc.User so the device
// wrapper can test SET (setup frame) and IC (interrupt on completion),
// neither of which the generic ring needs to know about.
func dec21140TXDescRead(mem engine.GuestMem, addr uint32, _ uint8) (engine.Desc, error) {
	w0, err := mem.ReadUint32(addr)
	if err != nil {
		return engine.Desc{}, err
	}
	w1, err := mem.ReadUint32(addr + 4)
	if err != nil {
		return engine.Desc{}, err
	}
	w2, err := mem.ReadUint32(addr + 8)
	if err != nil {
		return engine.Desc{}, err
	}

	status := w0 & dec21140Own
	if w1&dec21140TXFS != 0 {
		status |= dec21140First
	}
	if w1&dec21140TXLS != 0 {
		status |= dec21140Last
	}
	status |= w1 & dec21140LenMask

	return engine.Desc{BufAddr: w2, Status: status, User: w1}, nil
}

// dec21140TXDescWriteback only ever clears TDES0's own-bit (TDES0 holds
// nothing else on this chip); TDES1/2/3 are left exactly as the guest
// programmed them, matching the original's unconditional
// physmem_copy_u32_to_vm(...,0) on TDES0.
func dec21140TXDescWriteback(mem engine.GuestMem, addr uint32, d engine.Desc, _ uint8, _ bool) error {
	return mem.WriteUint32(addr, d.Status&dec21140Own)
}

// dec21140MACFilter gates RX delivery against the setup-frame-derived
// unicast table instead of Am79c971's single station address, ported
// from dec21140_handle_mac_addr: promiscuous mode and any
// multicast/broadcast destination are always accepted, otherwise the
// destination must appear in the table the last setup frame installed.
type dec21140MACFilter struct {
	mu          sync.Mutex
	promiscuous bool
	table       []net.HardwareAddr
}

func (f *dec21140MACFilter) Accepts(dst net.HardwareAddr) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.promiscuous {
		return true
	}
	if len(dst) > 0 && dst[0]&0x01 != 0 {
		return true
	}
	for _, a := range f.table {
		if a.String() == dst.String() {
			return true
		}
	}
	return false
}

func (f *dec21140MACFilter) setPromiscuous(v bool) {
	f.mu.Lock()
	f.promiscuous = v
	f.mu.Unlock()
}

func (f *dec21140MACFilter) setTable(addrs []net.HardwareAddr) {
	f.mu.Lock()
	f.table = addrs
	f.mu.Unlock()
}

func (f *dec21140MACFilter) addresses() []net.HardwareAddr {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]net.HardwareAddr(nil), f.table...)
}

// updateMACTable parses a 192-byte setup frame into up to sixteen
// unicast addresses, ported from dec21140_update_mac_addr: each 12-byte
// slot holds one address split across three 4-byte groups, of which
// only the first two bytes of each group are kept, and multicast
// entries are dropped.
func (d *Dec21140) updateMACTable(frame []byte) {
	const slotSize = 12
	table := make([]net.HardwareAddr, 0, dec21140SetupFrameSize/slotSize)
	for off := 0; off+slotSize <= len(frame); off += slotSize {
		mac := net.HardwareAddr{frame[off], frame[off+1], frame[off+4], frame[off+5], frame[off+8], frame[off+9]}
		if mac[0]&0x01 != 0 {
			continue
		}
		table = append(table, mac)
	}
	d.filter.setTable(table)
}

// UnicastAddresses returns the addresses installed by the most recent
// setup frame.
func (d *Dec21140) UnicastAddresses() []net.HardwareAddr {
	return d.filter.addresses()
}

// dec21140MII ports the CSR9 bit-banged MII state machine from
// mii_newbit/mii_reg_read/mii_reg_write: it is deliberately not built
// on engine.MII, whose BCR34-style interface assumes a guest that
// addresses phy/reg directly rather than one that walks a clause-22
// preamble bit by bit over a single wire, which is what CSR9 actually
// models.
type dec21140MII struct {
	state, phy, reg int
	data            uint32
	outbits         uint32
	regs            [32][32]uint16
}

func (m *dec21140MII) read(linkUp bool) uint16 {
	if m.reg == 1 { // BMSR: report link up so the guest doesn't complain
		if linkUp {
			return 0x04
		}
		return 0x00
	}
	return m.regs[m.phy&0x1F][m.reg&0x1F]
}

func (m *dec21140MII) write() {
	m.regs[m.phy&0x1F][m.reg&0x1F] = uint16(m.data)
}

func (m *dec21140MII) newBit(bit int, linkUp bool) {
	switch m.state {
	case 0:
		if bit != 0 {
			m.state = 0
		} else {
			m.state = 1
		}
		m.phy, m.reg, m.data = 0, 0, 0
	case 1:
		if bit != 0 {
			m.state = 2
		} else {
			m.state = 0
		}
	case 2:
		if bit != 0 {
			m.state = 3
		} else {
			m.state = 4
		}
	case 3: // probably a read
		if bit != 0 {
			m.state = 0
		} else {
			m.state = 10
		}
	case 4: // probably a write
		if bit != 0 {
			m.state = 20
		} else {
			m.state = 0
		}
	case 10, 11, 12, 13, 14, 20, 21, 22, 23, 24:
		m.phy = ((m.phy << 1) | bit) & 0x1F
		m.state++
	case 15, 16, 17, 18, 19, 25, 26, 27, 28, 29:
		m.reg = ((m.reg << 1) | bit) & 0x1F
		m.state++
		if m.state == 20 {
			m.outbits = uint32(m.read(linkUp)) << 15
			m.state = 0
		}
	case 30:
		if bit != 0 {
			m.state = 31
		} else {
			m.state = 0
		}
	case 31:
		if bit != 0 {
			m.state = 0
		} else {
			m.state = 32
		}
	case 32, 33, 34, 35, 36, 37, 38, 39, 40, 41, 42, 43, 44, 45, 46, 47:
		m.data = (m.data << 1) | uint32(bit)
		m.state++
		if m.state == 48 {
			m.write()
			m.state = 0
		}
	default:
		m.state = 0
	}
}

// ReadCSR reads one of the sixteen directly-indexed control/status
// registers (the CSR0..CSR15 the original addresses at offset reg*8).
func (d *Dec21140) ReadCSR(reg uint32) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if reg >= uint32(len(d.csr)) {
		return 0
	}
	switch reg {
	case 5:
		v := d.csr[5]
		if d.csr[6]&csr6StartRX != 0 {
			v |= 0x03 << csr5RSShift
		}
		if d.csr[6]&csr6StartTX != 0 {
			v |= 0x03 << csr5TSShift
		}
		return v
	case 8:
		// missed-frame counter, clear-on-read; not modeled beyond 0
		d.csr[8] = 0
		return 0
	default:
		return d.csr[reg]
	}
}

// WriteCSR writes one of the sixteen registers.
func (d *Dec21140) WriteCSR(reg uint32, v uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if reg >= uint32(len(d.csr)) {
		return
	}
	switch reg {
	case 3:
		d.csr[3] = v
		d.ring.SetRXRing(v, dec21140RingLenLog2)
	case 4:
		d.csr[4] = v
		d.ring.SetTXRing(v, dec21140RingLenLog2)
	case 5:
		d.csr[5] &^= v
		d.updateIRQStatus()
	case 6:
		d.csr[6] = v
		d.ring.SetGates(v&csr6StartRX != 0, v&csr6StartTX != 0)
		d.filter.setPromiscuous(v&csr6Promisc != 0)
	case 9:
		d.csr[9] = v
		linkUp := d.n != nil
		switch {
		case v&^csr9TXBit == csr9MIIRead|csr9Read|csr9MDCClock:
			if d.mii.outbits&(1<<31) != 0 {
				d.csr[9] |= csr9RXBit
			} else {
				d.csr[9] &^= csr9RXBit
			}
			d.mii.outbits <<= 1
		case v&^csr9TXBit == csr9Write|csr9MDCClock:
			bit := 0
			if v&csr9TXBit != 0 {
				bit = 1
			}
			d.mii.newBit(bit, linkUp)
		}
	default:
		d.csr[reg] = v
	}
}

// updateIRQStatus recomputes CSR5's AIS/NIS summary bits and reports
// the result through IRQ, ported from dev_dec21140_update_irq_status.
// Unlike Am79c971's CSR0, this chip's interrupt line isn't gated by a
// separate enable bit in the retrieved source, so NIS||AIS drives the
// line directly.
func (d *Dec21140) updateIRQStatus() {
	csr5 := d.csr[5] &^ (csr5AIS | csr5NIS)
	trigger := false
	if csr5&csr5NISBits != 0 {
		csr5 |= csr5NIS
		trigger = true
	}
	if csr5&csr5AISBits != 0 {
		csr5 |= csr5AIS
		trigger = true
	}
	d.csr[5] = csr5
	if d.IRQ != nil {
		d.IRQ(trigger)
	}
}

// InterruptPending reports whether the device's interrupt line is
// currently asserted.
func (d *Dec21140) InterruptPending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.csr[5]&(csr5AIS|csr5NIS) != 0
}

// SetNIO binds n to this device: received frames are filtered against
// the setup-frame-derived unicast table and delivered through the ring
// engine, and a background goroutine periodically scans the TX ring,
// handling setup frames itself (engine.Ring's generic gather-and-send
// loop has no notion of a non-data control descriptor) and deferring
// everything else to Ring.ScanTXOnce.
func (d *Dec21140) SetNIO(mux *nio.Multiplexer, n *nio.NIO) error {
	d.mu.Lock()
	if d.n != nil {
		d.mu.Unlock()
		return ErrNIOAlreadyBound
	}
	d.n = n
	d.mux = mux
	d.mu.Unlock()

	d.ring.BindNIO(n)

	mux.Add(n, func(n *nio.NIO, frame []byte) {
		if len(frame) < 6 || !d.filter.Accepts(frame[0:6]) {
			return
		}
		ok, err := d.ring.HandleRX(frame)
		if err == nil && ok {
			d.mu.Lock()
			d.csr[5] |= csr5RI
			d.updateIRQStatus()
			d.mu.Unlock()
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(2 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.scanTXBurst(func(pkt []byte) error {
					_, err := n.Send(pkt)
					return err
				})
			}
		}
	}()
	d.stopScan = func() {
		cancel()
		<-done
	}
	return nil
}

// UnsetNIO detaches the bound NIO.
func (d *Dec21140) UnsetNIO() {
	d.mu.Lock()
	n := d.n
	mux := d.mux
	stop := d.stopScan
	d.n, d.mux, d.stopScan = nil, nil, nil
	d.mu.Unlock()

	if n == nil {
		return
	}
	if stop != nil {
		stop()
	}
	mux.Remove(n.Name)
}

// scanTXBurst drains up to DEC21140_TXRING_PASS_COUNT descriptors in
// one pass, the equivalent of dev_dec21140_handle_txring's loop.
func (d *Dec21140) scanTXBurst(send func([]byte) error) {
	for i := 0; i < dec21140TXRingPassCount; i++ {
		ok, err := d.scanTXOnce(send)
		if err != nil || !ok {
			return
		}
	}
}

// scanTXOnce is dev_dec21140_handle_txring_single: it peeks the current
// TX descriptor, and if neither FS nor LS is set — the chip's way of
// marking a setup frame (or any other non-data descriptor) — reads the
// 192-byte setup buffer, installs its unicast addresses if the SET bit
// confirms that's what it is, and skips the descriptor without ever
// calling Ring.ScanTXOnce's gather-and-send path. A genuine data frame
// is left entirely to Ring.ScanTXOnce.
func (d *Dec21140) scanTXOnce(send func([]byte) error) (bool, error) {
	desc, ok, err := d.ring.PeekTX()
	if err != nil || !ok {
		return false, err
	}

	if desc.Status&(dec21140First|dec21140Last) == 0 {
		if desc.User&dec21140TXSET != 0 {
			buf := make([]byte, dec21140SetupFrameSize)
			if err := d.mem.ReadAt(desc.BufAddr, buf); err != nil {
				return false, err
			}
			d.updateMACTable(buf)
		}
		return true, d.ring.SkipTX(desc)
	}

	d.mu.Lock()
	n := d.n
	d.mu.Unlock()

	sent, err := d.ring.ScanTXOnce(func(size int) bool {
		return n != nil && n.CanTransmit(size)
	}, send)
	if err != nil {
		return false, err
	}
	if sent {
		d.mu.Lock()
		d.csr[5] |= csr5TI
		d.updateIRQStatus()
		d.mu.Unlock()
	}
	return sent, nil
}
