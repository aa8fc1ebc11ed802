package engine

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/GNS3/dynamips-fabric/internal/netutil"
	"github.com/GNS3/dynamips-fabric/internal/nio"
)

// Interrupt-status bits the device layer ORs into its own CSR0-style
// register; generic across chips, ported from the RINT/TINT meaning
// of AM79C971_CSR0_RINT/TINT.
const (
	IntRX uint32 = 0x1
	IntTX uint32 = 0x2
)

// MACFilter gates which frames the RX path accepts, ported from
// am79c971_handle_mac_addr: promiscuous mode accepts everything,
// multicast/broadcast destinations are always accepted, otherwise the
// destination must match the configured unicast address.
type MACFilter struct {
	Promiscuous bool
	Unicast     net.HardwareAddr
}

// Accepts reports whether a frame with the given destination MAC
// should be delivered to the guest.
func (f MACFilter) Accepts(dst net.HardwareAddr) bool {
	if f.Promiscuous {
		return true
	}
	if len(dst) > 0 && dst[0]&0x01 != 0 {
		return true // multicast/broadcast bit
	}
	return len(f.Unicast) == 6 && dst.String() == f.Unicast.String()
}

// Ring is the generic DMA-ring engine shared by every emulated NIC:
// ring geometry, the RX/TX cursors, the software-style selector, MAC
// filtering, and the interrupt status/enable pair. A device-specific
// wrapper in internal/nic owns the CSR/BCR register file and
// translates chip semantics onto this type's methods.
type Ring struct {
	Profile Profile

	mu sync.Mutex

	mem GuestMem
	n   *nio.NIO

	rxBase, txBase uint32
	rxLen, txLen   uint32 // power of two, <= 512
	rxPos, txPos   uint32
	style          uint8

	rxOn, txOn bool

	IntEnable uint32
	IntStatus uint32

	Filter MACFilter

	cancelTX context.CancelFunc
}

// NewRing creates a ring bound to the given guest memory and NIO. n
// may be nil if the device constructs its ring before a NIO is
// attached; BindNIO sets it later.
func NewRing(p Profile, mem GuestMem, n *nio.NIO) *Ring {
	return &Ring{Profile: p, mem: mem, n: n, style: p.DefaultStyle}
}

// BindNIO attaches (or replaces) the NIO RunTXScanner drains onto.
func (r *Ring) BindNIO(n *nio.NIO) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n = n
}

func (r *Ring) boundNIO() *nio.NIO {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// SetRXRing configures the RX ring's base address and length
// (given as log2 of the entry count, clamped to 512 entries,
// matching am79c971_update_rx_tx_len).
func (r *Ring) SetRXRing(base uint32, l2len uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rxBase = base
	r.rxLen = clampRingLen(l2len)
	r.rxPos = 0
}

// SetTXRing configures the TX ring analogously to SetRXRing.
func (r *Ring) SetTXRing(base uint32, l2len uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txBase = base
	r.txLen = clampRingLen(l2len)
	r.txPos = 0
}

func clampRingLen(l2len uint32) uint32 {
	n := uint32(1) << (l2len & 0xF)
	if n > 512 {
		n = 512
	}
	return n
}

// SetStyle sets the software-style selector.
func (r *Ring) SetStyle(style uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.style = style
}

// SetGates sets the RX-on/TX-on enable gates.
func (r *Ring) SetGates(rxOn, txOn bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rxOn = rxOn
	r.txOn = txOn
}

// Reset rewinds both ring cursors, matching the STOP bit's clearing
// of rx_pos/tx_pos in CSR0's write handler.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rxPos, r.txPos = 0, 0
}

func (r *Ring) rxAddr(pos uint32) uint32 { return r.rxBase + pos*r.Profile.descSize() }
func (r *Ring) txAddr(pos uint32) uint32 { return r.txBase + pos*r.Profile.descSize() }

func (r *Ring) advanceRX() {
	r.rxPos++
	if r.rxPos == r.rxLen {
		r.rxPos = 0
	}
}

func (r *Ring) advanceTX() {
	r.txPos++
	if r.txPos == r.txLen {
		r.txPos = 0
	}
}

type chainEntry struct {
	addr uint32
	desc Desc
}

// HandleRX is the generic equivalent of am79c971_receive_pkt: it
// walks the RX descriptor chain starting at rx_current, copying the
// frame into successive descriptor buffers, clears the own-bit of
// every descriptor but the first as it goes, and only clears the
// first descriptor's own-bit (with start-of-packet set) once the
// whole chain has been written back — so a concurrent guest read
// never observes a half-delivered frame. Returns false (no error)
// when the ring is not ready or the device owns no descriptor.
func (r *Ring) HandleRX(frame []byte) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rxBase == 0 || !r.rxOn {
		return false, nil
	}
	if r.Profile.MaxFrameSize > 0 && len(frame) > r.Profile.MaxFrameSize {
		frame = frame[:r.Profile.MaxFrameSize]
	}

	read := r.Profile.rxDescRead()
	writeback := r.Profile.rxDescWriteback()
	own, first, last_, errBit := r.Profile.ownBit(), r.Profile.firstBit(), r.Profile.lastBit(), r.Profile.errorBit()
	mask := r.Profile.lenMask()

	rxStart := r.rxAddr(r.rxPos)
	d0, err := read(r.mem, rxStart, r.style)
	if err != nil {
		return false, err
	}
	if d0.Status&own == 0 {
		return false, nil
	}

	chain := []chainEntry{{rxStart, d0}}
	remaining := frame

	for {
		lastEntry := &chain[len(chain)-1]
		bufLen := r.Profile.DecodeLen(lastEntry.desc.Status)
		n := bufLen
		if n > len(remaining) {
			n = len(remaining)
		}
		if n > 0 {
			if err := r.mem.WriteAt(lastEntry.desc.BufAddr, remaining[:n]); err != nil {
				return false, err
			}
		}
		remaining = remaining[n:]
		r.advanceRX()

		if len(remaining) == 0 {
			lastEntry.desc.Status |= last_
			break
		}

		nextAddr := r.rxAddr(r.rxPos)
		nd, err := read(r.mem, nextAddr, r.style)
		if err != nil {
			return false, err
		}
		if nd.Status&own == 0 {
			lastEntry.desc.Status |= errBit | last_
			break
		}
		chain = append(chain, chainEntry{nextAddr, nd})
	}

	lastIdx := len(chain) - 1
	totalCount := len(frame) + 4 // include the 4-byte CRC the wire format implies
	for i := range chain {
		if i != 0 {
			chain[i].desc.Status &^= own
		}
		if i == lastIdx {
			// Unlike the buffer-length field in the status word, the
			// final received byte count is stored as a plain value
			// (RMD2 is not two's-complement encoded).
			chain[i].desc.Count = (chain[i].desc.Count &^ mask) | (uint32(totalCount) & mask)
			if err := writeback(r.mem, chain[i].addr, chain[i].desc, r.style, true); err != nil {
				return false, err
			}
			continue
		}
		if err := writeback(r.mem, chain[i].addr, chain[i].desc, r.style, false); err != nil {
			return false, err
		}
	}

	chain[0].desc.Status &^= own
	chain[0].desc.Status |= first
	if err := writeback(r.mem, chain[0].addr, chain[0].desc, r.style, false); err != nil {
		return false, err
	}

	r.IntStatus |= IntRX
	return true, nil
}

// ScanTXOnce is the generic equivalent of am79c971_handle_txring_single:
// gathers one frame by walking the TX descriptor chain starting at
// tx_current, applies the ISL rewrite if the destination matches the
// ISL multicast prefix (skipped for POS-framed profiles), and hands
// the assembled frame to send.
//
// Gathering is read-only and checked against canTransmit before any
// descriptor is touched: a shaped-out frame (canTransmit returns
// false) leaves every own-bit exactly as the guest set it, matching
// "the device must not clear own-bits for frames it has not sent."
// Once cleared to send, every descriptor's own-bit is released except
// the first's, which is cleared last so the guest never observes a
// partially-released chain.
func (r *Ring) ScanTXOnce(canTransmit func(int) bool, send func([]byte) error) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.txBase == 0 || !r.txOn {
		return false, nil
	}

	read := r.Profile.txDescRead()
	writeback := r.Profile.txDescWriteback()
	own, first, last_ := r.Profile.ownBit(), r.Profile.firstBit(), r.Profile.lastBit()

	txStart := r.txAddr(r.txPos)
	d0, err := read(r.mem, txStart, r.style)
	if err != nil {
		return false, err
	}
	if d0.Status&own == 0 {
		return false, nil
	}

	maxFrame := r.Profile.MaxFrameSize
	if maxFrame <= 0 {
		maxFrame = 2048
	}
	pkt := make([]byte, 0, maxFrame)

	pos := r.txPos
	chain := []chainEntry{{txStart, d0}}
	for {
		cur := &chain[len(chain)-1]
		clen := r.Profile.DecodeLen(cur.desc.Status)
		buf := make([]byte, clen)
		if err := r.mem.ReadAt(cur.desc.BufAddr, buf); err != nil {
			return false, err
		}
		pkt = append(pkt, buf...)

		pos++
		if pos == r.txLen {
			pos = 0
		}

		if cur.desc.Status&last_ != 0 {
			break
		}

		nextAddr := r.txBase + pos*r.Profile.descSize()
		nd, err := read(r.mem, nextAddr, r.style)
		if err != nil {
			return false, err
		}
		if nd.Status&own == 0 {
			// underflow: the guest fell behind the ring. Nothing was
			// touched, so nothing needs to be undone.
			return false, nil
		}
		chain = append(chain, chainEntry{nextAddr, nd})
	}

	if !canTransmit(len(pkt)) {
		return false, nil
	}

	for i := range chain {
		if chain[i].desc.Status&first == 0 {
			chain[i].desc.Status &^= own
			if err := writeback(r.mem, chain[i].addr, chain[i].desc, r.style, false); err != nil {
				return false, err
			}
		}
	}
	r.txPos = pos

	if len(pkt) > 0 {
		if !r.Profile.POSFraming && len(pkt) >= 6 && netutil.IsISLMulticast(pkt[0:6]) {
			netutil.RewriteISL(pkt, 0)
		}
		if err := send(pkt); err != nil {
			return false, err
		}
	}

	chain[0].desc.Status &^= own
	if err := writeback(r.mem, chain[0].addr, chain[0].desc, r.style, false); err != nil {
		return false, err
	}

	r.IntStatus |= IntTX
	return true, nil
}

// PeekTX returns the descriptor at the current TX position without
// consuming it — no gather, no own-bit clearing, no position advance.
// It exists for a chip whose ring can hold a non-data control
// descriptor (DEC21140's setup frame) that ScanTXOnce's gather-and-send
// loop must not try to interpret as packet data; the device wrapper
// inspects the returned Desc and either hands the position to
// ScanTXOnce as a normal frame or to SkipTX to consume it directly. ok
// is false if the ring isn't ready or the device doesn't currently own
// the descriptor.
func (r *Ring) PeekTX() (d Desc, ok bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.txBase == 0 || !r.txOn {
		return Desc{}, false, nil
	}

	read := r.Profile.txDescRead()
	d, err = read(r.mem, r.txAddr(r.txPos), r.style)
	if err != nil {
		return Desc{}, false, err
	}
	if d.Status&r.Profile.ownBit() == 0 {
		return Desc{}, false, nil
	}
	return d, true, nil
}

// SkipTX clears the own-bit of the descriptor a prior PeekTX returned
// and advances the TX position past it, without gathering or sending
// anything. d must be the value PeekTX returned for the current
// position.
func (r *Ring) SkipTX(d Desc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	writeback := r.Profile.txDescWriteback()
	d.Status &^= r.Profile.ownBit()
	if err := writeback(r.mem, r.txAddr(r.txPos), d, r.style, false); err != nil {
		return err
	}
	r.advanceTX()
	return nil
}

// ScanTXBurst drains up to Profile.TXBurst frames in one pass,
// matching am79c971_handle_txring's AM79C971_TXRING_PASS_COUNT loop.
func (r *Ring) ScanTXBurst(canTransmit func(int) bool, send func([]byte) error) error {
	burst := r.Profile.TXBurst
	if burst <= 0 {
		burst = 16
	}
	for i := 0; i < burst; i++ {
		ok, err := r.ScanTXOnce(canTransmit, send)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
	}
	return nil
}

// RunTXScanner drives ScanTXBurst on a periodic tick, the generic
// analogue of the ptask-driven am79c971_handle_txring callback,
// ported at the ~2ms slice period spec.md's concurrency model calls
// out for pthread_cond_timedwait-based periodic tasks. It returns a
// stop function; calling it blocks until the scanner goroutine exits.
func (r *Ring) RunTXScanner(send func([]byte) error) (stop func()) {
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
				if n := r.boundNIO(); n != nil {
					r.ScanTXBurst(n.CanTransmit, send)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// InterruptPending reports whether any enabled interrupt-status bit
// is set.
func (r *Ring) InterruptPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.IntStatus&r.IntEnable != 0
}

// AckInterrupts clears the given status bits, matching a guest write
// to CSR0 acknowledging RINT/TINT.
func (r *Ring) AckInterrupts(bits uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.IntStatus &^= bits
}
