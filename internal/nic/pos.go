package nic

import (
	"sync"
	"time"

	"github.com/GNS3/dynamips-fabric/internal/nic/engine"
	"github.com/GNS3/dynamips-fabric/internal/nio"
)

// POS OC-3 descriptor bits, ported from POS_OC3_RXDESC_*/TXDESC_* in
// common/dev_c7200_pos.c. Unlike Am79c971's four-word, fixed-length
// power-of-two ring, the POS OC-3 descriptor is two words (status+
// length, buffer address) and rings are singly-linked: each
// descriptor's WRAP bit, not a ring-length register, marks where the
// ring closes. That shape does not fit engine.Ring's word-permutation
// abstraction, so PosOC3 walks its own ring directly over
// engine.GuestMem rather than going through engine.Ring/Desc.
const (
	posOwn    uint32 = 0x80000000
	posWrap   uint32 = 0x40000000
	posCont   uint32 = 0x08000000
	posLenMask uint32 = 0x1FFF
)

const posMaxPktSize = 8192

// PosOC3 emulates the POS OC-3 HDLC-framed serial interface: no MAC
// filtering or Ethernet framing applies, matching Profile.POSFraming's
// intent in the generic engine, realized here natively since the
// ring shape itself is POS-specific.
type PosOC3 struct {
	Name string

	mem engine.GuestMem

	mu                     sync.Mutex
	rxStart, rxCurrent     uint32
	txStart, txCurrent     uint32
	running                bool

	mux      *nio.Multiplexer
	n        *nio.NIO
	stopScan func()

	IRQ func()
}

// NewPosOC3 creates a POS OC-3 interface bound to the given guest memory.
func NewPosOC3(name string, mem engine.GuestMem) *PosOC3 {
	return &PosOC3{Name: name, mem: mem}
}

// SetRXRing programs the RX ring's starting descriptor address.
func (d *PosOC3) SetRXRing(addr uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rxStart, d.rxCurrent = addr, addr
}

// SetTXRing programs the TX ring's starting descriptor address.
func (d *PosOC3) SetTXRing(addr uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.txStart, d.txCurrent = addr, addr
}

// SetRunning enables or disables both rings, the equivalent of the
// PLX bridge's local interrupt/DMA enable bits for this minimal model.
func (d *PosOC3) SetRunning(running bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = running
}

func readDesc2(mem engine.GuestMem, addr uint32) (status, word1 uint32, err error) {
	status, err = mem.ReadUint32(addr)
	if err != nil {
		return 0, 0, err
	}
	word1, err = mem.ReadUint32(addr + 4)
	return status, word1, err
}

// nextAddr follows the WRAP-bit-terminated singly linked ring rather
// than a fixed-length circular array.
func nextAddr(status uint32, cur, ringStart uint32) uint32 {
	if status&posWrap != 0 {
		return ringStart
	}
	return cur + 8
}

// HandleRX is dev_pos_oc3_receive_pkt: walks the RX ring from
// rx_current, splitting the frame across as many descriptors as
// needed, leaving the first descriptor's own-bit cleared last.
func (d *PosOC3) HandleRX(frame []byte) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.rxStart == 0 || !d.running {
		return false, nil
	}
	if len(frame) > posMaxPktSize {
		frame = frame[:posMaxPktSize]
	}

	rxStartDesc := d.rxCurrent
	status0, buf0, err := readDesc2(d.mem, d.rxCurrent)
	if err != nil {
		return false, err
	}
	if status0&posOwn == 0 {
		return false, nil
	}

	remaining := frame
	cur := d.rxCurrent
	status, buf := status0, buf0

	for i := 0; ; i++ {
		bufLen := int(status & posLenMask)
		n := bufLen
		if n > len(remaining) {
			n = len(remaining)
		}
		if n > 0 {
			if err := d.mem.WriteAt(buf, remaining[:n]); err != nil {
				return false, err
			}
		}
		remaining = remaining[n:]

		next := nextAddr(status, cur, d.rxStart)

		if len(remaining) == 0 {
			finalStatus := uint32(n) + 4 // CRC
			if i != 0 {
				if err := d.mem.WriteUint32(cur, finalStatus); err != nil {
					return false, err
				}
			} else {
				status0 = finalStatus
			}
			d.rxCurrent = next
			break
		}

		nStatus, nBuf, err := readDesc2(d.mem, next)
		if err != nil {
			return false, err
		}

		var newStatus uint32
		if nStatus&posOwn == 0 {
			newStatus = uint32(n) // no buffer available downstream
		} else {
			newStatus = posCont | uint32(n)
		}
		if i != 0 {
			if err := d.mem.WriteUint32(cur, newStatus); err != nil {
				return false, err
			}
		} else {
			status0 = newStatus
		}

		d.rxCurrent = next
		if newStatus&posCont == 0 {
			break
		}

		cur, status, buf = next, nStatus, nBuf
	}

	if err := d.mem.WriteUint32(rxStartDesc, status0); err != nil {
		return false, err
	}

	if d.IRQ != nil {
		d.IRQ()
	}
	return true, nil
}

// ScanTXOnce is dev_pos_oc3_handle_txring's single-frame gather,
// read-then-commit so a shaped-out frame leaves every descriptor
// untouched.
func (d *PosOC3) ScanTXOnce(canTransmit func(int) bool, send func([]byte) error) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.txStart == 0 || !d.running {
		return false, nil
	}

	type seg struct {
		addr uint32
		clen int
		buf  uint32
	}
	var segs []seg
	cur := d.txCurrent
	status, buf, err := readDesc2(d.mem, cur)
	if err != nil {
		return false, err
	}
	if status&posOwn == 0 {
		return false, nil
	}

	pkt := make([]byte, 0, posMaxPktSize)
	for {
		clen := int(status & posLenMask)
		if clen > 0 {
			b := make([]byte, clen)
			if err := d.mem.ReadAt(buf, b); err != nil {
				return false, err
			}
			pkt = append(pkt, b...)
		}
		segs = append(segs, seg{addr: cur, clen: clen, buf: buf})

		next := nextAddr(status, cur, d.txStart)
		if status&posCont == 0 {
			cur = next
			break
		}

		nStatus, nBuf, err := readDesc2(d.mem, next)
		if err != nil {
			return false, err
		}
		if nStatus&posOwn == 0 {
			return false, nil
		}
		cur, status, buf = next, nStatus, nBuf
	}

	if !canTransmit(len(pkt)) {
		return false, nil
	}

	for i := 1; i < len(segs); i++ {
		if err := d.mem.WriteUint32(segs[i].addr, 0); err != nil {
			return false, err
		}
	}
	d.txCurrent = cur

	if len(pkt) > 0 {
		if err := send(pkt); err != nil {
			return false, err
		}
	}

	if err := d.mem.WriteUint32(segs[0].addr, 0); err != nil {
		return false, err
	}

	if d.IRQ != nil {
		d.IRQ()
	}
	return true, nil
}

// SetNIO binds n to the device, draining the TX ring on a background
// goroutine and dispatching inbound frames through mux.
func (d *PosOC3) SetNIO(mux *nio.Multiplexer, n *nio.NIO) error {
	d.mu.Lock()
	if d.n != nil {
		d.mu.Unlock()
		return ErrNIOAlreadyBound
	}
	d.n = n
	d.mux = mux
	d.mu.Unlock()

	mux.Add(n, func(n *nio.NIO, frame []byte) {
		d.HandleRX(frame)
	})

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(2 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				for i := 0; i < 16; i++ {
					ok, err := d.ScanTXOnce(n.CanTransmit, func(pkt []byte) error {
						_, err := n.Send(pkt)
						return err
					})
					if err != nil || !ok {
						break
					}
				}
			}
		}
	}()
	d.stopScan = func() {
		close(stop)
		<-done
	}
	return nil
}

// UnsetNIO detaches the bound NIO.
func (d *PosOC3) UnsetNIO() {
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
