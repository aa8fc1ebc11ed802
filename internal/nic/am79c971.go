// Package nic wraps the generic descriptor-ring engine (internal/nic/engine)
// in per-chip CSR/BCR register files, one emulated device type per file.
// Each device owns one engine.Ring, translates its chip-specific register
// protocol onto the ring's method set, and binds to a NIO through the
// shared RX multiplexer and a periodic TX scanner goroutine.
package nic

import (
	"errors"
	"net"
	"sync"

	"github.com/GNS3/dynamips-fabric/internal/nic/engine"
	"github.com/GNS3/dynamips-fabric/internal/nio"
)

// AMD Am79c971 CSR0 control/status bits, ported from
// AM79C971_CSR0_* in common/dev_am79c971.h.
const (
	csr0Err  uint32 = 0x00008000
	csr0Babl uint32 = 0x00004000
	csr0Cerr uint32 = 0x00002000
	csr0Miss uint32 = 0x00001000
	csr0Merr uint32 = 0x00000800
	csr0Rint uint32 = 0x00000400
	csr0Tint uint32 = 0x00000200
	csr0Idon uint32 = 0x00000100
	csr0Intr uint32 = 0x00000080
	csr0Iena uint32 = 0x00000040
	csr0Rxon uint32 = 0x00000020
	csr0Txon uint32 = 0x00000010
	csr0Tdmd uint32 = 0x00000008
	csr0Stop uint32 = 0x00000004
	csr0Strt uint32 = 0x00000002
	csr0Init uint32 = 0x00000001
)

const csr3IMMask uint32 = 0x00007F00

const (
	csr15Prom   uint32 = 0x00008000
	csr15DrcvBc uint32 = 0x00004000
	csr15DrcvPa uint32 = 0x00002000
	csr15Dtx    uint32 = 0x00000002
	csr15Drx    uint32 = 0x00000001
)

// InterfaceType selects the PHY reset-default values Am79c971 reports
// over BCR88, mirroring AM79C971_TYPE_100BASE_TX/10BASE_T.
type InterfaceType int

const (
	Type100BaseTX InterfaceType = iota + 1
	Type10BaseT
)

// ErrNIOAlreadyBound is returned by SetNIO when a NIO is already attached.
var ErrNIOAlreadyBound = errors.New("nic: a NIO is already bound to this device")

// Am79c971 emulates the AMD PCnet-FAST (Am79c971) Ethernet controller:
// the RAP-indexed CSR/BCR register windows, the init-block fetch that
// programs the descriptor ring geometry and station address, and the
// ring engine that does the actual DMA work.
type Am79c971 struct {
	Name string
	Type InterfaceType

	mem engine.GuestMem
	ring *engine.Ring
	mii  *engine.MII

	mu  sync.Mutex
	rap uint8
	csr [128]uint32
	bcr [128]uint32

	rxStartAddr, txStartAddr uint32

	macAddr net.HardwareAddr

	rxTxClearCount int

	mux      *nio.Multiplexer
	n        *nio.NIO
	stopScan func()

	// IRQ is invoked whenever the device's interrupt line transitions;
	// a PCI bridge wrapper in cmd/fabricd wires this to its own
	// trigger/clear calls the way pci_dev_trigger_irq/pci_dev_clear_irq
	// did for the original's PCI bus model.
	IRQ func(asserted bool)
}

// NewAm79c971 creates a fresh Am79c971 in its post-reset state.
func NewAm79c971(name string, ifType InterfaceType, mem engine.GuestMem) *Am79c971 {
	d := &Am79c971{
		Name: name,
		Type: ifType,
		mem:  mem,
		mii:  engine.NewMII(),
	}
	d.ring = engine.NewRing(engine.Profile{
		Name:            "am79c971",
		MaxFrameSize:    2048,
		TXBurst:         16,
		LengthIsNegated: true,
		DefaultStyle:    2,
	}, mem, nil)
	return d
}

// ReadRAP returns the current Register Address Pointer (offset 0x14).
func (d *Am79c971) ReadRAP() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return uint32(d.rap)
}

// WriteRAP sets the Register Address Pointer.
func (d *Am79c971) WriteRAP(v uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rap = uint8(v)
}

// ReadRDP services a read through the Register Data Port (offset 0x10).
func (d *Am79c971) ReadRDP() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rdpRead()
}

// WriteRDP services a write through the Register Data Port.
func (d *Am79c971) WriteRDP(v uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rdpWrite(v)
}

func (d *Am79c971) rdpRead() uint32 {
	switch d.rap {
	case 0:
		return d.csr[0]
	default:
		return d.csr[d.rap&0x7F]
	}
}

func (d *Am79c971) rdpWrite(v uint32) {
	switch d.rap {
	case 0:
		d.writeCSR0(v)
	case 6:
		rxL2 := (v >> 8) & 0x0F
		txL2 := (v >> 12) & 0x0F
		d.csr[6] = (txL2 << 12) | (rxL2 << 8)
		d.ring.SetRXRing(d.rxStartAddr, rxL2)
		d.ring.SetTXRing(d.txStartAddr, txL2)
	case 15:
		d.csr[15] = v
		d.updateRXTXOnBits()
	default:
		d.csr[d.rap&0x7F] = v
	}
}

// writeCSR0 reproduces am79c971_rdp_access's CSR0 write path: STOP has
// precedence and resets everything, certain bits clear-on-write-1 with
// a three-write RINT/TINT deferral counter, IENA is stored verbatim,
// and INIT/STRT trigger the init-block fetch / ring enable.
func (d *Am79c971) writeCSR0(v uint32) {
	if v&csr0Stop != 0 {
		d.csr[0] = csr0Stop
		d.ring.Reset()
		d.ring.SetGates(false, false)
		d.updateIRQStatus()
		return
	}

	mask := csr0Babl | csr0Cerr | csr0Miss | csr0Merr | csr0Idon
	d.rxTxClearCount++
	if d.rxTxClearCount == 3 {
		mask |= csr0Rint | csr0Tint
		d.rxTxClearCount = 0
	}
	d.csr[0] &^= v & mask
	d.csr[0] |= v & csr0Iena

	if v&csr0Init != 0 {
		d.csr[0] |= csr0Init
		d.csr[0] &^= csr0Stop
		d.fetchInitBlock()
	}

	if v&csr0Strt != 0 {
		d.csr[0] |= csr0Strt
		d.csr[0] &^= csr0Stop
		d.updateRXTXOnBits()
	}

	d.updateIRQStatus()
}

// updateIRQStatus is am79c971_update_irq_status: bits set in CSR3
// disable the matching interrupt source from setting the INTR flag.
func (d *Am79c971) updateIRQStatus() {
	mask := csr3IMMask &^ (d.csr[3] & csr3IMMask)
	if d.csr[0]&mask != 0 {
		d.csr[0] |= csr0Intr
	} else {
		d.csr[0] &^= csr0Intr
	}

	asserted := d.csr[0]&(csr0Intr|csr0Iena) == (csr0Intr | csr0Iena)
	if d.IRQ != nil {
		d.IRQ(asserted)
	}
}

// updateRXTXOnBits is am79c971_update_rx_tx_on_bits.
func (d *Am79c971) updateRXTXOnBits() {
	d.csr[0] &^= csr0Rxon | csr0Txon
	rxOn, txOn := false, false
	if d.csr[0]&csr0Strt != 0 {
		if d.csr[15]&csr15Drx == 0 {
			d.csr[0] |= csr0Rxon
			rxOn = true
		}
		if d.csr[15]&csr15Dtx == 0 {
			d.csr[0] |= csr0Txon
			txOn = true
		}
	}
	d.ring.SetGates(rxOn, txOn)
	d.ring.Filter = engine.MACFilter{
		Promiscuous: d.csr[15]&csr15Prom != 0,
		Unicast:     d.macAddr,
	}
}

// fetchInitBlock is am79c971_fetch_init_block: reads the 28-word init
// block at the address given by csr1 (low)/csr2 (high), programs ring
// geometry and the station MAC address, and marks initialization done.
func (d *Am79c971) fetchInitBlock() {
	ibAddr := (d.csr[2] << 16) | d.csr[1]
	if ibAddr == 0 {
		return
	}

	ib := make([]uint32, 28)
	for i := range ib {
		v, err := d.mem.ReadUint32(ibAddr + uint32(i*4))
		if err != nil {
			return
		}
		ib[i] = v
	}

	d.rxStartAddr = ib[5]
	d.txStartAddr = ib[6]

	mode := ib[0]
	d.csr[15] = mode & 0xFFFF
	rxL2 := (mode >> 20) & 0x0F
	txL2 := (mode >> 28) & 0x0F

	mac := make(net.HardwareAddr, 6)
	w1 := ib[1]
	d.csr[12] = w1 & 0xFFFF
	d.csr[13] = w1 >> 16
	mac[3] = byte(w1 >> 24)
	mac[2] = byte(w1 >> 16)
	mac[1] = byte(w1 >> 8)
	mac[0] = byte(w1)

	w2 := ib[2]
	d.csr[14] = w2 & 0xFFFF
	mac[5] = byte(w2 >> 8)
	mac[4] = byte(w2)
	d.macAddr = mac

	d.ring.SetRXRing(d.rxStartAddr, rxL2)
	d.ring.SetTXRing(d.txStartAddr, txL2)

	d.csr[0] |= csr0Idon
	d.updateRXTXOnBits()
}

// ReadBDP services a read through the BCR Data Port (offset 0x1c).
func (d *Am79c971) ReadBDP() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bdpRead()
}

// WriteBDP services a write through the BCR Data Port.
func (d *Am79c971) WriteBDP(v uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bdpWrite(v)
}

func (d *Am79c971) bdpRead() uint32 {
	switch d.rap {
	case 9:
		return 1
	case 20:
		return d.bcr[20]
	case 34:
		phy := uint8((d.bcr[33] >> 5) & 0x1F)
		reg := uint8(d.bcr[33] & 0x1F)
		return uint32(d.mii.Read(phy, reg))
	case 88:
		if d.Type == Type100BaseTX {
			return 0x2623003
		}
		return 0
	default:
		return d.bcr[d.rap&0x7F]
	}
}

func (d *Am79c971) bdpWrite(v uint32) {
	switch d.rap {
	case 20:
		d.bcr[20] = v
		d.ring.SetStyle(uint8(v))
	default:
		d.bcr[d.rap&0x7F] = v
	}
}

// SetNIO binds n to this device: frames it receives are delivered
// through mux into the descriptor ring, and a background goroutine
// periodically drains the TX ring onto n, the Go equivalent of
// ptask_add(am79c971_handle_txring)/netio_rxl_add.
func (d *Am79c971) SetNIO(mux *nio.Multiplexer, n *nio.NIO) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.n != nil {
		return ErrNIOAlreadyBound
	}
	d.n = n
	d.mux = mux
	d.ring.BindNIO(n)
	d.updateRXTXOnBits()

	mux.Add(n, func(n *nio.NIO, frame []byte) {
		d.mu.Lock()
		mac := frame
		defer d.mu.Unlock()
		if len(mac) >= 6 && !d.ring.Filter.Accepts(mac[0:6]) {
			return
		}
		ok, err := d.ring.HandleRX(frame)
		if err == nil && ok {
			d.csr[0] |= csr0Rint
			d.updateIRQStatus()
		}
	})

	d.stopScan = d.ring.RunTXScanner(func(pkt []byte) error {
		_, err := n.Send(pkt)
		return err
	})
	return nil
}

// UnsetNIO detaches the bound NIO, the equivalent of
// dev_am79c971_unset_nio (ptask_remove + netio_rxl_remove).
func (d *Am79c971) UnsetNIO() {
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

// InterruptPending reports whether the device's PCI interrupt line is
// currently asserted.
func (d *Am79c971) InterruptPending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.csr[0]&(csr0Intr|csr0Iena) == (csr0Intr | csr0Iena)
}

// MACAddress returns the station address programmed by the last
// successful init-block fetch.
func (d *Am79c971) MACAddress() net.HardwareAddr {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append(net.HardwareAddr(nil), d.macAddr...)
}
