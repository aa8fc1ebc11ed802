package atmfab

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/GNS3/dynamips-fabric/internal/netutil"
	"github.com/GNS3/dynamips-fabric/internal/nio"
)

// RFC1483BridgedHeader is the 10-byte LLC/SNAP header prepended to a
// bridged Ethernet frame before AAL5 segmentation.
var RFC1483BridgedHeader = []byte{0xAA, 0xAA, 0x03, 0x00, 0x80, 0xC2, 0x00, 0x07, 0x00, 0x00}

// ErrBridgeConfigured is returned by Configure when the bridge already
// has both NIOs bound; it must be Unconfigured first.
var ErrBridgeConfigured = errors.New("atmfab: bridge already configured")

// Bridge joins exactly one Ethernet NIO and one ATM NIO over a single
// (vpi, vci), segmenting Ethernet frames into AAL5/RFC1483 cells one
// way and reassembling them the other, ported from common/atm_bridge.c.
type Bridge struct {
	Name string

	mu      sync.Mutex
	ethNIO  *nio.NIO
	atmNIO  *nio.NIO
	vpi     uint32
	vci     uint32
	arc     ReasContext
}

// NewBridge creates an unconfigured bridge.
func NewBridge(name string) *Bridge {
	return &Bridge{Name: name}
}

// Configure binds the bridge's Ethernet and ATM sides; changing the
// binding requires Unconfigure first.
func (b *Bridge) Configure(eth, atm *nio.NIO, vpi, vci uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ethNIO != nil || b.atmNIO != nil {
		return ErrBridgeConfigured
	}

	b.ethNIO = eth
	b.atmNIO = atm
	b.vpi = vpi
	b.vci = vci
	b.arc.Reset()
	return nil
}

// Unconfigure clears the bridge's NIO binding.
func (b *Bridge) Unconfigure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ethNIO = nil
	b.atmNIO = nil
	b.arc.Reset()
}

// RecvCell handles one cell arriving on the ATM side: reassembles AAL5,
// and on a completed PDU whose RFC1483 header matches, forwards the
// payload suffix onto the Ethernet NIO. Cells for a different (vpi,vci)
// than this bridge's configuration are ignored.
func (b *Bridge) RecvCell(cell []byte) error {
	if len(cell) != CellSize {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ethNIO == nil || b.atmNIO == nil {
		return nil
	}

	hdr := netutil.GetUint32(cell)
	vpi := (hdr & hdrVPIMask) >> hdrVPIShift
	vci := (hdr & hdrVCIMask) >> hdrVCIShift
	if vpi != b.vpi || vci != b.vci {
		return nil
	}

	complete, err := b.arc.RecvCell(cell)
	if err != nil {
		b.arc.Reset()
		if errors.Is(err, ErrOAM) {
			return nil
		}
		return err
	}
	if !complete {
		return nil
	}
	defer b.arc.Reset()

	pkt := b.arc.Packet()
	if len(pkt) > len(RFC1483BridgedHeader) && bytes.Equal(pkt[:len(RFC1483BridgedHeader)], RFC1483BridgedHeader) {
		if _, err := b.ethNIO.Send(pkt[len(RFC1483BridgedHeader):]); err != nil {
			return fmt.Errorf("atmfab: bridge %s: ethernet send: %w", b.Name, err)
		}
	}
	return nil
}

// RecvPacket handles one frame arriving on the Ethernet side:
// RFC1483-bridge-encapsulates and AAL5-segments it onto the ATM NIO.
func (b *Bridge) RecvPacket(pkt []byte) error {
	b.mu.Lock()
	atmNIO, vpi, vci := b.atmNIO, b.vpi, b.vci
	b.mu.Unlock()

	if atmNIO == nil {
		return nil
	}
	return Send(atmNIO, vpi, vci, RFC1483BridgedHeader, pkt)
}
