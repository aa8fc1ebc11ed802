// Package nio implements the fabric's polymorphic network I/O endpoint:
// a named transport (UDP, multicast, UNIX datagram, TAP, pcap, raw
// Ethernet, TCP, FIFO pair, or null sink) wrapped in a uniform
// send/recv/get_fd contract, with per-direction filters and token-bucket
// bandwidth shaping in front of it.
//
// The union-of-transport-structs from the original is replaced with a
// tagged variant: NIO holds a Kind and a transport interface value,
// following the "polymorphic NIO via tagged-variant" design note.
package nio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	log "github.com/GNS3/dynamips-fabric/pkg/minilog"
)

// Kind tags which transport variant a NIO wraps.
type Kind string

const (
	KindUDP       Kind = "udp"
	KindUDPAuto   Kind = "udp_auto"
	KindMcast     Kind = "mcast"
	KindUnix      Kind = "unix"
	KindTAP       Kind = "tap"
	KindTCP       Kind = "tcp"
	KindPcap      Kind = "gen_eth"
	KindRawEther  Kind = "raw_eth"
	KindFIFO      Kind = "fifo"
	KindNull      Kind = "null"
)

// ErrClosed is returned by Send/Recv once a NIO has been torn down.
var ErrClosed = errors.New("nio: closed")

// transport is the vtable every variant implements: send/recv/get_fd/free.
type transport interface {
	send(pkt []byte) (int, error)
	recv(buf []byte) (int, error)
	fd() int // -1 if not pollable
	close() error
}

// Stats holds the four running counters the hypervisor's
// nio get_stats/reset_stats commands surface.
type Stats struct {
	PktsIn   uint64
	PktsOut  uint64
	BytesIn  uint64
	BytesOut uint64
}

// Direction identifies which of a NIO's three filter slots a bind_filter
// command targets.
type Direction int

const (
	DirRX Direction = iota
	DirTX
	DirBoth
)

// NIO is a named network I/O endpoint: one active transport, up to three
// bound filters, and a bandwidth shaper; Recv reads into the caller's
// buffer. It is safe for concurrent Send/Recv from multiple goroutines;
// the registry is responsible for NIO lifetime (reference counting),
// not NIO itself.
type NIO struct {
	Name  string
	Kind  Kind
	Debug bool

	t transport

	mu      sync.Mutex
	filters [3]filterBinding // indexed by Direction
	shaper  *shaper
	scratch []byte

	stats Stats

	// VLAN metadata used only by the Ethernet bridge; harmless elsewhere.
	VLANPortType string
	VLANID       uint16

	closed atomic.Bool
}

type filterBinding struct {
	name  string
	state FilterState
}

const scratchSize = 32 * 1024

func newNIO(name string, kind Kind, t transport) *NIO {
	return &NIO{
		Name:    name,
		Kind:    kind,
		t:       t,
		shaper:  newShaper(0),
		scratch: make([]byte, scratchSize),
	}
}

// Send delivers pkt as one atomic unit (one datagram/cell/FIFO message; no
// partial frames). It runs the TX filter then the BOTH filter, applies
// bandwidth shaping, and on success increments PktsOut/BytesOut.
func (n *NIO) Send(pkt []byte) (int, error) {
	if n.closed.Load() {
		return -1, ErrClosed
	}

	n.mu.Lock()
	verdict, out := runChain(pkt, &n.filters[DirTX], &n.filters[DirBoth])
	n.mu.Unlock()

	if verdict == VerdictDrop {
		return -1, nil
	}

	n.mu.Lock()
	allowed := n.shaper.canTransmit(len(out))
	n.mu.Unlock()
	if !allowed {
		return -1, nil
	}

	written, err := n.t.send(out)
	if err != nil {
		log.Debug("nio %s: send error: %v", n.Name, err)
		return -1, err
	}

	n.mu.Lock()
	n.shaper.record(written)
	n.stats.PktsOut++
	n.stats.BytesOut += uint64(written)
	n.mu.Unlock()

	return written, nil
}

// Recv reads one whole frame into buf, running the BOTH filter then the
// RX filter. A DROP verdict returns (-1, nil) so the RX-listener loop
// skips dispatch, mirroring the original's -1/EAGAIN convention without
// inventing a Go errno.
func (n *NIO) Recv(buf []byte) (int, error) {
	if n.closed.Load() {
		return -1, ErrClosed
	}

	nr, err := n.t.recv(buf)
	if err != nil {
		return -1, err
	}
	if nr == 0 {
		return 0, nil
	}

	n.mu.Lock()
	verdict, out := runChain(buf[:nr], &n.filters[DirBoth], &n.filters[DirRX])
	n.mu.Unlock()

	if verdict == VerdictDrop {
		return -1, nil
	}
	if len(out) != nr {
		copy(buf, out)
	}

	n.mu.Lock()
	n.stats.PktsIn++
	n.stats.BytesIn += uint64(len(out))
	n.mu.Unlock()

	return len(out), nil
}

// FD returns the pollable file descriptor backing this NIO's transport,
// or -1 for transports without one (FIFO, null, and pcap's dedicated
// goroutine variant).
func (n *NIO) FD() int { return n.t.fd() }

// SetBandwidth sets the shaping ceiling in kb/s; 0 disables shaping.
func (n *NIO) SetBandwidth(kbps int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shaper.setLimit(kbps)
}

// CanTransmit reports whether sending n more bytes right now would
// stay under the bandwidth ceiling, without consuming any of the
// shaper's budget. NIC TX-ring scanners call this before gathering a
// frame's descriptor chain, so a shaped-out frame never has its
// descriptors' own-bits cleared (nio create_udp ... -b still leaves
// the guest's ring untouched on the frames it blocks).
func (n *NIO) CanTransmit(size int) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.shaper.canTransmit(size)
}

// Stats returns a snapshot of the running counters.
func (n *NIO) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats
}

// ResetStats zeroes the running counters.
func (n *NIO) ResetStats() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stats = Stats{}
}

// BindFilter installs a freshly-configured filter instance in the given
// direction slot, replacing whatever was there.
func (n *NIO) BindFilter(dir Direction, name string, args []string) error {
	f, ok := lookupFilter(name)
	if !ok {
		return fmt.Errorf("nio: unknown filter %q", name)
	}
	state, err := f.Setup(args)
	if err != nil {
		return fmt.Errorf("nio: filter %q setup: %w", name, err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.filters[dir] = filterBinding{name: name, state: state}
	return nil
}

// UnbindFilter clears whatever filter is bound in the given direction.
func (n *NIO) UnbindFilter(dir Direction) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.filters[dir] = filterBinding{}
}

// SetupFilter forwards additional configuration tokens to the filter
// already bound in the given direction.
func (n *NIO) SetupFilter(dir Direction, args []string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.filters[dir].state == nil {
		return fmt.Errorf("nio: no filter bound in direction %d", dir)
	}
	return n.filters[dir].state.Configure(args)
}

// Close tears down the underlying transport. It does not touch the
// registry's reference count; callers must rxl-remove and release
// through the registry as the spec's cancellation contract requires.
func (n *NIO) Close() error {
	if !n.closed.CompareAndSwap(false, true) {
		return nil
	}
	return n.t.close()
}

// runChain evaluates up to two filter slots in order, short-circuiting on
// the first DROP. ALTER verdicts carry a possibly-rewritten buffer
// forward; DUPLICATE is treated as PASS per the filter chain's contract.
func runChain(pkt []byte, first, second *filterBinding) (Verdict, []byte) {
	out := pkt
	for _, fb := range [2]*filterBinding{first, second} {
		if fb.state == nil {
			continue
		}
		v, rewritten := fb.state.PerPacket(out)
		switch v {
		case VerdictDrop:
			return VerdictDrop, nil
		case VerdictAlter:
			if rewritten != nil {
				out = rewritten
			}
		case VerdictDuplicate:
			// out of scope beyond "treat as PASS"
		}
	}
	return VerdictPass, out
}
