// Package ethbridge implements the fabric's in-process Ethernet bridge:
// an N-port learning hub joining registered NIOs into one broadcast
// domain, the counterpart to internal/frsw and internal/atmfab for
// plain Ethernet traffic. It is adapted from the teacher's
// src/bridge package, keeping the Tap-shaped per-port bookkeeping
// (bandwidth history, snooped IP) while dropping everything that
// exists only to drive openvswitch: no ovs-vsctl exec, no bonding, no
// VLAN trunks, no tunnels. A NIO here plays the role taps/tunnels play
// on a host bridge, and the MAC learning table plays the role
// openvswitch's own flow table would on a real switch.
package ethbridge

import (
	"errors"
	"fmt"
	"sync"

	"github.com/GNS3/dynamips-fabric/internal/nio"
	log "github.com/GNS3/dynamips-fabric/pkg/minilog"
)

var (
	ErrPortExists   = errors.New("ethbridge: nio already joined to this bridge")
	ErrPortNotFound = errors.New("ethbridge: nio not joined to this bridge")
)

// Bridge is a learning Ethernet hub over a set of NIOs.
type Bridge struct {
	Name string

	mux *nio.Multiplexer
	snp *snooper

	mu    sync.Mutex
	ports map[string]*Port
	learn map[[6]byte]*Port
}

// New creates an empty bridge with its own multiplexer, mirroring
// ethsw_create/atm_bridge_create's "one object owns its own dispatch"
// shape rather than sharing a process-wide multiplexer.
func New(name string) *Bridge {
	return &Bridge{
		Name:  name,
		mux:   nio.NewMultiplexer(64),
		snp:   newSnooper(),
		ports: make(map[string]*Port),
		learn: make(map[[6]byte]*Port),
	}
}

// AddNIO joins n to the bridge, mirroring nio_bridge add_nio.
func (b *Bridge) AddNIO(n *nio.NIO) error {
	b.mu.Lock()
	if _, exists := b.ports[n.Name]; exists {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPortExists, n.Name)
	}
	p := &Port{Name: n.Name, NIO: n}
	b.ports[n.Name] = p
	b.mu.Unlock()

	b.mux.Add(n, func(n *nio.NIO, frame []byte) {
		b.handleFrame(p, frame)
	})
	return nil
}

// RemoveNIO detaches a previously joined NIO, mirroring nio_bridge
// remove_nio.
func (b *Bridge) RemoveNIO(name string) error {
	b.mu.Lock()
	p, ok := b.ports[name]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPortNotFound, name)
	}
	delete(b.ports, name)
	for mac, port := range b.learn {
		if port == p {
			delete(b.learn, mac)
		}
	}
	b.mu.Unlock()

	b.mux.Remove(name)
	return nil
}

// Ports returns a snapshot of the bridge's joined ports.
func (b *Bridge) Ports() []*Port {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Port, 0, len(b.ports))
	for _, p := range b.ports {
		out = append(out, p)
	}
	return out
}

// Close tears down the bridge's multiplexer. Joined NIOs are not closed;
// they are owned by the registry, not the bridge.
func (b *Bridge) Close() {
	b.mux.Close()
}

// handleFrame runs on the multiplexer's single dispatcher goroutine, so
// it is the only place that ever touches the shared gopacket parser in
// snoop.go — no lock needed for that part.
func (b *Bridge) handleFrame(src *Port, frame []byte) {
	if len(frame) < 12 {
		return
	}
	src.recordRx(len(frame))
	b.snp.snoop(src, frame)

	var srcMAC, dstMAC [6]byte
	copy(dstMAC[:], frame[0:6])
	copy(srcMAC[:], frame[6:12])

	broadcast := dstMAC[0]&0x01 != 0

	b.mu.Lock()
	b.learn[srcMAC] = src
	dst, known := b.learn[dstMAC]

	var targets []*Port
	switch {
	case !broadcast && known && dst != src:
		targets = []*Port{dst}
	case !broadcast && known:
		// destination learned on the same port the frame arrived on;
		// nothing to forward.
	default:
		for _, p := range b.ports {
			if p != src {
				targets = append(targets, p)
			}
		}
	}
	b.mu.Unlock()

	for _, p := range targets {
		if _, err := p.NIO.Send(frame); err != nil {
			log.Debug("ethbridge %s: send to %s failed: %v", b.Name, p.Name, err)
			continue
		}
		p.recordTx(len(frame))
	}
}
