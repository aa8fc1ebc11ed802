package ethbridge

import (
	"net"
	"sync"
	"time"

	"github.com/GNS3/dynamips-fabric/internal/nio"
)

// statsWindow bounds how many samples Port.stats retains, the same
// fixed-size-history idea as the teacher's Tap.stats []tapStat.
const statsWindow = 60

// Port is one NIO joined to a bridge, playing the role the teacher's Tap
// plays on an openvswitch bridge: a named endpoint with a snooped IP and
// a short bandwidth history, minus anything that assumes a host kernel
// interface (VLAN tag, container netns, defunct-reaping).
type Port struct {
	Name string
	NIO  *nio.NIO

	mu       sync.Mutex
	ip4, ip6 string
	stats    []portStat
}

type portStat struct {
	t       time.Time
	rxBytes int
	txBytes int
}

func (p *Port) recordRx(n int) { p.record(n, 0) }
func (p *Port) recordTx(n int) { p.record(0, n) }

func (p *Port) record(rx, tx int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats = append(p.stats, portStat{t: time.Now(), rxBytes: rx, txBytes: tx})
	if len(p.stats) > statsWindow {
		p.stats = p.stats[len(p.stats)-statsWindow:]
	}
}

// BandwidthStats returns the RX/TX byte rates, in bytes/sec, averaged
// over the retained history window.
func (p *Port) BandwidthStats() (rxBps, txBps float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.stats) < 2 {
		return 0, 0
	}

	elapsed := p.stats[len(p.stats)-1].t.Sub(p.stats[0].t).Seconds()
	if elapsed <= 0 {
		return 0, 0
	}

	var rx, tx int
	for _, s := range p.stats[1:] {
		rx += s.rxBytes
		tx += s.txBytes
	}
	return float64(rx) / elapsed, float64(tx) / elapsed
}

// SnoopedIPs returns the IPv4/IPv6 addresses learned for this port's
// source MAC via ARP/ICMPv6 traffic.
func (p *Port) SnoopedIPs() (ip4, ip6 string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ip4, p.ip6
}

func (p *Port) updateIP(ip net.IP) {
	if ip == nil || ip.IsLinkLocalUnicast() {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if v4 := ip.To4(); v4 != nil {
		p.ip4 = v4.String()
	} else {
		p.ip6 = ip.String()
	}
}
