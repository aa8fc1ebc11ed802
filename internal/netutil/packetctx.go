package netutil

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// PacketContext holds the decoded L2/L3/L4 identity of one frame: the
// fields the ATM/Frame-Relay bridging paths and the bandwidth/flow
// accounting code need without re-parsing the frame themselves.
type PacketContext struct {
	SrcMAC, DstMAC net.HardwareAddr
	VLAN           uint16
	HasVLAN        bool

	SrcIP, DstIP net.IP
	Protocol     layers.IPProtocol
	HasIP        bool

	SrcPort, DstPort uint16
	HasPorts         bool
}

// Analyzer decodes Ethernet/Dot1Q/IPv4/IPv6/ARP/TCP/UDP layers out of raw
// frames, reusing one gopacket.DecodingLayerParser and one scratch
// PacketContext across calls. It is not safe for concurrent use; callers
// running one per goroutine (e.g. one per NIO) is the intended shape.
type Analyzer struct {
	eth   layers.Ethernet
	dot1q layers.Dot1Q
	ip4   layers.IPv4
	ip6   layers.IPv6
	arp   layers.ARP
	tcp   layers.TCP
	udp   layers.UDP

	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

// NewAnalyzer builds a ready-to-use Analyzer.
func NewAnalyzer() *Analyzer {
	a := &Analyzer{decoded: make([]gopacket.LayerType, 0, 8)}
	a.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet,
		&a.eth, &a.dot1q, &a.ip4, &a.ip6, &a.arp, &a.tcp, &a.udp,
	)
	return a
}

// Analyze decodes data into a PacketContext. The returned error is nil
// unless the frame could not be decoded at all; unsupported inner layers
// (ICMPv6, raw payload, etc.) are tolerated and simply leave the later
// fields of the context unset, matching the tolerant-decode behavior the
// bridge snooper relies on.
func (a *Analyzer) Analyze(data []byte) (PacketContext, error) {
	var ctx PacketContext

	if err := a.parser.DecodeLayers(data, &a.decoded); err != nil {
		if _, ok := err.(gopacket.UnsupportedLayerType); !ok {
			return ctx, err
		}
	}

	for _, lt := range a.decoded {
		switch lt {
		case layers.LayerTypeEthernet:
			ctx.SrcMAC = a.eth.SrcMAC
			ctx.DstMAC = a.eth.DstMAC
		case layers.LayerTypeDot1Q:
			ctx.VLAN = a.dot1q.VLANIdentifier
			ctx.HasVLAN = true
		case layers.LayerTypeIPv4:
			ctx.SrcIP = a.ip4.SrcIP
			ctx.DstIP = a.ip4.DstIP
			ctx.Protocol = a.ip4.Protocol
			ctx.HasIP = true
		case layers.LayerTypeIPv6:
			ctx.SrcIP = a.ip6.SrcIP
			ctx.DstIP = a.ip6.DstIP
			ctx.Protocol = a.ip6.NextHeader
			ctx.HasIP = true
		case layers.LayerTypeTCP:
			ctx.SrcPort = uint16(a.tcp.SrcPort)
			ctx.DstPort = uint16(a.tcp.DstPort)
			ctx.HasPorts = true
		case layers.LayerTypeUDP:
			ctx.SrcPort = uint16(a.udp.SrcPort)
			ctx.DstPort = uint16(a.udp.DstPort)
			ctx.HasPorts = true
		}
	}

	return ctx, nil
}

// ARPSenderIP returns the sender protocol address of the most recently
// decoded ARP layer, or nil if the last Analyze call did not see one.
func (a *Analyzer) ARPSenderIP() net.IP {
	for _, lt := range a.decoded {
		if lt == layers.LayerTypeARP {
			return net.IP(a.arp.SourceProtAddress)
		}
	}
	return nil
}
