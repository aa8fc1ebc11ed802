package ethbridge

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// snooper is a per-bridge gopacket.DecodingLayerParser, reused across
// every frame the same way ipmac.go's snooper loop reused one parser
// across every packet read from a pcap handle. Safe without a lock
// because each Bridge's handleFrame only ever runs on that bridge's own
// multiplexer dispatcher goroutine; one snooper per Bridge keeps two
// bridges' dispatcher goroutines from sharing parser state.
type snooper struct {
	eth   layers.Ethernet
	dot1q layers.Dot1Q
	ip4   layers.IPv4
	ip6   layers.IPv6
	arp   layers.ARP

	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

func newSnooper() *snooper {
	s := &snooper{}
	s.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet,
		&s.eth, &s.dot1q, &s.ip4, &s.ip6, &s.arp)
	return s
}

// snoop learns src-MAC/IP pairs from ARP and ICMPv6 traffic arriving on
// p, mirroring ipmac.go's updateIP calls.
func (s *snooper) snoop(p *Port, frame []byte) {
	if err := s.parser.DecodeLayers(frame, &s.decoded); err != nil {
		if _, ok := err.(gopacket.UnsupportedLayerType); !ok {
			return
		}
	}

	for _, lt := range s.decoded {
		switch lt {
		case layers.LayerTypeICMPv6:
			p.updateIP(s.ip6.SrcIP)
		case layers.LayerTypeARP:
			p.updateIP(net.IP(s.arp.SourceProtAddress))
		}
	}
}
