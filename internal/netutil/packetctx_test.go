package netutil

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

func buildUDPFrame(t *testing.T) []byte {
	t.Helper()

	eth := layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{0, 6, 7, 8, 9, 10},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(10, 0, 0, 2),
	}
	udp := layers.UDP{SrcPort: 5000, DstPort: 6000}
	udp.SetNetworkLayerForChecksum(&ip)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, &eth, &ip, &udp, gopacket.Payload("hi")); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return buf.Bytes()
}

func TestAnalyzerDecodesUDPOverIPv4(t *testing.T) {
	a := NewAnalyzer()
	ctx, err := a.Analyze(buildUDPFrame(t))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if !ctx.HasIP || ctx.SrcIP.String() != "10.0.0.1" || ctx.DstIP.String() != "10.0.0.2" {
		t.Fatalf("unexpected IP fields: %+v", ctx)
	}
	if !ctx.HasPorts || ctx.SrcPort != 5000 || ctx.DstPort != 6000 {
		t.Fatalf("unexpected port fields: %+v", ctx)
	}
	if ctx.Protocol != layers.IPProtocolUDP {
		t.Fatalf("unexpected protocol: %v", ctx.Protocol)
	}
}

func TestAnalyzerReusableAcrossCalls(t *testing.T) {
	a := NewAnalyzer()
	frame := buildUDPFrame(t)
	for i := 0; i < 3; i++ {
		if _, err := a.Analyze(frame); err != nil {
			t.Fatalf("Analyze iteration %d: %v", i, err)
		}
	}
}
