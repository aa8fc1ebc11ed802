package nio

import (
	"fmt"

	"github.com/google/gopacket/pcap"
)

// pcapTransport wraps a live libpcap capture handle (nio create_gen_eth),
// grounded on internal/bridge/bridges.go's pcap.OpenLive call. A pcap
// handle has no pollable fd exposed through the Go bindings, so this
// variant is one of the ones that always gets a dedicated goroutine in
// the RX multiplexer rather than being select()-able.
type pcapTransport struct {
	handle *pcap.Handle
}

// NewPcap opens a live capture on the named host interface.
func NewPcap(name, ifname string) (*NIO, error) {
	handle, err := pcap.OpenLive(ifname, 65535, true, pcapReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("nio gen_eth %s: OpenLive(%s): %w", name, ifname, err)
	}
	return newNIO(name, KindPcap, &pcapTransport{handle: handle}), nil
}

const pcapReadTimeout = -1 // block indefinitely between packets, as bridges.go's snooper loop expects

func (t *pcapTransport) send(pkt []byte) (int, error) {
	if err := t.handle.WritePacketData(pkt); err != nil {
		return -1, err
	}
	return len(pkt), nil
}

func (t *pcapTransport) recv(buf []byte) (int, error) {
	data, _, err := t.handle.ReadPacketData()
	if err == pcap.NextErrorTimeoutExpired {
		return 0, nil
	}
	if err != nil {
		return -1, err
	}
	return copy(buf, data), nil
}

func (t *pcapTransport) fd() int { return -1 }

func (t *pcapTransport) close() error {
	t.handle.Close()
	return nil
}
