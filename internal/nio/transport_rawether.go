package nio

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

func netInterfaceByName(ifname string) (int, error) {
	iface, err := net.InterfaceByName(ifname)
	if err != nil {
		return 0, err
	}
	return iface.Index, nil
}

// rawEtherTransport is a raw AF_PACKET/SOCK_RAW socket bound to a host
// interface, used where a NIO needs every Ethernet frame including ones
// pcap's BPF layer would otherwise filter. Grounded on
// BigBossBoolingB-VDATABPro's direct golang.org/x/sys/unix socket style.
type rawEtherTransport struct {
	fd  int
	ifi int
}

// NewRawEther opens a raw Ethernet socket bound to the named interface.
func NewRawEther(name, ifname string) (*NIO, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("nio raw_eth %s: socket: %w", name, err)
	}

	iface, err := netInterfaceByName(ifname)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("nio raw_eth %s: %w", name, err)
	}

	sll := unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  iface,
	}
	if err := unix.Bind(fd, &sll); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("nio raw_eth %s: bind: %w", name, err)
	}

	return newNIO(name, KindRawEther, &rawEtherTransport{fd: fd, ifi: iface}), nil
}

func (t *rawEtherTransport) send(pkt []byte) (int, error) {
	err := unix.Sendto(t.fd, pkt, 0, &unix.SockaddrLinklayer{Ifindex: t.ifi})
	if err != nil {
		return -1, err
	}
	return len(pkt), nil
}

func (t *rawEtherTransport) recv(buf []byte) (int, error) {
	n, _, err := unix.Recvfrom(t.fd, buf, 0)
	return n, err
}

func (t *rawEtherTransport) fd() int { return t.fd }

func (t *rawEtherTransport) close() error { return unix.Close(t.fd) }

// htons converts a uint16 from host to network byte order, needed
// because AF_PACKET's protocol field is big-endian regardless of host
// endianness.
func htons(v int) uint16 {
	return uint16(v>>8) | uint16(v<<8)
}
