package nio

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// mcastTransport joins an IPv4 or IPv6 multicast group. Grounded on
// BigBossBoolingB-VDATABPro's direct golang.org/x/sys/unix sockopt style:
// net.ListenMulticastUDP already does the IP_ADD_MEMBERSHIP/
// IPV6_JOIN_GROUP join, but TTL and SO_REUSEADDR need the raw fd since
// net exposes neither for UDP sockets.
type mcastTransport struct {
	conn  *net.UDPConn
	group *net.UDPAddr
}

// NewMulticast creates a NIO bound to a multicast group on the given
// port (nio create_mcast), auto-detecting v4 vs v6 from the group
// address.
func NewMulticast(name, group string, port int) (*NIO, error) {
	ip := net.ParseIP(group)
	if ip == nil {
		return nil, fmt.Errorf("nio mcast %s: invalid group %q", name, group)
	}

	addr := &net.UDPAddr{IP: ip, Port: port}

	var conn *net.UDPConn
	var err error
	if ip.To4() != nil {
		conn, err = net.ListenMulticastUDP("udp4", nil, addr)
	} else {
		conn, err = net.ListenMulticastUDP("udp6", nil, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("nio mcast %s: %w", name, err)
	}

	if err := setReuseAddrAndTTL(conn, ip.To4() != nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("nio mcast %s: sockopt: %w", name, err)
	}

	return newNIO(name, KindMcast, &mcastTransport{conn: conn, group: addr}), nil
}

// setReuseAddrAndTTL sets SO_REUSEADDR and a default multicast TTL of
// 32: IP_MULTICAST_TTL for an IPv4 group, IPV6_MULTICAST_HOPS for an
// IPv6 group. The other family's TTL option is not set.
func setReuseAddrAndTTL(conn *net.UDPConn, v4 bool) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	const defaultTTL = 32
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		if sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); sockErr != nil {
			return
		}
		if v4 {
			sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, defaultTTL)
		} else {
			sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_MULTICAST_HOPS, defaultTTL)
		}
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return sockErr
}

func (t *mcastTransport) send(pkt []byte) (int, error) {
	return t.conn.WriteToUDP(pkt, t.group)
}

func (t *mcastTransport) recv(buf []byte) (int, error) {
	n, _, err := t.conn.ReadFromUDP(buf)
	return n, err
}

func (t *mcastTransport) fd() int {
	f, err := t.conn.File()
	if err != nil {
		return -1
	}
	defer f.Close()
	return int(f.Fd())
}

func (t *mcastTransport) close() error { return t.conn.Close() }

// SetMulticastTTL changes a multicast NIO's TTL/hop-limit after
// creation (nio set_mcast_ttl).
func (n *NIO) SetMulticastTTL(ttl int) error {
	t, ok := n.t.(*mcastTransport)
	if !ok {
		return fmt.Errorf("nio %s: set_mcast_ttl on non-multicast NIO", n.Name)
	}

	raw, err := t.conn.SyscallConn()
	if err != nil {
		return err
	}

	v4 := t.group.IP.To4() != nil
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		if v4 {
			sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, ttl)
		} else {
			sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_MULTICAST_HOPS, ttl)
		}
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return sockErr
}
