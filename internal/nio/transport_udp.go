package nio

import (
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// udpTransport wraps a connected or unconnected UDP socket. Fixed-port
// NIOs connect immediately; auto-port NIOs bind then defer connecting
// until ConnectAuto is called (the spec's "late binding").
type udpTransport struct {
	conn *net.UDPConn
	// remote is nil until connected; recv works either way since conn is
	// always bound locally, but send requires a peer.
	remote *net.UDPAddr
}

// NewUDP creates a fixed local/remote UDP NIO (nio create_udp).
func NewUDP(name, localAddr string, localPort int, remoteHost string, remotePort int) (*NIO, error) {
	local := &net.UDPAddr{IP: net.ParseIP(localAddr), Port: localPort}
	remote := &net.UDPAddr{IP: net.ParseIP(remoteHost), Port: remotePort}
	conn, err := net.DialUDP("udp", local, remote)
	if err != nil {
		return nil, fmt.Errorf("nio udp %s: dial: %w", name, err)
	}
	return newNIO(name, KindUDP, &udpTransport{conn: conn, remote: remote}), nil
}

// NewUDPAuto binds to the first free local port in [start, end] and
// returns both the NIO and the port chosen (nio create_udp_auto's reply
// carries this back to the caller).
func NewUDPAuto(name, localAddr string, start, end int) (*NIO, int, error) {
	for port := start; port <= end; port++ {
		local := &net.UDPAddr{IP: net.ParseIP(localAddr), Port: port}
		conn, err := net.ListenUDP("udp", local)
		if err != nil {
			continue
		}
		return newNIO(name, KindUDPAuto, &udpTransport{conn: conn}), port, nil
	}
	return nil, 0, fmt.Errorf("nio udp_auto %s: no free port in [%d,%d]", name, start, end)
}

// ConnectAuto performs the late-binding connect for a udp_auto NIO. The
// stdlib net package has no way to connect an already-listening UDPConn,
// so this drops to the raw file descriptor via SyscallConn, the same
// style the TAP/multicast transports use for operations net doesn't
// expose.
func ConnectAuto(n *NIO, remoteHost string, remotePort int) error {
	t, ok := n.t.(*udpTransport)
	if !ok {
		return fmt.Errorf("nio %s: connect_udp_auto on non-udp_auto NIO", n.Name)
	}
	remote := &net.UDPAddr{IP: net.ParseIP(remoteHost), Port: remotePort}

	raw, err := t.conn.SyscallConn()
	if err != nil {
		return err
	}

	var connectErr error
	ip4 := remote.IP.To4()
	ctrlErr := raw.Control(func(fd uintptr) {
		if ip4 != nil {
			var sa unix.SockaddrInet4
			copy(sa.Addr[:], ip4)
			sa.Port = remote.Port
			connectErr = unix.Connect(int(fd), &sa)
		} else {
			var sa unix.SockaddrInet6
			copy(sa.Addr[:], remote.IP.To16())
			sa.Port = remote.Port
			connectErr = unix.Connect(int(fd), &sa)
		}
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	if connectErr != nil && connectErr != syscall.EISCONN {
		return connectErr
	}

	t.remote = remote
	return nil
}

func (t *udpTransport) send(pkt []byte) (int, error) {
	if t.remote == nil {
		return -1, fmt.Errorf("nio udp: send before remote is bound")
	}
	return t.conn.Write(pkt)
}

func (t *udpTransport) recv(buf []byte) (int, error) {
	return t.conn.Read(buf)
}

func (t *udpTransport) fd() int {
	f, err := t.conn.File()
	if err != nil {
		return -1
	}
	defer f.Close()
	return int(f.Fd())
}

func (t *udpTransport) close() error { return t.conn.Close() }
