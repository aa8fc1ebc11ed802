package nio

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// tcpTransport frames each Send/Recv call as one length-prefixed TCP
// segment so a stream socket can carry "one whole frame" atomically, the
// same obligation UDP/UNIX datagrams satisfy natively. Client and server
// roles share the same transport once a connection exists.
type tcpTransport struct {
	conn net.Conn
	ln   net.Listener // server NIOs hold the listener open only until accept
}

// NewTCPClient dials a remote TCP peer (nio create_tcp, client role).
func NewTCPClient(name, remoteHost string, remotePort int) (*NIO, error) {
	conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", remoteHost, remotePort))
	if err != nil {
		return nil, fmt.Errorf("nio tcp %s: dial: %w", name, err)
	}
	return newNIO(name, KindTCP, &tcpTransport{conn: conn}), nil
}

// NewTCPServer listens and accepts exactly one connection, blocking
// until a peer arrives (nio create_tcp, server role).
func NewTCPServer(name, localAddr string, localPort int) (*NIO, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", localAddr, localPort))
	if err != nil {
		return nil, fmt.Errorf("nio tcp %s: listen: %w", name, err)
	}
	conn, err := ln.Accept()
	if err != nil {
		ln.Close()
		return nil, fmt.Errorf("nio tcp %s: accept: %w", name, err)
	}
	ln.Close()
	return newNIO(name, KindTCP, &tcpTransport{conn: conn}), nil
}

func (t *tcpTransport) send(pkt []byte) (int, error) {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(pkt)))
	if _, err := t.conn.Write(hdr[:]); err != nil {
		return -1, err
	}
	n, err := t.conn.Write(pkt)
	if err != nil {
		return -1, err
	}
	return n, nil
}

func (t *tcpTransport) recv(buf []byte) (int, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(t.conn, hdr[:]); err != nil {
		return -1, err
	}
	n := int(binary.BigEndian.Uint32(hdr[:]))
	if n > len(buf) {
		return -1, fmt.Errorf("nio tcp: frame of %d bytes exceeds scratch buffer", n)
	}
	if _, err := io.ReadFull(t.conn, buf[:n]); err != nil {
		return -1, err
	}
	return n, nil
}

func (t *tcpTransport) fd() int {
	tc, ok := t.conn.(*net.TCPConn)
	if !ok {
		return -1
	}
	f, err := tc.File()
	if err != nil {
		return -1
	}
	defer f.Close()
	return int(f.Fd())
}

func (t *tcpTransport) close() error { return t.conn.Close() }
