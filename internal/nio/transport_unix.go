package nio

import (
	"fmt"
	"net"
)

// unixTransport wires a SOCK_DGRAM UNIX socket pair, local path bound and
// remote path as the send target (nio create_unix).
type unixTransport struct {
	conn   *net.UnixConn
	remote *net.UnixAddr
}

// NewUnix creates a UNIX datagram NIO.
func NewUnix(name, localPath, remotePath string) (*NIO, error) {
	local := &net.UnixAddr{Name: localPath, Net: "unixgram"}
	conn, err := net.ListenUnixgram("unixgram", local)
	if err != nil {
		return nil, fmt.Errorf("nio unix %s: listen %s: %w", name, localPath, err)
	}
	remote := &net.UnixAddr{Name: remotePath, Net: "unixgram"}
	return newNIO(name, KindUnix, &unixTransport{conn: conn, remote: remote}), nil
}

func (t *unixTransport) send(pkt []byte) (int, error) {
	return t.conn.WriteToUnix(pkt, t.remote)
}

func (t *unixTransport) recv(buf []byte) (int, error) {
	n, _, err := t.conn.ReadFromUnix(buf)
	return n, err
}

func (t *unixTransport) fd() int {
	f, err := t.conn.File()
	if err != nil {
		return -1
	}
	defer f.Close()
	return int(f.Fd())
}

func (t *unixTransport) close() error { return t.conn.Close() }
