package nio

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// tapTransport opens /dev/net/tun with IFF_TAP|IFF_NO_PI, one frame per
// read/write, ported from core_engine/network/tap_device.go's TUNSETIFF
// ioctl dance (that file hand-rolls the ifreq struct and raw
// syscall.Syscall; here the x/sys/unix bindings for Ifreq do the same
// thing without an unsafe.Pointer cast at the call site).
type tapTransport struct {
	f *os.File
}

// NewTAP creates a TAP NIO bound to the named host tap device
// (nio create_tap).
func NewTAP(name, tapDevice string) (*NIO, error) {
	f, err := os.OpenFile("/dev/net/tun", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("nio tap %s: open /dev/net/tun: %w", name, err)
	}

	ifr, err := unix.NewIfreq(tapDevice)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("nio tap %s: ifreq: %w", name, err)
	}
	ifr.SetUint16(unix.IFF_TAP | unix.IFF_NO_PI)

	if err := unix.IoctlIfreq(int(f.Fd()), unix.TUNSETIFF, ifr); err != nil {
		f.Close()
		return nil, fmt.Errorf("nio tap %s: TUNSETIFF: %w", name, err)
	}

	return newNIO(name, KindTAP, &tapTransport{f: f}), nil
}

func (t *tapTransport) send(pkt []byte) (int, error) {
	return t.f.Write(pkt)
}

func (t *tapTransport) recv(buf []byte) (int, error) {
	return t.f.Read(buf)
}

func (t *tapTransport) fd() int { return int(t.f.Fd()) }

func (t *tapTransport) close() error { return t.f.Close() }
