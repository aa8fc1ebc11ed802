package atmfab

import (
	"fmt"

	"github.com/GNS3/dynamips-fabric/internal/netutil"
	"github.com/GNS3/dynamips-fabric/internal/nio"
)

// segContext is the stack-local, per-call segmentation scratch state
// atm_aal5_send keeps in struct atm_seg_context: a 53-byte cell buffer,
// write cursor, available count, running AAL5 byte count, running
// CRC-32 accumulator, and a prebuilt ATM header template.
type segContext struct {
	cell  [CellSize]byte
	pos   int
	avail int

	aal5Len int
	crc     uint32
	hdr     uint32
}

func newSegContext(vpi, vci uint32) *segContext {
	sc := &segContext{crc: netutil.AAL5InitialCRC}
	sc.hdr = (vpi << hdrVPIShift) | (vci << hdrVCIShift)
	sc.clearCell()
	return sc
}

func (sc *segContext) clearCell() {
	for i := range sc.cell {
		sc.cell[i] = 0
	}
	sc.pos = HeaderSize
	sc.avail = PayloadSize
}

// store copies as much of src as fits into the remaining cell space,
// returning how many bytes it consumed.
func (sc *segContext) store(src []byte) int {
	n := len(src)
	if n > sc.avail {
		n = sc.avail
	}
	copy(sc.cell[sc.pos:sc.pos+n], src[:n])
	sc.pos += n
	sc.avail -= n
	return n
}

func (sc *segContext) pad(n int) {
	if n > sc.avail {
		n = sc.avail
	}
	for i := 0; i < n; i++ {
		sc.cell[sc.pos+i] = 0
	}
	sc.pos += n
	sc.avail -= n
}

// flushFull sends the cell once it is completely full (avail == 0),
// folding its payload into the running CRC first, then starts a fresh
// intermediate cell. Called only when a cell has actually filled.
func (sc *segContext) flushFull(dst *nio.NIO) error {
	if sc.avail != 0 {
		return nil
	}
	sc.crc = netutil.CRC32AAL5(sc.crc, sc.cell[HeaderSize:CellSize])
	if err := sc.sendCell(dst); err != nil {
		return err
	}
	sc.clearCell()
	return nil
}

// addTrailer writes the 8-byte AAL5 trailer into the tail of the
// current (final) cell: UU=0, CPI=0, 16-bit length, then the
// one's-complemented CRC-32 over everything in the payload preceding
// the CRC field itself.
func (sc *segContext) addTrailer() {
	trailer := sc.cell[trailerPos:CellSize]
	netutil.PutUint32(trailer, uint32(sc.aal5Len))

	sc.crc = netutil.CRC32AAL5(sc.crc, sc.cell[HeaderSize:trailerPos+4])
	netutil.PutUint32(trailer[4:], ^sc.crc)

	sc.avail = 0
}

func (sc *segContext) sendCell(dst *nio.NIO) error {
	netutil.PutUint32(sc.cell[:], sc.hdr)
	netutil.InsertHEC(sc.cell[:])

	n, err := dst.Send(sc.cell[:])
	if err != nil {
		return fmt.Errorf("atmfab: aal5 send on %s: %w", dst.Name, err)
	}
	if n != CellSize {
		return fmt.Errorf("atmfab: aal5 send on %s: short write (%d)", dst.Name, n)
	}
	return nil
}
