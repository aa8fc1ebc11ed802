package atmfab

import (
	"errors"

	"github.com/GNS3/dynamips-fabric/internal/netutil"
	"github.com/GNS3/dynamips-fabric/internal/nio"
)

// ReasMaxSize is the reassembly context's scratch buffer size, matching
// ATM_REAS_MAX_SIZE.
const ReasMaxSize = 16384

const trailerSize = 8
const trailerPos = CellSize - trailerSize

var (
	ErrReasOverflow = errors.New("atmfab: reassembly buffer overflow")
	// ErrOAM is returned (not as an error to the caller's retry logic,
	// but as a distinguishable sentinel) when a cell carries "network"
	// (OAM) traffic that reassembly does not handle.
	ErrOAM = errors.New("atmfab: OAM cell, not reassembled")
)

// ReasContext is a per-connection AAL5 reassembly context: a 16KiB
// scratch buffer, write cursor, and the final reassembled length once an
// end-of-packet cell completes a PDU.
type ReasContext struct {
	buffer  [ReasMaxSize]byte
	bufPos  int
	length  int
}

// Reset clears the context, matching atm_aal5_recv_reset. Callers must
// reset after consuming a completed packet or after any error.
func (c *ReasContext) Reset() {
	c.bufPos = 0
	c.length = 0
}

// RecvCell feeds one 53-byte cell into the reassembly context.
// Returns (complete, error): complete is true once an end-of-packet
// cell has been consumed and c.Packet() is ready to read; the caller
// must call Reset after consuming it. OAM ("network" PTI) cells are
// silently ignored and reported via ErrOAM without touching buf_pos.
func (c *ReasContext) RecvCell(cell []byte) (bool, error) {
	if c.bufPos+PayloadSize > ReasMaxSize {
		c.Reset()
		return false, ErrReasOverflow
	}

	hdr := netutil.GetUint32(cell)
	if hdr&PTINetwork != 0 {
		return false, ErrOAM
	}

	copy(c.buffer[c.bufPos:], cell[HeaderSize:CellSize])
	c.bufPos += PayloadSize

	if hdr&PTIEOP != 0 {
		c.length = int(netutil.GetUint16(cell[trailerPos+2 : trailerPos+4]))
		if c.length > c.bufPos {
			return false, errors.New("atmfab: AAL5 trailer length exceeds reassembled data")
		}
		return true, nil
	}

	return false, nil
}

// Packet returns the reassembled PDU once RecvCell has reported
// completion. Valid only until the next Reset.
func (c *ReasContext) Packet() []byte {
	return c.buffer[:c.length]
}

// Send segments the given chunks (already including any encapsulation
// header the caller wants, e.g. RFC1483's 10-byte LLC/SNAP prefix) into
// AAL5 cells over vpi/vci and transmits them on dst, ported cell-by-cell
// from atm_aal5_send. Each chunk is treated like one element of the
// original's iovec array.
func Send(dst *nio.NIO, vpi, vci uint32, chunks ...[]byte) error {
	sc := newSegContext(vpi, vci)

	for _, chunk := range chunks {
		sc.aal5Len += len(chunk)
	}

	for _, chunk := range chunks {
		for len(chunk) > 0 {
			written := sc.store(chunk)
			chunk = chunk[written:]
			if sc.avail == 0 {
				if err := sc.flushFull(dst); err != nil {
					return err
				}
			}
		}
	}

	// Add the PDU trailer: if there's not enough room left in the
	// current cell, pad it out and flush, then start a fresh EOP cell.
	if sc.avail < trailerSize {
		sc.pad(sc.avail)
		if err := sc.flushFull(dst); err != nil {
			return err
		}
	}

	sc.hdr |= PTIEOP
	sc.pad(sc.avail - trailerSize)
	sc.addTrailer()
	return sc.sendCell(dst)
}
