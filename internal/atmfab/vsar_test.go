package atmfab

import (
	"bytes"
	"testing"

	"github.com/GNS3/dynamips-fabric/internal/nio"
)

// TestAAL5RoundTrip is property P2: reassemble(segment(M)) == M for
// M up to 16368 bytes, with the trailer length field matching |M| and
// the CRC-32 validating.
func TestAAL5RoundTrip(t *testing.T) {
	sizes := []int{0, 1, 7, 8, 9, 38, 47, 48, 49, 100, 4096, 16368}

	for _, size := range sizes {
		msg := make([]byte, size)
		for i := range msg {
			msg[i] = byte(i)
		}

		a, b := nio.NewFIFO("a"), nio.NewFIFO("b")
		if err := nio.CrossConnectFIFO(a, b); err != nil {
			t.Fatal(err)
		}

		if err := Send(a, 0, 32, msg); err != nil {
			t.Fatalf("size %d: Send: %v", size, err)
		}

		var ctx ReasContext
		cell := make([]byte, CellSize)
		var got []byte
		for {
			n, err := b.Recv(cell)
			if err != nil {
				t.Fatalf("size %d: Recv: %v", size, err)
			}
			if n != CellSize {
				t.Fatalf("size %d: expected a 53-byte cell, got %d", size, n)
			}

			done, err := ctx.RecvCell(cell)
			if err != nil {
				t.Fatalf("size %d: RecvCell: %v", size, err)
			}
			if done {
				got = append([]byte{}, ctx.Packet()...)
				break
			}
		}

		if len(got) != size {
			t.Fatalf("size %d: reassembled length = %d", size, len(got))
		}
		if !bytes.Equal(got, msg) {
			t.Fatalf("size %d: reassembled payload mismatch", size)
		}
	}
}

// TestAAL5SendProducesExpectedCellCount exercises scenario S2's shape:
// segmenting a 74-byte PDU (10-byte RFC1483 header + 64-byte frame)
// produces exactly two cells, the second carrying PTI=EOP and a trailer
// length of 74.
func TestAAL5SendProducesExpectedCellCount(t *testing.T) {
	header := []byte{0xAA, 0xAA, 0x03, 0x00, 0x80, 0xC2, 0x00, 0x07, 0x00, 0x00}
	frame := make([]byte, 64)

	a, b := nio.NewFIFO("a"), nio.NewFIFO("b")
	if err := nio.CrossConnectFIFO(a, b); err != nil {
		t.Fatal(err)
	}

	if err := Send(a, 0, 32, header, frame); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var cells [][]byte
	buf := make([]byte, CellSize)
	for i := 0; i < 2; i++ {
		n, err := b.Recv(buf)
		if err != nil || n != CellSize {
			t.Fatalf("Recv cell %d: n=%d err=%v", i, n, err)
		}
		cp := append([]byte{}, buf[:n]...)
		cells = append(cells, cp)
	}

	firstHdr := uint32(cells[0][0])<<24 | uint32(cells[0][1])<<16 | uint32(cells[0][2])<<8 | uint32(cells[0][3])
	if firstHdr&PTIEOP != 0 {
		t.Fatal("first cell should not carry PTI=EOP")
	}
	secondHdr := uint32(cells[1][0])<<24 | uint32(cells[1][1])<<16 | uint32(cells[1][2])<<8 | uint32(cells[1][3])
	if secondHdr&PTIEOP == 0 {
		t.Fatal("second cell should carry PTI=EOP")
	}

	length := uint16(cells[1][trailerPos+2])<<8 | uint16(cells[1][trailerPos+3])
	if length != 74 {
		t.Fatalf("expected trailer length 74, got %d", length)
	}
}
