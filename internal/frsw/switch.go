// Package frsw implements the Frame-Relay switch: a DLCI-keyed table
// that rewrites the 2-byte Q.922 header and forwards frames between
// NIOs, ported from frame_relay.h and common/hv_frsw.c's virtual
// switch semantics.
package frsw

import (
	"errors"
	"fmt"
	"sync"

	"github.com/GNS3/dynamips-fabric/internal/nio"
)

const (
	// HeaderSize is the Q.922 header width in bytes.
	HeaderSize = 2

	// MaxPacketSize mirrors FR_MAX_PKT_SIZE.
	MaxPacketSize = 2048

	hashSize = 256

	// DLCILMIAnsi and DLCILMICisco are the two well-known LMI DLCIs;
	// frames addressed to either are never switched as data.
	DLCILMIAnsi  = 0
	DLCILMICisco = 1023
)

var (
	ErrConnExists = errors.New("frsw: connection already exists for this (input, dlci)")
	ErrNotFound   = errors.New("frsw: no matching connection")
)

// Conn is one switched virtual circuit: frames arriving on Input
// carrying DlciIn are rewritten to DlciOut and sent out Output.
type Conn struct {
	Input, Output  *nio.NIO
	DlciIn, DlciOut uint32
	Count          uint64
}

// Switch is a virtual Frame-Relay switch: a 256-bucket hash table of
// connections keyed by dlci&255, mirroring frsw_table_t.
type Switch struct {
	Name string

	mu    sync.Mutex
	table [hashSize][]*Conn
	drop  uint64
}

// NewSwitch creates an empty Frame-Relay switch.
func NewSwitch(name string) *Switch {
	return &Switch{Name: name}
}

func dlciHash(dlci uint32) uint32 {
	return dlci & (hashSize - 1)
}

// lookup finds the connection for (input, dlci). Caller holds s.mu.
func (s *Switch) lookup(input *nio.NIO, dlci uint32) *Conn {
	bucket := s.table[dlciHash(dlci)]
	for _, c := range bucket {
		if c.Input == input && c.DlciIn == dlci {
			return c
		}
	}
	return nil
}

// CreateVC adds a switched connection from (input, dlciIn) to
// (output, dlciOut).
func (s *Switch) CreateVC(input *nio.NIO, dlciIn uint32, output *nio.NIO, dlciOut uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lookup(input, dlciIn) != nil {
		return ErrConnExists
	}

	c := &Conn{Input: input, Output: output, DlciIn: dlciIn, DlciOut: dlciOut}
	h := dlciHash(dlciIn)
	s.table[h] = append(s.table[h], c)
	return nil
}

// DeleteVC removes the connection for (input, dlciIn) -> (output, dlciOut).
func (s *Switch) DeleteVC(input *nio.NIO, dlciIn uint32, output *nio.NIO, dlciOut uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := dlciHash(dlciIn)
	bucket := s.table[h]
	for i, c := range bucket {
		if c.Input == input && c.DlciIn == dlciIn && c.Output == output && c.DlciOut == dlciOut {
			s.table[h] = append(bucket[:i], bucket[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// Drop returns the cumulative count of frames dropped for failed
// lookups.
func (s *Switch) Drop() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drop
}

// HandleFrame switches one frame arriving on input: frames addressed
// to the LMI DLCIs (0 or 1023) are never switched here — they belong
// to the per-NIO LMI responder — everything else is looked up by
// (input, dlci), has its Q.922 header rewritten for the egress DLCI,
// and is forwarded. A failed lookup increments the drop counter.
func (s *Switch) HandleFrame(input *nio.NIO, frame []byte) error {
	if len(frame) < HeaderSize {
		return fmt.Errorf("frsw: frame shorter than Q.922 header (%d bytes)", len(frame))
	}

	dlci := DecodeDLCI(frame)
	if dlci == DLCILMIAnsi || dlci == DLCILMICisco {
		return nil
	}

	s.mu.Lock()
	c := s.lookup(input, dlci)
	if c == nil {
		s.drop++
		s.mu.Unlock()
		return nil
	}
	c.Count++
	output, dlciOut := c.Output, c.DlciOut
	s.mu.Unlock()

	out := make([]byte, len(frame))
	copy(out, frame)
	EncodeDLCI(out, dlciOut)

	if _, err := output.Send(out); err != nil {
		return fmt.Errorf("frsw: switch %s: forward: %w", s.Name, err)
	}
	return nil
}

// DecodeDLCI extracts the 10-bit DLCI from a 2-byte Q.922 header:
// the high 6 bits come from word bits 15..10 (the top 6 bits of the
// first octet) and the low 4 bits from word bits 7..4 (the top
// nibble of the second octet).
func DecodeDLCI(header []byte) uint32 {
	word := uint32(header[0])<<8 | uint32(header[1])
	high := (word >> 10) & 0x3F
	low := (word >> 4) & 0xF
	return (high << 4) | low
}

// EncodeDLCI rewrites the DLCI bits of a 2-byte Q.922 header in
// place, leaving the C/R, FECN/BECN/DE, and EA bits untouched.
func EncodeDLCI(header []byte, dlci uint32) {
	high := byte((dlci >> 4) & 0x3F)
	low := byte(dlci & 0xF)

	header[0] = (header[0] & 0x03) | (high << 2)
	header[1] = (header[1] & 0x0F) | (low << 4)
}
