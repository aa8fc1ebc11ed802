package frsw

import (
	"sync"

	"github.com/GNS3/dynamips-fabric/internal/nio"
)

// ANSI T1.617 Annex D / Q.933 constants, matching FR_LMI_ANSI_* in
// frame_relay.h.
const (
	lmiHeaderLen = 5 // Q.922 header + UI + protocol discriminator + call ref

	// StatusOffset is the message-type byte position within an LMI
	// frame, matching FR_LMI_ANSI_STATUS_OFFSET.
	StatusOffset = 5

	// StatusEnquiry is the message type a DTE sends to poll the
	// network, matching FR_LMI_ANSI_STATUS_ENQUIRY.
	StatusEnquiry = 0x75

	// Status is the message type the network sends in reply,
	// matching FR_LMI_ANSI_STATUS.
	Status = 0x7d

	ieReportType   = 0x01
	ieLinkVerify   = 0x03
	reportTypeFull = 0x00
)

// Responder is a per-switch LMI responder: one incrementing sequence
// counter per NIO, answering ANSI-T1.617 Annex D status enquiries
// addressed to DLCI 0 with a synthesized STATUS reply.
type Responder struct {
	mu  sync.Mutex
	seq map[string]byte
}

// NewResponder creates an empty LMI responder.
func NewResponder() *Responder {
	return &Responder{seq: make(map[string]byte)}
}

// IsLMI reports whether frame is addressed to one of the well-known
// LMI DLCIs.
func IsLMI(frame []byte) bool {
	if len(frame) < HeaderSize {
		return false
	}
	dlci := DecodeDLCI(frame)
	return dlci == DLCILMIAnsi || dlci == DLCILMICisco
}

// Handle answers a status-enquiry frame arriving on n by sending back
// a synthesized STATUS reply over the same NIO. Frames that are not a
// status enquiry (or too short to carry one) are ignored.
func (r *Responder) Handle(n *nio.NIO, frame []byte) error {
	if len(frame) <= StatusOffset || frame[StatusOffset] != StatusEnquiry {
		return nil
	}

	r.mu.Lock()
	r.seq[n.Name]++
	seq := r.seq[n.Name]
	r.mu.Unlock()

	reply := r.buildStatus(seq)
	_, err := n.Send(reply)
	return err
}

// buildStatus synthesizes a minimal full-status LMI reply: the Q.922
// LMI header, the STATUS message type, a full report-type IE, and a
// link-integrity-verification IE carrying the current send/receive
// sequence numbers.
func (r *Responder) buildStatus(seq byte) []byte {
	frame := make([]byte, 0, lmiHeaderLen+8)
	frame = append(frame, 0x00, 0x01) // Q.922 header, DLCI 0
	frame = append(frame, 0x03)       // UI control
	frame = append(frame, 0x08)       // protocol discriminator
	frame = append(frame, 0x00)       // call reference
	frame = append(frame, Status)

	frame = append(frame, ieReportType, 0x01, reportTypeFull)
	frame = append(frame, ieLinkVerify, 0x02, seq, seq)

	return frame
}
