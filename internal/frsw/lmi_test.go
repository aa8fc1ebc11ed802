package frsw

import (
	"testing"
	"time"

	"github.com/GNS3/dynamips-fabric/internal/nio"
)

func TestResponderIgnoresNonEnquiry(t *testing.T) {
	n, peer := nio.NewFIFO("n"), nio.NewFIFO("peer")
	nio.CrossConnectFIFO(n, peer)

	r := NewResponder()
	frame := makeFrame(DLCILMIAnsi, []byte{0x03, 0x08, 0x00, Status})
	if err := r.Handle(n, frame); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	recvDone := make(chan struct{})
	go func() {
		buf := make([]byte, 32)
		peer.Recv(buf)
		close(recvDone)
	}()
	defer peer.Close()

	select {
	case <-recvDone:
		t.Fatal("responder should not reply to a non-enquiry frame")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestResponderAnswersEnquiryWithIncrementingSeq(t *testing.T) {
	n, peer := nio.NewFIFO("n"), nio.NewFIFO("peer")
	nio.CrossConnectFIFO(n, peer)

	r := NewResponder()
	enquiry := makeFrame(DLCILMIAnsi, []byte{0x03, 0x08, 0x00, StatusEnquiry})

	var seqs []byte
	buf := make([]byte, 32)
	for i := 0; i < 3; i++ {
		if err := r.Handle(n, enquiry); err != nil {
			t.Fatalf("Handle: %v", err)
		}
		nr, err := peer.Recv(buf)
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		reply := buf[:nr]
		if reply[StatusOffset] != Status {
			t.Fatalf("reply message type = %#x, want Status", reply[StatusOffset])
		}
		if DecodeDLCI(reply) != DLCILMIAnsi {
			t.Fatalf("reply DLCI = %d, want %d", DecodeDLCI(reply), DLCILMIAnsi)
		}
		seqs = append(seqs, reply[len(reply)-1])
	}

	for i := 1; i < len(seqs); i++ {
		if seqs[i] != seqs[i-1]+1 {
			t.Fatalf("sequence numbers not monotonic: %v", seqs)
		}
	}
}

func TestIsLMI(t *testing.T) {
	if !IsLMI(makeFrame(DLCILMIAnsi, nil)) {
		t.Fatal("DLCI 0 should be recognized as LMI")
	}
	if !IsLMI(makeFrame(DLCILMICisco, nil)) {
		t.Fatal("DLCI 1023 should be recognized as LMI")
	}
	if IsLMI(makeFrame(100, nil)) {
		t.Fatal("DLCI 100 should not be recognized as LMI")
	}
}
