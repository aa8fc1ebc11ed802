package atmfab

import (
	"testing"

	"github.com/GNS3/dynamips-fabric/internal/netutil"
	"github.com/GNS3/dynamips-fabric/internal/nio"
)

func makeCell(vpi, vci uint32) []byte {
	cell := make([]byte, CellSize)
	hdr := (vpi << hdrVPIShift) & hdrVPIMask
	hdr |= (vci << hdrVCIShift) & hdrVCIMask
	netutil.PutUint32(cell, hdr)
	netutil.InsertHEC(cell)
	for i := HeaderSize; i < CellSize; i++ {
		cell[i] = byte(i)
	}
	return cell
}

// TestVPSwitchRewritesHeaderAndForwards is scenario S1: a VP connection
// rewrites VPI, leaves VCI alone, and recomputes the HEC.
func TestVPSwitchRewritesHeaderAndForwards(t *testing.T) {
	a, b := nio.NewFIFO("A"), nio.NewFIFO("B")
	peerA, peerB := nio.NewFIFO("peerA"), nio.NewFIFO("peerB")
	if err := nio.CrossConnectFIFO(a, peerA); err != nil {
		t.Fatal(err)
	}
	if err := nio.CrossConnectFIFO(b, peerB); err != nil {
		t.Fatal(err)
	}

	sw := NewSwitch("t")
	if err := sw.CreateVPC(a, b, 10, 20); err != nil {
		t.Fatalf("CreateVPC: %v", err)
	}

	cell := makeCell(10, 0)

	if err := sw.HandleCell(a, cell); err != nil {
		t.Fatalf("HandleCell: %v", err)
	}

	buf := make([]byte, CellSize)
	n, err := peerB.Recv(buf)
	if err != nil || n != CellSize {
		t.Fatalf("Recv: n=%d err=%v", n, err)
	}

	hdr := netutil.GetUint32(buf)
	vpi := (hdr & hdrVPIMask) >> hdrVPIShift
	if vpi != 20 {
		t.Fatalf("expected rewritten vpi=20, got %d", vpi)
	}
	if netutil.ComputeHEC(buf) != buf[4] {
		t.Fatalf("HEC did not validate after rewrite")
	}

	vp := sw.vpTable[vpHash(10)][0]
	if vp.CellCount != 1 {
		t.Fatalf("expected cell_cnt=1, got %d", vp.CellCount)
	}
}

// TestCellDropConservation is property P3: on a VP-only switch,
// sum(cell_cnt) + cell_drop equals total cells delivered. The FIFO
// transport's send path never blocks (the queue is unbounded), so the
// matched cells can be left undrained here without affecting the count.
func TestCellDropConservation(t *testing.T) {
	a, b := nio.NewFIFO("A"), nio.NewFIFO("B")
	peerB := nio.NewFIFO("peerB")
	if err := nio.CrossConnectFIFO(b, peerB); err != nil {
		t.Fatal(err)
	}

	sw := NewSwitch("t")
	sw.CreateVPC(a, b, 10, 20)

	total := 5
	matched := 0
	for i := 0; i < total; i++ {
		vpi := uint32(10)
		if i%2 == 1 {
			vpi = 99 // unmatched, forces a drop
		} else {
			matched++
		}
		if err := sw.HandleCell(a, makeCell(vpi, 0)); err != nil {
			t.Fatalf("HandleCell: %v", err)
		}
	}

	vp := sw.vpTable[vpHash(10)][0]
	if int(vp.CellCount)+int(sw.CellDrop()) != total {
		t.Fatalf("conservation violated: cell_cnt=%d + cell_drop=%d != total=%d",
			vp.CellCount, sw.CellDrop(), total)
	}
	if int(vp.CellCount) != matched {
		t.Fatalf("expected %d matched cells switched, got %d", matched, vp.CellCount)
	}
}

func TestCreateVPCRejectsDuplicateVPI(t *testing.T) {
	a, b := nio.NewFIFO("A"), nio.NewFIFO("B")
	sw := NewSwitch("t")
	if err := sw.CreateVPC(a, b, 10, 20); err != nil {
		t.Fatalf("first CreateVPC: %v", err)
	}
	if err := sw.CreateVPC(a, b, 10, 30); err != ErrVPExists {
		t.Fatalf("expected ErrVPExists, got %v", err)
	}
}

func TestVPAndVCAreMutuallyExclusive(t *testing.T) {
	a, b := nio.NewFIFO("A"), nio.NewFIFO("B")
	sw := NewSwitch("t")

	if err := sw.CreateVPC(a, b, 10, 20); err != nil {
		t.Fatalf("CreateVPC: %v", err)
	}
	if err := sw.CreateVCC(a, b, 10, 1, 20, 1); err != ErrVPOnVCI {
		t.Fatalf("expected ErrVPOnVCI, got %v", err)
	}

	sw2 := NewSwitch("t2")
	if err := sw2.CreateVCC(a, b, 11, 1, 21, 1); err != nil {
		t.Fatalf("CreateVCC: %v", err)
	}
	if err := sw2.CreateVPC(a, b, 11, 21); err != ErrVCOnVPI {
		t.Fatalf("expected ErrVCOnVPI, got %v", err)
	}
}

func TestCreateVCCQuirkFlag(t *testing.T) {
	a, b := nio.NewFIFO("A"), nio.NewFIFO("B")

	sw := NewSwitch("t")
	sw.QuirkVCCReportsFailure = true
	err := sw.CreateVCC(a, b, 1, 1, 2, 2)
	if err != ErrQuirkReportedFailure {
		t.Fatalf("expected quirk sentinel, got %v", err)
	}
	// despite the reported failure, the connection must actually exist
	if sw.vcLookup(a, 1, 1) == nil {
		t.Fatal("quirk flag must not skip the actual insertion")
	}
}
