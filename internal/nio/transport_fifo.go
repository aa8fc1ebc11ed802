package nio

import (
	"errors"
	"sync"
)

// fifoQueue is the pure-Go sync.Cond-guarded crossconnect the spec
// describes for FIFO pairs: send on one side enqueues onto the peer's
// queue under the peer's lock and signals its condition; recv blocks on
// that condition. The queue is unbounded; each enqueue keeps frames
// whole (no partial-frame merging), matching "back-pressure is
// cooperative... consumers see consistent frames".
type fifoQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frames [][]byte
	closed bool
}

func newFIFOQueue() *fifoQueue {
	q := &fifoQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *fifoQueue) push(frame []byte) {
	cp := make([]byte, len(frame))
	copy(cp, frame)

	q.mu.Lock()
	q.frames = append(q.frames, cp)
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *fifoQueue) pop(buf []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.frames) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.frames) == 0 {
		return -1, errFIFOClosed
	}
	f := q.frames[0]
	q.frames = q.frames[1:]
	return copy(buf, f), nil
}

func (q *fifoQueue) shutdown() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

var errFIFOClosed = errors.New("nio: fifo closed")

// fifoTransport is one endpoint of a crossconnected FIFO pair: its own
// inbound queue (written by the peer's send) and a reference to the
// peer's inbound queue (written by this side's send).
type fifoTransport struct {
	inbound *fifoQueue
	peerIn  *fifoQueue // nil until crossconnected
}

// NewFIFO creates a standalone FIFO endpoint NIO (nio create_fifo). It
// has no peer until CrossConnectFIFO wires it to another one.
func NewFIFO(name string) *NIO {
	return newNIO(name, KindFIFO, &fifoTransport{inbound: newFIFOQueue()})
}

// CrossConnectFIFO wires two FIFO NIOs symmetrically (nio
// crossconnect_fifo): sends on a land in b's inbound queue and vice
// versa.
func CrossConnectFIFO(a, b *NIO) error {
	ta, ok := a.t.(*fifoTransport)
	if !ok {
		return errors.New("nio: crossconnect_fifo on non-fifo NIO " + a.Name)
	}
	tb, ok := b.t.(*fifoTransport)
	if !ok {
		return errors.New("nio: crossconnect_fifo on non-fifo NIO " + b.Name)
	}
	ta.peerIn = tb.inbound
	tb.peerIn = ta.inbound
	return nil
}

func (t *fifoTransport) send(pkt []byte) (int, error) {
	if t.peerIn == nil {
		return -1, errors.New("nio: fifo not crossconnected")
	}
	t.peerIn.push(pkt)
	return len(pkt), nil
}

func (t *fifoTransport) recv(buf []byte) (int, error) {
	return t.inbound.pop(buf)
}

func (t *fifoTransport) fd() int { return -1 }

func (t *fifoTransport) close() error {
	t.inbound.shutdown()
	return nil
}
