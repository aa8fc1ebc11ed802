package nio

import (
	"sync"

	log "github.com/GNS3/dynamips-fabric/pkg/minilog"
)

// Handler is invoked by the multiplexer's dispatcher goroutine for every
// frame an added NIO receives.
type Handler func(n *NIO, frame []byte)

// Multiplexer is the Go realization of the single background thread the
// original select()s over every pollable NIO's fd: rather than polling
// heterogeneous fds, every added NIO gets its own goroutine blocked in
// Recv, feeding one dispatcher goroutine over a channel. This preserves
// the two guarantees the spec actually needs — in-order delivery per
// NIO, and "handlers run on one logical thread" — without a literal
// select() port, which Go's net package does not expose a portable way
// to perform across heterogeneous transports anyway.
type Multiplexer struct {
	events chan rxEvent

	mu        sync.Mutex
	listeners map[string]*listener
}

type rxEvent struct {
	l    *listener
	n    *NIO
	data []byte
}

// listener tracks one added NIO's dedicated receive goroutine and its
// lifecycle, mirroring the spec's {nio, ref_count, running, ...} shape
// minus ref_count (ownership here is the map entry itself).
type listener struct {
	n        *NIO
	handler  Handler
	stop     chan struct{}
	stopped  chan struct{}
	removing bool

	// inFlight counts frames handed to the dispatcher that have not yet
	// been handled (or discarded as stale). Remove waits on this after
	// the receive goroutine exits so a handler call already queued or
	// running when Remove is called always finishes before Remove
	// returns, even though dispatch drops the dispatcher's lock before
	// invoking the handler.
	inFlight sync.WaitGroup
}

// NewMultiplexer creates a multiplexer with its dispatcher goroutine
// running. eventBuffer sizes the channel between per-NIO receive
// goroutines and the dispatcher; 0 is a reasonable default for tests.
func NewMultiplexer(eventBuffer int) *Multiplexer {
	m := &Multiplexer{
		events:    make(chan rxEvent, eventBuffer),
		listeners: make(map[string]*listener),
	}
	go m.dispatch()
	return m
}

// Add registers n with the multiplexer: a dedicated goroutine calls
// Recv in a loop and forwards successful frames to the dispatcher, which
// calls handler. Every NIO gets a dedicated goroutine uniformly (FIFO
// and pcap already needed one in the original; here it subsumes the
// special case rather than contradicting it).
func (m *Multiplexer) Add(n *NIO, handler Handler) {
	l := &listener{
		n:       n,
		handler: handler,
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	m.mu.Lock()
	m.listeners[n.Name] = l
	m.mu.Unlock()

	go m.recvLoop(l)
}

// Remove marks n's listener for removal and blocks until its receive
// goroutine has exited and no in-flight handler call survives, so that
// once Remove returns the handler is guaranteed never to be called
// again for n.
func (m *Multiplexer) Remove(name string) {
	m.mu.Lock()
	l, ok := m.listeners[name]
	if ok {
		delete(m.listeners, name)
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	close(l.stop)
	<-l.stopped
	l.inFlight.Wait()
}

func (m *Multiplexer) recvLoop(l *listener) {
	defer close(l.stopped)

	buf := make([]byte, scratchSize)
	for {
		select {
		case <-l.stop:
			return
		default:
		}

		n, err := l.n.Recv(buf)
		if err != nil {
			if err == ErrClosed {
				return
			}
			log.Debug("nio %s: recv error: %v", l.n.Name, err)
			continue
		}
		if n <= 0 {
			// drop verdict or zero-length read: nothing to dispatch
			continue
		}

		frame := make([]byte, n)
		copy(frame, buf[:n])

		l.inFlight.Add(1)
		select {
		case m.events <- rxEvent{l: l, n: l.n, data: frame}:
		case <-l.stop:
			l.inFlight.Done()
			return
		}
	}
}

// dispatch is the single logical thread that runs every handler, one
// event at a time, so a slow handler for one NIO cannot reorder another
// NIO's frames relative to each other (cross-NIO ordering is still
// unpromised, as the spec allows). Every event taken off the channel
// has a matching inFlight.Add from recvLoop, so the Done here must run
// whether or not the listener is still registered.
func (m *Multiplexer) dispatch() {
	for ev := range m.events {
		m.mu.Lock()
		_, stillRegistered := m.listeners[ev.n.Name]
		m.mu.Unlock()
		if stillRegistered {
			ev.l.handler(ev.n, ev.data)
		}
		ev.l.inFlight.Done()
	}
}

// Close stops the dispatcher and every listener goroutine. Intended for
// process shutdown, not per-NIO teardown (use Remove for that).
func (m *Multiplexer) Close() {
	m.mu.Lock()
	names := make([]string, 0, len(m.listeners))
	for name := range m.listeners {
		names = append(names, name)
	}
	m.mu.Unlock()

	for _, name := range names {
		m.Remove(name)
	}
	close(m.events)
}
