package minilog

import (
	"container/ring"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Ring is a fixed-size, in-memory logger used to retain the most recent log
// lines for inspection (e.g. by a `hv` debug command) without growing
// unbounded.
type Ring struct {
	size int

	// guards below
	mu sync.Mutex
	r  *ring.Ring
}

func NewRing(size int) *Ring {
	return &Ring{
		size: size,
		r:    ring.New(size),
	}
}

func (r *Ring) Println(v ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.r.Value = time.Now().Format(time.RFC3339) + " " + fmt.Sprint(v...)
	r.r = r.r.Next()
}

// Dump returns the retained log lines, oldest first.
func (r *Ring) Dump() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	lines := make([]string, 0, r.size)
	r.r.Do(func(v interface{}) {
		if v != nil {
			lines = append(lines, v.(string))
		}
	})
	return lines
}

func (r *Ring) String() string {
	return "ring(" + strconv.Itoa(r.size) + ")"
}
