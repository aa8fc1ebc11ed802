package nio

import "time"

// shaper implements the spec's token-bucket-shaped bandwidth ceiling: the
// last 30ms divide into 10 samples of 3ms each, and canTransmit compares
// the moving sum of bytes over the ring against kbps*window. This is the
// same ring-buffer moving-window technique internal/bridge/bandwidth.go
// uses for its 5s/10-sample host tap stats, re-targeted from seconds to
// milliseconds and from a polled background updater to an inline
// advance-on-access check (there is no periodic background goroutine
// driving every NIO's ring, so the ring advances lazily whenever
// canTransmit or record observes that the current slot has aged out).
const (
	shaperSlots      = 10
	shaperWindow     = 30 * time.Millisecond
	shaperSlotPeriod = shaperWindow / shaperSlots
)

type shaper struct {
	kbps int

	slots    [shaperSlots]int
	slotTime [shaperSlots]time.Time
	cur      int

	now func() time.Time // overridable for tests
}

func newShaper(kbps int) *shaper {
	s := &shaper{kbps: kbps, now: time.Now}
	t := s.now()
	for i := range s.slotTime {
		s.slotTime[i] = t
	}
	return s
}

func (s *shaper) setLimit(kbps int) { s.kbps = kbps }

// advance rotates the ring forward by however many slot periods have
// elapsed since the current slot was opened, zeroing each newly-opened
// slot, matching netio_update_bw_stat's "advances the ring when the
// sample ages" behavior.
func (s *shaper) advance() {
	now := s.now()
	steps := int(now.Sub(s.slotTime[s.cur]) / shaperSlotPeriod)
	if steps > shaperSlots {
		steps = shaperSlots
	}
	for i := 0; i < steps; i++ {
		s.cur = (s.cur + 1) % shaperSlots
		s.slots[s.cur] = 0
		s.slotTime[s.cur] = now
	}
}

func (s *shaper) windowSum() int {
	sum := 0
	for _, v := range s.slots {
		sum += v
	}
	return sum
}

// canTransmit reports whether sending n more bytes keeps the moving sum
// over the 30ms window under kbps*window. A zero kbps ceiling disables
// shaping entirely.
func (s *shaper) canTransmit(n int) bool {
	if s.kbps == 0 {
		return true
	}
	s.advance()

	limit := bytesPerWindow(s.kbps)
	return s.windowSum()+n <= limit
}

// record accounts n bytes against the current slot. Call only after
// canTransmit has allowed the send.
func (s *shaper) record(n int) {
	s.advance()
	s.slots[s.cur] += n
}

// bytesPerWindow converts a kb/s ceiling into a byte budget for the
// shaper's 30ms window: kbps * 1024 / 8 bits-to-bytes, scaled by the
// window's fraction of one second.
func bytesPerWindow(kbps int) int {
	bytesPerSec := kbps * 1024 / 8
	return int(float64(bytesPerSec) * shaperWindow.Seconds())
}
