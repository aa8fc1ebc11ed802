package nio

import "fmt"

// macDropFilter drops any frame whose destination MAC matches a
// configured prefix, the filter scenario 6 of the fabric's testable
// properties exercises (dropping BPDUs addressed to 01:80:C2:*).
func init() {
	RegisterFilter("macdrop", macDropFilter{})
}

type macDropFilter struct{}

func (macDropFilter) Setup(args []string) (FilterState, error) {
	st := &macDropState{}
	if err := st.Configure(args); err != nil {
		return nil, err
	}
	return st, nil
}

type macDropState struct {
	prefix []byte
	drops  uint64
}

func (s *macDropState) Configure(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("macdrop: expected one prefix argument, got %d", len(args))
	}
	prefix, err := parseMACPrefix(args[0])
	if err != nil {
		return err
	}
	s.prefix = prefix
	return nil
}

func (s *macDropState) PerPacket(pkt []byte) (Verdict, []byte) {
	if len(pkt) < 6 || len(s.prefix) == 0 {
		return VerdictPass, pkt
	}
	if hasMACPrefix(pkt[:6], s.prefix) {
		s.drops++
		return VerdictDrop, nil
	}
	return VerdictPass, pkt
}

func hasMACPrefix(dst, prefix []byte) bool {
	if len(prefix) > len(dst) {
		return false
	}
	for i, b := range prefix {
		if dst[i] != b {
			return false
		}
	}
	return true
}

// parseMACPrefix parses a colon-separated MAC prefix like "01:80:C2".
func parseMACPrefix(s string) ([]byte, error) {
	var out []byte
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ':' {
			if i == start {
				return nil, fmt.Errorf("macdrop: malformed prefix %q", s)
			}
			var b byte
			if _, err := fmt.Sscanf(s[start:i], "%02x", &b); err != nil {
				return nil, fmt.Errorf("macdrop: malformed prefix %q: %w", s, err)
			}
			out = append(out, b)
			start = i + 1
		}
	}
	return out, nil
}
