package stabilize

import "strings"

const (
	DefaultLCPWindow        = 3
	DefaultLCPConfirmations = 2
	DefaultLCPMinGrowth     = 4
)

// LCPStabilizer commits the prefix that the most recent hypotheses agree on.
// Committed text only grows within a segment, and the deltas returned by
// OnInterim concatenate to exactly the committed text.
type LCPStabilizer struct {
	window        int
	confirmations int
	minGrowth     int

	recent    []string
	committed string
}

func NewLCPStabilizer() *LCPStabilizer {
	return &LCPStabilizer{
		window:        DefaultLCPWindow,
		confirmations: DefaultLCPConfirmations,
		minGrowth:     DefaultLCPMinGrowth,
	}
}

// OnInterim records a hypothesis and returns newly committed text, if any.
func (s *LCPStabilizer) OnInterim(hypothesis string) (string, bool) {
	s.recent = append(s.recent, hypothesis)
	if len(s.recent) > s.window {
		s.recent = s.recent[len(s.recent)-s.window:]
	}
	if len(s.recent) < s.confirmations {
		return "", false
	}

	prefix := commonPrefix(s.recent[len(s.recent)-s.confirmations:])

	// A prefix that no longer extends the committed text is a revision of
	// already emitted text; wait until the hypotheses agree again.
	if !strings.HasPrefix(prefix, s.committed) {
		return "", false
	}
	if runeLen(prefix) < runeLen(s.committed)+s.minGrowth {
		return "", false
	}

	delta := prefix[len(s.committed):]
	s.committed = prefix
	return delta, true
}

// Committed returns the text emitted so far for the segment.
func (s *LCPStabilizer) Committed() string {
	return s.committed
}

// Finalize returns what a final result adds beyond the committed text and
// resets the stabilizer. If the final result rewrote committed text, all of
// it is returned with reset set.
func (s *LCPStabilizer) Finalize(final string) (tail string, reset bool) {
	defer s.Reset()
	if strings.HasPrefix(final, s.committed) {
		return final[len(s.committed):], false
	}
	return final, true
}

func (s *LCPStabilizer) Reset() {
	s.recent = nil
	s.committed = ""
}

func commonPrefix(items []string) string {
	if len(items) == 0 {
		return ""
	}
	prefix := []rune(items[0])
	for _, item := range items[1:] {
		prefix = prefix[:commonPrefixLen(prefix, []rune(item))]
		if len(prefix) == 0 {
			break
		}
	}
	return string(prefix)
}

func runeLen(s string) int {
	return len([]rune(s))
}
