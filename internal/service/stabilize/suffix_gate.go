package stabilize

const DefaultSuffixWindow = 4

// SuffixGate reports how many leading runes every hypothesis in a rolling
// window shares. It emits no text; the index is a stability signal.
type SuffixGate struct {
	window  int
	history [][]rune
}

func NewSuffixGate(window int) *SuffixGate {
	if window < 2 {
		window = DefaultSuffixWindow
	}
	return &SuffixGate{window: window}
}

// Update adds text to the history and returns the shared prefix length over
// the whole window, or -1 when text is empty or fewer than two hypotheses
// have been seen.
func (g *SuffixGate) Update(text string) int {
	if text == "" {
		return -1
	}
	g.history = append(g.history, []rune(text))
	if len(g.history) > g.window {
		g.history = g.history[len(g.history)-g.window:]
	}
	if len(g.history) < 2 {
		return -1
	}

	n := len(g.history[0])
	for _, h := range g.history[1:] {
		n = commonPrefixLen(g.history[0][:n], h)
	}
	return n
}

func (g *SuffixGate) Reset() {
	g.history = nil
}
