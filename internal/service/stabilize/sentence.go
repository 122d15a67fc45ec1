package stabilize

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"live-speech-relay/internal/clock"
	"live-speech-relay/internal/observability/logging"
	"live-speech-relay/internal/observability/metrics"
)

const (
	DefaultMaxEmitsPerSecond       = 3
	DefaultMinimumGrowthCharacters = 50
)

var terminalPunctuation = regexp.MustCompile(`[.!?…](\s+|["')\]]*)$`)

var koreanEndings = compileAll(
	`[다요죠네]\s*$`,
	`어요\s*$`,
	`아요\s*$`,
	`는데요\s*$`,
	`은데요\s*$`,
	`습니다\s*$`,
	`습니까\s*$`,
	`지요\s*$`,
	`게요\s*$`,
	`을게요\s*$`,
	`을까요\s*$`,
	`으니까요\s*$`,
	`네요\s*$`,
	`인데요\s*$`,
	`래요\s*$`,
	`거예요\s*$`,
	`니다\s*$`,
)

var japaneseEndings = compileAll(
	`[。！？]\s*$`,
	`です\s*$`,
	`ます\s*$`,
	`ました\s*$`,
	`でした\s*$`,
	`ません\s*$`,
	`でしょう\s*$`,
	`ください\s*$`,
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// endingsFor selects the sentence-ending patterns for a BCP-47 language tag.
func endingsFor(lang string) []*regexp.Regexp {
	lang = strings.ToLower(lang)
	switch {
	case strings.HasPrefix(lang, "ko"):
		return koreanEndings
	case strings.HasPrefix(lang, "ja"):
		return japaneseEndings
	default:
		return nil
	}
}

// Transcript is one recognizer result attributed to a session segment.
type Transcript struct {
	SessionID       string
	SegmentID       int64
	Text            string
	ResultEndTimeMs int64
	IsFinal         bool
	Confidence      float64
}

type SentenceConfig struct {
	MaxEmitsPerSecond       float64
	MinimumGrowthCharacters int
	// Language selects sentence-ending patterns (ko*, ja*).
	Language string
	Clock    clock.Clock
}

// SentenceSession gates transcripts on sentence boundaries, growth and a
// token bucket, and drops repeats of the same text for one acoustic span.
type SentenceSession struct {
	mu        sync.Mutex
	bucket    *TokenBucket
	minGrowth int
	endings   []*regexp.Regexp
	lastByKey map[string]string
	logger    zerolog.Logger
	metrics   *metrics.Metrics
}

func NewSentenceSession(cfg SentenceConfig) *SentenceSession {
	if cfg.MaxEmitsPerSecond <= 0 {
		cfg.MaxEmitsPerSecond = DefaultMaxEmitsPerSecond
	}
	if cfg.MinimumGrowthCharacters <= 0 {
		cfg.MinimumGrowthCharacters = DefaultMinimumGrowthCharacters
	}
	capacity := int(cfg.MaxEmitsPerSecond)
	if capacity < 1 {
		capacity = 1
	}
	return &SentenceSession{
		bucket:    NewTokenBucket(capacity, cfg.MaxEmitsPerSecond, cfg.Clock),
		minGrowth: cfg.MinimumGrowthCharacters,
		endings:   endingsFor(cfg.Language),
		lastByKey: make(map[string]string),
		logger:    logging.WithComponent("sentence"),
		metrics:   metrics.DefaultMetrics,
	}
}

func dedupKey(t Transcript) string {
	return fmt.Sprintf("%s:%d:%d", t.SessionID, t.SegmentID, t.ResultEndTimeMs)
}

// Handle returns the transcript to forward downstream with trailing space
// trimmed, or false if it is empty, a repeat, not yet at a boundary, or rate
// limited. Deltas are derived downstream.
func (s *SentenceSession) Handle(t Transcript) (Transcript, bool) {
	t.Text = strings.TrimRightFunc(t.Text, unicode.IsSpace)
	if t.Text == "" {
		return Transcript{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := dedupKey(t)
	if s.lastByKey[key] == t.Text {
		return Transcript{}, false
	}
	s.lastByKey[key] = t.Text

	if !s.atBoundary(t.Text) {
		return Transcript{}, false
	}
	if !s.bucket.Allow() {
		s.metrics.RecordSentence(false)
		s.logger.Debug().
			Str("sessionId", t.SessionID).
			Int64("segmentId", t.SegmentID).
			Msg("Sentence rate limited")
		return Transcript{}, false
	}
	s.metrics.RecordSentence(true)
	return t, true
}

func (s *SentenceSession) atBoundary(text string) bool {
	if terminalPunctuation.MatchString(text) {
		return true
	}
	for _, re := range s.endings {
		if re.MatchString(text) {
			return true
		}
	}
	return utf8.RuneCountInString(text) >= s.minGrowth
}

// Stop clears dedup state for sessionID, or for every session when
// sessionID is empty.
func (s *SentenceSession) Stop(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sessionID == "" {
		clear(s.lastByKey)
		return
	}
	prefix := sessionID + ":"
	for k := range s.lastByKey {
		if strings.HasPrefix(k, prefix) {
			delete(s.lastByKey, k)
		}
	}
}
