package stabilize

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  hello   world. ", "hello world"},
		{"hi, there!", "hi there"},
		{"what?\n\tnow", "what now"},
		{"안녕하세요.", "안녕하세요"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDelta(t *testing.T) {
	tests := []struct {
		name      string
		prev      string
		curr      string
		wantSpan  string
		wantReset bool
	}{
		{"first text", "", "hello", "hello", false},
		{"empty current", "hello", "", "", false},
		{"identical", "hello", "hello", "", false},
		{"extension", "hello", "hello wo", " wo", false},
		{"repeated tail", "ab", "abab", "ab", false},
		{"insertion", "abc", "abxbc", "abxbc", true},
		{"revision in place", "hello world", "hello wordl", "hello wordl", true},
		{"capitalized", "hello world", "Hello world", "Hello world", true},
		{"revised then extended", "hello world", "hello word again", "hello word again", true},
		{"truncation", "hello world", "hello", "hello", true},
		{"korean extension", "안녕하세", "안녕하세요 여러분", "요 여러분", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			span, reset := Delta(tt.prev, tt.curr)
			if span != tt.wantSpan {
				t.Errorf("span = %q, want %q", span, tt.wantSpan)
			}
			if reset != tt.wantReset {
				t.Errorf("reset = %v, want %v", reset, tt.wantReset)
			}
		})
	}
}
