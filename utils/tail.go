package utils

import (
	"strings"
	"sync"
)

// LineTail is an io.Writer that keeps only the last max lines written to
// it. External command output is captured through it so errors carry a
// useful tail without buffering full transcripts in memory.
type LineTail struct {
	mu      sync.Mutex
	max     int
	lines   []string
	partial strings.Builder
}

// NewLineTail returns a LineTail keeping at most max lines.
func NewLineTail(max int) *LineTail {
	if max < 1 {
		max = 1
	}
	return &LineTail{max: max}
}

func (t *LineTail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, b := range p {
		if b == '\n' {
			t.push(t.partial.String())
			t.partial.Reset()
			continue
		}
		t.partial.WriteByte(b)
	}
	return len(p), nil
}

func (t *LineTail) push(line string) {
	t.lines = append(t.lines, strings.TrimSuffix(line, "\r"))
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

// String returns the captured tail, including any unterminated final line.
func (t *LineTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.lines)+1)
	out = append(out, t.lines...)
	if t.partial.Len() > 0 {
		out = append(out, t.partial.String())
	}
	return strings.Join(out, "\n")
}
