package supervisor

import (
	"strings"
	"sync"
	"time"
)

// OutputLine is a single captured line of sidecar output.
type OutputLine struct {
	Timestamp time.Time
	Source    string // "stdout" or "stderr"
	Text      string
}

// LogBuffer keeps a bounded window of recent sidecar output. Writers are the
// capture goroutines; readers are the startup monitor (for classification)
// and diagnostic accessors.
type LogBuffer struct {
	mu       sync.RWMutex
	lines    []OutputLine
	capacity int
}

// NewLogBuffer creates a buffer that retains the most recent capacity lines.
func NewLogBuffer(capacity int) *LogBuffer {
	return &LogBuffer{
		lines:    make([]OutputLine, 0, capacity),
		capacity: capacity,
	}
}

// Append adds a line, evicting the oldest entry once the buffer is full.
func (lb *LogBuffer) Append(source, text string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if len(lb.lines) >= lb.capacity {
		lb.lines = lb.lines[1:]
	}
	lb.lines = append(lb.lines, OutputLine{
		Timestamp: time.Now(),
		Source:    source,
		Text:      text,
	})
}

// Lines returns a copy of the buffered lines in arrival order.
func (lb *LogBuffer) Lines() []OutputLine {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	out := make([]OutputLine, len(lb.lines))
	copy(out, lb.lines)
	return out
}

// Text returns the buffered output split by stream, joined with newlines.
func (lb *LogBuffer) Text() (stdout, stderr string) {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	var outB, errB strings.Builder
	for _, line := range lb.lines {
		if line.Source == "stderr" {
			errB.WriteString(line.Text)
			errB.WriteByte('\n')
		} else {
			outB.WriteString(line.Text)
			outB.WriteByte('\n')
		}
	}
	return strings.TrimRight(outB.String(), "\n"), strings.TrimRight(errB.String(), "\n")
}

// Len returns the number of buffered lines.
func (lb *LogBuffer) Len() int {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return len(lb.lines)
}
