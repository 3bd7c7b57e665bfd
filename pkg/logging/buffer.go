package logging

import (
	"strings"
	"sync"
)

const defaultCaptureLines = 50

// LogCaptureWriter is a thread-safe writer that keeps the most recent lines.
type LogCaptureWriter struct {
	mu    sync.RWMutex
	lines []string
	limit int
}

// NewLogCaptureWriter returns a writer keeping at most limit lines.
func NewLogCaptureWriter(limit int) *LogCaptureWriter {
	if limit < 1 {
		limit = 1
	}
	return &LogCaptureWriter{limit: limit}
}

// GlobalLogCapture captures server log lines for the API.
var GlobalLogCapture = NewLogCaptureWriter(defaultCaptureLines)

// GlobalEventCapture captures race events for the API.
var GlobalEventCapture = NewLogCaptureWriter(defaultCaptureLines)

// Write implements io.Writer.
func (w *LogCaptureWriter) Write(p []byte) (n int, err error) {
	line := strings.TrimRight(string(p), "\n")
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lines = append(w.lines, line)
	if over := len(w.lines) - w.limit; over > 0 {
		w.lines = append(w.lines[:0], w.lines[over:]...)
	}
	return len(p), nil
}

// GetLastLine returns the most recent line, or "" if nothing was written.
func (w *LogCaptureWriter) GetLastLine() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.lines) == 0 {
		return ""
	}
	return w.lines[len(w.lines)-1]
}

// Lines returns a copy of the retained lines, oldest first.
func (w *LogCaptureWriter) Lines() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, len(w.lines))
	copy(out, w.lines)
	return out
}
