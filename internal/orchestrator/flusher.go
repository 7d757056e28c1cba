package orchestrator

import (
	"strings"
	"time"
	"unicode/utf8"
)

const (
	flushInterval = 100 * time.Millisecond
	flushMinRunes = 20
)

// flusher accumulates streamed chunks and emits the full text so far
// whenever enough time has passed or enough characters have buffered.
// Updates land on the UI in visible steps instead of one char at a time.
type flusher struct {
	emit      func(full string)
	full      strings.Builder
	pending   int
	lastFlush time.Time
}

func newFlusher(start time.Time, emit func(full string)) *flusher {
	return &flusher{emit: emit, lastFlush: start}
}

// Add appends a chunk and flushes when the predicate holds.
func (f *flusher) Add(chunk string, now time.Time) {
	if chunk == "" {
		return
	}
	f.full.WriteString(chunk)
	f.pending += utf8.RuneCountInString(chunk)
	if f.shouldFlush(now) {
		f.flush(now)
	}
}

func (f *flusher) shouldFlush(now time.Time) bool {
	return now.Sub(f.lastFlush) >= flushInterval || f.pending >= flushMinRunes
}

func (f *flusher) flush(now time.Time) {
	f.emit(f.full.String())
	f.pending = 0
	f.lastFlush = now
}

// Final flushes any buffered tail and returns the accumulated text.
func (f *flusher) Final(now time.Time) string {
	if f.pending > 0 {
		f.flush(now)
	}
	return f.full.String()
}
