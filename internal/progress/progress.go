// Package progress defines the events a batch run emits and reporters that
// consume them. The batch runner calls reporters one event at a time, so a
// reporter never sees concurrent calls from the same run.
package progress

import (
	"log/slog"
	"sync"
	"time"
)

// Kind identifies an event.
type Kind string

// Event kinds, in the order a run emits them.
const (
	RunStarted   Kind = "run_started"
	FileStarted  Kind = "file_started"
	StageStarted Kind = "stage_started"
	FileFinished Kind = "file_finished"
	RunFinished  Kind = "run_finished"
)

// Event is a single progress notification.
type Event struct {
	Kind  Kind
	RunID string
	// Path is empty for run-level events.
	Path  string
	Stage string
	// Total is the number of discovered files. Done counts finished files,
	// including the one a FileFinished event reports.
	Total int
	Done  int
	// Status is the job status of a finished file.
	Status   string
	Segments int
	Err      error
	Time     time.Time
}

// Reporter receives progress events.
type Reporter interface {
	Report(Event)
}

// Func adapts a function to Reporter.
type Func func(Event)

// Report calls f(e).
func (f Func) Report(e Event) {
	f(e)
}

// Nop discards every event.
var Nop Reporter = Func(func(Event) {})

type multi []Reporter

func (m multi) Report(e Event) {
	for _, r := range m {
		r.Report(e)
	}
}

// Multi fans every event out to each non-nil reporter in order.
func Multi(reporters ...Reporter) Reporter {
	var m multi
	for _, r := range reporters {
		if r != nil {
			m = append(m, r)
		}
	}
	if len(m) == 0 {
		return Nop
	}
	return m
}

// Channel delivers events on a channel. Report blocks while the buffer is
// full, so the consumer must keep draining until Close.
type Channel struct {
	mu     sync.RWMutex
	ch     chan Event
	closed bool
}

// NewChannel creates a Channel with the given buffer size.
func NewChannel(buffer int) *Channel {
	return &Channel{ch: make(chan Event, max(0, buffer))}
}

// C returns the receive side.
func (c *Channel) C() <-chan Event {
	return c.ch
}

// Report sends e unless the channel is closed.
func (c *Channel) Report(e Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	c.ch <- e
}

// Close closes the channel. Later events are dropped.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}

// Log writes events to a structured logger: finished files at info, or at
// error when they failed, and stage changes at debug.
type Log struct {
	logger *slog.Logger
}

// NewLog creates a Log reporter.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

// Report logs e.
func (l *Log) Report(e Event) {
	switch e.Kind {
	case RunStarted:
		l.logger.Info("run started",
			slog.String("run_id", e.RunID),
			slog.Int("files", e.Total),
		)
	case StageStarted:
		l.logger.Debug("stage",
			slog.String("path", e.Path),
			slog.String("stage", e.Stage),
		)
	case FileFinished:
		attrs := []any{
			slog.String("path", e.Path),
			slog.String("status", e.Status),
			slog.Int("segments", e.Segments),
			slog.Int("done", e.Done),
			slog.Int("total", e.Total),
		}
		if e.Err != nil {
			l.logger.Error("file finished", append(attrs, slog.String("error", e.Err.Error()))...)
			return
		}
		l.logger.Info("file finished", attrs...)
	case RunFinished:
		l.logger.Info("run finished",
			slog.String("run_id", e.RunID),
			slog.Int("done", e.Done),
			slog.Int("total", e.Total),
		)
	}
}
