package progress

import (
	"bytes"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuncAndMulti(t *testing.T) {
	var got []Kind
	rec := Func(func(e Event) { got = append(got, e.Kind) })

	r := Multi(nil, rec, rec)
	r.Report(Event{Kind: RunStarted})
	r.Report(Event{Kind: RunFinished})

	assert.Equal(t, []Kind{RunStarted, RunStarted, RunFinished, RunFinished}, got)
	assert.NotPanics(t, func() { Multi(nil, nil).Report(Event{Kind: RunStarted}) })
}

func TestChannel(t *testing.T) {
	c := NewChannel(0)

	var received []Event
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for e := range c.C() {
			received = append(received, e)
		}
	}()

	for i := 1; i <= 3; i++ {
		c.Report(Event{Kind: FileFinished, Done: i, Total: 3})
	}
	c.Close()
	c.Close()
	c.Report(Event{Kind: RunFinished})
	wg.Wait()

	require.Len(t, received, 3)
	assert.Equal(t, 3, received[2].Done)
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	l := NewLog(logger)

	l.Report(Event{Kind: RunStarted, RunID: "run-1", Total: 2})
	l.Report(Event{Kind: StageStarted, Path: "a.wav", Stage: "detect"})
	l.Report(Event{Kind: FileFinished, Path: "a.wav", Status: "COMPLETED", Segments: 4, Done: 1, Total: 2})
	l.Report(Event{Kind: FileFinished, Path: "b.wav", Status: "FAILED", Err: errors.New("decode failed"), Done: 2, Total: 2})

	out := buf.String()
	assert.Contains(t, out, "run started")
	assert.NotContains(t, out, "stage=detect", "stage events are debug level")
	assert.Contains(t, out, "level=INFO msg=\"file finished\" path=a.wav status=COMPLETED segments=4")
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "error=\"decode failed\"")
}

func TestBar(t *testing.T) {
	var buf bytes.Buffer
	b := NewBar(&buf)

	b.Report(Event{Kind: RunStarted, Total: 2})
	b.Report(Event{Kind: StageStarted, Path: "/x/a.wav", Stage: "detect"})
	b.Report(Event{Kind: FileFinished, Done: 1, Total: 2})
	b.Report(Event{Kind: FileFinished, Done: 2, Total: 2})
	b.Report(Event{Kind: RunFinished})
	b.Wait()

	assert.True(t, b.bar.Completed())
	assert.Equal(t, "a.wav detect", b.currentName())
}

func TestBar_AbortsIncompleteRun(t *testing.T) {
	var buf bytes.Buffer
	b := NewBar(&buf)

	b.Report(Event{Kind: RunStarted, Total: 5})
	b.Report(Event{Kind: FileFinished, Done: 1, Total: 5})
	b.Report(Event{Kind: RunFinished, Done: 1, Total: 5})

	done := make(chan struct{})
	go func() {
		b.Wait()
		close(done)
	}()
	<-done
}

func TestBar_WaitWithoutRun(t *testing.T) {
	b := NewBar(&bytes.Buffer{})
	b.Wait()
}
