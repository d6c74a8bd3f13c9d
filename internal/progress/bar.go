package progress

import (
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Bar renders a run as a terminal progress bar.
type Bar struct {
	mu  sync.Mutex
	p   *mpb.Progress
	bar *mpb.Bar
	// current is read by the render goroutine and must not share mu.
	current atomic.Value
}

// NewBar creates a Bar writing to w. The bar itself appears on RunStarted.
func NewBar(w io.Writer) *Bar {
	b := &Bar{p: mpb.New(mpb.WithOutput(w), mpb.WithWidth(64))}
	b.current.Store("")
	return b
}

// Report updates the bar.
func (b *Bar) Report(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch e.Kind {
	case RunStarted:
		if b.bar != nil {
			return
		}
		b.bar = b.p.AddBar(int64(e.Total),
			mpb.PrependDecorators(
				decor.Name("Processing: "),
				decor.CountersNoUnit("%d / %d"),
			),
			mpb.AppendDecorators(
				decor.Percentage(),
				decor.Name(" "),
				decor.Any(func(decor.Statistics) string { return b.currentName() }),
			),
		)
	case StageStarted:
		b.current.Store(filepath.Base(e.Path) + " " + e.Stage)
	case FileFinished:
		if b.bar != nil {
			b.bar.Increment()
		}
	case RunFinished:
		if b.bar != nil && !b.bar.Completed() {
			b.bar.Abort(false)
		}
	}
}

func (b *Bar) currentName() string {
	s, _ := b.current.Load().(string)
	return s
}

// Wait blocks until the bar has rendered its final state. Call it after the
// run returned.
func (b *Bar) Wait() {
	b.mu.Lock()
	if b.bar != nil && !b.bar.Completed() {
		b.bar.Abort(false)
	}
	b.mu.Unlock()
	b.p.Wait()
}
