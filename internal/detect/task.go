package detect

import (
	"context"
	"errors"

	"github.com/maauso/samplepacker/internal/segment"
	"github.com/maauso/samplepacker/internal/settings"
)

// Outcome is the result of a background detection task. A cancelled outcome
// never carries segments, so callers cannot apply a partial result.
type Outcome struct {
	Segments  []segment.Segment
	Cancelled bool
	Err       error
}

// Task runs a detector in the background and can be cancelled cooperatively.
// Detectors observe cancellation at their frame checkpoints.
type Task struct {
	cancel  context.CancelFunc
	done    chan struct{}
	outcome Outcome
}

// StartTask launches detection in a new goroutine.
func StartTask(ctx context.Context, d Detector, samples []float64, sampleRate int, s settings.ProcessingSettings) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(t.done)
		defer cancel()

		segs, err := Run(ctx, d, samples, sampleRate, s)
		switch {
		case ctx.Err() != nil || errors.Is(err, context.Canceled):
			t.outcome = Outcome{Cancelled: true}
		case err != nil:
			t.outcome = Outcome{Err: err}
		default:
			t.outcome = Outcome{Segments: segs}
		}
	}()

	return t
}

// Cancel requests cancellation. It does not wait for the task to stop.
func (t *Task) Cancel() {
	t.cancel()
}

// Done is closed once the task has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes and returns its outcome.
func (t *Task) Wait() Outcome {
	<-t.done
	return t.outcome
}
