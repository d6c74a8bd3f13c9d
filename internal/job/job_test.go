package job

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	job := New("run-1", "/audio/loop.wav")

	if !strings.HasPrefix(job.ID, "run-1/") {
		t.Errorf("expected job ID scoped to the run, got %s", job.ID)
	}
	if job.Status != StatusPending {
		t.Errorf("expected status %s, got %s", StatusPending, job.Status)
	}
	if job.Path != "/audio/loop.wav" || job.RunID != "run-1" {
		t.Errorf("unexpected path/run: %s %s", job.Path, job.RunID)
	}
	if job.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
	if job.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be set")
	}
}

func TestNewWithID(t *testing.T) {
	job := NewWithID("test-job-123", "run-1", "a.wav")

	if job.ID != "test-job-123" {
		t.Errorf("expected ID test-job-123, got %s", job.ID)
	}
	if job.Status != StatusPending {
		t.Errorf("expected status %s, got %s", StatusPending, job.Status)
	}
}

func TestJob_ValidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		wantErr bool
	}{
		// Valid transitions from PENDING
		{"PENDING to RUNNING", StatusPending, StatusRunning, false},
		{"PENDING to SKIPPED", StatusPending, StatusSkipped, false},
		{"PENDING to CANCELLED", StatusPending, StatusCancelled, false},
		// Valid transitions from RUNNING
		{"RUNNING to COMPLETED", StatusRunning, StatusCompleted, false},
		{"RUNNING to FAILED", StatusRunning, StatusFailed, false},
		{"RUNNING to CANCELLED", StatusRunning, StatusCancelled, false},
		// Invalid transitions
		{"PENDING to COMPLETED", StatusPending, StatusCompleted, true},
		{"PENDING to FAILED", StatusPending, StatusFailed, true},
		{"RUNNING to SKIPPED", StatusRunning, StatusSkipped, true},
		{"COMPLETED to RUNNING", StatusCompleted, StatusRunning, true},
		{"FAILED to RUNNING", StatusFailed, StatusRunning, true},
		{"SKIPPED to RUNNING", StatusSkipped, StatusRunning, true},
		{"CANCELLED to RUNNING", StatusCancelled, StatusRunning, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewWithID("test", "run", "a.wav")
			job.Status = tt.from

			err := job.TransitionTo(tt.to)

			if tt.wantErr && err == nil {
				t.Errorf("expected error for transition %s -> %s", tt.from, tt.to)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error for transition %s -> %s: %v", tt.from, tt.to, err)
			}
		})
	}
}

func TestJob_Start(t *testing.T) {
	job := New("run", "a.wav")
	beforeStart := time.Now()

	if err := job.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if job.Status != StatusRunning {
		t.Errorf("expected status %s, got %s", StatusRunning, job.Status)
	}
	if job.StartedAt.Before(beforeStart) {
		t.Error("expected StartedAt to be set after test start")
	}
}

func TestJob_Complete(t *testing.T) {
	job := New("run", "a.wav")
	_ = job.Start()

	if err := job.Complete(7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if job.Status != StatusCompleted {
		t.Errorf("expected status %s, got %s", StatusCompleted, job.Status)
	}
	if job.Segments != 7 {
		t.Errorf("expected 7 segments, got %d", job.Segments)
	}
	if job.Progress != 100 {
		t.Errorf("expected progress 100, got %d", job.Progress)
	}
	if job.CompletedAt.IsZero() {
		t.Error("expected CompletedAt to be set")
	}
}

func TestJob_Complete_RequiresRunning(t *testing.T) {
	job := New("run", "a.wav")

	if err := job.Complete(3); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if job.Segments != 0 {
		t.Error("segments must not change on a rejected transition")
	}
}

func TestJob_Fail(t *testing.T) {
	job := New("run", "a.wav")
	_ = job.Start()

	errMsg := "decode failed"
	if err := job.Fail(StageDecode, errMsg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if job.Status != StatusFailed {
		t.Errorf("expected status %s, got %s", StatusFailed, job.Status)
	}
	if job.Stage != StageDecode {
		t.Errorf("expected stage %s, got %s", StageDecode, job.Stage)
	}
	if job.Error != errMsg {
		t.Errorf("expected error %q, got %q", errMsg, job.Error)
	}
	if job.CompletedAt.IsZero() {
		t.Error("expected CompletedAt to be set on failure")
	}
}

func TestJob_Skip(t *testing.T) {
	job := New("run", "a.wav")

	if err := job.Skip(4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != StatusSkipped || job.Segments != 4 {
		t.Errorf("expected SKIPPED with 4 segments, got %s with %d", job.Status, job.Segments)
	}
	if !job.StartedAt.IsZero() {
		t.Error("a skipped job never starts")
	}
	if job.Elapsed() != 0 {
		t.Errorf("expected zero elapsed, got %s", job.Elapsed())
	}
}

func TestJob_Cancel(t *testing.T) {
	job := New("run", "a.wav")
	_ = job.Start()

	if err := job.Cancel(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if job.Status != StatusCancelled {
		t.Errorf("expected status %s, got %s", StatusCancelled, job.Status)
	}
}

func TestJob_CannotTransitionFromTerminalState(t *testing.T) {
	terminalStates := []Status{StatusCompleted, StatusFailed, StatusSkipped, StatusCancelled}
	allStates := []Status{StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusSkipped, StatusCancelled}

	for _, terminal := range terminalStates {
		for _, target := range allStates {
			t.Run(string(terminal)+"_to_"+string(target), func(t *testing.T) {
				job := NewWithID("test", "run", "a.wav")
				job.Status = terminal

				err := job.TransitionTo(target)
				if err != ErrInvalidTransition {
					t.Errorf("expected ErrInvalidTransition, got %v", err)
				}
			})
		}
	}
}

func TestJob_IsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusPending, false},
		{StatusRunning, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusSkipped, true},
		{StatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			job := NewWithID("test", "run", "a.wav")
			job.Status = tt.status

			if got := job.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}

func TestJob_EnterStage(t *testing.T) {
	job := New("run", "a.wav")

	tests := []struct {
		stage    string
		expected int
	}{
		{StageCache, 0},
		{StageDecode, 16},
		{StageMerge, 50},
		{StageExport, 83},
	}
	for _, tt := range tests {
		job.EnterStage(tt.stage)
		if job.Stage != tt.stage {
			t.Errorf("expected stage %s, got %s", tt.stage, job.Stage)
		}
		if job.Progress != tt.expected {
			t.Errorf("EnterStage(%s): expected progress %d, got %d", tt.stage, tt.expected, job.Progress)
		}
	}
}

func TestJob_UpdateProgress(t *testing.T) {
	job := New("run", "a.wav")

	tests := []struct {
		input    int
		expected int
	}{
		{50, 50},
		{0, 0},
		{100, 100},
		{-10, 0},   // Clamped to 0
		{150, 100}, // Clamped to 100
	}

	for _, tt := range tests {
		job.UpdateProgress(tt.input)
		if job.Progress != tt.expected {
			t.Errorf("UpdateProgress(%d): expected %d, got %d", tt.input, tt.expected, job.Progress)
		}
	}
}

func TestJob_SetOutput(t *testing.T) {
	job := New("run", "a.wav")
	urls := []string{"https://bucket.s3.eu-west-1.amazonaws.com/a/summary.json"}

	job.SetOutput("/out/a", urls)
	urls[0] = "mutated"

	if job.OutputDir != "/out/a" {
		t.Errorf("expected OutputDir /out/a, got %s", job.OutputDir)
	}
	if job.MirrorURLs[0] == "mutated" {
		t.Error("SetOutput must copy the URL slice")
	}
}

func TestJob_Clone(t *testing.T) {
	job := New("run", "a.wav")
	job.Status = StatusRunning
	job.Progress = 50
	job.SetOutput("/out", []string{"u1"})

	clone := job.Clone()

	// Verify clone has same values
	if clone.ID != job.ID {
		t.Errorf("expected ID %s, got %s", job.ID, clone.ID)
	}
	if clone.Status != job.Status {
		t.Errorf("expected Status %s, got %s", job.Status, clone.Status)
	}
	if clone.Progress != job.Progress {
		t.Errorf("expected Progress %d, got %d", job.Progress, clone.Progress)
	}

	// Verify clone is independent
	clone.Status = StatusCompleted
	if job.Status == StatusCompleted {
		t.Error("modifying clone should not affect original")
	}
	clone.MirrorURLs[0] = "changed"
	if job.MirrorURLs[0] == "changed" {
		t.Error("modifying clone URLs should not affect original")
	}
}

func TestJob_GetStatus_ThreadSafe(t *testing.T) {
	job := New("run", "a.wav")

	done := make(chan bool)
	go func() {
		for i := 0; i < 100; i++ {
			_ = job.GetStatus()
		}
		done <- true
	}()

	go func() {
		for i := 0; i < 100; i++ {
			_ = job.Start()
			job.EnterStage(StageDetect)
		}
		done <- true
	}()

	<-done
	<-done
	// If no race conditions, test passes
}
