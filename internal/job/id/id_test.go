package id

import (
	"strings"
	"testing"
)

func TestRun(t *testing.T) {
	id := Run()

	// Check format
	if !strings.HasPrefix(id, "run-") {
		t.Errorf("expected ID to start with 'run-', got %s", id)
	}

	// Check uniqueness
	id2 := Run()
	if id == id2 {
		t.Error("expected different IDs for consecutive calls")
	}
}

func TestRun_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := Run()
		if seen[id] {
			t.Errorf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestFile(t *testing.T) {
	a := File("run-1", "/audio/a.wav")
	if a != File("run-1", "/audio/a.wav") {
		t.Error("expected stable ID for the same run and path")
	}
	if !strings.HasPrefix(a, "run-1/") || len(a) != len("run-1/")+16 {
		t.Errorf("unexpected format %s", a)
	}
	if a == File("run-1", "/audio/b.wav") {
		t.Error("expected different IDs for different paths")
	}
	if a == File("run-2", "/audio/a.wav") {
		t.Error("expected different IDs for different runs")
	}
}
