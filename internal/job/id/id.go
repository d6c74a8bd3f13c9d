// Package id provides identifier generation for runs and per-file jobs.
package id

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/OneOfOne/xxhash"
)

// Run creates a new unique run ID.
// Format: run-<timestamp>-<random>
// Example: run-1701432000-a1b2c3d4
func Run() string {
	timestamp := time.Now().Unix()
	random := make([]byte, 4)
	if _, err := rand.Read(random); err != nil {
		// Fallback to timestamp only if crypto/rand fails
		return fmt.Sprintf("run-%d", timestamp)
	}
	return fmt.Sprintf("run-%d-%s", timestamp, hex.EncodeToString(random))
}

// File returns the job ID of path within a run. The same path always maps to
// the same ID in a given run.
func File(runID, path string) string {
	return fmt.Sprintf("%s/%016x", runID, xxhash.ChecksumString64(path))
}
