// Package storage manages the output tree: staging directories that are
// committed into place atomically, and an optional S3 mirror of committed
// artifacts.
package storage

import (
	"context"
	"io"
)

// Storage defines how exported artifacts are written and published.
type Storage interface {
	// Root returns the output directory.
	Root() string

	// Stage creates an empty staging directory for one file's artifacts.
	// The name parameter is used as a hint for the directory name.
	Stage(ctx context.Context, name string) (dir string, err error)

	// Commit moves a staging directory to dest, replacing any previous
	// content of dest in a single rename.
	Commit(ctx context.Context, stagingDir, dest string) error

	// Discard removes a staging directory and everything in it.
	Discard(ctx context.Context, stagingDir string) error

	// Mirror uploads data under key and returns its public URL.
	// Returns ErrS3NotConfigured if no mirror is configured.
	Mirror(ctx context.Context, key string, data io.Reader) (url string, err error)
}
