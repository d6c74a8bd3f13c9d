package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrS3NotConfigured is returned when mirror operations are attempted
// without S3 configuration.
var ErrS3NotConfigured = errors.New("S3 storage is not configured")

// stagingDirName holds in-progress output below the root.
const stagingDirName = ".staging"

// LocalStorage implements Storage on local disk. Staging directories live in
// the same filesystem as the root so commits are plain renames.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates a new LocalStorage instance.
// If root is empty, "<tmp>/samplepacker" is used.
// The directory is created if it doesn't exist.
func NewLocalStorage(root string) (*LocalStorage, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "samplepacker")
	}

	if err := os.MkdirAll(filepath.Join(root, stagingDirName), 0750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	return &LocalStorage{root: root}, nil
}

// Root returns the output directory.
func (s *LocalStorage) Root() string {
	return s.root
}

// Stage creates a unique staging directory named after name.
func (s *LocalStorage) Stage(ctx context.Context, name string) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	dir, err := os.MkdirTemp(filepath.Join(s.root, stagingDirName), name+"_*")
	if err != nil {
		return "", fmt.Errorf("create staging directory: %w", err)
	}
	return dir, nil
}

// Commit renames stagingDir to dest. An existing dest is first moved aside
// and removed only after the new content is in place.
func (s *LocalStorage) Commit(ctx context.Context, stagingDir, dest string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return fmt.Errorf("create destination parent: %w", err)
	}

	var previous string
	if _, err := os.Stat(dest); err == nil {
		previous = fmt.Sprintf("%s.old-%d", dest, time.Now().UnixNano())
		if err := os.Rename(dest, previous); err != nil {
			return fmt.Errorf("move previous output aside: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat destination: %w", err)
	}

	if err := os.Rename(stagingDir, dest); err != nil {
		if previous != "" {
			_ = os.Rename(previous, dest)
		}
		return fmt.Errorf("commit output: %w", err)
	}

	if previous != "" {
		if err := os.RemoveAll(previous); err != nil {
			return fmt.Errorf("remove previous output: %w", err)
		}
	}
	return nil
}

// Discard removes stagingDir. Only directories below the staging area are
// removed.
func (s *LocalStorage) Discard(_ context.Context, stagingDir string) error {
	base := filepath.Join(s.root, stagingDirName) + string(filepath.Separator)
	if !strings.HasPrefix(filepath.Clean(stagingDir), base) {
		return fmt.Errorf("refusing to discard %s: not a staging directory", stagingDir)
	}
	if err := os.RemoveAll(stagingDir); err != nil {
		return fmt.Errorf("discard staging directory: %w", err)
	}
	return nil
}

// Mirror is not supported by LocalStorage and returns ErrS3NotConfigured.
func (s *LocalStorage) Mirror(_ context.Context, _ string, _ io.Reader) (string, error) {
	return "", ErrS3NotConfigured
}

// MirrorDir uploads every regular file below dir with keys of the form
// prefix/relative/path and returns their URLs in walk order.
func MirrorDir(ctx context.Context, s Storage, dir, prefix string) ([]string, error) {
	var urls []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return ctx.Err()
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		f, err := os.Open(path) // #nosec G304 - path is inside the committed output tree
		if err != nil {
			return fmt.Errorf("open %s: %w", rel, err)
		}
		defer func() { _ = f.Close() }()

		key := strings.TrimPrefix(prefix+"/"+filepath.ToSlash(rel), "/")
		url, err := s.Mirror(ctx, key, f)
		if err != nil {
			return err
		}
		urls = append(urls, url)
		return nil
	})
	if err != nil {
		return urls, fmt.Errorf("mirror %s: %w", dir, err)
	}
	return urls, nil
}

// Verify interface implementation at compile time.
var _ Storage = (*LocalStorage)(nil)
