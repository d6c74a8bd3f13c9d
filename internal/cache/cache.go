// Package cache implements the content-addressed audio derivative cache.
//
// Entries are keyed by a hash of the source file content combined with the
// hash of the settings that affect decoding. At most one computation per key
// runs at a time; concurrent callers for the same key wait for it and share
// its result. Derivatives live as files in the cache directory, and a badger
// index under <dir>/index records their size, checksum and access times.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OneOfOne/xxhash"
	"github.com/dgraph-io/badger/v3"
	"golang.org/x/sync/singleflight"

	"github.com/maauso/samplepacker/internal/settings"
)

// Static errors for the cache.
var (
	// ErrCacheCorruption marks an entry whose file is missing, resized or
	// fails its checksum. Such entries are evicted and recomputed.
	ErrCacheCorruption = errors.New("cache corruption")
	// ErrComputeFailed is returned when the compute function fails or
	// produces no output.
	ErrComputeFailed = errors.New("cache compute failed")
)

// ComputeFunc writes the derivative for a miss to dst.
type ComputeFunc func(ctx context.Context, dst string) error

// Stats are cumulative counters since Open.
type Stats struct {
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	Computations int64 `json:"computations"`
	Corruptions  int64 `json:"corruptions"`
	Entries      int   `json:"entries"`
	Bytes        int64 `json:"bytes"`
}

// AudioCache is safe for concurrent use.
type AudioCache struct {
	dir    string
	idx    *index
	group  singleflight.Group
	logger *slog.Logger
	now    func() time.Time

	maxBytes int64
	ttl      time.Duration

	mu       sync.Mutex
	inflight map[string]int

	hits, misses, computations, corruptions atomic.Int64

	pruner sync.WaitGroup
}

// Option configures an AudioCache.
type Option func(*AudioCache)

// WithMaxBytes sets the total size budget enforced by Prune. Zero disables it.
func WithMaxBytes(n int64) Option {
	return func(c *AudioCache) {
		c.maxBytes = n
	}
}

// WithTTL sets the maximum entry age enforced by Prune. Zero disables it.
func WithTTL(d time.Duration) Option {
	return func(c *AudioCache) {
		c.ttl = d
	}
}

// WithLogger sets the logger for the cache and its badger index.
func WithLogger(l *slog.Logger) Option {
	return func(c *AudioCache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *AudioCache) {
		c.now = now
	}
}

// Open opens or creates a cache rooted at dir.
func Open(dir string, opts ...Option) (*AudioCache, error) {
	c := &AudioCache{
		dir:      dir,
		logger:   slog.Default(),
		now:      time.Now,
		inflight: make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	db, err := badger.Open(badger.DefaultOptions(filepath.Join(dir, "index")).WithLogger(newBadgerLogger(c.logger)))
	if err != nil {
		return nil, fmt.Errorf("open cache index: %w", err)
	}
	c.idx = &index{db: db}
	return c, nil
}

// Dir returns the cache root.
func (c *AudioCache) Dir() string {
	return c.dir
}

// Close waits for a running pruner to stop and closes the index.
// Cancel the pruner's context before calling Close.
func (c *AudioCache) Close() error {
	c.pruner.Wait()
	return c.idx.db.Close()
}

// HashFile returns the xxhash64 of a file's content.
func HashFile(path string) (uint64, int64, error) {
	f, err := os.Open(path) // #nosec G304 - path is a source or cache file chosen by the application
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = f.Close() }()

	h := xxhash.New64()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, 0, err
	}
	return h.Sum64(), n, nil
}

// Key returns the cache key for a source under the given settings.
func (c *AudioCache) Key(ctx context.Context, sourcePath string, s settings.ProcessingSettings) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sum, _, err := HashFile(sourcePath)
	if err != nil {
		return "", fmt.Errorf("hash source %s: %w", sourcePath, err)
	}
	return fmt.Sprintf("%016x%016x", sum, s.DecodeHash()), nil
}

// derivativePath returns where the derivative for key lives.
func (c *AudioCache) derivativePath(key string, sampleRate int) string {
	return filepath.Join(c.dir, fmt.Sprintf("%s_analysis_%d.wav", key, sampleRate))
}

// GetOrCompute returns the cached derivative for sourcePath, computing it on
// a miss. compute runs without any cache lock held.
func (c *AudioCache) GetOrCompute(ctx context.Context, sourcePath string, s settings.ProcessingSettings, compute ComputeFunc) (Entry, error) {
	return c.GetOrLoad(ctx, sourcePath, s, compute, nil)
}

// LoadFunc reads a derivative file. An error marks the file unreadable.
type LoadFunc func(path string) error

// GetOrLoad is GetOrCompute followed by load. The key stays in flight until
// load returns, so Prune cannot remove the file mid-read. An entry that load
// rejects is evicted and recomputed once; if the fresh derivative is rejected
// too, the error wraps both ErrCacheCorruption and the load error.
func (c *AudioCache) GetOrLoad(ctx context.Context, sourcePath string, s settings.ProcessingSettings, compute ComputeFunc, load LoadFunc) (Entry, error) {
	key, err := c.Key(ctx, sourcePath, s)
	if err != nil {
		return Entry{}, err
	}

	c.acquire(key)
	defer c.release(key)

	e, err := c.get(ctx, key, sourcePath, s, compute)
	if err != nil || load == nil {
		return e, err
	}
	loadErr := load(e.Path)
	if loadErr == nil {
		return e, nil
	}

	c.corruptions.Add(1)
	c.logger.Warn("evicting unreadable cache entry",
		slog.String("key", key),
		slog.String("path", e.Path),
		slog.String("error", loadErr.Error()),
	)
	c.discard(e)

	if e, err = c.get(ctx, key, sourcePath, s, compute); err != nil {
		return Entry{}, err
	}
	if loadErr = load(e.Path); loadErr != nil {
		c.discard(e)
		return Entry{}, fmt.Errorf("%w: %s unreadable after recompute: %w", ErrCacheCorruption, e.Path, loadErr)
	}
	return e, nil
}

// get returns the entry for key, joining or starting its computation. A
// waiter whose shared computation was cancelled by another caller retries
// with its own context.
func (c *AudioCache) get(ctx context.Context, key, sourcePath string, s settings.ProcessingSettings, compute ComputeFunc) (Entry, error) {
	if e, ok := c.lookup(key); ok {
		c.hits.Add(1)
		return e, nil
	}

	for {
		ch := c.group.DoChan(key, func() (any, error) {
			if e, ok := c.lookup(key); ok {
				return e, nil
			}
			c.misses.Add(1)
			return c.compute(ctx, key, sourcePath, s, compute)
		})

		var res singleflight.Result
		select {
		case res = <-ch:
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		}

		if res.Err == nil {
			if res.Shared {
				c.logger.Debug("shared in-flight cache computation", slog.String("key", key))
			}
			return res.Val.(Entry), nil
		}
		if res.Shared && ctx.Err() == nil && cancelled(res.Err) {
			c.logger.Debug("shared cache computation cancelled by another caller, retrying",
				slog.String("key", key),
			)
			continue
		}
		return Entry{}, res.Err
	}
}

func cancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// discard evicts e unless the index already records a different derivative
// for its key.
func (c *AudioCache) discard(e Entry) {
	cur, ok, err := c.idx.get(e.Key)
	if err == nil && (!ok || cur.Checksum != e.Checksum) {
		return
	}
	c.evict(e.Key, e.Path)
}

func (c *AudioCache) acquire(key string) {
	c.mu.Lock()
	c.inflight[key]++
	c.mu.Unlock()
}

func (c *AudioCache) release(key string) {
	c.mu.Lock()
	if c.inflight[key]--; c.inflight[key] <= 0 {
		delete(c.inflight, key)
	}
	c.mu.Unlock()
}

// lookup returns a verified entry and refreshes its access time. A corrupt
// entry is evicted and reported as a miss.
func (c *AudioCache) lookup(key string) (Entry, bool) {
	e, ok, err := c.idx.get(key)
	if err != nil {
		c.logger.Warn("cache index read failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		c.evict(key, "")
		return Entry{}, false
	}
	if !ok {
		return Entry{}, false
	}

	if err := verify(e); err != nil {
		c.corruptions.Add(1)
		c.logger.Warn("evicting corrupt cache entry",
			slog.String("key", key),
			slog.String("path", e.Path),
			slog.String("error", err.Error()),
		)
		c.evict(key, e.Path)
		return Entry{}, false
	}

	e.AccessedAt = c.now()
	if err := c.idx.put(e); err != nil {
		c.logger.Warn("cache access time not updated",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
	return e, true
}

// verify checks that the derivative file matches its index record.
func verify(e Entry) error {
	sum, size, err := HashFile(e.Path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCacheCorruption, err)
	}
	if size != e.Size {
		return fmt.Errorf("%w: size %d, expected %d", ErrCacheCorruption, size, e.Size)
	}
	if sum != e.Checksum {
		return fmt.Errorf("%w: checksum %016x, expected %016x", ErrCacheCorruption, sum, e.Checksum)
	}
	return nil
}

func (c *AudioCache) compute(ctx context.Context, key, sourcePath string, s settings.ProcessingSettings, compute ComputeFunc) (Entry, error) {
	c.computations.Add(1)
	start := c.now()

	tmp, err := os.CreateTemp(c.dir, key+"_*.partial")
	if err != nil {
		return Entry{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer func() { _ = os.Remove(tmpPath) }()

	if err := compute(ctx, tmpPath); err != nil {
		if ctx.Err() != nil {
			return Entry{}, ctx.Err()
		}
		return Entry{}, fmt.Errorf("%w: %w", ErrComputeFailed, err)
	}

	sum, size, err := HashFile(tmpPath)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: read output: %w", ErrComputeFailed, err)
	}
	if size == 0 {
		return Entry{}, fmt.Errorf("%w: empty output", ErrComputeFailed)
	}

	final := c.derivativePath(key, s.AnalysisSampleRate)
	if err := os.Rename(tmpPath, final); err != nil {
		return Entry{}, fmt.Errorf("store derivative: %w", err)
	}

	now := c.now()
	e := Entry{
		Key:          key,
		Path:         final,
		Source:       sourcePath,
		SettingsHash: fmt.Sprintf("%016x", s.DecodeHash()),
		SampleRate:   s.AnalysisSampleRate,
		Size:         size,
		Checksum:     sum,
		CreatedAt:    now,
		AccessedAt:   now,
	}
	if err := c.idx.put(e); err != nil {
		return Entry{}, fmt.Errorf("write index entry: %w", err)
	}

	c.logger.Debug("cache entry computed",
		slog.String("key", key),
		slog.String("source", sourcePath),
		slog.Int64("bytes", size),
		slog.Duration("elapsed", now.Sub(start)),
	)
	return e, nil
}

// evict removes an entry's file and index record.
func (c *AudioCache) evict(key, path string) {
	if path != "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			c.logger.Warn("cache file not removed",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
	}
	if err := c.idx.delete(key); err != nil {
		c.logger.Warn("cache index entry not removed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// Stats returns the counters and the current index totals.
func (c *AudioCache) Stats() (Stats, error) {
	entries, _, err := c.idx.list()
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		Computations: c.computations.Load(),
		Corruptions:  c.corruptions.Load(),
		Entries:      len(entries),
	}
	for _, e := range entries {
		st.Bytes += e.Size
	}
	return st, nil
}
