package cache

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// PruneStats reports one prune pass.
type PruneStats struct {
	Expired    int   `json:"expired"`
	Evicted    int   `json:"evicted"`
	Dropped    int   `json:"dropped"`
	Skipped    int   `json:"skipped"`
	FreedBytes int64 `json:"freed_bytes"`
	Remaining  int   `json:"remaining"`
	TotalBytes int64 `json:"total_bytes"`
}

// Prune removes entries older than the TTL, then removes the least recently
// accessed entries until the total size is within the byte budget. Entries
// whose key is in flight are never removed.
func (c *AudioCache) Prune(ctx context.Context) (PruneStats, error) {
	var st PruneStats

	entries, bad, err := c.idx.list()
	if err != nil {
		return st, err
	}
	for _, key := range bad {
		c.logger.Warn("dropping unreadable cache index record", slog.String("key", key))
		c.evict(key, "")
		st.Dropped++
	}

	now := c.now()
	kept := entries[:0]
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		if c.ttl > 0 && now.Sub(e.CreatedAt) > c.ttl {
			if c.remove(e) {
				st.Expired++
				st.FreedBytes += e.Size
				continue
			}
			st.Skipped++
		}
		kept = append(kept, e)
	}

	var total int64
	for _, e := range kept {
		total += e.Size
	}

	if c.maxBytes > 0 && total > c.maxBytes {
		sort.SliceStable(kept, func(i, j int) bool {
			if !kept[i].AccessedAt.Equal(kept[j].AccessedAt) {
				return kept[i].AccessedAt.Before(kept[j].AccessedAt)
			}
			return kept[i].Key < kept[j].Key
		})

		survivors := kept[:0]
		for _, e := range kept {
			if err := ctx.Err(); err != nil {
				return st, err
			}
			if total > c.maxBytes {
				if c.remove(e) {
					st.Evicted++
					st.FreedBytes += e.Size
					total -= e.Size
					continue
				}
				st.Skipped++
			}
			survivors = append(survivors, e)
		}
		kept = survivors
	}

	st.Remaining = len(kept)
	st.TotalBytes = total

	c.logger.Info("cache pruned",
		slog.Int("expired", st.Expired),
		slog.Int("evicted", st.Evicted),
		slog.Int("dropped", st.Dropped),
		slog.Int("skipped", st.Skipped),
		slog.Int64("freed_bytes", st.FreedBytes),
		slog.Int("remaining", st.Remaining),
	)
	return st, nil
}

// remove evicts e unless its key is in flight. The in-flight map stays locked
// for the whole removal so a concurrent lookup cannot see a half-removed entry.
func (c *AudioCache) remove(e Entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inflight[e.Key] > 0 {
		return false
	}
	c.evict(e.Key, e.Path)
	return true
}

// StartPruner runs Prune every interval until ctx is cancelled. Close waits
// for it to stop.
func (c *AudioCache) StartPruner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	c.pruner.Add(1)
	go func() {
		defer c.pruner.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := c.Prune(ctx); err != nil && ctx.Err() == nil {
					c.logger.Error("scheduled cache prune failed", slog.String("error", err.Error()))
				}
			}
		}
	}()
}
