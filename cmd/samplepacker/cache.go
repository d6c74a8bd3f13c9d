package main

import (
	"github.com/maauso/samplepacker/internal/cli"
)

// CacheCmd groups audio cache maintenance.
type CacheCmd struct {
	Prune CachePruneCmd `cmd:"" help:"Remove expired entries and shrink the cache to its size budget."`
	Stats CacheStatsCmd `cmd:"" help:"Show cache size and hit counts."`
}

// CachePruneCmd runs one prune pass.
type CachePruneCmd struct{}

// Run prunes and prints what was removed.
func (c *CachePruneCmd) Run(app *App) error {
	deps, err := app.Deps()
	if err != nil {
		return err
	}
	st, err := deps.Cache.Prune(app.ctx)
	if err != nil {
		return err
	}
	cli.PrintPruneStats(app.stdout, st)
	return nil
}

// CacheStatsCmd prints the cache statistics.
type CacheStatsCmd struct{}

// Run prints the statistics.
func (c *CacheStatsCmd) Run(app *App) error {
	deps, err := app.Deps()
	if err != nil {
		return err
	}
	st, err := deps.Cache.Stats()
	if err != nil {
		return err
	}
	cli.PrintCacheStats(app.stdout, deps.Cache.Dir(), st)
	return nil
}
