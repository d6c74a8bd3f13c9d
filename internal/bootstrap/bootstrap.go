// Package bootstrap provides dependency initialization for samplepacker.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maauso/samplepacker/internal/audio"
	"github.com/maauso/samplepacker/internal/batch"
	"github.com/maauso/samplepacker/internal/cache"
	"github.com/maauso/samplepacker/internal/config"
	"github.com/maauso/samplepacker/internal/export"
	"github.com/maauso/samplepacker/internal/job"
	"github.com/maauso/samplepacker/internal/media"
	"github.com/maauso/samplepacker/internal/storage"
	"github.com/maauso/samplepacker/internal/tiles"
)

// Dependencies holds the long-lived collaborators shared by every command.
type Dependencies struct {
	Config     *config.Config
	Logger     *slog.Logger
	Cache      *cache.AudioCache
	Transcoder *audio.FFmpegTranscoder
	Clipper    *media.FFmpegClipper
	Storage    storage.Storage
	Jobs       job.Repository
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Initialize storage
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	// Initialize the audio cache
	cacheDir := cfg.ResolvedCacheDir()
	ac, err := cache.Open(cacheDir,
		cache.WithMaxBytes(cfg.CacheMaxBytes),
		cache.WithTTL(cfg.CacheTTL),
		cache.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("open audio cache: %w", err)
	}
	logger.Debug("audio cache opened",
		slog.String("dir", cacheDir),
		slog.Int64("max_bytes", cfg.CacheMaxBytes),
		slog.Duration("ttl", cfg.CacheTTL),
	)

	return &Dependencies{
		Config:     cfg,
		Logger:     logger,
		Cache:      ac,
		Transcoder: audio.NewFFmpegTranscoder(cfg.FFmpegPath),
		Clipper:    media.NewFFmpegClipper(cfg.FFmpegPath),
		Storage:    store,
		Jobs:       job.NewMemoryRepository(),
	}, nil
}

// Close releases the audio cache.
func (d *Dependencies) Close() error {
	return d.Cache.Close()
}

// StartPruner prunes the audio cache on the configured interval until ctx
// is cancelled.
func (d *Dependencies) StartPruner(ctx context.Context) {
	d.Cache.StartPruner(ctx, d.Config.CachePruneInterval)
}

// ExportOptions selects what the exporter writes besides the marker files.
type ExportOptions struct {
	// Template is the sample file name template. Empty uses the default.
	Template string
	// Samples enables cutting one audio clip per segment.
	Samples bool
	Clip    media.ClipOpts
}

// NewExporter builds an exporter over the configured storage. Outputs are
// mirrored to S3 when it is configured.
func (d *Dependencies) NewExporter(o ExportOptions) (*export.Exporter, error) {
	opts := []export.Option{
		export.WithLogger(d.Logger),
		export.WithMirror(d.Config.S3Enabled()),
	}
	if o.Template != "" {
		tmpl, err := export.ParseTemplate(o.Template)
		if err != nil {
			return nil, err
		}
		opts = append(opts, export.WithTemplate(tmpl))
	}
	if o.Samples {
		if err := o.Clip.Validate(); err != nil {
			return nil, err
		}
		opts = append(opts, export.WithSamples(d.Clipper, o.Clip))
	}
	return export.NewExporter(d.Storage, opts...), nil
}

// NewRunner builds a batch runner writing through e. Config.Jobs, when set,
// is applied before opts so command flags can override it.
func (d *Dependencies) NewRunner(e *export.Exporter, opts ...batch.Option) *batch.Runner {
	base := []batch.Option{
		batch.WithLogger(d.Logger),
		batch.WithRepository(d.Jobs),
	}
	if d.Config.Jobs > 0 {
		base = append(base, batch.WithJobs(d.Config.Jobs))
	}
	return batch.NewRunner(d.Cache, d.Transcoder, e, append(base, opts...)...)
}

// NewTileCache builds a spectrogram tile cache over decoded audio, sized
// from the configuration.
func (d *Dependencies) NewTileCache(pcm audio.PCM, width, height int, opts ...tiles.Option) (*tiles.Cache, error) {
	base := []tiles.Option{
		tiles.WithCapacity(d.Config.TileCapacity),
		tiles.WithWorkers(d.Config.TileWorkers),
		tiles.WithPlaceholderSize(width, height),
		tiles.WithLogger(d.Logger),
	}
	return tiles.NewCache(tiles.NewSpectrogramRenderer(pcm, width, height), append(base, opts...)...)
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Prefix:          cfg.S3Prefix,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.OutputDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 mirror configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
			slog.String("output_dir", cfg.OutputDir),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Debug("local storage configured",
		slog.String("output_dir", cfg.OutputDir),
	)
	return localStore, nil
}
