package main

import (
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"time"

	"github.com/maauso/samplepacker/internal/settings"
	"github.com/maauso/samplepacker/internal/tiles"
)

var errRenderFailed = errors.New("tile render failed")

// SpectrogramCmd renders one tile through the tile cache.
type SpectrogramCmd struct {
	File string `arg:"" type:"existingfile" help:"Audio file."`

	Start  float64       `help:"Start time in seconds." default:"0"`
	End    float64       `help:"End time in seconds. 0 means the end of the file." default:"0"`
	Zoom   int           `help:"Zoom level. Each step doubles the frequency resolution." default:"0"`
	Scale  string        `help:"Frequency axis." enum:"linear,log" default:"log"`
	Cmap   string        `help:"Colour map." enum:"gray,viridis" default:"viridis"`
	Width  int           `help:"Tile width in pixels." default:"1024"`
	Height int           `help:"Tile height in pixels." default:"256"`
	Out    string        `short:"o" required:"" type:"path" help:"PNG file to write."`
	Wait   time.Duration `help:"How long to wait for the render." default:"30s"`
}

// Run decodes the file through the audio cache, requests the tile and waits
// for the background render before writing it.
func (c *SpectrogramCmd) Run(app *App) error {
	deps, err := app.Deps()
	if err != nil {
		return err
	}
	pcm, err := analysisPCM(app.ctx, deps, c.File, settings.Default())
	if err != nil {
		return err
	}

	end := c.End
	if end <= 0 {
		end = pcm.Duration()
	}
	key := tiles.Key{Start: c.Start, End: end, Zoom: c.Zoom, Scale: c.Scale, ColorMap: c.Cmap}
	if err := key.Validate(); err != nil {
		return err
	}

	ready := make(chan tiles.Tile, 1)
	tc, err := deps.NewTileCache(pcm, c.Width, c.Height, tiles.WithOnReady(func(t tiles.Tile) {
		if t.Key == key {
			select {
			case ready <- t:
			default:
			}
		}
	}))
	if err != nil {
		return err
	}
	defer tc.Close()

	tile, ok := tc.Get(key)
	if !ok {
		if tile, err = c.await(app, tc, key, ready); err != nil {
			return err
		}
	}

	f, err := os.Create(c.Out) // #nosec G304 - output path chosen by the user
	if err != nil {
		return fmt.Errorf("create %s: %w", c.Out, err)
	}
	if err := png.Encode(f, tile.Image); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode png: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", c.Out, err)
	}
	app.logger.Info("spectrogram written",
		slog.String("file", c.Out),
		slog.Float64("start", key.Start),
		slog.Float64("end", key.End),
		slog.Int("fft_size", tiles.FFTSize(key.Zoom)),
	)
	return nil
}

// await blocks until key is rendered. A render that leaves the pending set
// without reaching the cache has failed.
func (c *SpectrogramCmd) await(app *App, tc *tiles.Cache, key tiles.Key, ready <-chan tiles.Tile) (tiles.Tile, error) {
	timeout := time.NewTimer(c.Wait)
	defer timeout.Stop()
	poll := time.NewTicker(50 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case t := <-ready:
			return t, nil
		case <-app.ctx.Done():
			return tiles.Tile{}, errCancelled
		case <-timeout.C:
			return tiles.Tile{}, fmt.Errorf("%w: no result after %s", errRenderFailed, c.Wait)
		case <-poll.C:
			if tc.Pending(key) {
				continue
			}
			if t, ok := tc.Get(key); ok {
				return t, nil
			}
			return tiles.Tile{}, fmt.Errorf("%w: see log for details", errRenderFailed)
		}
	}
}
