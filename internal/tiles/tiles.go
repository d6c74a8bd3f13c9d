// Package tiles provides a bounded spectrogram tile cache for interactive
// zoom and pan. Reads never wait for rendering: a miss schedules a background
// render and immediately returns a substitute tile.
package tiles

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// Scale modes for the frequency axis.
const (
	ScaleLinear = "linear"
	ScaleLog    = "log"
)

// Colour maps.
const (
	ColorMapGray    = "gray"
	ColorMapViridis = "viridis"
)

// Defaults for NewCache.
const (
	DefaultCapacity  = 64
	DefaultWorkers   = 2
	MaxWorkers       = 8
	DefaultQueueSize = 128
	DefaultWidth     = 512
	DefaultHeight    = 256
)

// placeholderColor fills blank tiles.
var placeholderColor = color.Gray{Y: 16}

// ErrInvalidKey is returned for keys with an empty time range or an unknown
// scale or colour map.
var ErrInvalidKey = errors.New("invalid tile key")

// Key identifies one rendered tile.
type Key struct {
	Start    float64
	End      float64
	Zoom     int
	Scale    string
	ColorMap string
}

// Validate checks that k can be rendered.
func (k Key) Validate() error {
	if math.IsNaN(k.Start) || math.IsNaN(k.End) || k.Start < 0 || k.End <= k.Start {
		return fmt.Errorf("%w: range [%g, %g)", ErrInvalidKey, k.Start, k.End)
	}
	if k.Zoom < 0 {
		return fmt.Errorf("%w: zoom %d", ErrInvalidKey, k.Zoom)
	}
	if k.Scale != ScaleLinear && k.Scale != ScaleLog {
		return fmt.Errorf("%w: scale %q", ErrInvalidKey, k.Scale)
	}
	if k.ColorMap != ColorMapGray && k.ColorMap != ColorMapViridis {
		return fmt.Errorf("%w: colour map %q", ErrInvalidKey, k.ColorMap)
	}
	return nil
}

func (k Key) sameView(o Key) bool {
	return k.Start == o.Start && k.End == o.End && k.Scale == o.Scale && k.ColorMap == o.ColorMap
}

// Tile is a rendered image, or a stand-in while the real one renders.
type Tile struct {
	Key         Key
	Image       image.Image
	Placeholder bool
}

// Renderer produces the image for a key.
type Renderer interface {
	Render(ctx context.Context, key Key) (image.Image, error)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, key Key) (image.Image, error)

// Render calls f.
func (f RendererFunc) Render(ctx context.Context, key Key) (image.Image, error) {
	return f(ctx, key)
}

// Cache is a fixed-capacity LRU of rendered tiles served by a pool of render
// workers. It is safe for concurrent use.
type Cache struct {
	renderer Renderer
	logger   *slog.Logger
	onReady  func(Tile)

	capacity  int
	workers   int
	queueSize int
	width     int
	height    int

	// mu makes a lookup and its render scheduling atomic and serialises
	// every change to the LRU order.
	mu      sync.Mutex
	lru     *lru.Cache
	pending map[Key]struct{}

	requests chan Key
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	closed   bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithCapacity sets the maximum number of cached tiles.
func WithCapacity(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithWorkers sets the number of render workers, clamped to 1..MaxWorkers.
func WithWorkers(n int) Option {
	return func(c *Cache) {
		c.workers = max(1, min(n, MaxWorkers))
	}
}

// WithQueueSize sets how many renders may wait for a worker. Requests beyond
// it are dropped and retried on the next Get.
func WithQueueSize(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithPlaceholderSize sets the dimensions of blank placeholder tiles.
func WithPlaceholderSize(width, height int) Option {
	return func(c *Cache) {
		if width > 0 && height > 0 {
			c.width, c.height = width, height
		}
	}
}

// WithOnReady registers a callback invoked from a worker after each render.
func WithOnReady(fn func(Tile)) Option {
	return func(c *Cache) {
		c.onReady = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCache creates a tile cache and starts its render workers. Call Close to
// stop them.
func NewCache(renderer Renderer, opts ...Option) (*Cache, error) {
	if renderer == nil {
		return nil, errors.New("tile renderer is required")
	}
	c := &Cache{
		renderer:  renderer,
		logger:    slog.Default(),
		capacity:  DefaultCapacity,
		workers:   DefaultWorkers,
		queueSize: DefaultQueueSize,
		width:     DefaultWidth,
		height:    DefaultHeight,
		pending:   make(map[Key]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	core, err := lru.NewWithEvict(c.capacity, func(k, _ interface{}) {
		c.logger.Debug("tile evicted", slog.Any("key", k))
	})
	if err != nil {
		return nil, fmt.Errorf("create tile lru: %w", err)
	}
	c.lru = core

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.requests = make(chan Key, c.queueSize)
	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx)
	}
	return c, nil
}

// Close stops the workers and waits for in-progress renders to return.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

// Capacity returns the maximum number of tiles held.
func (c *Cache) Capacity() int {
	return c.capacity
}

// Get returns the cached tile for key and marks it most recently used. On a
// miss it schedules a render and returns a substitute with ok false: the
// cached tile for the same view at the nearest lower zoom if there is one,
// otherwise a blank placeholder. Get never blocks on rendering.
func (c *Cache) Get(key Key) (Tile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.lru.Get(key); ok {
		return v.(Tile), true
	}
	c.enqueueLocked(key)

	if sub, ok := c.substituteLocked(key); ok {
		return Tile{Key: key, Image: sub.Image, Placeholder: true}, false
	}
	return Tile{Key: key, Image: c.blank(), Placeholder: true}, false
}

// Put stores a rendered tile, evicting the least recently used one when the
// cache is full.
func (c *Cache) Put(key Key, tile Tile) {
	tile.Key = key
	tile.Placeholder = false

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Add(key, tile)
	delete(c.pending, key)
}

// Prefetch schedules renders for the windows of equal width on either side of
// key. Tiles already cached or pending are left alone and their recency is
// not changed.
func (c *Cache) Prefetch(key Key) {
	width := key.End - key.Start
	if width <= 0 {
		return
	}
	neighbours := []Key{key, key}
	neighbours[0].Start, neighbours[0].End = key.Start-width, key.Start
	neighbours[1].Start, neighbours[1].End = key.End, key.End+width

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range neighbours {
		if k.Start < 0 || c.lru.Contains(k) {
			continue
		}
		c.enqueueLocked(k)
	}
}

// Len returns the number of cached tiles.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Keys returns the cached keys from least to most recently used.
func (c *Cache) Keys() []Key {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw := c.lru.Keys()
	keys := make([]Key, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, k.(Key))
	}
	return keys
}

// Pending reports whether a render for key is queued or running.
func (c *Cache) Pending(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[key]
	return ok
}

func (c *Cache) enqueueLocked(key Key) {
	if c.closed {
		return
	}
	if _, ok := c.pending[key]; ok {
		return
	}
	if err := key.Validate(); err != nil {
		c.logger.Debug("tile not scheduled", slog.String("error", err.Error()))
		return
	}
	select {
	case c.requests <- key:
		c.pending[key] = struct{}{}
	default:
		c.logger.Debug("tile render queue full", slog.Any("key", key))
	}
}

// substituteLocked finds the highest-zoom cached tile of the same view below
// key's zoom. It peeks so the substitute's recency is unchanged.
func (c *Cache) substituteLocked(key Key) (Tile, bool) {
	var best Tile
	found := false
	for _, k := range c.lru.Keys() {
		ck := k.(Key)
		if !ck.sameView(key) || ck.Zoom >= key.Zoom {
			continue
		}
		if found && ck.Zoom <= best.Key.Zoom {
			continue
		}
		if v, ok := c.lru.Peek(ck); ok {
			best = v.(Tile)
			found = true
		}
	}
	return best, found
}

func (c *Cache) blank() image.Image {
	img := image.NewGray(image.Rect(0, 0, c.width, c.height))
	for i := range img.Pix {
		img.Pix[i] = placeholderColor.Y
	}
	return img
}

func (c *Cache) worker(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case key := <-c.requests:
			c.render(ctx, key)
		}
	}
}

func (c *Cache) render(ctx context.Context, key Key) {
	img, err := c.renderer.Render(ctx, key)
	if err != nil {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
		if ctx.Err() == nil {
			c.logger.Warn("tile render failed",
				slog.Any("key", key),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	tile := Tile{Key: key, Image: img}
	c.Put(key, tile)
	if c.onReady != nil {
		c.onReady(tile)
	}
}
