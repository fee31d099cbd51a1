// Package asset loads the hat overlay graphic once and keeps it for the
// lifetime of the process.
package asset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/singleflight"

	"github.com/menta2k/hat-overlay/pkg/types"
)

const (
	DefaultTimeout = 15 * time.Second
	maxAssetBytes  = 20 << 20
)

// Fetch outcomes reported to the observer
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultReplay  = "replay"
)

// ErrUnavailable matches every asset fetch failure
var ErrUnavailable = errors.New("hat asset unavailable")

// Error is a failed asset fetch. StatusCode is set when the remote answered non-2xx.
type Error struct {
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	return "hat asset unavailable: " + e.Detail()
}

// Detail describes the failure without the sentinel prefix
func (e *Error) Detail() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream status %d", e.StatusCode)
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unknown error"
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrUnavailable }

// Observer receives the outcome and latency of each Get that did work
type Observer func(result string, d time.Duration)

type entry struct {
	asset *types.OverlayAsset
	err   error
}

// Cache holds the overlay asset. The first completed fetch wins; its result,
// success or failure, is returned to every later caller until Reset.
type Cache struct {
	source     string
	httpClient *http.Client
	clock      clockwork.Clock
	timeout    time.Duration
	observer   Observer

	state atomic.Pointer[entry]
	// gen changes on every Reset; fetches started under an older gen are not stored
	gen   atomic.Uint64
	group singleflight.Group
}

// Option configures a Cache
type Option func(*Cache)

// WithHTTPClient sets the client used for URL sources
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Cache) { c.httpClient = hc }
}

// WithClock sets the clock used for fetch timestamps and latency
func WithClock(clock clockwork.Clock) Option {
	return func(c *Cache) { c.clock = clock }
}

// WithTimeout bounds a single fetch
func WithTimeout(d time.Duration) Option {
	return func(c *Cache) { c.timeout = d }
}

// WithObserver reports fetch outcomes, typically to metrics
func WithObserver(o Observer) Option {
	return func(c *Cache) { c.observer = o }
}

// NewCache creates a cache for source, an http(s) URL or a file path
func NewCache(source string, opts ...Option) *Cache {
	c := &Cache{
		source:     source,
		httpClient: http.DefaultClient,
		clock:      clockwork.NewRealClock(),
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Source returns where the asset is loaded from
func (c *Cache) Source() string {
	return c.source
}

// Get returns the overlay asset, fetching it on first use.
// ctx only bounds how long this caller waits; the shared fetch keeps running.
func (c *Cache) Get(ctx context.Context) (*types.OverlayAsset, error) {
	if e := c.state.Load(); e != nil {
		if e.err != nil {
			c.observe(ResultReplay, 0)
		}
		return e.asset, e.err
	}

	gen := c.gen.Load()
	ch := c.group.DoChan("asset:"+strconv.FormatUint(gen, 10), func() (any, error) {
		if e := c.state.Load(); e != nil {
			return e, nil
		}
		e := c.fetch(context.WithoutCancel(ctx))
		if c.gen.Load() != gen {
			return e, nil
		}
		if c.state.CompareAndSwap(nil, e) {
			// a Reset that raced the store wins
			if c.gen.Load() != gen {
				c.state.CompareAndSwap(e, nil)
			}
			return e, nil
		}
		if cur := c.state.Load(); cur != nil {
			e = cur
		}
		return e, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		e := res.Val.(*entry)
		return e.asset, e.err
	}
}

// Reset drops the stored result so the next Get fetches again
func (c *Cache) Reset() {
	c.gen.Add(1)
	c.state.Store(nil)
}

// Check is a readiness probe: it succeeds when the asset is available
func (c *Cache) Check(ctx context.Context) error {
	_, err := c.Get(ctx)
	return err
}

func (c *Cache) fetch(ctx context.Context) *entry {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := c.clock.Now()
	asset, err := c.load(ctx)
	elapsed := c.clock.Since(start)

	if err != nil {
		slog.ErrorContext(ctx, "Hat asset fetch failed", "source", c.source, "error", err, "duration", elapsed)
		c.observe(ResultFailure, elapsed)
		return &entry{err: err}
	}

	slog.InfoContext(ctx, "Hat asset loaded",
		"source", c.source, "mime_type", asset.MimeType,
		"width", asset.Width, "height", asset.Height, "bytes", len(asset.Data), "duration", elapsed)
	c.observe(ResultSuccess, elapsed)
	return &entry{asset: asset}
}

func (c *Cache) load(ctx context.Context) (*types.OverlayAsset, error) {
	var (
		data     []byte
		mimeType string
		err      error
	)
	if strings.HasPrefix(c.source, "http://") || strings.HasPrefix(c.source, "https://") {
		data, mimeType, err = c.loadURL(ctx)
	} else {
		data, err = os.ReadFile(strings.TrimPrefix(c.source, "file://"))
		if err != nil {
			err = &Error{Err: fmt.Errorf("read %s: %w", c.source, err)}
		}
	}
	if err != nil {
		return nil, err
	}

	if mimeType == "" || !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &Error{Err: fmt.Errorf("decode: %w", err)}
	}

	return &types.OverlayAsset{
		Data:      data,
		MimeType:  mimeType,
		Width:     cfg.Width,
		Height:    cfg.Height,
		FetchedAt: c.clock.Now(),
	}, nil
}

func (c *Cache) loadURL(ctx context.Context) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.source, nil)
	if err != nil {
		return nil, "", &Error{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", "hat-overlay/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", &Error{Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", &Error{StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes))
	if err != nil {
		return nil, "", &Error{Err: fmt.Errorf("read body: %w", err)}
	}

	mimeType, _, _ := strings.Cut(resp.Header.Get("Content-Type"), ";")
	return data, strings.TrimSpace(mimeType), nil
}

func (c *Cache) observe(result string, d time.Duration) {
	if c.observer != nil {
		c.observer(result, d)
	}
}
