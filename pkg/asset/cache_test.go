package asset

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hatPNG(t testing.TB, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

type assetServer struct {
	*httptest.Server
	hits   atomic.Int32
	status atomic.Int32
}

func newAssetServer(t *testing.T, body []byte) *assetServer {
	t.Helper()
	s := &assetServer{}
	s.status.Store(http.StatusOK)
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(int(s.status.Load()))
		_, _ = w.Write(body)
	}))
	t.Cleanup(s.Close)
	return s
}

func TestGet_FetchesOnce(t *testing.T) {
	srv := newAssetServer(t, hatPNG(t, 64, 32))
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	c := NewCache(srv.URL+"/hat.png", WithClock(clock))

	a, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "image/png", a.MimeType)
	assert.Equal(t, 64, a.Width)
	assert.Equal(t, 32, a.Height)
	assert.Equal(t, clock.Now(), a.FetchedAt)

	for range 5 {
		again, err := c.Get(context.Background())
		require.NoError(t, err)
		assert.Same(t, a, again)
	}
	assert.Equal(t, int32(1), srv.hits.Load())
}

func TestGet_ReplaysFailure(t *testing.T) {
	srv := newAssetServer(t, []byte("not found"))
	srv.status.Store(http.StatusNotFound)

	var results []string
	c := NewCache(srv.URL, WithObserver(func(result string, d time.Duration) {
		results = append(results, result)
	}))

	_, err := c.Get(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)

	var assetErr *Error
	require.True(t, errors.As(err, &assetErr))
	assert.Equal(t, http.StatusNotFound, assetErr.StatusCode)
	assert.Contains(t, assetErr.Detail(), "404")

	// the server recovers, the cached failure still wins
	srv.status.Store(http.StatusOK)
	_, err = c.Get(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(1), srv.hits.Load())
	assert.Equal(t, []string{ResultFailure, ResultReplay}, results)
}

func TestReset_Refetches(t *testing.T) {
	srv := newAssetServer(t, hatPNG(t, 8, 8))
	srv.status.Store(http.StatusServiceUnavailable)
	c := NewCache(srv.URL)

	_, err := c.Get(context.Background())
	require.Error(t, err)

	srv.status.Store(http.StatusOK)
	c.Reset()

	a, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, a.Width)
	assert.Equal(t, int32(2), srv.hits.Load())
}

func TestReset_DuringFetchDiscardsStaleResult(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var hits atomic.Int32
	var status atomic.Int32
	status.Store(http.StatusServiceUnavailable)
	body := hatPNG(t, 6, 6)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := int(status.Load())
		if hits.Add(1) == 1 {
			started <- struct{}{}
			<-release
		}
		w.WriteHeader(code)
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)

	c := NewCache(srv.URL)

	done := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background())
		done <- err
	}()
	<-started

	status.Store(http.StatusOK)
	c.Reset()
	close(release)
	require.Error(t, <-done)

	a, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, a.Width)
	assert.Equal(t, int32(2), hits.Load())
}

func TestGet_FileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hat.png")
	require.NoError(t, os.WriteFile(path, hatPNG(t, 20, 10), 0o644))

	a, err := NewCache(path).Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "image/png", a.MimeType)
	assert.Equal(t, 20, a.Width)
	assert.Equal(t, 10, a.Height)

	_, err = NewCache(filepath.Join(t.TempDir(), "missing.png")).Get(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestGet_UndecodableAsset(t *testing.T) {
	srv := newAssetServer(t, []byte("<html>oops</html>"))

	_, err := NewCache(srv.URL).Get(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestGet_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewCache(url, WithTimeout(time.Second)).Get(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestGet_ConcurrentColdStart(t *testing.T) {
	release := make(chan struct{})
	var hits atomic.Int32
	body := hatPNG(t, 4, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)

	c := NewCache(srv.URL)

	var wg sync.WaitGroup
	results := make([]error, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = c.Get(context.Background())
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range results {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestGet_CanceledCallerDoesNotPoisonCache(t *testing.T) {
	release := make(chan struct{})
	body := hatPNG(t, 4, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)

	c := NewCache(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(release)
	a, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, a.Width)
}
