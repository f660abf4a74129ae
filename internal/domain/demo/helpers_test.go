package demo

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/edumarques81/bandfront-demo-service/internal/audio"
	"github.com/edumarques81/bandfront-demo-service/internal/domain/catalog"
	"github.com/edumarques81/bandfront-demo-service/internal/infra/cache"
	"github.com/edumarques81/bandfront-demo-service/internal/infra/fetch"
	"github.com/edumarques81/bandfront-demo-service/internal/infra/mp3cut"
)

const frameSize = 417

// mp3Bytes is n silent MPEG-1 Layer III frames (128 kbps, 44.1 kHz).
func mp3Bytes(n int) []byte {
	var buf bytes.Buffer
	for i := 0; i < n; i++ {
		frame := make([]byte, frameSize)
		copy(frame, []byte{0xFF, 0xFB, 0x90, 0x00})
		buf.Write(frame)
	}
	return buf.Bytes()
}

// countingFetcher wraps a fetcher and counts calls.
type countingFetcher struct {
	next  Fetcher
	calls atomic.Int32
	gate  chan struct{}
}

func (f *countingFetcher) Fetch(ctx context.Context, source, dst string) (int64, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	return f.next.Fetch(ctx, source, dst)
}

// failingFetcher fails the test when used.
type failingFetcher struct{ t *testing.T }

func (f failingFetcher) Fetch(ctx context.Context, source, dst string) (int64, error) {
	f.t.Errorf("unexpected fetch of %s", source)
	return 0, errors.New("fetch not allowed")
}

// fakeFFmpeg simulates ffmpeg: the cut writes the first seconds*bytesPerSecond
// bytes of the source.
type fakeFFmpeg struct {
	available bool
	duration  time.Duration
	probeErr  error
	cutErr    error

	mu      sync.Mutex
	seconds []int
}

const fakeBytesPerSecond = 1000

func (f *fakeFFmpeg) Available() bool { return f.available }

func (f *fakeFFmpeg) Probe(ctx context.Context, src string) (time.Duration, error) {
	return f.duration, f.probeErr
}

func (f *fakeFFmpeg) Cut(ctx context.Context, src, dst string, seconds int, watermark string) error {
	f.mu.Lock()
	f.seconds = append(f.seconds, seconds)
	f.mu.Unlock()
	if f.cutErr != nil {
		return f.cutErr
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	n := min(seconds*fakeBytesPerSecond, len(data))
	return os.WriteFile(dst, data[:n], 0o644)
}

func (f *fakeFFmpeg) cuts() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.seconds...)
}

// panickingCutter stands in for a cutter that blows up.
type panickingCutter struct{}

func (panickingCutter) CutPercent(src, dst string, percent int) (*mp3cut.Result, error) {
	panic("corrupt frame table")
}

// origin serves files by path and counts requests.
type origin struct {
	*httptest.Server
	hits atomic.Int32
}

func newOrigin(t *testing.T, files map[string][]byte) *origin {
	t.Helper()
	o := &origin{}
	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.hits.Add(1)
		body, ok := files[r.URL.Path]
		if !ok {
			http.Error(w, "<html><body>boom</body></html>", http.StatusInternalServerError)
			return
		}
		w.Write(body)
	}))
	t.Cleanup(o.Close)
	return o
}

type fixture struct {
	t         *testing.T
	uploads   string
	layout    *Layout
	catalog   *catalog.Service
	ledger    *CacheLedger
	validator *Validator
	fetcher   Fetcher
	ffmpeg    FFmpeg
	cutter    Cutter
	raw       RawTruncator
	hooks     Hooks
	tracker   Tracker
	defaults  catalog.Defaults

	disableRedirect bool
	defaultExt      bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	db := cache.NewDB(filepath.Join(dir, "test.db"))
	require.NoError(t, db.Open())
	t.Cleanup(func() { db.Close() })

	uploads := filepath.Join(dir, "uploads")
	return &fixture{
		t:        t,
		uploads:  uploads,
		layout:   NewLayout(uploads, "/uploads"),
		ledger:   NewCacheLedger(db),
		fetcher:  fetch.NewFetcher(fetch.WithTimeout(5 * time.Second)),
		cutter:   mp3cut.NewCutter(""),
		defaults: catalog.Defaults{DemoEnabled: true, DemoPercent: 50, PurchasedExempt: true},
	}
}

func (f *fixture) service() *Service {
	f.t.Helper()
	store := catalog.NewCacheStore(cache.NewDAO(f.ledger.db))
	f.catalog = catalog.NewService(store, f.defaults)
	f.validator = NewValidator(f.ledger, 16, time.Minute)
	return NewService(Config{
		Layout:    f.layout,
		Validator: f.validator,
		Ledger:    f.ledger,
		Catalog:   f.catalog,
		Fetcher:   f.fetcher,
		Truncator: NewTruncator(TruncatorConfig{
			FFmpeg:     f.ffmpeg,
			Cutter:     f.cutter,
			Raw:        f.raw,
			FFmpegTime: f.hooks.FFmpegTime,
		}),
		Classifier:      audio.NewClassifier(f.defaultExt),
		Tracker:         f.tracker,
		Hooks:           f.hooks,
		DisableRedirect: f.disableRedirect,
	})
}

func (f *fixture) addProduct(id int64, files ...catalog.File) {
	f.t.Helper()
	require.NoError(f.t, f.catalog.SaveProduct(context.Background(), &catalog.Product{
		ID:    id,
		Title: "Product",
		Files: files,
	}))
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	return info.Size()
}
