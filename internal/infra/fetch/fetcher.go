// Package fetch copies product audio into the demo cache, from the local
// filesystem when the source resolves to a local file and over HTTP otherwise.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultTimeout bounds a remote fetch end to end.
	DefaultTimeout = 240 * time.Second

	// DefaultUserAgent identifies the fetcher to origin servers.
	DefaultUserAgent = "Bandfront/1.0 (+demo fetcher)"
)

var (
	// ErrSourceUnreachable is returned when a remote source cannot be fetched.
	ErrSourceUnreachable = errors.New("source unreachable")
	// ErrUnsupportedSource is returned for sources that are neither local
	// files nor http(s) URLs.
	ErrUnsupportedSource = errors.New("unsupported source")
)

// IsLocalHook may override the local resolution of source. It receives the
// fetcher's own decision and returns the final one.
type IsLocalHook func(source, path string, ok bool) (string, bool)

// Fetcher resolves and copies audio sources.
type Fetcher struct {
	httpClient *http.Client
	userAgent  string
	siteURL    string
	siteRoot   string
	publicURL  string
	uploadDir  string
	isLocal    IsLocalHook
}

// Option is a functional option for configuring the Fetcher.
type Option func(*Fetcher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		f.httpClient = client
	}
}

// WithTimeout sets the remote fetch timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.httpClient.Timeout = d
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		f.userAgent = ua
	}
}

// WithSiteRoot maps URLs under siteURL onto files under root.
func WithSiteRoot(siteURL, root string) Option {
	return func(f *Fetcher) {
		f.siteURL = strings.TrimRight(siteURL, "/")
		f.siteRoot = root
	}
}

// WithUploads maps URLs under publicURL onto files under dir.
func WithUploads(publicURL, dir string) Option {
	return func(f *Fetcher) {
		f.publicURL = strings.TrimRight(publicURL, "/")
		f.uploadDir = dir
	}
}

// WithIsLocalHook installs a hook consulted after local resolution.
func WithIsLocalHook(hook IsLocalHook) Option {
	return func(f *Fetcher) {
		f.isLocal = hook
	}
}

// NewFetcher creates a new fetcher.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		userAgent:  DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ResolveLocal returns the filesystem path behind source when the source is
// a local file: a file:// URL, an absolute path, or a URL under the site or
// upload prefixes.
func (f *Fetcher) ResolveLocal(source string) (string, bool) {
	path, ok := f.resolveLocal(source)
	if f.isLocal != nil {
		path, ok = f.isLocal(source, path, ok)
	}
	return path, ok
}

func (f *Fetcher) resolveLocal(source string) (string, bool) {
	if source == "" {
		return "", false
	}

	if strings.HasPrefix(source, "file://") {
		if u, err := url.Parse(source); err == nil {
			return existingFile(u.Path)
		}
		return "", false
	}

	if filepath.IsAbs(source) {
		if path, ok := existingFile(source); ok {
			return path, true
		}
	}

	// The upload prefix is usually nested inside the site prefix, so it
	// is tried first.
	if path, ok := underPrefix(source, f.publicURL, f.uploadDir); ok {
		return path, true
	}
	if path, ok := underPrefix(source, f.siteURL, f.siteRoot); ok {
		return path, true
	}
	return "", false
}

// underPrefix maps source onto root when it starts with prefix. Query
// strings are dropped and the result must stay inside root.
func underPrefix(source, prefix, root string) (string, bool) {
	if prefix == "" || root == "" || !strings.HasPrefix(source, prefix+"/") {
		return "", false
	}
	rel := strings.TrimPrefix(source, prefix)
	if i := strings.IndexAny(rel, "?#"); i >= 0 {
		rel = rel[:i]
	}
	if unescaped, err := url.PathUnescape(rel); err == nil {
		rel = unescaped
	}

	root = filepath.Clean(root)
	path := filepath.Join(root, filepath.FromSlash(rel))
	if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
		return "", false
	}
	return existingFile(path)
}

func existingFile(path string) (string, bool) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", false
	}
	return path, true
}

// IsRemote reports whether source is an http(s) URL.
func IsRemote(source string) bool {
	u, err := url.Parse(source)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Fetch copies source to dst and returns the number of bytes written. dst
// only appears once the copy is complete; on failure nothing is left there.
func (f *Fetcher) Fetch(ctx context.Context, source, dst string) (int64, error) {
	if path, ok := f.ResolveLocal(source); ok {
		return f.copyLocal(path, dst)
	}
	if !IsRemote(source) {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedSource, source)
	}
	return f.fetchRemote(ctx, source, dst)
}

func (f *Fetcher) copyLocal(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open local source: %w", err)
	}
	defer in.Close()

	n, err := writeAtomic(dst, in)
	if err != nil {
		return 0, err
	}

	log.Debug().
		Str("src", src).
		Str("size", humanize.Bytes(uint64(n))).
		Msg("Copied local source")
	return n, nil
}

func (f *Fetcher) fetchRemote(ctx context.Context, source, dst string) (int64, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: create request: %v", ErrSourceUnreachable, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSourceUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: status %d", ErrSourceUnreachable, resp.StatusCode)
	}

	n, err := writeAtomic(dst, resp.Body)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSourceUnreachable, err)
	}

	log.Info().
		Str("url", source).
		Str("size", humanize.Bytes(uint64(n))).
		Dur("took", time.Since(start)).
		Msg("Fetched remote source")
	return n, nil
}

// writeAtomic streams r into a temporary file next to dst and renames it
// into place once fully written and synced.
func writeAtomic(dst string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("create directory: %w", err)
	}

	tmp := filepath.Join(filepath.Dir(dst), ".fetch-"+uuid.NewString())
	out, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}

	n, err := io.Copy(out, r)
	if err == nil {
		err = out.Sync()
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("write %s: %w", dst, err)
	}

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("rename into place: %w", err)
	}
	return n, nil
}
