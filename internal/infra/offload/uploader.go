// Package offload pushes generated demo files to remote storage with plain
// HTTP PUT requests.
package offload

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
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/bandfront-demo-service/internal/audio"
)

const DefaultTimeout = 2 * time.Minute

var ErrUploadFailed = errors.New("offload: upload failed")

// Uploader PUTs files under a base URL.
type Uploader struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

type Option func(*Uploader)

func WithHTTPClient(hc *http.Client) Option {
	return func(u *Uploader) { u.httpClient = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(u *Uploader) {
		if d > 0 {
			u.timeout = d
		}
	}
}

// NewUploader creates an uploader targeting baseURL.
func NewUploader(baseURL string, opts ...Option) *Uploader {
	u := &Uploader{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: http.DefaultClient,
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upload sends localPath to {baseURL}/{name} and returns the remote URL.
// A Location header in the response overrides the computed URL.
func (u *Uploader) Upload(ctx context.Context, localPath, name string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", localPath, err)
	}

	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	remote := u.baseURL + "/" + url.PathEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, remote, f)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", audio.ContentType(localPath))

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: %s returned %s", ErrUploadFailed, remote, resp.Status)
	}
	if loc := resp.Header.Get("Location"); loc != "" {
		if ref, err := req.URL.Parse(loc); err == nil {
			remote = ref.String()
		}
	}

	log.Info().
		Str("file", name).
		Str("size", humanize.Bytes(uint64(info.Size()))).
		Str("remote", remote).
		Msg("Demo offloaded")
	return remote, nil
}

// TruncatedFileHook adapts the uploader to the demo pipeline's TruncatedFile
// hook. Files are stored under their cache file name.
func (u *Uploader) TruncatedFileHook() func(ctx context.Context, productID int64, fileURL, path string) (string, error) {
	return func(ctx context.Context, productID int64, fileURL, path string) (string, error) {
		return u.Upload(ctx, path, filepath.Base(path))
	}
}
