package demo

import (
	"context"

	"github.com/edumarques81/bandfront-demo-service/internal/infra/fetch"
)

// Hooks are the extension points of the pipeline. Every field is optional.
type Hooks struct {
	// PlayFile runs for every play request before anything is served.
	PlayFile func(ctx context.Context, productID int64, fileURL string)

	// TruncatedFile runs after a cache file was generated. A non-empty
	// return value is a remote URL now holding the file; the local copy is
	// then removed and later plays redirect there.
	TruncatedFile func(ctx context.Context, productID int64, fileURL, path string) (string, error)

	// DeleteFile runs for each product file whose cached copies are purged.
	DeleteFile func(ctx context.Context, productID int64, fileURL string)

	// IsLocal overrides the local-file resolution of sources.
	IsLocal fetch.IsLocalHook

	// FFmpegTime adjusts the demo length in seconds computed for ffmpeg.
	FFmpegTime func(productID int64, seconds int) int

	// Preload adjusts the preload attribute emitted for an audio URL.
	Preload func(preload, audioURL string) string
}
