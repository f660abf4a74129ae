package demo

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edumarques81/bandfront-demo-service/internal/domain/catalog"
)

type staticPurchasers map[string]string

func (s staticPurchasers) Purchaser(ctx context.Context, productID int64, email string) (string, bool) {
	h, ok := s[email]
	return h, ok
}

func TestPlayEndpoint(t *testing.T) {
	assert.Equal(t, "/?bfp-action=play&bfp-product=12&bfp-file=a1", PlayEndpoint("", 12, "a1"))
	assert.Equal(t, "https://demos.example/?bfp-action=play&bfp-product=3&bfp-file=x+y%26z",
		PlayEndpoint("https://demos.example", 3, "x y&z"))
}

func TestGenerator_AudioURL(t *testing.T) {
	ctx := context.Background()
	const src = "https://cdn.example/song.mp3"

	newGen := func(t *testing.T, tracked bool) (*Generator, *Layout) {
		layout := NewLayout(t.TempDir(), "/uploads")
		require.NoError(t, layout.Ensure())
		return NewGenerator(GeneratorConfig{
			Layout:     layout,
			Validator:  NewValidator(nil, 8, time.Minute),
			Purchasers: staticPurchasers{"buyer@example.com": "h1"},
			BaseURL:    "https://demos.example",
			Tracked:    tracked,
		}), layout
	}
	endpoint := PlayEndpoint("https://demos.example", 7, "f")

	t.Run("play_src verbatim", func(t *testing.T) {
		g, _ := newGen(t, true)
		got := g.AudioURL(ctx, URLRequest{ProductID: 7, FileIndex: "f", File: catalog.File{URL: src, PlaySrc: true}})
		assert.Equal(t, AudioURL{URL: src, Direct: true, Preload: "none"}, got)
	})

	t.Run("playlist verbatim", func(t *testing.T) {
		g, _ := newGen(t, false)
		got := g.AudioURL(ctx, URLRequest{ProductID: 7, FileIndex: "f", File: catalog.File{URL: "https://radio.example/live.m3u8"}})
		assert.Equal(t, "https://radio.example/live.m3u8", got.URL)
		assert.True(t, got.Direct)
	})

	t.Run("not cached uses endpoint", func(t *testing.T) {
		g, _ := newGen(t, false)
		got := g.AudioURL(ctx, URLRequest{ProductID: 7, FileIndex: "f", File: catalog.File{URL: src}})
		assert.Equal(t, endpoint, got.URL)
		assert.False(t, got.Direct)
	})

	t.Run("cached anonymous demo is direct", func(t *testing.T) {
		g, layout := newGen(t, false)
		require.NoError(t, os.WriteFile(layout.Path(src, ""), mp3Bytes(3), 0o644))

		got := g.AudioURL(ctx, URLRequest{ProductID: 7, FileIndex: "f", File: catalog.File{URL: src}})
		assert.Equal(t, "/uploads/bfp/"+DemoFileName(src), got.URL)
		assert.True(t, got.Direct)

		// A purchaser without their own copy is not handed the demo.
		got = g.AudioURL(ctx, URLRequest{ProductID: 7, FileIndex: "f", File: catalog.File{URL: src}, Email: "buyer@example.com"})
		assert.Equal(t, endpoint, got.URL)
	})

	t.Run("cached purchaser copy is direct", func(t *testing.T) {
		g, layout := newGen(t, false)
		require.NoError(t, os.WriteFile(layout.Path(src, "h1"), mp3Bytes(3), 0o644))

		got := g.AudioURL(ctx, URLRequest{ProductID: 7, FileIndex: "f", File: catalog.File{URL: src}, Email: "buyer@example.com"})
		assert.Equal(t, "/uploads/bfp/purchased/h1_"+DemoFileName(src), got.URL)
	})

	t.Run("invalid cached file uses endpoint", func(t *testing.T) {
		g, layout := newGen(t, false)
		require.NoError(t, os.WriteFile(layout.Path(src, ""), []byte("<html>error</html>"), 0o644))

		got := g.AudioURL(ctx, URLRequest{ProductID: 7, FileIndex: "f", File: catalog.File{URL: src}})
		assert.Equal(t, endpoint, got.URL)
	})

	t.Run("tracked plays always use endpoint", func(t *testing.T) {
		g, layout := newGen(t, true)
		require.NoError(t, os.WriteFile(layout.Path(src, ""), mp3Bytes(3), 0o644))

		got := g.AudioURL(ctx, URLRequest{ProductID: 7, FileIndex: "f", File: catalog.File{URL: src}})
		assert.Equal(t, endpoint, got.URL)
		assert.False(t, got.Direct)
	})
}

func TestGenerator_PreloadHook(t *testing.T) {
	g := NewGenerator(GeneratorConfig{
		Layout:    NewLayout(t.TempDir(), "/uploads"),
		Validator: NewValidator(nil, 8, time.Minute),
		Preload:   "metadata",
		Hooks: Hooks{Preload: func(preload, audioURL string) string {
			if audioURL == "https://radio.example/live.m3u8" {
				return "none"
			}
			return preload
		}},
	})

	got := g.AudioURL(context.Background(), URLRequest{ProductID: 1, FileIndex: "a", File: catalog.File{URL: "https://cdn.example/a.mp3"}})
	assert.Equal(t, "metadata", got.Preload)

	got = g.AudioURL(context.Background(), URLRequest{ProductID: 1, FileIndex: "b", File: catalog.File{URL: "https://radio.example/live.m3u8"}})
	assert.Equal(t, "none", got.Preload)
}
