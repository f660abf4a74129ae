package demo

import (
	"context"
	"net/url"
	"strconv"

	"github.com/edumarques81/bandfront-demo-service/internal/audio"
	"github.com/edumarques81/bandfront-demo-service/internal/domain/catalog"
)

// Purchasers resolves the purchaser hash of a requester.
type Purchasers interface {
	Purchaser(ctx context.Context, productID int64, email string) (string, bool)
}

// URLRequest identifies the file an audio URL is wanted for.
type URLRequest struct {
	ProductID int64
	FileIndex string
	File      catalog.File
	// Email is the requester, empty for anonymous visitors.
	Email string
}

// AudioURL is what a player's src should point at.
type AudioURL struct {
	URL     string `json:"url"`
	Direct  bool   `json:"direct"`
	Preload string `json:"preload"`
}

// Generator decides audio URLs without generating anything.
type Generator struct {
	layout     *Layout
	validator  *Validator
	ledger     Ledger
	purchasers Purchasers
	baseURL    string
	tracked    bool
	preload    string
	preloadFn  func(preload, audioURL string) string
}

// GeneratorConfig wires a Generator.
type GeneratorConfig struct {
	Layout     *Layout
	Validator  *Validator
	Ledger     Ledger
	Purchasers Purchasers
	// BaseURL prefixes tracked play endpoint URLs.
	BaseURL string
	// Tracked is set when plays are reported to analytics, which requires
	// every play to pass through the play endpoint.
	Tracked bool
	Preload string
	Hooks   Hooks
}

// NewGenerator creates a generator.
func NewGenerator(cfg GeneratorConfig) *Generator {
	preload := cfg.Preload
	if preload == "" {
		preload = "none"
	}
	return &Generator{
		layout:     cfg.Layout,
		validator:  cfg.Validator,
		ledger:     cfg.Ledger,
		purchasers: cfg.Purchasers,
		baseURL:    cfg.BaseURL,
		tracked:    cfg.Tracked,
		preload:    preload,
		preloadFn:  cfg.Hooks.Preload,
	}
}

// AudioURL returns the source itself for play_src files and playlists, a
// direct URL when a valid cached file exists for the requester and plays are
// not tracked, and the play endpoint otherwise.
func (g *Generator) AudioURL(ctx context.Context, req URLRequest) AudioURL {
	out := g.decide(ctx, req)
	out.Preload = g.preload
	if g.preloadFn != nil {
		out.Preload = g.preloadFn(out.Preload, out.URL)
	}
	return out
}

func (g *Generator) decide(ctx context.Context, req URLRequest) AudioURL {
	source := req.File.URL
	if req.File.PlaySrc || audio.IsPlaylist(source) {
		return AudioURL{URL: source, Direct: true}
	}

	endpoint := AudioURL{URL: PlayEndpoint(g.baseURL, req.ProductID, req.FileIndex)}
	if g.tracked {
		return endpoint
	}

	purchaser := ""
	if g.purchasers != nil && req.Email != "" {
		purchaser, _ = g.purchasers.Purchaser(ctx, req.ProductID, req.Email)
	}
	// Only the requester's own variant: purchasers never get the demo.
	if hit, ok := lookupCached(g.layout.Path(source, purchaser), g.validator, g.ledger); ok {
		return AudioURL{URL: hit.url(g.layout), Direct: true}
	}
	return endpoint
}

// PlayEndpoint is the tracked play URL of a product file.
func PlayEndpoint(baseURL string, productID int64, fileIndex string) string {
	return baseURL + "/?bfp-action=play&bfp-product=" + strconv.FormatInt(productID, 10) +
		"&bfp-file=" + url.QueryEscape(fileIndex)
}

// cachedFile is a servable cache entry: a valid local file, or a file that
// was offloaded to RemoteURL.
type cachedFile struct {
	Path      string
	RemoteURL string
}

func (c cachedFile) url(l *Layout) string {
	if c.RemoteURL != "" {
		return c.RemoteURL
	}
	return l.URL(c.Path)
}

func lookupCached(path string, v *Validator, ledger Ledger) (cachedFile, bool) {
	if v.Valid(path) {
		return cachedFile{Path: path}, true
	}
	if ledger == nil {
		return cachedFile{}, false
	}
	rec, err := ledger.Get(path)
	if err != nil || rec == nil || rec.RemoteURL == "" {
		return cachedFile{}, false
	}
	return cachedFile{Path: path, RemoteURL: rec.RemoteURL}, true
}
