// Package httpapi is the HTTP surface of the demo service: the play
// endpoint, direct demo file URLs and the JSON management API.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/bandfront-demo-service/internal/audio"
	"github.com/edumarques81/bandfront-demo-service/internal/domain/catalog"
	"github.com/edumarques81/bandfront-demo-service/internal/domain/demo"
	"github.com/edumarques81/bandfront-demo-service/internal/infra/cache"
	"github.com/edumarques81/bandfront-demo-service/internal/version"
)

// Demos is the demo pipeline.
type Demos interface {
	Play(ctx context.Context, req demo.PlayRequest) (*demo.Delivery, error)
	AudioURL(ctx context.Context, productID int64, fileIndex, email string) (demo.AudioURL, error)
	FileType(ctx context.Context, productID int64, fileIndex string) (audio.Kind, bool, error)
	Purge(ctx context.Context) (int, error)
	PurgeProduct(ctx context.Context, productID int64) (int, error)
}

// Catalog manages products and purchases.
type Catalog interface {
	Product(ctx context.Context, id int64) (*catalog.Product, error)
	SaveProduct(ctx context.Context, p *catalog.Product) error
	RecordPurchase(ctx context.Context, productID int64, email string) error
	DemoSettings(p *catalog.Product) catalog.DemoSettings
}

// StatsSource reports cache database statistics.
type StatsSource interface {
	GetStats() (*cache.CacheStats, error)
}

// Config wires a Server. Stats and Health are optional.
type Config struct {
	Demos   Demos
	Catalog Catalog
	Stats   StatsSource
	Health  func(ctx context.Context) error

	// DemoDir is the directory published at PublicURL + "/bfp".
	DemoDir   string
	PublicURL string
	// UserHeader carries the requester email set by the fronting proxy.
	UserHeader string
}

// Server routes HTTP requests to the demo service.
type Server struct {
	demos      Demos
	catalog    Catalog
	stats      StatsSource
	health     func(ctx context.Context) error
	demoDir    string
	publicPath string
	userHeader string

	router chi.Router
}

// NewServer creates the server and its routes.
func NewServer(cfg Config) *Server {
	s := &Server{
		demos:      cfg.Demos,
		catalog:    cfg.Catalog,
		stats:      cfg.Stats,
		health:     cfg.Health,
		demoDir:    cfg.DemoDir,
		publicPath: publicPath(cfg.PublicURL),
		userHeader: cfg.UserHeader,
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(corsMiddleware, requestLogger, metricsMiddleware)
	r.NotFound(writeNotFoundPage)

	// Play endpoint: /?bfp-action=play&bfp-product=ID&bfp-file=INDEX
	r.Get("/", s.handlePlay)
	r.Head("/", s.handlePlay)
	r.Get(s.publicPath+"/bfp/*", s.handleDemoFile)
	r.Head(s.publicPath+"/bfp/*", s.handleDemoFile)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, version.GetInfo())
		})

		r.Get("/products/{id}", s.handleGetProduct)
		r.Put("/products/{id}", s.handlePutProduct)
		r.Post("/products/{id}/purchases", s.handleRecordPurchase)
		r.Get("/products/{id}/files/{index}/url", s.handleAudioURL)
		r.Get("/products/{id}/files/{index}/type", s.handleFileType)
		r.Post("/products/{id}/demos/purge", s.handlePurgeProduct)

		r.Post("/demos/purge", s.handlePurge)
		r.Get("/cache/stats", s.handleCacheStats)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			log.Warn().Err(err).Msg("Health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "database": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "ok"})
}

// requester returns the email of the signed-in user, if any.
func (s *Server) requester(r *http.Request) string {
	if s.userHeader == "" {
		return ""
	}
	return strings.TrimSpace(r.Header.Get(s.userHeader))
}

// publicPath is the path component of the public uploads URL, without a
// trailing slash.
func publicPath(publicURL string) string {
	u, err := url.Parse(publicURL)
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(u.Path, "/")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write JSON response")
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
