// Package main is the entry point for the Bandfront demo service.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/bandfront-demo-service/internal/audio"
	"github.com/edumarques81/bandfront-demo-service/internal/config"
	"github.com/edumarques81/bandfront-demo-service/internal/domain/catalog"
	"github.com/edumarques81/bandfront-demo-service/internal/domain/demo"
	"github.com/edumarques81/bandfront-demo-service/internal/infra/analytics"
	"github.com/edumarques81/bandfront-demo-service/internal/infra/cache"
	"github.com/edumarques81/bandfront-demo-service/internal/infra/ffmpeg"
	"github.com/edumarques81/bandfront-demo-service/internal/infra/fetch"
	"github.com/edumarques81/bandfront-demo-service/internal/infra/mp3cut"
	"github.com/edumarques81/bandfront-demo-service/internal/infra/offload"
	"github.com/edumarques81/bandfront-demo-service/internal/transport/httpapi"
	"github.com/edumarques81/bandfront-demo-service/internal/version"
)

// demoComment is written into the ID3 tag of MP3 demos.
const demoComment = "Demo version"

func main() {
	configPath := flag.String("config", "", "Path to a config.toml (overrides the standard locations)")
	port := flag.Int("port", 0, "HTTP server port (overrides server.port)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	versionInfo := version.GetInfo()
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().Msgf("  %s", versionInfo.String())
	log.Info().Msg("  Demo File Service")
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().
		Int("port", cfg.Server.Port).
		Str("upload_dir", cfg.Storage.UploadDir).
		Str("public_url", cfg.Storage.PublicURL).
		Bool("demo_enabled", cfg.Demo.Enabled).
		Int("demo_percent", cfg.Demo.Percent).
		Bool("ffmpeg", cfg.FFmpeg.Enabled).
		Bool("analytics", cfg.HasAnalytics()).
		Bool("offload", cfg.HasOffload()).
		Msg("Configuration")

	db := cache.NewDB(cfg.Database.Path)
	if err := db.Open(); err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	layout := demo.NewLayout(cfg.Storage.UploadDir, cfg.Storage.PublicURL)
	if err := layout.Ensure(); err != nil {
		// Generation retries this.
		log.Warn().Err(err).Str("dir", layout.Dir()).Msg("Failed to create demo directories")
	}

	catalogService := catalog.NewService(catalog.NewCacheStore(cache.NewDAO(db)), catalog.Defaults{
		DemoEnabled:     cfg.Demo.Enabled,
		DemoPercent:     cfg.Demo.Percent,
		PurchasedExempt: cfg.Demo.PurchasedExempt,
	})

	// A nil Tracker keeps direct demo URLs.
	var tracker demo.Tracker
	analyticsClient := newAnalytics(cfg)
	if analyticsClient != nil {
		tracker = analyticsClient
	}

	hooks := newHooks(cfg)
	ledger := demo.NewCacheLedger(db)
	demos := demo.NewService(demo.Config{
		Layout:          layout,
		Validator:       demo.NewValidator(ledger, demo.DefaultValidityEntries, demo.DefaultValidityTTL),
		Ledger:          ledger,
		Catalog:         catalogService,
		Fetcher:         newFetcher(cfg, hooks),
		Truncator:       newTruncator(cfg, hooks),
		Classifier:      audio.NewClassifier(cfg.Demo.DefaultExtension),
		Tracker:         tracker,
		Hooks:           hooks,
		BaseURL:         cfg.Server.BaseURL,
		Preload:         cfg.Demo.Preload,
		DisableRedirect: cfg.Demo.DisableRedirect,
	})

	api := httpapi.NewServer(httpapi.Config{
		Demos:   demos,
		Catalog: catalogService,
		Stats:   db,
		Health: func(ctx context.Context) error {
			return db.DB().PingContext(ctx)
		},
		DemoDir:    layout.Dir(),
		PublicURL:  cfg.Storage.PublicURL,
		UserHeader: cfg.Server.UserHeader,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Info().Msg("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	log.Info().Str("addr", addr).Msg("HTTP server listening")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("HTTP server error")
	}
	<-done

	if analyticsClient != nil {
		analyticsClient.Wait()
	}
	log.Info().Msg("Server stopped")
}

func newFetcher(cfg *config.Config, hooks demo.Hooks) *fetch.Fetcher {
	return fetch.NewFetcher(
		fetch.WithTimeout(cfg.Demo.FetchTimeout),
		fetch.WithSiteRoot(cfg.Storage.SiteURL, cfg.Storage.SiteRoot),
		fetch.WithUploads(cfg.Storage.PublicURL, cfg.Storage.UploadDir),
		fetch.WithIsLocalHook(hooks.IsLocal),
		fetch.WithUserAgent(fetchUserAgent()),
	)
}

func fetchUserAgent() string {
	return fmt.Sprintf("%s/%s (+demo fetcher)", version.Name, version.Version)
}

func newTruncator(cfg *config.Config, hooks demo.Hooks) *demo.Truncator {
	tc := demo.TruncatorConfig{
		Cutter:     mp3cut.NewCutter(demoComment),
		FFmpegTime: hooks.FFmpegTime,
	}
	if cfg.FFmpeg.Enabled {
		runner := ffmpeg.NewRunner(cfg.FFmpeg.Path, ffmpeg.WithTimeout(cfg.FFmpeg.Timeout))
		if !runner.Available() {
			log.Warn().Str("path", cfg.FFmpeg.Path).Msg("ffmpeg enabled but not found, demos will use the MP3 cutter")
		}
		tc.FFmpeg = runner
		tc.Watermark = cfg.FFmpeg.Watermark
	}
	return demo.NewTruncator(tc)
}

func newAnalytics(cfg *config.Config) *analytics.Client {
	if !cfg.HasAnalytics() {
		return nil
	}
	return analytics.NewClient(cfg.Analytics.MeasurementID, cfg.Analytics.APISecret,
		analytics.WithEndpoint(cfg.Analytics.Endpoint),
		analytics.WithTimeout(cfg.Analytics.Timeout),
	)
}

func newHooks(cfg *config.Config) demo.Hooks {
	var hooks demo.Hooks
	if cfg.HasOffload() {
		hooks.TruncatedFile = offload.NewUploader(cfg.Storage.OffloadURL).TruncatedFileHook()
	}
	return hooks
}
