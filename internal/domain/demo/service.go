package demo

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/edumarques81/bandfront-demo-service/internal/audio"
	"github.com/edumarques81/bandfront-demo-service/internal/domain/catalog"
)

var (
	// ErrNotFound is returned for unknown products or files.
	ErrNotFound = errors.New("demo: not found")
	// ErrUnplayable is returned when the generated file is not audio.
	ErrUnplayable = errors.New("demo: generated file is not playable")
	// ErrInternal is returned when generation panicked.
	ErrInternal = errors.New("demo: internal error")
)

// Catalog is the product and purchase lookup the service needs.
type Catalog interface {
	Purchasers
	Product(ctx context.Context, id int64) (*catalog.Product, error)
	File(ctx context.Context, id int64, index string) (*catalog.Product, *catalog.File, error)
	DemoSettings(p *catalog.Product) catalog.DemoSettings
	CountPlay(ctx context.Context, productID int64)
}

// Fetcher copies a source into the cache.
type Fetcher interface {
	Fetch(ctx context.Context, source, dst string) (int64, error)
}

// Tracker reports plays to analytics. TrackPlay must not block.
type Tracker interface {
	TrackPlay(ctx context.Context, productID int64, fileIndex string)
}

// Config wires a Service.
type Config struct {
	Layout     *Layout
	Validator  *Validator
	Ledger     Ledger
	Catalog    Catalog
	Fetcher    Fetcher
	Truncator  *Truncator
	Classifier *audio.Classifier
	// Tracker is nil when analytics is off.
	Tracker Tracker
	Hooks   Hooks
	// BaseURL prefixes play endpoint URLs.
	BaseURL         string
	Preload         string
	DisableRedirect bool
}

// Service runs the play pipeline: serve a valid cached file, or fetch the
// source, truncate it and cache the result.
type Service struct {
	layout          *Layout
	validator       *Validator
	ledger          Ledger
	catalog         Catalog
	fetcher         Fetcher
	truncator       *Truncator
	classifier      *audio.Classifier
	tracker         Tracker
	hooks           Hooks
	generator       *Generator
	disableRedirect bool

	// flight runs at most one generation per cache path.
	flight singleflight.Group
	// purgeMu is held shared by plays and exclusively by purges.
	purgeMu sync.RWMutex
}

// NewService creates the demo service.
func NewService(cfg Config) *Service {
	if cfg.Classifier == nil {
		cfg.Classifier = audio.NewClassifier(false)
	}
	if cfg.Validator == nil {
		cfg.Validator = NewValidator(cfg.Ledger, 0, 0)
	}
	return &Service{
		layout:          cfg.Layout,
		validator:       cfg.Validator,
		ledger:          cfg.Ledger,
		catalog:         cfg.Catalog,
		fetcher:         cfg.Fetcher,
		truncator:       cfg.Truncator,
		classifier:      cfg.Classifier,
		tracker:         cfg.Tracker,
		hooks:           cfg.Hooks,
		disableRedirect: cfg.DisableRedirect,
		generator: NewGenerator(GeneratorConfig{
			Layout:     cfg.Layout,
			Validator:  cfg.Validator,
			Ledger:     cfg.Ledger,
			Purchasers: cfg.Catalog,
			BaseURL:    cfg.BaseURL,
			Tracked:    cfg.Tracker != nil,
			Preload:    cfg.Preload,
			Hooks:      cfg.Hooks,
		}),
	}
}

// PlayRequest identifies a play.
type PlayRequest struct {
	ProductID int64
	FileIndex string
	// Email is the requester, empty for anonymous visitors.
	Email string
}

// Delivery says how to answer a play: redirect to URL, or stream Path.
type Delivery struct {
	Redirect bool
	URL      string
	Path     string
	// FileName is the name offered in Content-Disposition.
	FileName  string
	CacheHit  bool
	Purchaser bool
	// Truncation is set when the file was generated by this request.
	Truncation *TruncationResult
}

// Play resolves a play request. Any error means the file cannot be served.
func (s *Service) Play(ctx context.Context, req PlayRequest) (d *Delivery, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Int64("product", req.ProductID).
				Str("file", req.FileIndex).
				Msg("Play request panicked")
			d, err = nil, fmt.Errorf("%w: %v", ErrInternal, r)
		}
		if err != nil {
			playRequestsTotal.WithLabelValues("not_found").Inc()
		}
	}()

	product, file, err := s.catalog.File(ctx, req.ProductID, req.FileIndex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	s.notePlay(ctx, product.ID, req.FileIndex, file.URL)

	if file.PlaySrc || audio.IsPlaylist(file.URL) {
		playRequestsTotal.WithLabelValues("source").Inc()
		return &Delivery{Redirect: true, URL: file.URL}, nil
	}

	purchaser, isPurchaser := s.catalog.Purchaser(ctx, product.ID, req.Email)
	path := s.layout.Path(file.URL, purchaser)

	s.purgeMu.RLock()
	defer s.purgeMu.RUnlock()

	// path is the requester's own variant; the other one is never served.
	if hit, ok := lookupCached(path, s.validator, s.ledger); ok {
		log.Debug().Str("path", path).Msg("Serving cached demo")
		playRequestsTotal.WithLabelValues("cache_hit").Inc()
		d := s.deliver(hit)
		d.CacheHit = true
		d.Purchaser = isPurchaser
		return d, nil
	}

	job := generation{
		product:   product,
		source:    file.URL,
		path:      path,
		purchaser: purchaser,
		cut:       !isPurchaser,
	}
	// The first requester's cancellation must not fail the others waiting
	// on the same generation.
	v, err, _ := s.flight.Do(path, func() (any, error) {
		return s.generate(context.WithoutCancel(ctx), job)
	})
	if err != nil {
		log.Error().
			Err(err).
			Int64("product", product.ID).
			Str("source", file.URL).
			Msg("Demo generation failed")
		return nil, err
	}

	g := v.(*generated)
	playRequestsTotal.WithLabelValues("generated").Inc()
	d = s.deliver(g.file)
	d.Purchaser = isPurchaser
	d.CacheHit = g.truncation == nil
	d.Truncation = g.truncation
	return d, nil
}

func (s *Service) notePlay(ctx context.Context, productID int64, fileIndex, fileURL string) {
	if s.hooks.PlayFile != nil {
		s.hooks.PlayFile(ctx, productID, fileURL)
	}
	s.catalog.CountPlay(ctx, productID)
	if s.tracker != nil {
		s.tracker.TrackPlay(ctx, productID, fileIndex)
	}
}

func (s *Service) deliver(f cachedFile) *Delivery {
	if f.RemoteURL != "" {
		return &Delivery{Redirect: true, URL: f.RemoteURL, FileName: filepath.Base(f.Path)}
	}
	return &Delivery{
		Redirect: !s.disableRedirect,
		URL:      s.layout.URL(f.Path),
		Path:     f.Path,
		FileName: filepath.Base(f.Path),
	}
}

type generation struct {
	product   *catalog.Product
	source    string
	path      string
	purchaser string
	cut       bool
}

type generated struct {
	file       cachedFile
	truncation *TruncationResult
}

func (s *Service) generate(ctx context.Context, job generation) (g *generated, err error) {
	defer func() {
		if r := recover(); r != nil {
			g, err = nil, fmt.Errorf("%w: %v", ErrInternal, r)
		}
	}()

	// A generation for this path may have finished just before this one
	// started.
	if hit, ok := lookupCached(job.path, s.validator, s.ledger); ok {
		return &generated{file: hit}, nil
	}
	// The record describes the file being replaced; the new file must not
	// be checked against it.
	if err := s.ledger.Delete(job.path); err != nil {
		log.Warn().Err(err).Str("path", job.path).Msg("Failed to drop stale demo record")
	}
	s.validator.Forget(job.path)

	if err := s.layout.Ensure(); err != nil {
		return nil, err
	}

	staging := s.layout.StagingPath(job.path)
	start := time.Now()
	size, err := s.fetcher.Fetch(ctx, job.source, staging)
	fetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		os.Remove(staging)
		return nil, fmt.Errorf("fetch %s: %w", job.source, err)
	}
	if mime, err := audio.SniffMIME(staging); err == nil && audio.IsTextMIME(mime) {
		os.Remove(staging)
		return nil, fmt.Errorf("%w: source sniffs as %s", ErrUnplayable, mime)
	}

	settings := s.catalog.DemoSettings(job.product)
	res, err := s.truncator.Truncate(ctx, TruncateRequest{
		ProductID: job.product.ID,
		Src:       staging,
		Dst:       job.path,
		Percent:   settings.Percent,
		Cut:       job.cut && settings.Enabled,
	})
	if err != nil {
		return nil, err
	}
	s.validator.Forget(job.path)

	ev := log.Info()
	if res.Outcome == OutcomeRaw || res.Outcome == OutcomeDegraded {
		ev = log.Warn()
	}
	if res.Err != nil {
		ev = ev.Str("truncationError", res.Err.Error())
	}
	ev.Int64("product", job.product.ID).
		Str("outcome", res.Outcome.String()).
		Str("source", humanize.Bytes(uint64(size))).
		Str("demo", humanize.Bytes(uint64(res.Bytes))).
		Msg("Demo generated")

	if !s.validator.Valid(job.path) {
		os.Remove(job.path)
		return nil, ErrUnplayable
	}

	rec := &Record{
		Path:      job.path,
		SourceURL: job.source,
		ProductID: job.product.ID,
		Purchaser: job.purchaser,
		Size:      res.Bytes,
		Checksum:  fileChecksum(job.path),
		Outcome:   res.Outcome.String(),
		CreatedAt: time.Now(),
	}
	if s.hooks.TruncatedFile != nil {
		remote, err := s.hooks.TruncatedFile(ctx, job.product.ID, job.source, job.path)
		if err != nil {
			log.Warn().Err(err).Str("path", job.path).Msg("Truncated-file hook failed, keeping local copy")
		} else if remote != "" {
			if err := os.Remove(job.path); err != nil {
				log.Warn().Err(err).Str("path", job.path).Msg("Failed to remove offloaded file")
			}
			s.validator.Forget(job.path)
			rec.RemoteURL = remote
		}
	}
	if err := s.ledger.Put(rec); err != nil {
		log.Warn().Err(err).Str("path", job.path).Msg("Failed to record demo")
	}

	return &generated{
		file:       cachedFile{Path: job.path, RemoteURL: rec.RemoteURL},
		truncation: &res,
	}, nil
}

func fileChecksum(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil))
}

// AudioURL returns the player URL of a product file for the requester.
func (s *Service) AudioURL(ctx context.Context, productID int64, fileIndex, email string) (AudioURL, error) {
	_, file, err := s.catalog.File(ctx, productID, fileIndex)
	if err != nil {
		return AudioURL{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return s.generator.AudioURL(ctx, URLRequest{
		ProductID: productID,
		FileIndex: fileIndex,
		File:      *file,
		Email:     email,
	}), nil
}

// IsAudio returns the audio kind of source. A valid cached demo of the
// source decides by its content; otherwise the source is classified.
func (s *Service) IsAudio(source, displayName string) (audio.Kind, bool) {
	if path := s.layout.Path(source, ""); s.validator.Valid(path) {
		if kind, ok := audio.KindFromExtension("." + audio.SniffExtension(path)); ok {
			return kind, true
		}
	}
	return s.classifier.Classify(source, displayName)
}

// FileType classifies a product file.
func (s *Service) FileType(ctx context.Context, productID int64, fileIndex string) (audio.Kind, bool, error) {
	_, file, err := s.catalog.File(ctx, productID, fileIndex)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	kind, ok := s.IsAudio(file.URL, file.Name)
	return kind, ok, nil
}

// Purge removes every cached file. Plays wait until it is done.
func (s *Service) Purge(ctx context.Context) (int, error) {
	s.purgeMu.Lock()
	defer s.purgeMu.Unlock()

	records, err := s.ledger.List(0)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list demo records")
	}
	s.fireDeleteFile(ctx, records)

	removed, clearErr := s.layout.clear()
	if _, err := s.ledger.DeleteAll(0); err != nil {
		clearErr = errors.Join(clearErr, err)
	}
	s.validator.Reset()
	if err := s.ledger.MarkPurged(); err != nil {
		log.Warn().Err(err).Msg("Failed to record purge time")
	}

	log.Info().Int("removed", removed).Msg("Demo cache purged")
	return removed, clearErr
}

// PurgeProduct removes the cached files of one product.
func (s *Service) PurgeProduct(ctx context.Context, productID int64) (int, error) {
	s.purgeMu.Lock()
	defer s.purgeMu.Unlock()

	records, err := s.ledger.List(productID)
	if err != nil {
		return 0, fmt.Errorf("list demo records: %w", err)
	}

	paths := make(map[string]bool)
	for _, rec := range records {
		paths[rec.Path] = true
	}
	if product, err := s.catalog.Product(ctx, productID); err == nil {
		for _, f := range product.Files {
			paths[s.layout.Path(f.URL, "")] = true
			records = append(records, Record{ProductID: productID, SourceURL: f.URL})
		}
	}

	removed := 0
	var errs []error
	for path := range paths {
		s.validator.Forget(path)
		os.Remove(s.layout.StagingPath(path))
		err := os.Remove(path)
		switch {
		case err == nil:
			removed++
		case !errors.Is(err, os.ErrNotExist):
			errs = append(errs, err)
		}
	}
	if _, err := s.ledger.DeleteAll(productID); err != nil {
		errs = append(errs, err)
	}
	s.fireDeleteFile(ctx, records)

	log.Info().Int64("product", productID).Int("removed", removed).Msg("Product demos purged")
	return removed, errors.Join(errs...)
}

// fireDeleteFile runs the DeleteFile hook once per product file.
func (s *Service) fireDeleteFile(ctx context.Context, records []Record) {
	if s.hooks.DeleteFile == nil {
		return
	}
	type key struct {
		product int64
		source  string
	}
	seen := make(map[key]bool)
	for _, rec := range records {
		k := key{rec.ProductID, rec.SourceURL}
		if rec.SourceURL == "" || seen[k] {
			continue
		}
		seen[k] = true
		s.hooks.DeleteFile(ctx, rec.ProductID, rec.SourceURL)
	}
}
