package catalog

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Service answers product, purchase and demo-setting questions.
type Service struct {
	store    Store
	defaults Defaults
}

// NewService creates a catalog service.
func NewService(store Store, defaults Defaults) *Service {
	return &Service{store: store, defaults: defaults}
}

// Product returns a product by ID.
func (s *Service) Product(ctx context.Context, id int64) (*Product, error) {
	p, err := s.store.GetProduct(id)
	if err != nil {
		return nil, fmt.Errorf("load product %d: %w", id, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %d", ErrProductNotFound, id)
	}
	return p, nil
}

// File returns one file of a product.
func (s *Service) File(ctx context.Context, id int64, index string) (*Product, *File, error) {
	p, err := s.Product(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	f, ok := p.File(index)
	if !ok {
		return nil, nil, fmt.Errorf("%w: product %d file %q", ErrFileNotFound, id, index)
	}
	return p, f, nil
}

// SaveProduct validates and stores a product.
func (s *Service) SaveProduct(ctx context.Context, p *Product) error {
	if p.ID <= 0 {
		return fmt.Errorf("%w: id must be positive", ErrInvalidProduct)
	}
	if p.DemoPercent != nil && (*p.DemoPercent < 0 || *p.DemoPercent > 100) {
		return fmt.Errorf("%w: demo percent %d out of range", ErrInvalidProduct, *p.DemoPercent)
	}

	seen := make(map[string]bool, len(p.Files))
	for _, f := range p.Files {
		if f.Index == "" || f.URL == "" {
			return fmt.Errorf("%w: files need an index and a url", ErrInvalidProduct)
		}
		if seen[f.Index] {
			return fmt.Errorf("%w: duplicate file index %q", ErrInvalidProduct, f.Index)
		}
		seen[f.Index] = true
	}

	if err := s.store.SaveProduct(p); err != nil {
		return fmt.Errorf("save product %d: %w", p.ID, err)
	}
	log.Info().Int64("product", p.ID).Int("files", len(p.Files)).Msg("Product saved")
	return nil
}

// RecordPurchase stores that email bought the product.
func (s *Service) RecordPurchase(ctx context.Context, productID int64, email string) error {
	hash := PurchaserHash(email)
	if hash == "" {
		return fmt.Errorf("%w: purchaser email required", ErrInvalidProduct)
	}
	if _, err := s.Product(ctx, productID); err != nil {
		return err
	}
	return s.store.RecordPurchase(productID, hash)
}

// Purchaser returns the purchaser hash of email for a product. A hash is
// only returned when purchased files are exempt from demos and email has
// bought the product.
func (s *Service) Purchaser(ctx context.Context, productID int64, email string) (string, bool) {
	if !s.defaults.PurchasedExempt {
		return "", false
	}
	hash := PurchaserHash(email)
	if hash == "" {
		return "", false
	}
	ok, err := s.store.HasPurchase(productID, hash)
	if err != nil {
		log.Error().Err(err).Int64("product", productID).Msg("Purchase lookup failed")
		return "", false
	}
	if !ok {
		return "", false
	}
	return hash, true
}

// CountPlay increments a product's play counter.
func (s *Service) CountPlay(ctx context.Context, productID int64) {
	if _, err := s.store.IncrementPlayCount(productID); err != nil {
		log.Warn().Err(err).Int64("product", productID).Msg("Failed to count play")
	}
}

// DemoSettings returns the effective demo settings of a product.
func (s *Service) DemoSettings(p *Product) DemoSettings {
	settings := DemoSettings{
		Enabled: s.defaults.DemoEnabled,
		Percent: s.defaults.DemoPercent,
	}
	if p == nil {
		return settings
	}
	if p.DemoEnabled != nil {
		settings.Enabled = *p.DemoEnabled
	}
	if p.DemoPercent != nil {
		settings.Percent = *p.DemoPercent
	}
	return settings
}

// PurchaserHash is the md5 of the trimmed, lower-cased email, or "" for an
// empty email.
func PurchaserHash(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ""
	}
	sum := md5.Sum([]byte(email))
	return hex.EncodeToString(sum[:])
}
