package catalog

import (
	"github.com/edumarques81/bandfront-demo-service/internal/infra/cache"
)

// Store is the persistence the catalog needs.
type Store interface {
	GetProduct(id int64) (*Product, error)
	SaveProduct(p *Product) error
	RecordPurchase(productID int64, purchaserHash string) error
	HasPurchase(productID int64, purchaserHash string) (bool, error)
	IncrementPlayCount(productID int64) (int64, error)
}

// CacheStore adapts cache.DAO to the Store interface.
type CacheStore struct {
	dao *cache.DAO
}

// NewCacheStore creates a new adapter for cache.DAO.
func NewCacheStore(dao *cache.DAO) *CacheStore {
	return &CacheStore{dao: dao}
}

// GetProduct loads a product, or nil when it does not exist.
func (s *CacheStore) GetProduct(id int64) (*Product, error) {
	cached, err := s.dao.GetProduct(id)
	if err != nil || cached == nil {
		return nil, err
	}

	p := &Product{
		ID:          cached.ID,
		Title:       cached.Title,
		DemoEnabled: cached.DemoEnabled,
		DemoPercent: cached.DemoPercent,
		PlayCount:   cached.PlayCount,
		Files:       make([]File, 0, len(cached.Files)),
	}
	for _, f := range cached.Files {
		p.Files = append(p.Files, File{Index: f.Index, Name: f.Name, URL: f.URL, PlaySrc: f.PlaySrc})
	}
	return p, nil
}

// SaveProduct stores a product and its file list.
func (s *CacheStore) SaveProduct(p *Product) error {
	cached := &cache.Product{
		ID:          p.ID,
		Title:       p.Title,
		DemoEnabled: p.DemoEnabled,
		DemoPercent: p.DemoPercent,
		Files:       make([]cache.ProductFile, 0, len(p.Files)),
	}
	for _, f := range p.Files {
		cached.Files = append(cached.Files, cache.ProductFile{Index: f.Index, Name: f.Name, URL: f.URL, PlaySrc: f.PlaySrc})
	}
	return s.dao.UpsertProduct(cached)
}

// RecordPurchase stores a purchase.
func (s *CacheStore) RecordPurchase(productID int64, purchaserHash string) error {
	return s.dao.RecordPurchase(productID, purchaserHash)
}

// HasPurchase reports whether a purchase exists.
func (s *CacheStore) HasPurchase(productID int64, purchaserHash string) (bool, error) {
	return s.dao.HasPurchase(productID, purchaserHash)
}

// IncrementPlayCount bumps the play counter.
func (s *CacheStore) IncrementPlayCount(productID int64) (int64, error) {
	return s.dao.IncrementPlayCount(productID)
}
