package cache

import "time"

// Product is a catalog entry together with its downloadable files.
type Product struct {
	ID    int64
	Title string
	// DemoEnabled and DemoPercent override the global demo settings when set.
	DemoEnabled *bool
	DemoPercent *int
	PlayCount   int64
	Files       []ProductFile
	UpdatedAt   time.Time
}

// ProductFile is one audio file attached to a product. Index is the file
// key the storefront uses in play URLs.
type ProductFile struct {
	Index   string
	Name    string
	URL     string
	PlaySrc bool
}

// DemoRecord is the ledger entry for a generated file in the demo cache.
type DemoRecord struct {
	Path      string
	SourceURL string
	ProductID int64
	Purchaser string
	Size      int64
	Checksum  string
	RemoteURL string
	Outcome   string
	CreatedAt time.Time
}

// CacheStats contains store statistics.
type CacheStats struct {
	ProductCount  int       `json:"productCount"`
	FileCount     int       `json:"fileCount"`
	PurchaseCount int       `json:"purchaseCount"`
	DemoCount     int       `json:"demoCount"`
	DemoBytes     int64     `json:"demoBytes"`
	TotalPlays    int64     `json:"totalPlays"`
	SchemaVersion string    `json:"schemaVersion"`
	LastPurge     time.Time `json:"lastPurge,omitempty"`
	LastUpdated   time.Time `json:"lastUpdated,omitempty"`
}
