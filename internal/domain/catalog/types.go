// Package catalog holds the products whose audio files the demo pipeline
// serves, and who has bought them.
package catalog

import "errors"

var (
	// ErrProductNotFound is returned for unknown product IDs.
	ErrProductNotFound = errors.New("product not found")
	// ErrFileNotFound is returned for unknown file indexes.
	ErrFileNotFound = errors.New("file not found")
	// ErrInvalidProduct is returned by SaveProduct for malformed input.
	ErrInvalidProduct = errors.New("invalid product")
)

// Product is a storefront product with audio files.
type Product struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	DemoEnabled *bool  `json:"demoEnabled,omitempty"`
	DemoPercent *int   `json:"demoPercent,omitempty"`
	PlayCount   int64  `json:"playCount"`
	Files       []File `json:"files"`
}

// File is one audio file of a product.
type File struct {
	Index string `json:"index"`
	Name  string `json:"name,omitempty"`
	URL   string `json:"file"`
	// PlaySrc marks a source that is played as-is, never truncated.
	PlaySrc bool `json:"playSrc,omitempty"`
}

// File returns the file with the given index.
func (p *Product) File(index string) (*File, bool) {
	for i := range p.Files {
		if p.Files[i].Index == index {
			return &p.Files[i], true
		}
	}
	return nil, false
}

// Defaults are the site-wide demo settings.
type Defaults struct {
	DemoEnabled     bool
	DemoPercent     int
	PurchasedExempt bool
}

// DemoSettings are the effective demo settings for one product.
type DemoSettings struct {
	Enabled bool `json:"enabled"`
	Percent int  `json:"percent"`
}

// Truncates reports whether files served under these settings are cut.
func (s DemoSettings) Truncates() bool {
	return s.Enabled && s.Percent > 0 && s.Percent < 100
}
