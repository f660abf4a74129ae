package httpapi

import (
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"
)

// CacheStatusResponse summarises the demo cache.
type CacheStatusResponse struct {
	LastUpdated   string `json:"lastUpdated,omitempty"`
	LastPurge     string `json:"lastPurge,omitempty"`
	ProductCount  int    `json:"productCount"`
	FileCount     int    `json:"fileCount"`
	PurchaseCount int    `json:"purchaseCount"`
	DemoCount     int    `json:"demoCount"`
	DemoBytes     int64  `json:"demoBytes"`
	DemoSize      string `json:"demoSize"`
	TotalPlays    int64  `json:"totalPlays"`
	SchemaVersion string `json:"schemaVersion"`
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeError(w, http.StatusNotFound, "cache statistics unavailable")
		return
	}

	stats, err := s.stats.GetStats()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to get cache status")
		writeError(w, http.StatusInternalServerError, "cache statistics unavailable")
		return
	}

	resp := CacheStatusResponse{
		ProductCount:  stats.ProductCount,
		FileCount:     stats.FileCount,
		PurchaseCount: stats.PurchaseCount,
		DemoCount:     stats.DemoCount,
		DemoBytes:     stats.DemoBytes,
		DemoSize:      humanize.Bytes(uint64(max(stats.DemoBytes, 0))),
		TotalPlays:    stats.TotalPlays,
		SchemaVersion: stats.SchemaVersion,
	}
	if !stats.LastUpdated.IsZero() {
		resp.LastUpdated = stats.LastUpdated.Format(time.RFC3339)
	}
	if !stats.LastPurge.IsZero() {
		resp.LastPurge = stats.LastPurge.Format(time.RFC3339)
	}

	log.Debug().
		Int("demos", resp.DemoCount).
		Str("size", resp.DemoSize).
		Msg("Cache status")
	writeJSON(w, http.StatusOK, resp)
}
