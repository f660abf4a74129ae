package demo

import (
	"os"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/bandfront-demo-service/internal/audio"
)

const (
	// DefaultValidityEntries bounds the validity memo.
	DefaultValidityEntries = 4096
	// DefaultValidityTTL is how long a validity verdict is reused.
	DefaultValidityTTL = 5 * time.Minute
)

type verdict struct {
	size    int64
	modTime time.Time
	valid   bool
}

// Validator decides whether a cached file may be served. Verdicts are
// memoised per path and reused while the file's size and mtime are unchanged.
type Validator struct {
	ledger Ledger
	memo   *expirable.LRU[string, verdict]
}

// NewValidator creates a validator. ledger may be nil.
func NewValidator(ledger Ledger, entries int, ttl time.Duration) *Validator {
	if entries <= 0 {
		entries = DefaultValidityEntries
	}
	if ttl <= 0 {
		ttl = DefaultValidityTTL
	}
	return &Validator{
		ledger: ledger,
		memo:   expirable.NewLRU[string, verdict](entries, nil, ttl),
	}
}

// Valid reports whether path holds a servable file: it exists, is not
// empty, does not sniff as text, and matches the size in its ledger record.
func (v *Validator) Valid(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() == 0 {
		return false
	}

	if cached, ok := v.memo.Get(path); ok && cached.size == info.Size() && cached.modTime.Equal(info.ModTime()) {
		validityHitsTotal.Inc()
		return cached.valid
	}
	validityMissesTotal.Inc()

	valid := v.check(path, info.Size())
	v.memo.Add(path, verdict{size: info.Size(), modTime: info.ModTime(), valid: valid})
	return valid
}

func (v *Validator) check(path string, size int64) bool {
	mime, err := audio.SniffMIME(path)
	if err == nil && audio.IsTextMIME(mime) {
		log.Debug().Str("path", path).Str("mime", mime).Msg("Cached file sniffs as text")
		return false
	}

	if v.ledger == nil {
		return true
	}
	rec, err := v.ledger.Get(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Ledger lookup failed")
		return true
	}
	if rec != nil && rec.Size > 0 && rec.Size != size {
		log.Debug().
			Str("path", path).
			Int64("size", size).
			Int64("recorded", rec.Size).
			Msg("Cached file size does not match ledger")
		return false
	}
	return true
}

// Forget drops the memoised verdict for path.
func (v *Validator) Forget(path string) {
	v.memo.Remove(path)
}

// Reset drops every memoised verdict.
func (v *Validator) Reset() {
	v.memo.Purge()
}
