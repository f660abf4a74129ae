package demo

import (
	"time"

	"github.com/edumarques81/bandfront-demo-service/internal/infra/cache"
)

// Record is the ledger entry of a generated cache file.
type Record struct {
	Path      string
	SourceURL string
	ProductID int64
	Purchaser string
	Size      int64
	Checksum  string
	// RemoteURL is set once the file was offloaded and removed locally.
	RemoteURL string
	Outcome   string
	CreatedAt time.Time
}

// Ledger persists records of generated files.
type Ledger interface {
	Get(path string) (*Record, error)
	Put(rec *Record) error
	Delete(path string) error
	List(productID int64) ([]Record, error)
	DeleteAll(productID int64) (int64, error)
	MarkPurged() error
}

// CacheLedger adapts the SQLite store to the Ledger interface.
type CacheLedger struct {
	db  *cache.DB
	dao *cache.DAO
}

// NewCacheLedger creates a ledger backed by db.
func NewCacheLedger(db *cache.DB) *CacheLedger {
	return &CacheLedger{db: db, dao: cache.NewDAO(db)}
}

func (l *CacheLedger) Get(path string) (*Record, error) {
	cached, err := l.dao.GetDemoRecord(path)
	if err != nil || cached == nil {
		return nil, err
	}
	rec := fromCache(*cached)
	return &rec, nil
}

func (l *CacheLedger) Put(rec *Record) error {
	return l.dao.UpsertDemoRecord(&cache.DemoRecord{
		Path:      rec.Path,
		SourceURL: rec.SourceURL,
		ProductID: rec.ProductID,
		Purchaser: rec.Purchaser,
		Size:      rec.Size,
		Checksum:  rec.Checksum,
		RemoteURL: rec.RemoteURL,
		Outcome:   rec.Outcome,
		CreatedAt: rec.CreatedAt,
	})
}

func (l *CacheLedger) Delete(path string) error {
	return l.dao.DeleteDemoRecord(path)
}

func (l *CacheLedger) List(productID int64) ([]Record, error) {
	cached, err := l.dao.ListDemoRecords(productID)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(cached))
	for _, c := range cached {
		records = append(records, fromCache(c))
	}
	return records, nil
}

func (l *CacheLedger) DeleteAll(productID int64) (int64, error) {
	return l.dao.DeleteDemoRecords(productID)
}

func (l *CacheLedger) MarkPurged() error {
	return l.db.MarkPurged()
}

func fromCache(c cache.DemoRecord) Record {
	return Record{
		Path:      c.Path,
		SourceURL: c.SourceURL,
		ProductID: c.ProductID,
		Purchaser: c.Purchaser,
		Size:      c.Size,
		Checksum:  c.Checksum,
		RemoteURL: c.RemoteURL,
		Outcome:   c.Outcome,
		CreatedAt: c.CreatedAt,
	}
}
