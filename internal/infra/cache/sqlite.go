// Package cache provides the SQLite store behind the catalog and the demo
// file ledger.
package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog/log"
)

const (
	// CurrentSchemaVersion is the current database schema version.
	CurrentSchemaVersion = "1"

	// DefaultDBPath is the default path for the database.
	DefaultDBPath = "data/bandfront.db"
)

// DB represents the SQLite database.
type DB struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// NewDB creates a new database instance.
func NewDB(path string) *DB {
	if path == "" {
		path = DefaultDBPath
	}
	return &DB{
		path: path,
	}
}

// Open opens the database and initializes the schema.
func (d *DB) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	dir := filepath.Dir(d.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", d.path+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	d.db = db

	if err := d.initSchema(); err != nil {
		d.db.Close()
		d.db = nil
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().Str("path", d.path).Msg("Database opened")
	return nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		err := d.db.Close()
		d.db = nil
		return err
	}
	return nil
}

func (d *DB) initSchema() error {
	currentVersion := d.getSchemaVersion()

	if currentVersion == "" {
		if err := d.createSchema(); err != nil {
			return err
		}
		return d.setMeta("schema_version", CurrentSchemaVersion)
	}

	if currentVersion != CurrentSchemaVersion {
		log.Info().
			Str("current", currentVersion).
			Str("target", CurrentSchemaVersion).
			Msg("Migrating schema")
		return d.setMeta("schema_version", CurrentSchemaVersion)
	}

	return nil
}

func (d *DB) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		demo_enabled INTEGER,
		demo_percent INTEGER,
		play_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT DEFAULT CURRENT_TIMESTAMP,
		updated_at TEXT DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS product_files (
		product_id INTEGER NOT NULL,
		file_index TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0,
		name TEXT NOT NULL DEFAULT '',
		file_url TEXT NOT NULL,
		play_src INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (product_id, file_index)
	);

	CREATE TABLE IF NOT EXISTS purchases (
		product_id INTEGER NOT NULL,
		purchaser_hash TEXT NOT NULL,
		purchased_at TEXT DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (product_id, purchaser_hash)
	);

	-- One row per file in the demo cache directory
	CREATE TABLE IF NOT EXISTS demo_records (
		path TEXT PRIMARY KEY,
		source_url TEXT NOT NULL,
		product_id INTEGER NOT NULL,
		purchaser TEXT NOT NULL DEFAULT '',
		size INTEGER NOT NULL DEFAULT 0,
		checksum TEXT,
		remote_url TEXT,
		outcome TEXT,
		created_at TEXT DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS cache_meta (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at TEXT DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_demo_records_product ON demo_records(product_id);
	CREATE INDEX IF NOT EXISTS idx_demo_records_source ON demo_records(source_url);
	`

	_, err := d.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	log.Info().Msg("Schema created")
	return nil
}

func (d *DB) getSchemaVersion() string {
	var version string
	err := d.db.QueryRow("SELECT value FROM cache_meta WHERE key = 'schema_version'").Scan(&version)
	if err != nil {
		return ""
	}
	return version
}

func (d *DB) setMeta(key, value string) error {
	now := time.Now().Format(time.RFC3339)
	_, err := d.db.Exec(`
		INSERT INTO cache_meta (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, now)
	return err
}

func (d *DB) getMeta(key string) (string, error) {
	var value string
	err := d.db.QueryRow("SELECT value FROM cache_meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// GetStats returns store statistics.
func (d *DB) GetStats() (*CacheStats, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return nil, fmt.Errorf("database not open")
	}

	stats := &CacheStats{}

	counts := []struct {
		query string
		dest  any
	}{
		{"SELECT COUNT(*) FROM products", &stats.ProductCount},
		{"SELECT COUNT(*) FROM product_files", &stats.FileCount},
		{"SELECT COUNT(*) FROM purchases", &stats.PurchaseCount},
		{"SELECT COUNT(*) FROM demo_records", &stats.DemoCount},
		{"SELECT COALESCE(SUM(size), 0) FROM demo_records WHERE remote_url IS NULL OR remote_url = ''", &stats.DemoBytes},
		{"SELECT COALESCE(SUM(play_count), 0) FROM products", &stats.TotalPlays},
	}
	for _, c := range counts {
		if err := d.db.QueryRow(c.query).Scan(c.dest); err != nil {
			return nil, err
		}
	}

	stats.SchemaVersion, _ = d.getMeta("schema_version")

	if lastPurge, _ := d.getMeta("last_purge"); lastPurge != "" {
		stats.LastPurge, _ = time.Parse(time.RFC3339, lastPurge)
	}
	if lastUpdated, _ := d.getMeta("last_updated"); lastUpdated != "" {
		stats.LastUpdated, _ = time.Parse(time.RFC3339, lastUpdated)
	}

	return stats, nil
}

// BeginTx starts a new transaction.
func (d *DB) BeginTx() (*sql.Tx, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return nil, fmt.Errorf("database not open")
	}

	return d.db.Begin()
}

// MarkPurged records the time of the last demo purge.
func (d *DB) MarkPurged() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.db == nil {
		return fmt.Errorf("database not open")
	}
	return d.setMeta("last_purge", time.Now().Format(time.RFC3339))
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer the DAO methods.
func (d *DB) DB() *sql.DB {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db
}
