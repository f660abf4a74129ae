package cache

import (
	"database/sql"
	"fmt"
	"time"
)

// DAO provides data access operations for the store.
type DAO struct {
	db *DB
}

// NewDAO creates a new DAO instance.
func NewDAO(db *DB) *DAO {
	return &DAO{db: db}
}

// --- Product Operations ---

// UpsertProduct inserts or updates a product and replaces its file list.
// The play counter of an existing product is kept.
func (dao *DAO) UpsertProduct(p *Product) error {
	tx, err := dao.db.BeginTx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().Format(time.RFC3339)
	_, err = tx.Exec(`
		INSERT INTO products (id, title, demo_enabled, demo_percent, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			demo_enabled = excluded.demo_enabled,
			demo_percent = excluded.demo_percent,
			updated_at = excluded.updated_at
	`, p.ID, p.Title, nullBool(p.DemoEnabled), nullInt(p.DemoPercent), now, now)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM product_files WHERE product_id = ?", p.ID); err != nil {
		return fmt.Errorf("clear product files: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO product_files (product_id, file_index, position, name, file_url, play_src)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, f := range p.Files {
		if _, err := stmt.Exec(p.ID, f.Index, i, f.Name, f.URL, f.PlaySrc); err != nil {
			return fmt.Errorf("insert product file %s: %w", f.Index, err)
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO cache_meta (key, value, updated_at) VALUES ('last_updated', ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, now, now); err != nil {
		return fmt.Errorf("touch last_updated: %w", err)
	}

	return tx.Commit()
}

// GetProduct retrieves a product with its files. Returns nil, nil when the
// product does not exist.
func (dao *DAO) GetProduct(id int64) (*Product, error) {
	db := dao.db.DB()
	if db == nil {
		return nil, fmt.Errorf("database not open")
	}

	var (
		p         Product
		enabled   sql.NullInt64
		percent   sql.NullInt64
		updatedAt sql.NullString
	)
	err := db.QueryRow(`
		SELECT id, title, demo_enabled, demo_percent, play_count, updated_at
		FROM products WHERE id = ?
	`, id).Scan(&p.ID, &p.Title, &enabled, &percent, &p.PlayCount, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if enabled.Valid {
		v := enabled.Int64 != 0
		p.DemoEnabled = &v
	}
	if percent.Valid {
		v := int(percent.Int64)
		p.DemoPercent = &v
	}
	if updatedAt.Valid {
		p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt.String)
	}

	rows, err := db.Query(`
		SELECT file_index, name, file_url, play_src
		FROM product_files WHERE product_id = ?
		ORDER BY position
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var f ProductFile
		if err := rows.Scan(&f.Index, &f.Name, &f.URL, &f.PlaySrc); err != nil {
			return nil, err
		}
		p.Files = append(p.Files, f)
	}
	return &p, rows.Err()
}

// IncrementPlayCount bumps the play counter and returns the new value.
func (dao *DAO) IncrementPlayCount(productID int64) (int64, error) {
	db := dao.db.DB()
	if db == nil {
		return 0, fmt.Errorf("database not open")
	}

	var count int64
	err := db.QueryRow(`
		UPDATE products SET play_count = play_count + 1 WHERE id = ?
		RETURNING play_count
	`, productID).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return count, err
}

// --- Purchase Operations ---

// RecordPurchase stores that purchaserHash bought productID.
func (dao *DAO) RecordPurchase(productID int64, purchaserHash string) error {
	db := dao.db.DB()
	if db == nil {
		return fmt.Errorf("database not open")
	}

	_, err := db.Exec(`
		INSERT INTO purchases (product_id, purchaser_hash, purchased_at) VALUES (?, ?, ?)
		ON CONFLICT(product_id, purchaser_hash) DO NOTHING
	`, productID, purchaserHash, time.Now().Format(time.RFC3339))
	return err
}

// HasPurchase reports whether purchaserHash bought productID.
func (dao *DAO) HasPurchase(productID int64, purchaserHash string) (bool, error) {
	db := dao.db.DB()
	if db == nil {
		return false, fmt.Errorf("database not open")
	}

	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM purchases WHERE product_id = ? AND purchaser_hash = ?
	`, productID, purchaserHash).Scan(&n)
	return n > 0, err
}

// --- Demo Ledger Operations ---

// UpsertDemoRecord inserts or replaces the ledger entry for rec.Path.
func (dao *DAO) UpsertDemoRecord(rec *DemoRecord) error {
	db := dao.db.DB()
	if db == nil {
		return fmt.Errorf("database not open")
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := db.Exec(`
		INSERT INTO demo_records (path, source_url, product_id, purchaser, size, checksum, remote_url, outcome, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			source_url = excluded.source_url,
			product_id = excluded.product_id,
			purchaser = excluded.purchaser,
			size = excluded.size,
			checksum = excluded.checksum,
			remote_url = excluded.remote_url,
			outcome = excluded.outcome,
			created_at = excluded.created_at
	`,
		rec.Path, rec.SourceURL, rec.ProductID, rec.Purchaser, rec.Size,
		nullString(rec.Checksum), nullString(rec.RemoteURL), nullString(rec.Outcome),
		createdAt.Format(time.RFC3339),
	)
	return err
}

// GetDemoRecord retrieves the ledger entry for path. Returns nil, nil when
// there is none.
func (dao *DAO) GetDemoRecord(path string) (*DemoRecord, error) {
	db := dao.db.DB()
	if db == nil {
		return nil, fmt.Errorf("database not open")
	}

	rows, err := db.Query(demoRecordSelect+" WHERE path = ?", path)
	if err != nil {
		return nil, err
	}
	records, err := scanDemoRecords(rows)
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return &records[0], nil
}

// ListDemoRecords returns the ledger entries for a product, or all entries
// when productID is 0.
func (dao *DAO) ListDemoRecords(productID int64) ([]DemoRecord, error) {
	db := dao.db.DB()
	if db == nil {
		return nil, fmt.Errorf("database not open")
	}

	var (
		rows *sql.Rows
		err  error
	)
	if productID == 0 {
		rows, err = db.Query(demoRecordSelect + " ORDER BY created_at")
	} else {
		rows, err = db.Query(demoRecordSelect+" WHERE product_id = ? ORDER BY created_at", productID)
	}
	if err != nil {
		return nil, err
	}
	return scanDemoRecords(rows)
}

// DeleteDemoRecord removes the ledger entry for path.
func (dao *DAO) DeleteDemoRecord(path string) error {
	db := dao.db.DB()
	if db == nil {
		return fmt.Errorf("database not open")
	}

	_, err := db.Exec("DELETE FROM demo_records WHERE path = ?", path)
	return err
}

// DeleteDemoRecords removes the ledger entries of a product, or all entries
// when productID is 0, and returns the number removed.
func (dao *DAO) DeleteDemoRecords(productID int64) (int64, error) {
	db := dao.db.DB()
	if db == nil {
		return 0, fmt.Errorf("database not open")
	}

	var (
		res sql.Result
		err error
	)
	if productID == 0 {
		res, err = db.Exec("DELETE FROM demo_records")
	} else {
		res, err = db.Exec("DELETE FROM demo_records WHERE product_id = ?", productID)
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const demoRecordSelect = `
	SELECT path, source_url, product_id, purchaser, size, checksum, remote_url, outcome, created_at
	FROM demo_records`

func scanDemoRecords(rows *sql.Rows) ([]DemoRecord, error) {
	defer rows.Close()

	var records []DemoRecord
	for rows.Next() {
		var (
			rec                          DemoRecord
			checksum, remoteURL, outcome sql.NullString
			createdAt                    sql.NullString
		)
		err := rows.Scan(&rec.Path, &rec.SourceURL, &rec.ProductID, &rec.Purchaser, &rec.Size,
			&checksum, &remoteURL, &outcome, &createdAt)
		if err != nil {
			return nil, err
		}
		rec.Checksum = checksum.String
		rec.RemoteURL = remoteURL.String
		rec.Outcome = outcome.String
		if createdAt.Valid {
			rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt.String)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}
