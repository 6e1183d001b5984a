package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cloq-dev/cloq/interfaces"
	_ "github.com/mattn/go-sqlite3"
)

// catalogTimeLayout is fixed-width so that text ordering matches time ordering.
const catalogTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteCatalog persists artifact records in a SQLite database.
type SQLiteCatalog struct {
	db *sql.DB
}

// NewSQLiteCatalog opens the database at dsn (a file path or ":memory:") and
// ensures the schema exists.
func NewSQLiteCatalog(dsn string) (*SQLiteCatalog, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}
	// SQLite serializes writers; a single connection also keeps ":memory:" coherent.
	db.SetMaxOpenConns(1)

	c := &SQLiteCatalog{db: db}
	if err := c.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return c, nil
}

func (c *SQLiteCatalog) createTables() error {
	createArtifactsTable := `
	CREATE TABLE IF NOT EXISTS artifacts (
		id TEXT PRIMARY KEY,
		vendor_id TEXT NOT NULL,
		name TEXT NOT NULL,
		version TEXT NOT NULL,
		size INTEGER NOT NULL,
		checksum TEXT NOT NULL,
		envelope_version INTEGER NOT NULL,
		backend TEXT NOT NULL,
		uploaded_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_artifacts_vendor ON artifacts(vendor_id);`

	_, err := c.db.Exec(createArtifactsTable)
	return err
}

// Insert adds a record. Identifiers are never reused.
func (c *SQLiteCatalog) Insert(ctx context.Context, rec *interfaces.ArtifactRecord) error {
	query := `
	INSERT INTO artifacts (id, vendor_id, name, version, size, checksum, envelope_version, backend, uploaded_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := c.db.ExecContext(ctx, query,
		rec.ID.String(), rec.VendorID, rec.Name, rec.Version,
		rec.Size, rec.Checksum, rec.EnvelopeVersion, rec.Backend,
		rec.UploadedAt.UTC().Format(catalogTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to insert artifact record: %w", err)
	}
	return nil
}

const selectArtifact = `
	SELECT id, vendor_id, name, version, size, checksum, envelope_version, backend, uploaded_at
	FROM artifacts`

// Get returns the record for id or ErrArtifactNotFound.
func (c *SQLiteCatalog) Get(ctx context.Context, id interfaces.ArtifactID) (*interfaces.ArtifactRecord, error) {
	row := c.db.QueryRowContext(ctx, selectArtifact+` WHERE id = ?`, id.String())
	rec, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact record: %w", err)
	}
	return rec, nil
}

// List returns records newest first, optionally filtered by vendor.
func (c *SQLiteCatalog) List(ctx context.Context, vendorID string) ([]interfaces.ArtifactRecord, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if vendorID == "" {
		rows, err = c.db.QueryContext(ctx, selectArtifact+` ORDER BY uploaded_at DESC, id`)
	} else {
		rows, err = c.db.QueryContext(ctx, selectArtifact+` WHERE vendor_id = ? ORDER BY uploaded_at DESC, id`, vendorID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list artifact records: %w", err)
	}
	defer rows.Close()

	records := []interfaces.ArtifactRecord{}
	for rows.Next() {
		rec, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan artifact record: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// Stats summarizes the catalog.
func (c *SQLiteCatalog) Stats(ctx context.Context) (*interfaces.CatalogStats, error) {
	stats := &interfaces.CatalogStats{}
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size), 0), COUNT(DISTINCT NULLIF(vendor_id, '')) FROM artifacts`,
	).Scan(&stats.TotalArtifacts, &stats.TotalBytes, &stats.Vendors)
	if err != nil {
		return nil, fmt.Errorf("failed to compute catalog stats: %w", err)
	}
	return stats, nil
}

// Close releases the database.
func (c *SQLiteCatalog) Close() error {
	return c.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row rowScanner) (*interfaces.ArtifactRecord, error) {
	rec := &interfaces.ArtifactRecord{}
	var id, uploadedAt string
	err := row.Scan(&id, &rec.VendorID, &rec.Name, &rec.Version,
		&rec.Size, &rec.Checksum, &rec.EnvelopeVersion, &rec.Backend, &uploadedAt)
	if err != nil {
		return nil, err
	}
	rec.ID = interfaces.ArtifactID(id)
	rec.UploadedAt, err = time.Parse(catalogTimeLayout, uploadedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse uploaded_at timestamp: %w", err)
	}
	return rec, nil
}
