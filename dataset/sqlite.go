package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/use-agent/pagesignal/models"
	"github.com/use-agent/pagesignal/scanner"
)

// Store keeps every batch and its per-URL results in a SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// OpenStore opens or creates the database at path.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("dataset: create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("dataset: open database: %w", err)
	}
	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, path: path}
	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("dataset: enable WAL: %w", err)
	}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("dataset: create tables: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		total INTEGER NOT NULL,
		succeeded INTEGER NOT NULL,
		failed INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS results (
		batch_id TEXT NOT NULL REFERENCES batches(id),
		url TEXT NOT NULL,
		label TEXT,
		success INTEGER NOT NULL,
		js_len INTEGER,
		js_obf_len INTEGER,
		js_external_count INTEGER,
		is_https INTEGER,
		whois_complete INTEGER,
		final_url TEXT,
		ssl_bypass_used INTEGER,
		used_proxy INTEGER,
		error TEXT,
		PRIMARY KEY (batch_id, url)
	);

	CREATE INDEX IF NOT EXISTS idx_results_url ON results(url);
	`
	_, err := s.db.ExecContext(context.Background(), schema)
	return err
}

// Write implements scanner.Sink.
func (s *Store) Write(ctx context.Context, b *scanner.Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dataset: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
	INSERT INTO batches (id, started_at, finished_at, total, succeeded, failed)
	VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.StartedAt, b.FinishedAt, len(b.Results), b.Succeeded(), b.Failed())
	if err != nil {
		return fmt.Errorf("dataset: insert batch: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO results (batch_id, url, label, success, js_len, js_obf_len, js_external_count,
		is_https, whois_complete, final_url, ssl_bypass_used, used_proxy, error)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("dataset: prepare: %w", err)
	}
	defer stmt.Close()

	for u, r := range b.Results {
		var jsLen, jsObf, jsExt, https, whois sql.NullInt64
		if r.Features != nil {
			jsLen = nullInt(r.Features.JSLen)
			jsObf = nullInt(r.Features.JSObfLen)
			jsExt = nullInt(r.Features.JSExternalCount)
		}
		if r.Metadata != nil {
			https = nullInt(r.Metadata.IsHTTPS)
			whois = nullInt(r.Metadata.WhoisComplete)
		}
		if _, err := stmt.ExecContext(ctx, b.ID, u, r.Label, r.Success, jsLen, jsObf, jsExt,
			https, whois, r.FinalURL, r.SSLBypassUsed, r.UsedProxy, r.Error); err != nil {
			return fmt.Errorf("dataset: insert result %s: %w", u, err)
		}
	}
	return tx.Commit()
}

// Results loads the result map of one stored batch.
func (s *Store) Results(ctx context.Context, batchID string) (map[string]*models.ScanResult, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT url, label, success, js_len, js_obf_len, js_external_count,
		is_https, whois_complete, final_url, ssl_bypass_used, used_proxy, error
	FROM results WHERE batch_id = ?`, batchID)
	if err != nil {
		return nil, fmt.Errorf("dataset: query results: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*models.ScanResult)
	for rows.Next() {
		var (
			u, label, finalURL, errMsg sql.NullString
			success, bypass, proxy     bool
			jsLen, jsObf, jsExt        sql.NullInt64
			https, whois               sql.NullInt64
		)
		if err := rows.Scan(&u, &label, &success, &jsLen, &jsObf, &jsExt,
			&https, &whois, &finalURL, &bypass, &proxy, &errMsg); err != nil {
			return nil, fmt.Errorf("dataset: scan result: %w", err)
		}
		r := &models.ScanResult{
			Success:       success,
			Label:         label.String,
			FinalURL:      finalURL.String,
			SSLBypassUsed: bypass,
			UsedProxy:     proxy,
			Error:         errMsg.String,
		}
		if success {
			r.Features = &models.FeatureRecord{
				JSLen:           int(jsLen.Int64),
				JSObfLen:        int(jsObf.Int64),
				JSExternalCount: int(jsExt.Int64),
			}
			r.Metadata = &models.MetadataRecord{
				IsHTTPS:       int(https.Int64),
				WhoisComplete: int(whois.Int64),
			}
		} else {
			r.FinalURLTried = u.String
		}
		out[u.String] = r
	}
	return out, rows.Err()
}

// BatchSummary is one row of the batches table.
type BatchSummary struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Total      int       `json:"total"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
}

// Batches lists stored batches, most recent first.
func (s *Store) Batches(ctx context.Context, limit int) ([]BatchSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, started_at, finished_at, total, succeeded, failed
	FROM batches ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("dataset: query batches: %w", err)
	}
	defer rows.Close()

	var out []BatchSummary
	for rows.Next() {
		var b BatchSummary
		if err := rows.Scan(&b.ID, &b.StartedAt, &b.FinishedAt, &b.Total, &b.Succeeded, &b.Failed); err != nil {
			return nil, fmt.Errorf("dataset: scan batch: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func nullInt(v int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: true}
}
