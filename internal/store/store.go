// Package store caches finished analyses in SQLite, keyed by document content
// hash and form type.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dgallion1/filingsum/internal/analysis"
)

// Analysis is a stored analysis result.
type Analysis struct {
	ContentHash string           `json:"content_hash"`
	FormType    string           `json:"form_type"`
	Filename    string           `json:"filename"`
	Title       string           `json:"title"`
	Labels      []string         `json:"labels_found"`
	Entries     []analysis.Entry `json:"entries,omitempty"`
	Results     int              `json:"results"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Store is a SQLite-backed analysis cache.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS analyses (
	content_hash TEXT NOT NULL,
	form_type    TEXT NOT NULL,
	filename     TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	labels       TEXT NOT NULL DEFAULT '[]',
	entries      TEXT NOT NULL DEFAULT '[]',
	results      INTEGER NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL,
	PRIMARY KEY (content_hash, form_type)
);
CREATE INDEX IF NOT EXISTS idx_analyses_created ON analyses(created_at DESC);
`

// Open opens (creating if needed) the database at path. Pass ":memory:" for
// a private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Every new connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveAnalysis inserts or replaces the analysis for its hash and form type.
func (s *Store) SaveAnalysis(ctx context.Context, a *Analysis) error {
	if a.ContentHash == "" || a.FormType == "" {
		return errors.New("analysis needs content hash and form type")
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	labels, err := json.Marshal(nonNil(a.Labels))
	if err != nil {
		return fmt.Errorf("marshal labels: %w", err)
	}
	entries, err := json.Marshal(a.Entries)
	if err != nil {
		return fmt.Errorf("marshal entries: %w", err)
	}
	a.Results = countResults(a.Entries)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analyses (content_hash, form_type, filename, title, labels, entries, results, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_hash, form_type) DO UPDATE SET
			filename = excluded.filename,
			title = excluded.title,
			labels = excluded.labels,
			entries = excluded.entries,
			results = excluded.results,
			created_at = excluded.created_at`,
		a.ContentHash, a.FormType, a.Filename, a.Title, string(labels), string(entries), a.Results, a.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("saving analysis: %w", err)
	}
	return nil
}

// GetAnalysis returns the stored analysis, or nil if there is none.
func (s *Store) GetAnalysis(ctx context.Context, contentHash, formType string) (*Analysis, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT content_hash, form_type, filename, title, labels, entries, results, created_at
		FROM analyses WHERE content_hash = ? AND form_type = ?`, contentHash, formType)

	var (
		a               Analysis
		labels, entries string
		created         int64
	)
	err := row.Scan(&a.ContentHash, &a.FormType, &a.Filename, &a.Title, &labels, &entries, &a.Results, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting analysis: %w", err)
	}
	if err := json.Unmarshal([]byte(labels), &a.Labels); err != nil {
		return nil, fmt.Errorf("decoding labels: %w", err)
	}
	if err := json.Unmarshal([]byte(entries), &a.Entries); err != nil {
		return nil, fmt.Errorf("decoding entries: %w", err)
	}
	a.CreatedAt = time.Unix(0, created).UTC()
	return &a, nil
}

// ListAnalyses returns stored analyses newest first, without their entries.
func (s *Store) ListAnalyses(ctx context.Context, limit int) ([]Analysis, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT content_hash, form_type, filename, title, labels, results, created_at
		FROM analyses ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing analyses: %w", err)
	}
	defer rows.Close()

	out := []Analysis{}
	for rows.Next() {
		var (
			a       Analysis
			labels  string
			created int64
		)
		if err := rows.Scan(&a.ContentHash, &a.FormType, &a.Filename, &a.Title, &labels, &a.Results, &created); err != nil {
			return nil, fmt.Errorf("scanning analysis: %w", err)
		}
		if err := json.Unmarshal([]byte(labels), &a.Labels); err != nil {
			return nil, fmt.Errorf("decoding labels: %w", err)
		}
		a.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAnalysis removes a stored analysis and reports whether it existed.
func (s *Store) DeleteAnalysis(ctx context.Context, contentHash, formType string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM analyses WHERE content_hash = ? AND form_type = ?`, contentHash, formType)
	if err != nil {
		return false, fmt.Errorf("deleting analysis: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func countResults(entries []analysis.Entry) int {
	n := 0
	for _, e := range entries {
		if e.Kind == analysis.KindResult {
			n++
		}
	}
	return n
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
