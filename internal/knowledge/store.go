package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Entry is one FAQ record: a canonical question, its answer, and the keywords
// used for relevance scoring.
type Entry struct {
	ID       int64    `json:"id" yaml:"id"`
	Question string   `json:"question" yaml:"question"`
	Keywords []string `json:"keywords" yaml:"keywords"`
	Answer   string   `json:"answer" yaml:"answer"`
}

// SQLiteStore persists FAQ entries in SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS faq_entries (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		question    TEXT NOT NULL UNIQUE,
		keywords    TEXT NOT NULL,
		answer      TEXT NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Upsert inserts an entry or replaces the keywords and answer of an existing
// question.
func (s *SQLiteStore) Upsert(ctx context.Context, e Entry) error {
	kw, err := json.Marshal(e.Keywords)
	if err != nil {
		return fmt.Errorf("cannot marshal keywords: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO faq_entries (question, keywords, answer)
		VALUES (?, ?, ?)
		ON CONFLICT(question) DO UPDATE SET
			keywords = excluded.keywords,
			answer = excluded.answer,
			updated_at = CURRENT_TIMESTAMP`,
		e.Question, string(kw), e.Answer)
	if err != nil {
		return fmt.Errorf("cannot upsert faq entry: %w", err)
	}
	return nil
}

// List returns all FAQ entries ordered by id.
func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, question, keywords, answer FROM faq_entries ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("cannot query faq entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var kw string
		if err := rows.Scan(&e.ID, &e.Question, &kw, &e.Answer); err != nil {
			return nil, fmt.Errorf("cannot scan faq entry: %w", err)
		}
		if err := json.Unmarshal([]byte(kw), &e.Keywords); err != nil {
			// A broken keywords column shouldn't hide the entry.
			e.Keywords = strings.Fields(strings.ToLower(e.Question))
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns how many entries the store holds.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM faq_entries`).Scan(&n)
	return n, err
}

// Delete removes an entry by id.
func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM faq_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("cannot delete faq entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("faq entry %d not found", id)
	}
	return nil
}
