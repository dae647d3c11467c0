// Package history persists completed transcriptions in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/joeyzenghuan/OpenTypeless/internal/domain"
)

// Store implements ports.HistoryStore on a local SQLite file.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the per-user database location.
func DefaultDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "Library", "Application Support", "OpenTypeless", "history.sqlite")
}

const schema = `
CREATE TABLE IF NOT EXISTS transcriptions (
	id TEXT PRIMARY KEY,
	createdAt INTEGER NOT NULL,
	language TEXT NOT NULL DEFAULT '',
	captureMs INTEGER NOT NULL DEFAULT 0,
	backendId TEXT NOT NULL DEFAULT '',
	backendName TEXT NOT NULL DEFAULT '',
	rawText TEXT NOT NULL,
	recognitionMs INTEGER NOT NULL DEFAULT 0,
	polishProvider TEXT,
	polishModel TEXT,
	polishMs INTEGER,
	polishedText TEXT,
	audioPath TEXT
);
CREATE INDEX IF NOT EXISTS idx_transcriptions_createdAt ON transcriptions(createdAt DESC);
`

// Open creates or opens the database at path with WAL enabled.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

// Append stores one completed transcription record.
func (s *Store) Append(ctx context.Context, record domain.TranscriptionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcriptions (
			id, createdAt, language, captureMs, backendId, backendName,
			rawText, recognitionMs, polishProvider, polishModel, polishMs,
			polishedText, audioPath
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID,
		record.CreatedAt.UnixMilli(),
		record.Language,
		record.CaptureDuration.Milliseconds(),
		record.BackendID,
		record.BackendName,
		record.RawText,
		record.RecognitionDuration.Milliseconds(),
		nullString(record.PolishProvider),
		nullString(record.PolishModel),
		nullInt(record.PolishDuration.Milliseconds()),
		nullString(record.PolishedText),
		nullString(record.AudioPath),
	)
	if err != nil {
		return fmt.Errorf("append transcription: %w", err)
	}
	return nil
}

// Delete removes one record by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM transcriptions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete transcription: %w", err)
	}
	return nil
}

// Clear removes all records.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM transcriptions`); err != nil {
		return fmt.Errorf("clear transcriptions: %w", err)
	}
	return nil
}

// Search returns records whose raw or polished text contains query, newest
// first.
func (s *Store) Search(ctx context.Context, query string) ([]domain.TranscriptionRecord, error) {
	like := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		WHERE rawText LIKE ? OR polishedText LIKE ?
		ORDER BY createdAt DESC
	`, like, like)
	if err != nil {
		return nil, fmt.Errorf("search transcriptions: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// List returns records newest first with limit/offset pagination.
func (s *Store) List(ctx context.Context, limit, offset int) ([]domain.TranscriptionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		ORDER BY createdAt DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list transcriptions: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

const selectColumns = `
	SELECT id, createdAt, language, captureMs, backendId, backendName,
		rawText, recognitionMs, polishProvider, polishModel, polishMs,
		polishedText, audioPath
	FROM transcriptions
`

func scanRecords(rows *sql.Rows) ([]domain.TranscriptionRecord, error) {
	var records []domain.TranscriptionRecord
	for rows.Next() {
		var r domain.TranscriptionRecord
		var createdAt, captureMs, recognitionMs int64
		var polishProvider, polishModel, polishedText, audioPath sql.NullString
		var polishMs sql.NullInt64

		if err := rows.Scan(
			&r.ID, &createdAt, &r.Language, &captureMs, &r.BackendID, &r.BackendName,
			&r.RawText, &recognitionMs, &polishProvider, &polishModel, &polishMs,
			&polishedText, &audioPath,
		); err != nil {
			return nil, fmt.Errorf("scan transcription: %w", err)
		}

		r.CreatedAt = time.UnixMilli(createdAt)
		r.CaptureDuration = time.Duration(captureMs) * time.Millisecond
		r.RecognitionDuration = time.Duration(recognitionMs) * time.Millisecond
		r.PolishProvider = polishProvider.String
		r.PolishModel = polishModel.String
		r.PolishedText = polishedText.String
		r.AudioPath = audioPath.String
		if polishMs.Valid {
			r.PolishDuration = time.Duration(polishMs.Int64) * time.Millisecond
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
