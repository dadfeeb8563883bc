package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	_ "modernc.org/sqlite" // SQLite driver
)

const (
	appName         = "cv-ranker"
	dbFileName      = "history.db"
	defaultRecent   = 20
	timestampLayout = time.RFC3339Nano
)

// DefaultDir returns the data directory the local history lives in.
func DefaultDir() string {
	return filepath.Join(xdg.DataHome, appName)
}

// SQLite stores entries in a local database file.
type SQLite struct {
	db   *sql.DB
	path string
}

var (
	_ Recorder = (*SQLite)(nil)
	_ Reader   = (*SQLite)(nil)
)

// OpenSQLite opens or creates the history database in dir. An empty dir selects DefaultDir.
func OpenSQLite(ctx context.Context, dir string) (*SQLite, error) {
	if strings.TrimSpace(dir) == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	path := filepath.Join(dir, dbFileName)
	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		query TEXT NOT NULL,
		result TEXT NOT NULL,
		files_count INTEGER NOT NULL,
		status TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_user ON requests(user_id);
	CREATE INDEX IF NOT EXISTS idx_requests_timestamp ON requests(timestamp);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create history tables: %w", err)
	}

	return &SQLite{db: db, path: path}, nil
}

// Path returns the database file.
func (s *SQLite) Path() string { return s.path }

func (s *SQLite) Record(ctx context.Context, e Entry) error {
	e = e.Normalized()
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO requests (request_id, user_id, timestamp, query, result, files_count, status)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.RequestID, e.UserID, e.Timestamp.Format(timestampLayout), e.Query, e.Result, e.FilesCount, string(e.Status),
	)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

// Recent returns the latest entries, of all users when userID is empty.
func (s *SQLite) Recent(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultRecent
	}

	query := `SELECT request_id, user_id, timestamp, query, result, files_count, status FROM requests`
	args := []any{}
	if userID = strings.TrimSpace(userID); userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e      Entry
			ts     string
			status string
		)
		if err := rows.Scan(&e.RequestID, &e.UserID, &ts, &e.Query, &e.Result, &e.FilesCount, &status); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		if e.Timestamp, err = time.Parse(timestampLayout, ts); err != nil {
			return nil, fmt.Errorf("parse history timestamp %q: %w", ts, err)
		}
		e.Status = Status(status)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
