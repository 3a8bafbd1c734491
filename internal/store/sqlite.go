package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/repo-butler/internal/domain"
	"github.com/ashureev/repo-butler/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS bot_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id INTEGER NOT NULL,
		user_id INTEGER NOT NULL,
		username TEXT NOT NULL,
		question TEXT NOT NULL,
		answer TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_history_conversation ON bot_history(chat_id, user_id, id);
	CREATE INDEX IF NOT EXISTS idx_history_created ON bot_history(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// execWithRetry executes a write statement, retrying briefly on SQLite
// concurrency conflicts that outlast the driver's busy timeout.
func (s *SQLiteStore) execWithRetry(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	const maxAttempts = 3

	var result sql.Result
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err = s.db.ExecContext(ctx, query, args...)
		if err == nil || !shared.IsSQLiteConflictError(err) {
			return result, err
		}
		slog.Warn("sqlite write conflict, retrying", "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
		}
	}
	return result, err
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// AppendEntry stores a new question entry and returns its assigned ID.
func (s *SQLiteStore) AppendEntry(ctx context.Context, entry *domain.HistoryEntry) (int64, error) {
	query := `
	INSERT INTO bot_history (chat_id, user_id, username, question, answer, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	var answer interface{}
	if entry.Answer != "" {
		answer = entry.Answer
	}

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	result, err := s.execWithRetry(ctx, query,
		entry.ChatID, entry.UserID, entry.Username,
		entry.Question, answer, createdAt.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("append history entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get inserted entry id: %w", err)
	}
	return id, nil
}

// SetAnswer records the answer on a previously appended entry.
func (s *SQLiteStore) SetAnswer(ctx context.Context, id int64, answer string) error {
	query := `UPDATE bot_history SET answer = ? WHERE id = ?`
	result, err := s.execWithRetry(ctx, query, answer, id)
	if err != nil {
		return fmt.Errorf("set answer: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("SetAnswer affected 0 rows", "entry_id", id)
	}
	return nil
}

// LatestEntry retrieves the most recent entry for a conversation.
func (s *SQLiteStore) LatestEntry(ctx context.Context, chatID, userID int64) (*domain.HistoryEntry, error) {
	query := `
	SELECT id, chat_id, user_id, username, question, answer, created_at
	FROM bot_history WHERE chat_id = ? AND user_id = ?
	ORDER BY id DESC LIMIT 1`

	return s.scanEntry(s.db.QueryRowContext(ctx, query, chatID, userID))
}

// LatestAnswer retrieves the most recent answered entry for a question.
func (s *SQLiteStore) LatestAnswer(ctx context.Context, chatID, userID int64, question string) (*domain.HistoryEntry, error) {
	query := `
	SELECT id, chat_id, user_id, username, question, answer, created_at
	FROM bot_history
	WHERE chat_id = ? AND user_id = ? AND question = ? AND answer IS NOT NULL
	ORDER BY id DESC LIMIT 1`

	return s.scanEntry(s.db.QueryRowContext(ctx, query, chatID, userID, question))
}

func (s *SQLiteStore) scanEntry(row *sql.Row) (*domain.HistoryEntry, error) {
	var entry domain.HistoryEntry
	var answer sql.NullString
	var createdAt int64

	err := row.Scan(
		&entry.ID, &entry.ChatID, &entry.UserID, &entry.Username,
		&entry.Question, &answer, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan history row: %w", err)
	}

	entry.Answer = answer.String
	entry.CreatedAt = time.Unix(createdAt, 0)
	return &entry, nil
}

// History retrieves all entries for a conversation, oldest first.
func (s *SQLiteStore) History(ctx context.Context, chatID, userID int64) ([]*domain.HistoryEntry, error) {
	query := `
	SELECT id, chat_id, user_id, username, question, answer, created_at
	FROM bot_history WHERE chat_id = ? AND user_id = ?
	ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, chatID, userID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close history rows", "error", closeErr)
		}
	}()

	var entries []*domain.HistoryEntry
	for rows.Next() {
		var entry domain.HistoryEntry
		var answer sql.NullString
		var createdAt int64

		if err := rows.Scan(
			&entry.ID, &entry.ChatID, &entry.UserID, &entry.Username,
			&entry.Question, &answer, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}

		entry.Answer = answer.String
		entry.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return entries, nil
}

// DeleteEntry removes a single entry by ID.
func (s *SQLiteStore) DeleteEntry(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM bot_history WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete history entry: %w", err)
	}
	return nil
}

// PurgeOlderThan removes entries older than the retention period.
func (s *SQLiteStore) PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	threshold := time.Now().Add(-retention).Unix()
	result, err := s.db.ExecContext(ctx, `DELETE FROM bot_history WHERE created_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("purge history: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
