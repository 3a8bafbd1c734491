// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/repo-butler/internal/domain"
)

// Repository defines the interface for persisting the wizard history ledger.
type Repository interface {
	// AppendEntry stores a new question entry and returns its assigned ID.
	AppendEntry(ctx context.Context, entry *domain.HistoryEntry) (int64, error)

	// SetAnswer records the answer on a previously appended entry.
	SetAnswer(ctx context.Context, id int64, answer string) error

	// LatestEntry retrieves the most recent entry for a conversation, or
	// nil if the conversation has no history.
	LatestEntry(ctx context.Context, chatID, userID int64) (*domain.HistoryEntry, error)

	// LatestAnswer retrieves the most recent answered entry for a given
	// question in a conversation, or nil if the question was never answered.
	LatestAnswer(ctx context.Context, chatID, userID int64, question string) (*domain.HistoryEntry, error)

	// History retrieves all entries for a conversation, oldest first.
	History(ctx context.Context, chatID, userID int64) ([]*domain.HistoryEntry, error)

	// DeleteEntry removes a single entry by ID.
	DeleteEntry(ctx context.Context, id int64) error

	// PurgeOlderThan removes entries older than the retention period and
	// returns how many were deleted.
	PurgeOlderThan(ctx context.Context, retention time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
