// Package domain contains core domain types for the repo-butler bot.
package domain

import (
	"time"
)

// HistoryEntry is one question/answer record in the per-conversation ledger.
// Answer stays empty until the reply to Question arrives.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chat_id"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Answered returns true once a reply has been recorded for this entry.
func (e *HistoryEntry) Answered() bool {
	return e.Answer != ""
}
