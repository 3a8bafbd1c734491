package domain

import (
	"time"
)

// RepoRequest is the finalized provisioning request, built once by folding
// the ledger immediately before the terminal provisioning call.
type RepoRequest struct {
	ChatID          int64  `json:"chat_id"`
	UserID          int64  `json:"user_id"`
	TeamID          int64  `json:"team_id"`
	RepoName        string `json:"repo_name"`
	Description     string `json:"description"`
	AddSecurityTeam bool   `json:"add_security_team"`
	AddCoreTeam     bool   `json:"add_core_team"`
	MenuAction      string `json:"menu_action,omitempty"`
}

// ProvisionResult is the outcome of a provisioning call, relayed verbatim
// to the requesting user.
type ProvisionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// SessionOwner identifies who currently holds the wizard session slot.
type SessionOwner struct {
	UserID   int64     `json:"user_id"`
	ChatID   int64     `json:"chat_id"`
	Username string    `json:"username"`
	LockedAt time.Time `json:"locked_at"`
}
