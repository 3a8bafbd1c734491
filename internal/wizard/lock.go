package wizard

import (
	"sync"
	"time"

	"github.com/ashureev/repo-butler/internal/domain"
)

// SessionLock is the single global slot recording which user currently owns
// the active wizard run. At most one owner exists system-wide; a second
// requester is deflected, never queued.
type SessionLock struct {
	mu    sync.Mutex
	owner *domain.SessionOwner
}

// NewSessionLock creates an empty session lock.
func NewSessionLock() *SessionLock {
	return &SessionLock{}
}

// TryAcquire claims the slot for the given user. It fails if the slot is
// already held, including by the same user.
func (l *SessionLock) TryAcquire(userID, chatID int64, username string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.owner != nil {
		return false
	}
	l.owner = &domain.SessionOwner{
		UserID:   userID,
		ChatID:   chatID,
		Username: username,
		LockedAt: time.Now(),
	}
	return true
}

// Release clears the slot unconditionally.
func (l *SessionLock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.owner = nil
}

// IsHeldBy reports whether the slot is currently held by the given user.
func (l *SessionLock) IsHeldBy(userID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner != nil && l.owner.UserID == userID
}

// Held reports whether the slot is occupied.
func (l *SessionLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner != nil
}

// Owner returns a copy of the current owner, or nil if the slot is empty.
func (l *SessionLock) Owner() *domain.SessionOwner {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner == nil {
		return nil
	}
	owner := *l.owner
	return &owner
}
