package wizard

import (
	"strconv"
	"time"

	"github.com/ashureev/repo-butler/internal/domain"
)

// EventKind distinguishes ledger event types.
type EventKind int

const (
	// EventQuestion records that a step's question was asked.
	EventQuestion EventKind = iota
	// EventAnswer records the reply to a step's question.
	EventAnswer
)

// Event is one immutable record in the session ledger. Answers are separate
// events rather than in-place mutations of the question they close.
type Event struct {
	Kind EventKind
	Step Step
	Text string
	At   time.Time
}

// Ledger is the append-only in-memory record of questions asked and answers
// received during one wizard run. It is an audit trail and the input to
// Fold; the coordinator's explicit step field, not the ledger, is the
// authoritative dialogue state.
type Ledger struct {
	events []Event
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Ask appends a question event for the given step.
func (l *Ledger) Ask(step Step) {
	l.events = append(l.events, Event{
		Kind: EventQuestion,
		Step: step,
		Text: step.Question(),
		At:   time.Now(),
	})
}

// Answer appends an answer event for the given step.
func (l *Ledger) Answer(step Step, text string) {
	l.events = append(l.events, Event{
		Kind: EventAnswer,
		Step: step,
		Text: text,
		At:   time.Now(),
	})
}

// Events returns the recorded events, oldest first.
func (l *Ledger) Events() []Event {
	return l.events
}

// Len returns the number of recorded events.
func (l *Ledger) Len() int {
	return len(l.events)
}

// Fold derives the finalized provisioning request by scanning the ledger
// for the latest answer to each known question. Questions never answered
// leave their field at the zero value; duplicate answers resolve to the
// most recent one.
func (l *Ledger) Fold(chatID, userID int64) *domain.RepoRequest {
	req := &domain.RepoRequest{
		ChatID: chatID,
		UserID: userID,
	}

	for _, ev := range l.events {
		if ev.Kind != EventAnswer {
			continue
		}
		switch ev.Step {
		case StepMenu:
			req.MenuAction = ev.Text
		case StepTeamChoice:
			if id, err := strconv.ParseInt(ev.Text, 10, 64); err == nil {
				req.TeamID = id
			}
		case StepRepoName:
			req.RepoName = ev.Text
		case StepDescription:
			req.Description = ev.Text
		case StepSecurity:
			req.AddSecurityTeam = ev.Text == tokenSecurity
		case StepMultiTeam:
			req.AddCoreTeam = ev.Text == tokenCore
		}
	}

	return req
}
