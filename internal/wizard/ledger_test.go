package wizard

import (
	"testing"
)

func TestLedger_FoldFullRun(t *testing.T) {
	l := NewLedger()

	l.Ask(StepMenu)
	l.Answer(StepMenu, tokenCreateRepo)
	l.Ask(StepTeamChoice)
	l.Answer(StepTeamChoice, "7")
	l.Ask(StepRepoName)
	l.Answer(StepRepoName, "sample-service")
	l.Ask(StepDescription)
	l.Answer(StepDescription, "demo")
	l.Ask(StepSecurity)
	l.Answer(StepSecurity, tokenNoSecurity)
	l.Ask(StepMultiTeam)
	l.Answer(StepMultiTeam, tokenCore)

	req := l.Fold(100, 1)

	if req.ChatID != 100 || req.UserID != 1 {
		t.Errorf("unexpected identity: chat=%d user=%d", req.ChatID, req.UserID)
	}
	if req.TeamID != 7 {
		t.Errorf("expected team 7, got %d", req.TeamID)
	}
	if req.RepoName != "sample-service" {
		t.Errorf("expected repo name sample-service, got %q", req.RepoName)
	}
	if req.Description != "demo" {
		t.Errorf("expected description demo, got %q", req.Description)
	}
	if req.AddSecurityTeam {
		t.Error("expected AddSecurityTeam false")
	}
	if !req.AddCoreTeam {
		t.Error("expected AddCoreTeam true")
	}
	if req.MenuAction != tokenCreateRepo {
		t.Errorf("expected menu action %q, got %q", tokenCreateRepo, req.MenuAction)
	}
}

func TestLedger_FoldLatestAnswerWins(t *testing.T) {
	l := NewLedger()

	l.Ask(StepRepoName)
	l.Answer(StepRepoName, "first-name")
	l.Ask(StepRepoName)
	l.Answer(StepRepoName, "second-name")

	req := l.Fold(100, 1)
	if req.RepoName != "second-name" {
		t.Errorf("expected latest answer to win, got %q", req.RepoName)
	}
}

func TestLedger_FoldIgnoresDuplicateNoOps(t *testing.T) {
	build := func(extraDupes bool) *Ledger {
		l := NewLedger()
		l.Ask(StepTeamChoice)
		l.Answer(StepTeamChoice, "3")
		l.Ask(StepRepoName)
		l.Answer(StepRepoName, "svc")
		if extraDupes {
			l.Answer(StepTeamChoice, "3")
			l.Answer(StepRepoName, "svc")
		}
		l.Ask(StepDescription)
		l.Answer(StepDescription, "d")
		return l
	}

	plain := build(false).Fold(100, 1)
	noisy := build(true).Fold(100, 1)

	if *plain != *noisy {
		t.Errorf("fold must be deterministic under duplicate no-op answers:\nplain=%+v\nnoisy=%+v", plain, noisy)
	}
}

func TestLedger_FoldUnansweredStaysZero(t *testing.T) {
	l := NewLedger()
	l.Ask(StepRepoName)
	l.Answer(StepRepoName, "svc")
	l.Ask(StepSecurity)
	// Security question asked but never answered.

	req := l.Fold(100, 1)
	if req.AddSecurityTeam || req.AddCoreTeam {
		t.Error("unanswered questions must leave zero values")
	}
	if req.TeamID != 0 {
		t.Errorf("expected zero team id, got %d", req.TeamID)
	}
	if req.Description != "" {
		t.Errorf("expected empty description, got %q", req.Description)
	}
}

func TestValidIdentifier(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"my-repo.1", true},
		{"a_b", true},
		{"Repo123", true},
		{"my repo", false},
		{"a/b", false},
		{"", false},
		{"répo", false},
	}

	for _, tt := range tests {
		if got := ValidIdentifier(tt.input); got != tt.want {
			t.Errorf("ValidIdentifier(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
