package wizard

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/repo-butler/internal/config"
	"github.com/ashureev/repo-butler/internal/domain"
)

type outbound struct {
	chatID   int64
	text     string
	keyboard Keyboard
	prompted bool
	edited   bool
}

type fakeSender struct {
	mu   sync.Mutex
	sent []outbound
}

func (f *fakeSender) Send(_ context.Context, chatID int64, text string, keyboard Keyboard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, outbound{chatID: chatID, text: text, keyboard: keyboard})
	return nil
}

func (f *fakeSender) Prompt(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, outbound{chatID: chatID, text: text, prompted: true})
	return nil
}

func (f *fakeSender) Edit(_ context.Context, chatID int64, _ int, text string, keyboard Keyboard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, outbound{chatID: chatID, text: text, keyboard: keyboard, edited: true})
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeSender) last() outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return outbound{}
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeSender) countContaining(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, msg := range f.sent {
		if strings.Contains(msg.text, substr) {
			n++
		}
	}
	return n
}

type fakeRepo struct {
	mu      sync.Mutex
	entries []*domain.HistoryEntry
	nextID  int64
}

func (f *fakeRepo) AppendEntry(_ context.Context, entry *domain.HistoryEntry) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	stored := *entry
	stored.ID = f.nextID
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	f.entries = append(f.entries, &stored)
	return stored.ID, nil
}

func (f *fakeRepo) SetAnswer(_ context.Context, id int64, answer string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, entry := range f.entries {
		if entry.ID == id {
			entry.Answer = answer
			return nil
		}
	}
	return nil
}

func (f *fakeRepo) LatestEntry(_ context.Context, chatID, userID int64) (*domain.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.entries) - 1; i >= 0; i-- {
		if f.entries[i].ChatID == chatID && f.entries[i].UserID == userID {
			return f.entries[i], nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) LatestAnswer(_ context.Context, chatID, userID int64, question string) (*domain.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.entries) - 1; i >= 0; i-- {
		entry := f.entries[i]
		if entry.ChatID == chatID && entry.UserID == userID && entry.Question == question && entry.Answer != "" {
			return entry, nil
		}
	}
	return nil, nil
}

func (f *fakeRepo) History(_ context.Context, chatID, userID int64) ([]*domain.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.HistoryEntry
	for _, entry := range f.entries {
		if entry.ChatID == chatID && entry.UserID == userID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (f *fakeRepo) DeleteEntry(_ context.Context, id int64) error { return nil }

func (f *fakeRepo) PurgeOlderThan(_ context.Context, _ time.Duration) (int64, error) {
	return 0, nil
}

func (f *fakeRepo) Ping(_ context.Context) error { return nil }
func (f *fakeRepo) Close() error                 { return nil }

func (f *fakeRepo) entryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func (f *fakeRepo) hasQuestion(question string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, entry := range f.entries {
		if entry.Question == question {
			return true
		}
	}
	return false
}

type fakeProvisioner struct {
	mu        sync.Mutex
	userTeams map[string][]domain.Team
	existing  map[string]bool
	created   []*domain.RepoRequest
	result    *domain.ProvisionResult
	createErr error
}

func (f *fakeProvisioner) RepositoryExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existing[name], nil
}

func (f *fakeProvisioner) TeamsForUser(_ context.Context, login string) ([]domain.Team, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.userTeams[login], nil
}

func (f *fakeProvisioner) CreateRepository(_ context.Context, req *domain.RepoRequest) (*domain.ProvisionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.result != nil {
		return f.result, nil
	}
	return &domain.ProvisionResult{
		Success: true,
		Message: "Repository \"" + req.RepoName + "\" successfully created.",
	}, nil
}

func (f *fakeProvisioner) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type fakeDirectory struct {
	teams []domain.Team
}

func (f fakeDirectory) All() []domain.Team { return f.teams }

func (f fakeDirectory) ByID(id int64) (domain.Team, bool) {
	for _, team := range f.teams {
		if team.ID == id {
			return team, true
		}
	}
	return domain.Team{}, false
}

const testChatID = int64(100)

var (
	coreTeam     = domain.Team{ID: 7, Name: "Core", Slug: "core", Core: true}
	securityTeam = domain.Team{ID: 8, Name: "Security", Slug: "security", Security: true}
	plainTeam    = domain.Team{ID: 9, Name: "Backend", Slug: "backend"}
)

type fixture struct {
	coord  *Coordinator
	sender *fakeSender
	repo   *fakeRepo
	prov   *fakeProvisioner
}

func newFixture(timeout time.Duration) *fixture {
	cfg := &config.Config{
		AllowedChatID:  testChatID,
		TimeoutPeriod:  timeout,
		TotalTimeLimit: 10 * time.Minute,
	}
	sender := &fakeSender{}
	repo := &fakeRepo{}
	prov := &fakeProvisioner{
		userTeams: map[string][]domain.Team{},
		existing:  map[string]bool{},
	}
	dir := fakeDirectory{teams: []domain.Team{plainTeam, coreTeam, securityTeam}}

	return &fixture{
		coord:  New(cfg, sender, prov, dir, repo),
		sender: sender,
		repo:   repo,
		prov:   prov,
	}
}

func (f *fixture) reply(userID int64, username, text string) {
	f.coord.OnReply(context.Background(), Reply{
		ChatID:   testChatID,
		UserID:   userID,
		Username: username,
		Text:     text,
		At:       time.Now(),
	})
}

func (f *fixture) press(userID int64, username, token string) {
	f.coord.OnMenuSelection(context.Background(), MenuSelection{
		ChatID:    testChatID,
		UserID:    userID,
		Username:  username,
		MessageID: 10,
		Token:     token,
		At:        time.Now(),
	})
}

func TestCoordinator_EndToEnd(t *testing.T) {
	f := newFixture(time.Hour)
	f.prov.userTeams["alice-gh"] = []domain.Team{coreTeam}

	f.reply(1, "alice", "/create")
	if owner := f.coord.Owner(); owner == nil || owner.Username != "alice" {
		t.Fatalf("expected alice to own the session, got %+v", owner)
	}
	if last := f.sender.last(); !strings.Contains(last.text, menuText) || last.keyboard == nil {
		t.Fatalf("expected menu with keyboard, got %+v", last)
	}

	f.press(1, "alice", tokenCreateRepo)
	if last := f.sender.last(); !last.prompted || !strings.Contains(last.text, questionAccount) {
		t.Fatalf("expected identity prompt, got %+v", last)
	}

	f.reply(1, "alice", "alice-gh")
	if last := f.sender.last(); !strings.Contains(last.text, questionName) {
		t.Fatalf("expected repo name prompt after single-team resolution, got %+v", last)
	}

	f.reply(1, "alice", "sample-service")
	if last := f.sender.last(); !strings.Contains(last.text, questionDescription) {
		t.Fatalf("expected description prompt, got %+v", last)
	}

	f.reply(1, "alice", "demo")
	if last := f.sender.last(); !strings.Contains(last.text, questionSecurity) {
		t.Fatalf("expected security question, got %+v", last)
	}

	f.press(1, "alice", tokenNoSecurity)

	if got := f.prov.createdCount(); got != 1 {
		t.Fatalf("expected one provisioning call, got %d", got)
	}
	req := f.prov.created[0]
	if req.TeamID != coreTeam.ID {
		t.Errorf("expected team %d, got %d", coreTeam.ID, req.TeamID)
	}
	if req.RepoName != "sample-service" || req.Description != "demo" {
		t.Errorf("unexpected request: %+v", req)
	}
	if req.AddSecurityTeam {
		t.Error("expected AddSecurityTeam false")
	}
	if !req.AddCoreTeam {
		t.Error("core-flagged team must auto-answer the multi-team question with yes")
	}
	if req.ChatID != testChatID || req.UserID != 1 {
		t.Errorf("unexpected requester identity: %+v", req)
	}

	if last := f.sender.last(); !strings.Contains(last.text, "successfully created") {
		t.Errorf("expected success message relayed, got %q", last.text)
	}
	if f.coord.Owner() != nil {
		t.Error("session lock must be empty after completion")
	}
}

func TestCoordinator_AccessDenied(t *testing.T) {
	f := newFixture(time.Hour)

	f.coord.OnReply(context.Background(), Reply{
		ChatID:   999,
		UserID:   1,
		Username: "alice",
		Text:     "/create",
		At:       time.Now(),
	})

	if last := f.sender.last(); last.text != "Access denied" || last.chatID != 999 {
		t.Errorf("expected access denied reply, got %+v", last)
	}
	if f.coord.Owner() != nil {
		t.Error("no session may be created for a disallowed chat")
	}
	if f.repo.entryCount() != 0 {
		t.Error("no ledger mutation may happen for a disallowed chat")
	}
}

func TestCoordinator_MutualExclusion(t *testing.T) {
	f := newFixture(time.Hour)

	f.reply(1, "alice", "/create")
	f.press(1, "alice", tokenCreateRepo)
	entriesBefore := f.repo.entryCount()

	// Bob tries everything while alice holds the slot.
	f.reply(2, "bob", "some text")
	f.reply(2, "bob", "/create")
	f.press(2, "bob", tokenCreateRepo)
	f.press(2, "bob", tokenNoSecurity)

	if got := f.sender.countContaining("Please, wait for user @alice"); got != 4 {
		t.Errorf("expected 4 deflection notices, got %d", got)
	}
	if f.repo.entryCount() != entriesBefore {
		t.Error("deflected events must not mutate the ledger")
	}
	if owner := f.coord.Owner(); owner == nil || owner.UserID != 1 {
		t.Errorf("alice must still own the session, got %+v", owner)
	}

	// Alice can still continue where she left off.
	f.reply(1, "alice", "alice-gh")
	if last := f.sender.last(); !strings.Contains(last.text, questionTeam) {
		t.Errorf("expected team selection for unresolved identity, got %+v", last)
	}
}

func TestCoordinator_RepoNameValidation(t *testing.T) {
	f := newFixture(time.Hour)
	f.prov.userTeams["alice-gh"] = []domain.Team{plainTeam}

	f.reply(1, "alice", "/create")
	f.press(1, "alice", tokenCreateRepo)
	f.reply(1, "alice", "alice-gh")

	for _, bad := range []string{"my repo", "a/b"} {
		f.reply(1, "alice", bad)
		if got := f.sender.countContaining("Incorrect format."); got == 0 {
			t.Fatalf("expected rejection for %q", bad)
		}
		if last := f.sender.last(); !strings.Contains(last.text, questionName) {
			t.Fatalf("expected re-prompt of the name question after %q, got %+v", bad, last)
		}
	}

	// A valid name still advances afterwards.
	f.reply(1, "alice", "my-repo.1")
	if last := f.sender.last(); !strings.Contains(last.text, questionDescription) {
		t.Errorf("expected description prompt after valid name, got %+v", last)
	}
}

func TestCoordinator_RepoNameConflict(t *testing.T) {
	f := newFixture(time.Hour)
	f.prov.userTeams["alice-gh"] = []domain.Team{plainTeam}
	f.prov.existing["taken"] = true

	f.reply(1, "alice", "/create")
	f.press(1, "alice", tokenCreateRepo)
	f.reply(1, "alice", "alice-gh")

	f.reply(1, "alice", "taken")
	if got := f.sender.countContaining("already exists"); got != 1 {
		t.Errorf("expected conflict notice, got %d", got)
	}
	if last := f.sender.last(); !strings.Contains(last.text, questionName) {
		t.Errorf("expected re-prompt of the name question, got %+v", last)
	}

	f.reply(1, "alice", "fresh-name")
	if last := f.sender.last(); !strings.Contains(last.text, questionDescription) {
		t.Errorf("expected description prompt after unused name, got %+v", last)
	}
}

func TestCoordinator_SecuritySkipForSecurityTeam(t *testing.T) {
	f := newFixture(time.Hour)
	f.prov.userTeams["sec-user"] = []domain.Team{securityTeam}

	f.reply(3, "carol", "/create")
	f.press(3, "carol", tokenCreateRepo)
	f.reply(3, "carol", "sec-user")
	f.reply(3, "carol", "audit-service")
	f.reply(3, "carol", "audit trail")

	// The security question must never reach the user.
	if got := f.sender.countContaining(questionSecurity); got != 0 {
		t.Errorf("security question must be skipped for the security team, sent %d times", got)
	}
	if last := f.sender.last(); !strings.Contains(last.text, questionMultiTeam) {
		t.Errorf("expected multi-team question next, got %+v", last)
	}

	f.press(3, "carol", tokenNoCore)
	if got := f.prov.createdCount(); got != 1 {
		t.Fatalf("expected one provisioning call, got %d", got)
	}
	req := f.prov.created[0]
	if req.AddSecurityTeam {
		t.Error("security team's own repos never add an extra security team")
	}
	if req.AddCoreTeam {
		t.Error("expected AddCoreTeam false after explicit no")
	}
}

func TestCoordinator_MultiTeamAnswerRecorded(t *testing.T) {
	f := newFixture(time.Hour)
	f.prov.userTeams["dev"] = []domain.Team{plainTeam}

	f.reply(1, "alice", "/create")
	f.press(1, "alice", tokenCreateRepo)
	f.reply(1, "alice", "dev")
	f.reply(1, "alice", "svc")
	f.reply(1, "alice", "desc")
	f.press(1, "alice", tokenSecurity)

	if last := f.sender.last(); !strings.Contains(last.text, questionMultiTeam) {
		t.Fatalf("expected multi-team question, got %+v", last)
	}

	f.press(1, "alice", tokenCore)
	req := f.prov.created[0]
	if !req.AddSecurityTeam {
		t.Error("expected AddSecurityTeam true after yes")
	}
	if !req.AddCoreTeam {
		t.Error("expected AddCoreTeam true after yes")
	}
}

func TestCoordinator_ProvisionFailureReleasesLock(t *testing.T) {
	f := newFixture(time.Hour)
	f.prov.userTeams["alice-gh"] = []domain.Team{coreTeam}
	f.prov.createErr = errors.New("boom")

	f.reply(1, "alice", "/create")
	f.press(1, "alice", tokenCreateRepo)
	f.reply(1, "alice", "alice-gh")
	f.reply(1, "alice", "svc")
	f.reply(1, "alice", "desc")
	f.press(1, "alice", tokenNoSecurity)

	if got := f.sender.countContaining("Repository creation failed: boom"); got != 1 {
		t.Errorf("expected failure message relayed, got %d", got)
	}
	if f.coord.Owner() != nil {
		t.Error("lock must be released even when provisioning fails")
	}

	// The slot is free for the next run.
	f.reply(2, "bob", "/create")
	if owner := f.coord.Owner(); owner == nil || owner.UserID != 2 {
		t.Errorf("expected bob to acquire the freed slot, got %+v", owner)
	}
}

func TestCoordinator_IdleTimeout(t *testing.T) {
	f := newFixture(40 * time.Millisecond)

	f.reply(1, "alice", "/create")
	time.Sleep(150 * time.Millisecond)

	if got := f.sender.countContaining("time is out"); got != 1 {
		t.Errorf("expected exactly one timeout notice, got %d", got)
	}
	if f.coord.Owner() != nil {
		t.Error("lock must be empty after timeout")
	}
	if !f.repo.hasQuestion("Timeout") {
		t.Error("timeout must append a Timeout ledger entry")
	}
}

func TestCoordinator_StepProgressResetsIdleWindow(t *testing.T) {
	f := newFixture(80 * time.Millisecond)
	f.prov.userTeams["alice-gh"] = []domain.Team{plainTeam}

	f.reply(1, "alice", "/create")
	time.Sleep(40 * time.Millisecond)

	// Progress rearms the window; the original window expiring must not
	// fire.
	f.press(1, "alice", tokenCreateRepo)
	time.Sleep(55 * time.Millisecond)

	if got := f.sender.countContaining("time is out"); got != 0 {
		t.Fatalf("monitor fired despite step progress: %d", got)
	}
	if f.coord.Owner() == nil {
		t.Fatal("session must still be active")
	}

	time.Sleep(120 * time.Millisecond)
	if got := f.sender.countContaining("time is out"); got != 1 {
		t.Errorf("expected exactly one timeout notice after real idleness, got %d", got)
	}
}

func TestCoordinator_StaleEventIgnored(t *testing.T) {
	f := newFixture(time.Hour)

	f.coord.OnReply(context.Background(), Reply{
		ChatID:   testChatID,
		UserID:   1,
		Username: "alice",
		Text:     "/create",
		At:       time.Now().Add(-30 * time.Minute),
	})

	if f.sender.count() != 0 {
		t.Errorf("stale events must be ignored, got %d messages", f.sender.count())
	}
	if f.coord.Owner() != nil {
		t.Error("stale events must not create a session")
	}
}

func TestCoordinator_ResetCommand(t *testing.T) {
	f := newFixture(time.Hour)

	f.reply(1, "alice", "/create")
	f.press(1, "alice", tokenCreateRepo)

	// Bob may not reset alice's run.
	f.reply(2, "bob", "/reset")
	if f.coord.Owner() == nil {
		t.Fatal("non-owner reset must not clear the session")
	}

	f.reply(1, "alice", "/reset")
	if f.coord.Owner() != nil {
		t.Error("owner reset must clear the session")
	}
	if !f.repo.hasQuestion("Reset") {
		t.Error("reset must append a Reset ledger entry")
	}
}

func TestCoordinator_KnownTeamSkipsIdentity(t *testing.T) {
	f := newFixture(time.Hour)
	f.repo.entries = append(f.repo.entries, &domain.HistoryEntry{
		ID:       1,
		ChatID:   testChatID,
		UserID:   1,
		Username: "alice",
		Question: StepTeamChoice.Question(),
		Answer:   "7",
	})
	f.repo.nextID = 1

	f.reply(1, "alice", "/create")
	if last := f.sender.last(); !strings.Contains(last.text, "Your team is \"Core\"") {
		t.Fatalf("expected returning-user greeting, got %+v", last)
	}

	f.press(1, "alice", tokenCreateRepo)
	if last := f.sender.last(); !strings.Contains(last.text, questionName) {
		t.Errorf("known team must skip straight to the repo name prompt, got %+v", last)
	}
	if got := f.sender.countContaining(questionAccount); got != 0 {
		t.Errorf("identity question must not be asked, sent %d times", got)
	}
}

func TestCoordinator_ManualTeamSelection(t *testing.T) {
	f := newFixture(time.Hour)
	// No teams resolve for this account, so the full list is offered.

	f.reply(1, "alice", "/create")
	f.press(1, "alice", tokenCreateRepo)
	f.reply(1, "alice", "nobody")

	last := f.sender.last()
	if !strings.Contains(last.text, questionTeam) || last.keyboard == nil {
		t.Fatalf("expected team list keyboard, got %+v", last)
	}
	buttons := 0
	for _, row := range last.keyboard {
		buttons += len(row)
	}
	if buttons != 3 {
		t.Errorf("expected all 3 cached teams offered, got %d buttons", buttons)
	}

	f.press(1, "alice", "9")
	if lastMsg := f.sender.last(); !strings.Contains(lastMsg.text, questionName) {
		t.Errorf("expected repo name prompt after team choice, got %+v", lastMsg)
	}
}
