package wizard

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/repo-butler/internal/config"
	"github.com/ashureev/repo-butler/internal/domain"
	"github.com/ashureev/repo-butler/internal/store"
)

// Sender delivers outbound chat messages.
type Sender interface {
	// Send delivers a plain message, optionally with an inline keyboard.
	Send(ctx context.Context, chatID int64, text string, keyboard Keyboard) error

	// Prompt delivers a question that the transport marks as expecting a
	// direct reply from the addressed user.
	Prompt(ctx context.Context, chatID int64, text string) error

	// Edit replaces the text and keyboard of a previously sent message.
	Edit(ctx context.Context, chatID int64, messageID int, text string, keyboard Keyboard) error
}

// Provisioner is the repository-provisioning collaborator.
type Provisioner interface {
	RepositoryExists(ctx context.Context, name string) (bool, error)
	TeamsForUser(ctx context.Context, login string) ([]domain.Team, error)
	CreateRepository(ctx context.Context, req *domain.RepoRequest) (*domain.ProvisionResult, error)
}

// TeamDirectory is the read-only cached team registry.
type TeamDirectory interface {
	All() []domain.Team
	ByID(id int64) (domain.Team, bool)
}

// Reply is an inbound text message, possibly quoting the question it
// answers.
type Reply struct {
	ChatID    int64
	UserID    int64
	Username  string
	MessageID int
	ReplyTo   string
	Text      string
	At        time.Time
}

// MenuSelection is an inbound button press.
type MenuSelection struct {
	ChatID    int64
	UserID    int64
	Username  string
	MessageID int
	Token     string
	At        time.Time
}

// session is the state of the active wizard run. It exists only while the
// session lock is held and is mutated exclusively under the coordinator
// mutex.
type session struct {
	owner  domain.SessionOwner
	step   Step
	team   *domain.Team
	ledger *Ledger

	// prompt is the last outbound question text; replies quoting an older
	// prompt are not treated as answers to the current step.
	prompt string
	// pendingID is the persisted row of the currently open question.
	pendingID int64
}

// Coordinator orchestrates the wizard: it receives transport events, routes
// them through the step logic, maintains the ledger, brackets each step
// with the idle monitor, and calls the provisioner at the terminal step.
// A single mutex serializes all event handling, so the session slot, the
// ledger, and the lock can never race.
type Coordinator struct {
	mu      sync.Mutex
	cfg     *config.Config
	sender  Sender
	prov    Provisioner
	teams   TeamDirectory
	repo    store.Repository
	lock    *SessionLock
	monitor *IdleMonitor
	sess    *session

	now func() time.Time
}

// New creates a wizard coordinator.
func New(cfg *config.Config, sender Sender, prov Provisioner, teams TeamDirectory, repo store.Repository) *Coordinator {
	c := &Coordinator{
		cfg:    cfg,
		sender: sender,
		prov:   prov,
		teams:  teams,
		repo:   repo,
		lock:   NewSessionLock(),
		now:    time.Now,
	}
	c.monitor = NewIdleMonitor(cfg.TimeoutPeriod, c.onIdle)
	return c
}

// Owner returns the current session owner, or nil when no wizard run is
// active.
func (c *Coordinator) Owner() *domain.SessionOwner {
	return c.lock.Owner()
}

// OnReply routes an inbound text message.
func (c *Coordinator) OnReply(ctx context.Context, r Reply) {
	if c.stale(r.At) {
		slog.Debug("ignoring stale message", "chat_id", r.ChatID, "user_id", r.UserID, "age", c.now().Sub(r.At))
		return
	}
	if r.ChatID != c.cfg.AllowedChatID {
		c.send(ctx, r.ChatID, "Access denied", nil)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if strings.HasPrefix(r.Text, "/") {
		c.handleCommand(ctx, r)
		return
	}

	if c.sess == nil {
		c.sendUsage(ctx, r.ChatID)
		return
	}
	if c.sess.owner.UserID != r.UserID {
		c.deflect(ctx, r.ChatID, r.Username)
		return
	}
	if r.ReplyTo != "" && r.ReplyTo != c.sess.prompt {
		// Answer to a question that is no longer current.
		c.sendUsage(ctx, r.ChatID)
		return
	}

	c.monitor.Disarm()

	switch c.sess.step {
	case StepIdentity:
		c.handleIdentity(ctx, strings.TrimSpace(r.Text))
	case StepRepoName:
		c.handleRepoName(ctx, strings.TrimSpace(r.Text))
	case StepDescription:
		c.handleDescription(ctx, strings.TrimSpace(r.Text))
	default:
		c.sendUsage(ctx, r.ChatID)
		c.monitor.Arm()
	}
}

// OnMenuSelection routes an inbound button press.
func (c *Coordinator) OnMenuSelection(ctx context.Context, sel MenuSelection) {
	if c.stale(sel.At) {
		slog.Debug("ignoring stale selection", "chat_id", sel.ChatID, "user_id", sel.UserID)
		return
	}
	if sel.ChatID != c.cfg.AllowedChatID {
		c.send(ctx, sel.ChatID, "Access denied", nil)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess == nil {
		c.sendUsage(ctx, sel.ChatID)
		return
	}
	if c.sess.owner.UserID != sel.UserID {
		c.deflect(ctx, sel.ChatID, sel.Username)
		return
	}

	c.monitor.Disarm()

	switch {
	case sel.Token == tokenReset:
		c.abandon(ctx, "Reset", "Session abandoned. Send /create to start over.")
	case sel.Token == tokenCreateRepo && c.sess.step == StepMenu:
		c.handleCreateSelected(ctx)
	case (sel.Token == tokenSecurity || sel.Token == tokenNoSecurity) && c.sess.step == StepSecurity:
		c.handleSecurityAnswer(ctx, sel.MessageID, sel.Token)
	case (sel.Token == tokenCore || sel.Token == tokenNoCore) && c.sess.step == StepMultiTeam:
		c.handleMultiTeamAnswer(ctx, sel.Token)
	case c.sess.step == StepTeamChoice:
		c.handleTeamChosen(ctx, sel.Token)
	default:
		c.sendUsage(ctx, sel.ChatID)
		c.monitor.Arm()
	}
}

func (c *Coordinator) handleCommand(ctx context.Context, r Reply) {
	firstWord, _, _ := strings.Cut(r.Text, " ")
	// Strip the @botname suffix used when addressing the bot in a group.
	command, _, _ := strings.Cut(firstWord, "@")

	switch command {
	case "/create":
		c.startWizard(ctx, r)
	case "/reset":
		c.resetCommand(ctx, r)
	default:
		c.sendUsage(ctx, r.ChatID)
	}
}

func (c *Coordinator) startWizard(ctx context.Context, r Reply) {
	if c.sess != nil {
		if c.sess.owner.UserID == r.UserID {
			// Already mid-run: remind the current question.
			c.send(ctx, r.ChatID, c.sess.prompt, nil)
			c.monitor.Arm()
		} else {
			c.deflect(ctx, r.ChatID, r.Username)
		}
		return
	}

	if !c.lock.TryAcquire(r.UserID, r.ChatID, r.Username) {
		c.deflect(ctx, r.ChatID, r.Username)
		return
	}

	c.sess = &session{
		owner: domain.SessionOwner{
			UserID:   r.UserID,
			ChatID:   r.ChatID,
			Username: r.Username,
			LockedAt: c.now(),
		},
		step:   StepMenu,
		ledger: NewLedger(),
	}

	greeting := c.handle() + menuText
	if team := c.knownTeam(ctx); team != nil {
		c.sess.team = team
		greeting += "\nYour team is \"" + team.Name + "\""
	}

	c.sess.ledger.Ask(StepMenu)
	c.persistAsk(ctx, StepMenu)
	c.sess.prompt = greeting

	c.send(ctx, r.ChatID, greeting, Keyboard{{
		{Label: "Create Repo", Token: tokenCreateRepo},
	}})
	slog.Info("wizard session started", "chat_id", r.ChatID, "user_id", r.UserID, "username", r.Username)
	c.monitor.Arm()
}

func (c *Coordinator) resetCommand(ctx context.Context, r Reply) {
	if c.sess == nil {
		c.sendUsage(ctx, r.ChatID)
		return
	}
	if c.sess.owner.UserID != r.UserID {
		c.deflect(ctx, r.ChatID, r.Username)
		return
	}
	c.monitor.Disarm()
	c.abandon(ctx, "Reset", "Session abandoned. Send /create to start over.")
}

func (c *Coordinator) handleCreateSelected(ctx context.Context) {
	c.answer(ctx, StepMenu, tokenCreateRepo)

	if c.sess.team != nil {
		// Team already resolved from history; record it and skip identity.
		c.recordTeam(ctx, *c.sess.team)
		c.askRepoName(ctx)
		return
	}

	c.sess.step = StepIdentity
	c.askPrompted(ctx, StepIdentity)
}

func (c *Coordinator) handleIdentity(ctx context.Context, account string) {
	if !ValidIdentifier(account) {
		c.send(ctx, c.sess.owner.ChatID, c.handle()+"Incorrect format.", nil)
		c.repromptCurrent(ctx)
		return
	}

	c.answer(ctx, StepIdentity, account)

	candidates, err := c.prov.TeamsForUser(ctx, account)
	if err != nil {
		slog.Warn("team resolution failed, falling back to manual selection",
			"account", account, "error", err)
		candidates = nil
	}

	switch len(candidates) {
	case 1:
		c.recordTeam(ctx, candidates[0])
		c.askRepoName(ctx)
	case 0:
		c.offerTeams(ctx, c.teams.All())
	default:
		c.offerTeams(ctx, candidates)
	}
}

func (c *Coordinator) offerTeams(ctx context.Context, candidates []domain.Team) {
	c.sess.step = StepTeamChoice
	c.sess.ledger.Ask(StepTeamChoice)
	c.persistAsk(ctx, StepTeamChoice)

	const maxRowLength = 2
	var keyboard Keyboard
	var row []Button
	for _, team := range candidates {
		if len(row) == maxRowLength {
			keyboard = append(keyboard, row)
			row = nil
		}
		row = append(row, Button{Label: team.Name, Token: strconv.FormatInt(team.ID, 10)})
	}
	if len(row) > 0 {
		keyboard = append(keyboard, row)
	}

	text := c.handle() + questionTeam
	c.sess.prompt = text
	c.send(ctx, c.sess.owner.ChatID, text, keyboard)
	c.monitor.Arm()
}

func (c *Coordinator) handleTeamChosen(ctx context.Context, token string) {
	id, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		c.sendUsage(ctx, c.sess.owner.ChatID)
		c.monitor.Arm()
		return
	}
	team, ok := c.teams.ByID(id)
	if !ok {
		c.send(ctx, c.sess.owner.ChatID, c.handle()+"Unknown team, please choose again.", nil)
		c.offerTeams(ctx, c.teams.All())
		return
	}

	c.recordTeamAnswer(ctx, team)
	c.askRepoName(ctx)
}

func (c *Coordinator) handleRepoName(ctx context.Context, name string) {
	if !ValidIdentifier(name) {
		c.send(ctx, c.sess.owner.ChatID, c.handle()+"Incorrect format.", nil)
		c.repromptCurrent(ctx)
		return
	}

	exists, err := c.prov.RepositoryExists(ctx, name)
	if err != nil {
		// The name is re-checked by the backend at creation time, so an
		// unreachable backend here does not have to block the wizard.
		slog.Warn("repository existence check failed", "repo", name, "error", err)
	}
	if exists {
		c.send(ctx, c.sess.owner.ChatID, c.handle()+"Repository with this name already exists.", nil)
		c.repromptCurrent(ctx)
		return
	}

	c.answer(ctx, StepRepoName, name)
	c.sess.step = StepDescription
	c.askPrompted(ctx, StepDescription)
}

func (c *Coordinator) handleDescription(ctx context.Context, description string) {
	c.answer(ctx, StepDescription, description)

	if c.sess.team != nil && c.sess.team.Security {
		// The owning team already is the security team, so no additional
		// security team is ever needed.
		c.sess.ledger.Ask(StepSecurity)
		c.persistAsk(ctx, StepSecurity)
		c.answer(ctx, StepSecurity, tokenNoSecurity)
		c.afterSecurity(ctx, 0)
		return
	}

	c.sess.step = StepSecurity
	c.sess.ledger.Ask(StepSecurity)
	c.persistAsk(ctx, StepSecurity)
	text := c.handle() + questionSecurity
	c.sess.prompt = text
	c.send(ctx, c.sess.owner.ChatID, text, yesNoKeyboard(tokenSecurity, tokenNoSecurity))
	c.monitor.Arm()
}

func (c *Coordinator) handleSecurityAnswer(ctx context.Context, messageID int, token string) {
	c.answer(ctx, StepSecurity, token)
	c.afterSecurity(ctx, messageID)
}

func (c *Coordinator) afterSecurity(ctx context.Context, messageID int) {
	c.sess.ledger.Ask(StepMultiTeam)
	c.persistAsk(ctx, StepMultiTeam)

	if c.sess.team != nil && c.sess.team.Core {
		// The core team's repositories are shared by definition.
		c.answer(ctx, StepMultiTeam, tokenCore)
		c.provision(ctx)
		return
	}

	c.sess.step = StepMultiTeam
	text := c.handle() + questionMultiTeam
	c.sess.prompt = text
	keyboard := yesNoKeyboard(tokenCore, tokenNoCore)
	if messageID != 0 {
		c.edit(ctx, c.sess.owner.ChatID, messageID, text, keyboard)
	} else {
		c.send(ctx, c.sess.owner.ChatID, text, keyboard)
	}
	c.monitor.Arm()
}

func (c *Coordinator) handleMultiTeamAnswer(ctx context.Context, token string) {
	c.answer(ctx, StepMultiTeam, token)
	c.provision(ctx)
}

// provision is the terminal transition. Whatever the outcome, the session
// closes and the lock is released.
func (c *Coordinator) provision(ctx context.Context) {
	c.sess.step = StepProvisioning
	c.sess.ledger.Ask(StepProvisioning)
	c.persistAsk(ctx, StepProvisioning)

	owner := c.sess.owner
	c.send(ctx, owner.ChatID, c.handle()+"Creating repository. Please wait...", nil)

	req := c.sess.ledger.Fold(owner.ChatID, owner.UserID)
	result, err := c.prov.CreateRepository(ctx, req)
	if err != nil {
		slog.Error("repository provisioning failed",
			"repo", req.RepoName, "team_id", req.TeamID, "error", err)
		result = &domain.ProvisionResult{
			Success: false,
			Message: "Repository creation failed: " + err.Error(),
		}
	}

	c.answer(ctx, StepProvisioning, result.Message)
	c.send(ctx, owner.ChatID, result.Message, nil)
	slog.Info("wizard run finished",
		"success", result.Success,
		"repo", req.RepoName,
		"team_id", req.TeamID,
		"add_security_team", req.AddSecurityTeam,
		"add_core_team", req.AddCoreTeam,
		"user_id", owner.UserID)

	c.closeSession()
}

// onIdle is the timeout monitor callback: the quiet period elapsed with no
// step progress, so the session is abandoned.
func (c *Coordinator) onIdle() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess == nil {
		return
	}
	owner := c.sess.owner
	slog.Info("wizard session timed out", "chat_id", owner.ChatID, "user_id", owner.UserID)
	c.abandon(ctx, "Timeout",
		"@"+owner.Username+" Sorry, but time is out. Please create your repository again.")
}

// abandon records a terminal audit entry, notifies the user, and closes the
// session. Caller holds the coordinator mutex.
func (c *Coordinator) abandon(ctx context.Context, reason, notice string) {
	owner := c.sess.owner
	entry := &domain.HistoryEntry{
		ChatID:   owner.ChatID,
		UserID:   owner.UserID,
		Username: owner.Username,
		Question: reason,
	}
	if _, err := c.repo.AppendEntry(ctx, entry); err != nil {
		slog.Warn("failed to persist session end entry", "reason", reason, "error", err)
	}
	c.send(ctx, owner.ChatID, notice, nil)
	c.closeSession()
}

func (c *Coordinator) closeSession() {
	c.monitor.Disarm()
	c.lock.Release()
	c.sess = nil
}

// knownTeam resolves the requester's team from persisted history, if any.
func (c *Coordinator) knownTeam(ctx context.Context) *domain.Team {
	owner := c.sess.owner
	entry, err := c.repo.LatestAnswer(ctx, owner.ChatID, owner.UserID, StepTeamChoice.Question())
	if err != nil {
		slog.Warn("failed to look up known team", "user_id", owner.UserID, "error", err)
		return nil
	}
	if entry == nil {
		return nil
	}
	id, err := strconv.ParseInt(entry.Answer, 10, 64)
	if err != nil {
		return nil
	}
	team, ok := c.teams.ByID(id)
	if !ok {
		return nil
	}
	return &team
}

// recordTeam writes a full question/answer pair for a team that was
// resolved without asking the user.
func (c *Coordinator) recordTeam(ctx context.Context, team domain.Team) {
	c.sess.ledger.Ask(StepTeamChoice)
	c.persistAsk(ctx, StepTeamChoice)
	c.recordTeamAnswer(ctx, team)
}

func (c *Coordinator) recordTeamAnswer(ctx context.Context, team domain.Team) {
	c.sess.team = &team
	c.answer(ctx, StepTeamChoice, strconv.FormatInt(team.ID, 10))
}

// askPrompted sends the step's question as a force-reply prompt and arms
// the idle monitor.
func (c *Coordinator) askPrompted(ctx context.Context, step Step) {
	c.sess.ledger.Ask(step)
	c.persistAsk(ctx, step)
	text := c.handle() + step.Question()
	c.sess.prompt = text
	c.prompt(ctx, c.sess.owner.ChatID, text)
	c.monitor.Arm()
}

func (c *Coordinator) askRepoName(ctx context.Context) {
	c.sess.step = StepRepoName
	c.askPrompted(ctx, StepRepoName)
}

// repromptCurrent re-sends the current question after a rejected answer.
// The ledger does not advance.
func (c *Coordinator) repromptCurrent(ctx context.Context) {
	c.prompt(ctx, c.sess.owner.ChatID, c.sess.prompt)
	c.monitor.Arm()
}

// answer records a step answer in the ledger and persists it on the open
// history row.
func (c *Coordinator) answer(ctx context.Context, step Step, text string) {
	c.sess.ledger.Answer(step, text)
	if c.sess.pendingID == 0 {
		return
	}
	if err := c.repo.SetAnswer(ctx, c.sess.pendingID, text); err != nil {
		slog.Warn("failed to persist answer", "step", step.String(), "error", err)
	}
	c.sess.pendingID = 0
}

// persistAsk appends the open question to the durable ledger. History
// persistence is best-effort: a storage failure never blocks the wizard.
func (c *Coordinator) persistAsk(ctx context.Context, step Step) {
	owner := c.sess.owner
	id, err := c.repo.AppendEntry(ctx, &domain.HistoryEntry{
		ChatID:   owner.ChatID,
		UserID:   owner.UserID,
		Username: owner.Username,
		Question: step.Question(),
	})
	if err != nil {
		slog.Warn("failed to persist question", "step", step.String(), "error", err)
		c.sess.pendingID = 0
		return
	}
	c.sess.pendingID = id
}

func (c *Coordinator) deflect(ctx context.Context, chatID int64, username string) {
	owner := c.lock.Owner()
	ownerName := "another user"
	if owner != nil {
		ownerName = "@" + owner.Username
	}
	c.send(ctx, chatID,
		"@"+username+" Please, wait for user "+ownerName+" to finish creating repository", nil)
}

func (c *Coordinator) sendUsage(ctx context.Context, chatID int64) {
	c.send(ctx, chatID, usageText, nil)
}

// handle returns the "@username" prefix for generated prompts.
func (c *Coordinator) handle() string {
	return "@" + c.sess.owner.Username + "\n"
}

func (c *Coordinator) stale(at time.Time) bool {
	if at.IsZero() {
		return false
	}
	return c.now().Sub(at) > c.cfg.TotalTimeLimit
}

func (c *Coordinator) send(ctx context.Context, chatID int64, text string, keyboard Keyboard) {
	if err := c.sender.Send(ctx, chatID, text, keyboard); err != nil {
		slog.Warn("failed to send message", "chat_id", chatID, "error", err)
	}
}

func (c *Coordinator) prompt(ctx context.Context, chatID int64, text string) {
	if err := c.sender.Prompt(ctx, chatID, text); err != nil {
		slog.Warn("failed to send prompt", "chat_id", chatID, "error", err)
	}
}

func (c *Coordinator) edit(ctx context.Context, chatID int64, messageID int, text string, keyboard Keyboard) {
	if err := c.sender.Edit(ctx, chatID, messageID, text, keyboard); err != nil {
		slog.Warn("failed to edit message", "chat_id", chatID, "error", err)
	}
}
