// Package wizard implements the guided repository-creation dialogue: a
// single-owner session walked step by step from the start command to the
// terminal provisioning call.
package wizard

import (
	"regexp"
)

// Step identifies where in the fixed question sequence a session currently
// is. It is deliberately distinct from any user-facing prompt text, so
// wording can change without breaking state handling.
type Step int

const (
	StepIdle Step = iota
	StepMenu
	StepIdentity
	StepTeamChoice
	StepRepoName
	StepDescription
	StepSecurity
	StepMultiTeam
	StepProvisioning
)

// String returns a short name for logging.
func (s Step) String() string {
	switch s {
	case StepIdle:
		return "idle"
	case StepMenu:
		return "menu"
	case StepIdentity:
		return "identity"
	case StepTeamChoice:
		return "team_choice"
	case StepRepoName:
		return "repo_name"
	case StepDescription:
		return "description"
	case StepSecurity:
		return "security"
	case StepMultiTeam:
		return "multi_team"
	case StepProvisioning:
		return "provisioning"
	default:
		return "unknown"
	}
}

// Question returns the ledger label recorded when the step's question is
// asked. The label doubles as the audit-trail key; state handling never
// depends on it.
func (s Step) Question() string {
	switch s {
	case StepMenu:
		return menuText
	case StepIdentity:
		return questionAccount
	case StepTeamChoice:
		return questionTeam
	case StepRepoName:
		return questionName
	case StepDescription:
		return questionDescription
	case StepSecurity:
		return questionSecurity
	case StepMultiTeam:
		return questionMultiTeam
	case StepProvisioning:
		return questionProvisioning
	default:
		return ""
	}
}

// User-facing prompts. Generated messages prefix these with the requester's
// handle.
const (
	menuText             = "Create new repository"
	questionAccount      = "What is your GitHub account?"
	questionTeam         = "What is your team?"
	questionName         = "Enter repository name"
	questionDescription  = "Enter repository description"
	questionSecurity     = "Will service interact with sensitive data, finance operations or includes other security risks?"
	questionMultiTeam    = "Is it a common service which will be used by multiple teams?"
	questionProvisioning = "Create repository"
)

// Callback tokens carried by inline keyboard buttons.
const (
	tokenCreateRepo = "CreateGithubRepo"
	tokenSecurity   = "Security"
	tokenNoSecurity = "NoSecurity"
	tokenCore       = "Core"
	tokenNoCore     = "NoCore"
	tokenReset      = "Reset"
)

const usageText = "Usage:\n/create - to start creating repository\n/reset - to abandon the current wizard run"

var identifierRe = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// ValidIdentifier reports whether s is acceptable as a repository name or
// account identifier.
func ValidIdentifier(s string) bool {
	return identifierRe.MatchString(s)
}

// Button is one inline keyboard button: a visible label and the callback
// token delivered when it is pressed.
type Button struct {
	Label string
	Token string
}

// Keyboard is rows of buttons attached to an outbound message.
type Keyboard [][]Button

func yesNoKeyboard(yesToken, noToken string) Keyboard {
	return Keyboard{{
		{Label: "Yes", Token: yesToken},
		{Label: "No", Token: noToken},
	}}
}
