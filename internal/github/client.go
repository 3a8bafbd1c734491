// Package github implements the repository-provisioning collaborator on
// top of the GitHub API.
package github

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	gh "github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"

	"github.com/ashureev/repo-butler/internal/config"
	"github.com/ashureev/repo-butler/internal/domain"
)

// Client wraps the GitHub API for one organization.
type Client struct {
	gh    *gh.Client
	org   string
	teams config.TeamConfig
}

// New creates an authenticated client for the given organization.
func New(ctx context.Context, token, organization string, teams config.TeamConfig) *Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(ctx, ts)

	return &Client{
		gh:    gh.NewClient(httpClient),
		org:   slugify(organization),
		teams: teams,
	}
}

// ListTeams returns the organization's teams, excluding the common
// developers team (every repository gets it automatically, so it is never
// offered as an owning team).
func (c *Client) ListTeams(ctx context.Context) ([]domain.Team, error) {
	var out []domain.Team
	opts := &gh.ListOptions{PerPage: 100}
	for {
		teams, resp, err := c.gh.Teams.ListTeams(ctx, c.org, opts)
		if err != nil {
			return nil, fmt.Errorf("list organization teams: %w", err)
		}
		for _, team := range teams {
			if team.GetName() == c.teams.CommonDevelopers {
				continue
			}
			out = append(out, c.convert(team))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// RepositoryExists reports whether a repository with the given name already
// exists in the organization.
func (c *Client) RepositoryExists(ctx context.Context, name string) (bool, error) {
	_, resp, err := c.gh.Repositories.Get(ctx, c.org, name)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, fmt.Errorf("get repository %q: %w", name, err)
	}
	return true, nil
}

// TeamsForUser returns the teams the given account is an active member of.
func (c *Client) TeamsForUser(ctx context.Context, login string) ([]domain.Team, error) {
	teams, err := c.ListTeams(ctx)
	if err != nil {
		return nil, err
	}

	var memberships []domain.Team
	for _, team := range teams {
		membership, resp, err := c.gh.Teams.GetTeamMembershipBySlug(ctx, c.org, team.Slug, login)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusNotFound {
				continue
			}
			return nil, fmt.Errorf("check membership of %q in %q: %w", login, team.Slug, err)
		}
		if membership.GetState() == "active" {
			memberships = append(memberships, team)
		}
	}
	return memberships, nil
}

// CreateRepository provisions a new repository: auto-initialized with the
// description, push access for the common developers team, a CODEOWNERS
// file naming the owning team plus any flagged review teams, dev/test
// branches cut from the default branch, and branch protection on the
// default and test branches.
func (c *Client) CreateRepository(ctx context.Context, req *domain.RepoRequest) (*domain.ProvisionResult, error) {
	owningTeam, err := c.teamByID(ctx, req.TeamID)
	if err != nil {
		return nil, err
	}

	message := fmt.Sprintf("Repository %q successfully created.", req.RepoName)

	created, _, err := c.gh.Repositories.Create(ctx, c.org, &gh.Repository{
		Name:        gh.String(req.RepoName),
		Description: gh.String(req.Description),
		Private:     gh.Bool(true),
		AutoInit:    gh.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("create repository %q: %w", req.RepoName, err)
	}

	if err := c.addTeamBySlug(ctx, slugify(c.teams.CommonDevelopers), req.RepoName); err != nil {
		return nil, err
	}

	codeowners := "* "
	var reviewTeams []string
	if owningTeam != nil {
		reviewTeams = append(reviewTeams, owningTeam.Slug)
		codeowners += fmt.Sprintf("@%s/%s ", c.org, owningTeam.Slug)
		message += fmt.Sprintf("\nTeams:\n%q", owningTeam.Name)
	}
	if req.AddSecurityTeam {
		securitySlug := slugify(c.teams.Security)
		reviewTeams = append(reviewTeams, securitySlug)
		codeowners += fmt.Sprintf("@%s/%s ", c.org, securitySlug)
		message += fmt.Sprintf("\n%q", c.teams.Security)
	}
	if req.AddCoreTeam {
		coreSlug := slugify(c.teams.Core)
		reviewTeams = append(reviewTeams, coreSlug)
		codeowners += fmt.Sprintf("@%s/%s ", c.org, coreSlug)
		message += fmt.Sprintf("\n%q", c.teams.Core)
	}

	_, _, err = c.gh.Repositories.CreateFile(ctx, c.org, req.RepoName, "CODEOWNERS",
		&gh.RepositoryContentFileOptions{
			Message: gh.String("Add CODEOWNERS file"),
			Content: []byte(codeowners),
		})
	if err != nil {
		return nil, fmt.Errorf("create CODEOWNERS file: %w", err)
	}

	defaultBranch := created.GetDefaultBranch()
	if defaultBranch == "" {
		defaultBranch = "master"
	}

	headRef, _, err := c.gh.Git.GetRef(ctx, c.org, req.RepoName, "heads/"+defaultBranch)
	if err != nil {
		return nil, fmt.Errorf("get %s ref: %w", defaultBranch, err)
	}
	for _, branch := range []string{"dev", "test"} {
		_, _, err := c.gh.Git.CreateRef(ctx, c.org, req.RepoName, &gh.Reference{
			Ref:    gh.String("refs/heads/" + branch),
			Object: &gh.GitObject{SHA: headRef.Object.SHA},
		})
		if err != nil {
			return nil, fmt.Errorf("create %s branch: %w", branch, err)
		}
	}

	// Only review teams may push to test; the owning team alone may push
	// to the default branch.
	testProtection := &gh.ProtectionRequest{
		RequiredPullRequestReviews: &gh.PullRequestReviewsEnforcementRequest{
			DismissStaleReviews:          true,
			RequireCodeOwnerReviews:      true,
			RequiredApprovingReviewCount: 1,
		},
		Restrictions: &gh.BranchRestrictionsRequest{
			Users: []string{},
			Teams: reviewTeams,
		},
		EnforceAdmins: true,
	}
	if _, _, err := c.gh.Repositories.UpdateBranchProtection(ctx, c.org, req.RepoName, "test", testProtection); err != nil {
		return nil, fmt.Errorf("protect test branch: %w", err)
	}

	var defaultTeams []string
	if owningTeam != nil {
		defaultTeams = append(defaultTeams, owningTeam.Slug)
	}
	defaultProtection := &gh.ProtectionRequest{
		Restrictions: &gh.BranchRestrictionsRequest{
			Users: []string{},
			Teams: defaultTeams,
		},
	}
	if _, _, err := c.gh.Repositories.UpdateBranchProtection(ctx, c.org, req.RepoName, defaultBranch, defaultProtection); err != nil {
		return nil, fmt.Errorf("protect %s branch: %w", defaultBranch, err)
	}

	message += "\nClone url: " + created.GetCloneURL()

	return &domain.ProvisionResult{Success: true, Message: message}, nil
}

func (c *Client) teamByID(ctx context.Context, id int64) (*domain.Team, error) {
	if id == 0 {
		return nil, nil
	}
	teams, err := c.ListTeams(ctx)
	if err != nil {
		return nil, err
	}
	for _, team := range teams {
		if team.ID == id {
			return &team, nil
		}
	}
	return nil, fmt.Errorf("team %d not found in organization %q", id, c.org)
}

func (c *Client) addTeamBySlug(ctx context.Context, slug, repo string) error {
	_, err := c.gh.Teams.AddTeamRepoBySlug(ctx, c.org, slug, c.org, repo,
		&gh.TeamAddTeamRepoOptions{Permission: "push"})
	if err != nil {
		return fmt.Errorf("grant team %q access to %q: %w", slug, repo, err)
	}
	return nil
}

func (c *Client) convert(team *gh.Team) domain.Team {
	slug := team.GetSlug()
	if slug == "" {
		slug = slugify(team.GetName())
	}
	return domain.Team{
		ID:       team.GetID(),
		Name:     team.GetName(),
		Slug:     slug,
		Security: team.GetName() == c.teams.Security,
		Core:     team.GetName() == c.teams.Core,
	}
}

func slugify(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "-")
}
