package escalate

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/go-github/v74/github"
	"golang.org/x/oauth2"

	"github.com/soclabs/caserisk/pkg/cases"
	"github.com/soclabs/caserisk/pkg/errors"
	"github.com/soclabs/caserisk/pkg/risk"
)

// GitHubConfig targets a GitHub repository for escalation issues.
type GitHubConfig struct {
	// Token authenticates issue creation. Required.
	Token string

	Owner string
	Repo  string

	// Labels are applied to every filed issue.
	Labels []string

	// BaseURL overrides api.github.com, mainly for tests and GitHub
	// Enterprise. Must end with a slash when set.
	BaseURL string
}

// GitHubNotifier files escalation issues in a GitHub repository.
type GitHubNotifier struct {
	client *github.Client
	owner  string
	repo   string
	labels []string
}

// NewGitHubNotifier creates a GitHub-backed notifier.
func NewGitHubNotifier(cfg GitHubConfig) (*GitHubNotifier, error) {
	const op = "escalate.NewGitHubNotifier"

	if cfg.Token == "" {
		return nil, errors.E(errors.KindInvalidInput, op, "github token is required")
	}
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, errors.E(errors.KindInvalidInput, op, "github owner and repo are required")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	client := github.NewClient(oauth2.NewClient(context.Background(), ts))

	if cfg.BaseURL != "" {
		base, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, errors.E(errors.KindInvalidInput, op,
				fmt.Sprintf("invalid base url %q", cfg.BaseURL), err)
		}
		if !strings.HasSuffix(base.Path, "/") {
			base.Path += "/"
		}
		client.BaseURL = base
	}

	return &GitHubNotifier{
		client: client,
		owner:  cfg.Owner,
		repo:   cfg.Repo,
		labels: cfg.Labels,
	}, nil
}

// Name implements Notifier.
func (n *GitHubNotifier) Name() string {
	return "github"
}

// Notify implements Notifier by opening an issue in the configured
// repository.
func (n *GitHubNotifier) Notify(ctx context.Context, c cases.Case, score risk.Score, reportID string) (string, error) {
	const op = "escalate.GitHubNotifier.Notify"

	req := &github.IssueRequest{
		Title: github.Ptr(issueTitle(c, score)),
		Body:  github.Ptr(issueBody(c, score, reportID)),
	}
	if len(n.labels) > 0 {
		labels := make([]string, len(n.labels))
		copy(labels, n.labels)
		req.Labels = &labels
	}

	issue, _, err := n.client.Issues.Create(ctx, n.owner, n.repo, req)
	if err != nil {
		return "", errors.E(errors.KindNetwork, op,
			fmt.Sprintf("creating issue in %s/%s", n.owner, n.repo), err)
	}
	return issue.GetHTMLURL(), nil
}

var _ Notifier = (*GitHubNotifier)(nil)
