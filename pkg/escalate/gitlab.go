package escalate

import (
	"context"
	"fmt"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/soclabs/caserisk/pkg/cases"
	"github.com/soclabs/caserisk/pkg/errors"
	"github.com/soclabs/caserisk/pkg/risk"
)

// GitLabConfig targets a GitLab project for escalation issues.
type GitLabConfig struct {
	// Token authenticates issue creation. Required.
	Token string

	// Project is the numeric id or "group/project" path.
	Project string

	// Labels are applied to every filed issue.
	Labels []string

	// BaseURL overrides gitlab.com for self-hosted instances.
	BaseURL string
}

// GitLabNotifier files escalation issues in a GitLab project.
type GitLabNotifier struct {
	client  *gitlab.Client
	project string
	labels  []string
}

// NewGitLabNotifier creates a GitLab-backed notifier.
func NewGitLabNotifier(cfg GitLabConfig) (*GitLabNotifier, error) {
	const op = "escalate.NewGitLabNotifier"

	if cfg.Token == "" {
		return nil, errors.E(errors.KindInvalidInput, op, "gitlab token is required")
	}
	if cfg.Project == "" {
		return nil, errors.E(errors.KindInvalidInput, op, "gitlab project is required")
	}

	var opts []gitlab.ClientOptionFunc
	if cfg.BaseURL != "" {
		opts = append(opts, gitlab.WithBaseURL(cfg.BaseURL))
	}
	client, err := gitlab.NewClient(cfg.Token, opts...)
	if err != nil {
		return nil, errors.E(errors.KindInternal, op, "creating gitlab client", err)
	}

	return &GitLabNotifier{
		client:  client,
		project: cfg.Project,
		labels:  cfg.Labels,
	}, nil
}

// Name implements Notifier.
func (n *GitLabNotifier) Name() string {
	return "gitlab"
}

// Notify implements Notifier by opening an issue in the configured
// project.
func (n *GitLabNotifier) Notify(ctx context.Context, c cases.Case, score risk.Score, reportID string) (string, error) {
	const op = "escalate.GitLabNotifier.Notify"

	opt := &gitlab.CreateIssueOptions{
		Title:       gitlab.Ptr(issueTitle(c, score)),
		Description: gitlab.Ptr(issueBody(c, score, reportID)),
	}
	if len(n.labels) > 0 {
		labels := gitlab.LabelOptions(append([]string(nil), n.labels...))
		opt.Labels = &labels
	}

	issue, _, err := n.client.Issues.CreateIssue(n.project, opt, gitlab.WithContext(ctx))
	if err != nil {
		return "", errors.E(errors.KindNetwork, op,
			fmt.Sprintf("creating issue in project %s", n.project), err)
	}
	return issue.WebURL, nil
}

var _ Notifier = (*GitLabNotifier)(nil)
