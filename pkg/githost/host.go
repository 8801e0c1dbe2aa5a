// Package githost adapts GitHub issues to the notifier: it converts webhook
// payloads and API results into events and answers watcher, permission and
// workflow questions.
package githost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/go-github/v57/github"
	"github.com/mywio/im-notify/pkg/event"
	"golang.org/x/oauth2"
)

const (
	DefaultPriorityLabelPrefix = "priority:"
	DefaultWorkflowLabelPrefix = "workflow:"
	DefaultWorkflow            = "default"

	maxPages = 10
)

// ErrIgnored is returned for webhook deliveries that carry no issue event.
var ErrIgnored = errors.New("event ignored")

type Options struct {
	PriorityLabelPrefix string
	WorkflowLabelPrefix string
	// DefaultWorkflow names the workflow of issues without a workflow label.
	DefaultWorkflow string
	Catalog         *event.Catalog
	Logger          *slog.Logger
}

// Host talks to GitHub on behalf of the notifier.
type Host struct {
	gh     *github.Client
	opts   Options
	logger *slog.Logger
}

func New(gh *github.Client, opts Options) *Host {
	if opts.PriorityLabelPrefix == "" {
		opts.PriorityLabelPrefix = DefaultPriorityLabelPrefix
	}
	if opts.WorkflowLabelPrefix == "" {
		opts.WorkflowLabelPrefix = DefaultWorkflowLabelPrefix
	}
	if opts.DefaultWorkflow == "" {
		opts.DefaultWorkflow = DefaultWorkflow
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Host{gh: gh, opts: opts, logger: opts.Logger}
}

// NewGitHubClient returns a client authenticated with token, if any. apiURL
// selects a GitHub Enterprise server.
func NewGitHubClient(ctx context.Context, token, apiURL string) (*github.Client, error) {
	var hc *http.Client
	if token != "" {
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	}
	client := github.NewClient(hc)
	if apiURL == "" {
		return client, nil
	}
	return client.WithEnterpriseURLs(apiURL, apiURL)
}

func (h *Host) Client() *github.Client {
	return h.gh
}

// ParseWebhook validates and converts a webhook delivery. An empty secret
// skips signature validation.
func (h *Host) ParseWebhook(r *http.Request, secret []byte) (*event.Event, error) {
	payload, err := github.ValidatePayload(r, secret)
	if err != nil {
		return nil, fmt.Errorf("validate payload: %w", err)
	}
	kind := github.WebHookType(r)
	parsed, err := github.ParseWebHook(kind, payload)
	if err != nil {
		return nil, fmt.Errorf("parse %s payload: %w", kind, err)
	}

	var (
		ev *event.Event
		ok bool
	)
	switch e := parsed.(type) {
	case *github.IssuesEvent:
		ev, ok = h.FromIssuesEvent(e)
	case *github.IssueCommentEvent:
		ev, ok = h.FromIssueCommentEvent(e)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", kind, ErrIgnored)
	}
	return ev, nil
}

// WorkflowName returns the value of the issue's workflow label.
func (h *Host) WorkflowName(ctx context.Context, issue *event.Issue) (string, error) {
	if issue == nil || issue.Owner == "" || issue.Repo == "" {
		return "", errors.New("issue has no repository")
	}
	opts := &github.ListOptions{PerPage: 100}
	labels, _, err := h.gh.Issues.ListLabelsByIssue(ctx, issue.Owner, issue.Repo, issue.Number, opts)
	if err != nil {
		return "", fmt.Errorf("list labels of %s: %w", issue.Key, err)
	}
	for _, l := range labels {
		if name, ok := cutLabel(l.GetName(), h.opts.WorkflowLabelPrefix); ok {
			return name, nil
		}
	}
	return h.opts.DefaultWorkflow, nil
}

// Watchers lists the users watching the issue's repository.
func (h *Host) Watchers(ctx context.Context, issue *event.Issue) ([]*event.Identity, error) {
	if issue == nil || issue.Owner == "" || issue.Repo == "" {
		return nil, errors.New("issue has no repository")
	}
	var out []*event.Identity
	opts := &github.ListOptions{PerPage: 100}
	for page := 0; page < maxPages; page++ {
		users, resp, err := h.gh.Activity.ListWatchers(ctx, issue.Owner, issue.Repo, opts)
		if err != nil {
			return nil, fmt.Errorf("list watchers of %s/%s: %w", issue.Owner, issue.Repo, err)
		}
		for _, u := range users {
			if id := identity(u); id != nil {
				out = append(out, id)
			}
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// CanViewComment allows everybody on public repositories. On private ones
// the identity needs a permission on the repository; recipients known only
// by address are refused.
func (h *Host) CanViewComment(ctx context.Context, id *event.Identity, ev *event.Event) (bool, error) {
	if ev == nil || ev.Issue == nil || !ev.Issue.Private {
		return true, nil
	}
	if id == nil {
		return false, nil
	}
	level, _, err := h.gh.Repositories.GetPermissionLevel(ctx, ev.Issue.Owner, ev.Issue.Repo, id.Name)
	if err != nil {
		var ghErr *github.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, fmt.Errorf("permission of %s on %s/%s: %w", id.Name, ev.Issue.Owner, ev.Issue.Repo, err)
	}
	switch strings.ToLower(level.GetPermission()) {
	case "", "none":
		return false, nil
	default:
		return true, nil
	}
}
