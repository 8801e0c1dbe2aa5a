package githost

import (
	"fmt"
	"strings"

	"github.com/google/go-github/v57/github"
	"github.com/mywio/im-notify/pkg/event"
)

// Actions of the "issues" webhook.
var issueActions = map[string]event.Type{
	"opened":       event.TypeIssueCreated,
	"edited":       event.TypeIssueUpdated,
	"labeled":      event.TypeIssueUpdated,
	"unlabeled":    event.TypeIssueUpdated,
	"milestoned":   event.TypeIssueUpdated,
	"demilestoned": event.TypeIssueUpdated,
	"unassigned":   event.TypeIssueUpdated,
	"assigned":     event.TypeIssueAssigned,
	"closed":       event.TypeIssueClosed,
	"reopened":     event.TypeIssueReopened,
	"deleted":      event.TypeIssueDeleted,
}

// Actions of the "issue_comment" webhook.
var commentActions = map[string]event.Type{
	"created": event.TypeIssueCommented,
	"edited":  event.TypeCommentEdited,
}

// Timeline events of the issue events API.
var timelineEvents = map[string]event.Type{
	"closed":       event.TypeIssueClosed,
	"reopened":     event.TypeIssueReopened,
	"assigned":     event.TypeIssueAssigned,
	"unassigned":   event.TypeIssueUpdated,
	"labeled":      event.TypeIssueUpdated,
	"unlabeled":    event.TypeIssueUpdated,
	"renamed":      event.TypeIssueUpdated,
	"milestoned":   event.TypeIssueUpdated,
	"demilestoned": event.TypeIssueUpdated,
}

// originOf tags state transitions as workflow events.
func originOf(t event.Type) event.Origin {
	switch t.ID {
	case event.TypeIssueClosed.ID, event.TypeIssueReopened.ID:
		return event.OriginWorkflow
	case event.TypeIssueCommented.ID, event.TypeCommentEdited.ID:
		return event.OriginComment
	default:
		return event.OriginIssue
	}
}

// Repo identifies a repository.
type Repo struct {
	Owner   string
	Name    string
	Private bool
}

// ParseRepo parses "owner/name".
func ParseRepo(fullName string) (Repo, error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(fullName), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return Repo{}, fmt.Errorf("invalid repository %q, expected owner/name", fullName)
	}
	return Repo{Owner: owner, Name: name}, nil
}

func (r Repo) String() string {
	return r.Owner + "/" + r.Name
}

func repoOf(r *github.Repository) Repo {
	return Repo{Owner: r.GetOwner().GetLogin(), Name: r.GetName(), Private: r.GetPrivate()}
}

func identity(u *github.User) *event.Identity {
	if u == nil || u.GetLogin() == "" {
		return nil
	}
	return &event.Identity{Name: u.GetLogin()}
}

// FromIssuesEvent converts an "issues" webhook payload.
func (h *Host) FromIssuesEvent(e *github.IssuesEvent) (*event.Event, bool) {
	t, ok := issueActions[e.GetAction()]
	if !ok || e.Issue == nil {
		return nil, false
	}
	return &event.Event{
		Actor:  identity(e.Sender),
		Type:   t,
		Issue:  h.issue(repoOf(e.Repo), e.Issue),
		Origin: originOf(t),
	}, true
}

// FromIssueCommentEvent converts an "issue_comment" webhook payload.
func (h *Host) FromIssueCommentEvent(e *github.IssueCommentEvent) (*event.Event, bool) {
	t, ok := commentActions[e.GetAction()]
	if !ok || e.Issue == nil || e.Comment == nil {
		return nil, false
	}
	return h.FromComment(repoOf(e.Repo), e.Issue, e.Comment, identity(e.Sender), t), true
}

// FromComment builds a comment event.
func (h *Host) FromComment(repo Repo, issue *github.Issue, c *github.IssueComment, actor *event.Identity, t event.Type) *event.Event {
	if actor == nil {
		actor = identity(c.User)
	}
	return &event.Event{
		Actor: actor,
		Type:  t,
		Issue: h.issue(repo, issue),
		Comment: &event.Comment{
			ID:     c.GetID(),
			Body:   c.GetBody(),
			URL:    c.GetHTMLURL(),
			Author: identity(c.User),
		},
		Origin: originOf(t),
	}
}

// FromIssueEvent converts an entry of the issue events API.
func (h *Host) FromIssueEvent(repo Repo, e *github.IssueEvent) (*event.Event, bool) {
	t, ok := timelineEvents[e.GetEvent()]
	if !ok || e.Issue == nil {
		return nil, false
	}
	return &event.Event{
		Actor:  identity(e.Actor),
		Type:   t,
		Issue:  h.issue(repo, e.Issue),
		Origin: originOf(t),
	}, true
}

// FromNewIssue builds the creation event of an issue.
func (h *Host) FromNewIssue(repo Repo, issue *github.Issue) *event.Event {
	return &event.Event{
		Actor:  identity(issue.User),
		Type:   event.TypeIssueCreated,
		Issue:  h.issue(repo, issue),
		Origin: event.OriginIssue,
	}
}

func (h *Host) issue(repo Repo, gi *github.Issue) *event.Issue {
	labels := make([]string, 0, len(gi.Labels))
	for _, l := range gi.Labels {
		labels = append(labels, l.GetName())
	}
	return &event.Issue{
		Key:        fmt.Sprintf("%s#%d", repo, gi.GetNumber()),
		Owner:      repo.Owner,
		Repo:       repo.Name,
		Number:     gi.GetNumber(),
		ProjectKey: repo.Name,
		Summary:    gi.GetTitle(),
		URL:        gi.GetHTMLURL(),
		Private:    repo.Private,
		Priority:   h.priority(labels),
		Assignee:   identity(gi.Assignee),
		Labels:     labels,
	}
}

// priority reads the first "priority:<name>" label known to the catalog.
func (h *Host) priority(labels []string) *event.Priority {
	for _, l := range labels {
		name, ok := cutLabel(l, h.opts.PriorityLabelPrefix)
		if !ok {
			continue
		}
		if h.opts.Catalog == nil {
			return &event.Priority{ID: name, Name: name}
		}
		if p, found := h.opts.Catalog.LookupPriority(name); found {
			return &p
		}
	}
	return nil
}

func cutLabel(label, prefix string) (string, bool) {
	if prefix == "" || len(label) < len(prefix) || !strings.EqualFold(label[:len(prefix)], prefix) {
		return "", false
	}
	value := strings.TrimSpace(label[len(prefix):])
	return value, value != ""
}
