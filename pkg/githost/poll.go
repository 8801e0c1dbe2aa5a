package githost

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/mywio/im-notify/pkg/event"
)

// Cursor remembers how far a repository has been polled.
type Cursor struct {
	EventID     int64
	CommentTime time.Time
	IssueNumber int
}

func (c Cursor) IsZero() bool {
	return c.EventID == 0 && c.CommentTime.IsZero() && c.IssueNumber == 0
}

type timed struct {
	at time.Time
	ev *event.Event
}

// Poll returns the events of repo newer than cur, oldest first, and the
// advanced cursor. A zero cursor only establishes the baseline.
func (h *Host) Poll(ctx context.Context, repo Repo, cur Cursor) ([]*event.Event, Cursor, error) {
	info, _, err := h.gh.Repositories.Get(ctx, repo.Owner, repo.Name)
	if err != nil {
		return nil, cur, fmt.Errorf("get repository %s: %w", repo, err)
	}
	repo.Private = info.GetPrivate()
	baseline := cur.IsZero()
	next := cur
	var found []timed

	issues, err := h.pollIssues(ctx, repo, cur, &next)
	if err != nil {
		return nil, cur, err
	}
	found = append(found, issues...)

	events, err := h.pollIssueEvents(ctx, repo, cur, &next)
	if err != nil {
		return nil, cur, err
	}
	found = append(found, events...)

	comments, err := h.pollComments(ctx, repo, cur, &next)
	if err != nil {
		return nil, cur, err
	}
	found = append(found, comments...)

	if baseline {
		if next.CommentTime.IsZero() {
			next.CommentTime = time.Now().UTC()
		}
		return nil, next, nil
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].at.Before(found[j].at) })
	out := make([]*event.Event, 0, len(found))
	for _, f := range found {
		out = append(out, f.ev)
	}
	return out, next, nil
}

func (h *Host) pollIssues(ctx context.Context, repo Repo, cur Cursor, next *Cursor) ([]timed, error) {
	opts := &github.IssueListByRepoOptions{
		State:       "all",
		Sort:        "created",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: 50},
	}
	issues, _, err := h.gh.Issues.ListByRepo(ctx, repo.Owner, repo.Name, opts)
	if err != nil {
		return nil, fmt.Errorf("list issues of %s: %w", repo, err)
	}
	var out []timed
	for _, gi := range issues {
		if gi.GetNumber() > next.IssueNumber {
			next.IssueNumber = gi.GetNumber()
		}
		if gi.GetNumber() <= cur.IssueNumber || gi.IsPullRequest() {
			continue
		}
		out = append(out, timed{at: gi.GetCreatedAt().Time, ev: h.FromNewIssue(repo, gi)})
	}
	return out, nil
}

func (h *Host) pollIssueEvents(ctx context.Context, repo Repo, cur Cursor, next *Cursor) ([]timed, error) {
	events, _, err := h.gh.Issues.ListRepositoryEvents(ctx, repo.Owner, repo.Name, &github.ListOptions{PerPage: 100})
	if err != nil {
		return nil, fmt.Errorf("list issue events of %s: %w", repo, err)
	}
	var out []timed
	for _, e := range events {
		if e.GetID() > next.EventID {
			next.EventID = e.GetID()
		}
		if e.GetID() <= cur.EventID || (e.Issue != nil && e.Issue.IsPullRequest()) {
			continue
		}
		if ev, ok := h.FromIssueEvent(repo, e); ok {
			out = append(out, timed{at: e.GetCreatedAt().Time, ev: ev})
		}
	}
	return out, nil
}

func (h *Host) pollComments(ctx context.Context, repo Repo, cur Cursor, next *Cursor) ([]timed, error) {
	opts := &github.IssueListCommentsOptions{
		Sort:        github.String("updated"),
		Direction:   github.String("asc"),
		ListOptions: github.ListOptions{PerPage: 100},
	}
	if !cur.CommentTime.IsZero() {
		since := cur.CommentTime
		opts.Since = &since
	}
	comments, _, err := h.gh.Issues.ListComments(ctx, repo.Owner, repo.Name, 0, opts)
	if err != nil {
		return nil, fmt.Errorf("list comments of %s: %w", repo, err)
	}

	var out []timed
	issues := map[int]*github.Issue{}
	for _, c := range comments {
		updated := c.GetUpdatedAt().Time
		if updated.After(next.CommentTime) {
			next.CommentTime = updated
		}
		if cur.CommentTime.IsZero() || !updated.After(cur.CommentTime) {
			continue
		}
		number, ok := issueNumber(c.GetIssueURL())
		if !ok {
			continue
		}
		gi, cached := issues[number]
		if !cached {
			gi, _, err = h.gh.Issues.Get(ctx, repo.Owner, repo.Name, number)
			if err != nil {
				h.logger.Warn("Failed to fetch issue of comment", "repo", repo.String(), "issue", number, "error", err)
				continue
			}
			issues[number] = gi
		}
		if gi.IsPullRequest() {
			continue
		}
		t := event.TypeIssueCommented
		if c.GetCreatedAt().Time.Before(updated) && !c.GetCreatedAt().Time.After(cur.CommentTime) {
			t = event.TypeCommentEdited
		}
		out = append(out, timed{at: updated, ev: h.FromComment(repo, gi, c, nil, t)})
	}
	return out, nil
}

// issueNumber reads the trailing number of an issue API URL.
func issueNumber(url string) (int, bool) {
	i := strings.LastIndex(url, "/")
	if i < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(url[i+1:])
	return n, err == nil && n > 0
}
