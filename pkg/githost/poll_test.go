package githost

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mywio/im-notify/pkg/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// roundReply serves first on the first call and then on every later one.
func roundReply(first, then string) http.HandlerFunc {
	var calls atomic.Int32
	return func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			reply(first)(w, r)
			return
		}
		reply(then)(w, r)
	}
}

func TestPoll(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/api", reply(`{"name": "api", "owner": {"login": "acme"}, "private": false}`))
	mux.HandleFunc("/repos/acme/api/issues", roundReply(
		`[{"number": 7, "title": "Login broken", "created_at": "2024-01-01T09:00:00Z", "user": {"login": "alice"}}]`,
		`[
		  {"number": 9, "title": "Bump deps", "created_at": "2024-01-01T10:02:00Z", "pull_request": {"url": "x"}},
		  {"number": 8, "title": "Logout broken", "created_at": "2024-01-01T10:05:00Z", "user": {"login": "bob"}},
		  {"number": 7, "title": "Login broken", "created_at": "2024-01-01T09:00:00Z"}
		]`,
	))
	mux.HandleFunc("/repos/acme/api/issues/events", roundReply(
		`[{"id": 100, "event": "labeled", "created_at": "2024-01-01T09:30:00Z", "issue": {"number": 7}}]`,
		`[
		  {"id": 102, "event": "subscribed", "created_at": "2024-01-01T10:03:30Z", "issue": {"number": 7}},
		  {"id": 101, "event": "closed", "created_at": "2024-01-01T10:03:00Z", "actor": {"login": "carol"}, "issue": {"number": 7, "title": "Login broken"}},
		  {"id": 100, "event": "labeled", "created_at": "2024-01-01T09:30:00Z", "issue": {"number": 7}}
		]`,
	))
	mux.HandleFunc("/repos/acme/api/issues/comments", roundReply(
		`[{"id": 4, "body": "first", "created_at": "2024-01-01T10:00:00Z", "updated_at": "2024-01-01T10:00:00Z", "issue_url": "https://api.github.com/repos/acme/api/issues/7"}]`,
		`[
		  {"id": 5, "body": "new", "created_at": "2024-01-01T10:04:00Z", "updated_at": "2024-01-01T10:04:00Z", "user": {"login": "dave"}, "issue_url": "https://api.github.com/repos/acme/api/issues/7"},
		  {"id": 4, "body": "first, edited", "created_at": "2024-01-01T10:00:00Z", "updated_at": "2024-01-01T10:06:00Z", "user": {"login": "erin"}, "issue_url": "https://api.github.com/repos/acme/api/issues/7"}
		]`,
	))
	mux.HandleFunc("/repos/acme/api/issues/7", reply(`{"number": 7, "title": "Login broken", "html_url": "https://github.com/acme/api/issues/7"}`))
	h := newTestHost(t, mux)
	ctx := context.Background()
	repo := Repo{Owner: "acme", Name: "api"}

	events, cur, err := h.Poll(ctx, repo, Cursor{})
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, int64(100), cur.EventID)
	assert.Equal(t, 7, cur.IssueNumber)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), cur.CommentTime.UTC())

	events, cur, err = h.Poll(ctx, repo, cur)
	require.NoError(t, err)
	require.Len(t, events, 4)

	assert.Equal(t, event.TypeIssueClosed, events[0].Type)
	assert.Equal(t, "carol", events[0].Actor.Name)
	assert.Equal(t, event.TypeIssueCommented, events[1].Type)
	assert.Equal(t, "dave", events[1].Actor.Name)
	assert.Equal(t, "new", events[1].Comment.Body)
	assert.Equal(t, event.TypeIssueCreated, events[2].Type)
	assert.Equal(t, "acme/api#8", events[2].Key())
	assert.Equal(t, event.TypeCommentEdited, events[3].Type)
	assert.Equal(t, "first, edited", events[3].Comment.Body)

	assert.Equal(t, int64(102), cur.EventID)
	assert.Equal(t, 9, cur.IssueNumber)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 6, 0, 0, time.UTC), cur.CommentTime.UTC())
}

func TestPollRepositoryError(t *testing.T) {
	h := newTestHost(t, http.NewServeMux())
	cur := Cursor{EventID: 5}
	_, got, err := h.Poll(context.Background(), Repo{Owner: "acme", Name: "gone"}, cur)
	assert.Error(t, err)
	assert.Equal(t, cur, got)
}

func TestIssueNumber(t *testing.T) {
	n, ok := issueNumber("https://api.github.com/repos/acme/api/issues/42")
	assert.True(t, ok)
	assert.Equal(t, 42, n)
	_, ok = issueNumber("https://api.github.com/repos/acme/api/issues/")
	assert.False(t, ok)
	_, ok = issueNumber("nothing")
	assert.False(t, ok)
}
