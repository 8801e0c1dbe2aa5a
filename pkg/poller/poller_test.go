package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mywio/im-notify/pkg/config"
	"github.com/mywio/im-notify/pkg/core"
	"github.com/mywio/im-notify/pkg/event"
	"github.com/mywio/im-notify/pkg/githost"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (f *fakeSource) Poll(ctx context.Context, repo githost.Repo, cur githost.Cursor) ([]*event.Event, githost.Cursor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return nil, cur, errors.New("rate limited")
	}
	next := githost.Cursor{EventID: cur.EventID + 1}
	ev := &event.Event{
		Type:  event.TypeIssueClosed,
		Issue: &event.Issue{Key: repo.String() + "#1", Owner: repo.Owner, Repo: repo.Name, Number: 1},
	}
	return []*event.Event{ev}, next, nil
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newManager() *core.ModuleManager {
	return core.NewModuleManager(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPollerPublishesAfterBaseline(t *testing.T) {
	mgr := newManager()
	src := &fakeSource{}
	p := NewPoller(config.Config{PollRepos: []string{"acme/api"}, PollInterval: time.Hour}, src)
	mgr.Register(p)
	ctx := context.Background()
	require.NoError(t, mgr.Init(ctx))

	var mu sync.Mutex
	var got []core.InternalEvent
	mgr.Subscribe("issue_*", func(ctx context.Context, ev core.InternalEvent) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
	})

	p.pollRepo(ctx, githost.Repo{Owner: "acme", Name: "api"})
	cur, ok := p.Cursor("acme/api")
	require.True(t, ok)
	assert.Equal(t, int64(1), cur.EventID)

	p.pollRepo(ctx, githost.Repo{Owner: "acme", Name: "api"})
	mgr.Broker().Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, core.EventTypeName("issue_closed"), got[0].Type)
	assert.Equal(t, "poller", got[0].Source)
	assert.Equal(t, "acme/api", got[0].Repo)
	ev, ok := githost.FromInternal(got[0])
	require.True(t, ok)
	assert.Equal(t, "acme/api#1", ev.Key())
}

func TestPollerKeepsCursorOnError(t *testing.T) {
	mgr := newManager()
	src := &fakeSource{fail: true}
	p := NewPoller(config.Config{PollRepos: []string{"acme/api"}}, src)
	mgr.Register(p)
	require.NoError(t, mgr.Init(context.Background()))

	p.pollRepo(context.Background(), githost.Repo{Owner: "acme", Name: "api"})
	_, ok := p.Cursor("acme/api")
	assert.False(t, ok)
}

func TestPollerInitRejectsBadRepo(t *testing.T) {
	mgr := newManager()
	mgr.Register(NewPoller(config.Config{PollRepos: []string{"not-a-repo"}}, &fakeSource{}))
	assert.Error(t, mgr.Init(context.Background()))

	mgr = newManager()
	mgr.Register(NewPoller(config.Config{}, nil))
	assert.Error(t, mgr.Init(context.Background()))
}

func TestPollerStartTriggerStop(t *testing.T) {
	mgr := newManager()
	src := &fakeSource{}
	p := NewPoller(config.Config{PollRepos: []string{"acme/api"}, PollInterval: time.Hour}, src)
	mgr.Register(p)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, mgr.Init(ctx))

	require.NoError(t, p.Start(ctx))
	assert.Eventually(t, func() bool { return src.Calls() == 1 }, time.Second, 10*time.Millisecond)

	mgr.Publish(ctx, core.InternalEvent{Type: core.EventPollNow})
	assert.Eventually(t, func() bool { return src.Calls() == 2 }, time.Second, 10*time.Millisecond)

	assert.NoError(t, p.Stop(ctx))
}

func TestPollerWithoutRepos(t *testing.T) {
	mgr := newManager()
	src := &fakeSource{}
	p := NewPoller(config.Config{}, src)
	mgr.Register(p)
	require.NoError(t, mgr.Init(context.Background()))
	require.NoError(t, p.Start(context.Background()))
	assert.Equal(t, 0, src.Calls())
	assert.NoError(t, p.Stop(context.Background()))
}
