package recipient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/mywio/im-notify/pkg/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDirectory struct {
	props map[string]map[string]string
}

func (d *fakeDirectory) FindIdentity(ctx context.Context, name string) (*event.Identity, bool) {
	if _, ok := d.props[name]; !ok {
		return nil, false
	}
	return &event.Identity{Name: name}, true
}

func (d *fakeDirectory) Property(ctx context.Context, id *event.Identity, key string) (string, bool) {
	v, ok := d.props[id.Name][key]
	return v, ok
}

type fakeWatchers struct {
	watchers []*event.Identity
	err      error
}

func (w *fakeWatchers) Watchers(ctx context.Context, issue *event.Issue) ([]*event.Identity, error) {
	return w.watchers, w.err
}

func testDirectory() *fakeDirectory {
	return &fakeDirectory{props: map[string]map[string]string{
		"alice": {"jabber": "alice@chat.example.com"},
		"bob":   {"jabber": " bob@chat.example.com "},
		"carol": {},
		"dave":  {"jabber": "alice@chat.example.com"},
	}}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClassify(t *testing.T) {
	dir := testDirectory()
	tests := []struct {
		raw  string
		want Kind
	}{
		{raw: "assignee", want: KindAssignee},
		{raw: " watchers ", want: KindWatchers},
		{raw: "alice", want: KindIdentity},
		{raw: "ops@example.com", want: KindAddress},
		{raw: "nobody", want: KindUnknown},
		{raw: "", want: KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			spec := Classify(context.Background(), tt.raw, dir)
			assert.Equal(t, tt.want, spec.Kind, spec.Kind.String())
		})
	}

	assert.Equal(t, KindAddress, Classify(context.Background(), "alice@x", nil).Kind)
}

func TestResolve(t *testing.T) {
	ev := &event.Event{Issue: &event.Issue{Key: "acme/ABC#1", Assignee: &event.Identity{Name: "bob"}}}

	tests := []struct {
		name     string
		specs    []string
		key      string
		ev       *event.Event
		watchers *fakeWatchers
		want     []string
	}{
		{
			name:  "duplicate_literals",
			specs: []string{"a@x", "a@x"},
			want:  []string{"a@x"},
		},
		{
			name:  "assignee",
			specs: []string{"assignee"},
			key:   "jabber",
			ev:    ev,
			want:  []string{"bob@chat.example.com"},
		},
		{
			name:  "no_assignee",
			specs: []string{"assignee"},
			key:   "jabber",
			ev:    &event.Event{Issue: &event.Issue{}},
			want:  []string{},
		},
		{
			name:  "identity_without_address",
			specs: []string{"carol", "alice"},
			key:   "jabber",
			want:  []string{"alice@chat.example.com"},
		},
		{
			name:  "no_address_property",
			specs: []string{"alice", "ops@example.com"},
			want:  []string{"ops@example.com"},
		},
		{
			name:  "unknown_skipped",
			specs: []string{"nobody", "alice"},
			key:   "jabber",
			want:  []string{"alice@chat.example.com"},
		},
		{
			name:  "dedupe_across_identities",
			specs: []string{"alice", "dave", "alice@chat.example.com"},
			key:   "jabber",
			want:  []string{"alice@chat.example.com"},
		},
		{
			name:     "watchers",
			specs:    []string{"watchers", "assignee"},
			key:      "jabber",
			ev:       ev,
			watchers: &fakeWatchers{watchers: []*event.Identity{{Name: "alice"}, {Name: "carol"}, {Name: "bob"}}},
			want:     []string{"alice@chat.example.com", "bob@chat.example.com"},
		},
		{
			name:     "watchers_error",
			specs:    []string{"watchers", "ops@example.com"},
			key:      "jabber",
			ev:       ev,
			watchers: &fakeWatchers{err: errors.New("api down")},
			want:     []string{"ops@example.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var watchers WatcherSource
			if tt.watchers != nil {
				watchers = tt.watchers
			}
			r := NewResolver(testDirectory(), watchers, testLogger())
			set := r.Resolve(context.Background(), tt.specs, tt.key, tt.ev)
			assert.Equal(t, tt.want, set.Addresses())
		})
	}
}

func TestResolveWatchersBoundToOwnIdentity(t *testing.T) {
	ev := &event.Event{Issue: &event.Issue{}}
	watchers := &fakeWatchers{watchers: []*event.Identity{{Name: "alice"}, {Name: "bob"}}}
	r := NewResolver(testDirectory(), watchers, testLogger())

	all := r.Resolve(context.Background(), []string{"watchers"}, "jabber", ev).All()
	require.Len(t, all, 2)
	assert.Equal(t, "alice", all[0].Identity.Name)
	assert.Equal(t, "bob", all[1].Identity.Name)
}

func TestResolveLiteralHasNoIdentity(t *testing.T) {
	r := NewResolver(nil, nil, testLogger())
	all := r.Resolve(context.Background(), []string{"ops@example.com"}, "jabber", nil).All()
	require.Len(t, all, 1)
	assert.Nil(t, all[0].Identity)
}

func TestSet(t *testing.T) {
	s := NewSet()
	assert.True(t, s.Add(Recipient{Address: "a@x", Identity: &event.Identity{Name: "a"}}))
	assert.False(t, s.Add(Recipient{Address: "a@x"}))
	assert.False(t, s.Add(Recipient{}))
	assert.True(t, s.Contains("a@x"))
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, "a", s.All()[0].Identity.Name)

	var nilSet *Set
	assert.Zero(t, nilSet.Len())
}
