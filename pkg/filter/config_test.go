package filter

import (
	"testing"

	"github.com/mywio/im-notify/pkg/event"
	"github.com/mywio/im-notify/pkg/presence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGroups map[string]bool

func (g fakeGroups) HasGroup(name string) bool {
	return g[name]
}

func testLookups() Lookups {
	catalog := event.NewCatalog(event.DefaultTypes(), event.DefaultPriorities)
	return Lookups{
		Types:      catalog,
		Priorities: catalog,
		Groups:     fakeGroups{"devs": true, "bots": true},
	}
}

func TestBuilderDefaults(t *testing.T) {
	cfg, diags := NewBuilder(testLookups()).Build()

	assert.Empty(t, diags)
	assert.Nil(t, cfg.TriggerEventTypes)
	assert.Nil(t, cfg.ProjectKeys)
	assert.Nil(t, cfg.Priorities)
	assert.Nil(t, cfg.WorkflowNameRegex)
	assert.Nil(t, cfg.RequiredGroups)
	assert.Nil(t, cfg.IgnoredGroups)
	assert.True(t, cfg.IgnoreSelfEvents)
	assert.Equal(t, presence.NewStateSet(presence.Online, presence.Away), cfg.NotifiableStatuses)
	assert.Empty(t, cfg.RecipientSpecs)
	assert.Empty(t, cfg.IdentityAddressKey)
}

func TestBuilderEventTypes(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		want      Set[int64]
		diagCount int
	}{
		{name: "ids", raw: "1,6", want: Set[int64]{1: {}, 6: {}}},
		{name: "names", raw: "issue_closed, Issue Commented", want: Set[int64]{5: {}, 6: {}}},
		{name: "mixed_with_invalid", raw: "1,bogus,999", want: Set[int64]{1: {}}, diagCount: 2},
		{name: "all_invalid_unsets", raw: "bogus", want: nil, diagCount: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, diags := NewBuilder(testLookups()).TriggerEventTypes(tt.raw).Build()
			assert.Equal(t, tt.want, cfg.TriggerEventTypes)
			assert.Len(t, diags, tt.diagCount)
			for _, d := range diags {
				assert.Equal(t, KeyTriggerEventTypes, d.Key)
			}
		})
	}
}

func TestBuilderEventTypesWithoutLookup(t *testing.T) {
	cfg, diags := NewBuilder(Lookups{}).TriggerEventTypes("3,issue_closed").Build()
	assert.Equal(t, Set[int64]{3: {}}, cfg.TriggerEventTypes)
	require.Len(t, diags, 1)
	assert.Equal(t, "issue_closed", diags[0].Value)
}

func TestBuilderPriorities(t *testing.T) {
	cfg, diags := NewBuilder(testLookups()).Priorities("Blocker, 3, urgent").Build()
	assert.Equal(t, Set[string]{"1": {}, "3": {}}, cfg.Priorities)
	require.Len(t, diags, 1)
	assert.Equal(t, "urgent", diags[0].Value)
}

func TestBuilderGroups(t *testing.T) {
	cfg, diags := NewBuilder(testLookups()).
		RequiredGroups("devs,ghosts").
		IgnoredGroups("ghosts").
		Build()

	assert.Equal(t, Set[string]{"devs": {}}, cfg.RequiredGroups)
	assert.Nil(t, cfg.IgnoredGroups)
	assert.Len(t, diags, 3)
}

func TestBuilderWorkflowRegex(t *testing.T) {
	cfg, diags := NewBuilder(testLookups()).WorkflowNameRegex("Support.*").Build()
	require.Empty(t, diags)
	require.NotNil(t, cfg.WorkflowNameRegex)
	assert.Equal(t, "Support.*", cfg.WorkflowNamePattern())
	assert.True(t, cfg.WorkflowNameRegex.MatchString("Support v1"))
	assert.False(t, cfg.WorkflowNameRegex.MatchString("xSupport v1"))

	cfg, diags = NewBuilder(testLookups()).WorkflowNameRegex("(unclosed").Build()
	assert.Nil(t, cfg.WorkflowNameRegex)
	assert.Len(t, diags, 1)
}

func TestBuilderAlternationIsAnchored(t *testing.T) {
	cfg, _ := NewBuilder(testLookups()).WorkflowNameRegex("a|b").Build()
	assert.True(t, cfg.WorkflowNameRegex.MatchString("a"))
	assert.False(t, cfg.WorkflowNameRegex.MatchString("ab"))
}

func TestBuilderIgnoreSelfEvents(t *testing.T) {
	tests := []struct {
		raw       string
		want      bool
		diagCount int
	}{
		{raw: "", want: true},
		{raw: "true", want: true},
		{raw: "FALSE", want: false},
		{raw: "no", want: true, diagCount: 1},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			cfg, diags := NewBuilder(testLookups()).IgnoreSelfEvents(tt.raw).Build()
			assert.Equal(t, tt.want, cfg.IgnoreSelfEvents)
			assert.Len(t, diags, tt.diagCount)
		})
	}
}

func TestBuilderNotifiableStatuses(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		want      presence.StateSet
		diagCount int
	}{
		{name: "online_only", raw: "ONLINE", want: presence.NewStateSet(presence.Online)},
		{name: "lower_and_dash", raw: "busy, away-long", want: presence.NewStateSet(presence.Busy, presence.AwayLong)},
		{name: "offline_rejected", raw: "OFFLINE,ONLINE", want: presence.NewStateSet(presence.Online), diagCount: 1},
		{name: "nothing_valid_defaults", raw: "sleeping", want: presence.DefaultNotifiable(), diagCount: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, diags := NewBuilder(testLookups()).NotifiableStatuses(tt.raw).Build()
			assert.Equal(t, tt.want, cfg.NotifiableStatuses)
			assert.Len(t, diags, tt.diagCount)
		})
	}
}

func TestBuilderParams(t *testing.T) {
	cfg, diags := NewBuilder(testLookups()).Params(map[string]string{
		KeyRecipients:              `assignee, alice, ops\,team@example.com`,
		KeyIdentityAddressProperty: " jabber ",
		KeyProjectKeys:             "ABC,XYZ",
		"colour":                   "blue",
	}).Build()

	assert.Equal(t, []string{"assignee", "alice", "ops,team@example.com"}, cfg.RecipientSpecs)
	assert.Equal(t, "jabber", cfg.IdentityAddressKey)
	assert.Equal(t, Set[string]{"ABC": {}, "XYZ": {}}, cfg.ProjectKeys)
	require.Len(t, diags, 1)
	assert.Equal(t, "colour", diags[0].Key)
	assert.Error(t, diags.Err())
}

func TestBuildCopiesRecipients(t *testing.T) {
	b := NewBuilder(testLookups()).Recipients("a@x,b@x")
	cfg, _ := b.Build()
	cfg.RecipientSpecs[0] = "changed"
	again, _ := b.Build()
	assert.Equal(t, "a@x", again.RecipientSpecs[0])
}

func TestDiagnosticsErrNil(t *testing.T) {
	var diags Diagnostics
	assert.NoError(t, diags.Err())
}
