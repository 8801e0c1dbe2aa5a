package notifierxmpp

import (
	"testing"
	"time"

	"github.com/mywio/im-notify/pkg/filter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSectionDefaults(t *testing.T) {
	cfg, warns := parseSection(nil)
	assert.Empty(t, warns)
	assert.False(t, cfg.Disabled)
	assert.Equal(t, defaultReconnectInterval, cfg.ReconnectInterval)
	require.Len(t, cfg.Listeners, 1)

	l := cfg.Listeners[0]
	assert.Equal(t, "default", l.Name)
	assert.Nil(t, l.Password)
	assert.Equal(t, []string{defaultSubscribe}, l.Subscribe)
	assert.Empty(t, l.Params)
	assert.False(t, l.params().Configured())
}

func TestParseSectionKeys(t *testing.T) {
	section := map[string]any{
		"disabled":             "false",
		"direct_tls":           true,
		"resource":             "bot",
		"reconnect_interval":   "5s",
		"server":               "chat.example.com",
		"login":                "notifier",
		"password":             "",
		"port":                 5223,
		"recipients":           []any{"assignee", "Smith, J", "ops@example.com"},
		"notifiable-statuses":  "online",
		"ignore_self_events":   false,
		"workflow_name_regex":  "Support.*",
		"subscribe":            "issue_closed, issue_closed, issue_created",
		"unrelated_plugin_key": "x",
	}
	cfg, warns := parseSection(section)
	assert.Empty(t, warns)
	assert.True(t, cfg.Transport.DirectTLS)
	assert.Equal(t, "bot", cfg.Transport.Resource)
	assert.Equal(t, 5*time.Second, cfg.ReconnectInterval)

	l := cfg.Listeners[0]
	require.NotNil(t, l.Password)
	assert.Equal(t, "", *l.Password)
	assert.Equal(t, 5223, l.Port)
	assert.True(t, l.params().Configured())
	assert.Equal(t, []string{"issue_closed", "issue_created"}, l.Subscribe)
	assert.Equal(t, map[string]string{
		filter.KeyRecipients:         `assignee,Smith\, J,ops@example.com`,
		filter.KeyNotifiableStatuses: "online",
		filter.KeyIgnoreSelfEvents:   "false",
		filter.KeyWorkflowNameRegex:  "Support.*",
	}, l.Params)
}

func TestParseSectionListeners(t *testing.T) {
	section := map[string]any{
		"server":     "chat.example.com",
		"login":      "notifier",
		"password":   "pw",
		"recipients": "assignee",
		"listeners": []any{
			map[string]any{"name": "ops", "recipients": "ops@example.com"},
			map[string]any{"project_keys": "api"},
			"bogus",
		},
	}
	cfg, warns := parseSection(section)
	require.Len(t, warns, 1)
	require.Len(t, cfg.Listeners, 2)

	assert.Equal(t, "ops", cfg.Listeners[0].Name)
	assert.Equal(t, "ops@example.com", cfg.Listeners[0].Params[filter.KeyRecipients])
	assert.Equal(t, "listener-2", cfg.Listeners[1].Name)
	assert.Equal(t, "assignee", cfg.Listeners[1].Params[filter.KeyRecipients])
	assert.Equal(t, "api", cfg.Listeners[1].Params[filter.KeyProjectKeys])
	assert.Equal(t, cfg.Listeners[0].params(), cfg.Listeners[1].params())
}

func TestParseSectionWarnings(t *testing.T) {
	cfg, warns := parseSection(map[string]any{
		"disabled":           "maybe",
		"reconnect_interval": "soon",
		"port":               "http",
	})
	assert.Len(t, warns, 3)
	assert.False(t, cfg.Disabled)
	assert.Equal(t, defaultReconnectInterval, cfg.ReconnectInterval)
	assert.Equal(t, 0, cfg.Listeners[0].Port)
}

func TestParseSectionEnvironmentStrings(t *testing.T) {
	cfg, warns := parseSection(map[string]any{
		"disabled":           "true",
		"direct_tls":         "1",
		"port":               "5223",
		"reconnect_interval": "-1s",
		"recipients":         `ops@example.com, Smith\, J`,
	})
	require.Len(t, warns, 1)
	assert.Contains(t, warns[0].Error(), "reconnect_interval")
	assert.True(t, cfg.Disabled)
	assert.True(t, cfg.Transport.DirectTLS)
	assert.Equal(t, defaultReconnectInterval, cfg.ReconnectInterval)
	assert.Equal(t, 5223, cfg.Listeners[0].Port)
	assert.Equal(t, `ops@example.com, Smith\, J`, cfg.Listeners[0].Params[filter.KeyRecipients])
}

func TestParseSectionListenerOverrides(t *testing.T) {
	cfg, warns := parseSection(map[string]any{
		"server":   "chat.example.com",
		"login":    "notifier",
		"password": "base",
		"listeners": []any{
			map[string]any{"name": "alt", "password": "other", "ignore-self-events": "false"},
			map[string]any{"port": "99999"},
		},
	})
	require.Len(t, warns, 1)
	assert.Contains(t, warns[0].Error(), "listeners[1]")
	require.Len(t, cfg.Listeners, 2)

	require.NotNil(t, cfg.Listeners[0].Password)
	require.NotNil(t, cfg.Listeners[1].Password)
	assert.Equal(t, "other", *cfg.Listeners[0].Password)
	assert.Equal(t, "base", *cfg.Listeners[1].Password)
	assert.Equal(t, "false", cfg.Listeners[0].Params[filter.KeyIgnoreSelfEvents])
	assert.NotContains(t, cfg.Listeners[1].Params, filter.KeyIgnoreSelfEvents)
	assert.Equal(t, 0, cfg.Listeners[1].Port)
}
