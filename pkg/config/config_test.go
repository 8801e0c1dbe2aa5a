package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "tok")
	t.Setenv("POLL_REPOS", "acme/api, acme/web,")
	t.Setenv("POLL_INTERVAL", "30s")
	t.Setenv("PRIORITIES", "p0,p1")

	cfg := LoadConfig()
	assert.Equal(t, "tok", cfg.Token)
	assert.Equal(t, []string{"acme/api", "acme/web"}, cfg.PollRepos)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, []string{"p0", "p1"}, cfg.PriorityLabels)
}

func TestLoadConfigMapFromEnvSkipsUnset(t *testing.T) {
	t.Setenv("XMPP_SERVER", "chat.example.com")
	t.Setenv("DISABLE_XMPP_NOTIFICATIONS", "true")

	cfg := LoadConfigMapFromEnv()
	assert.Equal(t, "chat.example.com", cfg["xmpp"]["server"])
	assert.Equal(t, "true", cfg["xmpp"]["disabled"])
	_, hasLogin := cfg["xmpp"]["login"]
	if _, set := os.LookupEnv("XMPP_LOGIN"); !set {
		assert.False(t, hasLogin)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
core:
  poll_repos:
    - acme/api
  poll_interval: 2m
xmpp:
  server: chat.example.com
  port: 5223
  recipients: [assignee, alice]
  listeners:
    - name: ops
      recipients: ops@example.com
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfgMap, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, "chat.example.com", cfgMap["xmpp"]["server"])
	assert.Equal(t, 5223, cfgMap["xmpp"]["port"])
	listeners, ok := cfgMap["xmpp"]["listeners"].([]any)
	require.True(t, ok)
	first, ok := listeners[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ops", first["name"])

	core := LoadConfigFromMap(cfgMap["core"])
	assert.Equal(t, []string{"acme/api"}, core.PollRepos)
	assert.Equal(t, 2*time.Minute, core.PollInterval)
}

func TestLoadConfigFileMissingOrEmpty(t *testing.T) {
	cfgMap, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Empty(t, cfgMap)

	cfgMap, err = ParseConfig([]byte("   \n"))
	require.NoError(t, err)
	assert.Empty(t, cfgMap)

	_, err = ParseConfig([]byte("core: [unclosed"))
	assert.Error(t, err)
}

func TestMergeConfigMap(t *testing.T) {
	file := ConfigMap{"xmpp": {"server": "file"}, "empty": {}}
	env := ConfigMap{"xmpp": {"server": "env", "login": "bot"}}

	merged := MergeConfigMap(file, env)
	assert.Equal(t, "file", merged["xmpp"]["server"])
	assert.Equal(t, "bot", merged["xmpp"]["login"])
	assert.Equal(t, "env", env["xmpp"]["server"])
}

func TestMergeConfigAndDefaults(t *testing.T) {
	primary := Config{Token: "file"}
	fallback := Config{Token: "env", PollRepos: []string{"a/b"}, HTTPAddr: ":8080"}

	cfg := MergeConfig(primary, fallback).WithDefaults()
	assert.Equal(t, "file", cfg.Token)
	assert.Equal(t, []string{"a/b"}, cfg.PollRepos)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, DefaultGitHubURL, cfg.GitHubURL)
	assert.Equal(t, DefaultPollInterval, cfg.PollInterval)
	assert.Equal(t, "plugins", cfg.PluginsDir)
}

func TestLoadDotEnv(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("IMNOTIFY_TEST_VALUE=from-file\n"), 0o600))
	t.Setenv("IMNOTIFY_TEST_VALUE", "")
	os.Unsetenv("IMNOTIFY_TEST_VALUE")

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("IMNOTIFY_TEST_VALUE"))
}
