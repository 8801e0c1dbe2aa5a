package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPollInterval = time.Minute
	DefaultGitHubURL    = "https://github.com"
)

// Config is the core configuration.
type Config struct {
	Token          string
	GitHubURL      string // web base, used for links
	GitHubAPIURL   string // empty for api.github.com
	PollRepos      []string
	PollInterval   time.Duration
	DirectoryFile  string
	PluginsDir     string
	HTTPAddr       string
	PriorityLabels []string
}

func LoadConfig() Config {
	interval, _ := time.ParseDuration(os.Getenv("POLL_INTERVAL"))
	if interval == 0 {
		interval = DefaultPollInterval
	}

	return Config{
		Token:          os.Getenv("GITHUB_TOKEN"),
		GitHubURL:      os.Getenv("GITHUB_URL"),
		GitHubAPIURL:   os.Getenv("GITHUB_API_URL"),
		PollRepos:      splitList(os.Getenv("POLL_REPOS")),
		PollInterval:   interval,
		DirectoryFile:  os.Getenv("DIRECTORY_FILE"),
		PluginsDir:     os.Getenv("PLUGINS_DIR"),
		HTTPAddr:       os.Getenv("HTTP_ADDR"),
		PriorityLabels: splitList(os.Getenv("PRIORITIES")),
	}
}

// LoadDotEnv loads variables from a .env file without overriding variables
// already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ConfigMap is a sectioned configuration map keyed by plugin name (or "core").
// Values are YAML-friendly scalars or nested maps/lists.
type ConfigMap map[string]map[string]any

// LoadConfigFile loads a YAML config file from disk.
// Returns an empty map if the file does not exist or is empty.
func LoadConfigFile(path string) (ConfigMap, error) {
	if path == "" {
		return ConfigMap{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ConfigMap{}, nil
		}
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig parses a YAML document into a ConfigMap.
func ParseConfig(data []byte) (ConfigMap, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return ConfigMap{}, nil
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	return normalizeConfigMap(raw), nil
}

// LoadConfigMapFromEnv builds a sectioned config map from environment variables.
// Unset variables are left out so they never shadow file values or defaults.
func LoadConfigMapFromEnv() ConfigMap {
	env := func(section map[string]any, key, name string) {
		if v, ok := os.LookupEnv(name); ok {
			section[key] = v
		}
	}
	cfg := ConfigMap{
		"core":                  {},
		"xmpp":                  {},
		"webhook_trigger":       {},
		"google_secret_manager": {},
	}

	coreSection := cfg["core"]
	env(coreSection, "token", "GITHUB_TOKEN")
	env(coreSection, "github_url", "GITHUB_URL")
	env(coreSection, "github_api_url", "GITHUB_API_URL")
	env(coreSection, "poll_repos", "POLL_REPOS")
	env(coreSection, "poll_interval", "POLL_INTERVAL")
	env(coreSection, "directory_file", "DIRECTORY_FILE")
	env(coreSection, "plugins_dir", "PLUGINS_DIR")
	env(coreSection, "http_addr", "HTTP_ADDR")
	env(coreSection, "priorities", "PRIORITIES")

	xmpp := cfg["xmpp"]
	env(xmpp, "disabled", "DISABLE_XMPP_NOTIFICATIONS")
	env(xmpp, "server", "XMPP_SERVER")
	env(xmpp, "login", "XMPP_LOGIN")
	env(xmpp, "password", "XMPP_PASSWORD")
	env(xmpp, "password_secret", "XMPP_PASSWORD_SECRET")
	env(xmpp, "port", "XMPP_PORT")
	env(xmpp, "recipients", "XMPP_RECIPIENTS")
	env(xmpp, "identity_address_property", "XMPP_IDENTITY_ADDRESS_PROPERTY")
	env(xmpp, "notifiable_statuses", "XMPP_NOTIFIABLE_STATUSES")
	env(xmpp, "trigger_event_types", "XMPP_TRIGGER_EVENT_TYPES")
	env(xmpp, "project_keys", "XMPP_PROJECT_KEYS")
	env(xmpp, "priorities", "XMPP_PRIORITIES")
	env(xmpp, "workflow_name_regex", "XMPP_WORKFLOW_NAME_REGEX")
	env(xmpp, "required_groups", "XMPP_REQUIRED_GROUPS")
	env(xmpp, "ignored_groups", "XMPP_IGNORED_GROUPS")
	env(xmpp, "ignore_self_events", "XMPP_IGNORE_SELF_EVENTS")
	env(xmpp, "template_file", "XMPP_TEMPLATE_FILE")
	env(xmpp, "subscribe", "XMPP_EVENTS")

	env(cfg["webhook_trigger"], "secret", "WEBHOOK_SECRET")
	env(cfg["webhook_trigger"], "token", "WEBHOOK_TOKEN")
	env(cfg["google_secret_manager"], "project_id", "GOOGLE_CLOUD_PROJECT")
	return cfg
}

// LoadConfigFromMap builds a core Config from the "core" section.
func LoadConfigFromMap(m map[string]any) Config {
	cfg := Config{}

	if v, ok := getString(m, "token", "github_token"); ok {
		cfg.Token = v
	}
	if v, ok := getString(m, "github_url"); ok {
		cfg.GitHubURL = v
	}
	if v, ok := getString(m, "github_api_url"); ok {
		cfg.GitHubAPIURL = v
	}
	if v, ok := getStringSlice(m, "poll_repos", "repos"); ok {
		cfg.PollRepos = v
	}
	if v, ok := getDuration(m, "poll_interval", "interval"); ok {
		cfg.PollInterval = v
	}
	if v, ok := getString(m, "directory_file", "directory"); ok {
		cfg.DirectoryFile = v
	}
	if v, ok := getString(m, "plugins_dir"); ok {
		cfg.PluginsDir = v
	}
	if v, ok := getString(m, "http_addr"); ok {
		cfg.HTTPAddr = v
	}
	if v, ok := getStringSlice(m, "priorities"); ok {
		cfg.PriorityLabels = v
	}

	return cfg
}

// MergeConfig uses primary values when set, otherwise falls back.
func MergeConfig(primary, fallback Config) Config {
	out := primary
	if out.Token == "" {
		out.Token = fallback.Token
	}
	if out.GitHubURL == "" {
		out.GitHubURL = fallback.GitHubURL
	}
	if out.GitHubAPIURL == "" {
		out.GitHubAPIURL = fallback.GitHubAPIURL
	}
	if len(out.PollRepos) == 0 {
		out.PollRepos = fallback.PollRepos
	}
	if out.PollInterval == 0 {
		out.PollInterval = fallback.PollInterval
	}
	if out.DirectoryFile == "" {
		out.DirectoryFile = fallback.DirectoryFile
	}
	if out.PluginsDir == "" {
		out.PluginsDir = fallback.PluginsDir
	}
	if out.HTTPAddr == "" {
		out.HTTPAddr = fallback.HTTPAddr
	}
	if len(out.PriorityLabels) == 0 {
		out.PriorityLabels = fallback.PriorityLabels
	}
	return out
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.GitHubURL == "" {
		c.GitHubURL = DefaultGitHubURL
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PluginsDir == "" {
		c.PluginsDir = "plugins"
	}
	return c
}

// MergeConfigMap merges primary over fallback (primary wins).
func MergeConfigMap(primary, fallback ConfigMap) ConfigMap {
	out := cloneConfigMap(fallback)
	for section, vals := range primary {
		if len(vals) == 0 {
			continue
		}
		merged := map[string]any{}
		if existing, ok := out[section]; ok {
			for k, v := range existing {
				merged[k] = v
			}
		}
		for k, v := range vals {
			merged[k] = v
		}
		out[section] = merged
	}
	return out
}

func cloneConfigMap(src ConfigMap) ConfigMap {
	dst := ConfigMap{}
	for section, vals := range src {
		sectionCopy := map[string]any{}
		for k, v := range vals {
			sectionCopy[k] = v
		}
		dst[section] = sectionCopy
	}
	return dst
}

func normalizeConfigMap(raw map[string]any) ConfigMap {
	out := ConfigMap{}
	for key, value := range raw {
		if m := normalizeStringMap(value); m != nil {
			out[key] = m
		}
	}
	return out
}

func normalizeStringMap(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		out := map[string]any{}
		for k, v := range t {
			out[k] = normalizeValue(v)
		}
		return out
	case map[any]any:
		out := map[string]any{}
		for k, v := range t {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = normalizeValue(v)
		}
		return out
	default:
		return nil
	}
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any, map[any]any:
		return normalizeStringMap(t)
	case []any:
		out := make([]any, 0, len(t))
		for _, item := range t {
			out = append(out, normalizeValue(item))
		}
		return out
	default:
		return v
	}
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getString(m map[string]any, keys ...string) (string, bool) {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			switch t := v.(type) {
			case string:
				return strings.TrimSpace(t), true
			default:
				return strings.TrimSpace(fmt.Sprint(t)), true
			}
		}
	}
	return "", false
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func getDuration(m map[string]any, keys ...string) (time.Duration, bool) {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			switch t := v.(type) {
			case time.Duration:
				return t, true
			case string:
				d, err := time.ParseDuration(strings.TrimSpace(t))
				if err == nil {
					return d, true
				}
			case int:
				return time.Duration(t) * time.Second, true
			case int64:
				return time.Duration(t) * time.Second, true
			case float64:
				return time.Duration(t) * time.Second, true
			}
		}
	}
	return 0, false
}

func getStringSlice(m map[string]any, keys ...string) ([]string, bool) {
	for _, key := range keys {
		if v, ok := m[key]; ok {
			switch t := v.(type) {
			case []any:
				out := make([]string, 0, len(t))
				for _, item := range t {
					if s := strings.TrimSpace(toString(item)); s != "" {
						out = append(out, s)
					}
				}
				return out, true
			case []string:
				return t, true
			case string:
				return splitList(t), true
			}
		}
	}
	return nil, false
}
