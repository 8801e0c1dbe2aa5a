// Package bootstrap loads the configuration and builds the modules shared by
// the daemon and notifyctl.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mywio/im-notify/pkg/config"
	"github.com/mywio/im-notify/pkg/core"
	"github.com/mywio/im-notify/pkg/directory"
	"github.com/mywio/im-notify/pkg/event"
	"github.com/mywio/im-notify/pkg/githost"
	gsm "github.com/mywio/im-notify/plugins/google_secret_manager"
	notifierxmpp "github.com/mywio/im-notify/plugins/notifier_xmpp"
)

const DefaultConfigFile = "config.yaml"

// Settings is the merged configuration: the core settings plus every
// plugin section.
type Settings struct {
	Core     config.Config
	Sections config.ConfigMap
}

// LoadSettings reads .env, the environment and the YAML config file named
// by configPath (CONFIG_FILE, then config.yaml when empty). File values win
// over the environment.
func LoadSettings(configPath string) (Settings, error) {
	if err := config.LoadDotEnv(os.Getenv("ENV_FILE")); err != nil {
		return Settings{}, err
	}
	if configPath == "" {
		configPath = os.Getenv("CONFIG_FILE")
	}
	if configPath == "" {
		configPath = DefaultConfigFile
	}

	cfgEnv := config.LoadConfig()
	cfgMapEnv := config.LoadConfigMapFromEnv()
	cfgMapFile, err := config.LoadConfigFile(configPath)
	if err != nil {
		return Settings{}, fmt.Errorf("load config file %s: %w", configPath, err)
	}
	cfgMap := config.MergeConfigMap(cfgMapFile, cfgMapEnv)

	cfg := cfgEnv
	if coreSection, ok := cfgMapFile["core"]; ok {
		cfg = config.MergeConfig(config.LoadConfigFromMap(coreSection), cfgEnv)
	}
	return Settings{Core: cfg.WithDefaults(), Sections: cfgMap}, nil
}

// Components are the collaborators built from the core settings.
type Components struct {
	Catalog   *event.Catalog
	Directory *directory.Directory
	Host      *githost.Host
}

func NewComponents(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Components, error) {
	priorities := cfg.PriorityLabels
	if len(priorities) == 0 {
		priorities = event.DefaultPriorities
	}
	catalog := event.NewCatalog(event.DefaultTypes(), priorities)

	dir, err := directory.Load(cfg.DirectoryFile)
	if err != nil {
		return nil, fmt.Errorf("load directory: %w", err)
	}
	if cfg.DirectoryFile == "" {
		logger.Warn("DIRECTORY_FILE not set, no identities are known")
	}

	if cfg.Token == "" {
		logger.Warn("GITHUB_TOKEN not set, GitHub API calls are unauthenticated")
	}
	gh, err := githost.NewGitHubClient(ctx, cfg.Token, cfg.GitHubAPIURL)
	if err != nil {
		return nil, fmt.Errorf("github client: %w", err)
	}
	host := githost.New(gh, githost.Options{
		Catalog: catalog,
		Logger:  logger.With("module", "githost"),
	})
	return &Components{Catalog: catalog, Directory: dir, Host: host}, nil
}

// NewNotifier builds the XMPP notifier on top of c.
func (c *Components) NewNotifier(cfg config.Config) *notifierxmpp.Notifier {
	return notifierxmpp.New(notifierxmpp.Deps{
		Catalog:   c.Catalog,
		Directory: c.Directory,
		Host:      c.Host,
		BaseURL:   cfg.GitHubURL,
	})
}

// RegisterSecrets registers the Secret Manager plugin when a project is
// configured, so password_secret can be resolved.
func RegisterSecrets(mgr *core.ModuleManager, sections config.ConfigMap) {
	if v, ok := sections["google_secret_manager"]["project_id"]; ok && fmt.Sprint(v) != "" {
		mgr.Register(gsm.New())
	}
}

// RegisterEventTypes describes the issue events on the bus.
func RegisterEventTypes(mgr *core.ModuleManager, catalog *event.Catalog, logger *slog.Logger) {
	descs := append(githost.EventTypeDescs(catalog.Types()), core.EventTypeDesc{
		Name:        core.EventPollNow,
		Description: "Request an immediate poll of the configured repositories",
	})
	for _, desc := range descs {
		if err := mgr.RegisterEventType(desc); err != nil {
			logger.Debug("Event type already registered", "type", desc.Name)
		}
	}
}
