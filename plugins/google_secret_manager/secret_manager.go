// Package gsm resolves secrets from Google Cloud Secret Manager for other
// plugins through the "get_secret" action.
package gsm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/mywio/im-notify/pkg/core"
)

// Accessor is the part of the Secret Manager client the plugin uses.
type Accessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

type secretManagerConfig struct {
	ProjectID string `yaml:"project_id"`
}

type SecretManagerPlugin struct {
	logger    *slog.Logger
	projectID string

	mu     sync.Mutex
	client Accessor
	cache  map[string]string
	err    error
}

func New() *SecretManagerPlugin {
	return &SecretManagerPlugin{cache: map[string]string{}}
}

// NewWithAccessor uses client instead of dialing Secret Manager.
func NewWithAccessor(client Accessor) *SecretManagerPlugin {
	return &SecretManagerPlugin{client: client, cache: map[string]string{}}
}

func (p *SecretManagerPlugin) Name() string {
	return "google_secret_manager"
}

func (p *SecretManagerPlugin) Init(ctx context.Context, logger *slog.Logger, registry core.PluginRegistry) error {
	p.logger = logger
	var cfg secretManagerConfig
	if err := core.DecodeConfigSection(registry.GetConfig()["google_secret_manager"], &cfg); err != nil {
		p.logger.Warn("Invalid google_secret_manager config", "error", err)
	}
	p.projectID = strings.TrimSpace(cfg.ProjectID)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return nil
	}
	if p.projectID == "" {
		p.logger.Info("GOOGLE_CLOUD_PROJECT not set, Secret Manager disabled")
		return nil
	}
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		// Secrets are optional; consumers fall back to plain config.
		p.err = err
		p.logger.Error("Failed to create Secret Manager client", "error", err)
		return nil
	}
	p.client = client
	return nil
}

func (p *SecretManagerPlugin) Start(ctx context.Context) error {
	p.logger.Info("Secret Manager Plugin Started", "project", p.projectID)
	return nil
}

func (p *SecretManagerPlugin) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

func (p *SecretManagerPlugin) Description() string {
	return "Resolves secrets from Google Cloud Secret Manager"
}

func (p *SecretManagerPlugin) Capabilities() []core.Capability {
	return []core.Capability{core.CapabilitySecrets}
}

func (p *SecretManagerPlugin) Status() core.ServiceStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.err != nil:
		return core.StatusUnhealthy
	case p.client == nil:
		return core.StatusDegraded
	default:
		return core.StatusHealthy
	}
}

// Execute supports "get_secret" with a "name" parameter. The name is either
// a bare secret id in the configured project or a full resource name.
func (p *SecretManagerPlugin) Execute(ctx context.Context, action string, params map[string]interface{}) (interface{}, error) {
	if action != "get_secret" {
		return nil, fmt.Errorf("unsupported action %q", action)
	}
	name, _ := params["name"].(string)
	resource, err := p.resourceName(name)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.cache[resource]; ok {
		return v, nil
	}
	if p.client == nil {
		return nil, errors.New("secret manager is not configured")
	}
	resp, err := p.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		return nil, fmt.Errorf("access secret %s: %w", resource, err)
	}
	value := string(resp.GetPayload().GetData())
	p.cache[resource] = value
	p.logger.Debug("Secret resolved", "secret", resource)
	return value, nil
}

func (p *SecretManagerPlugin) resourceName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("missing secret name")
	}
	if strings.HasPrefix(name, "projects/") {
		if !strings.Contains(name, "/versions/") {
			name += "/versions/latest"
		}
		return name, nil
	}
	if p.projectID == "" {
		return "", fmt.Errorf("secret %s: no project configured", name)
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", p.projectID, name), nil
}

type configView struct {
	ProjectID string `json:"project_id"`
	Cached    int    `json:"cached"`
}

func (p *SecretManagerPlugin) Config() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return configView{ProjectID: p.projectID, Cached: len(p.cache)}
}
