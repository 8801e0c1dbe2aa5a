// Package webhooktrigger receives GitHub issue webhooks and manual poll
// requests over HTTP and puts them on the event bus.
package webhooktrigger

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/go-github/v57/github"
	"github.com/mywio/im-notify/pkg/core"
	"github.com/mywio/im-notify/pkg/event"
	"github.com/mywio/im-notify/pkg/githost"
)

const (
	defaultPath     = "/webhooks/github"
	pollPath        = "/poll"
	eventReceived   = core.EventTypeName("webhook_received")
	maxPayloadBytes = 25 << 20
)

// Parser turns a webhook delivery into an issue event.
type Parser interface {
	ParseWebhook(r *http.Request, secret []byte) (*event.Event, error)
}

type WebhookTriggerPlugin struct {
	parser   Parser
	path     string
	secret   core.Secret
	token    core.Secret
	logger   *slog.Logger
	registry core.PluginRegistry
}

type webhookTriggerConfig struct {
	Path   string `yaml:"path"`
	Secret string `yaml:"secret"`
	Token  string `yaml:"token"`
}

func New(parser Parser) *WebhookTriggerPlugin {
	return &WebhookTriggerPlugin{parser: parser}
}

func (p *WebhookTriggerPlugin) Name() string {
	return "webhook_trigger"
}

func (p *WebhookTriggerPlugin) Init(ctx context.Context, logger *slog.Logger, registry core.PluginRegistry) error {
	p.logger = logger
	p.registry = registry
	if p.parser == nil {
		return errors.New("webhook trigger has no parser")
	}

	var wcfg webhookTriggerConfig
	if err := core.DecodeConfigSection(registry.GetConfig()["webhook_trigger"], &wcfg); err != nil {
		p.logger.Warn("Invalid webhook_trigger config", "error", err)
	}
	p.path = strings.TrimSpace(wcfg.Path)
	if p.path == "" {
		p.path = defaultPath
	}
	p.secret = core.NewSecret(wcfg.Secret)
	p.token = core.NewSecret(wcfg.Token)

	if p.secret.Value == "" {
		p.logger.Warn("WEBHOOK_SECRET not set, webhook signatures are not verified (use with caution)")
	}
	if p.token.Value == "" {
		p.logger.Warn("WEBHOOK_TOKEN not set, poll endpoint is unsecured (use with caution)")
	}
	p.logger.Info("Webhook Trigger Plugin Initialized", "path", p.path, "signed", p.secret.Value != "")

	if err := registry.RegisterEventType(core.EventTypeDesc{
		Name:        eventReceived,
		Description: "Raw webhook received (before processing)",
	}); err != nil {
		p.logger.Debug("Event type already registered", "type", eventReceived)
	}
	mux := registry.GetMuxServer()
	mux.HandleFunc(p.path, p.handleWebhook)
	mux.HandleFunc(pollPath, p.handlePoll)
	return nil
}

func (p *WebhookTriggerPlugin) Start(_ context.Context) error {
	// Routes are served by the core HTTP server
	return nil
}

func (p *WebhookTriggerPlugin) Stop(_ context.Context) error {
	return nil
}

func (p *WebhookTriggerPlugin) Description() string {
	return "Receives GitHub issue webhooks and on-demand poll requests"
}

func (p *WebhookTriggerPlugin) Capabilities() []core.Capability {
	return []core.Capability{core.CapabilityTrigger}
}

func (p *WebhookTriggerPlugin) Status() core.ServiceStatus {
	if p.secret.Value == "" {
		return core.StatusDegraded
	}
	return core.StatusHealthy
}

// Execute supports "poll", which asks the poller for an immediate poll.
func (p *WebhookTriggerPlugin) Execute(ctx context.Context, action string, params map[string]interface{}) (interface{}, error) {
	if action != "poll" {
		return nil, fmt.Errorf("webhook_trigger does not support action %q", action)
	}
	p.registry.Publish(ctx, core.InternalEvent{Type: core.EventPollNow, Source: p.Name()})
	return map[string]string{"status": "accepted"}, nil
}

type configView struct {
	Path   string      `json:"path"`
	Secret core.Secret `json:"secret"`
	Token  core.Secret `json:"token"`
}

func (p *WebhookTriggerPlugin) Config() any {
	return configView{Path: p.path, Secret: p.secret, Token: p.token}
}

func (p *WebhookTriggerPlugin) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxPayloadBytes)
	kind := github.WebHookType(r)
	delivery := github.DeliveryID(r)
	logger := p.logger.With("delivery", delivery, "kind", kind)

	p.registry.Publish(r.Context(), core.InternalEvent{
		Type:   eventReceived,
		Source: p.Name(),
		Details: map[string]interface{}{
			"client_ip":  r.RemoteAddr,
			"delivery":   delivery,
			"kind":       kind,
			"user_agent": r.UserAgent(),
		},
	})

	ev, err := p.parser.ParseWebhook(r, []byte(p.secret.Value))
	switch {
	case errors.Is(err, githost.ErrIgnored):
		logger.Debug("Webhook ignored")
		writeStatus(w, http.StatusAccepted, "ignored")
		return
	case err != nil:
		logger.Warn("Rejected webhook", "client_ip", r.RemoteAddr, "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	logger.Info("Issue event received via webhook", "issue", ev.Key(), "type", ev.Type.Name)
	p.registry.Publish(r.Context(), githost.ToInternal(p.Name(), ev))
	writeStatus(w, http.StatusAccepted, "accepted")
}

func (p *WebhookTriggerPlugin) handlePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Optional token auth
	if p.token.Value != "" {
		auth := r.Header.Get("Authorization")
		given := strings.TrimPrefix(auth, "Bearer ")
		if !strings.HasPrefix(auth, "Bearer ") || subtle.ConstantTimeCompare([]byte(given), []byte(p.token.Value)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	p.logger.Info("Poll trigger received via webhook",
		"client_ip", r.RemoteAddr,
		"user_agent", r.UserAgent())
	p.registry.Publish(r.Context(), core.InternalEvent{
		Type:    core.EventPollNow,
		Source:  p.Name(),
		Details: map[string]interface{}{"client_ip": r.RemoteAddr},
	})
	writeStatus(w, http.StatusAccepted, "accepted")
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, "{\"status\": %q}\n", status)
}
