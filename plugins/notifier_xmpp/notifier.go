// Package notifierxmpp sends issue events to XMPP users who are present.
package notifierxmpp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mywio/im-notify/pkg/core"
	"github.com/mywio/im-notify/pkg/dispatch"
	"github.com/mywio/im-notify/pkg/event"
	"github.com/mywio/im-notify/pkg/filter"
	"github.com/mywio/im-notify/pkg/githost"
	"github.com/mywio/im-notify/pkg/presence"
	"github.com/mywio/im-notify/pkg/recipient"
	"github.com/mywio/im-notify/pkg/render"
)

const sectionName = "xmpp"

// Directory is the identity directory the notifier resolves against.
type Directory interface {
	recipient.Directory
	filter.GroupLookup
	filter.GroupMembership
}

// Host answers questions about the issue tracker.
type Host interface {
	filter.WorkflowSource
	recipient.WatcherSource
	dispatch.PermissionChecker
}

// Deps are the collaborators of the notifier. Dial is optional and defaults
// to the XMPP transport configured by the section.
type Deps struct {
	Catalog   *event.Catalog
	Directory Directory
	Host      Host
	BaseURL   string
	Dial      presence.Dialer
}

type listener struct {
	cfg        listenerConfig
	params     presence.Params
	filter     *filter.Config
	diags      filter.Diagnostics
	dispatcher *dispatch.Dispatcher
}

type Notifier struct {
	deps     Deps
	logger   *slog.Logger
	registry core.PluginRegistry

	mu        sync.RWMutex
	section   sectionConfig
	listeners []*listener
	factory   *presence.Factory
	disabled  bool
}

func New(deps Deps) *Notifier {
	return &Notifier{deps: deps}
}

func (n *Notifier) Name() string {
	return sectionName
}

func (n *Notifier) Description() string {
	return "Sends issue notifications over XMPP to recipients who are online"
}

func (n *Notifier) Capabilities() []core.Capability {
	return []core.Capability{core.CapabilityNotifier}
}

func (n *Notifier) Init(ctx context.Context, logger *slog.Logger, registry core.PluginRegistry) error {
	n.logger = logger
	n.registry = registry
	if n.deps.Catalog == nil {
		n.deps.Catalog = event.NewCatalog(event.DefaultTypes(), event.DefaultPriorities)
	}
	if n.deps.Directory == nil || n.deps.Host == nil {
		return errors.New("xmpp notifier needs a directory and a host")
	}

	section, warns := parseSection(registry.GetConfig()[sectionName])
	for _, w := range warns {
		logger.WarnContext(ctx, "Invalid XMPP setting", "error", w)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.section = section
	if section.Disabled {
		n.disabled = true
		logger.InfoContext(ctx, "XMPP notifications are disabled")
		return nil
	}

	metrics := dispatch.NewMetrics(registry.GetMetricsRegisterer())
	dial := n.deps.Dial
	if dial == nil {
		dial = presence.NewXMPPDialer(section.Transport)
	}
	n.factory = presence.NewFactory(presence.FactoryOptions{
		Logger:            logger,
		Dial:              dial,
		ReconnectInterval: section.ReconnectInterval,
		Inbound:           (&bot{logger: logger}).handle,
		Observer:          metrics.ObserveSession,
	})

	engine := filter.NewEngine(n.deps.Host, n.deps.Directory, logger)
	resolver := recipient.NewResolver(n.deps.Directory, n.deps.Host, logger)
	lookups := filter.Lookups{Types: n.deps.Catalog, Priorities: n.deps.Catalog, Groups: n.deps.Directory}

	for _, lc := range section.Listeners {
		l, err := n.buildListener(ctx, lc, lookups, engine, resolver, metrics)
		if err != nil {
			return err
		}
		n.listeners = append(n.listeners, l)
		// One subscription per listener so overlapping patterns never
		// deliver an event twice.
		registry.Subscribe(subscription(lc.Subscribe), n.handler(l))
		logger.InfoContext(ctx, "XMPP listener configured",
			"listener", lc.Name, "session", l.params.String(), "filter", l.filter.String(), "subscribe", lc.Subscribe)
	}
	return nil
}

func (n *Notifier) buildListener(ctx context.Context, lc listenerConfig, lookups filter.Lookups, engine *filter.Engine, resolver *recipient.Resolver, metrics *dispatch.Metrics) (*listener, error) {
	logger := n.logger.With("listener", lc.Name)

	if lc.Password == nil && lc.PasswordSecret != "" {
		if pw, ok := n.resolveSecret(ctx, lc.PasswordSecret); ok {
			lc.Password = &pw
		} else {
			logger.WarnContext(ctx, "XMPP password secret could not be resolved", "secret", lc.PasswordSecret)
		}
	}

	cfg, diags := filter.NewBuilder(lookups).Params(lc.Params).Build()
	for _, d := range diags {
		logger.WarnContext(ctx, "Invalid listener parameter", "key", d.Key, "value", d.Value, "error", d.Message)
	}
	if len(cfg.RecipientSpecs) == 0 && cfg.IdentityAddressKey == "" {
		logger.WarnContext(ctx, "No recipients and no identity address property configured, nobody will be notified")
	}

	var (
		renderer *render.Renderer
		err      error
	)
	if lc.TemplateFile != "" {
		renderer, err = render.NewFromFile(lc.TemplateFile)
	} else {
		renderer, err = render.New("")
	}
	if err != nil {
		return nil, fmt.Errorf("listener %s: %w", lc.Name, err)
	}

	return &listener{
		cfg:    lc,
		params: lc.params(),
		filter: cfg,
		diags:  diags,
		dispatcher: dispatch.New(dispatch.Options{
			Engine:      engine,
			Resolver:    resolver,
			Permissions: n.deps.Host,
			Renderer:    renderer,
			BaseURL:     n.deps.BaseURL,
			Logger:      logger,
			Metrics:     metrics,
		}),
	}, nil
}

// resolveSecret asks every secrets plugin for name.
func (n *Notifier) resolveSecret(ctx context.Context, name string) (string, bool) {
	for _, p := range n.registry.GetPluginsWithCapability(core.CapabilitySecrets) {
		res, err := p.Execute(ctx, "get_secret", map[string]interface{}{"name": name})
		if err != nil {
			n.logger.DebugContext(ctx, "Secrets plugin could not resolve secret", "plugin", p.Name(), "secret", name, "error", err)
			continue
		}
		if s, ok := res.(string); ok {
			return s, true
		}
	}
	return "", false
}

func (n *Notifier) handler(l *listener) core.Listener {
	return func(ctx context.Context, in core.InternalEvent) {
		if !core.MatchesAny(in.Type, l.cfg.Subscribe) {
			return
		}
		ev, ok := githost.FromInternal(in)
		if !ok {
			n.logger.DebugContext(ctx, "Bus event carries no issue event", "type", in.Type)
			return
		}
		n.notify(ctx, l, ev)
	}
}

// subscription is the single bus pattern covering patterns.
func subscription(patterns []string) string {
	if len(patterns) == 1 {
		return patterns[0]
	}
	return "*"
}

// notify runs ev through one listener.
func (n *Notifier) notify(ctx context.Context, l *listener, ev *event.Event) dispatch.Summary {
	if !l.params.Configured() {
		n.logger.DebugContext(ctx, "XMPP session not configured, event dropped", "listener", l.cfg.Name, "event", ev.Key())
		return dispatch.Summary{}
	}
	return l.dispatcher.Dispatch(ctx, ev, l.filter, n.factory.Session(l.params))
}

// Start brings the sessions up so the bot is reachable before the first
// event arrives.
func (n *Notifier) Start(ctx context.Context) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.disabled {
		return nil
	}
	for _, l := range n.listeners {
		if !l.params.Configured() {
			n.logger.WarnContext(ctx, "XMPP listener has no complete session parameters", "listener", l.cfg.Name)
			continue
		}
		gw := n.factory.Session(l.params)
		if err := gw.Connect(ctx); err != nil {
			n.logger.ErrorContext(ctx, "XMPP connect failed", "listener", l.cfg.Name, "error", err)
			continue
		}
		if err := gw.Authenticate(ctx); err != nil {
			n.logger.ErrorContext(ctx, "XMPP authenticate failed", "listener", l.cfg.Name, "error", err)
		}
	}
	return nil
}

func (n *Notifier) Stop(ctx context.Context) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.factory == nil {
		return nil
	}
	return n.factory.Close()
}

func (n *Notifier) Status() core.ServiceStatus {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.disabled || len(n.listeners) == 0 {
		return core.StatusDegraded
	}
	configured := 0
	for _, l := range n.listeners {
		if !l.params.Configured() {
			continue
		}
		configured++
		if !n.factory.Session(l.params).Authenticated() {
			return core.StatusUnhealthy
		}
	}
	if configured == 0 {
		return core.StatusDegraded
	}
	return core.StatusHealthy
}

// Execute supports "status" (address) and "send" (address, text), both with
// an optional "listener" name, and "diagnostics".
func (n *Notifier) Execute(ctx context.Context, action string, params map[string]interface{}) (interface{}, error) {
	if action == "diagnostics" {
		return n.diagnostics(), nil
	}
	n.mu.RLock()
	disabled := n.disabled
	n.mu.RUnlock()
	if disabled {
		return nil, errors.New("xmpp notifications are disabled")
	}

	name, _ := params["listener"].(string)
	l, err := n.listener(name)
	if err != nil {
		return nil, err
	}
	if !l.params.Configured() {
		return nil, fmt.Errorf("listener %s has no complete session parameters", l.cfg.Name)
	}
	address, _ := params["address"].(string)
	if address == "" {
		return nil, errors.New("missing address")
	}
	gw := n.factory.Session(l.params)

	switch action {
	case "status":
		return gw.Status(ctx, address).String(), nil
	case "send":
		text, _ := params["text"].(string)
		if text == "" {
			return nil, errors.New("missing text")
		}
		state := gw.Status(ctx, address)
		if !gw.Authenticated() {
			return nil, &presence.ConnectionError{Op: "send", Server: l.params.Address(), Err: presence.ErrNotConnected}
		}
		return map[string]interface{}{"status": state.String(), "sent": gw.Send(ctx, address, text)}, nil
	default:
		return nil, fmt.Errorf("unsupported action %q", action)
	}
}

func (n *Notifier) listener(name string) (*listener, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if len(n.listeners) == 0 {
		return nil, errors.New("no listeners configured")
	}
	if name == "" {
		return n.listeners[0], nil
	}
	for _, l := range n.listeners {
		if l.cfg.Name == name {
			return l, nil
		}
	}
	return nil, fmt.Errorf("listener %s not found", name)
}

func (n *Notifier) diagnostics() map[string][]string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := map[string][]string{}
	for _, l := range n.listeners {
		msgs := make([]string, 0, len(l.diags))
		for _, d := range l.diags {
			msgs = append(msgs, d.Error())
		}
		out[l.cfg.Name] = msgs
	}
	return out
}

type listenerView struct {
	Name      string      `json:"name"`
	Session   string      `json:"session"`
	Password  core.Secret `json:"password"`
	Filter    string      `json:"filter"`
	Subscribe []string    `json:"subscribe,omitempty"`
	State     string      `json:"state"`
}

type configView struct {
	Disabled          bool           `json:"disabled"`
	ReconnectInterval string         `json:"reconnect_interval"`
	Listeners         []listenerView `json:"listeners"`
}

func (n *Notifier) Config() any {
	n.mu.RLock()
	defer n.mu.RUnlock()
	view := configView{
		Disabled:          n.disabled,
		ReconnectInterval: n.section.ReconnectInterval.String(),
		Listeners:         []listenerView{},
	}
	for _, l := range n.listeners {
		v := listenerView{
			Name:      l.cfg.Name,
			Session:   l.params.String(),
			Filter:    l.filter.String(),
			Subscribe: append([]string(nil), l.cfg.Subscribe...),
			State:     presence.Disconnected.String(),
		}
		if l.params.Password != nil {
			v.Password = core.NewSecret(*l.params.Password)
		}
		if l.params.Configured() {
			v.State = n.factory.Session(l.params).State().String()
		}
		view.Listeners = append(view.Listeners, v)
	}
	return view
}
