package core

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
)

// PluginRegistry is what the manager exposes to modules during Init.
type PluginRegistry interface {
	GetConfig() map[string]map[string]any
	GetHTTPClient() *http.Client
	GetMuxServer() *http.ServeMux
	GetMetricsRegisterer() prometheus.Registerer

	RegisterEventType(desc EventTypeDesc) error
	Subscribe(pattern string, handler Listener)
	Publish(ctx context.Context, event InternalEvent)

	GetPlugin(name string) (Plugin, error)
	GetPluginsWithCapability(c Capability) []Plugin
}

var _ PluginRegistry = (*ModuleManager)(nil)

func (m *ModuleManager) SetConfig(cfg map[string]map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = cfg
}

func (m *ModuleManager) GetConfig() map[string]map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config == nil {
		return map[string]map[string]any{}
	}
	return m.config
}

func (m *ModuleManager) SetHTTPClient(client *http.Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.httpClient = client
}

func (m *ModuleManager) GetHTTPClient() *http.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.httpClient == nil {
		return http.DefaultClient
	}
	return m.httpClient
}

func (m *ModuleManager) GetMuxServer() *http.ServeMux {
	return m.mux
}

func (m *ModuleManager) GetMetricsRegisterer() prometheus.Registerer {
	return m.metrics
}

func (m *ModuleManager) Broker() *Broker {
	return m.broker
}

func (m *ModuleManager) RegisterEventType(desc EventTypeDesc) error {
	return m.broker.RegisterEventType(desc)
}

func (m *ModuleManager) Subscribe(pattern string, handler Listener) {
	m.broker.Subscribe(pattern, handler)
}

func (m *ModuleManager) Publish(ctx context.Context, event InternalEvent) {
	m.broker.Publish(ctx, event)
}

// ListPlugins returns the registered modules that are plugins.
func (m *ModuleManager) ListPlugins() []Plugin {
	out := []Plugin{}
	for _, mod := range m.modules {
		if p, ok := mod.(Plugin); ok {
			out = append(out, p)
		}
	}
	return out
}

func (m *ModuleManager) GetPlugin(name string) (Plugin, error) {
	for _, p := range m.ListPlugins() {
		if p.Name() == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("plugin %s not found", name)
}

func (m *ModuleManager) GetPluginsWithCapability(c Capability) []Plugin {
	out := []Plugin{}
	for _, p := range m.ListPlugins() {
		for _, have := range p.Capabilities() {
			if have == c {
				out = append(out, p)
				break
			}
		}
	}
	return out
}
