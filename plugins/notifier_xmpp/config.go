package notifierxmpp

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mywio/im-notify/pkg/core"
	"github.com/mywio/im-notify/pkg/filter"
	"github.com/mywio/im-notify/pkg/presence"
	"gopkg.in/yaml.v3"
)

const (
	defaultSubscribe         = "issue_*"
	defaultReconnectInterval = 30 * time.Second
)

// listValue is a list setting written either as a comma string ("\," for a
// literal comma) or as a YAML list. It keeps the comma form the filter
// builder parses.
type listValue struct {
	raw string
	set bool
}

func (v *listValue) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var entries []string
		if err := node.Decode(&entries); err != nil {
			return err
		}
		v.raw = filter.JoinList(entries)
	case yaml.ScalarNode:
		v.raw = strings.TrimSpace(node.Value)
	default:
		return typeError(node, "expected a string or a list")
	}
	v.set = true
	return nil
}

// flexBool accepts YAML booleans and boolean strings, as set from the
// environment.
type flexBool bool

func (b *flexBool) UnmarshalYAML(node *yaml.Node) error {
	v, err := strconv.ParseBool(strings.TrimSpace(node.Value))
	if err != nil {
		return typeError(node, "invalid boolean %q", node.Value)
	}
	*b = flexBool(v)
	return nil
}

// flexPort accepts a port number or its string form.
type flexPort int

func (p *flexPort) UnmarshalYAML(node *yaml.Node) error {
	v, err := strconv.Atoi(strings.TrimSpace(node.Value))
	if err != nil || v <= 0 || v > 65535 {
		return typeError(node, "invalid port %q", node.Value)
	}
	*p = flexPort(v)
	return nil
}

func typeError(node *yaml.Node, format string, args ...any) error {
	return &yaml.TypeError{Errors: []string{fmt.Sprintf("line %d: ", node.Line) + fmt.Sprintf(format, args...)}}
}

// filterSection holds the filter parameters of a listener.
type filterSection struct {
	Recipients              listValue `yaml:"recipients"`
	IdentityAddressProperty listValue `yaml:"identity_address_property"`
	NotifiableStatuses      listValue `yaml:"notifiable_statuses"`
	TriggerEventTypes       listValue `yaml:"trigger_event_types"`
	ProjectKeys             listValue `yaml:"project_keys"`
	Priorities              listValue `yaml:"priorities"`
	WorkflowNameRegex       listValue `yaml:"workflow_name_regex"`
	RequiredGroups          listValue `yaml:"required_groups"`
	IgnoredGroups           listValue `yaml:"ignored_groups"`
	IgnoreSelfEvents        listValue `yaml:"ignore_self_events"`
}

// params returns the set parameters keyed as the filter builder expects.
func (f filterSection) params() map[string]string {
	fields := map[string]listValue{
		filter.KeyRecipients:              f.Recipients,
		filter.KeyIdentityAddressProperty: f.IdentityAddressProperty,
		filter.KeyNotifiableStatuses:      f.NotifiableStatuses,
		filter.KeyTriggerEventTypes:       f.TriggerEventTypes,
		filter.KeyProjectKeys:             f.ProjectKeys,
		filter.KeyPriorities:              f.Priorities,
		filter.KeyWorkflowNameRegex:       f.WorkflowNameRegex,
		filter.KeyRequiredGroups:          f.RequiredGroups,
		filter.KeyIgnoredGroups:           f.IgnoredGroups,
		filter.KeyIgnoreSelfEvents:        f.IgnoreSelfEvents,
	}
	out := map[string]string{}
	for _, key := range filter.Keys {
		if v := fields[key]; v.set {
			out[key] = v.raw
		}
	}
	return out
}

// listenerSection is one listener as written in the config. The section
// itself is the base every entry of "listeners" overrides.
type listenerSection struct {
	Name           string        `yaml:"name"`
	Server         string        `yaml:"server"`
	Login          string        `yaml:"login"`
	Password       *string       `yaml:"password"`
	PasswordSecret string        `yaml:"password_secret"`
	Port           flexPort      `yaml:"port"`
	TemplateFile   string        `yaml:"template_file"`
	Subscribe      listValue     `yaml:"subscribe"`
	Filters        filterSection `yaml:",inline"`
}

type xmppSection struct {
	Disabled           flexBool        `yaml:"disabled"`
	DirectTLS          flexBool        `yaml:"direct_tls"`
	InsecureSkipVerify flexBool        `yaml:"insecure_skip_verify"`
	Debug              flexBool        `yaml:"debug"`
	Resource           string          `yaml:"resource"`
	ReconnectInterval  time.Duration   `yaml:"reconnect_interval"`
	Listeners          []yaml.Node     `yaml:"listeners"`
	Base               listenerSection `yaml:",inline"`
}

// sectionConfig holds the process-wide settings of the "xmpp" section.
type sectionConfig struct {
	Disabled          bool
	Transport         presence.XMPPConfig
	ReconnectInterval time.Duration
	Listeners         []listenerConfig
}

type listenerConfig struct {
	Name           string
	Server         string
	Login          string
	Password       *string
	PasswordSecret string
	Port           int
	TemplateFile   string
	Subscribe      []string
	Params         map[string]string
}

// parseSection reads the "xmpp" section. Problems are returned as warnings;
// the offending value falls back to its default.
func parseSection(section map[string]any) (sectionConfig, []error) {
	var warns []error
	raw := xmppSection{ReconnectInterval: defaultReconnectInterval}
	warns = append(warns, decodeWarnings(core.DecodeConfigSection(normalizeKeys(section), &raw))...)

	if raw.ReconnectInterval < 0 {
		warns = append(warns, fmt.Errorf("reconnect_interval: negative duration %s", raw.ReconnectInterval))
		raw.ReconnectInterval = defaultReconnectInterval
	}
	cfg := sectionConfig{
		Disabled: bool(raw.Disabled),
		Transport: presence.XMPPConfig{
			DirectTLS:          bool(raw.DirectTLS),
			InsecureSkipVerify: bool(raw.InsecureSkipVerify),
			Debug:              bool(raw.Debug),
			Resource:           strings.TrimSpace(raw.Resource),
		},
		ReconnectInterval: raw.ReconnectInterval,
	}

	if len(raw.Listeners) == 0 {
		cfg.Listeners = append(cfg.Listeners, raw.Base.resolve("default"))
		return cfg, warns
	}
	for i := range raw.Listeners {
		l := raw.Base
		l.Name = ""
		if l.Password != nil {
			// Decoding writes through the pointer; keep the base intact.
			pw := *l.Password
			l.Password = &pw
		}
		if err := raw.Listeners[i].Decode(&l); err != nil {
			for _, w := range decodeWarnings(err) {
				warns = append(warns, fmt.Errorf("listeners[%d]: %w", i, w))
			}
			if raw.Listeners[i].Kind != yaml.MappingNode {
				continue
			}
		}
		cfg.Listeners = append(cfg.Listeners, l.resolve(fmt.Sprintf("listener-%d", i+1)))
	}
	return cfg, warns
}

func (s listenerSection) resolve(fallbackName string) listenerConfig {
	l := listenerConfig{
		Name:           strings.TrimSpace(s.Name),
		Server:         strings.TrimSpace(s.Server),
		Login:          strings.TrimSpace(s.Login),
		Password:       s.Password,
		PasswordSecret: strings.TrimSpace(s.PasswordSecret),
		Port:           int(s.Port),
		TemplateFile:   strings.TrimSpace(s.TemplateFile),
		Subscribe:      []string{defaultSubscribe},
		Params:         s.Filters.params(),
	}
	if l.Name == "" {
		l.Name = fallbackName
	}
	if s.Subscribe.set {
		l.Subscribe = normalizePatterns(filter.SplitList(s.Subscribe.raw))
	}
	return l
}

func (l listenerConfig) params() presence.Params {
	return presence.Params{Server: l.Server, Login: l.Login, Password: l.Password, Port: l.Port}
}

// decodeWarnings splits a decode error into one warning per bad value.
func decodeWarnings(err error) []error {
	if err == nil {
		return nil
	}
	var typeErr *yaml.TypeError
	if !errors.As(err, &typeErr) {
		return []error{err}
	}
	out := make([]error, 0, len(typeErr.Errors))
	for _, msg := range typeErr.Errors {
		out = append(out, errors.New(msg))
	}
	return out
}

// normalizeKeys lets the section and its listeners spell keys with hyphens.
func normalizeKeys(section map[string]any) map[string]any {
	out := make(map[string]any, len(section))
	for k, v := range section {
		key := strings.ReplaceAll(k, "-", "_")
		if items, ok := v.([]any); ok && key == "listeners" {
			listeners := make([]any, 0, len(items))
			for _, item := range items {
				if m, ok := item.(map[string]any); ok {
					item = normalizeKeys(m)
				}
				listeners = append(listeners, item)
			}
			v = listeners
		}
		out[key] = v
	}
	return out
}

func normalizePatterns(values []string) []string {
	out := make([]string, 0, len(values))
	seen := map[string]struct{}{}
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
