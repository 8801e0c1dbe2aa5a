package filter

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mywio/im-notify/pkg/event"
	"github.com/mywio/im-notify/pkg/presence"
)

// Parameter keys as entered by the administrator.
const (
	KeyRecipients              = "recipients"
	KeyIdentityAddressProperty = "identity-address-property"
	KeyNotifiableStatuses      = "notifiable-statuses"
	KeyTriggerEventTypes       = "trigger-event-types"
	KeyProjectKeys             = "project-keys"
	KeyPriorities              = "priorities"
	KeyWorkflowNameRegex       = "workflow-name-regex"
	KeyRequiredGroups          = "required-groups"
	KeyIgnoredGroups           = "ignored-groups"
	KeyIgnoreSelfEvents        = "ignore-self-events"
)

// Keys lists every filter parameter key.
var Keys = []string{
	KeyRecipients,
	KeyIdentityAddressProperty,
	KeyNotifiableStatuses,
	KeyTriggerEventTypes,
	KeyProjectKeys,
	KeyPriorities,
	KeyWorkflowNameRegex,
	KeyRequiredGroups,
	KeyIgnoredGroups,
	KeyIgnoreSelfEvents,
}

// Set is a string-or-id set. A nil Set means the criterion is unset.
type Set[T comparable] map[T]struct{}

// Contains reports membership.
func (s Set[T]) Contains(v T) bool {
	_, ok := s[v]
	return ok
}

func (s Set[T]) String() string {
	parts := make([]string, 0, len(s))
	for v := range s {
		parts = append(parts, fmt.Sprint(v))
	}
	sort.Strings(parts)
	return "[" + strings.Join(parts, ",") + "]"
}

// Config is an immutable filter configuration. Build it with a Builder.
type Config struct {
	TriggerEventTypes   Set[int64]
	ProjectKeys         Set[string]
	Priorities          Set[string] // priority ids
	WorkflowNameRegex   *regexp.Regexp
	RequiredGroups      Set[string]
	IgnoredGroups       Set[string]
	IgnoreSelfEvents    bool
	NotifiableStatuses  presence.StateSet
	RecipientSpecs      []string
	IdentityAddressKey  string
	workflowNamePattern string
}

// WorkflowNamePattern returns the pattern as configured, before anchoring.
func (c *Config) WorkflowNamePattern() string {
	return c.workflowNamePattern
}

func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("filter[")
	if c.IdentityAddressKey != "" {
		fmt.Fprintf(&b, " address_property=%s", c.IdentityAddressKey)
	}
	if c.WorkflowNameRegex != nil {
		fmt.Fprintf(&b, " workflow=%s", c.workflowNamePattern)
	}
	fmt.Fprintf(&b, " statuses=%s", c.NotifiableStatuses)
	if c.TriggerEventTypes != nil {
		fmt.Fprintf(&b, " event_types=%s", c.TriggerEventTypes)
	}
	if c.ProjectKeys != nil {
		fmt.Fprintf(&b, " projects=%s", c.ProjectKeys)
	}
	if c.Priorities != nil {
		fmt.Fprintf(&b, " priorities=%s", c.Priorities)
	}
	if c.RequiredGroups != nil {
		fmt.Fprintf(&b, " required_groups=%s", c.RequiredGroups)
	}
	if c.IgnoredGroups != nil {
		fmt.Fprintf(&b, " ignored_groups=%s", c.IgnoredGroups)
	}
	fmt.Fprintf(&b, " ignore_self=%t recipients=%v ]", c.IgnoreSelfEvents, c.RecipientSpecs)
	return b.String()
}

// Diagnostic describes a configuration entry that was dropped or ignored.
type Diagnostic struct {
	Key     string
	Value   string
	Message string
}

func (d Diagnostic) Error() string {
	if d.Value == "" {
		return fmt.Sprintf("%s: %s", d.Key, d.Message)
	}
	return fmt.Sprintf("%s: %q: %s", d.Key, d.Value, d.Message)
}

// Diagnostics collected while building a Config.
type Diagnostics []Diagnostic

// Err joins the diagnostics into one error, or nil when there are none.
func (d Diagnostics) Err() error {
	if len(d) == 0 {
		return nil
	}
	errs := make([]error, 0, len(d))
	for _, diag := range d {
		errs = append(errs, diag)
	}
	return errors.Join(errs...)
}

// TypeLookup resolves event type tokens.
type TypeLookup interface {
	LookupType(token string) (event.Type, bool)
}

// PriorityLookup resolves priority tokens.
type PriorityLookup interface {
	LookupPriority(token string) (event.Priority, bool)
}

// GroupLookup reports whether a group exists.
type GroupLookup interface {
	HasGroup(name string) bool
}

// Lookups validate tokens while building. Any of them may be nil: event
// types then must be numeric ids, priorities and groups are taken verbatim.
type Lookups struct {
	Types      TypeLookup
	Priorities PriorityLookup
	Groups     GroupLookup
}

// Builder validates administrator parameters into a Config.
type Builder struct {
	lookups Lookups
	cfg     Config
	diags   Diagnostics
}

// NewBuilder returns a builder holding the defaults: everything unset,
// self events ignored, ONLINE and AWAY notifiable.
func NewBuilder(lookups Lookups) *Builder {
	return &Builder{
		lookups: lookups,
		cfg: Config{
			IgnoreSelfEvents:   true,
			NotifiableStatuses: presence.DefaultNotifiable(),
		},
	}
}

func (b *Builder) flag(key, value, format string, args ...any) {
	b.diags = append(b.diags, Diagnostic{Key: key, Value: value, Message: fmt.Sprintf(format, args...)})
}

// Params applies every known key present in params. Unknown keys are reported.
func (b *Builder) Params(params map[string]string) *Builder {
	known := map[string]func(string) *Builder{
		KeyRecipients:              b.Recipients,
		KeyIdentityAddressProperty: b.IdentityAddressProperty,
		KeyNotifiableStatuses:      b.NotifiableStatuses,
		KeyTriggerEventTypes:       b.TriggerEventTypes,
		KeyProjectKeys:             b.ProjectKeys,
		KeyPriorities:              b.Priorities,
		KeyWorkflowNameRegex:       b.WorkflowNameRegex,
		KeyRequiredGroups:          b.RequiredGroups,
		KeyIgnoredGroups:           b.IgnoredGroups,
		KeyIgnoreSelfEvents:        b.IgnoreSelfEvents,
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		apply, ok := known[key]
		if !ok {
			b.flag(key, "", "unknown parameter")
			continue
		}
		apply(params[key])
	}
	return b
}

// TriggerEventTypes sets the event types, given as ids or names.
func (b *Builder) TriggerEventTypes(raw string) *Builder {
	set := Set[int64]{}
	for _, token := range SplitList(raw) {
		if b.lookups.Types != nil {
			if t, ok := b.lookups.Types.LookupType(token); ok {
				set[t.ID] = struct{}{}
				continue
			}
		} else if id, err := strconv.ParseInt(token, 10, 64); err == nil {
			set[id] = struct{}{}
			continue
		}
		b.flag(KeyTriggerEventTypes, token, "not a valid event type id or name")
	}
	b.cfg.TriggerEventTypes = nonEmptySet(b, KeyTriggerEventTypes, raw, set)
	return b
}

// ProjectKeys sets the project keys.
func (b *Builder) ProjectKeys(raw string) *Builder {
	set := Set[string]{}
	for _, key := range SplitList(raw) {
		set[key] = struct{}{}
	}
	b.cfg.ProjectKeys = nonEmptySet(b, KeyProjectKeys, raw, set)
	return b
}

// Priorities sets the priorities, given as ids or names.
func (b *Builder) Priorities(raw string) *Builder {
	set := Set[string]{}
	for _, token := range SplitList(raw) {
		if b.lookups.Priorities == nil {
			set[token] = struct{}{}
			continue
		}
		p, ok := b.lookups.Priorities.LookupPriority(token)
		if !ok {
			b.flag(KeyPriorities, token, "not a valid priority id or name")
			continue
		}
		set[p.ID] = struct{}{}
	}
	b.cfg.Priorities = nonEmptySet(b, KeyPriorities, raw, set)
	return b
}

// WorkflowNameRegex sets the workflow name pattern. The pattern must match
// the whole name.
func (b *Builder) WorkflowNameRegex(raw string) *Builder {
	pattern := strings.TrimSpace(raw)
	if pattern == "" {
		return b
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		b.flag(KeyWorkflowNameRegex, pattern, "invalid regular expression, criterion unset: %v", err)
		return b
	}
	b.cfg.WorkflowNameRegex = re
	b.cfg.workflowNamePattern = pattern
	return b
}

// RequiredGroups sets the groups of which the actor must be in at least one.
func (b *Builder) RequiredGroups(raw string) *Builder {
	b.cfg.RequiredGroups = b.groups(KeyRequiredGroups, raw)
	return b
}

// IgnoredGroups sets the groups whose members' events are ignored.
func (b *Builder) IgnoredGroups(raw string) *Builder {
	b.cfg.IgnoredGroups = b.groups(KeyIgnoredGroups, raw)
	return b
}

func (b *Builder) groups(key, raw string) Set[string] {
	set := Set[string]{}
	for _, name := range SplitList(raw) {
		if b.lookups.Groups != nil && !b.lookups.Groups.HasGroup(name) {
			b.flag(key, name, "unknown group")
			continue
		}
		set[name] = struct{}{}
	}
	return nonEmptySet(b, key, raw, set)
}

// IgnoreSelfEvents is true unless raw is "false".
func (b *Builder) IgnoreSelfEvents(raw string) *Builder {
	value := strings.TrimSpace(raw)
	switch {
	case strings.EqualFold(value, "false"):
		b.cfg.IgnoreSelfEvents = false
	case value == "" || strings.EqualFold(value, "true"):
		b.cfg.IgnoreSelfEvents = true
	default:
		b.flag(KeyIgnoreSelfEvents, value, "expected true or false, keeping true")
		b.cfg.IgnoreSelfEvents = true
	}
	return b
}

// NotifiableStatuses sets the presence states that may be notified.
func (b *Builder) NotifiableStatuses(raw string) *Builder {
	set := presence.StateSet{}
	for _, token := range SplitList(raw) {
		for _, word := range strings.Fields(token) {
			state, err := presence.ParseState(word)
			if err != nil {
				b.flag(KeyNotifiableStatuses, word, "%v", err)
				continue
			}
			if state == presence.Offline {
				b.flag(KeyNotifiableStatuses, word, "offline contacts cannot be notified")
				continue
			}
			set[state] = struct{}{}
		}
	}
	if len(set) == 0 {
		if strings.TrimSpace(raw) != "" {
			b.flag(KeyNotifiableStatuses, raw, "no valid status, using default %s", presence.DefaultNotifiable())
		}
		b.cfg.NotifiableStatuses = presence.DefaultNotifiable()
		return b
	}
	b.cfg.NotifiableStatuses = set
	return b
}

// Recipients sets the ordered recipient specifications.
func (b *Builder) Recipients(raw string) *Builder {
	b.cfg.RecipientSpecs = SplitList(raw)
	return b
}

// IdentityAddressProperty sets the directory property holding addresses.
func (b *Builder) IdentityAddressProperty(raw string) *Builder {
	b.cfg.IdentityAddressKey = strings.TrimSpace(raw)
	return b
}

// Build returns the finished configuration and every diagnostic collected.
// The builder must not be reused.
func (b *Builder) Build() (*Config, Diagnostics) {
	cfg := b.cfg
	cfg.RecipientSpecs = append([]string(nil), b.cfg.RecipientSpecs...)
	return &cfg, append(Diagnostics(nil), b.diags...)
}

// nonEmptySet leaves a criterion unset when no entry survived validation.
func nonEmptySet[T comparable](b *Builder, key, raw string, set Set[T]) Set[T] {
	if len(set) > 0 {
		return set
	}
	if strings.TrimSpace(raw) != "" {
		b.flag(key, raw, "no valid entries, criterion unset")
	}
	return nil
}
