package filter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mywio/im-notify/pkg/event"
)

// WorkflowSource fetches the workflow name of an issue.
type WorkflowSource interface {
	WorkflowName(ctx context.Context, issue *event.Issue) (string, error)
}

// GroupMembership answers actor group questions.
type GroupMembership interface {
	IsMember(ctx context.Context, id *event.Identity, group string) (bool, error)
}

// Criterion names the check that rejected an event.
type Criterion string

const (
	CriterionNone          Criterion = ""
	CriterionEvent         Criterion = "event"
	CriterionEventType     Criterion = "event_type"
	CriterionProject       Criterion = "project"
	CriterionWorkflow      Criterion = "workflow"
	CriterionPriority      Criterion = "priority"
	CriterionRequiredGroup Criterion = "required_group"
	CriterionIgnoredGroup  Criterion = "ignored_group"
)

// Decision is the outcome of Admit.
type Decision struct {
	Admitted  bool
	Criterion Criterion
	Reason    string
}

func admit() Decision {
	return Decision{Admitted: true}
}

func reject(c Criterion, format string, args ...any) Decision {
	return Decision{Criterion: c, Reason: fmt.Sprintf(format, args...)}
}

// Engine evaluates events against a Config.
type Engine struct {
	workflows WorkflowSource
	groups    GroupMembership
	logger    *slog.Logger
}

// NewEngine returns an engine. Nil collaborators are allowed: a nil workflow
// source fails every workflow fetch and a nil membership source reports no
// memberships.
func NewEngine(workflows WorkflowSource, groups GroupMembership, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{workflows: workflows, groups: groups, logger: logger}
}

// Admit reports whether ev passes every configured criterion. Criteria are
// checked in a fixed order and the first failure wins.
func (e *Engine) Admit(ctx context.Context, ev *event.Event, cfg *Config) Decision {
	d := e.evaluate(ctx, ev, cfg)
	if !d.Admitted {
		e.logger.DebugContext(ctx, "Event rejected", "criterion", string(d.Criterion), "reason", d.Reason)
	}
	return d
}

func (e *Engine) evaluate(ctx context.Context, ev *event.Event, cfg *Config) Decision {
	if ev == nil {
		return reject(CriterionEvent, "no event")
	}
	if cfg == nil {
		return admit()
	}

	if cfg.TriggerEventTypes != nil && !cfg.TriggerEventTypes.Contains(ev.Type.ID) {
		return reject(CriterionEventType, "event type %d (%s) not in %s", ev.Type.ID, ev.Type.Name, cfg.TriggerEventTypes)
	}

	if cfg.ProjectKeys != nil {
		key := ev.ProjectKey()
		if key == "" || !cfg.ProjectKeys.Contains(key) {
			return reject(CriterionProject, "project %q not in %s", key, cfg.ProjectKeys)
		}
	}

	if ev.Origin == event.OriginWorkflow && cfg.WorkflowNameRegex != nil {
		if d := e.checkWorkflow(ctx, ev, cfg); !d.Admitted {
			return d
		}
	}

	if cfg.Priorities != nil {
		if ev.Issue == nil || ev.Issue.Priority == nil {
			return reject(CriterionPriority, "issue has no priority")
		}
		if !cfg.Priorities.Contains(ev.Issue.Priority.ID) {
			return reject(CriterionPriority, "priority %s (%s) not in %s", ev.Issue.Priority.ID, ev.Issue.Priority.Name, cfg.Priorities)
		}
	}

	if ev.Actor == nil {
		return admit()
	}
	if cfg.RequiredGroups != nil && !e.memberOfAny(ctx, ev.Actor, cfg.RequiredGroups) {
		return reject(CriterionRequiredGroup, "%s is in none of %s", ev.Actor, cfg.RequiredGroups)
	}
	if cfg.IgnoredGroups != nil && e.memberOfAny(ctx, ev.Actor, cfg.IgnoredGroups) {
		return reject(CriterionIgnoredGroup, "%s is in one of %s", ev.Actor, cfg.IgnoredGroups)
	}
	return admit()
}

func (e *Engine) checkWorkflow(ctx context.Context, ev *event.Event, cfg *Config) Decision {
	if ev.Issue == nil {
		return reject(CriterionWorkflow, "workflow event without an issue")
	}
	if e.workflows == nil {
		return reject(CriterionWorkflow, "no workflow source")
	}
	name, err := e.workflows.WorkflowName(ctx, ev.Issue)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to fetch workflow", "issue", ev.Issue.Key, "error", err)
		return reject(CriterionWorkflow, "workflow unavailable: %v", err)
	}
	if !cfg.WorkflowNameRegex.MatchString(name) {
		return reject(CriterionWorkflow, "workflow %q does not match %q", name, cfg.WorkflowNamePattern())
	}
	return admit()
}

func (e *Engine) memberOfAny(ctx context.Context, actor *event.Identity, groups Set[string]) bool {
	if e.groups == nil {
		return false
	}
	for group := range groups {
		ok, err := e.groups.IsMember(ctx, actor, group)
		if err != nil {
			e.logger.WarnContext(ctx, "Group lookup failed", "user", actor.Name, "group", group, "error", err)
			continue
		}
		if ok {
			return true
		}
	}
	return false
}
