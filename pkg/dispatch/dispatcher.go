// Package dispatch runs one event through filtering, recipient resolution,
// presence checks and delivery.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mywio/im-notify/pkg/event"
	"github.com/mywio/im-notify/pkg/filter"
	"github.com/mywio/im-notify/pkg/presence"
	"github.com/mywio/im-notify/pkg/recipient"
	"github.com/mywio/im-notify/pkg/render"
)

type Admitter interface {
	Admit(ctx context.Context, ev *event.Event, cfg *filter.Config) filter.Decision
}

type Resolver interface {
	Resolve(ctx context.Context, specs []string, addressKey string, ev *event.Event) *recipient.Set
}

// Gateway is the part of a presence session the dispatcher needs.
type Gateway interface {
	Status(ctx context.Context, address string) presence.State
	Send(ctx context.Context, address, text string) bool
}

// PermissionChecker decides whether an identity may see the comment of an
// event. A nil identity is a recipient known only by address.
type PermissionChecker interface {
	CanViewComment(ctx context.Context, id *event.Identity, ev *event.Event) (bool, error)
}

type Renderer interface {
	Render(data render.Data) (string, error)
}

// Skip reasons, also used as metric outcomes.
const (
	SkipPermission = "permission"
	SkipSelf       = "self"
	SkipPresence   = "presence"
	SkipRender     = "render"
	SkipSend       = "send"
	SkipPanic      = "panic"
	outcomeSent    = "sent"
)

// Summary describes what one Dispatch did.
type Summary struct {
	ID       string
	Admitted bool
	Decision filter.Decision
	Resolved int
	Sent     int
	Skipped  map[string]int
	Duration time.Duration
}

func (s *Summary) skipped(reason string) {
	s.Skipped[reason]++
}

type Options struct {
	Engine      Admitter
	Resolver    Resolver
	Permissions PermissionChecker
	Renderer    Renderer
	BaseURL     string
	Logger      *slog.Logger
	Metrics     *Metrics
}

// Dispatcher is safe for concurrent use when its collaborators are.
type Dispatcher struct {
	engine      Admitter
	resolver    Resolver
	permissions PermissionChecker
	renderer    Renderer
	baseURL     string
	logger      *slog.Logger
	metrics     *Metrics
}

func New(opts Options) *Dispatcher {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		engine:      opts.Engine,
		resolver:    opts.Resolver,
		permissions: opts.Permissions,
		renderer:    opts.Renderer,
		baseURL:     opts.BaseURL,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}
}

// Dispatch notifies every eligible recipient of ev. It never panics and
// reports failures only through logs and the returned Summary.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *event.Event, cfg *filter.Config, gw Gateway) (summary Summary) {
	start := time.Now()
	summary = Summary{ID: uuid.NewString(), Skipped: map[string]int{}}
	logger := d.logger.With("dispatch_id", summary.ID)
	if ev != nil {
		logger = logger.With("event", ev.Key())
	}
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Dispatch panicked", "panic", fmt.Sprint(r))
		}
		summary.Duration = time.Since(start)
	}()

	if ev == nil || cfg == nil || gw == nil || d.engine == nil || d.resolver == nil {
		logger.WarnContext(ctx, "Dispatch missing event, config or collaborators")
		return summary
	}

	summary.Decision = d.engine.Admit(ctx, ev, cfg)
	summary.Admitted = summary.Decision.Admitted
	d.metrics.event(summary.Admitted, string(summary.Decision.Criterion))
	if !summary.Admitted {
		logger.DebugContext(ctx, "Event not admitted", "criterion", string(summary.Decision.Criterion), "reason", summary.Decision.Reason)
		return summary
	}

	recipients := d.resolver.Resolve(ctx, cfg.RecipientSpecs, cfg.IdentityAddressKey, ev)
	summary.Resolved = recipients.Len()
	for _, r := range recipients.All() {
		outcome := d.notify(ctx, logger.With("address", r.Address), ev, cfg, gw, r)
		d.metrics.recipient(outcome)
		if outcome == outcomeSent {
			summary.Sent++
			continue
		}
		summary.skipped(outcome)
	}

	d.metrics.observe(time.Since(start).Seconds())
	logger.InfoContext(ctx, "Event dispatched", "resolved", summary.Resolved, "sent", summary.Sent, "skipped", summary.Skipped)
	return summary
}

// notify handles one recipient and returns the outcome.
func (d *Dispatcher) notify(ctx context.Context, logger *slog.Logger, ev *event.Event, cfg *filter.Config, gw Gateway, r recipient.Recipient) (outcome string) {
	defer func() {
		if p := recover(); p != nil {
			logger.ErrorContext(ctx, "Recipient processing panicked", "panic", fmt.Sprint(p))
			outcome = SkipPanic
		}
	}()

	if ev.Comment != nil && d.permissions != nil {
		ok, err := d.permissions.CanViewComment(ctx, r.Identity, ev)
		if err != nil {
			logger.ErrorContext(ctx, "Permission check failed", "user", r.Identity.String(), "error", err)
			return SkipPermission
		}
		if !ok {
			logger.InfoContext(ctx, "Recipient may not view comment", "user", r.Identity.String())
			return SkipPermission
		}
	}

	if cfg.IgnoreSelfEvents && ev.Actor.Same(r.Identity) {
		return SkipSelf
	}

	state := gw.Status(ctx, r.Address)
	if !cfg.NotifiableStatuses.Contains(state) {
		logger.DebugContext(ctx, "Recipient not notifiable", "status", state.String(), "notifiable", cfg.NotifiableStatuses.String())
		return SkipPresence
	}

	body, err := d.render(ev, r)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to render message", "error", err)
		return SkipRender
	}

	if !gw.Send(ctx, r.Address, body) {
		return SkipSend
	}
	logger.DebugContext(ctx, "Notification sent", "status", state.String())
	return outcomeSent
}

func (d *Dispatcher) render(ev *event.Event, r recipient.Recipient) (string, error) {
	if d.renderer == nil {
		return "", fmt.Errorf("no renderer")
	}
	return d.renderer.Render(render.Data{
		Event:       ev,
		Issue:       ev.Issue,
		Recipient:   r.Identity,
		Description: ev.Type.Description,
		Comment:     ev.Comment,
		BaseURL:     d.baseURL,
	})
}
