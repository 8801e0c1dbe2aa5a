package recipient

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mywio/im-notify/pkg/event"
)

// Directory finds identities and their properties.
type Directory interface {
	FindIdentity(ctx context.Context, name string) (*event.Identity, bool)
	Property(ctx context.Context, id *event.Identity, key string) (string, bool)
}

// WatcherSource lists the identities watching an issue.
type WatcherSource interface {
	Watchers(ctx context.Context, issue *event.Issue) ([]*event.Identity, error)
}

// Resolver turns recipient specifications into recipients.
type Resolver struct {
	dir      Directory
	watchers WatcherSource
	logger   *slog.Logger
}

func NewResolver(dir Directory, watchers WatcherSource, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{dir: dir, watchers: watchers, logger: logger}
}

// Resolve resolves specs in order for ev. addressKey names the identity
// property holding an address; when empty no identity has an address.
func (r *Resolver) Resolve(ctx context.Context, specs []string, addressKey string, ev *event.Event) *Set {
	set := NewSet()
	for _, raw := range specs {
		spec := Classify(ctx, raw, r.dir)
		switch spec.Kind {
		case KindAssignee:
			if ev == nil || ev.Issue == nil || ev.Issue.Assignee == nil {
				r.logger.DebugContext(ctx, "No assignee to notify")
				continue
			}
			r.addIdentity(ctx, set, ev.Issue.Assignee, addressKey)
		case KindWatchers:
			for _, w := range r.listWatchers(ctx, ev) {
				r.addIdentity(ctx, set, w, addressKey)
			}
		case KindIdentity:
			r.addIdentity(ctx, set, spec.Identity, addressKey)
		case KindAddress:
			set.Add(Recipient{Address: spec.Raw})
		case KindUnknown:
			r.logger.WarnContext(ctx, "Unknown recipient, skipping", "recipient", spec.Raw)
		}
	}
	return set
}

func (r *Resolver) listWatchers(ctx context.Context, ev *event.Event) []*event.Identity {
	if ev == nil || ev.Issue == nil || r.watchers == nil {
		return nil
	}
	watchers, err := r.watchers.Watchers(ctx, ev.Issue)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to list watchers", "issue", ev.Issue.Key, "error", err)
		return nil
	}
	return watchers
}

func (r *Resolver) addIdentity(ctx context.Context, set *Set, id *event.Identity, addressKey string) {
	if id == nil {
		return
	}
	address, ok := r.address(ctx, id, addressKey)
	if !ok {
		r.logger.ErrorContext(ctx, "Identity has no messaging address", "user", id.Name, "property", addressKey)
		return
	}
	set.Add(Recipient{Address: address, Identity: id})
}

func (r *Resolver) address(ctx context.Context, id *event.Identity, addressKey string) (string, bool) {
	if addressKey == "" || r.dir == nil || id == nil {
		return "", false
	}
	value, ok := r.dir.Property(ctx, id, addressKey)
	value = strings.TrimSpace(value)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}
