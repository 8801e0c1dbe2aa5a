package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Broker is the in-process event bus. Delivery is asynchronous and best
// effort: each matching listener runs on its own goroutine.
type Broker struct {
	logger *slog.Logger

	typesMu sync.RWMutex
	types   map[EventTypeName]EventTypeDesc

	// subscribers maps an event type or pattern like "issue_*" to listeners
	subscribersMu sync.RWMutex
	subscribers   map[string][]Listener

	inflight sync.WaitGroup
}

func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		logger:      logger,
		types:       map[EventTypeName]EventTypeDesc{},
		subscribers: map[string][]Listener{},
	}
}

// RegisterEventType lets plugins and core define an event type.
func (b *Broker) RegisterEventType(desc EventTypeDesc) error {
	b.typesMu.Lock()
	defer b.typesMu.Unlock()

	if _, exists := b.types[desc.Name]; exists {
		return fmt.Errorf("event type %s already registered", desc.Name)
	}
	b.types[desc.Name] = desc
	b.logger.Debug("Registered event type", "type", desc.Name, "description", desc.Description)
	return nil
}

// EventTypes returns the registered event types.
func (b *Broker) EventTypes() []EventTypeDesc {
	b.typesMu.RLock()
	defer b.typesMu.RUnlock()
	out := make([]EventTypeDesc, 0, len(b.types))
	for _, desc := range b.types {
		out = append(out, desc)
	}
	return out
}

// Subscribe registers a handler for an exact event type or a "prefix*" pattern.
func (b *Broker) Subscribe(pattern string, handler Listener) {
	b.subscribersMu.Lock()
	defer b.subscribersMu.Unlock()

	b.subscribers[pattern] = append(b.subscribers[pattern], handler)
	b.logger.Debug("Subscribed to pattern", "pattern", pattern)
}

// Publish sends an event to all matching subscribers.
func (b *Broker) Publish(ctx context.Context, event InternalEvent) {
	if ctx == nil {
		ctx = context.Background()
	}
	// Listeners outlive the publishing request.
	ctx = context.WithoutCancel(ctx)
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.typesMu.RLock()
	desc, known := b.types[event.Type]
	b.typesMu.RUnlock()
	if known {
		for field, spec := range desc.PayloadSpec {
			if spec.Required {
				if _, has := event.Details[field]; !has {
					b.logger.Warn("Published event missing required field", "type", event.Type, "field", field)
				}
			}
		}
	}

	b.subscribersMu.RLock()
	defer b.subscribersMu.RUnlock()

	for pattern, listeners := range b.subscribers {
		if !matchesPattern(string(event.Type), pattern) {
			continue
		}
		for _, listener := range listeners {
			b.inflight.Add(1)
			go func(listener Listener) {
				defer b.inflight.Done()
				defer func() {
					if r := recover(); r != nil {
						b.logger.Error("Listener panicked", "type", event.Type, "panic", fmt.Sprint(r))
					}
				}()
				listener(ctx, event)
			}(listener)
		}
	}
}

// Wait blocks until every listener started so far has returned.
func (b *Broker) Wait() {
	b.inflight.Wait()
}

// MatchesAny reports whether eventType matches at least one of patterns.
func MatchesAny(eventType EventTypeName, patterns []string) bool {
	for _, pattern := range patterns {
		if matchesPattern(string(eventType), pattern) {
			return true
		}
	}
	return false
}

// matchesPattern: exact match, "*", or prefix wildcard ("issue_*" matches "issue_closed")
func matchesPattern(eventType, pattern string) bool {
	if pattern == eventType {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(eventType, prefix)
	}
	return false
}
