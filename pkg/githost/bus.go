package githost

import (
	"github.com/mywio/im-notify/pkg/core"
	"github.com/mywio/im-notify/pkg/event"
)

// EventTypeDescs describes the issue events published on the bus.
func EventTypeDescs(types []event.Type) []core.EventTypeDesc {
	out := make([]core.EventTypeDesc, 0, len(types))
	for _, t := range types {
		out = append(out, core.EventTypeDesc{
			Name:        core.EventTypeName(t.Name),
			Description: t.Description,
			PayloadSpec: map[string]core.PayloadField{
				core.DetailEvent: {Type: "*event.Event", Description: "The issue event", Required: true},
			},
		})
	}
	return out
}

// ToInternal wraps an issue event for the bus.
func ToInternal(source string, ev *event.Event) core.InternalEvent {
	out := core.InternalEvent{
		Type:    core.EventTypeName(ev.Type.Name),
		Source:  source,
		Details: map[string]interface{}{core.DetailEvent: ev},
		String:  ev.Key(),
	}
	if ev.Issue != nil {
		out.Repo = ev.Issue.Owner + "/" + ev.Issue.Repo
	}
	return out
}

// FromInternal unwraps an issue event received from the bus.
func FromInternal(in core.InternalEvent) (*event.Event, bool) {
	ev, ok := in.Details[core.DetailEvent].(*event.Event)
	return ev, ok && ev != nil
}
