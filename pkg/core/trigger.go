package core

// Events understood by core modules.
const (
	// EventPollNow asks the issue poller for an immediate poll.
	EventPollNow EventTypeName = "poll_now"

	// IssueEventPrefix starts every issue event name on the bus. Issue events
	// are published under their event type name, e.g. "issue_closed".
	IssueEventPrefix = "issue_"

	// DetailEvent is the Details key holding the *event.Event of an issue event.
	DetailEvent = "event"
)
