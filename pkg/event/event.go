package event

import (
	"fmt"
	"strconv"
	"strings"
)

// Origin tags where an event came from.
type Origin string

const (
	OriginIssue    Origin = "issue"
	OriginComment  Origin = "comment"
	OriginWorkflow Origin = "workflow" // state transitions (closed, reopened)
)

// Identity is a directory user. Identities compare by name.
type Identity struct {
	Name string
}

// Same reports whether two possibly nil identities denote the same user.
func (i *Identity) Same(other *Identity) bool {
	if i == nil || other == nil {
		return false
	}
	return i.Name == other.Name
}

func (i *Identity) String() string {
	if i == nil {
		return "<anonymous>"
	}
	return i.Name
}

// Type identifies a kind of event, e.g. {6, "issue_commented", "Issue Commented"}.
type Type struct {
	ID          int64
	Name        string
	Description string
}

// Priority of an issue.
type Priority struct {
	ID   string
	Name string
}

// Issue is the subject of an event.
type Issue struct {
	Key        string // owner/repo#number
	Owner      string
	Repo       string
	Number     int
	ProjectKey string
	Summary    string
	URL        string
	Private    bool
	Priority   *Priority
	Assignee   *Identity
	Labels     []string
}

// Comment attached to an event.
type Comment struct {
	ID     int64
	Body   string
	URL    string
	Author *Identity
}

// Event is a read-only fact raised by the host.
type Event struct {
	Actor   *Identity
	Type    Type
	Issue   *Issue
	Comment *Comment
	Origin  Origin
}

// Key is a short log context for the event, e.g. "alice->issue_closed@owner/repo#3".
func (e *Event) Key() string {
	issue := ""
	if e.Issue != nil {
		issue = e.Issue.Key
	}
	return fmt.Sprintf("%s->%s@%s", e.Actor, e.Type.Name, issue)
}

// ProjectKey returns the subject project key, or "" when there is no subject.
func (e *Event) ProjectKey() string {
	if e.Issue == nil {
		return ""
	}
	return e.Issue.ProjectKey
}

// Catalog knows the event types and priorities of the host and resolves
// administrator tokens given either as numeric ids or as names.
type Catalog struct {
	types      []Type
	priorities []Priority
}

// NewCatalog builds a catalog. Priorities are given by name; ids are assigned
// in order starting at 1.
func NewCatalog(types []Type, priorityNames []string) *Catalog {
	c := &Catalog{types: append([]Type(nil), types...)}
	for i, name := range priorityNames {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		c.priorities = append(c.priorities, Priority{ID: strconv.Itoa(i + 1), Name: name})
	}
	return c
}

// Types lists the known event types.
func (c *Catalog) Types() []Type {
	return append([]Type(nil), c.types...)
}

// LookupType resolves an event type by id or name.
func (c *Catalog) LookupType(token string) (Type, bool) {
	token = strings.TrimSpace(token)
	if id, err := strconv.ParseInt(token, 10, 64); err == nil {
		for _, t := range c.types {
			if t.ID == id {
				return t, true
			}
		}
		return Type{}, false
	}
	for _, t := range c.types {
		if t.Name == token || strings.EqualFold(t.Description, token) {
			return t, true
		}
	}
	return Type{}, false
}

// LookupPriority resolves a priority by id or (case-insensitive) name.
func (c *Catalog) LookupPriority(token string) (Priority, bool) {
	token = strings.TrimSpace(token)
	for _, p := range c.priorities {
		if p.ID == token || strings.EqualFold(p.Name, token) {
			return p, true
		}
	}
	return Priority{}, false
}
