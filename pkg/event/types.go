package event

// Issue event types raised by the GitHub host.
var (
	TypeIssueCreated   = Type{ID: 1, Name: "issue_created", Description: "Issue Created"}
	TypeIssueUpdated   = Type{ID: 2, Name: "issue_updated", Description: "Issue Updated"}
	TypeIssueAssigned  = Type{ID: 3, Name: "issue_assigned", Description: "Issue Assigned"}
	TypeIssueClosed    = Type{ID: 5, Name: "issue_closed", Description: "Issue Closed"}
	TypeIssueCommented = Type{ID: 6, Name: "issue_commented", Description: "Issue Commented"}
	TypeIssueReopened  = Type{ID: 7, Name: "issue_reopened", Description: "Issue Reopened"}
	TypeIssueDeleted   = Type{ID: 8, Name: "issue_deleted", Description: "Issue Deleted"}
	TypeCommentEdited  = Type{ID: 14, Name: "issue_comment_edited", Description: "Issue Comment Edited"}
)

// DefaultTypes is the event type table of the GitHub host.
func DefaultTypes() []Type {
	return []Type{
		TypeIssueCreated,
		TypeIssueUpdated,
		TypeIssueAssigned,
		TypeIssueClosed,
		TypeIssueCommented,
		TypeIssueReopened,
		TypeIssueDeleted,
		TypeCommentEdited,
	}
}

// DefaultPriorities are used when the host configuration names none.
var DefaultPriorities = []string{"blocker", "critical", "major", "minor", "trivial"}
