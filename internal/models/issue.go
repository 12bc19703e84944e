package models

import (
	"time"
)

const (
	IssueStateOpen   = "open"
	IssueStateClosed = "closed"
)

// Issue type classification values
const (
	IssueTypeBug           = "bug"
	IssueTypeFeature       = "feature"
	IssueTypeQuestion      = "question"
	IssueTypeDocumentation = "documentation"
)

// Priority values, derived from labels only
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
)

// Issue represents a plain GitHub issue. Pull requests are never stored here.
type Issue struct {
	ID             int64      `json:"id" db:"id"`
	Number         int        `json:"number" db:"number"`
	Title          string     `json:"title" db:"title"`
	Body           *string    `json:"body" db:"body"`
	State          string     `json:"state" db:"state"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
	ClosedAt       *time.Time `json:"closed_at" db:"closed_at"`
	UserLogin      string     `json:"user_login" db:"user_login"`
	UserType       *string    `json:"user_type" db:"user_type"`
	AssigneeLogin  *string    `json:"assignee_login" db:"assignee_login"`
	Labels         []string   `json:"labels" db:"labels"` // JSON array
	CommentsCount  int        `json:"comments_count" db:"comments_count"`
	IssueType      string     `json:"issue_type" db:"issue_type"`
	Priority       string     `json:"priority" db:"priority"`
	IsExternalUser bool       `json:"is_external_user" db:"is_external_user"`
	LastFetchedAt  time.Time  `json:"last_fetched_at" db:"last_fetched_at"`
}

// IsOpen checks if the issue is open
func (i *Issue) IsOpen() bool {
	return i.State == IssueStateOpen
}
