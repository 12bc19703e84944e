package models

import (
	"errors"
	"time"
)

const (
	CommentTypeIssue = "issue"
	CommentTypePR    = "pr"
)

// ErrCommentParent is returned for a comment that does not have exactly one parent.
var ErrCommentParent = errors.New("comment must reference exactly one of issue_number or pr_number")

// Comment represents an issue or pull request conversation comment
type Comment struct {
	ID            int64     `json:"id" db:"id"`
	IssueNumber   *int      `json:"issue_number" db:"issue_number"`
	PRNumber      *int      `json:"pr_number" db:"pr_number"`
	UserLogin     string    `json:"user_login" db:"user_login"`
	Body          *string   `json:"body" db:"body"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
	CommentType   string    `json:"comment_type" db:"comment_type"`
	LastFetchedAt time.Time `json:"last_fetched_at" db:"last_fetched_at"`
}

// SetParent points the comment at a PR or an issue, clearing the other side.
func (c *Comment) SetParent(number int, isPR bool) {
	n := number
	if isPR {
		c.PRNumber, c.IssueNumber, c.CommentType = &n, nil, CommentTypePR
		return
	}
	c.IssueNumber, c.PRNumber, c.CommentType = &n, nil, CommentTypeIssue
}

// Validate checks the single-parent rule.
func (c *Comment) Validate() error {
	switch {
	case c.IssueNumber != nil && c.PRNumber == nil && c.CommentType == CommentTypeIssue:
		return nil
	case c.PRNumber != nil && c.IssueNumber == nil && c.CommentType == CommentTypePR:
		return nil
	}
	return ErrCommentParent
}
