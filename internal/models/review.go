package models

import (
	"time"
)

// Review represents a GitHub pull request review
type Review struct {
	ID            int64      `json:"id" db:"id"`
	PRNumber      int        `json:"pr_number" db:"pr_number"`
	ReviewerLogin string     `json:"reviewer_login" db:"reviewer_login"`
	State         string     `json:"state" db:"state"` // APPROVED, CHANGES_REQUESTED, COMMENTED, DISMISSED, PENDING
	SubmittedAt   *time.Time `json:"submitted_at" db:"submitted_at"`
	Body          *string    `json:"body" db:"body"`
	CommitSHA     *string    `json:"commit_sha" db:"commit_sha"`
	LastFetchedAt time.Time  `json:"last_fetched_at" db:"last_fetched_at"`
}
