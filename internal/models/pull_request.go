package models

import (
	"time"
)

// PRState values as stored. A PR with a merge timestamp is always merged.
const (
	PRStateOpen   = "open"
	PRStateClosed = "closed"
	PRStateMerged = "merged"
)

// PR type classification values
const (
	PRTypeBugfix      = "bugfix"
	PRTypeFeature     = "feature"
	PRTypeDocs        = "docs"
	PRTypeMaintenance = "maintenance"
)

// PullRequest represents a GitHub pull request keyed by number
type PullRequest struct {
	ID               int64      `json:"id" db:"id"`
	Number           int        `json:"number" db:"number"`
	Title            string     `json:"title" db:"title"`
	Body             *string    `json:"body" db:"body"`
	State            string     `json:"state" db:"state"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
	ClosedAt         *time.Time `json:"closed_at" db:"closed_at"`
	MergedAt         *time.Time `json:"merged_at" db:"merged_at"`
	UserLogin        string     `json:"user_login" db:"user_login"`
	UserType         *string    `json:"user_type" db:"user_type"`
	BaseBranch       string     `json:"base_branch" db:"base_branch"`
	HeadBranch       string     `json:"head_branch" db:"head_branch"`
	Additions        *int       `json:"additions" db:"additions"`
	Deletions        *int       `json:"deletions" db:"deletions"`
	ChangedFiles     *int       `json:"changed_files" db:"changed_files"`
	CommitsCount     *int       `json:"commits_count" db:"commits_count"`
	Labels           []string   `json:"labels" db:"labels"`       // JSON array
	Assignees        []string   `json:"assignees" db:"assignees"` // JSON array
	Draft            bool       `json:"draft" db:"draft"`
	IsBreakingChange bool       `json:"is_breaking_change" db:"is_breaking_change"`
	PRType           string     `json:"pr_type" db:"pr_type"`
	LastFetchedAt    time.Time  `json:"last_fetched_at" db:"last_fetched_at"`
}

// NormalizeState enforces the merge-timestamp-wins rule.
func (pr *PullRequest) NormalizeState() {
	if pr.MergedAt != nil {
		pr.State = PRStateMerged
	}
}

// IsMerged checks if the pull request has been merged
func (pr *PullRequest) IsMerged() bool {
	return pr.MergedAt != nil
}

// Churn returns additions plus deletions, treating unknown stats as zero.
func (pr *PullRequest) Churn() int {
	return intValue(pr.Additions) + intValue(pr.Deletions)
}

func intValue(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
