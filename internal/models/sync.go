package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncMode represents the kind of sync run
type SyncMode string

const (
	SyncModeFull        SyncMode = "full"
	SyncModeIncremental SyncMode = "incremental"
)

// CheckpointKind names a persisted sync checkpoint
type CheckpointKind string

const (
	CheckpointFull        CheckpointKind = "full"
	CheckpointIncremental CheckpointKind = "incremental"
	CheckpointPR          CheckpointKind = "pr"
	CheckpointIssue       CheckpointKind = "issue"
)

// CheckpointKinds lists every checkpoint seeded at store initialization.
var CheckpointKinds = []CheckpointKind{
	CheckpointPR, CheckpointIssue, CheckpointFull, CheckpointIncremental,
}

// Key returns the metadata key for the checkpoint, e.g. last_full_sync.
func (k CheckpointKind) Key() string {
	return "last_" + string(k) + "_sync"
}

// CheckpointSentinel is the value of a checkpoint that was never advanced.
var CheckpointSentinel = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

// CheckpointLayout is the format checkpoints are written in.
const CheckpointLayout = "2006-01-02T15:04:05.000000Z"

// Metadata keys besides checkpoints
const (
	MetaTotalPRsTracked    = "total_prs_tracked"
	MetaTotalIssuesTracked = "total_issues_tracked"
	MetaDatabaseVersion    = "database_version"
	MetaCreatedAt          = "created_at"

	DatabaseVersion = "1.0"
)

// Record kinds used for counting in SyncResult
const (
	KindPullRequests = "pull_requests"
	KindIssues       = "issues"
	KindReviews      = "reviews"
	KindComments     = "comments"
	KindReleases     = "releases"
	KindStats        = "stats"
)

// SyncResult reports what a sync run stored
type SyncResult struct {
	RunID        string         `json:"run_id"`
	Mode         SyncMode       `json:"mode"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  time.Time      `json:"completed_at"`
	Cutoff       *time.Time     `json:"cutoff,omitempty"`
	Touched      []int          `json:"touched,omitempty"`
	PullRequests int            `json:"pull_requests"`
	Issues       int            `json:"issues"`
	Reviews      int            `json:"reviews"`
	Comments     int            `json:"comments"`
	Releases     int            `json:"releases"`
	Stats        int            `json:"stats"`
	Failed       map[string]int `json:"failed"`
}

// NewSyncResult creates a SyncResult with a generated run id
func NewSyncResult(mode SyncMode, startedAt time.Time) *SyncResult {
	return &SyncResult{
		RunID:     uuid.New().String(),
		Mode:      mode,
		StartedAt: startedAt,
		Failed:    make(map[string]int),
	}
}

// MarkFailed counts one record of kind that could not be stored
func (r *SyncResult) MarkFailed(kind string) {
	r.Failed[kind]++
}

// MarkCompleted records the checkpoint time written at the end of the run
func (r *SyncResult) MarkCompleted(at time.Time) {
	r.CompletedAt = at
}

// Total returns the number of stored records across kinds, stats excluded
func (r *SyncResult) Total() int {
	return r.PullRequests + r.Issues + r.Reviews + r.Comments + r.Releases
}
