package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/alimgiray/repopulse/internal/models"
)

// Store groups the repositories that own the six persisted tables.
type Store struct {
	PullRequests *PullRequestRepository
	Issues       *IssueRepository
	Reviews      *ReviewRepository
	Comments     *CommentRepository
	Releases     *ReleaseRepository
	Metadata     *MetadataRepository
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		PullRequests: NewPullRequestRepository(db),
		Issues:       NewIssueRepository(db),
		Reviews:      NewReviewRepository(db),
		Comments:     NewCommentRepository(db),
		Releases:     NewReleaseRepository(db),
		Metadata:     NewMetadataRepository(db),
	}
}

// Init seeds missing metadata rows. The schema itself is created when the
// database is opened.
func (s *Store) Init(now time.Time) error {
	if err := s.Metadata.SeedDefaults(now); err != nil {
		return fmt.Errorf("seed metadata: %w", err)
	}
	return nil
}

// Stats summarizes row counts, date ranges, state breakdowns and metadata.
func (s *Store) Stats() (*models.DatabaseStats, error) {
	stats := &models.DatabaseStats{Tables: make(map[string]int)}

	counters := []struct {
		table string
		count func() (int, error)
	}{
		{"pull_requests", s.PullRequests.Count},
		{"issues", s.Issues.Count},
		{"reviews", s.Reviews.Count},
		{"comments", s.Comments.Count},
		{"releases", s.Releases.Count},
	}
	for _, c := range counters {
		n, err := c.count()
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", c.table, err)
		}
		stats.Tables[c.table] = n
	}

	var err error
	if stats.PRDateRange, err = s.PullRequests.DateRange(); err != nil {
		return nil, err
	}
	if stats.IssueDateRange, err = s.Issues.DateRange(); err != nil {
		return nil, err
	}
	if stats.PRsByState, err = s.PullRequests.CountByState(); err != nil {
		return nil, err
	}
	if stats.IssuesByState, err = s.Issues.CountByState(); err != nil {
		return nil, err
	}
	if stats.Metadata, err = s.Metadata.All(); err != nil {
		return nil, err
	}
	return stats, nil
}
