package repositories

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/alimgiray/repopulse/internal/models"
)

type ReviewRepository struct {
	db *sql.DB
	mu sync.RWMutex
}

func NewReviewRepository(db *sql.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

const reviewColumns = `id, pr_number, reviewer_login, state, submitted_at, body, commit_sha, last_fetched_at`

// Upsert stores review keyed by its remote id. The owning PR must already be stored.
func (r *ReviewRepository) Upsert(review *models.Review) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	query := `
		INSERT INTO reviews (` + reviewColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			pr_number = excluded.pr_number, reviewer_login = excluded.reviewer_login,
			state = excluded.state, submitted_at = excluded.submitted_at, body = excluded.body,
			commit_sha = excluded.commit_sha, last_fetched_at = excluded.last_fetched_at
	`

	_, err := r.db.Exec(query,
		review.ID, review.PRNumber, review.ReviewerLogin, review.State, formatTimePtr(review.SubmittedAt),
		review.Body, review.CommitSHA, formatTime(review.LastFetchedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert review %d on #%d: %w", review.ID, review.PRNumber, err)
	}
	return nil
}

// ListByPRNumber returns a PR's reviews in submission order.
func (r *ReviewRepository) ListByPRNumber(prNumber int) ([]*models.Review, error) {
	return r.list(`SELECT `+reviewColumns+` FROM reviews WHERE pr_number = ? ORDER BY submitted_at, id`, prNumber)
}

// ListSubmittedSince returns reviews submitted at or after since (all when nil).
func (r *ReviewRepository) ListSubmittedSince(since *time.Time) ([]*models.Review, error) {
	where, args := sinceClause("submitted_at", since)
	return r.list(`SELECT `+reviewColumns+` FROM reviews WHERE submitted_at IS NOT NULL AND `+where+` ORDER BY submitted_at`, args...)
}

func (r *ReviewRepository) Count() (int, error) {
	return countRows(r.db, "reviews")
}

func (r *ReviewRepository) list(query string, args ...interface{}) ([]*models.Review, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reviews []*models.Review
	for rows.Next() {
		var (
			review                       models.Review
			submittedAt, body, commitSHA sql.NullString
			lastFetchedAt                string
		)
		err := rows.Scan(&review.ID, &review.PRNumber, &review.ReviewerLogin, &review.State,
			&submittedAt, &body, &commitSHA, &lastFetchedAt)
		if err != nil {
			return nil, err
		}
		review.Body = nullString(body)
		review.CommitSHA = nullString(commitSHA)
		if review.SubmittedAt, err = parseNullTime(submittedAt); err != nil {
			return nil, err
		}
		if review.LastFetchedAt, err = parseTime(lastFetchedAt); err != nil {
			return nil, err
		}
		reviews = append(reviews, &review)
	}
	return reviews, rows.Err()
}
