package repositories

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/alimgiray/repopulse/internal/models"
)

type PullRequestRepository struct {
	db *sql.DB
	mu sync.RWMutex
}

func NewPullRequestRepository(db *sql.DB) *PullRequestRepository {
	return &PullRequestRepository{db: db}
}

const pullRequestColumns = `id, number, title, body, state, created_at, updated_at, closed_at, merged_at,
	user_login, user_type, base_branch, head_branch, additions, deletions, changed_files, commits_count,
	labels, assignees, draft, is_breaking_change, pr_type, last_fetched_at`

// Upsert stores pr keyed by number, overwriting every column of an existing row.
// A stored row carrying the same id under another number is replaced along
// with its reviews.
func (r *PullRequestRepository) Upsert(pr *models.PullRequest) error {
	pr.NormalizeState()

	r.mu.Lock()
	defer r.mu.Unlock()

	query := `
		INSERT INTO pull_requests (` + pullRequestColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(number) DO UPDATE SET
			id = excluded.id, title = excluded.title, body = excluded.body, state = excluded.state,
			created_at = excluded.created_at, updated_at = excluded.updated_at,
			closed_at = excluded.closed_at, merged_at = excluded.merged_at,
			user_login = excluded.user_login, user_type = excluded.user_type,
			base_branch = excluded.base_branch, head_branch = excluded.head_branch,
			additions = excluded.additions, deletions = excluded.deletions,
			changed_files = excluded.changed_files, commits_count = excluded.commits_count,
			labels = excluded.labels, assignees = excluded.assignees, draft = excluded.draft,
			is_breaking_change = excluded.is_breaking_change, pr_type = excluded.pr_type,
			last_fetched_at = excluded.last_fetched_at
	`

	stale := []interface{}{pr.ID, pr.Number}
	err := execInTx(r.db,
		statement{`DELETE FROM reviews WHERE pr_number IN (SELECT number FROM pull_requests WHERE id = ? AND number != ?)`, stale},
		statement{`DELETE FROM pull_requests WHERE id = ? AND number != ?`, stale},
		statement{query, []interface{}{
			pr.ID, pr.Number, pr.Title, pr.Body, pr.State,
			formatTime(pr.CreatedAt), formatTime(pr.UpdatedAt), formatTimePtr(pr.ClosedAt), formatTimePtr(pr.MergedAt),
			pr.UserLogin, pr.UserType, pr.BaseBranch, pr.HeadBranch,
			pr.Additions, pr.Deletions, pr.ChangedFiles, pr.CommitsCount,
			encodeList(pr.Labels), encodeList(pr.Assignees), pr.Draft, pr.IsBreakingChange, pr.PRType,
			formatTime(pr.LastFetchedAt),
		}},
	)
	if err != nil {
		return fmt.Errorf("upsert pull request #%d: %w", pr.Number, err)
	}
	return nil
}

// GetByNumber returns the stored pull request or nil when absent.
func (r *PullRequestRepository) GetByNumber(number int) (*models.PullRequest, error) {
	query := `SELECT ` + pullRequestColumns + ` FROM pull_requests WHERE number = ?`

	pr, err := scanPullRequest(r.db.QueryRow(query, number))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return pr, nil
}

// GetNumbers returns every stored PR number in ascending order.
func (r *PullRequestRepository) GetNumbers() ([]int, error) {
	rows, err := r.db.Query(`SELECT number FROM pull_requests ORDER BY number`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var numbers []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		numbers = append(numbers, n)
	}
	return numbers, rows.Err()
}

// ListCreatedSince returns PRs created at or after since (all when nil), oldest first.
func (r *PullRequestRepository) ListCreatedSince(since *time.Time) ([]*models.PullRequest, error) {
	where, args := sinceClause("created_at", since)
	return r.list(`SELECT `+pullRequestColumns+` FROM pull_requests WHERE `+where+` ORDER BY created_at`, args...)
}

// ListMergedSince returns merged PRs whose merge falls at or after since, in merge order.
func (r *PullRequestRepository) ListMergedSince(since *time.Time) ([]*models.PullRequest, error) {
	where, args := sinceClause("merged_at", since)
	return r.list(`SELECT `+pullRequestColumns+` FROM pull_requests WHERE merged_at IS NOT NULL AND `+where+` ORDER BY merged_at`, args...)
}

// ListOpen returns every open pull request regardless of age.
func (r *PullRequestRepository) ListOpen() ([]*models.PullRequest, error) {
	return r.list(`SELECT `+pullRequestColumns+` FROM pull_requests WHERE state = ? ORDER BY created_at`, models.PRStateOpen)
}

func (r *PullRequestRepository) Count() (int, error) {
	return countRows(r.db, "pull_requests")
}

func (r *PullRequestRepository) CountByState() (map[string]int, error) {
	return countByColumn(r.db, `SELECT state, COUNT(*) FROM pull_requests GROUP BY state`)
}

func (r *PullRequestRepository) DateRange() (*models.DateRange, error) {
	return dateRange(r.db, "pull_requests")
}

func (r *PullRequestRepository) list(query string, args ...interface{}) ([]*models.PullRequest, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pullRequests []*models.PullRequest
	for rows.Next() {
		pr, err := scanPullRequest(rows)
		if err != nil {
			return nil, err
		}
		pullRequests = append(pullRequests, pr)
	}
	return pullRequests, rows.Err()
}

func scanPullRequest(row rowScanner) (*models.PullRequest, error) {
	var (
		pr                                          models.PullRequest
		body, userType                              sql.NullString
		createdAt, updatedAt, lastFetchedAt         string
		closedAt, mergedAt                          sql.NullString
		additions, deletions, changedFiles, commits sql.NullInt64
		labels, assignees                           string
	)

	err := row.Scan(
		&pr.ID, &pr.Number, &pr.Title, &body, &pr.State, &createdAt, &updatedAt, &closedAt, &mergedAt,
		&pr.UserLogin, &userType, &pr.BaseBranch, &pr.HeadBranch, &additions, &deletions, &changedFiles, &commits,
		&labels, &assignees, &pr.Draft, &pr.IsBreakingChange, &pr.PRType, &lastFetchedAt,
	)
	if err != nil {
		return nil, err
	}

	pr.Body = nullString(body)
	pr.UserType = nullString(userType)
	pr.Additions = nullInt(additions)
	pr.Deletions = nullInt(deletions)
	pr.ChangedFiles = nullInt(changedFiles)
	pr.CommitsCount = nullInt(commits)

	if pr.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if pr.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if pr.LastFetchedAt, err = parseTime(lastFetchedAt); err != nil {
		return nil, err
	}
	if pr.ClosedAt, err = parseNullTime(closedAt); err != nil {
		return nil, err
	}
	if pr.MergedAt, err = parseNullTime(mergedAt); err != nil {
		return nil, err
	}
	if pr.Labels, err = decodeList(labels); err != nil {
		return nil, err
	}
	if pr.Assignees, err = decodeList(assignees); err != nil {
		return nil, err
	}
	return &pr, nil
}
