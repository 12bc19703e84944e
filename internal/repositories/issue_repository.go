package repositories

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/alimgiray/repopulse/internal/models"
)

type IssueRepository struct {
	db *sql.DB
	mu sync.RWMutex
}

func NewIssueRepository(db *sql.DB) *IssueRepository {
	return &IssueRepository{db: db}
}

const issueColumns = `id, number, title, body, state, created_at, updated_at, closed_at, user_login, user_type,
	assignee_login, labels, comments_count, issue_type, priority, is_external_user, last_fetched_at`

// Upsert stores issue keyed by number, overwriting every column of an existing row.
// A stored row carrying the same id under another number is replaced.
func (r *IssueRepository) Upsert(issue *models.Issue) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	query := `
		INSERT INTO issues (` + issueColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(number) DO UPDATE SET
			id = excluded.id, title = excluded.title, body = excluded.body, state = excluded.state,
			created_at = excluded.created_at, updated_at = excluded.updated_at, closed_at = excluded.closed_at,
			user_login = excluded.user_login, user_type = excluded.user_type,
			assignee_login = excluded.assignee_login, labels = excluded.labels,
			comments_count = excluded.comments_count, issue_type = excluded.issue_type,
			priority = excluded.priority, is_external_user = excluded.is_external_user,
			last_fetched_at = excluded.last_fetched_at
	`

	err := execInTx(r.db,
		statement{`DELETE FROM issues WHERE id = ? AND number != ?`, []interface{}{issue.ID, issue.Number}},
		statement{query, []interface{}{
			issue.ID, issue.Number, issue.Title, issue.Body, issue.State,
			formatTime(issue.CreatedAt), formatTime(issue.UpdatedAt), formatTimePtr(issue.ClosedAt),
			issue.UserLogin, issue.UserType, issue.AssigneeLogin, encodeList(issue.Labels),
			issue.CommentsCount, issue.IssueType, issue.Priority, issue.IsExternalUser,
			formatTime(issue.LastFetchedAt),
		}},
	)
	if err != nil {
		return fmt.Errorf("upsert issue #%d: %w", issue.Number, err)
	}
	return nil
}

// GetByNumber returns the stored issue or nil when absent.
func (r *IssueRepository) GetByNumber(number int) (*models.Issue, error) {
	issue, err := scanIssue(r.db.QueryRow(`SELECT `+issueColumns+` FROM issues WHERE number = ?`, number))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return issue, nil
}

// ListCreatedSince returns issues created at or after since (all when nil), oldest first.
func (r *IssueRepository) ListCreatedSince(since *time.Time) ([]*models.Issue, error) {
	where, args := sinceClause("created_at", since)
	return r.list(`SELECT `+issueColumns+` FROM issues WHERE `+where+` ORDER BY created_at`, args...)
}

// ListOpen returns every open issue regardless of age.
func (r *IssueRepository) ListOpen() ([]*models.Issue, error) {
	return r.list(`SELECT `+issueColumns+` FROM issues WHERE state = ? ORDER BY created_at`, models.IssueStateOpen)
}

func (r *IssueRepository) Count() (int, error) {
	return countRows(r.db, "issues")
}

func (r *IssueRepository) CountByState() (map[string]int, error) {
	return countByColumn(r.db, `SELECT state, COUNT(*) FROM issues GROUP BY state`)
}

func (r *IssueRepository) DateRange() (*models.DateRange, error) {
	return dateRange(r.db, "issues")
}

func (r *IssueRepository) list(query string, args ...interface{}) ([]*models.Issue, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issues []*models.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

func scanIssue(row rowScanner) (*models.Issue, error) {
	var (
		issue                               models.Issue
		body, userType, assignee, closedAt  sql.NullString
		createdAt, updatedAt, lastFetchedAt string
		labels                              string
	)

	err := row.Scan(
		&issue.ID, &issue.Number, &issue.Title, &body, &issue.State, &createdAt, &updatedAt, &closedAt,
		&issue.UserLogin, &userType, &assignee, &labels, &issue.CommentsCount, &issue.IssueType,
		&issue.Priority, &issue.IsExternalUser, &lastFetchedAt,
	)
	if err != nil {
		return nil, err
	}

	issue.Body = nullString(body)
	issue.UserType = nullString(userType)
	issue.AssigneeLogin = nullString(assignee)

	if issue.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if issue.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if issue.LastFetchedAt, err = parseTime(lastFetchedAt); err != nil {
		return nil, err
	}
	if issue.ClosedAt, err = parseNullTime(closedAt); err != nil {
		return nil, err
	}
	if issue.Labels, err = decodeList(labels); err != nil {
		return nil, err
	}
	return &issue, nil
}
