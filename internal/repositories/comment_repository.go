package repositories

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/alimgiray/repopulse/internal/models"
)

type CommentRepository struct {
	db *sql.DB
	mu sync.RWMutex
}

func NewCommentRepository(db *sql.DB) *CommentRepository {
	return &CommentRepository{db: db}
}

const commentColumns = `id, issue_number, pr_number, user_login, body, created_at, updated_at, comment_type, last_fetched_at`

// Upsert stores comment keyed by its remote id. Comments without exactly one
// parent are rejected before reaching the database.
func (r *CommentRepository) Upsert(comment *models.Comment) error {
	if err := comment.Validate(); err != nil {
		return fmt.Errorf("comment %d: %w", comment.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	query := `
		INSERT INTO comments (` + commentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			issue_number = excluded.issue_number, pr_number = excluded.pr_number,
			user_login = excluded.user_login, body = excluded.body,
			created_at = excluded.created_at, updated_at = excluded.updated_at,
			comment_type = excluded.comment_type, last_fetched_at = excluded.last_fetched_at
	`

	_, err := r.db.Exec(query,
		comment.ID, comment.IssueNumber, comment.PRNumber, comment.UserLogin, comment.Body,
		formatTime(comment.CreatedAt), formatTime(comment.UpdatedAt), comment.CommentType,
		formatTime(comment.LastFetchedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert comment %d: %w", comment.ID, err)
	}
	return nil
}

// GetByID returns the stored comment or nil when absent.
func (r *CommentRepository) GetByID(id int64) (*models.Comment, error) {
	comments, err := r.list(`SELECT `+commentColumns+` FROM comments WHERE id = ?`, id)
	if err != nil || len(comments) == 0 {
		return nil, err
	}
	return comments[0], nil
}

// ListCreatedSince returns comments created at or after since (all when nil), oldest first.
func (r *CommentRepository) ListCreatedSince(since *time.Time) ([]*models.Comment, error) {
	where, args := sinceClause("created_at", since)
	return r.list(`SELECT `+commentColumns+` FROM comments WHERE `+where+` ORDER BY created_at`, args...)
}

func (r *CommentRepository) Count() (int, error) {
	return countRows(r.db, "comments")
}

func (r *CommentRepository) list(query string, args ...interface{}) ([]*models.Comment, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comments []*models.Comment
	for rows.Next() {
		var (
			comment                             models.Comment
			issueNumber, prNumber               sql.NullInt64
			body                                sql.NullString
			createdAt, updatedAt, lastFetchedAt string
		)
		err := rows.Scan(&comment.ID, &issueNumber, &prNumber, &comment.UserLogin, &body,
			&createdAt, &updatedAt, &comment.CommentType, &lastFetchedAt)
		if err != nil {
			return nil, err
		}
		comment.IssueNumber = nullInt(issueNumber)
		comment.PRNumber = nullInt(prNumber)
		comment.Body = nullString(body)
		if comment.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if comment.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		if comment.LastFetchedAt, err = parseTime(lastFetchedAt); err != nil {
			return nil, err
		}
		comments = append(comments, &comment)
	}
	return comments, rows.Err()
}
