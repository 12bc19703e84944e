package repositories

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/alimgiray/repopulse/internal/models"
)

type ReleaseRepository struct {
	db *sql.DB
	mu sync.RWMutex
}

func NewReleaseRepository(db *sql.DB) *ReleaseRepository {
	return &ReleaseRepository{db: db}
}

const releaseColumns = `id, tag_name, name, body, created_at, published_at, draft, prerelease, author_login, is_breaking, last_fetched_at`

// Upsert stores release keyed by tag name. A stored row with the same id under
// another tag (a re-tagged release) is replaced.
func (r *ReleaseRepository) Upsert(release *models.Release) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	query := `
		INSERT INTO releases (` + releaseColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tag_name) DO UPDATE SET
			id = excluded.id, name = excluded.name, body = excluded.body,
			created_at = excluded.created_at, published_at = excluded.published_at,
			draft = excluded.draft, prerelease = excluded.prerelease,
			author_login = excluded.author_login, is_breaking = excluded.is_breaking,
			last_fetched_at = excluded.last_fetched_at
	`

	err := execInTx(r.db,
		statement{`DELETE FROM releases WHERE id = ? AND tag_name != ?`, []interface{}{release.ID, release.TagName}},
		statement{query, []interface{}{
			release.ID, release.TagName, release.Name, release.Body,
			formatTime(release.CreatedAt), formatTimePtr(release.PublishedAt),
			release.Draft, release.Prerelease, release.AuthorLogin, release.IsBreaking,
			formatTime(release.LastFetchedAt),
		}},
	)
	if err != nil {
		return fmt.Errorf("upsert release %s: %w", release.TagName, err)
	}
	return nil
}

// GetByTagName returns the stored release or nil when absent.
func (r *ReleaseRepository) GetByTagName(tagName string) (*models.Release, error) {
	releases, err := r.list(`SELECT `+releaseColumns+` FROM releases WHERE tag_name = ?`, tagName)
	if err != nil || len(releases) == 0 {
		return nil, err
	}
	return releases[0], nil
}

// ListCreatedSince returns releases created at or after since (all when nil), oldest first.
func (r *ReleaseRepository) ListCreatedSince(since *time.Time) ([]*models.Release, error) {
	where, args := sinceClause("created_at", since)
	return r.list(`SELECT `+releaseColumns+` FROM releases WHERE `+where+` ORDER BY created_at`, args...)
}

func (r *ReleaseRepository) Count() (int, error) {
	return countRows(r.db, "releases")
}

func (r *ReleaseRepository) list(query string, args ...interface{}) ([]*models.Release, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var releases []*models.Release
	for rows.Next() {
		var (
			release                          models.Release
			name, body, publishedAt, author  sql.NullString
			createdAt, lastFetchedAt         string
		)
		err := rows.Scan(&release.ID, &release.TagName, &name, &body, &createdAt, &publishedAt,
			&release.Draft, &release.Prerelease, &author, &release.IsBreaking, &lastFetchedAt)
		if err != nil {
			return nil, err
		}
		release.Name = nullString(name)
		release.Body = nullString(body)
		release.AuthorLogin = nullString(author)
		if release.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if release.PublishedAt, err = parseNullTime(publishedAt); err != nil {
			return nil, err
		}
		if release.LastFetchedAt, err = parseTime(lastFetchedAt); err != nil {
			return nil, err
		}
		releases = append(releases, &release)
	}
	return releases, rows.Err()
}
