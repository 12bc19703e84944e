package models

import (
	"time"
)

// Release represents a GitHub release keyed by tag name
type Release struct {
	ID            int64      `json:"id" db:"id"`
	TagName       string     `json:"tag_name" db:"tag_name"`
	Name          *string    `json:"name" db:"name"`
	Body          *string    `json:"body" db:"body"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	PublishedAt   *time.Time `json:"published_at" db:"published_at"`
	Draft         bool       `json:"draft" db:"draft"`
	Prerelease    bool       `json:"prerelease" db:"prerelease"`
	AuthorLogin   *string    `json:"author_login" db:"author_login"`
	IsBreaking    bool       `json:"is_breaking" db:"is_breaking"`
	LastFetchedAt time.Time  `json:"last_fetched_at" db:"last_fetched_at"`
}
