package repositories

import (
	"database/sql"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alimgiray/repopulse/internal/models"
)

// MetadataRepository stores process-wide key/value state, including sync checkpoints.
type MetadataRepository struct {
	db *sql.DB
	mu sync.RWMutex
}

func NewMetadataRepository(db *sql.DB) *MetadataRepository {
	return &MetadataRepository{db: db}
}

// Layouts accepted when reading a checkpoint back.
var checkpointLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// SeedDefaults inserts any missing default rows. Existing values are kept.
func (r *MetadataRepository) SeedDefaults(now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sentinel := models.CheckpointSentinel.Format(models.CheckpointLayout)
	defaults := [][2]string{
		{models.MetaTotalPRsTracked, "0"},
		{models.MetaTotalIssuesTracked, "0"},
		{models.MetaDatabaseVersion, models.DatabaseVersion},
		{models.MetaCreatedAt, now.UTC().Format(models.CheckpointLayout)},
	}
	for _, kind := range models.CheckpointKinds {
		defaults = append(defaults, [2]string{kind.Key(), sentinel})
	}

	stamp := formatTime(now)
	for _, kv := range defaults {
		_, err := r.db.Exec(`INSERT OR IGNORE INTO metadata (key, value, updated_at) VALUES (?, ?, ?)`, kv[0], kv[1], stamp)
		if err != nil {
			return err
		}
	}
	return nil
}

// Get returns the value for key and whether it exists.
func (r *MetadataRepository) Get(key string) (string, bool, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set overwrites the value for key.
func (r *MetadataRepository) Set(key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.set(key, value, time.Now())
}

// SetInt stores an integer counter such as total_prs_tracked.
func (r *MetadataRepository) SetInt(key string, value int) error {
	return r.Set(key, strconv.Itoa(value))
}

func (r *MetadataRepository) set(key, value string, now time.Time) error {
	_, err := r.db.Exec(`
		INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, formatTime(now))
	return err
}

// All returns every metadata row.
func (r *MetadataRepository) All() (map[string]string, error) {
	rows, err := r.db.Query(`SELECT key, value FROM metadata ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		values[key] = value
	}
	return values, rows.Err()
}

// GetCheckpoint returns the checkpoint for kind. Missing, empty or unparsable
// values read as the sentinel.
func (r *MetadataRepository) GetCheckpoint(kind models.CheckpointKind) (time.Time, error) {
	value, ok, err := r.Get(kind.Key())
	if err != nil {
		return models.CheckpointSentinel, err
	}
	if !ok {
		return models.CheckpointSentinel, nil
	}
	if t, ok := parseCheckpoint(value); ok {
		return t, nil
	}
	return models.CheckpointSentinel, nil
}

// AdvanceCheckpoint moves the checkpoint for kind to now. A stored value later
// than now is kept so the checkpoint never moves backwards. It returns the
// value that ends up stored.
func (r *MetadataRepository) AdvanceCheckpoint(kind models.CheckpointKind, now time.Time) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := now.UTC()
	var current string
	err := r.db.QueryRow(`SELECT value FROM metadata WHERE key = ?`, kind.Key()).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return time.Time{}, err
	}
	if prior, ok := parseCheckpoint(current); ok && prior.After(next) {
		next = prior
	}

	// Stored precision is microseconds
	next = next.Truncate(time.Microsecond)
	if err := r.set(kind.Key(), next.Format(models.CheckpointLayout), now); err != nil {
		return time.Time{}, err
	}
	return next, nil
}

func parseCheckpoint(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range checkpointLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
