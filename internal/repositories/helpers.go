package repositories

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alimgiray/repopulse/internal/models"
)

// Timestamps are stored as UTC RFC 3339 text so they sort lexicographically.
const timeLayout = time.RFC3339

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullInt(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

func encodeList(values []string) string {
	if values == nil {
		values = []string{}
	}
	b, _ := json.Marshal(values)
	return string(b)
}

func decodeList(raw string) ([]string, error) {
	values := []string{}
	if raw == "" {
		return values, nil
	}
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("decode list %q: %w", raw, err)
	}
	return values, nil
}

// sinceClause builds a "column >= ?" filter; a nil since matches everything.
func sinceClause(column string, since *time.Time) (string, []interface{}) {
	if since == nil {
		return "1 = 1", nil
	}
	return column + " >= ?", []interface{}{formatTime(*since)}
}

func countRows(db *sql.DB, table string) (int, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&count)
	return count, err
}

func countByColumn(db *sql.DB, query string) (map[string]int, error) {
	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return nil, err
		}
		counts[key] = count
	}
	return counts, rows.Err()
}

func dateRange(db *sql.DB, table string) (*models.DateRange, error) {
	var earliest, latest sql.NullString
	err := db.QueryRow(`SELECT MIN(created_at), MAX(created_at) FROM ` + table).Scan(&earliest, &latest)
	if err != nil {
		return nil, err
	}
	if !earliest.Valid || !latest.Valid {
		return nil, nil
	}
	from, err := parseTime(earliest.String)
	if err != nil {
		return nil, err
	}
	to, err := parseTime(latest.String)
	if err != nil {
		return nil, err
	}
	return &models.DateRange{Earliest: from, Latest: to}, nil
}

type statement struct {
	query string
	args  []interface{}
}

// execInTx runs stmts in order and commits only if all of them succeed.
func execInTx(db *sql.DB, stmts ...statement) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, s := range stmts {
		if _, err := tx.Exec(s.query, s.args...); err != nil {
			return err
		}
	}
	return tx.Commit()
}
