package database

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrations embed.FS

const dsnParams = "_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000&_temp_store=MEMORY&_foreign_keys=ON&_busy_timeout=30000"

// Open opens (creating if needed) the SQLite database at path and applies
// the embedded migrations.
func Open(path string, log *logrus.Entry) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?"+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	// One writer at a time; WAL lets the metrics API read alongside it.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database %s: %w", path, err)
	}

	if err := Migrate(db, log); err != nil {
		db.Close()
		return nil, err
	}

	log.WithField("path", path).Info("Database connected with WAL mode")
	return db, nil
}

// Migrate executes every embedded SQL script in lexical order. Scripts only
// use IF NOT EXISTS statements, so running them on every start is safe.
func Migrate(db *sql.DB, log *logrus.Entry) error {
	files, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(files)

	for _, file := range files {
		script, err := migrations.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}
		if _, err := db.Exec(string(script)); err != nil {
			return fmt.Errorf("execute %s: %w", file, err)
		}
		log.WithField("script", filepath.Base(file)).Debug("Executed SQL script")
	}
	return nil
}
