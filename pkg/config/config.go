package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrMissingToken is returned when a sync is requested without a GitHub token.
var ErrMissingToken = errors.New("GITHUB_TOKEN is not set")

type Config struct {
	GitHub   GitHubConfig
	Database DatabaseConfig
	Server   ServerConfig
	Sync     SyncConfig
	Log      LogConfig
}

type GitHubConfig struct {
	Token  string
	Owner  string
	Repo   string
	APIURL string
}

type DatabaseConfig struct {
	Path string
}

type ServerConfig struct {
	Port string
	Mode string
}

type SyncConfig struct {
	PerPage  int
	Interval time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// envBindings maps viper keys to the environment variables that feed them.
var envBindings = map[string]string{
	"github.token":   "GITHUB_TOKEN",
	"github.owner":   "GITHUB_OWNER",
	"github.repo":    "GITHUB_REPO",
	"github.api_url": "GITHUB_API_URL",
	"database.path":  "DB_PATH",
	"server.port":    "PORT",
	"server.mode":    "GIN_MODE",
	"sync.per_page":  "SYNC_PER_PAGE",
	"sync.interval":  "SYNC_INTERVAL",
	"log.level":      "LOG_LEVEL",
	"log.format":     "LOG_FORMAT",
}

// ApplyDefaults registers default values and environment bindings on v.
func ApplyDefaults(v *viper.Viper) {
	v.SetDefault("github.owner", "jspsych")
	v.SetDefault("github.repo", "jsPsych")
	v.SetDefault("database.path", "data/analytics.db")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("sync.per_page", 100)
	v.SetDefault("sync.interval", time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
}

// Load reads an optional .env file into the process environment and builds
// a Config from v. A missing .env file is not an error.
func Load(v *viper.Viper, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	ApplyDefaults(v)

	cfg := &Config{
		GitHub: GitHubConfig{
			Token:  strings.TrimSpace(v.GetString("github.token")),
			Owner:  v.GetString("github.owner"),
			Repo:   v.GetString("github.repo"),
			APIURL: v.GetString("github.api_url"),
		},
		Database: DatabaseConfig{
			Path: v.GetString("database.path"),
		},
		Server: ServerConfig{
			Port: v.GetString("server.port"),
			Mode: v.GetString("server.mode"),
		},
		Sync: SyncConfig{
			PerPage:  v.GetInt("sync.per_page"),
			Interval: v.GetDuration("sync.interval"),
		},
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("log.level")),
			Format: strings.ToLower(v.GetString("log.format")),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.GitHub.Owner == "" || c.GitHub.Repo == "" {
		return errors.New("GITHUB_OWNER and GITHUB_REPO must not be empty")
	}
	if c.Database.Path == "" {
		return errors.New("DB_PATH must not be empty")
	}
	if c.Sync.PerPage < 1 || c.Sync.PerPage > 100 {
		return fmt.Errorf("SYNC_PER_PAGE must be between 1 and 100, got %d", c.Sync.PerPage)
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("SYNC_INTERVAL must be positive, got %s", c.Sync.Interval)
	}
	return nil
}

// ValidateForSync checks the settings only sync commands need.
func (c *Config) ValidateForSync() error {
	if c.GitHub.Token == "" {
		return ErrMissingToken
	}
	return nil
}

// RepoFullName returns owner/repo.
func (c *Config) RepoFullName() string {
	return c.GitHub.Owner + "/" + c.GitHub.Repo
}
