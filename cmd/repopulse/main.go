package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alimgiray/repopulse/internal/repositories"
	"github.com/alimgiray/repopulse/internal/services"
	"github.com/alimgiray/repopulse/pkg/config"
	"github.com/alimgiray/repopulse/pkg/database"
	"github.com/alimgiray/repopulse/pkg/logger"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var envFile string

func main() {
	rootCmd := &cobra.Command{
		Use:           "repopulse",
		Short:         "Incremental GitHub activity sync and repository health metrics",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		newSyncCmd(),
		newScheduleCmd(),
		newServeCmd(),
		newExportCmd(),
		newStatsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		logger.WithError(err).Error("Command failed")
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&envFile, "env-file", ".env", "Path to a .env file (ignored when missing)")
	flags.String("owner", "", "Repository owner (GITHUB_OWNER)")
	flags.String("repo", "", "Repository name (GITHUB_REPO)")
	flags.String("db", "", "SQLite database path (DB_PATH)")
	flags.String("log-level", "", "Log level: debug, info, warn, error (LOG_LEVEL)")
	flags.String("log-format", "", "Log format: json or text (LOG_FORMAT)")

	bindFlag(cmd, "github.owner", "owner")
	bindFlag(cmd, "github.repo", "repo")
	bindFlag(cmd, "database.path", "db")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

// app holds what every command needs once configuration is loaded.
type app struct {
	cfg   *config.Config
	log   *logrus.Entry
	db    *sql.DB
	store *repositories.Store
}

func openApp() (*app, error) {
	cfg, err := config.Load(viper.GetViper(), envFile)
	if err != nil {
		return nil, err
	}

	log := logrus.NewEntry(logger.Init(cfg.Log.Level, cfg.Log.Format)).WithField("repo", cfg.RepoFullName())

	db, err := database.Open(cfg.Database.Path, log)
	if err != nil {
		return nil, err
	}

	store := repositories.NewStore(db)
	if err := store.Init(time.Now()); err != nil {
		db.Close()
		return nil, err
	}

	return &app{cfg: cfg, log: log, db: db, store: store}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.log.WithError(err).Warn("Failed to close database")
	}
}

// newSyncService validates credentials before any remote client is built.
func (a *app) newSyncService(ctx context.Context) (*services.SyncService, error) {
	if err := a.cfg.ValidateForSync(); err != nil {
		return nil, err
	}

	fetcher, err := services.NewGitHubService(ctx, a.cfg.GitHub.Token, a.cfg.GitHub.APIURL, a.log.WithField("component", "github"))
	if err != nil {
		return nil, err
	}

	opts := services.SyncOptions{
		Owner:   a.cfg.GitHub.Owner,
		Repo:    a.cfg.GitHub.Repo,
		PerPage: a.cfg.Sync.PerPage,
	}
	return services.NewSyncService(opts, fetcher, services.StoresFrom(a.store), a.log.WithField("component", "sync")), nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
