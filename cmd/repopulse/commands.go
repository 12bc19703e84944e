package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/alimgiray/repopulse/internal/handlers"
	"github.com/alimgiray/repopulse/internal/models"
	"github.com/alimgiray/repopulse/internal/services"
	"github.com/alimgiray/repopulse/internal/workers"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch repository activity into the local store",
	}

	run := func(mode models.SyncMode) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			svc, err := a.newSyncService(ctx)
			if err != nil {
				return err
			}

			var res *models.SyncResult
			if mode == models.SyncModeFull {
				res, err = svc.RunFullSync(ctx)
			} else {
				res, err = svc.RunIncrementalSync(ctx)
			}
			if res != nil {
				if printErr := printJSON(cmd.OutOrStdout(), res); printErr != nil {
					return printErr
				}
			}
			return err
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "full",
			Short: "Fetch every pull request, issue, review, comment and release",
			Args:  cobra.NoArgs,
			RunE:  run(models.SyncModeFull),
		},
		&cobra.Command{
			Use:   "incremental",
			Short: "Fetch only what changed since the last sync",
			Args:  cobra.NoArgs,
			RunE:  run(models.SyncModeIncremental),
		},
	)
	return cmd
}

func newScheduleCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run an incremental sync now and then on every interval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			svc, err := a.newSyncService(ctx)
			if err != nil {
				return err
			}

			if interval <= 0 {
				interval = a.cfg.Sync.Interval
			}

			manager := workers.NewWorkerManager(ctx, a.log)
			manager.Register(workers.NewSyncWorker("sync-1", svc, interval, a.log))
			if err := manager.StartAll(); err != nil {
				return err
			}

			<-ctx.Done()
			return manager.StopAll()
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "Time between runs (defaults to SYNC_INTERVAL)")
	return cmd
}

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only metrics API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if port == "" {
				port = a.cfg.Server.Port
			}
			gin.SetMode(a.cfg.Server.Mode)

			metrics := services.NewMetricsService(a.store)
			server := &http.Server{
				Addr:              ":" + port,
				Handler:           handlers.NewRouter(a.db, a.store, metrics, a.log.WithField("component", "http")),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				a.log.WithField("addr", server.Addr).Info("Server starting")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
				a.log.Info("Shutting down server...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			case err := <-errCh:
				return err
			}
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "Listen port (defaults to PORT)")
	return cmd
}

func newExportCmd() *cobra.Command {
	var (
		days string
		out  string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the metrics report to an XLSX workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			window, err := handlers.ParseDays(days)
			if err != nil {
				return err
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			reports := services.NewReportService(services.NewMetricsService(a.store), a.log)
			report, err := reports.ExportFile(window, out)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report.Overview)
		},
	}

	cmd.Flags().StringVar(&days, "days", "30", "Window in days, or \"all\"")
	cmd.Flags().StringVar(&out, "out", "repopulse-metrics.xlsx", "Output file")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show row counts, date ranges and checkpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.store.Stats()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
}
