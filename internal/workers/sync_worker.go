package workers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alimgiray/repopulse/internal/models"
	"github.com/sirupsen/logrus"
)

// IncrementalSyncer runs one incremental sync.
type IncrementalSyncer interface {
	RunIncrementalSync(ctx context.Context) (*models.SyncResult, error)
}

// SyncWorker runs an incremental sync on start and then once per interval.
// Runs never overlap: the next tick is only read after the current run returns.
type SyncWorker struct {
	*BaseWorker
	syncer   IncrementalSyncer
	interval time.Duration
	log      *logrus.Entry

	mu         sync.Mutex
	runs       int
	lastResult *models.SyncResult
	lastErr    error
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(workerID string, syncer IncrementalSyncer, interval time.Duration, log *logrus.Entry) *SyncWorker {
	return &SyncWorker{
		BaseWorker: NewBaseWorker(workerID),
		syncer:     syncer,
		interval:   interval,
		log:        log.WithField("worker_id", workerID),
	}
}

// Start begins the sync loop
func (w *SyncWorker) Start(ctx context.Context) error {
	if w.interval <= 0 {
		return errors.New("sync interval must be positive")
	}

	w.setRunning(true)
	defer w.setRunning(false)
	w.log.WithField("interval", w.interval.String()).Info("Sync worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.runOnce(ctx)

		select {
		case <-ctx.Done():
			w.log.Info("Sync worker stopping due to context cancellation")
			return ctx.Err()
		case <-w.StopChan:
			w.log.Info("Sync worker stopping")
			return nil
		case <-ticker.C:
		}
	}
}

func (w *SyncWorker) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	res, err := w.syncer.RunIncrementalSync(ctx)

	w.mu.Lock()
	w.runs++
	w.lastResult, w.lastErr = res, err
	w.mu.Unlock()

	if err != nil {
		w.log.WithError(err).Warn("Incremental sync did not complete")
		return
	}
	w.log.WithFields(logrus.Fields{
		"run_id":  res.RunID,
		"stored":  res.Total(),
		"touched": len(res.Touched),
	}).Info("Incremental sync finished")
}

// Runs returns how many sync runs have finished
func (w *SyncWorker) Runs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runs
}

// LastResult returns the outcome of the most recent run
func (w *SyncWorker) LastResult() (*models.SyncResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastResult, w.lastErr
}
