package workers

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// WorkerManager starts, tracks and stops a set of workers
type WorkerManager struct {
	workers []Worker
	log     *logrus.Entry
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewWorkerManager creates a worker manager bound to parent
func NewWorkerManager(parent context.Context, log *logrus.Entry) *WorkerManager {
	ctx, cancel := context.WithCancel(parent)
	return &WorkerManager{
		workers: make([]Worker, 0),
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Register adds a worker to be started by StartAll
func (wm *WorkerManager) Register(worker Worker) {
	wm.workers = append(wm.workers, worker)
}

// StartAll starts every registered worker in its own goroutine
func (wm *WorkerManager) StartAll() error {
	if len(wm.workers) == 0 {
		return errors.New("no workers registered")
	}
	for _, worker := range wm.workers {
		wm.startWorker(worker)
	}
	wm.log.WithField("workers", len(wm.workers)).Info("Started workers")
	return nil
}

// StopAll gracefully stops all workers and waits for them to return
func (wm *WorkerManager) StopAll() error {
	wm.log.Info("Stopping all workers...")

	// Cancel the context to signal all workers to stop
	wm.cancel()

	for _, worker := range wm.workers {
		if err := worker.Stop(); err != nil {
			wm.log.WithError(err).WithField("worker_id", worker.GetWorkerID()).Warn("Error stopping worker")
		}
	}

	wm.wg.Wait()

	wm.log.Info("All workers stopped")
	return nil
}

// Done is closed once StopAll has been called or the parent context ends
func (wm *WorkerManager) Done() <-chan struct{} {
	return wm.ctx.Done()
}

// startWorker starts a single worker in a goroutine
func (wm *WorkerManager) startWorker(worker Worker) {
	wm.wg.Add(1)
	go func() {
		defer wm.wg.Done()
		if err := worker.Start(wm.ctx); err != nil && !errors.Is(err, context.Canceled) {
			wm.log.WithError(err).WithField("worker_id", worker.GetWorkerID()).Error("Worker stopped with error")
		}
	}()
}

// GetWorkerStatus returns whether each worker is running, keyed by worker id
func (wm *WorkerManager) GetWorkerStatus() map[string]bool {
	status := make(map[string]bool, len(wm.workers))
	for _, worker := range wm.workers {
		status[worker.GetWorkerID()] = worker.IsRunning()
	}
	return status
}
