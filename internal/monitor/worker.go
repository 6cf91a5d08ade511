package monitor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbd888/cryptoguard/internal/account"
)

// UserLister enumerates the users the worker sweeps.
type UserLister interface {
	List(ctx context.Context) ([]*account.User, error)
}

// Worker runs a dispatching cycle for every user on a fixed interval.
type Worker struct {
	service  *Service
	users    UserLister
	interval time.Duration
	logger   *slog.Logger

	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
}

// NewWorker creates a scheduled sweep. It does nothing until Start.
func NewWorker(service *Service, users UserLister, interval time.Duration, logger *slog.Logger) *Worker {
	return &Worker{
		service:  service,
		users:    users,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the poll loop. Calls after the first are no-ops.
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		w.started.Store(true)
		w.logger.Info("monitor worker started", "interval", w.interval)
		go w.pollLoop(ctx)
	})
}

// Stop stops the loop and waits for an in-flight sweep to finish. A worker
// that was never started returns immediately and cannot be started later.
func (w *Worker) Stop() {
	w.startOnce.Do(func() {})
	w.stopOnce.Do(func() { close(w.stop) })
	if !w.started.Load() {
		return
	}
	<-w.done
}

func (w *Worker) pollLoop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one cycle per user, sequentially. A failing user is logged and
// skipped.
func (w *Worker) Sweep(ctx context.Context) int {
	users, err := w.users.List(ctx)
	if err != nil {
		w.logger.Error("monitor sweep: list users failed", "error", err)
		return 0
	}

	ran := 0
	for _, u := range users {
		if ctx.Err() != nil {
			break
		}
		if _, err := w.service.run(ctx, u, TriggerSchedule, true); err != nil {
			w.logger.Error("monitor sweep: cycle failed", "user_id", u.ID, "error", err)
			continue
		}
		ran++
	}
	return ran
}
