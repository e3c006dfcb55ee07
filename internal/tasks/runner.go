package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BearBump/TrackIt/internal/metrics"
)

// Runner starts fire-and-forget work detached from the request that spawned it.
// Failures and panics are logged and counted, never returned to anyone.
type Runner struct {
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewRunner(timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Runner{timeout: timeout}
}

func (r *Runner) Go(name string, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		outcome := "ok"
		defer func() {
			if p := recover(); p != nil {
				outcome = "panic"
				slog.Error("background task panicked", "task", name, "panic", fmt.Sprint(p))
			}
			metrics.BackgroundTasksTotal.WithLabelValues(name, outcome).Inc()
		}()

		if err := fn(ctx); err != nil {
			outcome = "error"
			slog.Error("background task failed", "task", name, "error", err.Error())
		}
	}()
}

// Wait blocks until every spawned task has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}
