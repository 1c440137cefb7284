// Package completion closes out appointments whose end time has passed.
package completion

import (
	"context"
	"log/slog"
	"time"
)

type Completer interface {
	CompleteElapsed(ctx context.Context, limit int) (int, error)
}

type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
}

type Worker struct {
	completer Completer
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

func NewWorker(completer Completer, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Worker{
		completer: completer,
		logger:    logger,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep drains everything that is due, a batch at a time.
func (w *Worker) sweep(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := w.completer.CompleteElapsed(ctx, w.batchSize)
		if n > 0 {
			w.logger.Info("appointments completed", "count", n)
		}
		if err != nil {
			w.logger.Error("completion batch failed", "err", err)
			return
		}
		if n < w.batchSize {
			return
		}
	}
}
