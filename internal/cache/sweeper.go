package cache

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"datadesk/internal/logging"
)

// Sweeper periodically reclaims artifacts that no longer belong to any
// registered node. Nodes can vanish without a clear-cache call: a
// source is replaced with different code, or a package is deleted from
// the loaders dir between runs.
type Sweeper struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
}

// StartSweeper schedules a sweep at the given interval. isLive reports
// whether a data id still belongs to a registered node.
func StartSweeper(store *Store, isLive func(dataID string) bool, interval time.Duration, logger *slog.Logger) (*Sweeper, error) {
	if interval <= 0 {
		interval = time.Hour
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create sweep scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { store.Sweep(isLive) }),
		gocron.WithName("artifact-sweep"),
	)
	if err != nil {
		return nil, fmt.Errorf("schedule artifact sweep: %w", err)
	}

	scheduler.Start()

	return &Sweeper{
		scheduler: scheduler,
		logger:    logging.Default(logger).With("component", "cache-sweeper"),
	}, nil
}

// Stop shuts the scheduler down, waiting for a running sweep to finish.
func (s *Sweeper) Stop() {
	if err := s.scheduler.Shutdown(); err != nil {
		s.logger.Warn("sweep scheduler shutdown", "error", err)
	}
}
