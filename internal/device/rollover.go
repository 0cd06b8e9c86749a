package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser supports both standard (5-field) and extended (6-field with
// seconds) cron expressions.
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// RolloverConfig configures the daily stats-rollover scheduler.
type RolloverConfig struct {
	// Expr is the cron expression that triggers a rollover (config.DeviceConfig.StatsRolloverCron).
	Expr string

	// Retain bounds how long a day's stats are kept before being pruned on
	// rollover; zero disables pruning.
	Retain time.Duration

	Logger *slog.Logger
}

// Scheduler fires a stats rollover on the configured cron schedule,
// pruning stats older than Retain from the store. Grounded on the
// teacher's internal/tasks.Scheduler: a parsed cron.Schedule drives a
// sleep-until-next-fire loop rather than a polling timer.
type Scheduler struct {
	store  *Store
	config RolloverConfig
	sched  cron.Schedule
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler parses config.Expr and builds a Scheduler over store.
func NewScheduler(store *Store, config RolloverConfig) (*Scheduler, error) {
	if config.Expr == "" {
		config.Expr = "0 0 * * *"
	}
	sched, err := cronParser.Parse(config.Expr)
	if err != nil {
		return nil, fmt.Errorf("device: invalid rollover schedule %q: %w", config.Expr, err)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Scheduler{
		store:  store,
		config: config,
		sched:  sched,
		logger: config.Logger.With("component", "device.rollover"),
	}, nil
}

// Start runs the rollover loop in a background goroutine until ctx is
// cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop cancels the rollover loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	for {
		now := time.Now()
		next := s.sched.Next(now)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if s.config.Retain <= 0 {
		return
	}
	cutoff := time.Now().Add(-s.config.Retain)
	pruned, err := s.store.PruneStatsOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("stats rollover failed", "error", err)
		return
	}
	if pruned > 0 {
		s.logger.Info("stats rollover pruned old entries", "count", pruned)
	}
}
