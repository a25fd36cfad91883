// Package scheduler runs the expired-session sweep on a cron schedule. The
// session store never schedules itself.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"keygate/internal/metrics"

	"github.com/robfig/cron/v3"
)

// DefaultSpec runs the sweep once an hour.
const DefaultSpec = "@hourly"

const sweepTimeout = time.Minute

// Sweeper removes expired sessions and reports how many it removed.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

type Scheduler struct {
	sweeper Sweeper
	spec    string
	metrics *metrics.Metrics
	logger  *slog.Logger
	c       *cron.Cron
}

// New validates spec and returns a stopped Scheduler.
func New(sweeper Sweeper, spec string, m *metrics.Metrics, logger *slog.Logger) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSpec
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		sweeper: sweeper,
		spec:    spec,
		metrics: m,
		logger:  logger.With("component", "scheduler"),
		c:       cron.New(),
	}
	if _, err := s.c.AddFunc(spec, s.RunSweep); err != nil {
		return nil, fmt.Errorf("error scheduling session sweep %q: %w", spec, err)
	}
	return s, nil
}

// RunSweep performs one sweep. Errors are logged; the next tick retries.
func (s *Scheduler) RunSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	removed, err := s.sweeper.Sweep(ctx)
	if err != nil {
		s.logger.Error("Error sweeping expired sessions", "error", err)
		return
	}
	s.metrics.SessionsSwept(removed)
	s.logger.Info("Swept expired sessions", "removed", removed)
}

func (s *Scheduler) Start() {
	s.logger.Info("Starting session sweep", "spec", s.spec)
	s.c.Start()
}

// Stop stops the cron and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
}
