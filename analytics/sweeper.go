package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"printshop/analytics/metrics"
	"printshop/analytics/store"
)

// Sweeper closes sessions whose tab went away without delivering the
// end-of-session beacon. An idle session ends at its last activity.
type Sweeper struct {
	sessions store.SessionStore
	idle     time.Duration
	logger   *zap.Logger
	now      func() time.Time
	cron     *cron.Cron
}

func NewSweeper(sessions store.SessionStore, idle time.Duration, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		sessions: sessions,
		idle:     idle,
		logger:   logger.With(zap.String("system", "sweeper")),
		now:      func() time.Time { return time.Now().UTC() },
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DefaultLogger),
			cron.SkipIfStillRunning(cron.DefaultLogger),
		)),
	}
}

// Sweep runs one pass and returns the number of sessions ended.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	n, err := s.sessions.EndIdle(ctx, s.now().Add(-s.idle))
	if err != nil {
		return 0, fmt.Errorf("failed to end idle sessions: %w", err)
	}
	if n > 0 {
		metrics.SessionsEnded.WithLabelValues("sweeper").Add(float64(n))
		s.logger.Info("ended idle sessions", zap.Int64("count", n), zap.Duration("idle", s.idle))
	}
	return n, nil
}

// Start schedules Sweep with a standard cron spec or descriptor such as
// "@every 5m".
func (s *Sweeper) Start(schedule string) error {
	_, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	s.logger.Info("sweeper scheduled", zap.String("schedule", schedule))
	return nil
}

// Stop prevents new runs and waits for a running sweep up to ctx's deadline.
func (s *Sweeper) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}
