// Package retention periodically purges memory items older than the
// configured horizon.
package retention

import (
	"context"
	"errors"
	"time"

	"github.com/recall-labs/mnemo/pkg/memory"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSchedule runs one sweep per hour.
const DefaultSchedule = "@hourly"

const sweepTimeout = 5 * time.Minute

// Sweeper drives memory.Store.PurgeExpired on a cron schedule.
type Sweeper struct {
	store    *memory.Store
	horizon  time.Duration
	schedule string
	logger   zerolog.Logger
	cron     *cron.Cron
}

// New creates a sweeper. schedule accepts cron expressions and descriptors
// like "@hourly"; empty means DefaultSchedule.
func New(store *memory.Store, horizon time.Duration, schedule string, logger zerolog.Logger) (*Sweeper, error) {
	if store == nil {
		return nil, errors.New("retention: store is required")
	}
	if horizon <= 0 {
		return nil, errors.New("retention: horizon must be positive")
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Sweeper{
		store:    store,
		horizon:  horizon,
		schedule: schedule,
		logger:   logger.With().Str("component", "retention").Logger(),
	}, nil
}

// Start begins scheduled sweeps. Returns an error for an unparsable
// schedule.
func (s *Sweeper) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, s.sweep); err != nil {
		return err
	}
	s.cron = c
	c.Start()
	s.logger.Info().Str("schedule", s.schedule).Dur("horizon", s.horizon).Msg("Retention sweeps started")
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Retention sweeps stopped")
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if _, err := s.SweepNow(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Retention sweep failed")
	}
}

// SweepNow purges expired items immediately and returns how many were
// removed.
func (s *Sweeper) SweepNow(ctx context.Context) (int, error) {
	return s.store.PurgeExpired(ctx, s.horizon)
}
