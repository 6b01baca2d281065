// services/scheduler.go
package services

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// Sweeper runs the periodic clock sweep and the reward repair pass.
type Sweeper struct {
	matches  *MatchService
	rewards  *RewardService
	interval time.Duration
	clock    clockwork.Clock
	log      zerolog.Logger
	sched    gocron.Scheduler
}

func NewSweeper(matches *MatchService, rewards *RewardService, interval time.Duration, clock clockwork.Clock, log zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		matches:  matches,
		rewards:  rewards,
		interval: interval,
		clock:    clock,
		log:      log.With().Str("component", "sweeper").Logger(),
	}
}

// RunOnce expires stale challenges, starts due scheduled matches and credits
// any completed match still missing its rewards.
func (s *Sweeper) RunOnce(ctx context.Context) {
	res, err := s.matches.Sweep(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("[Scheduler] match sweep failed")
	} else if res.Expired > 0 || res.Started > 0 {
		s.log.Info().Int("expired", res.Expired).Int("started", res.Started).Msg("✅ match sweep")
	}

	repaired, err := s.rewards.ResumePending(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("[Scheduler] reward repair failed")
	} else if repaired > 0 {
		s.log.Warn().Int("matches", repaired).Msg("credited matches that were missing rewards")
	}
}

// Start schedules RunOnce every interval until Stop is called. Every run
// uses ctx.
func (s *Sweeper) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler(gocron.WithClock(s.clock))
	if err != nil {
		return eris.Wrap(err, "failed to create scheduler")
	}
	_, err = sched.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() { s.RunOnce(ctx) }),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return eris.Wrap(err, "failed to schedule sweep job")
	}
	s.sched = sched
	sched.Start()
	return nil
}

func (s *Sweeper) Stop() error {
	if s.sched == nil {
		return nil
	}
	return eris.Wrap(s.sched.Shutdown(), "failed to stop scheduler")
}
