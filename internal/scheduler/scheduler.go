package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one scheduled reconciliation pass.
type Job func(ctx context.Context) error

// Scheduler runs the monitor pass on a cron schedule in the configured
// timezone. One pass at a time: a tick that fires while the previous pass is
// still running is skipped, keeping the pipeline single-threaded.
type Scheduler struct {
	log      *zap.Logger
	cron     *cron.Cron
	location *time.Location
	running  chan struct{}
}

func New(log *zap.Logger, timezone string) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}
	running := make(chan struct{}, 1)
	running <- struct{}{}
	return &Scheduler{
		log:      log,
		cron:     cron.New(cron.WithLocation(loc)),
		location: loc,
		running:  running,
	}, nil
}

// Schedule registers a job under a standard five-field cron spec.
func (s *Scheduler) Schedule(spec string, name string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		select {
		case <-s.running:
		default:
			s.log.Warn("previous pass still running, skipping tick", zap.String("job", name))
			return
		}
		defer func() { s.running <- struct{}{} }()

		start := time.Now()
		s.log.Info("scheduled pass starting", zap.String("job", name))
		if err := job(context.Background()); err != nil {
			s.log.Error("scheduled pass failed", zap.String("job", name), zap.Error(err))
			return
		}
		s.log.Info("scheduled pass finished",
			zap.String("job", name),
			zap.Duration("took", time.Since(start)),
		)
	})
	if err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", zap.String("timezone", s.location.String()))
}

// Stop halts the cron loop and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}
