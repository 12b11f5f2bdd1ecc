// Package scheduler runs periodic history refreshes on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Refresher reloads remote state.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Scheduler fires a Refresher on a cron schedule. A run that is still in
// progress when the next tick arrives causes that tick to be skipped.
type Scheduler struct {
	target   Refresher
	schedule string
	timeout  time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field, plus descriptors such as
// "@every 5m".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate reports whether schedule parses.
func Validate(schedule string) error {
	if _, err := cronParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return nil
}

// New creates a Scheduler that refreshes target on schedule. Each run is
// bounded by timeout; zero means one minute.
func New(target Refresher, schedule string, timeout time.Duration) *Scheduler {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Scheduler{
		target:   target,
		schedule: schedule,
		timeout:  timeout,
		logger:   slog.Default(),
	}
}

// Start registers the refresh job and starts the cron ticker.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(s.schedule, s.fire); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", s.schedule, err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("scheduled history refresh", "schedule", s.schedule)
	return nil
}

func (s *Scheduler) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	s.logger.Debug("scheduled refresh firing")
	if err := s.target.Refresh(ctx); err != nil {
		s.logger.Warn("scheduled refresh failed", "error", err)
	}
}

// Stop stops the cron ticker and waits for a running refresh to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}
