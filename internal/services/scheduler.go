package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fintrack/internal/core"
)

// SchedulerConfig holds configuration for the recurring scheduler loop
type SchedulerConfig struct {
	// Interval is how often due rules are processed (default: 1h)
	Interval time.Duration

	// CatchUpRounds bounds how many ProcessDue calls one tick makes while
	// rules keep producing transactions (default: 12)
	CatchUpRounds int
}

// DefaultSchedulerConfig returns sensible defaults
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:      time.Hour,
		CatchUpRounds: 12,
	}
}

// dueProcessor is the part of RecurringProcessor the loop drives.
type dueProcessor interface {
	ProcessDue(ctx context.Context, asOf core.Date) (*ProcessResult, error)
}

// Scheduler runs ProcessDue on a ticker until stopped.
type Scheduler struct {
	processor dueProcessor
	config    SchedulerConfig
	now       func() core.Date

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	last    *ProcessResult
}

func NewScheduler(processor dueProcessor, config SchedulerConfig) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.CatchUpRounds <= 0 {
		config.CatchUpRounds = defaults.CatchUpRounds
	}
	return &Scheduler{
		processor: processor,
		config:    config,
		now:       core.Today,
	}
}

// Start begins the processing loop. Returns an error if already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.runLoop(ctx)

	slog.InfoContext(ctx, "Recurring scheduler started",
		"interval", s.config.Interval,
		"catch_up_rounds", s.config.CatchUpRounds)
	return nil
}

// Stop signals the loop and waits for the current round to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Recurring scheduler stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Recurring scheduler stop timed out")
		return ctx.Err()
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

// Run starts the loop and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.Stop(shutdownCtx)
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastResult returns the result of the most recent round, or nil before the first.
func (s *Scheduler) LastResult() *ProcessResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Scheduler) runLoop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Process immediately on startup
	s.Tick(ctx)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick processes due rules, repeating while rules that fell behind still
// produce transactions, up to CatchUpRounds calls.
func (s *Scheduler) Tick(ctx context.Context) *ProcessResult {
	asOf := s.now()
	total := &ProcessResult{AsOf: asOf}

	for round := 0; round < s.config.CatchUpRounds; round++ {
		if ctx.Err() != nil {
			break
		}
		result, err := s.processor.ProcessDue(ctx, asOf)
		if err != nil {
			slog.ErrorContext(ctx, "Recurring processing failed", "error", err, "round", round)
			break
		}
		total.Created = append(total.Created, result.Created...)
		total.Failures = append(total.Failures, result.Failures...)
		total.Deactivated = append(total.Deactivated, result.Deactivated...)
		if len(result.Created) == 0 {
			break
		}
	}

	if len(total.Created) > 0 || len(total.Failures) > 0 || len(total.Deactivated) > 0 {
		slog.InfoContext(ctx, "Recurring scheduler round complete",
			"as_of", asOf.String(),
			"created", len(total.Created),
			"failed", len(total.Failures),
			"deactivated", len(total.Deactivated),
			"next_check", time.Now().Add(s.config.Interval).Format("15:04:05"))
	}

	s.mu.Lock()
	s.last = total
	s.mu.Unlock()
	return total
}
