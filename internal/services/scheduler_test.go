package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"fintrack/internal/core"
)

// scriptedProcessor returns one created transaction per call until budget runs out.
type scriptedProcessor struct {
	mu     sync.Mutex
	calls  int
	budget int
	err    error
}

func (p *scriptedProcessor) ProcessDue(_ context.Context, asOf core.Date) (*ProcessResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	result := &ProcessResult{AsOf: asOf}
	if p.budget > 0 {
		p.budget--
		result.Created = []core.Transaction{{ID: "tx", Date: asOf}}
	}
	return result, nil
}

func (p *scriptedProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestDefaultSchedulerConfig(t *testing.T) {
	config := DefaultSchedulerConfig()
	if config.Interval != time.Hour {
		t.Errorf("expected Interval 1h, got %v", config.Interval)
	}
	if config.CatchUpRounds != 12 {
		t.Errorf("expected CatchUpRounds 12, got %d", config.CatchUpRounds)
	}

	s := NewScheduler(&scriptedProcessor{}, SchedulerConfig{})
	if s.config != config {
		t.Errorf("zero config should fall back to defaults, got %+v", s.config)
	}
}

func TestScheduler_Tick(t *testing.T) {
	tests := []struct {
		name        string
		budget      int
		rounds      int
		err         error
		wantCalls   int
		wantCreated int
	}{
		{"nothing due", 0, 12, nil, 1, 0},
		{"catches up until idle", 3, 12, nil, 4, 3},
		{"bounded by rounds", 30, 5, nil, 5, 5},
		{"error stops the tick", 3, 12, errors.New("store down"), 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &scriptedProcessor{budget: tt.budget, err: tt.err}
			s := NewScheduler(p, SchedulerConfig{Interval: time.Hour, CatchUpRounds: tt.rounds})
			s.now = func() core.Date { return core.NewDate(2024, 3, 1) }

			result := s.Tick(context.Background())
			if p.callCount() != tt.wantCalls {
				t.Errorf("ProcessDue calls = %d, want %d", p.callCount(), tt.wantCalls)
			}
			if len(result.Created) != tt.wantCreated {
				t.Errorf("created = %d, want %d", len(result.Created), tt.wantCreated)
			}
			if s.LastResult() != result {
				t.Error("LastResult() should return the latest tick")
			}
		})
	}
}

func TestScheduler_StartStop(t *testing.T) {
	p := &scriptedProcessor{}
	s := NewScheduler(p, SchedulerConfig{Interval: 10 * time.Millisecond})

	if s.IsRunning() {
		t.Fatal("scheduler should not be running initially")
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop should not error when not running: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(ctx); err == nil {
		t.Error("expected error when starting already running scheduler")
	}

	deadline := time.Now().Add(2 * time.Second)
	for p.callCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if p.callCount() < 2 {
		t.Errorf("expected the ticker to drive ProcessDue, got %d calls", p.callCount())
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if s.IsRunning() {
		t.Error("scheduler should not be running after Stop")
	}
}

func TestScheduler_RunReturnsOnCancel(t *testing.T) {
	s := NewScheduler(&scriptedProcessor{}, SchedulerConfig{Interval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
