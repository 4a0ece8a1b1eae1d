// Package scheduler runs the orchestrator's periodic passes: the automation
// pass that advances pending automated steps and the overdue pass that
// escalates running steps past their due time.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Default pass intervals.
const (
	DefaultAutomationInterval = 30 * time.Second
	DefaultOverdueInterval    = 5 * time.Minute
)

// Pass names, used for logging and in-flight dedup.
const (
	PassAutomation = "automation"
	PassOverdue    = "overdue"
)

// Passes is the interface the scheduler drives. Satisfied by engine.Orchestrator.
type Passes interface {
	RunAutomationPass(ctx context.Context) (int, error)
	RunOverduePass(ctx context.Context) (int, error)
}

// Config holds the pass intervals. Zero values use the defaults.
type Config struct {
	AutomationInterval time.Duration
	OverdueInterval    time.Duration
}

// Scheduler runs both passes on cron "@every" schedules.
type Scheduler struct {
	passes Passes
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup

	inflightMu sync.Mutex
	inflight   map[string]struct{} // passes currently executing (dedup)
}

// NewScheduler creates a new Scheduler.
func NewScheduler(passes Passes, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.AutomationInterval == 0 {
		cfg.AutomationInterval = DefaultAutomationInterval
	}
	if cfg.OverdueInterval == 0 {
		cfg.OverdueInterval = DefaultOverdueInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		passes:   passes,
		cfg:      cfg,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// Start registers both passes with a cron runner and runs each once immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}
	if s.cfg.AutomationInterval < 0 || s.cfg.OverdueInterval < 0 {
		return fmt.Errorf("scheduler intervals must be positive")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New()
	entries := []struct {
		name  string
		every time.Duration
		run   func(context.Context) (int, error)
	}{
		{PassAutomation, s.cfg.AutomationInterval, s.RunAutomation},
		{PassOverdue, s.cfg.OverdueInterval, s.RunOverdue},
	}
	for _, e := range entries {
		run := e.run
		if _, err := c.AddFunc(fmt.Sprintf("@every %s", e.every), func() { _, _ = run(runCtx) }); err != nil {
			cancel()
			return fmt.Errorf("schedule %s pass: %w", e.name, err)
		}
	}

	s.cron = c
	s.cancel = cancel
	c.Start()

	// Run an initial tick immediately.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _ = s.RunAutomation(runCtx)
		_, _ = s.RunOverdue(runCtx)
	}()

	s.logger.Info("scheduler started",
		slog.Duration("automation_interval", s.cfg.AutomationInterval),
		slog.Duration("overdue_interval", s.cfg.OverdueInterval),
	)
	return nil
}

// Stop cancels in-flight passes and waits for them to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return nil
	}

	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.cron = nil
	s.cancel = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// RunAutomation runs one automation pass now. Returns 0 without running when
// a previous automation pass is still executing.
func (s *Scheduler) RunAutomation(ctx context.Context) (int, error) {
	return s.run(ctx, PassAutomation, s.passes.RunAutomationPass)
}

// RunOverdue runs one overdue pass now, with the same dedup as RunAutomation.
func (s *Scheduler) RunOverdue(ctx context.Context) (int, error) {
	return s.run(ctx, PassOverdue, s.passes.RunOverduePass)
}

func (s *Scheduler) run(ctx context.Context, name string, pass func(context.Context) (int, error)) (int, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	if !s.tryAcquire(name) {
		s.logger.Debug("pass still running, skipping tick", slog.String("pass", name))
		return 0, nil
	}
	defer s.release(name)

	start := time.Now()
	n, err := pass(ctx)
	if err != nil {
		s.logger.Error("scheduler pass finished with errors",
			slog.String("pass", name),
			slog.Int("processed", n),
			slog.String("error", err.Error()),
		)
		return n, err
	}
	if n > 0 {
		s.logger.Info("scheduler pass",
			slog.String("pass", name),
			slog.Int("processed", n),
			slog.Duration("took", time.Since(start)),
		)
	}
	return n, nil
}

// tryAcquire returns true and marks the pass as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(name string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[name]; ok {
		return false
	}
	s.inflight[name] = struct{}{}
	return true
}

func (s *Scheduler) release(name string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, name)
}
