// Package scheduler resumes ProcessRuns whose delay has elapsed. A cron
// schedule drives polling of a DelayQueue and due entries are resumed on a
// bounded worker pool.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/procflow/internal/telemetry"
	"github.com/rendis/procflow/pkg/schema"
)

// DefaultSpec polls every 30 seconds.
const DefaultSpec = "@every 30s"

// Resumer continues a ProcessRun after its delay. *process.Coordinator
// satisfies it.
type Resumer interface {
	ResumeDelay(ctx context.Context, processRunID string) (*schema.ProcessRun, error)
}

// Config wires a DelayScheduler.
type Config struct {
	Queue   DelayQueue
	Resumer Resumer
	// Spec is a robfig/cron schedule, DefaultSpec when empty.
	Spec    string
	Workers int
	Batch   int
	Metrics *telemetry.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// DelayScheduler polls the queue for due delays and resumes them.
type DelayScheduler struct {
	queue   DelayQueue
	resumer Resumer
	spec    string
	batch   int
	pool    *Pool
	metrics *telemetry.Metrics
	logger  *slog.Logger
	now     func() time.Time

	mu   sync.Mutex
	cron *cron.Cron

	inflightMu sync.Mutex
	inflight   map[string]struct{} // process run IDs being resumed
}

// New creates a DelayScheduler. The schedule is validated here.
func New(cfg Config) (*DelayScheduler, error) {
	if cfg.Queue == nil || cfg.Resumer == nil {
		return nil, fmt.Errorf("scheduler: queue and resumer are required")
	}
	spec := cfg.Spec
	if spec == "" {
		spec = DefaultSpec
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	s := &DelayScheduler{
		queue:    cfg.Queue,
		resumer:  cfg.Resumer,
		spec:     spec,
		batch:    cfg.Batch,
		pool:     NewPool(cfg.Workers),
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		now:      cfg.Now,
		inflight: make(map[string]struct{}),
	}
	if s.batch <= 0 {
		s.batch = 100
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s, nil
}

// Schedule forwards to the queue, so the scheduler can be handed to the
// process coordinator as its DelayQueue.
func (s *DelayScheduler) Schedule(ctx context.Context, processRunID string, at time.Time) error {
	return s.queue.Schedule(ctx, processRunID, at)
}

// Start runs one tick immediately, then polls on the cron schedule.
func (s *DelayScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}

	c := cron.New()
	if _, err := c.AddFunc(s.spec, func() { s.Tick(ctx) }); err != nil {
		return fmt.Errorf("add schedule %q: %w", s.spec, err)
	}
	s.cron = c

	s.Tick(ctx)
	c.Start()
	s.logger.Info("delay scheduler started", slog.String("spec", s.spec))
	return nil
}

// Stop halts polling and waits for running resumes.
func (s *DelayScheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return nil
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	s.pool.Close()
	s.logger.Info("delay scheduler stopped")
	return nil
}

// Tick resumes every due delay and returns how many resumes succeeded.
func (s *DelayScheduler) Tick(ctx context.Context) int {
	ids, err := s.queue.Due(ctx, s.now(), s.batch)
	if err != nil {
		s.logger.Error("failed to list due delays", slog.String("error", err.Error()))
		return 0
	}
	if len(ids) == 0 {
		return 0
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		resumed int
	)
	for _, id := range ids {
		if !s.tryAcquire(id) {
			continue // already being resumed
		}
		id := id
		wg.Add(1)
		err := s.pool.Submit(ctx, func(ctx context.Context) error {
			return s.resume(ctx, id)
		}, func(err error) {
			s.release(id)
			if err == nil {
				mu.Lock()
				resumed++
				mu.Unlock()
			}
			wg.Done()
		})
		if err != nil {
			s.release(id)
			wg.Done()
			s.logger.Warn("delay resume not submitted",
				slog.String("process_run_id", id),
				slog.String("error", err.Error()))
		}
	}
	wg.Wait()

	s.metrics.DelayDispatched(ctx, resumed)
	if resumed > 0 {
		s.logger.Info("resumed delayed processes", slog.Int("count", resumed))
	}
	return resumed
}

// resume continues one ProcessRun and settles its queue entry. Entries that
// can never resume are dropped; anything else stays queued for the next tick.
func (s *DelayScheduler) resume(ctx context.Context, id string) error {
	_, err := s.resumer.ResumeDelay(ctx, id)
	if err == nil || settled(err) {
		if rmErr := s.queue.Remove(ctx, id); rmErr != nil {
			s.logger.Warn("failed to remove delay",
				slog.String("process_run_id", id),
				slog.String("error", rmErr.Error()))
		}
	}
	if err != nil {
		s.logger.Warn("delay resume failed",
			slog.String("process_run_id", id),
			slog.String("error", err.Error()))
	}
	return err
}

// settled reports whether err means the entry is obsolete.
func settled(err error) bool {
	if schema.IsNotFound(err) {
		return true
	}
	var ee *schema.EngineError
	if !errors.As(err, &ee) || ee.Code != schema.ErrCodeInvalidState {
		return false
	}
	return ee.Details["reason"] == "not_waiting"
}

func (s *DelayScheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *DelayScheduler) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}
