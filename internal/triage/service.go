package triage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/semaphore"

	"github.com/linnemanlabs/courier/internal/email"
)

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrServiceClosed = errors.New("triage service closed")
)

const notifyTimeout = 10 * time.Second

// SubmitResult is the outcome of submitting a batch.
type SubmitResult struct {
	JobID      string `json:"job_id"`
	EmailCount int    `json:"email_count"`
}

// Notifier receives the snapshot of every job that reaches a terminal state.
type Notifier interface {
	Send(ctx context.Context, snap Snapshot) error
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets the completion notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithMetrics records job metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithMaxConcurrentJobs bounds how many controllers run at once. Jobs over
// the limit wait in the initialized state.
func WithMaxConcurrentJobs(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithJobTTL evicts terminal jobs older than ttl, checking every interval.
// A zero interval defaults to a quarter of ttl.
func WithJobTTL(ttl, interval time.Duration) Option {
	return func(s *Service) {
		s.ttl = ttl
		s.sweepEvery = interval
	}
}

// Service is the job registry: it owns every job's Context, runs the
// controller for it in the background and answers status queries.
type Service struct {
	store      JobStore
	controller *Controller
	logger     log.Logger
	notifier   Notifier
	metrics    *Metrics
	sem        *semaphore.Weighted
	ttl        time.Duration
	sweepEvery time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelCauseFunc
	closed  bool
	wg      sync.WaitGroup
	stop    chan struct{}
}

// NewService creates a triage service.
func NewService(store JobStore, controller *Controller, logger log.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	s := &Service{
		store:      store,
		controller: controller,
		logger:     logger,
		cancels:    make(map[string]context.CancelCauseFunc),
		stop:       make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}

	if s.ttl > 0 {
		if s.sweepEvery <= 0 {
			s.sweepEvery = max(s.ttl/4, time.Second)
		}
		s.wg.Add(1)
		go s.sweepLoop()
	}
	return s
}

// Submit registers a batch and starts triage in the background. It returns
// as soon as the job is stored.
func (s *Service) Submit(ctx context.Context, records []email.Record) (*SubmitResult, error) {
	id := ulid.Make().String()

	tc, err := NewContext(id, records...)
	if err != nil {
		s.metrics.observeSubmit("rejected")
		return nil, err
	}

	job := &Job{ID: id, CreatedAt: time.Now(), Context: tc}

	// detach from the request; the job keeps its own cancel func
	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel(ErrServiceClosed)
		return nil, ErrServiceClosed
	}
	if err := s.store.Put(ctx, job); err != nil {
		s.mu.Unlock()
		cancel(err)
		s.metrics.observeSubmit("error")
		return nil, err
	}
	s.cancels[id] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	s.metrics.observeSubmit("accepted")
	go s.runJob(runCtx, job)

	return &SubmitResult{JobID: id, EmailCount: len(records)}, nil
}

// Status returns the current snapshot of a job.
func (s *Service) Status(ctx context.Context, id string) (Snapshot, error) {
	job, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	if !ok {
		return Snapshot{}, ErrJobNotFound
	}
	return job.Context.Snapshot(), nil
}

// Cancel stops a queued or running job. The job ends in the error state.
func (s *Service) Cancel(ctx context.Context, id string) error {
	job, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrJobNotFound
	}
	if job.Context.Stage().Terminal() {
		return ErrJobFinished
	}

	s.mu.Lock()
	cancel, running := s.cancels[id]
	s.mu.Unlock()

	if running {
		cancel(ErrJobCancelled)
		return nil
	}
	// goroutine already gone; mark it directly
	job.Context.Fail(ErrJobCancelled)
	return nil
}

// List returns snapshots of all jobs, newest first.
func (s *Service) List(ctx context.Context) ([]Snapshot, error) {
	jobs, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Context.Snapshot())
	}
	return out, nil
}

// Sweep removes terminal jobs that completed before now minus the TTL and
// returns how many were removed.
func (s *Service) Sweep(ctx context.Context, now time.Time) (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	jobs, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := now.Add(-s.ttl)
	var n int
	for _, j := range jobs {
		snap := j.Context.Snapshot()
		if !snap.Terminal() || snap.CompletedAt.After(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, j.ID); err != nil {
			return n, err
		}
		n++
	}
	s.metrics.evicted(n)
	return n, nil
}

// Close stops the sweeper, cancels running jobs and waits for them to exit.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.stop)
	for _, cancel := range s.cancels {
		cancel(ErrServiceClosed)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Service) runJob(ctx context.Context, job *Job) {
	defer s.wg.Done()
	defer s.forget(job.ID)

	L := s.logger.With("job_id", job.ID)
	ctx = log.WithContext(ctx, L)

	if s.sem != nil {
		s.metrics.queued(1)
		err := s.sem.Acquire(ctx, 1)
		s.metrics.queued(-1)
		if err != nil {
			cause := context.Cause(ctx)
			if cause == nil {
				cause = err
			}
			job.Context.Fail(cause)
			L.Warn(ctx, "job cancelled while queued", "reason", cause.Error())
			s.finish(ctx, job, 0)
			return
		}
		defer s.sem.Release(1)
	}

	s.metrics.running(1)
	defer s.metrics.running(-1)

	start := time.Now()
	L.Info(ctx, "triage job started", "emails", len(job.Context.Emails()))
	if err := s.controller.Run(ctx, job.Context); err != nil {
		L.Warn(ctx, "triage job failed", "error", err.Error())
	}
	s.finish(ctx, job, time.Since(start))
}

func (s *Service) finish(ctx context.Context, job *Job, d time.Duration) {
	snap := job.Context.Snapshot()
	s.metrics.observeJob(snap.Status, d)

	if s.notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := s.notifier.Send(nctx, snap); err != nil {
		s.logger.Warn(ctx, "job notification failed", "job_id", job.ID, "error", err.Error())
	}
}

func (s *Service) forget(id string) {
	s.mu.Lock()
	cancel, ok := s.cancels[id]
	delete(s.cancels, id)
	s.mu.Unlock()
	if ok {
		cancel(nil)
	}
}

func (s *Service) sweepLoop() {
	defer s.wg.Done()

	t := time.NewTicker(s.sweepEvery)
	defer t.Stop()

	ctx := context.Background()
	for {
		select {
		case <-s.stop:
			return
		case now := <-t.C:
			n, err := s.Sweep(ctx, now)
			if err != nil {
				s.logger.Error(ctx, err, "job sweep failed")
				continue
			}
			if n > 0 {
				s.logger.Info(ctx, "evicted expired jobs", "count", n)
			}
		}
	}
}
