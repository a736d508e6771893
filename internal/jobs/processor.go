package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cloo-solutions/repomem/internal/domain"
	"github.com/cloo-solutions/repomem/internal/telemetry"
)

const DefaultHeartbeatInterval = 30 * time.Second

// Broker is the part of the durable queue a processor consumes.
type Broker interface {
	Add(ctx context.Context, job *domain.QueueJob) error
	Claim(ctx context.Context, queue string, limit int, now time.Time) ([]*domain.QueueJob, error)
	Heartbeat(ctx context.Context, id string, now time.Time) error
	Complete(ctx context.Context, id string, result json.RawMessage, now time.Time) error
	Fail(ctx context.Context, job *domain.QueueJob, errMsg string, now time.Time) (bool, error)
}

// Handler executes one claimed job. The returned value is stored as the job result.
type Handler interface {
	Handle(ctx context.Context, job *domain.QueueJob) (any, error)
}

// HeartbeatObserver is implemented by handlers that need to react on every
// heartbeat of a running job, e.g. to pick up cancellation requests.
type HeartbeatObserver interface {
	OnHeartbeat(ctx context.Context, job *domain.QueueJob)
}

type HandlerFunc func(ctx context.Context, job *domain.QueueJob) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, job *domain.QueueJob) (any, error) {
	return f(ctx, job)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func isPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

type ProcessorConfig struct {
	Queue             string
	Concurrency       int
	HeartbeatInterval time.Duration
}

// QueueProcessor claims jobs of one queue and runs them concurrently.
type QueueProcessor struct {
	broker  Broker
	handler Handler
	cfg     ProcessorConfig
	now     func() time.Time

	mu       sync.Mutex
	inFlight int
	wg       sync.WaitGroup
}

func NewQueueProcessor(broker Broker, handler Handler, cfg ProcessorConfig) *QueueProcessor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	return &QueueProcessor{
		broker:  broker,
		handler: handler,
		cfg:     cfg,
		now:     time.Now,
	}
}

// ProcessJobs implements the JobProcessor interface. It never blocks on running jobs.
func (p *QueueProcessor) ProcessJobs(ctx context.Context) error {
	p.mu.Lock()
	free := p.cfg.Concurrency - p.inFlight
	p.mu.Unlock()
	if free <= 0 {
		return nil
	}

	claimed, err := p.broker.Claim(ctx, p.cfg.Queue, free, p.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to claim %s jobs: %w", p.cfg.Queue, err)
	}
	if len(claimed) == 0 {
		return nil
	}
	log.Printf("jobs: claimed %d %s job(s)", len(claimed), p.cfg.Queue)

	for _, job := range claimed {
		p.mu.Lock()
		p.inFlight++
		p.mu.Unlock()
		p.wg.Add(1)
		go func(job *domain.QueueJob) {
			defer func() {
				p.mu.Lock()
				p.inFlight--
				p.mu.Unlock()
				p.wg.Done()
			}()
			p.run(ctx, job)
		}(job)
	}
	return nil
}

// InFlight returns the number of jobs currently executing.
func (p *QueueProcessor) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// Wait blocks until every started job returned.
func (p *QueueProcessor) Wait() {
	p.wg.Wait()
}

func (p *QueueProcessor) run(ctx context.Context, job *domain.QueueJob) {
	ctx, span := telemetry.StartSpan(ctx, "jobs."+p.cfg.Queue, telemetry.SpanAttributes{
		JobID:     job.ID,
		Operation: job.Name,
	})
	defer span.End()

	jobCtx, cancel := context.WithCancel(ctx)
	stopBeat := p.startHeartbeat(jobCtx, job)
	result, err := p.safeHandle(jobCtx, job)
	stopBeat()
	cancel()

	// bookkeeping must land even if the worker is shutting down
	bg := context.WithoutCancel(ctx)
	now := p.now().UTC()

	if err != nil {
		span.SetError(err)
		if isPermanent(err) {
			job.Attempts = job.MaxAttempts
		}
		retry, failErr := p.broker.Fail(bg, job, err.Error(), now)
		if failErr != nil {
			log.Printf("jobs: failed to record failure of %s job %s: %v", p.cfg.Queue, job.ID, failErr)
			return
		}
		if retry {
			log.Printf("jobs: %s job %s failed (attempt %d/%d), retrying: %v", p.cfg.Queue, job.ID, job.Attempts, job.MaxAttempts, err)
			return
		}
		log.Printf("jobs: %s job %s failed permanently: %v", p.cfg.Queue, job.ID, err)
		telemetry.CaptureError(ctx, err)
		if !isPermanent(err) {
			p.reschedule(bg, job, now)
		}
		return
	}

	var raw json.RawMessage
	if result != nil {
		if raw, err = json.Marshal(result); err != nil {
			log.Printf("jobs: failed to encode result of %s job %s: %v", p.cfg.Queue, job.ID, err)
			raw = nil
		}
	}
	if err := p.broker.Complete(bg, job.ID, raw, now); err != nil {
		log.Printf("jobs: failed to complete %s job %s: %v", p.cfg.Queue, job.ID, err)
		return
	}
	p.reschedule(bg, job, now)
}

func (p *QueueProcessor) safeHandle(ctx context.Context, job *domain.QueueJob) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return p.handler.Handle(ctx, job)
}

// reschedule queues the next occurrence of a repeatable job.
func (p *QueueProcessor) reschedule(ctx context.Context, job *domain.QueueJob, now time.Time) {
	if job.RepeatEvery <= 0 {
		return
	}
	next := &domain.QueueJob{
		Queue:       job.Queue,
		Name:        job.Name,
		DedupKey:    job.DedupKey,
		Payload:     job.Payload,
		Priority:    job.Priority,
		MaxAttempts: job.MaxAttempts,
		BackoffMs:   job.BackoffMs,
		RepeatEvery: job.RepeatEvery,
		RunAt:       now.Add(job.RepeatEvery),
	}
	err := p.broker.Add(ctx, next)
	switch {
	case errors.Is(err, domain.ErrDuplicateQueueJob):
		// a newer schedule replaced this one
	case err != nil:
		log.Printf("jobs: failed to reschedule %s job %s: %v", p.cfg.Queue, job.ID, err)
	}
}

func (p *QueueProcessor) startHeartbeat(ctx context.Context, job *domain.QueueJob) func() {
	observer, _ := p.handler.(HeartbeatObserver)
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(p.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.broker.Heartbeat(ctx, job.ID, p.now().UTC()); err != nil && ctx.Err() == nil {
					log.Printf("jobs: heartbeat of %s job %s failed: %v", p.cfg.Queue, job.ID, err)
				}
				if observer != nil {
					observer.OnHeartbeat(ctx, job)
				}
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}
