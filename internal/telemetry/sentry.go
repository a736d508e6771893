// Package telemetry wraps Sentry tracing and error reporting for indexing runs,
// queue jobs, memory operations and searches.
package telemetry

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/cloo-solutions/repomem/internal/domain"
)

const (
	serviceName  = "repomem"
	flushTimeout = 5 * time.Second
)

type Config struct {
	DSN              string
	Environment      string
	TracesSampleRate float64
	Debug            bool
}

// Init configures the global Sentry client. Without a DSN it returns a no-op
// flush; an init failure is logged and also degrades to a no-op.
func Init(cfg Config) (func(), error) {
	if cfg.DSN == "" {
		return func() {}, nil
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.TracesSampleRate == 0 {
		cfg.TracesSampleRate = 1.0
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		EnableTracing:    true,
		TracesSampleRate: cfg.TracesSampleRate,
		TracesSampler:    sampler(cfg.TracesSampleRate),
		Debug:            cfg.Debug,
		ServerName:       serviceName,
	})
	if err != nil {
		log.Printf("sentry: failed to initialize (continuing without tracing): %v", err)
		return func() {}, nil
	}

	log.Printf("sentry: tracing initialized (environment: %s, sample_rate: %.2f)", cfg.Environment, cfg.TracesSampleRate)
	return func() { sentry.Flush(flushTimeout) }, nil
}

// sampler drops health probes and keeps children on their parent's decision.
func sampler(rate float64) sentry.TracesSampler {
	return func(ctx sentry.SamplingContext) float64 {
		if strings.HasSuffix(ctx.Span.Name, " /health") {
			return 0
		}
		if ctx.Parent != nil {
			if ctx.Parent.Sampled.Bool() {
				return 1
			}
			return 0
		}
		return rate
	}
}

// SpanAttributes are the tags every repomem span may carry.
type SpanAttributes struct {
	ProjectID string
	JobID     string
	Scope     string
	Source    string
	Operation string
}

// Span is a nil-safe handle over a sentry span.
type Span struct {
	inner *sentry.Span
}

func (s *Span) End() {
	if s.inner != nil {
		s.inner.Finish()
	}
}

// SetError sets the span status from the error's domain code.
// Reporting the error itself is left to CaptureError.
func (s *Span) SetError(err error) {
	if s.inner == nil || err == nil {
		return
	}
	s.inner.Status = StatusFor(err)
	s.inner.SetData("error", err.Error())
}

// SetData attaches a counter or detail such as vectors_added.
func (s *Span) SetData(key string, value any) {
	if s.inner != nil {
		s.inner.SetData(key, value)
	}
}

// StartSpan opens a child of the span in ctx, or a new transaction when there is none.
func StartSpan(ctx context.Context, name string, attrs SpanAttributes) (context.Context, *Span) {
	var span *sentry.Span
	if parent := sentry.SpanFromContext(ctx); parent != nil {
		span = parent.StartChild(name)
	} else {
		span = sentry.StartSpan(ctx, name, sentry.WithTransactionName(name))
	}

	if attrs.ProjectID != "" {
		span.SetTag("project_id", attrs.ProjectID)
	}
	if attrs.JobID != "" {
		span.SetTag("job_id", attrs.JobID)
	}
	if attrs.Scope != "" {
		span.SetTag("scope", attrs.Scope)
	}
	if attrs.Source != "" {
		span.SetData("source", attrs.Source)
	}
	if attrs.Operation != "" {
		span.SetData("operation", attrs.Operation)
	}
	return span.Context(), &Span{inner: span}
}

// StatusFor maps domain error codes onto span statuses.
func StatusFor(err error) sentry.SpanStatus {
	if errors.Is(err, context.Canceled) {
		return sentry.SpanStatusCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return sentry.SpanStatusDeadlineExceeded
	}
	var de *domain.DomainError
	if !errors.As(err, &de) {
		return sentry.SpanStatusInternalError
	}
	switch de.Code {
	case domain.ErrCodeValidation:
		return sentry.SpanStatusInvalidArgument
	case domain.ErrCodeNotFound:
		return sentry.SpanStatusNotFound
	case domain.ErrCodeAlreadyExists, domain.ErrCodeConflict:
		return sentry.SpanStatusAlreadyExists
	case domain.ErrCodeUnauthorized:
		return sentry.SpanStatusUnauthenticated
	case domain.ErrCodeInvalidOperation:
		return sentry.SpanStatusFailedPrecondition
	case domain.ErrCodeUnavailable:
		return sentry.SpanStatusUnavailable
	default:
		return sentry.SpanStatusInternalError
	}
}

// CaptureError reports err on the hub in ctx, falling back to the global hub.
func CaptureError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
		return
	}
	sentry.CaptureException(err)
}
