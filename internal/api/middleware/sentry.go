package middleware

import (
	"fmt"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
)

var routeTags = map[string]string{
	"project_id": "projectID",
	"job_id":     "jobID",
}

var spanStatusByCode = map[int]sentry.SpanStatus{
	http.StatusBadRequest:          sentry.SpanStatusInvalidArgument,
	http.StatusUnauthorized:        sentry.SpanStatusUnauthenticated,
	http.StatusForbidden:           sentry.SpanStatusPermissionDenied,
	http.StatusNotFound:            sentry.SpanStatusNotFound,
	http.StatusConflict:            sentry.SpanStatusAlreadyExists,
	http.StatusUnprocessableEntity: sentry.SpanStatusFailedPrecondition,
	http.StatusTooManyRequests:     sentry.SpanStatusResourceExhausted,
	499:                            sentry.SpanStatusCanceled,
	http.StatusNotImplemented:      sentry.SpanStatusUnimplemented,
	http.StatusServiceUnavailable:  sentry.SpanStatusUnavailable,
	http.StatusGatewayTimeout:      sentry.SpanStatusDeadlineExceeded,
}

// SentryMiddleware runs each request in an http.server transaction on a cloned hub.
// The transaction is renamed to the chi route once routing resolved, and tagged
// with the project and job it touched. Panics are reported and re-raised.
func SentryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub := sentry.GetHubFromContext(r.Context())
		if hub == nil {
			hub = sentry.CurrentHub().Clone()
		}

		options := []sentry.SpanOption{
			sentry.WithOpName("http.server"),
			sentry.WithTransactionSource(sentry.SourceURL),
		}
		if trace := r.Header.Get(sentry.SentryTraceHeader); trace != "" {
			options = append(options, sentry.ContinueFromHeaders(trace, r.Header.Get(sentry.SentryBaggageHeader)))
		}

		tx := sentry.StartTransaction(r.Context(), r.Method+" "+r.URL.Path, options...)
		defer tx.Finish()

		r = r.WithContext(sentry.SetHubOnContext(tx.Context(), hub))
		hub.Scope().SetRequest(r)
		if id := GetRequestID(r.Context()); id != "" {
			hub.Scope().SetTag("request_id", id)
			tx.SetTag("request_id", id)
		}

		defer func() {
			if err := recover(); err != nil {
				tx.Status = sentry.SpanStatusInternalError
				hub.RecoverWithContext(r.Context(), err)
				panic(err)
			}
		}()

		sw := wrap(w)
		next.ServeHTTP(sw, r)

		if pattern := routePattern(r); pattern != "" {
			tx.Name = r.Method + " " + pattern
			tx.Source = sentry.SourceRoute
		}
		for tag, param := range routeTags {
			if v := chi.URLParam(r, param); v != "" {
				hub.Scope().SetTag(tag, v)
				tx.SetTag(tag, v)
			}
		}

		status := sw.Status()
		tx.Status = spanStatus(status)
		tx.SetData("http.response.status_code", status)
		if status >= http.StatusInternalServerError {
			hub.CaptureMessage(fmt.Sprintf("HTTP %d %s", status, tx.Name))
		}
	})
}

func spanStatus(code int) sentry.SpanStatus {
	if s, ok := spanStatusByCode[code]; ok {
		return s
	}
	switch {
	case code < http.StatusBadRequest:
		return sentry.SpanStatusOK
	case code < http.StatusInternalServerError:
		return sentry.SpanStatusInvalidArgument
	default:
		return sentry.SpanStatusInternalError
	}
}
