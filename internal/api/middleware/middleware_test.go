package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prevOut, prevFlags := log.Writer(), log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	t.Cleanup(func() {
		log.SetOutput(prevOut)
		log.SetFlags(prevFlags)
	})
	return &buf
}

func TestAccessLog_RecordsRoute(t *testing.T) {
	buf := captureLog(t)

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(AccessLog(AccessLogConfig{}))
	r.Post("/projects/{projectID}/index", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"data":{}}`))
	})

	req := httptest.NewRequest(http.MethodPost, "/projects/api/index", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
	r.ServeHTTP(httptest.NewRecorder(), req)

	var entry accessLogEntry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, http.MethodPost, entry.Method)
	assert.Equal(t, "/projects/{projectID}/index", entry.Route)
	assert.Equal(t, "api", entry.ProjectID)
	assert.Equal(t, http.StatusAccepted, entry.Status)
	assert.Equal(t, 11, entry.Bytes)
	assert.Equal(t, "10.0.0.1", entry.RemoteAddr)
	assert.NotEmpty(t, entry.RequestID)
	assert.False(t, entry.Slow)
}

func TestAccessLog_QuietPaths(t *testing.T) {
	buf := captureLog(t)

	status := http.StatusOK
	h := AccessLog(AccessLogConfig{Quiet: []string{"/health"}})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Empty(t, buf.String())

	status = http.StatusServiceUnavailable
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Contains(t, buf.String(), `"status":503`)
}

func TestAccessLog_Slow(t *testing.T) {
	buf := captureLog(t)

	h := AccessLog(AccessLogConfig{SlowThreshold: time.Millisecond})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/search", nil))

	assert.Contains(t, buf.String(), `"slow":true`)
}

func TestLimitBody(t *testing.T) {
	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	h := LimitBody(8)(echo)

	t.Run("declared length over limit", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789")))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Contains(t, w.Body.String(), "request body exceeds 8 bytes")
	})

	t.Run("chunked body over limit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader("0123456789"))
		req.ContentLength = -1
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("within limit", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123")))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("delete is not limited", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/", strings.NewReader("0123456789")))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestRequestID_RejectsUnsafeHeader(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	for _, bad := range []string{"has space", "line\nbreak", strings.Repeat("a", 200)} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", bad)
		h.ServeHTTP(httptest.NewRecorder(), req)
		assert.NotEqual(t, bad, seen)
		assert.Len(t, seen, 26)
	}
}

func TestSpanStatus(t *testing.T) {
	assert.Equal(t, sentry.SpanStatusOK, spanStatus(http.StatusAccepted))
	assert.Equal(t, sentry.SpanStatusNotFound, spanStatus(http.StatusNotFound))
	assert.Equal(t, sentry.SpanStatusFailedPrecondition, spanStatus(http.StatusUnprocessableEntity))
	assert.Equal(t, sentry.SpanStatusInvalidArgument, spanStatus(http.StatusRequestEntityTooLarge))
	assert.Equal(t, sentry.SpanStatusUnavailable, spanStatus(http.StatusServiceUnavailable))
	assert.Equal(t, sentry.SpanStatusInternalError, spanStatus(http.StatusBadGateway))
}

func TestSentryMiddleware_PassesThrough(t *testing.T) {
	r := chi.NewRouter()
	r.Use(SentryMiddleware)
	r.Get("/jobs/{jobID}", func(w http.ResponseWriter, r *http.Request) {
		assert.NotNil(t, sentry.GetHubFromContext(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/j1", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}
