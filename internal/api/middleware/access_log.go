package middleware

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

type AccessLogConfig struct {
	// Quiet paths are only logged when they fail.
	Quiet []string
	// Requests slower than SlowThreshold carry "slow": true. Zero disables.
	SlowThreshold time.Duration
}

type accessLogEntry struct {
	Timestamp  string `json:"ts"`
	Method     string `json:"method"`
	Route      string `json:"route,omitempty"`
	Path       string `json:"path"`
	Status     int    `json:"status"`
	Bytes      int    `json:"bytes"`
	DurationMS int64  `json:"duration_ms"`
	Slow       bool   `json:"slow,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	ProjectID  string `json:"project_id,omitempty"`
	JobID      string `json:"job_id,omitempty"`
	RemoteAddr string `json:"remote_addr,omitempty"`
}

// AccessLog writes one JSON line per request.
func AccessLog(cfg AccessLogConfig) func(http.Handler) http.Handler {
	quiet := make(map[string]bool, len(cfg.Quiet))
	for _, p := range cfg.Quiet {
		quiet[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := wrap(w)

			next.ServeHTTP(sw, r)

			status := sw.Status()
			if quiet[r.URL.Path] && status < http.StatusBadRequest {
				return
			}

			elapsed := time.Since(start)
			entry := accessLogEntry{
				Timestamp:  start.UTC().Format(time.RFC3339Nano),
				Method:     r.Method,
				Route:      routePattern(r),
				Path:       r.URL.Path,
				Status:     status,
				Bytes:      sw.bytes,
				DurationMS: elapsed.Milliseconds(),
				Slow:       cfg.SlowThreshold > 0 && elapsed > cfg.SlowThreshold,
				RequestID:  GetRequestID(r.Context()),
				ProjectID:  chi.URLParam(r, "projectID"),
				JobID:      chi.URLParam(r, "jobID"),
				RemoteAddr: clientIP(r),
			}

			payload, err := json.Marshal(entry)
			if err != nil {
				log.Printf("access_log: marshal: %v", err)
				return
			}
			log.Println(string(payload))
		})
	}
}

// routePattern is the matched chi pattern, e.g. /projects/{projectID}/index.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return ""
	}
	return rctx.RoutePattern()
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
