package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// RouterDependencies collects handler dependencies.
type RouterDependencies struct {
	Health           HealthService
	API              *APIHandlers
	AllowedOrigins   []string
	AllowCredentials bool
}

// NewRouter wires the HTTP routes exposed by the ledger API.
func NewRouter(logger *slog.Logger, deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler(logger, deps.Health))

	if api := deps.API; api != nil {
		routes := map[string]http.HandlerFunc{
			"/accounts":      api.handleAccounts,
			"/accounts/":     api.handleAccount,
			"/transfers":     api.handleTransfers,
			"/deposits":      api.handleDeposits,
			"/withdrawals":   api.handleWithdrawals,
			"/audit":         api.handleAudit,
			"/audit/summary": api.handleAuditSummary,
		}
		for pattern, handler := range routes {
			mux.HandleFunc(pattern, handler)
		}
	}

	handler := loggingMiddleware(logger, recoveryMiddleware(logger, mux))
	if len(deps.AllowedOrigins) > 0 {
		handler = newCORSPolicy(deps.AllowedOrigins, deps.AllowCredentials).wrap(handler)
	}
	return handler
}

func healthHandler(logger *slog.Logger, health HealthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		payload := map[string]any{"status": "ok"}
		status := http.StatusOK
		if health != nil {
			if err := health.Probe(ctx); err != nil {
				logger.Error("health probe failed", "error", err)
				status = http.StatusServiceUnavailable
				payload["status"] = "degraded"
				payload["error"] = err.Error()
			}
		}
		respondJSON(w, status, payload)
	}
}

// loggingMiddleware logs one line per request; server errors are logged at
// warn level so they stand out from routine traffic.
func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := slog.LevelInfo
		if rec.status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		logger.Log(r.Context(), level, "request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.written,
			"actor", actorFrom(r),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				logger.Error("handler panicked", "panic", v, "path", r.URL.Path)
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

type responseRecorder struct {
	http.ResponseWriter
	status  int
	written int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.written += n
	return n, err
}

// corsPolicy answers pre-flight requests for whitelisted origins.
type corsPolicy struct {
	origins          map[string]struct{}
	allowAny         bool
	allowCredentials bool
}

func newCORSPolicy(allowedOrigins []string, allowCredentials bool) corsPolicy {
	p := corsPolicy{
		origins:          make(map[string]struct{}, len(allowedOrigins)),
		allowCredentials: allowCredentials,
	}
	for _, origin := range allowedOrigins {
		origin = strings.TrimSpace(origin)
		switch origin {
		case "":
		case "*":
			p.allowAny = true
		default:
			p.origins[origin] = struct{}{}
		}
	}
	return p
}

func (p corsPolicy) allows(origin string) bool {
	if origin == "" {
		return false
	}
	if p.allowAny {
		return true
	}
	_, ok := p.origins[origin]
	return ok
}

func (p corsPolicy) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if !p.allows(origin) {
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
		if p.allowCredentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+ActorHeader)
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Expose-Headers", "Retry-After")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
