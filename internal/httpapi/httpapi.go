package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/EnZo1826/SmartPOS/internal/domain"
	"github.com/EnZo1826/SmartPOS/internal/metrics"
	"github.com/EnZo1826/SmartPOS/internal/service"
)

// maxPushBodyBytes bounds a push request body. Outbox batches are capped
// client-side well below this; the limit exists to shed hostile payloads.
const maxPushBodyBytes = 4 << 20

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	logger        *zap.Logger
	loginLimiter  *attemptLimiter
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		logger:        logger,
		loginLimiter:  newAttemptLimiter(10, time.Minute),
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.instrument("/healthz", a.handleHealth))
	mux.HandleFunc("/api/v1/auth/device", a.instrument("/api/v1/auth/device", a.handleDeviceLogin))
	mux.HandleFunc("/api/v1/sync/push", a.instrument("/api/v1/sync/push", a.requireAuth(a.handlePush)))
	mux.HandleFunc("/api/v1/sync/catalog", a.instrument("/api/v1/sync/catalog", a.requireAuth(a.handleCatalog)))
	mux.Handle("/metrics", promhttp.Handler())

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(a.logger, w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		device, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			writeError(a.logger, w, http.StatusUnauthorized, err)
			return
		}

		next(w, r.WithContext(service.WithDevice(r.Context(), device)))
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"version":     "2.0",
		"server_time": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleDeviceLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(a.logger, w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.DeviceLoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(a.logger, w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(a.logger, w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handlePush accepts a device outbox batch. The response is 200 even when
// every item failed: per-item outcomes live in the processed/failed lists,
// and a transport-level error would only make the device retry the same
// batch wholesale.
func (a *API) handlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}

	var req domain.PushBatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(a.logger, w, http.StatusBadRequest, err)
		return
	}

	resp := a.service.PushBatch(r.Context(), req.Batch)
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	since := time.Time{}
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(a.logger, w, http.StatusBadRequest, errors.New("since must be RFC3339"))
			return
		}
		since = parsed
	}
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))

	delta, err := a.service.PullCatalog(r.Context(), since, cursor)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrValidation) {
			status = http.StatusBadRequest
		}
		writeError(a.logger, w, status, err)
		return
	}

	writeJSON(w, http.StatusOK, delta)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, maxPushBodyBytes)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// instrument records the request counter, latency histogram, and an
// access log line. The route pattern is used as the path label so metric
// cardinality stays bounded.
func (a *API) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next(recorder, r)

		elapsed := time.Since(startedAt)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, statusClass(recorder.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		a.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", route),
			zap.Int("status", recorder.status),
			zap.Duration("elapsed", elapsed),
		)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func (a *API) writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(a.logger, w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic so store errors never leak to devices.
	msg := err.Error()
	if status >= 500 {
		logger.Error("internal error", zap.Int("status", status), zap.Error(err))
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
