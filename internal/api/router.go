// Package api provides the HTTP handlers for the analytics service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"marketdash/internal/analytics"
	"marketdash/internal/cache"
	"marketdash/internal/logger"
	"marketdash/internal/model"
)

// RequestIDHeader carries the request trace ID in and out.
const RequestIDHeader = "X-Request-ID"

// NewRouter sets up the HTTP routes for the analytics API. mount registers
// additional routes on the same mux behind the same middleware.
func NewRouter(svc *analytics.Service, exchanges []string, mount ...func(*http.ServeMux)) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"exchanges": exchanges,
			"endpoints": analytics.Endpoints,
		})
	})

	mux.HandleFunc("GET /api/v1/analytics/"+analytics.EndpointHeatmap, serveEndpoint(svc.Heatmap))
	mux.HandleFunc("GET /api/v1/analytics/"+analytics.EndpointMVRV, serveEndpoint(svc.MVRV))
	mux.HandleFunc("GET /api/v1/analytics/"+analytics.EndpointPiCycle, serveEndpoint(svc.PiCycle))
	mux.HandleFunc("GET /api/v1/analytics/"+analytics.EndpointStockToFlow, serveEndpoint(svc.StockToFlow))
	mux.HandleFunc("GET /api/v1/analytics/"+analytics.EndpointTechnical, serveEndpoint(svc.Technical))

	for _, m := range mount {
		m(mux)
	}
	return Middleware(mux)
}

// Middleware adds CORS headers, answers preflight requests, attaches a
// request trace ID to the context and logs each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = logger.GenerateTraceID()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := logger.WithTraceID(r.Context(), id)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r.WithContext(ctx))

		logger.LogWithTrace(ctx, slog.LevelInfo, "[api] request",
			"method", r.Method,
			"path", r.URL.Path,
			"query", r.URL.RawQuery,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+RequestIDHeader)
	w.Header().Set("Access-Control-Expose-Headers", "X-Cache, X-Computed-At, "+RequestIDHeader)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrade take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// QueryFrom reads symbol, exchange and range (alias window) from the URL.
func QueryFrom(r *http.Request) analytics.Query {
	v := r.URL.Query()
	rng := v.Get("range")
	if rng == "" {
		rng = v.Get("window")
	}
	return analytics.Query{
		Symbol:   v.Get("symbol"),
		Exchange: v.Get("exchange"),
		Range:    rng,
	}
}

func serveEndpoint[T any](fetch func(context.Context, analytics.Query) (cache.Result[T], error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := fetch(r.Context(), QueryFrom(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if res.Hit {
			w.Header().Set("X-Cache", "HIT")
		} else {
			w.Header().Set("X-Cache", "MISS")
		}
		w.Header().Set("X-Computed-At", res.ComputedAt.UTC().Format(time.RFC3339))
		writeJSON(w, http.StatusOK, res.Value)
	}
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidParam):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrInsufficientData):
		return http.StatusNotFound
	case errors.Is(err, model.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.LogWithTrace(r.Context(), slog.LevelError, "[api] internal error", "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("[api] encode response failed", "error", err)
	}
}
