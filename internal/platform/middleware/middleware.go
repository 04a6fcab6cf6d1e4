// Copyright (c) 2026 Decorly. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package middleware provides the cross-cutting HTTP processing chain.

It acts as a series of decorators around the standard http.Handler, injecting
traceability, safety, and coarse traffic shaping into every request.

Standard Stack:

  - Trace: RequestID generation for log correlation.
  - Proxy: Forwarded client address, only behind a trusted proxy.
  - Log: Structured request logging (slog).
  - Shape: Per-address token bucket ahead of the per-route guards.
  - Safe: Panic recovery to prevent server crashes.
  - CORS: Credentialed cross-origin access for the Decorly front-ends.

Per-route authentication guards are not middleware; they are pipeline stages
declared next to each route.
*/
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"golang.org/x/time/rate"

	"github.com/taibuivan/decorly/internal/platform/apperr"
	"github.com/taibuivan/decorly/internal/platform/constants"
	"github.com/taibuivan/decorly/internal/platform/ctxutil"
	requestutil "github.com/taibuivan/decorly/internal/platform/request"
	"github.com/taibuivan/decorly/internal/platform/respond"
)

// # Request Tracing

// RequestID attaches a correlation ID to every request for log tracing.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {

			// Honour a client supplied ID, otherwise mint a time-sortable one.
			requestID := request.Header.Get(constants.HeaderXRequestID)
			if requestID == "" || len(requestID) > 128 {
				if generated, err := uuid.NewV7(); err == nil {
					requestID = generated.String()
				} else {
					requestID = uuid.NewString()
				}
			}

			ctx := ctxutil.WithRequestID(request.Context(), requestID)
			writer.Header().Set(constants.HeaderXRequestID, requestID)

			next.ServeHTTP(writer, request.WithContext(ctx))
		})
	}
}

// # Proxy Awareness

// ProxyHeaders rewrites RemoteAddr from X-Forwarded-For / X-Real-IP when
// trusted is true. Untrusted deployments keep the socket address so clients
// cannot pick their own rate-limit bucket.
func ProxyHeaders(trusted bool) func(http.Handler) http.Handler {
	if !trusted {
		return func(next http.Handler) http.Handler { return next }
	}
	return handlers.ProxyHeaders
}

// # Request Logging

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (recorder *statusRecorder) WriteHeader(code int) {
	recorder.status = code
	recorder.ResponseWriter.WriteHeader(code)
}

// StructuredLogger logs every request status and latency.
// It also injects a request-specific logger into the context.
func StructuredLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			startTime := time.Now()

			requestLogger := logger.With(
				slog.String("request_id", ctxutil.GetRequestID(request.Context())),
				slog.String("method", request.Method),
				slog.String("path", request.URL.Path),
				slog.String("ip", requestutil.ClientAddr(request)),
			)

			ctx := ctxutil.WithLogger(request.Context(), requestLogger)
			wrappedWriter := &statusRecorder{ResponseWriter: writer, status: http.StatusOK}

			next.ServeHTTP(wrappedWriter, request.WithContext(ctx))

			logLevel := slog.LevelInfo
			if wrappedWriter.status >= 500 {
				logLevel = slog.LevelError
			} else if wrappedWriter.status >= 400 {
				logLevel = slog.LevelWarn
			}

			requestLogger.Log(ctx, logLevel, "http_request_finished",
				slog.Int("status", wrappedWriter.status),
				slog.Int64("latency_ms", time.Since(startTime).Milliseconds()),
				slog.String("user_agent", request.UserAgent()),
			)
		})
	}
}

// # Traffic Shaping

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPLimiter is a per-address token bucket. It protects the process from
// floods before any route-specific guard or store is touched.
type IPLimiter struct {
	mu      sync.Mutex
	clients map[string]*limiterEntry
	limit   rate.Limit
	burst   int
	ttl     time.Duration
}

// NewIPLimiter creates a limiter admitting rps requests per second per
// address, with the given burst.
func NewIPLimiter(rps float64, burst int) *IPLimiter {
	return &IPLimiter{
		clients: make(map[string]*limiterEntry),
		limit:   rate.Limit(rps),
		burst:   burst,
		ttl:     constants.RateLimitClientTTL,
	}
}

// Allow consumes one token for addr.
func (limiter *IPLimiter) Allow(addr string) bool {
	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	entry, found := limiter.clients[addr]
	if !found {
		entry = &limiterEntry{limiter: rate.NewLimiter(limiter.limit, limiter.burst)}
		limiter.clients[addr] = entry
	}
	entry.lastSeen = time.Now()

	return entry.limiter.Allow()
}

// Sweep forgets addresses idle for longer than the client TTL.
func (limiter *IPLimiter) Sweep() {
	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	for addr, entry := range limiter.clients {
		if time.Since(entry.lastSeen) > limiter.ttl {
			delete(limiter.clients, addr)
		}
	}
}

// Run sweeps idle addresses until ctx is cancelled.
func (limiter *IPLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(constants.RateLimitCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			limiter.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Middleware rejects requests once the caller's bucket is empty.
func (limiter *IPLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if !limiter.Allow(requestutil.ClientAddr(request)) {
			respond.Error(writer, request, apperr.RateLimited(time.Second))
			return
		}
		next.ServeHTTP(writer, request)
	})
}

// # Reliability & Safety

// PanicRecovery recovers from panics, logs the stack trace, and returns 500.
func PanicRecovery() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			defer func() {
				if recovered := recover(); recovered != nil {
					if recovered == http.ErrAbortHandler {
						panic(recovered)
					}

					stackTrace := make([]byte, 4096)
					length := runtime.Stack(stackTrace, false)

					ctxutil.GetLogger(request.Context()).ErrorContext(request.Context(), "panic_recovered",
						slog.Any("error", recovered),
						slog.String("stack", string(stackTrace[:length])),
					)

					respond.Error(writer, request, apperr.Internal(fmt.Errorf("panic: %v", recovered)))
				}
			}()

			next.ServeHTTP(writer, request)
		})
	}
}

// # Cross-Origin Resource Sharing

// AppConfig defines the behavior needed by the CORS middleware.
type AppConfig interface {
	IsDevelopment() bool
}

// CORS allows credentialed requests from Decorly origins. Development accepts
// any origin; otherwise only *.decorly.app and extraOrigins (comma separated).
func CORS(cfg AppConfig, extraOrigins string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{})
	for _, origin := range strings.Split(extraOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			allowed[origin] = struct{}{}
		}
	}

	isAllowed := func(origin string) bool {
		if cfg.IsDevelopment() {
			return true
		}
		if _, ok := allowed[origin]; ok {
			return true
		}
		return origin == "https://decorly.app" || strings.HasSuffix(origin, ".decorly.app")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			origin := request.Header.Get(constants.HeaderOrigin)
			if origin == "" {
				next.ServeHTTP(writer, request)
				return
			}

			if isAllowed(origin) {
				header := writer.Header()
				header.Set("Access-Control-Allow-Origin", origin)
				header.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
				header.Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, X-Request-ID, "+constants.HeaderCSRFToken)
				header.Set("Access-Control-Expose-Headers", "Content-Length, X-Request-ID, "+constants.HeaderRetryAfter)
				header.Set("Access-Control-Allow-Credentials", "true")
				header.Set("Access-Control-Max-Age", "300")
				header.Add("Vary", constants.HeaderOrigin)
			}

			if request.Method == http.MethodOptions {
				writer.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(writer, request)
		})
	}
}
