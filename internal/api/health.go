// Copyright (c) 2026 Decorly. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/taibuivan/decorly/internal/platform/respond"
)

const readinessTimeout = 3 * time.Second

// Check is one named readiness probe.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

type healthHandler struct {
	checks []Check
	logger *slog.Logger
}

type checkResult struct {
	Name  string `json:"name"`
	IsOK  bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type readinessReport struct {
	Status string        `json:"status"`
	Checks []checkResult `json:"checks"`
}

// NewHealthHandlers creates the /health and /ready handlers. Readiness runs
// every check; one failure reports the service as degraded.
func NewHealthHandlers(logger *slog.Logger, checks ...Check) (liveness, readiness http.HandlerFunc) {
	handler := &healthHandler{checks: checks, logger: logger}
	return handler.liveness, handler.readiness
}

// liveness handles GET /health.
func (handler *healthHandler) liveness(writer http.ResponseWriter, _ *http.Request) {
	respond.OK(writer, map[string]string{"status": "ok"})
}

// readiness handles GET /ready.
func (handler *healthHandler) readiness(writer http.ResponseWriter, request *http.Request) {
	ctx, cancel := context.WithTimeout(request.Context(), readinessTimeout)
	defer cancel()

	report := readinessReport{Status: "ready", Checks: make([]checkResult, 0, len(handler.checks))}
	httpStatus := http.StatusOK

	for _, check := range handler.checks {
		result := checkResult{Name: check.Name, IsOK: true}
		if err := check.Probe(ctx); err != nil {
			result.IsOK = false
			result.Error = err.Error()
			report.Status = "degraded"
			httpStatus = http.StatusServiceUnavailable
			handler.logger.Error("readiness_check_failed", slog.String("dependency", check.Name), slog.Any("error", err))
		}
		report.Checks = append(report.Checks, result)
	}

	respond.JSON(writer, httpStatus, respond.SuccessEnvelope{Data: report})
}
