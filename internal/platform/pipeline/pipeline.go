// Copyright (c) 2026 Decorly. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package pipeline composes request guards into an ordered, declared chain.

Each [Stage] inspects the request and returns a [Result]: [Admit] to pass the
(possibly enriched) request on, or [Reject] with the error to answer with.
Stages run in the order they were declared; the first rejection ends the
evaluation and nothing after it runs, including the handler.

Usage:

	guarded := pipeline.New(
	    rateGuard.Stage(ratelimit.RouteLogin),
	).ThenFunc(handler.login)
*/
package pipeline

import (
	"log/slog"
	"net/http"

	"github.com/taibuivan/decorly/internal/platform/ctxutil"
	"github.com/taibuivan/decorly/internal/platform/respond"
)

// Result is the tagged outcome of a stage.
type Result struct {
	request *http.Request
	err     error
}

// Admit passes request to the next stage.
func Admit(request *http.Request) Result {
	return Result{request: request}
}

// Reject stops the pipeline and answers with err.
func Reject(err error) Result {
	return Result{err: err}
}

// Rejected reports whether the stage refused the request.
func (result Result) Rejected() bool {
	return result.err != nil
}

// Err returns the rejection error, nil when admitted.
func (result Result) Err() error {
	return result.err
}

// Stage is one named guard.
type Stage struct {
	Name  string
	Check func(request *http.Request) Result
}

// Pipeline is an immutable ordered list of stages.
type Pipeline struct {
	stages []Stage
}

// New declares a pipeline evaluating stages in the given order.
func New(stages ...Stage) *Pipeline {
	return &Pipeline{stages: append([]Stage(nil), stages...)}
}

// Append returns a new pipeline with stages added after the existing ones.
func (pipeline *Pipeline) Append(stages ...Stage) *Pipeline {
	combined := make([]Stage, 0, len(pipeline.stages)+len(stages))
	combined = append(combined, pipeline.stages...)
	combined = append(combined, stages...)
	return &Pipeline{stages: combined}
}

// Names lists the stage names in evaluation order.
func (pipeline *Pipeline) Names() []string {
	names := make([]string, len(pipeline.stages))
	for i, stage := range pipeline.stages {
		names[i] = stage.Name
	}
	return names
}

// Evaluate runs the stages against request. It returns the request as
// enriched by the admitted stages, or the name of the rejecting stage and
// its error.
func (pipeline *Pipeline) Evaluate(request *http.Request) (*http.Request, string, error) {
	for _, stage := range pipeline.stages {
		result := stage.Check(request)
		if result.Rejected() {
			return request, stage.Name, result.err
		}
		if result.request != nil {
			request = result.request
		}
	}
	return request, "", nil
}

// Then wraps next so it only runs once every stage admitted the request.
func (pipeline *Pipeline) Then(next http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		admitted, stage, err := pipeline.Evaluate(request)
		if err != nil {
			ctxutil.GetLogger(request.Context()).WarnContext(request.Context(), "guard_rejected",
				slog.String("stage", stage),
				slog.String("error", err.Error()),
			)
			respond.Error(writer, admitted, err)
			return
		}
		next.ServeHTTP(writer, admitted)
	})
}

// ThenFunc is [Pipeline.Then] for a handler function.
func (pipeline *Pipeline) ThenFunc(next http.HandlerFunc) http.Handler {
	return pipeline.Then(next)
}
