// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server serves the latest statistics report of one results
// directory over HTTP.
//
// The report is recomputed on POST /v1/evals/refresh and, when watching
// is enabled, after files under the results directory change. Readers
// always see a complete report: a refresh builds the new one aside and
// swaps it in.
package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianEval/pkg/logging"
	"github.com/AleutianAI/AleutianEval/services/evals/analysis"
	"github.com/AleutianAI/AleutianEval/services/evals/report"
	"github.com/AleutianAI/AleutianEval/services/evals/trials"
)

// DefaultServiceName names the server in traces.
const DefaultServiceName = "evalstats"

// shutdownTimeout bounds graceful shutdown in Run.
const shutdownTimeout = 5 * time.Second

// ErrNotReady is returned by handlers before the first successful refresh.
var ErrNotReady = errors.New("no report available yet")

// Options configures a Server.
type Options struct {
	// Root is the results directory.
	Root string

	// ServiceName is passed to the tracing middleware.
	// Empty means DefaultServiceName.
	ServiceName string

	// Metrics serves GET /metrics. Nil disables the route.
	Metrics http.Handler
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable code.
	Code string `json:"code,omitempty"`

	// Details provides additional context (optional).
	Details string `json:"details,omitempty"`
}

// HealthResponse is the body of GET /v1/evals/health.
type HealthResponse struct {
	Status      string     `json:"status"`
	RunID       string     `json:"run_id,omitempty"`
	Tasks       int        `json:"tasks"`
	Skipped     int        `json:"skipped"`
	RefreshedAt *time.Time `json:"refreshed_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// Server holds the current report and its HTTP routes.
//
// # Thread Safety
//
// Safe for concurrent use. Refreshes are serialized; handlers read the
// current snapshot under a read lock.
type Server struct {
	opts     Options
	loader   *trials.Loader
	analyzer *analysis.Analyzer
	logger   *logging.Logger

	refreshMu sync.Mutex

	mu          sync.RWMutex
	summary     *report.Document
	detailed    *report.Document
	refreshedAt time.Time
	lastErr     error
}

// New creates a Server. Call Refresh before serving to avoid 503s.
func New(opts Options, loader *trials.Loader, analyzer *analysis.Analyzer, logger *logging.Logger) *Server {
	if opts.ServiceName == "" {
		opts.ServiceName = DefaultServiceName
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Server{
		opts:     opts,
		loader:   loader,
		analyzer: analyzer,
		logger:   logger,
	}
}

// Refresh reloads the results directory and swaps in a new report.
//
// # Description
//
// An empty results directory is not fatal: the report is replaced by an
// empty one and the error is kept for the health endpoint. Any other
// failure keeps the previous report.
//
// # Outputs
//
//   - error: The load or analysis error, nil on success.
func (s *Server) Refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	load, err := s.loader.Load(ctx, s.opts.Root)
	if err != nil && !(errors.Is(err, trials.ErrNoResults) && load != nil) {
		s.fail(err)
		return err
	}
	loadErr := err

	run, err := s.analyzer.AnalyzeRun(ctx, load)
	if err != nil {
		s.fail(err)
		return err
	}

	summary := report.Build(run, report.Options{})
	detailed := report.Build(run, report.Options{IncludePairs: true})

	s.mu.Lock()
	s.summary = summary
	s.detailed = detailed
	s.refreshedAt = time.Now().UTC()
	s.lastErr = loadErr
	s.mu.Unlock()

	s.logger.Info("report refreshed",
		"run_id", summary.RunID,
		"tasks", len(summary.Tasks),
		"skipped", len(summary.Skipped),
	)
	return loadErr
}

func (s *Server) fail(err error) {
	s.logger.Error("refresh failed", "root", s.opts.Root, "error", err)
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Server) snapshot() (summary, detailed *report.Document) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summary, s.detailed
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(s.opts.ServiceName))

	v1 := router.Group("/v1/evals")
	{
		v1.GET("/health", s.HandleHealth)
		v1.GET("/report", s.HandleReport)
		v1.GET("/report.md", s.HandleMarkdown)
		v1.GET("/tasks/:task_id", s.HandleTask)
		v1.POST("/refresh", s.HandleRefresh)
	}

	if s.opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(s.opts.Metrics))
	}
	return router
}

// HandleHealth handles GET /v1/evals/health.
//
// Response:
//
//	200 OK: HealthResponse
func (s *Server) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, s.health())
}

func (s *Server) health() HealthResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resp := HealthResponse{Status: "ok"}
	if s.summary != nil {
		resp.RunID = s.summary.RunID
		resp.Tasks = len(s.summary.Tasks)
		resp.Skipped = len(s.summary.Skipped)
		at := s.refreshedAt
		resp.RefreshedAt = &at
	} else {
		resp.Status = "starting"
	}
	if s.lastErr != nil {
		resp.LastError = s.lastErr.Error()
		if s.summary == nil {
			resp.Status = "error"
		} else {
			resp.Status = "degraded"
		}
	}
	return resp
}

// HandleReport handles GET /v1/evals/report.
//
// Description:
//
//	Returns the current report. The optional "format" query parameter
//	selects json (default), text, markdown, html or xlsx.
//
// Response:
//
//	200 OK: The rendered report
//	400 Bad Request: Unknown format
//	503 Service Unavailable: No report yet
func (s *Server) HandleReport(c *gin.Context) {
	format, err := report.ParseFormat(c.DefaultQuery("format", string(report.FormatJSON)))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Unknown report format",
			Code:    "INVALID_FORMAT",
			Details: err.Error(),
		})
		return
	}
	s.render(c, format)
}

// HandleMarkdown handles GET /v1/evals/report.md.
func (s *Server) HandleMarkdown(c *gin.Context) {
	s.render(c, report.FormatMarkdown)
}

func (s *Server) render(c *gin.Context, format report.Format) {
	summary, detailed := s.snapshot()
	if summary == nil {
		s.notReady(c)
		return
	}
	doc := summary
	if format.NeedsPairs() {
		doc = detailed
	}

	var buf bytes.Buffer
	if err := report.Render(c.Request.Context(), &buf, doc, format); err != nil {
		s.logger.Error("render report failed", "format", format, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "Failed to render report",
			Code:  "RENDER_FAILED",
		})
		return
	}
	c.Data(http.StatusOK, contentType(format), buf.Bytes())
}

// HandleTask handles GET /v1/evals/tasks/:task_id.
//
// Response:
//
//	200 OK: The task object, including per-iteration pairs
//	404 Not Found: Unknown or skipped task
//	503 Service Unavailable: No report yet
func (s *Server) HandleTask(c *gin.Context) {
	_, detailed := s.snapshot()
	if detailed == nil {
		s.notReady(c)
		return
	}

	taskID := c.Param("task_id")
	if obj, ok := detailed.TaskObject(taskID); ok {
		c.JSON(http.StatusOK, obj)
		return
	}

	resp := ErrorResponse{Error: "Task not found", Code: "TASK_NOT_FOUND"}
	for _, skipped := range detailed.Skipped {
		if skipped.TaskID == taskID {
			resp.Error = "Task skipped"
			resp.Code = "TASK_SKIPPED"
			resp.Details = skipped.Reason
			break
		}
	}
	c.JSON(http.StatusNotFound, resp)
}

// HandleRefresh handles POST /v1/evals/refresh.
//
// Response:
//
//	200 OK: HealthResponse after the refresh
//	500 Internal Server Error: Refresh failed; the previous report is kept
func (s *Server) HandleRefresh(c *gin.Context) {
	if err := s.Refresh(c.Request.Context()); err != nil && !errors.Is(err, trials.ErrNoResults) {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Refresh failed",
			Code:    "REFRESH_FAILED",
			Details: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, s.health())
}

func (s *Server) notReady(c *gin.Context) {
	resp := ErrorResponse{Error: ErrNotReady.Error(), Code: "NOT_READY"}
	s.mu.RLock()
	if s.lastErr != nil {
		resp.Details = s.lastErr.Error()
	}
	s.mu.RUnlock()
	c.JSON(http.StatusServiceUnavailable, resp)
}

func contentType(f report.Format) string {
	switch f {
	case report.FormatJSON:
		return "application/json; charset=utf-8"
	case report.FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case report.FormatHTML:
		return "text/html; charset=utf-8"
	case report.FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Watch refreshes the report whenever files under the results directory
// change. The returned stop function is idempotent.
func (s *Server) Watch(ctx context.Context, debounce time.Duration) (stop func(), err error) {
	w, err := NewResultsWatcher(s.opts.Root, debounce, func(paths []string) {
		s.logger.Debug("results changed", "paths", len(paths))
		if err := s.Refresh(ctx); err != nil && !errors.Is(err, trials.ErrNoResults) {
			s.logger.Warn("refresh after change failed", "error", err)
		}
	}, s.logger)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return nil, err
	}
	return w.Stop, nil
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("report server listening", "addr", addr, "root", s.opts.Root)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("report server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
