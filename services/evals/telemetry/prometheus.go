// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrInvalidConfig is returned when the Prometheus configuration is invalid.
	ErrInvalidConfig = errors.New("invalid prometheus configuration")

	// ErrRegistrationFailed is returned when metric registration fails.
	ErrRegistrationFailed = errors.New("metric registration failed")

	// ErrNoGatherer is returned by WriteTextfile when the sink has nothing
	// to gather from.
	ErrNoGatherer = errors.New("prometheus sink has no gatherer")
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// PrometheusConfig configures the Prometheus sink.
//
// Thread Safety: Immutable after creation; safe for concurrent read access.
type PrometheusConfig struct {
	// Namespace is the metrics namespace. Required.
	Namespace string

	// Subsystem is the metrics subsystem. Required.
	Subsystem string

	// Registry is the Prometheus registry to use.
	// If nil, uses prometheus.DefaultRegisterer.
	Registry prometheus.Registerer

	// Gatherer is read by WriteTextfile. If nil and Registry is a
	// *prometheus.Registry, the registry is used.
	Gatherer prometheus.Gatherer

	// DurationBuckets defines histogram buckets for run duration (seconds).
	DurationBuckets []float64

	// MaxLabelCardinality is the maximum number of unique label values to track.
	// When exceeded, new label values are mapped to "_other".
	// Default: 1000
	MaxLabelCardinality int
}

// DefaultPrometheusConfig returns a configuration with sensible defaults.
func DefaultPrometheusConfig() *PrometheusConfig {
	return &PrometheusConfig{
		Namespace:           "aleutian",
		Subsystem:           "evals",
		DurationBuckets:     []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		MaxLabelCardinality: 1000,
	}
}

// Validate checks that required fields are set.
func (c *PrometheusConfig) Validate() error {
	if c.Namespace == "" {
		return errors.New("namespace is required")
	}
	if c.Subsystem == "" {
		return errors.New("subsystem is required")
	}
	return nil
}

// -----------------------------------------------------------------------------
// Prometheus Sink
// -----------------------------------------------------------------------------

// PrometheusSink exports analysis results as Prometheus metrics.
//
// Description:
//
//	Per-task comparison values are gauges labelled by task id, so a scrape
//	always shows the latest run. Reset clears them before a new run so that
//	tasks which disappeared from the results directory stop being reported.
//	Metrics are registered on creation and unregistered on Close().
//
// Thread Safety: Safe for concurrent use.
//
// Example:
//
//	sink, err := telemetry.NewPrometheusSink(telemetry.DefaultPrometheusConfig())
//	if err != nil {
//	    return fmt.Errorf("create prometheus sink: %w", err)
//	}
//	defer sink.Close()
type PrometheusSink struct {
	config   *PrometheusConfig
	registry prometheus.Registerer
	gatherer prometheus.Gatherer

	// Per-task comparison metrics
	comparisonPValue     *prometheus.GaugeVec
	comparisonEffectSize *prometheus.GaugeVec
	comparisonDiffMean   *prometheus.GaugeVec
	comparisonTStatistic *prometheus.GaugeVec
	comparisonPairs      *prometheus.GaugeVec
	comparisonMissing    *prometheus.GaugeVec
	conditionSuccessRate *prometheus.GaugeVec
	conditionPassAtK     *prometheus.GaugeVec
	comparisonTotal      *prometheus.CounterVec

	// Run metrics
	runTasks       *prometheus.GaugeVec
	runDiagnostics *prometheus.GaugeVec
	runExact       prometheus.Gauge
	runDuration    prometheus.Histogram
	runsTotal      prometheus.Counter

	// Error metrics
	errorsTotal *prometheus.CounterVec

	mu     sync.RWMutex
	closed bool

	// Track registered collectors for cleanup
	collectors []prometheus.Collector

	// Label cardinality protection
	labelMu        sync.RWMutex
	seenLabels     map[string]map[string]struct{}
	maxCardinality int
}

// NewPrometheusSink creates and registers the sink's collectors.
//
// Inputs:
//   - config: Prometheus configuration. Must not be nil.
//
// Outputs:
//   - *PrometheusSink: The created sink. Never nil on success.
//   - error: Non-nil if configuration is invalid or registration fails.
//
// Assumptions:
//   - Collectors already registered under the same names are tolerated.
func NewPrometheusSink(config *PrometheusConfig) (*PrometheusSink, error) {
	if config == nil {
		return nil, ErrInvalidConfig
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	cfg := *config
	if cfg.DurationBuckets == nil {
		cfg.DurationBuckets = DefaultPrometheusConfig().DurationBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		if reg, ok := registry.(*prometheus.Registry); ok {
			gatherer = reg
		}
	}

	maxCard := cfg.MaxLabelCardinality
	if maxCard <= 0 {
		maxCard = 1000
	}

	s := &PrometheusSink{
		config:         &cfg,
		registry:       registry,
		gatherer:       gatherer,
		seenLabels:     make(map[string]map[string]struct{}),
		maxCardinality: maxCard,
	}

	gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}

	s.comparisonPValue = gauge("comparison_p_value", "Two-tailed p-value of the paired t-test", "task")
	s.comparisonEffectSize = gauge("comparison_effect_size", "Cohen's d of the paired differences", "task", "category")
	s.comparisonDiffMean = gauge("comparison_diff_mean", "Mean paired score difference (treatment - control)", "task")
	s.comparisonTStatistic = gauge("comparison_t_statistic", "Paired t statistic", "task")
	s.comparisonPairs = gauge("comparison_pairs", "Number of paired observations", "task")
	s.comparisonMissing = gauge("comparison_missing_pairs", "Iterations present in only one condition", "task")
	s.conditionSuccessRate = gauge("condition_success_rate", "Success rate over paired iterations", "task", "condition")
	s.conditionPassAtK = gauge("condition_pass_at_k", "Unbiased pass@k estimate", "task", "condition", "k")

	s.comparisonTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "comparisons_total",
		Help:      "Total task comparisons performed",
	}, []string{"significant"})

	s.runTasks = gauge("run_tasks", "Tasks in the latest run by status", "status")
	s.runDiagnostics = gauge("run_diagnostics", "Skipped inputs in the latest run by kind", "kind")
	s.runExact = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "run_exact_backend",
		Help:      "1 if the latest run used the exact t distribution",
	})
	s.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "run_duration_seconds",
		Help:      "Analysis run duration in seconds",
		Buckets:   cfg.DurationBuckets,
	})
	s.runsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "runs_total",
		Help:      "Total analysis runs",
	})

	s.errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace,
		Subsystem: cfg.Subsystem,
		Name:      "errors_total",
		Help:      "Total errors by type and component",
	}, []string{"component", "operation", "error_type"})

	s.collectors = []prometheus.Collector{
		s.comparisonPValue,
		s.comparisonEffectSize,
		s.comparisonDiffMean,
		s.comparisonTStatistic,
		s.comparisonPairs,
		s.comparisonMissing,
		s.conditionSuccessRate,
		s.conditionPassAtK,
		s.comparisonTotal,
		s.runTasks,
		s.runDiagnostics,
		s.runExact,
		s.runDuration,
		s.runsTotal,
		s.errorsTotal,
	}

	for _, c := range s.collectors {
		if err := registry.Register(c); err != nil {
			var alreadyErr prometheus.AlreadyRegisteredError
			if !errors.As(err, &alreadyErr) {
				return nil, errors.Join(ErrRegistrationFailed, err)
			}
		}
	}

	return s, nil
}

// checkOpen returns ErrSinkClosed after Close.
func (s *PrometheusSink) checkOpen(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}
	return nil
}

// Reset clears every per-task and per-run gauge and forgets the task
// label values counted against the cardinality limit.
//
// Counters and the duration histogram are cumulative and are kept.
func (s *PrometheusSink) Reset(ctx context.Context) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	s.labelMu.Lock()
	delete(s.seenLabels, "task")
	s.labelMu.Unlock()
	for _, g := range []*prometheus.GaugeVec{
		s.comparisonPValue,
		s.comparisonEffectSize,
		s.comparisonDiffMean,
		s.comparisonTStatistic,
		s.comparisonPairs,
		s.comparisonMissing,
		s.conditionSuccessRate,
		s.conditionPassAtK,
		s.runTasks,
		s.runDiagnostics,
	} {
		g.Reset()
	}
	return nil
}

// RecordComparison sets the per-task gauges.
//
// Inputs:
//   - ctx: Must not be nil.
//   - data: Must not be nil.
//
// Outputs:
//   - error: Non-nil if sink is closed or inputs are invalid.
//
// Thread Safety: Safe for concurrent use.
func (s *PrometheusSink) RecordComparison(ctx context.Context, data *ComparisonData) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	if data == nil {
		return ErrNilData
	}

	task := data.TaskID
	if task == "" {
		task = "unknown"
	}
	task = s.sanitizeLabel("task", task)

	category := data.EffectSizeCategory
	if category == "" {
		category = "unknown"
	}
	category = s.sanitizeLabel("category", category)

	s.comparisonPValue.WithLabelValues(task).Set(data.PValue)
	s.comparisonEffectSize.WithLabelValues(task, category).Set(data.EffectSize)
	s.comparisonDiffMean.WithLabelValues(task).Set(data.DiffMean)
	s.comparisonTStatistic.WithLabelValues(task).Set(data.TStatistic)
	s.comparisonPairs.WithLabelValues(task).Set(float64(data.Pairs))
	s.comparisonMissing.WithLabelValues(task).Set(float64(data.MissingPairs))

	treatment := s.sanitizeLabel("condition", labelOr(data.Treatment, "treatment"))
	control := s.sanitizeLabel("condition", labelOr(data.Control, "control"))
	k := fmt.Sprintf("%d", data.K)

	s.conditionSuccessRate.WithLabelValues(task, treatment).Set(data.TreatmentSuccessRate)
	s.conditionSuccessRate.WithLabelValues(task, control).Set(data.ControlSuccessRate)
	s.conditionPassAtK.WithLabelValues(task, treatment, k).Set(data.TreatmentPassAtK)
	s.conditionPassAtK.WithLabelValues(task, control, k).Set(data.ControlPassAtK)

	significant := "false"
	if data.Significant {
		significant = "true"
	}
	s.comparisonTotal.WithLabelValues(significant).Inc()

	return nil
}

// RecordError increments the error counter.
func (s *PrometheusSink) RecordError(ctx context.Context, data *ErrorData) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	if data == nil {
		return ErrNilData
	}

	component := s.sanitizeLabel("component", labelOr(data.Component, "unknown"))
	operation := s.sanitizeLabel("operation", labelOr(data.Operation, "unknown"))
	errorType := s.sanitizeLabel("error_type", labelOr(data.ErrorType, "unknown"))

	s.errorsTotal.WithLabelValues(component, operation, errorType).Inc()
	return nil
}

// RecordRun sets run-level gauges and observes the run duration.
func (s *PrometheusSink) RecordRun(ctx context.Context, data *RunData) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	if data == nil {
		return ErrNilData
	}

	s.runTasks.WithLabelValues("analyzed").Set(float64(data.Tasks))
	s.runTasks.WithLabelValues("failed").Set(float64(data.Failures))
	s.runTasks.WithLabelValues("significant").Set(float64(data.Significant))
	for kind, n := range data.Diagnostics {
		s.runDiagnostics.WithLabelValues(s.sanitizeLabel("kind", kind)).Set(float64(n))
	}
	if data.Exact {
		s.runExact.Set(1)
	} else {
		s.runExact.Set(0)
	}
	s.runDuration.Observe(data.Duration.Seconds())
	s.runsTotal.Inc()
	return nil
}

// Flush is a no-op; Prometheus metrics are pull-based.
func (s *PrometheusSink) Flush(ctx context.Context) error {
	return s.checkOpen(ctx)
}

// WriteTextfile writes the gathered metrics in the text exposition format,
// suitable for the node_exporter textfile collector.
//
// Outputs:
//   - error: ErrNoGatherer, ErrSinkClosed, or a write error.
func (s *PrometheusSink) WriteTextfile(path string) error {
	if err := s.checkOpen(context.Background()); err != nil {
		return err
	}
	if s.gatherer == nil {
		return ErrNoGatherer
	}
	if err := prometheus.WriteToTextfile(path, s.gatherer); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}

// Handler returns a /metrics handler over the sink's gatherer, or
// MetricsHandler when the sink has none.
func (s *PrometheusSink) Handler() http.Handler {
	if s.gatherer == nil {
		return MetricsHandler()
	}
	return promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
}

// Close unregisters all metrics.
//
// Thread Safety: Safe for concurrent use. Idempotent.
func (s *PrometheusSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for _, c := range s.collectors {
		s.registry.Unregister(c)
	}
	return nil
}

// sanitizeLabel protects against label cardinality explosion.
//
// Description:
//
//	Tracks unique label values per label name and replaces values
//	beyond MaxLabelCardinality with "_other".
//
// Thread Safety: Safe for concurrent use.
func (s *PrometheusSink) sanitizeLabel(labelName, labelValue string) string {
	s.labelMu.RLock()
	seen := s.seenLabels[labelName]
	if seen != nil {
		if _, exists := seen[labelValue]; exists {
			s.labelMu.RUnlock()
			return labelValue
		}
		if len(seen) >= s.maxCardinality {
			s.labelMu.RUnlock()
			return "_other"
		}
	}
	s.labelMu.RUnlock()

	s.labelMu.Lock()
	defer s.labelMu.Unlock()

	if s.seenLabels[labelName] == nil {
		s.seenLabels[labelName] = make(map[string]struct{})
	}
	if _, exists := s.seenLabels[labelName][labelValue]; exists {
		return labelValue
	}
	if len(s.seenLabels[labelName]) >= s.maxCardinality {
		return "_other"
	}

	s.seenLabels[labelName][labelValue] = struct{}{}
	return labelValue
}

func labelOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// Verify interface compliance at compile time.
var _ Sink = (*PrometheusSink)(nil)
