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
	"fmt"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName is the tracer and meter name used by this module.
const InstrumentationName = "github.com/AleutianAI/AleutianEval/services/evals"

// OTelSink records analysis results as OpenTelemetry instruments.
//
// Description:
//
//	Distributions (p-values, effect sizes, run durations) are histograms so
//	that any configured OTel metric exporter can aggregate them across runs.
//	Reset is a no-op because OTel instruments are cumulative.
//
// Thread Safety: Safe for concurrent use.
type OTelSink struct {
	comparisons metric.Int64Counter
	pValues     metric.Float64Histogram
	effectSizes metric.Float64Histogram
	diffMeans   metric.Float64Histogram
	errors      metric.Int64Counter
	diagnostics metric.Int64Counter
	runDuration metric.Float64Histogram

	mu     sync.RWMutex
	closed bool
}

// NewOTelSink creates the sink's instruments on meter.
//
// Inputs:
//   - meter: Meter to create instruments on. Nil uses the global provider.
//
// Outputs:
//   - *OTelSink: Never nil on success.
//   - error: Non-nil if an instrument cannot be created.
func NewOTelSink(meter metric.Meter) (*OTelSink, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	s := &OTelSink{}
	var err error

	s.comparisons, err = meter.Int64Counter("evals.comparisons",
		metric.WithDescription("Task comparisons performed"),
	)
	if err != nil {
		return nil, fmt.Errorf("create evals.comparisons: %w", err)
	}

	s.pValues, err = meter.Float64Histogram("evals.comparison.p_value",
		metric.WithDescription("Two-tailed p-values of paired t-tests"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1),
	)
	if err != nil {
		return nil, fmt.Errorf("create evals.comparison.p_value: %w", err)
	}

	s.effectSizes, err = meter.Float64Histogram("evals.comparison.effect_size",
		metric.WithDescription("Cohen's d of paired differences"),
		metric.WithExplicitBucketBoundaries(-0.8, -0.5, -0.2, 0, 0.2, 0.5, 0.8),
	)
	if err != nil {
		return nil, fmt.Errorf("create evals.comparison.effect_size: %w", err)
	}

	s.diffMeans, err = meter.Float64Histogram("evals.comparison.diff_mean",
		metric.WithDescription("Mean paired score differences"),
	)
	if err != nil {
		return nil, fmt.Errorf("create evals.comparison.diff_mean: %w", err)
	}

	s.errors, err = meter.Int64Counter("evals.errors",
		metric.WithDescription("Errors by component and type"),
	)
	if err != nil {
		return nil, fmt.Errorf("create evals.errors: %w", err)
	}

	s.diagnostics, err = meter.Int64Counter("evals.diagnostics",
		metric.WithDescription("Skipped inputs by kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("create evals.diagnostics: %w", err)
	}

	s.runDuration, err = meter.Float64Histogram("evals.run.duration",
		metric.WithDescription("Analysis run duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create evals.run.duration: %w", err)
	}

	return s, nil
}

func (s *OTelSink) checkOpen(ctx context.Context) error {
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

// Reset implements Sink.
func (s *OTelSink) Reset(ctx context.Context) error {
	return s.checkOpen(ctx)
}

// RecordComparison implements Sink.
func (s *OTelSink) RecordComparison(ctx context.Context, data *ComparisonData) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	if data == nil {
		return ErrNilData
	}

	attrs := metric.WithAttributes(
		attribute.String("task", data.TaskID),
		attribute.Bool("exact", data.Exact),
	)
	s.comparisons.Add(ctx, 1, metric.WithAttributes(
		attribute.String("significant", strconv.FormatBool(data.Significant)),
		attribute.String("category", data.EffectSizeCategory),
	))
	s.pValues.Record(ctx, data.PValue, attrs)
	s.effectSizes.Record(ctx, data.EffectSize, attrs)
	s.diffMeans.Record(ctx, data.DiffMean, attrs)
	return nil
}

// RecordError implements Sink.
func (s *OTelSink) RecordError(ctx context.Context, data *ErrorData) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	if data == nil {
		return ErrNilData
	}
	s.errors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("component", labelOr(data.Component, "unknown")),
		attribute.String("operation", labelOr(data.Operation, "unknown")),
		attribute.String("error_type", labelOr(data.ErrorType, "unknown")),
	))
	return nil
}

// RecordRun implements Sink.
func (s *OTelSink) RecordRun(ctx context.Context, data *RunData) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	if data == nil {
		return ErrNilData
	}
	for kind, n := range data.Diagnostics {
		s.diagnostics.Add(ctx, int64(n), metric.WithAttributes(attribute.String("kind", kind)))
	}
	s.runDuration.Record(ctx, data.Duration.Seconds(), metric.WithAttributes(
		attribute.String("backend", data.Backend),
	))
	return nil
}

// Flush implements Sink. The meter provider owns export.
func (s *OTelSink) Flush(ctx context.Context) error {
	return s.checkOpen(ctx)
}

// Close implements Sink. Idempotent.
func (s *OTelSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Sink = (*OTelSink)(nil)
