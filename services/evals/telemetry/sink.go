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
	"sync"
	"time"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNilContext is returned when a nil context is provided.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNilData is returned when nil data is provided to a recording method.
	ErrNilData = errors.New("data must not be nil")

	// ErrSinkClosed is returned when attempting to use a closed sink.
	ErrSinkClosed = errors.New("sink has been closed")

	// ErrNoSinks is returned when creating a composite sink with no children.
	ErrNoSinks = errors.New("at least one sink is required")

	// ErrUnknownExporter is returned when an exporter name is not recognized.
	ErrUnknownExporter = errors.New("unknown exporter")
)

// -----------------------------------------------------------------------------
// Interface
// -----------------------------------------------------------------------------

// Sink receives the outcome of an analysis run.
//
// Description:
//
//	The analyzer calls Reset once at the start of a run, RecordComparison
//	once per analyzed task, RecordError once per failed task, and RecordRun
//	once at the end. Implementations decide how to export the values.
//
// Thread Safety: All implementations must be safe for concurrent use.
type Sink interface {
	// Reset drops per-task state left over from a previous run.
	Reset(ctx context.Context) error

	// RecordComparison records the paired comparison of one task.
	RecordComparison(ctx context.Context, data *ComparisonData) error

	// RecordError records a task or component failure.
	RecordError(ctx context.Context, data *ErrorData) error

	// RecordRun records run-level totals.
	RecordRun(ctx context.Context, data *RunData) error

	// Flush ensures all buffered data is exported.
	Flush(ctx context.Context) error

	// Close releases resources. Idempotent.
	Close() error
}

// -----------------------------------------------------------------------------
// Data Types
// -----------------------------------------------------------------------------

// ComparisonData is the telemetry view of one task's statistics.
//
// Thread Safety: Immutable after creation; safe for concurrent read access.
type ComparisonData struct {
	// RunID identifies the analysis run.
	RunID string

	// TaskID identifies the task.
	TaskID string

	// Treatment and Control are the condition labels.
	Treatment string
	Control   string

	// Pairs is the number of paired observations.
	Pairs int

	// MissingPairs is the number of unpaired iterations.
	MissingPairs int

	// DiffMean is the mean paired difference.
	DiffMean float64

	// TStatistic is the paired t statistic.
	TStatistic float64

	// PValue is the two-tailed p-value.
	PValue float64

	// Significant is true when PValue < alpha.
	Significant bool

	// EffectSize is Cohen's d.
	EffectSize float64

	// EffectSizeCategory is the effect size interpretation.
	EffectSizeCategory string

	// K is the k of pass@k.
	K int

	// TreatmentSuccessRate and ControlSuccessRate are in [0, 1].
	TreatmentSuccessRate float64
	ControlSuccessRate   float64

	// TreatmentPassAtK and ControlPassAtK are in [0, 1].
	TreatmentPassAtK float64
	ControlPassAtK   float64

	// Exact is true when the exact t backend produced PValue.
	Exact bool
}

// ErrorData describes a failure.
//
// Thread Safety: Immutable after creation; safe for concurrent read access.
type ErrorData struct {
	// Timestamp is when the error occurred.
	Timestamp time.Time

	// Component is the component that produced the error.
	Component string

	// Operation is the operation that failed.
	Operation string

	// ErrorType categorizes the error (e.g., "insufficient_pairs").
	ErrorType string

	// TaskID is set when the failure belongs to one task.
	TaskID string

	// Message is the error message.
	Message string
}

// RunData holds run-level totals.
//
// Thread Safety: Immutable after creation; safe for concurrent read access.
type RunData struct {
	// RunID identifies the analysis run.
	RunID string

	// Backend is the name of the t distribution backend.
	Backend string

	// Exact is true when Backend is exact.
	Exact bool

	// Tasks is the number of analyzed tasks.
	Tasks int

	// Failures is the number of tasks that could not be analyzed.
	Failures int

	// Significant is the number of tasks with a significant difference.
	Significant int

	// Diagnostics counts skipped inputs by kind.
	Diagnostics map[string]int

	// Duration is the wall time of the run.
	Duration time.Duration
}

// -----------------------------------------------------------------------------
// Composite Sink
// -----------------------------------------------------------------------------

// CompositeSink multiplexes telemetry to multiple sinks.
//
// Description:
//
//	Every call is forwarded to every child. Errors from individual children
//	are joined; one failing child does not stop the others.
//
// Thread Safety: Safe for concurrent use.
type CompositeSink struct {
	sinks  []Sink
	mu     sync.RWMutex
	closed bool
}

// NewCompositeSink creates a composite of the non-nil sinks.
//
// Outputs:
//   - *CompositeSink: Never nil on success.
//   - error: ErrNoSinks if no non-nil sink was provided.
func NewCompositeSink(sinks ...Sink) (*CompositeSink, error) {
	valid := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			valid = append(valid, s)
		}
	}
	if len(valid) == 0 {
		return nil, ErrNoSinks
	}
	return &CompositeSink{sinks: valid}, nil
}

func (c *CompositeSink) each(fn func(Sink) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrSinkClosed
	}
	var errs []error
	for _, s := range c.sinks {
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reset implements Sink.
func (c *CompositeSink) Reset(ctx context.Context) error {
	return c.each(func(s Sink) error { return s.Reset(ctx) })
}

// RecordComparison implements Sink.
func (c *CompositeSink) RecordComparison(ctx context.Context, data *ComparisonData) error {
	return c.each(func(s Sink) error { return s.RecordComparison(ctx, data) })
}

// RecordError implements Sink.
func (c *CompositeSink) RecordError(ctx context.Context, data *ErrorData) error {
	return c.each(func(s Sink) error { return s.RecordError(ctx, data) })
}

// RecordRun implements Sink.
func (c *CompositeSink) RecordRun(ctx context.Context, data *RunData) error {
	return c.each(func(s Sink) error { return s.RecordRun(ctx, data) })
}

// Flush implements Sink.
func (c *CompositeSink) Flush(ctx context.Context) error {
	return c.each(func(s Sink) error { return s.Flush(ctx) })
}

// Close closes every child. Idempotent.
func (c *CompositeSink) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	var errs []error
	for _, s := range c.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// -----------------------------------------------------------------------------
// Nop Sink
// -----------------------------------------------------------------------------

// NopSink discards everything.
type NopSink struct{}

// Reset implements Sink.
func (NopSink) Reset(context.Context) error { return nil }

// RecordComparison implements Sink.
func (NopSink) RecordComparison(context.Context, *ComparisonData) error { return nil }

// RecordError implements Sink.
func (NopSink) RecordError(context.Context, *ErrorData) error { return nil }

// RecordRun implements Sink.
func (NopSink) RecordRun(context.Context, *RunData) error { return nil }

// Flush implements Sink.
func (NopSink) Flush(context.Context) error { return nil }

// Close implements Sink.
func (NopSink) Close() error { return nil }

var (
	_ Sink = (*CompositeSink)(nil)
	_ Sink = NopSink{}
)
