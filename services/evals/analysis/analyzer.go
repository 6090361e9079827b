// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianEval/pkg/logging"
	"github.com/AleutianAI/AleutianEval/services/evals/stats"
	"github.com/AleutianAI/AleutianEval/services/evals/telemetry"
	"github.com/AleutianAI/AleutianEval/services/evals/trials"
)

// Analyzer computes paired statistics for loaded trial results.
//
// Thread Safety: Safe for concurrent use. The sink must be safe for
// concurrent use if one Analyzer is shared between goroutines.
type Analyzer struct {
	config  Config
	backend stats.Backend
	logger  *logging.Logger
	sink    telemetry.Sink
}

// NewAnalyzer creates an Analyzer.
//
// # Inputs
//
//   - config: Analysis parameters. Zero fields take defaults.
//   - backend: t distribution backend from stats.SelectBackend. Nil means
//     the exact backend.
//   - logger: Nil means a discarding logger.
//   - sink: Telemetry sink. Nil means telemetry.NopSink.
func NewAnalyzer(config Config, backend stats.Backend, logger *logging.Logger, sink telemetry.Sink) *Analyzer {
	if backend == nil {
		backend = stats.ExactBackend{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	return &Analyzer{
		config:  config.withDefaults(),
		backend: backend,
		logger:  logger,
		sink:    sink,
	}
}

// Config returns the effective configuration.
func (a *Analyzer) Config() Config {
	return a.config
}

// Backend returns the t distribution backend.
func (a *Analyzer) Backend() stats.Backend {
	return a.backend
}

// AnalyzeTask computes the paired comparison of one task.
//
// # Description
//
// Pairs records by iteration, then computes per-condition means, N-1
// standard deviations and success rates over the paired iterations only,
// a paired t-test on the differences, Cohen's d with its interpretation,
// and pass@k / pass^k per condition.
//
// # Inputs
//
//   - taskID: Task identifier.
//   - records: Records of both conditions, in any order.
//
// # Outputs
//
//   - *TaskStatistics: Complete statistics. Never partially filled.
//   - error: Wraps ErrInsufficientPairs when fewer than two pairs exist.
func (a *Analyzer) AnalyzeTask(taskID string, records []trials.TrialRecord) (*TaskStatistics, error) {
	pairs := trials.Pair(records, a.config.Treatment, a.config.Control)
	if pairs.Len() < 2 {
		return nil, fmt.Errorf("task %s: %w: %d", taskID, ErrInsufficientPairs, pairs.Len())
	}

	n := pairs.Len()
	diffs := pairs.Differences()
	treatmentSuccesses, controlSuccesses := pairs.Successes()

	result := stats.PairedTTest(diffs, a.backend)
	diffSummary := stats.Describe(diffs)

	return &TaskStatistics{
		TaskID:           taskID,
		N:                n,
		MissingPairs:     pairs.Missing,
		Treatment:        a.condition(a.config.Treatment, pairs.TreatmentScores(), treatmentSuccesses, n),
		Control:          a.condition(a.config.Control, pairs.ControlScores(), controlSuccesses, n),
		K:                a.config.PassK,
		Differences:      diffs,
		DiffMean:         diffSummary.Mean,
		DiffStd:          diffSummary.Std,
		TStatistic:       result.TStatistic,
		PValue:           result.PValue,
		CILower:          result.CILower,
		CIUpper:          result.CIUpper,
		CohensD:          result.CohensD,
		DegreesOfFreedom: result.DegreesOfFreedom,
		Effect:           stats.CategorizeEffect(result.CohensD),
		Significant:      result.Significant(a.config.Alpha),
		Exact:            result.Exact,
		Pairs:            pairs.Pairs,
	}, nil
}

func (a *Analyzer) condition(label string, scores []float64, successes, n int) ConditionStats {
	summary := stats.Describe(scores)
	return ConditionStats{
		Label:       label,
		Mean:        summary.Mean,
		Std:         summary.Std,
		Successes:   successes,
		SuccessRate: stats.Rate(successes, n),
		PassAtK:     stats.PassAtK(n, successes, a.config.PassK),
		PassHatK:    stats.PassHatK(n, successes, a.config.PassK),
		Scores:      scores,
	}
}

// AnalyzeRun analyzes every task of a load result.
//
// # Description
//
// Tasks are processed in ascending task id order. A task that cannot be
// analyzed is recorded in Failures and the run continues. Telemetry is
// reset at the start so the sink reflects only this run. Sink errors are
// logged and never fail the run.
//
// # Inputs
//
//   - ctx: Checked between tasks. Carries the parent span.
//   - load: Output of trials.Loader.Load.
//
// # Outputs
//
//   - *RunResult: Statistics, failures, diagnostics and saturation.
//   - error: ErrNilLoadResult or a context error.
func (a *Analyzer) AnalyzeRun(ctx context.Context, load *trials.LoadResult) (*RunResult, error) {
	if load == nil {
		return nil, ErrNilLoadResult
	}
	start := time.Now()

	ctx, span := telemetry.StartSpan(ctx, "analyze",
		trace.WithAttributes(
			attribute.String("backend", a.backend.Name()),
			attribute.Int("tasks", len(load.Tasks)),
		),
	)
	defer span.End()

	run := &RunResult{
		RunID:       RunID(load.Root),
		Backend:     a.backend.Name(),
		Exact:       a.backend.Exact(),
		Treatment:   a.config.Treatment,
		Control:     a.config.Control,
		K:           a.config.PassK,
		Alpha:       a.config.Alpha,
		Diagnostics: load.Diagnostics.All(),
	}

	a.sinkErr("reset", a.sink.Reset(ctx))

	for _, taskID := range load.TaskIDs() {
		if err := ctx.Err(); err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}

		stat, err := a.analyzeTaskTraced(ctx, taskID, load.Tasks[taskID])
		if err != nil {
			a.recordFailure(ctx, run, taskID, load.Tasks[taskID], err)
			continue
		}
		run.Tasks = append(run.Tasks, stat)
		a.sinkErr("record_comparison", a.sink.RecordComparison(ctx, a.comparisonData(run.RunID, stat)))
	}

	run.Saturation = CheckSaturation(run.Tasks, a.config.SaturationThreshold)
	run.Duration = time.Since(start)

	a.sinkErr("record_run", a.sink.RecordRun(ctx, a.runData(run, load.Diagnostics)))
	a.sinkErr("flush", a.sink.Flush(ctx))

	telemetry.SetSpanAttributes(span,
		attribute.Int("analyzed", len(run.Tasks)),
		attribute.Int("failures", len(run.Failures)),
	)
	telemetry.SetSpanOK(span)

	a.logger.Info("analysis complete",
		"run_id", run.RunID,
		"backend", run.Backend,
		"tasks", len(run.Tasks),
		"failures", len(run.Failures),
		"significant", run.SignificantCount(),
		"duration_ms", run.Duration.Milliseconds(),
	)
	return run, nil
}

func (a *Analyzer) analyzeTaskTraced(ctx context.Context, taskID string, records []trials.TrialRecord) (*TaskStatistics, error) {
	_, span := telemetry.StartSpan(ctx, "analyze.task",
		trace.WithAttributes(attribute.String("task_id", taskID)),
	)
	defer span.End()

	stat, err := a.AnalyzeTask(taskID, records)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetSpanAttributes(span,
		attribute.Int("pairs", stat.N),
		attribute.Float64("p_value", stat.PValue),
		attribute.Bool("exact", stat.Exact),
	)
	telemetry.SetSpanOK(span)
	return stat, nil
}

func (a *Analyzer) recordFailure(ctx context.Context, run *RunResult, taskID string, records []trials.TrialRecord, err error) {
	pairs := trials.Pair(records, a.config.Treatment, a.config.Control).Len()
	run.Failures = append(run.Failures, TaskFailure{TaskID: taskID, Pairs: pairs, Err: err})

	a.logger.Warn("skipping task",
		"task_id", taskID,
		"pairs", pairs,
		"error", err,
	)

	a.sinkErr("record_error", a.sink.RecordError(ctx, &telemetry.ErrorData{
		Timestamp: time.Now(),
		Component: "analysis",
		Operation: "analyze_task",
		ErrorType: errorType(err),
		TaskID:    taskID,
		Message:   err.Error(),
	}))
}

func (a *Analyzer) comparisonData(runID string, s *TaskStatistics) *telemetry.ComparisonData {
	return &telemetry.ComparisonData{
		RunID:                runID,
		TaskID:               s.TaskID,
		Treatment:            s.Treatment.Label,
		Control:              s.Control.Label,
		Pairs:                s.N,
		MissingPairs:         s.MissingPairs,
		DiffMean:             s.DiffMean,
		TStatistic:           s.TStatistic,
		PValue:               s.PValue,
		Significant:          s.Significant,
		EffectSize:           s.CohensD,
		EffectSizeCategory:   s.Effect.String(),
		K:                    s.K,
		TreatmentSuccessRate: s.Treatment.SuccessRate,
		ControlSuccessRate:   s.Control.SuccessRate,
		TreatmentPassAtK:     s.Treatment.PassAtK,
		ControlPassAtK:       s.Control.PassAtK,
		Exact:                s.Exact,
	}
}

func (a *Analyzer) runData(run *RunResult, diags *trials.Diagnostics) *telemetry.RunData {
	counts := make(map[string]int)
	for kind, n := range diags.Counts() {
		counts[string(kind)] = n
	}
	return &telemetry.RunData{
		RunID:       run.RunID,
		Backend:     run.Backend,
		Exact:       run.Exact,
		Tasks:       len(run.Tasks),
		Failures:    len(run.Failures),
		Significant: run.SignificantCount(),
		Diagnostics: counts,
		Duration:    run.Duration,
	}
}

func (a *Analyzer) sinkErr(operation string, err error) {
	if err != nil {
		a.logger.Warn("telemetry sink failed", "operation", operation, "error", err)
	}
}

// RunID derives the run id from a results directory path.
func RunID(root string) string {
	if root == "" {
		return ""
	}
	return filepath.Base(filepath.Clean(root))
}

func errorType(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientPairs):
		return "insufficient_pairs"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "context"
	default:
		return "unknown"
	}
}
