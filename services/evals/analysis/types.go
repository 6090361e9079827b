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
	"errors"
	"time"

	"github.com/AleutianAI/AleutianEval/services/evals/stats"
	"github.com/AleutianAI/AleutianEval/services/evals/trials"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrInsufficientPairs is returned when a task has fewer than two
	// paired iterations.
	ErrInsufficientPairs = errors.New("not enough paired trials")

	// ErrNilLoadResult is returned when AnalyzeRun is given no input.
	ErrNilLoadResult = errors.New("load result must not be nil")
)

// =============================================================================
// Configuration
// =============================================================================

// Default analysis parameters.
const (
	DefaultPassK               = 3
	DefaultAlpha               = 0.05
	DefaultSaturationThreshold = 1.0
)

// Config holds analysis parameters.
type Config struct {
	// Treatment and Control are the condition labels to compare.
	Treatment string
	Control   string

	// PassK is the k of pass@k and pass^k.
	PassK int

	// Alpha is the significance level of the paired t-test.
	Alpha float64

	// SaturationThreshold is the success rate at or above which a
	// condition is reported as saturated.
	SaturationThreshold float64
}

// DefaultConfig returns the default analysis parameters.
func DefaultConfig() Config {
	return Config{
		Treatment:           trials.DefaultTreatment,
		Control:             trials.DefaultControl,
		PassK:               DefaultPassK,
		Alpha:               DefaultAlpha,
		SaturationThreshold: DefaultSaturationThreshold,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Treatment == "" {
		c.Treatment = d.Treatment
	}
	if c.Control == "" {
		c.Control = d.Control
	}
	if c.PassK <= 0 {
		c.PassK = d.PassK
	}
	if c.Alpha <= 0 || c.Alpha >= 1 {
		c.Alpha = d.Alpha
	}
	if c.SaturationThreshold <= 0 {
		c.SaturationThreshold = d.SaturationThreshold
	}
	return c
}

// =============================================================================
// Results
// =============================================================================

// ConditionStats summarizes one condition over the paired iterations.
type ConditionStats struct {
	// Label is the condition directory name.
	Label string

	// Mean and Std are the sample mean and N-1 standard deviation of the
	// normalized scores.
	Mean float64
	Std  float64

	// Successes counts successful paired iterations.
	Successes int

	// SuccessRate is Successes / N.
	SuccessRate float64

	// PassAtK is the unbiased pass@k estimate.
	PassAtK float64

	// PassHatK is the probability that k attempts all succeed.
	PassHatK float64

	// Scores are the normalized scores in iteration order.
	Scores []float64
}

// TaskStatistics is the complete paired comparison of one task.
//
// Invariant: N >= 2.
type TaskStatistics struct {
	TaskID string

	// N is the number of paired iterations.
	N int

	// MissingPairs counts iterations present in only one condition.
	MissingPairs int

	Treatment ConditionStats
	Control   ConditionStats

	// K is the k used for PassAtK and PassHatK.
	K int

	// Differences are treatment minus control, in iteration order.
	Differences []float64

	// DiffMean is the mean difference.
	DiffMean float64

	// DiffStd is the sample standard deviation of the differences before
	// the zero-variance floor is applied.
	DiffStd float64

	TStatistic       float64
	PValue           float64
	CILower          float64
	CIUpper          float64
	CohensD          float64
	DegreesOfFreedom int

	// Effect is the interpretation of CohensD.
	Effect stats.EffectCategory

	// Significant is true when PValue < alpha.
	Significant bool

	// Exact is true when the exact backend produced PValue and the interval.
	Exact bool

	// Pairs are the paired observations the statistics were computed from.
	Pairs []trials.PairedObservation
}

// TaskFailure records a task that could not be analyzed.
type TaskFailure struct {
	TaskID string

	// Pairs is the number of paired iterations that were found.
	Pairs int

	Err error
}

// Reason returns the failure message, or "" if Err is nil.
func (f TaskFailure) Reason() string {
	if f.Err == nil {
		return ""
	}
	return f.Err.Error()
}

// SaturatedMetric is a success rate at or above the saturation threshold.
type SaturatedMetric struct {
	// Metric names the rate, e.g. "task_auth-flow_with-plugin_success_rate".
	Metric string

	// TaskID is empty for the overall rate.
	TaskID string

	// Condition is empty for the overall rate.
	Condition string

	Value float64
}

// Saturation lists saturated success rates and what to do about them.
type Saturation struct {
	Threshold       float64
	Metrics         []SaturatedMetric
	Recommendations []string
}

// Saturated returns true if any metric reached the threshold.
func (s Saturation) Saturated() bool {
	return len(s.Metrics) > 0
}

// RunResult is the outcome of analyzing one results directory.
type RunResult struct {
	// RunID is the base name of the results directory.
	RunID string

	// Backend names the t distribution backend.
	Backend string

	// Exact is true when Backend is exact.
	Exact bool

	Treatment string
	Control   string
	K         int
	Alpha     float64

	// Tasks are the analyzed tasks in ascending task id order.
	Tasks []*TaskStatistics

	// Failures are the tasks that could not be analyzed, in task id order.
	Failures []TaskFailure

	// Diagnostics are the inputs skipped while loading.
	Diagnostics []trials.Diagnostic

	Saturation Saturation

	// Duration is the wall time of the analysis.
	Duration time.Duration
}

// Task returns the statistics for taskID.
func (r *RunResult) Task(taskID string) (*TaskStatistics, bool) {
	for _, t := range r.Tasks {
		if t.TaskID == taskID {
			return t, true
		}
	}
	return nil, false
}

// SignificantCount returns the number of tasks with a significant difference.
func (r *RunResult) SignificantCount() int {
	n := 0
	for _, t := range r.Tasks {
		if t.Significant {
			n++
		}
	}
	return n
}
