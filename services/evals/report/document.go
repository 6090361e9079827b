// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report renders analysis results.
//
// Build converts an analysis.RunResult into a Document with the declared
// rounding applied. Every output format (JSON, console text, Markdown,
// HTML, XLSX) is a projection of that Document, so all formats agree.
package report

import (
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianEval/services/evals/analysis"
	"github.com/AleutianAI/AleutianEval/services/evals/stats"
)

// StatisticalMethod identifies the test in every report.
const StatisticalMethod = "paired_t_test"

// reportNamespace is the UUIDv5 namespace of report ids.
var reportNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://aleutian.ai/evals/report"))

// ReportID returns the deterministic report id of a run.
func ReportID(runID string) string {
	return uuid.NewSHA1(reportNamespace, []byte(runID)).String()
}

// ConditionKey returns the JSON key of a condition label.
//
// "with-plugin" becomes "with_plugin".
func ConditionKey(label string) string {
	return strings.ReplaceAll(label, "-", "_")
}

// Document is the complete report of one analysis run.
//
// Values are rounded when the Document is built: means, standard
// deviations, differences and interval bounds to 2 decimals; t, d, the
// p-value, success rates and pass@k to 3 decimals.
type Document struct {
	RunID             string  `json:"run_id"`
	ReportID          string  `json:"report_id"`
	StatisticalMethod string  `json:"statistical_method"`
	ExactBackend      bool    `json:"exact_backend"`
	Backend           string  `json:"backend"`
	Alpha             float64 `json:"alpha"`
	K                 int     `json:"k"`
	Treatment         string  `json:"treatment"`
	Control           string  `json:"control"`

	// Tasks is keyed by task id. encoding/json writes map keys sorted.
	Tasks map[string]*TaskReport `json:"tasks"`

	Skipped     []SkippedTask      `json:"skipped"`
	Diagnostics []DiagnosticReport `json:"diagnostics"`
	Saturation  SaturationReport   `json:"saturation"`
}

// TaskIDs returns the task ids in ascending order.
func (d *Document) TaskIDs() []string {
	ids := make([]string, 0, len(d.Tasks))
	for id := range d.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TaskReport is the rounded statistics of one task.
//
// Treatment and Control are serialized under their ConditionKey.
type TaskReport struct {
	NPairs       int              `json:"n_pairs"`
	MissingPairs int              `json:"missing_pairs"`
	Treatment    ConditionReport  `json:"-"`
	Control      ConditionReport  `json:"-"`
	Comparison   ComparisonReport `json:"comparison"`

	// Pairs is only filled when Options.IncludePairs is set.
	Pairs []PairReport `json:"pairs,omitempty"`
}

// ConditionReport summarizes one condition.
//
// PassAtK and PassHatK are serialized as pass_at_<k> and pass_hat_<k>.
type ConditionReport struct {
	Mean        float64 `json:"mean"`
	Std         float64 `json:"std"`
	SuccessRate float64 `json:"success_rate"`
	PassAtK     float64 `json:"-"`
	PassHatK    float64 `json:"-"`
	K           int     `json:"-"`
}

// ComparisonReport is the paired comparison of one task.
type ComparisonReport struct {
	DiffMean              float64              `json:"diff_mean"`
	DiffStd               float64              `json:"diff_std"`
	TStatistic            float64              `json:"t_statistic"`
	CohensD               float64              `json:"cohens_d"`
	CohensDInterpretation stats.EffectCategory `json:"cohens_d_interpretation"`
	PValue                float64              `json:"p_value"`
	Significant           bool                 `json:"significant"`
	CI95                  [2]float64           `json:"ci_95"`
}

// PairReport is one paired iteration.
type PairReport struct {
	Iteration        int     `json:"iteration"`
	TreatmentScore   float64 `json:"treatment_score"`
	ControlScore     float64 `json:"control_score"`
	Difference       float64 `json:"difference"`
	TreatmentSuccess bool    `json:"treatment_success"`
	ControlSuccess   bool    `json:"control_success"`
}

// SkippedTask is a task that could not be analyzed.
type SkippedTask struct {
	TaskID string `json:"task_id"`
	Pairs  int    `json:"pairs"`
	Reason string `json:"reason"`
}

// DiagnosticReport is one input skipped while loading.
type DiagnosticReport struct {
	TaskID    string `json:"task_id"`
	Condition string `json:"condition,omitempty"`
	Iteration int    `json:"iteration"`
	Path      string `json:"path"`
	Kind      string `json:"kind"`
	Error     string `json:"error,omitempty"`
}

// SaturationReport lists saturated success rates.
type SaturationReport struct {
	Threshold       float64           `json:"threshold"`
	Metrics         []SaturatedMetric `json:"saturated_metrics"`
	Recommendations []string          `json:"recommendations"`
}

// SaturatedMetric is one saturated success rate.
type SaturatedMetric struct {
	Metric    string  `json:"metric"`
	TaskID    string  `json:"task_id,omitempty"`
	Condition string  `json:"condition,omitempty"`
	Value     float64 `json:"value"`
}

// Options controls Build.
type Options struct {
	// IncludePairs copies the per-iteration pairs into the Document.
	IncludePairs bool
}

// Build converts a run result into a rounded Document.
//
// # Inputs
//
//   - run: Analysis output. Must not be nil.
//   - opts: Build options.
//
// # Outputs
//
//   - *Document: Slices are non-nil so JSON always carries arrays.
func Build(run *analysis.RunResult, opts Options) *Document {
	doc := &Document{
		RunID:             run.RunID,
		ReportID:          ReportID(run.RunID),
		StatisticalMethod: StatisticalMethod,
		ExactBackend:      run.Exact,
		Backend:           run.Backend,
		Alpha:             run.Alpha,
		K:                 run.K,
		Treatment:         run.Treatment,
		Control:           run.Control,
		Tasks:             make(map[string]*TaskReport, len(run.Tasks)),
		Skipped:           make([]SkippedTask, 0, len(run.Failures)),
		Diagnostics:       make([]DiagnosticReport, 0, len(run.Diagnostics)),
		Saturation: SaturationReport{
			Threshold:       run.Saturation.Threshold,
			Metrics:         make([]SaturatedMetric, 0, len(run.Saturation.Metrics)),
			Recommendations: append([]string{}, run.Saturation.Recommendations...),
		},
	}

	for _, t := range run.Tasks {
		doc.Tasks[t.TaskID] = buildTask(t, opts)
	}

	for _, f := range run.Failures {
		doc.Skipped = append(doc.Skipped, SkippedTask{
			TaskID: f.TaskID,
			Pairs:  f.Pairs,
			Reason: f.Reason(),
		})
	}

	for _, d := range run.Diagnostics {
		item := DiagnosticReport{
			TaskID:    d.TaskID,
			Condition: d.Condition,
			Iteration: d.Iteration,
			Path:      d.Path,
			Kind:      string(d.Kind),
		}
		if d.Err != nil {
			item.Error = d.Err.Error()
		}
		doc.Diagnostics = append(doc.Diagnostics, item)
	}

	for _, m := range run.Saturation.Metrics {
		doc.Saturation.Metrics = append(doc.Saturation.Metrics, SaturatedMetric{
			Metric:    m.Metric,
			TaskID:    m.TaskID,
			Condition: m.Condition,
			Value:     round3(m.Value),
		})
	}

	return doc
}

func buildTask(t *analysis.TaskStatistics, opts Options) *TaskReport {
	tr := &TaskReport{
		NPairs:       t.N,
		MissingPairs: t.MissingPairs,
		Treatment:    buildCondition(t.Treatment, t.K),
		Control:      buildCondition(t.Control, t.K),
		Comparison: ComparisonReport{
			DiffMean:              round2(t.DiffMean),
			DiffStd:               round2(t.DiffStd),
			TStatistic:            round3(t.TStatistic),
			CohensD:               round3(t.CohensD),
			CohensDInterpretation: t.Effect,
			PValue:                round3(t.PValue),
			Significant:           t.Significant,
			CI95:                  [2]float64{round2(t.CILower), round2(t.CIUpper)},
		},
	}
	if opts.IncludePairs {
		tr.Pairs = make([]PairReport, 0, len(t.Pairs))
		for _, p := range t.Pairs {
			tr.Pairs = append(tr.Pairs, PairReport{
				Iteration:        p.Iteration,
				TreatmentScore:   round2(p.TreatmentScore),
				ControlScore:     round2(p.ControlScore),
				Difference:       round2(p.Difference),
				TreatmentSuccess: p.TreatmentSuccess,
				ControlSuccess:   p.ControlSuccess,
			})
		}
	}
	return tr
}

func buildCondition(c analysis.ConditionStats, k int) ConditionReport {
	return ConditionReport{
		Mean:        round2(c.Mean),
		Std:         round2(c.Std),
		SuccessRate: round3(c.SuccessRate),
		PassAtK:     round3(c.PassAtK),
		PassHatK:    round3(c.PassHatK),
		K:           k,
	}
}

func round2(v float64) float64 { return roundTo(v, 100) }
func round3(v float64) float64 { return roundTo(v, 1000) }

// roundTo rounds half away from zero. Non-finite values become 0 so the
// document always serializes.
func roundTo(v, scale float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*scale) / scale
}
