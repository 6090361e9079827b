// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/AleutianAI/AleutianEval/services/evals/analysis"
	"github.com/AleutianAI/AleutianEval/services/evals/stats"
	"github.com/AleutianAI/AleutianEval/services/evals/trials"
)

// =============================================================================
// Fixtures
// =============================================================================

func record(condition string, iteration int, score float64, success bool) trials.TrialRecord {
	return trials.TrialRecord{
		Iteration:       iteration,
		Condition:       condition,
		Success:         success,
		NormalizedScore: score,
	}
}

// testRun analyzes one task with differences [5, 7, 6, 8, 4], one task with
// a single pair, and one malformed input.
func testRun(t *testing.T) *analysis.RunResult {
	t.Helper()

	var known []trials.TrialRecord
	for i, score := range []float64{15, 17, 16, 18, 14} {
		known = append(known, record(trials.DefaultTreatment, i, score, true))
		known = append(known, record(trials.DefaultControl, i, 10, i < 2))
	}

	diags := &trials.Diagnostics{}
	diags.Add(trials.Diagnostic{
		TaskID:    "b-task",
		Condition: trials.DefaultControl,
		Iteration: 7,
		Path:      "/results/run-42/b-task/no-plugin/iter-7/grading-result.json",
		Kind:      trials.KindMalformedRecord,
		Err:       errors.New("unexpected end of JSON input"),
	})

	load := &trials.LoadResult{
		Root: "/results/run-42",
		Tasks: map[string][]trials.TrialRecord{
			"b-task": known,
			"a-task": {
				record(trials.DefaultTreatment, 0, 80, true),
				record(trials.DefaultControl, 0, 70, false),
			},
		},
		Diagnostics: diags,
	}

	a := analysis.NewAnalyzer(analysis.DefaultConfig(), stats.ExactBackend{}, nil, nil)
	run, err := a.AnalyzeRun(context.Background(), load)
	require.NoError(t, err)
	return run
}

// =============================================================================
// Build Tests
// =============================================================================

func TestBuild_Rounding(t *testing.T) {
	doc := Build(testRun(t), Options{})

	assert.Equal(t, "run-42", doc.RunID)
	assert.Equal(t, StatisticalMethod, doc.StatisticalMethod)
	assert.True(t, doc.ExactBackend)
	assert.Equal(t, 3, doc.K)

	require.Contains(t, doc.Tasks, "b-task")
	task := doc.Tasks["b-task"]
	assert.Equal(t, 5, task.NPairs)
	assert.Nil(t, task.Pairs)

	c := task.Comparison
	assert.Equal(t, 6.0, c.DiffMean)
	assert.Equal(t, 1.58, c.DiffStd)
	assert.Equal(t, 8.485, c.TStatistic)
	assert.Equal(t, 3.795, c.CohensD)
	assert.Equal(t, stats.EffectLarge, c.CohensDInterpretation)
	assert.Equal(t, 0.001, c.PValue)
	assert.True(t, c.Significant)
	assert.Equal(t, [2]float64{4.04, 7.96}, c.CI95)

	assert.Equal(t, ConditionReport{Mean: 16, Std: 1.58, SuccessRate: 1, PassAtK: 1, PassHatK: 1, K: 3}, task.Treatment)
	assert.Equal(t, ConditionReport{Mean: 10, Std: 0, SuccessRate: 0.4, PassAtK: 0.9, PassHatK: 0.064, K: 3}, task.Control)

	require.Len(t, doc.Skipped, 1)
	assert.Equal(t, "a-task", doc.Skipped[0].TaskID)
	assert.Equal(t, 1, doc.Skipped[0].Pairs)
	assert.Contains(t, doc.Skipped[0].Reason, "not enough paired trials")

	require.Len(t, doc.Diagnostics, 1)
	assert.Equal(t, "malformed_record", doc.Diagnostics[0].Kind)
	assert.Equal(t, "unexpected end of JSON input", doc.Diagnostics[0].Error)

	require.Len(t, doc.Saturation.Metrics, 1)
	assert.Equal(t, "task_b-task_with-plugin_success_rate", doc.Saturation.Metrics[0].Metric)
}

func TestBuild_IncludePairs(t *testing.T) {
	doc := Build(testRun(t), Options{IncludePairs: true})

	pairs := doc.Tasks["b-task"].Pairs
	require.Len(t, pairs, 5)
	assert.Equal(t, PairReport{
		Iteration:        0,
		TreatmentScore:   15,
		ControlScore:     10,
		Difference:       5,
		TreatmentSuccess: true,
		ControlSuccess:   true,
	}, pairs[0])
}

func TestReportID(t *testing.T) {
	id := ReportID("run-42")
	assert.Equal(t, id, ReportID("run-42"))
	assert.NotEqual(t, id, ReportID("run-43"))

	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(5), parsed.Version())
}

func TestConditionKey(t *testing.T) {
	assert.Equal(t, "with_plugin", ConditionKey("with-plugin"))
	assert.Equal(t, "no_plugin", ConditionKey("no-plugin"))
	assert.Equal(t, "baseline", ConditionKey("baseline"))
}

func TestRoundTo(t *testing.T) {
	assert.Equal(t, 0.0, round3(0.0004))
	assert.Equal(t, 0.001, round3(0.0005))
	assert.Equal(t, -1.24, round2(-1.235000001))
	assert.Equal(t, 0.0, round2(nan()))
}

func nan() float64 {
	var zero float64
	return zero / zero
}

// =============================================================================
// JSON Tests
// =============================================================================

func TestJSON_Shape(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, Build(testRun(t), Options{})))

	var raw map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &raw))

	assert.Equal(t, "run-42", raw["run_id"])
	assert.Equal(t, "paired_t_test", raw["statistical_method"])
	assert.Equal(t, true, raw["exact_backend"])

	tasks := raw["tasks"].(map[string]any)
	task := tasks["b-task"].(map[string]any)
	assert.Equal(t, 5.0, task["n_pairs"])
	assert.Equal(t, 0.0, task["missing_pairs"])

	control := task["no_plugin"].(map[string]any)
	assert.Equal(t, 0.9, control["pass_at_3"])
	assert.Equal(t, 0.064, control["pass_hat_3"])
	assert.Contains(t, task, "with_plugin")

	comparison := task["comparison"].(map[string]any)
	assert.Equal(t, "large", comparison["cohens_d_interpretation"])
	assert.Equal(t, []any{4.04, 7.96}, comparison["ci_95"])

	skipped := raw["skipped"].([]any)
	require.Len(t, skipped, 1)
	assert.Equal(t, "a-task", skipped[0].(map[string]any)["task_id"])
}

func TestJSON_RoundTripPreservesRounding(t *testing.T) {
	doc := Build(testRun(t), Options{IncludePairs: true})

	var first bytes.Buffer
	require.NoError(t, WriteJSON(&first, doc))

	parsed, err := ParseJSON(first.Bytes())
	require.NoError(t, err)
	assert.Equal(t, doc, parsed)

	var second bytes.Buffer
	require.NoError(t, WriteJSON(&second, parsed))
	assert.Equal(t, first.String(), second.String())
}

func TestParseJSON_Invalid(t *testing.T) {
	_, err := ParseJSON([]byte(`{"tasks": {"x": {"comparison": "nope"}}}`))
	assert.Error(t, err)

	_, err = ParseJSON([]byte(`{"treatment": "a", "tasks": {"x": {"a": {"pass_at_k": 1}}}}`))
	assert.Error(t, err)
}

func TestTaskObject(t *testing.T) {
	doc := Build(testRun(t), Options{})

	obj, ok := doc.TaskObject("b-task")
	require.True(t, ok)
	assert.Contains(t, obj, "with_plugin")
	assert.Contains(t, obj, "no_plugin")
	assert.NotContains(t, obj, "pairs")

	_, ok = doc.TaskObject("a-task")
	assert.False(t, ok)
}

// =============================================================================
// Projection Tests
// =============================================================================

func TestMarkdown(t *testing.T) {
	md := Markdown(Build(testRun(t), Options{}))

	assert.True(t, strings.HasPrefix(md, "# Evaluation Statistics Report\n"))
	for _, want := range []string{
		"- **Run ID**: run-42",
		"- **b-task**: N=5 pairs (missing: 0)",
		"| b-task | 16.00 ± 1.58 | 10.00 ± 0.00 | **+6.00** [4.04, 7.96] | 3.795 (large) | 0.001 |",
		"| b-task | 100% | 40% | 100.0% | 90.0% | 100.0% | 6.4% |",
		"### b-task",
		"## Skipped Tasks",
		"| a-task | 1 |",
		"## Skipped Inputs",
		"malformed_record",
		"## Saturation",
		"> " + analysis.RecommendRegression,
		"## Methodology",
	} {
		assert.Contains(t, md, want)
	}
}

func TestMarkdown_Empty(t *testing.T) {
	md := Markdown(&Document{RunID: "empty", Tasks: map[string]*TaskReport{}})
	assert.NotContains(t, md, "## Result Summary")
	assert.NotContains(t, md, "## Skipped Tasks")
	assert.Contains(t, md, "## Methodology")
}

func TestHTML(t *testing.T) {
	page := string(HTML(Build(testRun(t), Options{})))

	assert.Contains(t, page, "<title>Evaluation Statistics Report: run-42</title>")
	assert.Contains(t, page, "<table>")
	assert.Contains(t, page, "b-task")
	assert.Contains(t, page, "</html>")
}

func TestText(t *testing.T) {
	out := Text(Build(testRun(t), Options{}))

	assert.Contains(t, out, "Statistical Analysis Results")
	assert.Contains(t, out, "run-42")
	assert.Contains(t, out, "b-task")
	assert.Contains(t, out, "[4.04, 7.96]")
	assert.Contains(t, out, "Skipped tasks:")
	assert.Contains(t, out, "a-task (1 pairs)")
	assert.Contains(t, out, "Skipped inputs: 1")
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, Build(testRun(t), Options{IncludePairs: true})))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetSummary, SheetPairs, SheetSkipped}, f.GetSheetList())

	summary, err := f.GetRows(SheetSummary)
	require.NoError(t, err)
	require.Len(t, summary, 2)
	assert.Equal(t, "Task", summary[0][0])
	assert.Equal(t, "b-task", summary[1][0])
	assert.Equal(t, "5", summary[1][1])

	pairs, err := f.GetRows(SheetPairs)
	require.NoError(t, err)
	assert.Len(t, pairs, 6)

	skipped, err := f.GetRows(SheetSkipped)
	require.NoError(t, err)
	require.Len(t, skipped, 3)
	assert.Equal(t, "a-task", skipped[1][0])
	assert.Equal(t, "b-task", skipped[2][0])
}

// =============================================================================
// Format Tests
// =============================================================================

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name string
		want Format
	}{
		{"json", FormatJSON},
		{"JSON", FormatJSON},
		{"", FormatText},
		{"console", FormatText},
		{"md", FormatMarkdown},
		{"markdown", FormatMarkdown},
		{"html", FormatHTML},
		{"xlsx", FormatXLSX},
		{"excel", FormatXLSX},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormat(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseFormat("pdf")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestRender(t *testing.T) {
	doc := Build(testRun(t), Options{IncludePairs: true})

	for _, format := range Formats {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Render(context.Background(), &buf, doc, format))
			assert.NotZero(t, buf.Len())
		})
	}

	var buf bytes.Buffer
	err := Render(context.Background(), &buf, doc, Format("pdf"))
	assert.ErrorIs(t, err, ErrUnknownFormat)
}
