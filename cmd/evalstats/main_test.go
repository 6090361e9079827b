// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianEval/services/evals/report"
	"github.com/AleutianAI/AleutianEval/services/evals/trials"
)

func writeRecord(t *testing.T, root, task, condition string, iteration int, score float64, success bool) {
	t.Helper()
	value := 0
	if success {
		value = 1
	}
	path := filepath.Join(root, task, condition, fmt.Sprintf("iter-%d", iteration), trials.DefaultRecordFile)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	body := fmt.Sprintf(`{
  "code_grading": {"normalized_score": %v, "graders": {"plans_exists": {"value": %d}}},
  "model_grading": {"normalized_score": %v}
}`, score, value, score)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

// resultsDir builds a run with one analyzable task whose differences are
// [5, 7, 6, 8, 4] and one task with a single pair.
func resultsDir(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "run-42")
	diffs := []float64{5, 7, 6, 8, 4}
	for i, d := range diffs {
		writeRecord(t, root, "b-task", trials.DefaultTreatment, i, 60+d, true)
		writeRecord(t, root, "b-task", trials.DefaultControl, i, 60, i < 2)
	}
	writeRecord(t, root, "a-task", trials.DefaultTreatment, 0, 50, true)
	writeRecord(t, root, "a-task", trials.DefaultControl, 0, 40, false)
	return root
}

func execute(t *testing.T, args ...string) (stdout string, err error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err = cmd.Execute()
	return out.String(), err
}

func TestAnalyze_JSON(t *testing.T) {
	out, err := execute(t, "analyze", resultsDir(t), "--json")
	require.NoError(t, err)

	doc, err := report.ParseJSON([]byte(out))
	require.NoError(t, err)

	assert.Equal(t, "run-42", doc.RunID)
	assert.True(t, doc.ExactBackend)
	require.Contains(t, doc.Tasks, "b-task")
	assert.NotContains(t, doc.Tasks, "a-task")

	task := doc.Tasks["b-task"]
	assert.Equal(t, 5, task.NPairs)
	assert.Equal(t, 6.0, task.Comparison.DiffMean)
	assert.Equal(t, [2]float64{4.04, 7.96}, task.Comparison.CI95)
	assert.True(t, task.Comparison.Significant)
	assert.Empty(t, task.Pairs)

	require.Len(t, doc.Skipped, 1)
	assert.Equal(t, "a-task", doc.Skipped[0].TaskID)
}

func TestAnalyze_Formats(t *testing.T) {
	root := resultsDir(t)

	t.Run("text by default", func(t *testing.T) {
		out, err := execute(t, "analyze", root)
		require.NoError(t, err)
		assert.Contains(t, out, "Statistical Analysis Results")
		assert.Contains(t, out, "b-task")
	})

	t.Run("report shorthand is markdown", func(t *testing.T) {
		out, err := execute(t, "analyze", root, "--report")
		require.NoError(t, err)
		assert.Contains(t, out, "| b-task |")
		assert.Contains(t, out, "## Methodology")
	})

	t.Run("html", func(t *testing.T) {
		out, err := execute(t, "analyze", root, "--format", "html")
		require.NoError(t, err)
		assert.Contains(t, out, "<html")
	})

	t.Run("conflicting shorthands", func(t *testing.T) {
		_, err := execute(t, "analyze", root, "--json", "--report")
		assert.ErrorIs(t, err, errConflictingFormats)
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := execute(t, "analyze", root, "--format", "pdf")
		assert.ErrorIs(t, err, report.ErrUnknownFormat)
	})
}

func TestAnalyze_OutputFiles(t *testing.T) {
	root := resultsDir(t)
	dir := t.TempDir()
	xlsxPath := filepath.Join(dir, "run.xlsx")
	metricsPath := filepath.Join(dir, "evals.prom")

	out, err := execute(t, "analyze", root,
		"--format", "xlsx",
		"--output", xlsxPath,
		"--metrics-out", metricsPath,
	)
	require.NoError(t, err)
	assert.Empty(t, out)

	data, err := os.ReadFile(xlsxPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("PK"), data[:2])

	metrics, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), `aleutian_evals_comparison_pairs{task="b-task"} 5`)
}

func TestAnalyze_ApproximateBackend(t *testing.T) {
	out, err := execute(t, "analyze", resultsDir(t), "--json", "--backend", "approximate")
	require.NoError(t, err)

	doc, err := report.ParseJSON([]byte(out))
	require.NoError(t, err)
	assert.False(t, doc.ExactBackend)
	assert.Equal(t, "approximate", doc.Backend)
}

func TestAnalyze_Errors(t *testing.T) {
	t.Run("missing directory", func(t *testing.T) {
		_, err := execute(t, "analyze", filepath.Join(t.TempDir(), "absent"))
		assert.ErrorIs(t, err, trials.ErrResultsDirNotFound)
	})

	t.Run("nothing loadable", func(t *testing.T) {
		_, err := execute(t, "analyze", t.TempDir())
		assert.ErrorIs(t, err, trials.ErrNoResults)
	})

	t.Run("missing argument", func(t *testing.T) {
		_, err := execute(t, "analyze")
		assert.Error(t, err)
	})

	t.Run("invalid backend", func(t *testing.T) {
		_, err := execute(t, "analyze", resultsDir(t), "--backend", "gpu")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown numeric backend")
	})
}

func TestAnalyze_ConfigFile(t *testing.T) {
	root := filepath.Join(t.TempDir(), "run-7")
	for i, d := range []float64{2, 4, 3} {
		writeRecord(t, root, "x-task", "v2", i, 50+d, true)
		writeRecord(t, root, "x-task", "v1", i, 50, false)
	}
	cfgPath := filepath.Join(t.TempDir(), "evalstats.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("treatment: v2\ncontrol: v1\npass_k: 2\n"), 0o644))

	out, err := execute(t, "analyze", root, "--json", "--config", cfgPath)
	require.NoError(t, err)

	doc, err := report.ParseJSON([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, "v2", doc.Treatment)
	assert.Equal(t, 2, doc.K)
	require.Contains(t, doc.Tasks, "x-task")
	assert.Equal(t, 3.0, doc.Tasks["x-task"].Comparison.DiffMean)
}

func TestAnalyze_FlagsFixInvalidConfigFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "evalstats.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("backend: gpu\n"), 0o644))
	root := resultsDir(t)

	_, err := execute(t, "analyze", root, "--json", "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown numeric backend")

	out, err := execute(t, "analyze", root, "--json", "--config", cfgPath, "--backend", "exact")
	require.NoError(t, err)
	doc, err := report.ParseJSON([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, "exact", doc.Backend)
}

func TestPassK(t *testing.T) {
	out, err := execute(t, "passk", "10", "3", "3")
	require.NoError(t, err)
	assert.Equal(t, "pass@3 = 0.708333\npass^3 = 0.027000\n", out)

	tests := []struct {
		name string
		args []string
	}{
		{"not a number", []string{"ten", "3", "3"}},
		{"more successes than trials", []string{"3", "4", "1"}},
		{"k zero", []string{"10", "3", "0"}},
		{"negative", []string{"--", "-1", "0", "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, append([]string{"passk"}, tt.args...)...)
			assert.ErrorIs(t, err, errInvalidCounts)
		})
	}
}
