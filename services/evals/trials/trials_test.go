// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package trials

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/AleutianEval/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// Fixtures
// -----------------------------------------------------------------------------

func gradingJSON(code, model float64, success bool) string {
	value := 0
	if success {
		value = 1
	}
	return fmt.Sprintf(`{
  "task_id": "ignored",
  "code_grading": {
    "normalized_score": %v,
    "graders": {"plans_exists": {"value": %d}, "lint": {"value": 1}}
  },
  "model_grading": {"normalized_score": %v, "rationale": "ok"}
}`, code, value, model)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func writeRecord(t *testing.T, root, task, condition string, iteration int, code, model float64, success bool) {
	t.Helper()
	path := filepath.Join(root, task, condition, fmt.Sprintf("iter-%d", iteration), DefaultRecordFile)
	writeFile(t, path, gradingJSON(code, model, success))
}

func newTestLoader() (*Loader, *logging.BufferedExporter) {
	exporter := logging.NewBufferedExporter()
	logger := logging.New(logging.Config{Quiet: true, Exporter: exporter})
	return NewLoader(LoaderConfig{}, logger), exporter
}

// -----------------------------------------------------------------------------
// Record parsing
// -----------------------------------------------------------------------------

func TestParseGradingRecord(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		rec, err := ParseGradingRecord([]byte(gradingJSON(80, 50, true)))
		require.NoError(t, err)
		assert.Equal(t, 80.0, rec.CodeScore())
		assert.Equal(t, 50.0, rec.ModelScore())
		assert.True(t, rec.Succeeded("plans_exists"))
		assert.True(t, rec.Succeeded("lint"))
		assert.False(t, rec.Succeeded("tests_pass"))
	})

	t.Run("boolean grader value", func(t *testing.T) {
		rec, err := ParseGradingRecord([]byte(`{
			"code_grading": {"normalized_score": 10, "graders": {"plans_exists": {"value": true}}},
			"model_grading": {"normalized_score": 0}
		}`))
		require.NoError(t, err)
		assert.True(t, rec.Succeeded("plans_exists"))
	})

	t.Run("non-one value is failure", func(t *testing.T) {
		rec, err := ParseGradingRecord([]byte(`{
			"code_grading": {"normalized_score": 10, "graders": {"plans_exists": {"value": 0.5}}},
			"model_grading": {"normalized_score": 0}
		}`))
		require.NoError(t, err)
		assert.False(t, rec.Succeeded("plans_exists"))
	})

	tests := []struct {
		name    string
		data    string
		wantErr error
	}{
		{"not json", `{"code_grading":`, ErrMalformedRecord},
		{"wrong type", `{"code_grading": {"normalized_score": "high"}}`, ErrMalformedRecord},
		{"missing model grading", `{"code_grading": {"normalized_score": 10}}`, ErrSchemaViolation},
		{"missing score", `{"code_grading": {}, "model_grading": {"normalized_score": 1}}`, ErrSchemaViolation},
		{"score above range", `{"code_grading": {"normalized_score": 101}, "model_grading": {"normalized_score": 1}}`, ErrSchemaViolation},
		{"negative score", `{"code_grading": {"normalized_score": 5}, "model_grading": {"normalized_score": -1}}`, ErrSchemaViolation},
		{"null document", `null`, ErrSchemaViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseGradingRecord([]byte(tt.data))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseGradingRecord_ViolationNamesJSONField(t *testing.T) {
	_, err := ParseGradingRecord([]byte(`{"code_grading": {"normalized_score": 5}, "model_grading": {"normalized_score": 300}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model_grading.normalized_score")
}

// -----------------------------------------------------------------------------
// Loader
// -----------------------------------------------------------------------------

func TestLoader_Load(t *testing.T) {
	root := t.TempDir()
	writeRecord(t, root, "VP-01", DefaultTreatment, 1, 80, 50, true)
	writeRecord(t, root, "VP-01", DefaultTreatment, 2, 90, 70, true)
	writeRecord(t, root, "VP-01", DefaultControl, 2, 60, 40, false)
	writeRecord(t, root, "VP-01", DefaultControl, 1, 70, 20, true)
	writeRecord(t, root, "VP-01", "other-condition", 1, 10, 10, false)
	writeFile(t, filepath.Join(root, ".cache", DefaultTreatment, "iter-1", DefaultRecordFile), gradingJSON(1, 1, false))
	writeFile(t, filepath.Join(root, "README.md"), "not a task")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "VP-02"), 0o755))

	loader, _ := newTestLoader()
	result, err := loader.Load(context.Background(), root)
	require.NoError(t, err)

	assert.Equal(t, []string{"VP-01", "VP-02"}, result.TaskIDs())
	assert.Empty(t, result.Tasks["VP-02"])
	assert.Equal(t, 4, result.RecordCount())
	assert.Zero(t, result.Diagnostics.Len())

	recs := result.Tasks["VP-01"]
	require.Len(t, recs, 4)
	first := recs[0]
	assert.Equal(t, DefaultTreatment, first.Condition)
	assert.Equal(t, 1, first.Iteration)
	assert.True(t, first.Success)
	assert.InDelta(t, 0.6*80+0.4*50, first.NormalizedScore, 1e-12)
	assert.Equal(t, 80.0, first.CodeScore)
	assert.Equal(t, 50.0, first.ModelScore)

	assert.Equal(t, DefaultControl, recs[2].Condition)
	assert.Equal(t, 1, recs[2].Iteration)
}

func TestLoader_SkipsBadIterations(t *testing.T) {
	root := t.TempDir()
	writeRecord(t, root, "VP-03", DefaultTreatment, 1, 80, 50, true)
	writeRecord(t, root, "VP-03", DefaultControl, 1, 60, 40, false)

	treatDir := filepath.Join(root, "VP-03", DefaultTreatment)
	writeFile(t, filepath.Join(treatDir, "iter-x", DefaultRecordFile), gradingJSON(1, 1, true))
	writeFile(t, filepath.Join(treatDir, "iter-2", DefaultRecordFile), `{broken`)
	writeFile(t, filepath.Join(treatDir, "iter-3", DefaultRecordFile), `{"code_grading": {"normalized_score": 50}}`)
	require.NoError(t, os.MkdirAll(filepath.Join(treatDir, "iter-4"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(treatDir, "iter-5", DefaultRecordFile), 0o755))
	writeFile(t, filepath.Join(treatDir, "iter-01", DefaultRecordFile), gradingJSON(5, 5, false))
	writeFile(t, filepath.Join(treatDir, "notes-1", DefaultRecordFile), gradingJSON(5, 5, false))

	loader, exporter := newTestLoader()
	result, err := loader.Load(context.Background(), root)
	require.NoError(t, err)

	diags := result.Diagnostics
	assert.Len(t, diags.ByKind(KindMalformedIteration), 1)
	assert.Len(t, diags.ByKind(KindMalformedRecord), 1)
	assert.Len(t, diags.ByKind(KindSchemaViolation), 1)
	assert.Len(t, diags.ByKind(KindMissingRecord), 1)
	assert.Len(t, diags.ByKind(KindUnreadableRecord), 1)
	assert.Len(t, diags.ByKind(KindDuplicateIteration), 1)
	assert.Equal(t, 6, diags.Len())
	assert.Len(t, diags.ForTask("VP-03"), 6)
	assert.Empty(t, diags.ForTask("VP-99"))

	malformed := diags.ByKind(KindMalformedRecord)[0]
	assert.Equal(t, 2, malformed.Iteration)
	assert.Equal(t, DefaultTreatment, malformed.Condition)
	assert.Equal(t, 4, diags.ByKind(KindMissingRecord)[0].Iteration)

	// iter-01 sorts before iter-1 and wins; iter-1 is the duplicate.
	recs := result.Tasks["VP-03"]
	require.Len(t, recs, 2)
	assert.InDelta(t, 5.0, recs[0].NormalizedScore, 1e-12)

	assert.Len(t, exporter.EntriesAt(logging.LevelWarn), 6)
	counts := diags.Counts()
	assert.Equal(t, 1, counts[KindSchemaViolation])
}

func TestLoader_Errors(t *testing.T) {
	loader, _ := newTestLoader()

	t.Run("missing root", func(t *testing.T) {
		_, err := loader.Load(context.Background(), filepath.Join(t.TempDir(), "absent"))
		assert.ErrorIs(t, err, ErrResultsDirNotFound)
	})

	t.Run("root is a file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "file")
		writeFile(t, path, "x")
		_, err := loader.Load(context.Background(), path)
		assert.ErrorIs(t, err, ErrResultsDirNotFound)
	})

	t.Run("nothing loadable", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, filepath.Join(root, "VP-01", DefaultTreatment, "iter-1", DefaultRecordFile), `nope`)
		result, err := loader.Load(context.Background(), root)
		assert.ErrorIs(t, err, ErrNoResults)
		require.NotNil(t, result)
		assert.Equal(t, 1, result.Diagnostics.Len())
	})

	t.Run("cancelled", func(t *testing.T) {
		root := t.TempDir()
		writeRecord(t, root, "VP-01", DefaultTreatment, 1, 1, 1, true)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := loader.Load(ctx, root)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestLoader_CustomConfig(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "T1", "agent", "iter-0", "result.json")
	writeFile(t, path, `{
		"code_grading": {"normalized_score": 100, "graders": {"tests_pass": {"value": 1}}},
		"model_grading": {"normalized_score": 0}
	}`)

	loader := NewLoader(LoaderConfig{
		RecordFile:    "result.json",
		Treatment:     "agent",
		Control:       "baseline",
		SuccessGrader: "tests_pass",
		CodeWeight:    0.5,
		ModelWeight:   0.5,
	}, nil)

	result, err := loader.Load(context.Background(), root)
	require.NoError(t, err)
	recs := result.Tasks["T1"]
	require.Len(t, recs, 1)
	assert.Equal(t, 0, recs[0].Iteration)
	assert.True(t, recs[0].Success)
	assert.InDelta(t, 50.0, recs[0].NormalizedScore, 1e-12)
	assert.Equal(t, path, recs[0].Path)
}

func TestParseIteration(t *testing.T) {
	tests := []struct {
		name    string
		want    int
		wantErr bool
	}{
		{"iter-0", 0, false},
		{"iter-12", 12, false},
		{"iter-007", 7, false},
		{"iter-", 0, true},
		{"iter--1", 0, true},
		{"iter-+3", 0, true},
		{"iter-1a", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseIteration(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// -----------------------------------------------------------------------------
// Pairing
// -----------------------------------------------------------------------------

func rec(cond string, iteration int, score float64, success bool) TrialRecord {
	return TrialRecord{Condition: cond, Iteration: iteration, NormalizedScore: score, Success: success}
}

func TestPair_PartialOverlap(t *testing.T) {
	records := []TrialRecord{
		rec(DefaultTreatment, 1, 80, true),
		rec(DefaultTreatment, 2, 70, true),
		rec(DefaultTreatment, 3, 90, false),
		rec(DefaultTreatment, 4, 60, true),
		rec(DefaultTreatment, 5, 75, true),
		rec(DefaultControl, 1, 50, false),
		rec(DefaultControl, 3, 60, true),
		rec(DefaultControl, 5, 70, false),
	}

	set := Pair(records, DefaultTreatment, DefaultControl)
	assert.Equal(t, 3, set.Len())
	assert.Equal(t, 2, set.Missing)
	assert.Equal(t, []int{2, 4}, set.MissingIterations)

	assert.Equal(t, []float64{30, 30, 5}, set.Differences())
	assert.Equal(t, []float64{80, 90, 75}, set.TreatmentScores())
	assert.Equal(t, []float64{50, 60, 70}, set.ControlScores())

	treat, ctrl := set.Successes()
	assert.Equal(t, 2, treat)
	assert.Equal(t, 1, ctrl)

	assert.Equal(t, PairedObservation{
		Iteration: 3, TreatmentScore: 90, ControlScore: 60,
		TreatmentSuccess: false, ControlSuccess: true, Difference: 30,
	}, set.Pairs[1])
}

func TestPair_Disjoint(t *testing.T) {
	records := []TrialRecord{
		rec(DefaultTreatment, 1, 80, true),
		rec(DefaultTreatment, 2, 70, true),
		rec(DefaultControl, 3, 50, false),
		rec(DefaultControl, 4, 60, true),
		rec(DefaultControl, 5, 60, true),
	}
	set := Pair(records, DefaultTreatment, DefaultControl)
	assert.Empty(t, set.Pairs)
	assert.Equal(t, 5, set.Missing)
}

func TestPair_OrderIndependent(t *testing.T) {
	records := []TrialRecord{
		rec(DefaultControl, 2, 10, false),
		rec(DefaultTreatment, 1, 80, true),
		rec(DefaultTreatment, 2, 70, true),
		rec(DefaultControl, 1, 50, false),
		rec(DefaultTreatment, 3, 1, true),
	}
	reversed := make([]TrialRecord, len(records))
	for i, r := range records {
		reversed[len(records)-1-i] = r
	}

	a := Pair(records, DefaultTreatment, DefaultControl)
	b := Pair(reversed, DefaultTreatment, DefaultControl)
	assert.Equal(t, a, b)
	assert.Equal(t, 1, a.Pairs[0].Iteration)
	assert.Equal(t, 2, a.Pairs[1].Iteration)
}

func TestPair_DuplicatesResolvedByPath(t *testing.T) {
	a := TrialRecord{Condition: "t", Iteration: 1, NormalizedScore: 10, Path: "b/iter-1"}
	b := TrialRecord{Condition: "t", Iteration: 1, NormalizedScore: 20, Path: "a/iter-01"}
	c := TrialRecord{Condition: "c", Iteration: 1, NormalizedScore: 0}

	first := Pair([]TrialRecord{a, b, c}, "t", "c")
	second := Pair([]TrialRecord{b, a, c}, "t", "c")
	assert.Equal(t, first, second)
	assert.Equal(t, 20.0, first.Pairs[0].TreatmentScore)
}

func TestPair_Empty(t *testing.T) {
	set := Pair(nil, DefaultTreatment, DefaultControl)
	assert.Zero(t, set.Len())
	assert.Zero(t, set.Missing)
	assert.Empty(t, set.Differences())
}

// -----------------------------------------------------------------------------
// Diagnostics
// -----------------------------------------------------------------------------

func TestDiagnostic_JSON(t *testing.T) {
	d := Diagnostic{
		TaskID: "VP-01", Condition: DefaultControl, Iteration: 3,
		Path: "/r/VP-01/no-plugin/iter-3/grading-result.json",
		Kind: KindMalformedRecord, Err: fmt.Errorf("unexpected EOF"),
	}
	data, err := json.Marshal(d)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "malformed_record", got["kind"])
	assert.Equal(t, "unexpected EOF", got["error"])
	assert.EqualValues(t, 3, got["iteration"])
	assert.Contains(t, d.String(), "VP-01/no-plugin iter 3: malformed_record")
}

func TestDiagnostics_NilSafe(t *testing.T) {
	var d *Diagnostics
	assert.Zero(t, d.Len())
	assert.Nil(t, d.All())
	assert.Nil(t, d.ByKind(KindMissingRecord))
	assert.Empty(t, d.Counts())
}
