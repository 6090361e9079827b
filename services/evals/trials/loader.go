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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianEval/pkg/logging"
	"github.com/AleutianAI/AleutianEval/services/evals/telemetry"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrResultsDirNotFound indicates the results root is missing or is not
	// a directory.
	ErrResultsDirNotFound = errors.New("results directory not found")

	// ErrNoResults indicates no task produced a single usable record.
	ErrNoResults = errors.New("no trial results found")
)

// =============================================================================
// Constants
// =============================================================================

const (
	// DefaultRecordFile is the record file name inside an iteration directory.
	DefaultRecordFile = "grading-result.json"

	// DefaultSuccessGrader is the code grader whose value marks success.
	DefaultSuccessGrader = "plans_exists"

	// DefaultCodeWeight is the weight of the code sub-score.
	DefaultCodeWeight = 0.6

	// DefaultModelWeight is the weight of the model sub-score.
	DefaultModelWeight = 0.4

	// iterationPrefix marks iteration directories.
	iterationPrefix = "iter-"
)

// =============================================================================
// Loader
// =============================================================================

// LoaderConfig controls how result directories are read.
//
// Zero values are replaced by the Default* constants.
type LoaderConfig struct {
	RecordFile    string
	Treatment     string
	Control       string
	SuccessGrader string
	CodeWeight    float64
	ModelWeight   float64
}

// DefaultLoaderConfig returns the conventional layout and weights.
func DefaultLoaderConfig() LoaderConfig {
	return LoaderConfig{
		RecordFile:    DefaultRecordFile,
		Treatment:     DefaultTreatment,
		Control:       DefaultControl,
		SuccessGrader: DefaultSuccessGrader,
		CodeWeight:    DefaultCodeWeight,
		ModelWeight:   DefaultModelWeight,
	}
}

func (c LoaderConfig) withDefaults() LoaderConfig {
	d := DefaultLoaderConfig()
	if c.RecordFile == "" {
		c.RecordFile = d.RecordFile
	}
	if c.Treatment == "" {
		c.Treatment = d.Treatment
	}
	if c.Control == "" {
		c.Control = d.Control
	}
	if c.SuccessGrader == "" {
		c.SuccessGrader = d.SuccessGrader
	}
	if c.CodeWeight == 0 && c.ModelWeight == 0 {
		c.CodeWeight, c.ModelWeight = d.CodeWeight, d.ModelWeight
	}
	return c
}

// Loader reads a results tree into TrialRecords.
//
// # Description
//
// The expected layout is
//
//	<root>/<task_id>/<condition>/iter-<N>/<record_file>
//
// Only the treatment and control condition directories are read. Every
// iteration that cannot be turned into a record is skipped, logged at
// Warn, and added to the returned Diagnostics. Loading never aborts on a
// single bad file.
//
// # Thread Safety
//
// A Loader holds no mutable state and may be reused. Each Load call is
// single threaded.
type Loader struct {
	config LoaderConfig
	logger *logging.Logger
}

// NewLoader creates a loader.
//
// # Inputs
//
//   - config: Layout and weights. Zero fields take defaults.
//   - logger: Receives skip warnings. Nil means no logging.
//
// # Outputs
//
//   - *Loader: Never nil.
func NewLoader(config LoaderConfig, logger *logging.Logger) *Loader {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Loader{config: config.withDefaults(), logger: logger}
}

// Config returns the effective configuration.
func (l *Loader) Config() LoaderConfig {
	return l.config
}

// LoadResult is the output of one Load call.
type LoadResult struct {
	// Root is the results directory that was read.
	Root string

	// Tasks maps task id to its records. Every task directory has an
	// entry, possibly empty. Records are sorted by condition then
	// iteration.
	Tasks map[string][]TrialRecord

	// Diagnostics lists every skipped input.
	Diagnostics *Diagnostics
}

// TaskIDs returns the task ids in ascending order.
func (r *LoadResult) TaskIDs() []string {
	ids := make([]string, 0, len(r.Tasks))
	for id := range r.Tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RecordCount returns the total number of loaded records.
func (r *LoadResult) RecordCount() int {
	total := 0
	for _, recs := range r.Tasks {
		total += len(recs)
	}
	return total
}

// Load reads every task under root.
//
// # Inputs
//
//   - ctx: Checked between tasks. Cancellation returns ctx.Err().
//   - root: Results directory.
//
// # Outputs
//
//   - *LoadResult: Populated even when err is ErrNoResults so callers can
//     report diagnostics.
//   - error: ErrResultsDirNotFound, ErrNoResults, or a context error.
func (l *Loader) Load(ctx context.Context, root string) (*LoadResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "load",
		trace.WithAttributes(attribute.String("root", root)),
	)
	defer span.End()

	result, err := l.load(ctx, root)
	if err != nil {
		telemetry.RecordError(span, err)
		return result, err
	}
	telemetry.SetSpanAttributes(span,
		attribute.Int("tasks", len(result.Tasks)),
		attribute.Int("records", result.RecordCount()),
		attribute.Int("skipped", result.Diagnostics.Len()),
	)
	telemetry.SetSpanOK(span)
	return result, nil
}

func (l *Loader) load(ctx context.Context, root string) (*LoadResult, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrResultsDirNotFound, root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrResultsDirNotFound, root)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrResultsDirNotFound, root, err)
	}

	result := &LoadResult{
		Root:        root,
		Tasks:       make(map[string][]TrialRecord),
		Diagnostics: &Diagnostics{},
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		taskID := entry.Name()
		result.Tasks[taskID] = l.loadTask(taskID, filepath.Join(root, taskID), result.Diagnostics)
	}

	l.logger.Info("trial results loaded",
		"root", root,
		"tasks", len(result.Tasks),
		"records", result.RecordCount(),
		"skipped", result.Diagnostics.Len(),
	)

	if result.RecordCount() == 0 {
		return result, fmt.Errorf("%w in %s", ErrNoResults, root)
	}
	return result, nil
}

// loadTask reads both condition directories of one task.
func (l *Loader) loadTask(taskID, taskDir string, diags *Diagnostics) []TrialRecord {
	records := make([]TrialRecord, 0)
	for _, condition := range []string{l.config.Treatment, l.config.Control} {
		records = append(records, l.loadCondition(taskID, condition, filepath.Join(taskDir, condition), diags)...)
	}
	return records
}

// loadCondition reads every iter-N directory of one condition.
func (l *Loader) loadCondition(taskID, condition, dir string, diags *Diagnostics) []TrialRecord {
	entries, err := os.ReadDir(dir)
	if err != nil {
		// A condition that was never run is not an error.
		if !errors.Is(err, fs.ErrNotExist) {
			l.skip(diags, Diagnostic{
				TaskID: taskID, Condition: condition, Iteration: -1,
				Path: dir, Kind: KindUnreadableRecord, Err: err,
			})
		}
		return nil
	}

	var records []TrialRecord
	seen := make(map[int]string)

	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || !strings.HasPrefix(name, iterationPrefix) {
			continue
		}
		iterDir := filepath.Join(dir, name)

		iteration, err := parseIteration(name)
		if err != nil {
			l.skip(diags, Diagnostic{
				TaskID: taskID, Condition: condition, Iteration: -1,
				Path: iterDir, Kind: KindMalformedIteration, Err: err,
			})
			continue
		}
		if first, dup := seen[iteration]; dup {
			l.skip(diags, Diagnostic{
				TaskID: taskID, Condition: condition, Iteration: iteration,
				Path: iterDir, Kind: KindDuplicateIteration,
				Err: fmt.Errorf("iteration %d already loaded from %s", iteration, first),
			})
			continue
		}

		record, diag := l.readRecord(taskID, condition, iteration, filepath.Join(iterDir, l.config.RecordFile))
		if diag != nil {
			l.skip(diags, *diag)
			continue
		}
		seen[iteration] = iterDir
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Iteration < records[j].Iteration })
	return records
}

// readRecord loads and validates one record file.
func (l *Loader) readRecord(taskID, condition string, iteration int, path string) (TrialRecord, *Diagnostic) {
	diag := func(kind DiagnosticKind, err error) *Diagnostic {
		return &Diagnostic{
			TaskID: taskID, Condition: condition, Iteration: iteration,
			Path: path, Kind: kind, Err: err,
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return TrialRecord{}, diag(KindMissingRecord, err)
		}
		return TrialRecord{}, diag(KindUnreadableRecord, err)
	}

	rec, err := ParseGradingRecord(data)
	if err != nil {
		if errors.Is(err, ErrSchemaViolation) {
			return TrialRecord{}, diag(KindSchemaViolation, err)
		}
		return TrialRecord{}, diag(KindMalformedRecord, err)
	}

	code, model := rec.CodeScore(), rec.ModelScore()
	return TrialRecord{
		Iteration:       iteration,
		Condition:       condition,
		Success:         rec.Succeeded(l.config.SuccessGrader),
		CodeScore:       code,
		ModelScore:      model,
		NormalizedScore: code*l.config.CodeWeight + model*l.config.ModelWeight,
		Path:            path,
	}, nil
}

// skip records a diagnostic and logs it.
func (l *Loader) skip(diags *Diagnostics, d Diagnostic) {
	diags.Add(d)
	l.logger.Warn("skipping iteration",
		"task_id", d.TaskID,
		"condition", d.Condition,
		"iteration", d.Iteration,
		"path", d.Path,
		"kind", string(d.Kind),
		"error", d.Err,
	)
}

// parseIteration extracts N from "iter-N". N must be a non-negative
// decimal integer.
func parseIteration(name string) (int, error) {
	suffix := strings.TrimPrefix(name, iterationPrefix)
	if suffix == "" {
		return 0, fmt.Errorf("iteration directory %q has no number", name)
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("iteration directory %q has non-numeric suffix", name)
		}
	}
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, fmt.Errorf("iteration directory %q: %w", name, err)
	}
	return n, nil
}
