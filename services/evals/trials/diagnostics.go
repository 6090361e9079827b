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
	"encoding/json"
	"fmt"
)

// DiagnosticKind classifies why an input was skipped.
type DiagnosticKind string

const (
	// KindMalformedIteration is an iter-* directory whose suffix is not a
	// non-negative integer.
	KindMalformedIteration DiagnosticKind = "malformed_iteration"

	// KindDuplicateIteration is a second directory resolving to an
	// iteration number already loaded for the same condition.
	KindDuplicateIteration DiagnosticKind = "duplicate_iteration"

	// KindMissingRecord is an iteration directory without a record file.
	KindMissingRecord DiagnosticKind = "missing_record"

	// KindUnreadableRecord is a record file that could not be read.
	KindUnreadableRecord DiagnosticKind = "unreadable_record"

	// KindMalformedRecord is a record file that is not valid JSON.
	KindMalformedRecord DiagnosticKind = "malformed_record"

	// KindSchemaViolation is valid JSON missing required fields or holding
	// out of range values.
	KindSchemaViolation DiagnosticKind = "schema_violation"
)

// Diagnostic records one skipped input.
type Diagnostic struct {
	TaskID    string         `json:"task_id"`
	Condition string         `json:"condition,omitempty"`
	Iteration int            `json:"iteration"`
	Path      string         `json:"path"`
	Kind      DiagnosticKind `json:"kind"`
	Err       error          `json:"-"`
}

// String formats the diagnostic for logs and console output.
func (d Diagnostic) String() string {
	if d.Err != nil {
		return fmt.Sprintf("%s/%s iter %d: %s: %v", d.TaskID, d.Condition, d.Iteration, d.Kind, d.Err)
	}
	return fmt.Sprintf("%s/%s iter %d: %s", d.TaskID, d.Condition, d.Iteration, d.Kind)
}

// MarshalJSON adds the error text as "error".
func (d Diagnostic) MarshalJSON() ([]byte, error) {
	type plain Diagnostic
	var msg string
	if d.Err != nil {
		msg = d.Err.Error()
	}
	return json.Marshal(struct {
		plain
		Error string `json:"error,omitempty"`
	}{plain(d), msg})
}

// Diagnostics collects skipped inputs in the order they were encountered.
//
// # Description
//
// Diagnostics replaces ad hoc console warnings: the loader appends one entry
// per skipped iteration and returns the collection with its results, so
// callers can render or assert on exactly what was dropped and why.
//
// # Thread Safety
//
// Not safe for concurrent mutation. The loader fills it from a single
// goroutine and it is read-only afterwards.
type Diagnostics struct {
	items []Diagnostic
}

// Add appends a diagnostic.
func (d *Diagnostics) Add(item Diagnostic) {
	d.items = append(d.items, item)
}

// Len returns the number of diagnostics.
func (d *Diagnostics) Len() int {
	if d == nil {
		return 0
	}
	return len(d.items)
}

// All returns a copy of every diagnostic.
func (d *Diagnostics) All() []Diagnostic {
	if d == nil {
		return nil
	}
	out := make([]Diagnostic, len(d.items))
	copy(out, d.items)
	return out
}

// ByKind returns the diagnostics of one kind.
func (d *Diagnostics) ByKind(kind DiagnosticKind) []Diagnostic {
	return d.filter(func(item Diagnostic) bool { return item.Kind == kind })
}

// ForTask returns the diagnostics of one task.
func (d *Diagnostics) ForTask(taskID string) []Diagnostic {
	return d.filter(func(item Diagnostic) bool { return item.TaskID == taskID })
}

// Counts returns the number of diagnostics per kind.
func (d *Diagnostics) Counts() map[DiagnosticKind]int {
	out := make(map[DiagnosticKind]int)
	if d == nil {
		return out
	}
	for _, item := range d.items {
		out[item.Kind]++
	}
	return out
}

func (d *Diagnostics) filter(keep func(Diagnostic) bool) []Diagnostic {
	if d == nil {
		return nil
	}
	var out []Diagnostic
	for _, item := range d.items {
		if keep(item) {
			out = append(out, item)
		}
	}
	return out
}
