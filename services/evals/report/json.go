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
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	passAtPrefix  = "pass_at_"
	passHatPrefix = "pass_hat_"
)

// MarshalJSON writes the condition summary with k-specific pass keys.
func (c ConditionReport) MarshalJSON() ([]byte, error) {
	m := map[string]float64{
		"mean":         c.Mean,
		"std":          c.Std,
		"success_rate": c.SuccessRate,
	}
	m[passAtPrefix+strconv.Itoa(c.K)] = c.PassAtK
	m[passHatPrefix+strconv.Itoa(c.K)] = c.PassHatK
	return json.Marshal(m)
}

// UnmarshalJSON reads a condition summary and recovers k from the pass keys.
func (c *ConditionReport) UnmarshalJSON(data []byte) error {
	var raw map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = ConditionReport{
		Mean:        raw["mean"],
		Std:         raw["std"],
		SuccessRate: raw["success_rate"],
	}
	for key, value := range raw {
		switch {
		case strings.HasPrefix(key, passAtPrefix):
			k, err := strconv.Atoi(strings.TrimPrefix(key, passAtPrefix))
			if err != nil {
				return fmt.Errorf("condition key %q: %w", key, err)
			}
			c.K = k
			c.PassAtK = value
		case strings.HasPrefix(key, passHatPrefix):
			c.PassHatK = value
		}
	}
	return nil
}

// TaskObject returns the JSON object of one task with the condition
// summaries keyed by ConditionKey.
func (d Document) TaskObject(taskID string) (map[string]any, bool) {
	t, ok := d.Tasks[taskID]
	if !ok || t == nil {
		return nil, false
	}
	obj := map[string]any{
		"n_pairs":       t.NPairs,
		"missing_pairs": t.MissingPairs,
		"comparison":    t.Comparison,
	}
	obj[ConditionKey(d.Treatment)] = t.Treatment
	obj[ConditionKey(d.Control)] = t.Control
	if len(t.Pairs) > 0 {
		obj["pairs"] = t.Pairs
	}
	return obj, true
}

// MarshalJSON writes the document with condition-keyed task objects.
func (d Document) MarshalJSON() ([]byte, error) {
	type plain Document
	tasks := make(map[string]map[string]any, len(d.Tasks))
	for id := range d.Tasks {
		if obj, ok := d.TaskObject(id); ok {
			tasks[id] = obj
		}
	}
	return json.Marshal(struct {
		plain
		Tasks map[string]map[string]any `json:"tasks"`
	}{plain: plain(d), Tasks: tasks})
}

// UnmarshalJSON reads a document written by MarshalJSON.
func (d *Document) UnmarshalJSON(data []byte) error {
	type plain Document
	aux := struct {
		*plain
		Tasks map[string]map[string]json.RawMessage `json:"tasks"`
	}{plain: (*plain)(d)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	d.Tasks = make(map[string]*TaskReport, len(aux.Tasks))
	for id, fields := range aux.Tasks {
		t := &TaskReport{}
		targets := map[string]any{
			"n_pairs":       &t.NPairs,
			"missing_pairs": &t.MissingPairs,
			"comparison":    &t.Comparison,
			"pairs":         &t.Pairs,
		}
		targets[ConditionKey(d.Treatment)] = &t.Treatment
		targets[ConditionKey(d.Control)] = &t.Control
		for key, target := range targets {
			raw, ok := fields[key]
			if !ok {
				continue
			}
			if err := json.Unmarshal(raw, target); err != nil {
				return fmt.Errorf("task %s: field %s: %w", id, key, err)
			}
		}
		d.Tasks[id] = t
	}
	return nil
}

// WriteJSON writes doc as indented JSON followed by a newline.
func WriteJSON(w io.Writer, doc *Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// ParseJSON reads a document written by WriteJSON.
func ParseJSON(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse report: %w", err)
	}
	return &doc, nil
}
