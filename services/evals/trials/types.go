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

// Default condition directory names.
const (
	DefaultTreatment = "with-plugin"
	DefaultControl   = "no-plugin"
)

// TrialRecord is one graded attempt for one condition of one task.
//
// Records are built once by the Loader and never mutated afterwards.
type TrialRecord struct {
	// Iteration is the N of the iter-N directory. Unique within a condition.
	Iteration int

	// Condition is the condition directory name.
	Condition string

	// Success is true when the configured success grader reported 1.
	Success bool

	// CodeScore is the structural sub-score in [0, 100].
	CodeScore float64

	// ModelScore is the model-graded sub-score in [0, 100].
	ModelScore float64

	// NormalizedScore is the weighted blend of CodeScore and ModelScore.
	NormalizedScore float64

	// Path is the record file the values were read from.
	Path string
}

// PairedObservation joins the treatment and control records of one
// iteration. It exists only when both conditions produced a record.
type PairedObservation struct {
	Iteration        int
	TreatmentScore   float64
	ControlScore     float64
	TreatmentSuccess bool
	ControlSuccess   bool

	// Difference is TreatmentScore - ControlScore.
	Difference float64
}

// PairSet is the result of pairing one task's records.
type PairSet struct {
	// Pairs is sorted by iteration ascending.
	Pairs []PairedObservation

	// Missing counts iterations present in only one condition.
	Missing int

	// MissingIterations lists those iterations, ascending.
	MissingIterations []int
}

// Len returns the number of paired observations.
func (p PairSet) Len() int { return len(p.Pairs) }

// Differences returns the per-pair differences in iteration order.
func (p PairSet) Differences() []float64 {
	out := make([]float64, len(p.Pairs))
	for i, obs := range p.Pairs {
		out[i] = obs.Difference
	}
	return out
}

// TreatmentScores returns treatment scores in iteration order.
func (p PairSet) TreatmentScores() []float64 {
	out := make([]float64, len(p.Pairs))
	for i, obs := range p.Pairs {
		out[i] = obs.TreatmentScore
	}
	return out
}

// ControlScores returns control scores in iteration order.
func (p PairSet) ControlScores() []float64 {
	out := make([]float64, len(p.Pairs))
	for i, obs := range p.Pairs {
		out[i] = obs.ControlScore
	}
	return out
}

// Successes returns the number of treatment and control successes.
func (p PairSet) Successes() (treatment, control int) {
	for _, obs := range p.Pairs {
		if obs.TreatmentSuccess {
			treatment++
		}
		if obs.ControlSuccess {
			control++
		}
	}
	return treatment, control
}
