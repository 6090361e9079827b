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

import "sort"

// Pair aligns a task's records by iteration across two conditions.
//
// Description:
//
//	Records are partitioned by condition. For every iteration seen in
//	either condition, a PairedObservation is emitted only when both sides
//	have a record; otherwise the iteration is counted as missing. Records
//	of any other condition are ignored. If a condition holds duplicate
//	iterations the first record in input order wins.
//
// Inputs:
//   - records: The task's records in any order.
//   - treatment: Condition label of the treatment side.
//   - control: Condition label of the control side.
//
// Outputs:
//   - PairSet: Pairs sorted by iteration ascending. The result does not
//     depend on the order of records.
//
// Thread Safety: This function is stateless and safe for concurrent use.
func Pair(records []TrialRecord, treatment, control string) PairSet {
	treated := indexByIteration(records, treatment)
	controlled := indexByIteration(records, control)

	seen := make(map[int]struct{}, len(treated)+len(controlled))
	for it := range treated {
		seen[it] = struct{}{}
	}
	for it := range controlled {
		seen[it] = struct{}{}
	}

	iterations := make([]int, 0, len(seen))
	for it := range seen {
		iterations = append(iterations, it)
	}
	sort.Ints(iterations)

	var set PairSet
	for _, it := range iterations {
		tr, okT := treated[it]
		cr, okC := controlled[it]
		if !okT || !okC {
			set.Missing++
			set.MissingIterations = append(set.MissingIterations, it)
			continue
		}
		set.Pairs = append(set.Pairs, PairedObservation{
			Iteration:        it,
			TreatmentScore:   tr.NormalizedScore,
			ControlScore:     cr.NormalizedScore,
			TreatmentSuccess: tr.Success,
			ControlSuccess:   cr.Success,
			Difference:       tr.NormalizedScore - cr.NormalizedScore,
		})
	}
	return set
}

func indexByIteration(records []TrialRecord, condition string) map[int]TrialRecord {
	out := make(map[int]TrialRecord)
	for _, r := range records {
		if r.Condition != condition {
			continue
		}
		if prev, dup := out[r.Iteration]; dup && prev.Path <= r.Path {
			continue
		}
		out[r.Iteration] = r
	}
	return out
}
