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
	"fmt"

	"github.com/AleutianAI/AleutianEval/services/evals/stats"
)

// Saturation recommendations.
const (
	RecommendHarderTasks = "Overall success rate reached %.0f%%. Consider adding more challenging tasks or using pass^k metrics."
	RecommendRegression  = "Convert saturated tasks to regression tests and add new challenging scenarios."
)

// CheckSaturation reports success rates at or above threshold.
//
// # Description
//
// Every condition of every analyzed task is checked, followed by the
// overall success rate across all paired iterations of both conditions.
//
// # Inputs
//
//   - tasks: Analyzed tasks.
//   - threshold: Success rate in (0, 1]. Values <= 0 use
//     DefaultSaturationThreshold.
//
// # Outputs
//
//   - Saturation: Metrics in task order, treatment before control, with
//     the overall rate last.
func CheckSaturation(tasks []*TaskStatistics, threshold float64) Saturation {
	if threshold <= 0 {
		threshold = DefaultSaturationThreshold
	}
	sat := Saturation{Threshold: threshold}

	var successes, total int
	for _, t := range tasks {
		for _, c := range []ConditionStats{t.Treatment, t.Control} {
			successes += c.Successes
			total += t.N
			if c.SuccessRate >= threshold {
				sat.Metrics = append(sat.Metrics, SaturatedMetric{
					Metric:    fmt.Sprintf("task_%s_%s_success_rate", t.TaskID, c.Label),
					TaskID:    t.TaskID,
					Condition: c.Label,
					Value:     c.SuccessRate,
				})
			}
		}
	}

	overall := stats.Rate(successes, total)
	if total > 0 && overall >= threshold {
		sat.Metrics = append(sat.Metrics, SaturatedMetric{
			Metric: "overall_success_rate",
			Value:  overall,
		})
		sat.Recommendations = append(sat.Recommendations, fmt.Sprintf(RecommendHarderTasks, overall*100))
	}

	if sat.Saturated() {
		sat.Recommendations = append(sat.Recommendations, RecommendRegression)
	}
	return sat
}
