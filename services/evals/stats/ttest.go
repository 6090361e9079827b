// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stats

import "math"

// ZeroVarianceFloor replaces an exactly zero sample variance so that the
// standard error and Cohen's d stay finite. It corresponds to a standard
// deviation of 0.001.
const ZeroVarianceFloor = 1e-6

// CILevel is the two-sided confidence level of the reported interval.
const CILevel = 0.95

// TTestResult holds the results of a paired t-test.
type TTestResult struct {
	// TStatistic is mean(diffs) / SE.
	TStatistic float64

	// PValue is the two-tailed p-value.
	PValue float64

	// CILower and CIUpper bound the 95% confidence interval on the mean
	// difference.
	CILower float64
	CIUpper float64

	// CohensD is the paired effect size mean(diffs) / std(diffs).
	CohensD float64

	// DegreesOfFreedom is n - 1, or 0 for degenerate input.
	DegreesOfFreedom int

	// Mean is the mean difference.
	Mean float64

	// StdErr is the standard error of the mean difference.
	StdErr float64

	// Exact is true when PValue and the interval came from ExactBackend.
	Exact bool
}

// Significant returns true if PValue < alpha.
func (r TTestResult) Significant(alpha float64) bool {
	return r.PValue < alpha
}

// CIContains returns true if the confidence interval contains v.
func (r TTestResult) CIContains(v float64) bool {
	return v >= r.CILower && v <= r.CIUpper
}

// PairedTTest runs a two-sided paired t-test on per-iteration differences.
//
// Description:
//
//	Computes the sample mean and N-1 variance of diffs, the standard error,
//	t = mean/SE with df = n-1, the two-tailed p-value and 95% interval via
//	backend, and Cohen's d for paired samples. A variance of exactly zero is
//	replaced by ZeroVarianceFloor before any division.
//
// Inputs:
//   - diffs: Treatment minus control scores, ordered by iteration.
//   - backend: t distribution backend. Nil means ExactBackend.
//
// Outputs:
//   - TTestResult: For fewer than two differences, the neutral result
//     t=0, p=1, CI=[0,0], d=0.
//
// Thread Safety: This function is stateless and safe for concurrent use.
func PairedTTest(diffs []float64, backend Backend) TTestResult {
	if backend == nil {
		backend = ExactBackend{}
	}

	n := len(diffs)
	if n < 2 {
		return TTestResult{PValue: 1.0, Exact: backend.Exact()}
	}

	summary := Describe(diffs)
	variance := summary.Variance
	if variance == 0 {
		variance = ZeroVarianceFloor
	}
	std := math.Sqrt(variance)

	se := math.Sqrt(variance / float64(n))
	var t float64
	if se > 0 {
		t = summary.Mean / se
	}

	df := n - 1
	p := backend.TwoTailedPValue(t, df)

	margin := backend.CriticalValue(df, 1-(1-CILevel)/2) * se

	var d float64
	if std > 0 {
		d = summary.Mean / std
	}

	return TTestResult{
		TStatistic:       t,
		PValue:           p,
		CILower:          summary.Mean - margin,
		CIUpper:          summary.Mean + margin,
		CohensD:          d,
		DegreesOfFreedom: df,
		Mean:             summary.Mean,
		StdErr:           se,
		Exact:            backend.Exact(),
	}
}
