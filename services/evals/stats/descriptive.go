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

import (
	"math"

	mstats "github.com/montanaflynn/stats"
)

// Summary holds sample descriptive statistics.
type Summary struct {
	// N is the number of values.
	N int

	// Mean is the arithmetic mean. Zero for empty input.
	Mean float64

	// Variance is the Bessel-corrected (N-1) sample variance.
	// Zero when N < 2.
	Variance float64

	// Std is the square root of Variance.
	Std float64
}

// Describe computes the sample mean, variance and standard deviation.
//
// Description:
//
//	Sums run left to right in input order, so the result is reproducible
//	for a fixed ordering. Variance uses the N-1 divisor.
//
// Inputs:
//   - values: Sample values. May be empty.
//
// Outputs:
//   - Summary: Never contains NaN; degenerate inputs yield zeros.
//
// Thread Safety: This function is stateless and safe for concurrent use.
func Describe(values []float64) Summary {
	s := Summary{N: len(values)}
	if s.N == 0 {
		return s
	}

	mean, err := mstats.Mean(values)
	if err != nil {
		return s
	}
	s.Mean = mean

	if s.N < 2 {
		return s
	}

	variance, err := mstats.SampleVariance(values)
	if err != nil || math.IsNaN(variance) {
		return s
	}
	s.Variance = variance
	s.Std = math.Sqrt(variance)
	return s
}

// Rate returns count/n, or zero when n is zero.
func Rate(count, n int) float64 {
	if n <= 0 {
		return 0
	}
	return float64(count) / float64(n)
}
