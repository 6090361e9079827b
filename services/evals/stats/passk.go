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

// PassAtK estimates pass@k from n trials with c successes.
//
// Description:
//
//	Returns the probability that at least one of k attempts drawn without
//	replacement from the n trials succeeds, using the unbiased estimator
//	1 - C(n-c, k) / C(n, k). The binomial ratio is accumulated as a running
//	product of k factors (n-c-i)/(n-i) so no factorial is ever formed.
//
// Inputs:
//   - n: Number of trials.
//   - c: Number of successful trials.
//   - k: Number of attempts drawn.
//
// Outputs:
//   - float64: Estimate in [0, 1].
//
// Edge cases:
//   - n < k: 0 if c == 0, otherwise 1.
//   - c == 0: 0.
//   - c >= n: 1.
//
// Thread Safety: This function is stateless and safe for concurrent use.
func PassAtK(n, c, k int) float64 {
	if n < k {
		if c == 0 {
			return 0.0
		}
		return 1.0
	}
	if c == 0 {
		return 0.0
	}
	if c >= n {
		return 1.0
	}

	ratio := 1.0
	for i := 0; i < k; i++ {
		ratio *= float64(n-c-i) / float64(n-i)
		if ratio == 0 {
			break
		}
	}
	return clampUnit(1.0 - ratio)
}

// PassHatK estimates pass^k, the probability that k consecutive attempts
// all succeed, as (c/n)^k.
//
// Returns 0 when n is zero or n < k.
//
// Thread Safety: This function is stateless and safe for concurrent use.
func PassHatK(n, c, k int) float64 {
	if n <= 0 || n < k {
		return 0.0
	}
	if c <= 0 {
		if k == 0 {
			return 1.0
		}
		return 0.0
	}
	if c > n {
		c = n
	}
	return clampUnit(math.Pow(float64(c)/float64(n), float64(k)))
}

// clampUnit restricts v to [0, 1].
func clampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
