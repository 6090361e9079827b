// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stats provides the numeric core of the paired evaluation analysis.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────────────────┐
//	│                            STATS                                     │
//	├─────────────────────────────────────────────────────────────────────┤
//	│                                                                      │
//	│   diffs ──► Describe ──► PairedTTest ──┬──► t, p, 95% CI            │
//	│                              │         └──► Cohen's d ──► Category  │
//	│                              ▼                                       │
//	│                           Backend                                    │
//	│                  ┌──────────┴──────────┐                             │
//	│             ExactBackend     ApproximateBackend                      │
//	│            (Student's t)     (normal / lookup)                       │
//	│                                                                      │
//	│   (n, c, k) ──► PassAtK / PassHatK                                   │
//	│                                                                      │
//	└─────────────────────────────────────────────────────────────────────┘
//
// # Backends
//
// The t-distribution is evaluated through a Backend chosen once at startup
// with SelectBackend and injected into PairedTTest. ExactBackend uses the
// Student's t CDF and quantile from gonum. ApproximateBackend uses closed
// form approximations and a critical-value lookup table; it is directionally
// consistent with the exact path but not a substitute for it, so every
// TTestResult records which kind of backend produced it.
//
// # Determinism
//
// All sums run left to right over the input order. Callers sort paired
// observations by iteration before handing differences to this package, so
// identical inputs always produce bit-identical results.
//
// # Thread Safety
//
// All functions are stateless and safe for concurrent use. Backends are
// immutable values.
package stats
