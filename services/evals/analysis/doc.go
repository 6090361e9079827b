// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analysis turns loaded trial records into per-task paired
// comparisons.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────┐
//	│                           ANALYZER                               │
//	├──────────────────────────────────────────────────────────────────┤
//	│                                                                  │
//	│   LoadResult ──► per task (sorted) ──► trials.Pair               │
//	│                                            │                     │
//	│                         < 2 pairs ◄────────┤                     │
//	│                         TaskFailure        ▼                     │
//	│                                  condition summaries             │
//	│                                  stats.PairedTTest               │
//	│                                  stats.PassAtK / PassHatK        │
//	│                                  stats.CategorizeEffect          │
//	│                                            │                     │
//	│                                            ▼                     │
//	│   RunResult ◄── saturation check ◄── TaskStatistics              │
//	│       │                                                          │
//	│       └──► telemetry.Sink (Reset, RecordComparison, RecordRun)   │
//	│                                                                  │
//	└──────────────────────────────────────────────────────────────────┘
//
// A task with fewer than two paired iterations is reported as a failure
// and never yields partial statistics. Failures do not stop the run.
//
// # Determinism
//
// Tasks are processed in ascending task id order and every sum runs over
// the iteration-sorted pairs, so identical inputs give identical results.
//
// # Thread Safety
//
// An Analyzer holds no per-run state and is safe for concurrent use.
package analysis
