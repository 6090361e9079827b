// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command evalstats compares two agent conditions over a directory of
// graded evaluation trials.
//
// Usage:
//
//	evalstats analyze ./results/run-42
//	evalstats analyze ./results/run-42 --json
//	evalstats analyze ./results/run-42 --format xlsx --output run-42.xlsx
//	evalstats serve ./results/run-42 --watch
//	evalstats passk 10 3 3
//
// The results directory layout is <task>/<condition>/iter-<n>/grading-result.json.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
