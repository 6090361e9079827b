// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianEval/services/evals/stats"
)

// errInvalidCounts is returned for trial counts outside 0 <= c <= n, k >= 1.
var errInvalidCounts = errors.New("invalid trial counts")

func newPassKCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "passk <n> <c> <k>",
		Short: "Print pass@k and pass^k for c successes out of n trials",
		Example: `  evalstats passk 10 3 3
  pass@3 = 0.708333
  pass^3 = 0.027000`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var counts [3]int
			for i, arg := range args {
				v, err := strconv.Atoi(arg)
				if err != nil {
					return fmt.Errorf("%w: %q is not an integer", errInvalidCounts, arg)
				}
				counts[i] = v
			}
			n, c, k := counts[0], counts[1], counts[2]
			if n < 0 || c < 0 || c > n || k < 1 {
				return fmt.Errorf("%w: need 0 <= c <= n and k >= 1, got n=%d c=%d k=%d", errInvalidCounts, n, c, k)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "pass@%d = %.6f\n", k, stats.PassAtK(n, c, k))
			fmt.Fprintf(out, "pass^%d = %.6f\n", k, stats.PassHatK(n, c, k))
			return nil
		},
	}
}
