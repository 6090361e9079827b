// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"fmt"
	"strings"
)

// Markdown renders the document as a Markdown report.
//
// Sections: experiment setup, result summary table, success rates and
// pass@k, per-task test details, skipped tasks, skipped inputs,
// saturation, and methodology. Empty sections are left out.
func Markdown(doc *Document) string {
	var b strings.Builder
	ids := doc.TaskIDs()

	b.WriteString("# Evaluation Statistics Report\n\n")

	b.WriteString("## Experiment Setup\n\n")
	fmt.Fprintf(&b, "- **Run ID**: %s\n", doc.RunID)
	fmt.Fprintf(&b, "- **Report ID**: %s\n", doc.ReportID)
	fmt.Fprintf(&b, "- **Tasks analyzed**: %d\n", len(doc.Tasks))
	b.WriteString("- **Statistical method**: paired t-test\n")
	fmt.Fprintf(&b, "- **Numeric backend**: %s\n", backendLabel(doc))
	fmt.Fprintf(&b, "- **Conditions**: %s (treatment) vs %s (control)\n", doc.Treatment, doc.Control)
	for _, id := range ids {
		t := doc.Tasks[id]
		fmt.Fprintf(&b, "- **%s**: N=%d pairs (missing: %d)\n", id, t.NPairs, t.MissingPairs)
	}
	b.WriteString("\n")

	if len(ids) > 0 {
		b.WriteString("## Result Summary\n\n")
		fmt.Fprintf(&b, "| Task | %s | %s | Difference (95%% CI) | Cohen's d | p-value |\n", doc.Treatment, doc.Control)
		b.WriteString("|------|------|------|------|------|------|\n")
		for _, id := range ids {
			t := doc.Tasks[id]
			c := t.Comparison
			diff := fmt.Sprintf("%+.2f", c.DiffMean)
			if c.Significant {
				diff = "**" + diff + "**"
			}
			fmt.Fprintf(&b, "| %s | %.2f ± %.2f | %.2f ± %.2f | %s [%.2f, %.2f] | %.3f (%s) | %.3f |\n",
				id,
				t.Treatment.Mean, t.Treatment.Std,
				t.Control.Mean, t.Control.Std,
				diff, c.CI95[0], c.CI95[1],
				c.CohensD, c.CohensDInterpretation,
				c.PValue,
			)
		}
		b.WriteString("\n")

		b.WriteString("## Success Rates\n\n")
		fmt.Fprintf(&b, "| Task | %s | %s | pass@%d (%s) | pass@%d (%s) | pass^%d (%s) | pass^%d (%s) |\n",
			doc.Treatment, doc.Control,
			doc.K, doc.Treatment, doc.K, doc.Control,
			doc.K, doc.Treatment, doc.K, doc.Control,
		)
		b.WriteString("|------|------|------|------|------|------|------|\n")
		for _, id := range ids {
			t := doc.Tasks[id]
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s |\n",
				id,
				percent(t.Treatment.SuccessRate, 0), percent(t.Control.SuccessRate, 0),
				percent(t.Treatment.PassAtK, 1), percent(t.Control.PassAtK, 1),
				percent(t.Treatment.PassHatK, 1), percent(t.Control.PassHatK, 1),
			)
		}
		b.WriteString("\n")

		b.WriteString("## Statistical Tests\n\n")
		for _, id := range ids {
			t := doc.Tasks[id]
			c := t.Comparison
			conclusion := "no significant difference"
			if c.Significant {
				conclusion = "statistically significant difference"
			}
			fmt.Fprintf(&b, "### %s\n\n", id)
			fmt.Fprintf(&b, "- **N (pairs)**: %d\n", t.NPairs)
			fmt.Fprintf(&b, "- **Mean difference**: %+.2f ± %.2f\n", c.DiffMean, c.DiffStd)
			fmt.Fprintf(&b, "- **t statistic**: %.3f\n", c.TStatistic)
			fmt.Fprintf(&b, "- **Cohen's d**: %.3f (effect: %s)\n", c.CohensD, c.CohensDInterpretation)
			fmt.Fprintf(&b, "- **p-value**: %.3f (α=%g)\n", c.PValue, doc.Alpha)
			fmt.Fprintf(&b, "- **95%% CI**: [%.2f, %.2f]\n", c.CI95[0], c.CI95[1])
			fmt.Fprintf(&b, "- **Conclusion**: %s\n\n", conclusion)
		}
	}

	if len(doc.Skipped) > 0 {
		b.WriteString("## Skipped Tasks\n\n")
		b.WriteString("| Task | Pairs | Reason |\n")
		b.WriteString("|------|------|------|\n")
		for _, s := range doc.Skipped {
			fmt.Fprintf(&b, "| %s | %d | %s |\n", s.TaskID, s.Pairs, escapeCell(s.Reason))
		}
		b.WriteString("\n")
	}

	if len(doc.Diagnostics) > 0 {
		b.WriteString("## Skipped Inputs\n\n")
		b.WriteString("| Task | Condition | Iteration | Kind | Detail |\n")
		b.WriteString("|------|------|------|------|------|\n")
		for _, d := range doc.Diagnostics {
			fmt.Fprintf(&b, "| %s | %s | %d | %s | %s |\n",
				d.TaskID, d.Condition, d.Iteration, d.Kind, escapeCell(d.Error))
		}
		b.WriteString("\n")
	}

	if len(doc.Saturation.Metrics) > 0 {
		b.WriteString("## Saturation\n\n")
		for _, m := range doc.Saturation.Metrics {
			fmt.Fprintf(&b, "- %s: %s\n", m.Metric, percent(m.Value, 1))
		}
		b.WriteString("\n")
		for _, r := range doc.Saturation.Recommendations {
			fmt.Fprintf(&b, "> %s\n", r)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Methodology\n\n")
	b.WriteString("- **Design**: paired two-condition comparison (within-subjects)\n")
	b.WriteString("- **Test**: paired t-test on per-iteration score differences\n")
	b.WriteString("- **Effect size**: Cohen's d, normalized by the standard deviation of the differences\n")
	b.WriteString("- **pass@k**: unbiased estimator 1 - C(n-c, k) / C(n, k)\n")
	return b.String()
}

func backendLabel(doc *Document) string {
	if doc.ExactBackend {
		return doc.Backend + " (Student's t)"
	}
	return doc.Backend + " (normal approximation)"
}

func percent(v float64, decimals int) string {
	return fmt.Sprintf("%.*f%%", decimals, v*100)
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}
