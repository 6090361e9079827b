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
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().
			Padding(0, 1)

	significantStyle = cellStyle.
				Foreground(lipgloss.Color("42"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))
)

// Text renders the console summary.
//
// One table row per analyzed task; significant rows are highlighted.
// Skipped tasks, skipped inputs and saturation follow as short lists.
func Text(doc *Document) string {
	var b strings.Builder
	ids := doc.TaskIDs()

	b.WriteString(titleStyle.Render("=== Statistical Analysis Results ==="))
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(fmt.Sprintf("Run ID: %s  Method: paired t-test  Backend: %s",
		doc.RunID, backendLabel(doc))))
	b.WriteString("\n\n")

	if len(ids) > 0 {
		significant := make([]bool, len(ids))
		rows := make([][]string, 0, len(ids))
		for i, id := range ids {
			t := doc.Tasks[id]
			c := t.Comparison
			significant[i] = c.Significant
			rows = append(rows, []string{
				id,
				strconv.Itoa(t.NPairs),
				strconv.Itoa(t.MissingPairs),
				fmt.Sprintf("%.2f ± %.2f", t.Treatment.Mean, t.Treatment.Std),
				fmt.Sprintf("%.2f ± %.2f", t.Control.Mean, t.Control.Std),
				fmt.Sprintf("%+.2f", c.DiffMean),
				fmt.Sprintf("[%.2f, %.2f]", c.CI95[0], c.CI95[1]),
				fmt.Sprintf("%.3f %s", c.CohensD, c.CohensDInterpretation),
				fmt.Sprintf("%.3f", c.PValue),
				percent(t.Treatment.PassAtK, 1) + " / " + percent(t.Control.PassAtK, 1),
			})
		}

		tbl := table.New().
			Border(lipgloss.NormalBorder()).
			BorderStyle(mutedStyle).
			Headers(
				"Task", "N", "Missing", doc.Treatment, doc.Control,
				"Diff", "95% CI", "Cohen's d", "p", fmt.Sprintf("pass@%d", doc.K),
			).
			Rows(rows...).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle
				}
				if row >= 0 && row < len(significant) && significant[row] {
					return significantStyle
				}
				return cellStyle
			})
		b.WriteString(tbl.String())
		b.WriteString("\n")
	}

	if len(doc.Skipped) > 0 {
		b.WriteString("\n")
		b.WriteString(warnStyle.Render("Skipped tasks:"))
		b.WriteString("\n")
		for _, s := range doc.Skipped {
			fmt.Fprintf(&b, "  %s (%d pairs): %s\n", s.TaskID, s.Pairs, s.Reason)
		}
	}

	if len(doc.Diagnostics) > 0 {
		b.WriteString("\n")
		b.WriteString(warnStyle.Render(fmt.Sprintf("Skipped inputs: %d", len(doc.Diagnostics))))
		b.WriteString("\n")
		for _, d := range doc.Diagnostics {
			fmt.Fprintf(&b, "  %s/%s/iter-%d: %s\n", d.TaskID, d.Condition, d.Iteration, d.Kind)
		}
	}

	if len(doc.Saturation.Metrics) > 0 {
		b.WriteString("\n")
		b.WriteString(warnStyle.Render("Saturation:"))
		b.WriteString("\n")
		for _, m := range doc.Saturation.Metrics {
			fmt.Fprintf(&b, "  %s: %s\n", m.Metric, percent(m.Value, 1))
		}
		for _, r := range doc.Saturation.Recommendations {
			fmt.Fprintf(&b, "  > %s\n", r)
		}
	}

	return b.String()
}
