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
	"io"

	"github.com/xuri/excelize/v2"
)

// Workbook sheet names.
const (
	SheetSummary = "Summary"
	SheetPairs   = "Pairs"
	SheetSkipped = "Skipped"
)

// WriteXLSX writes the document as an Excel workbook.
//
// The Summary sheet has one row per task, Pairs one row per paired
// iteration (empty unless the document was built with IncludePairs), and
// Skipped one row per failed task or skipped input.
func WriteXLSX(w io.Writer, doc *Document) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	for _, name := range []string{SheetPairs, SheetSkipped} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	sheets := map[string][][]any{
		SheetSummary: summaryRows(doc),
		SheetPairs:   pairRows(doc),
		SheetSkipped: skippedRows(doc),
	}
	for _, name := range []string{SheetSummary, SheetPairs, SheetSkipped} {
		if err := writeSheet(f, name, sheets[name], bold); err != nil {
			return err
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, rows [][]any, headerStyle int) error {
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("sheet %s row %d: %w", sheet, i+1, err)
		}
	}
	if len(rows) > 0 {
		if err := f.SetRowStyle(sheet, 1, 1, headerStyle); err != nil {
			return fmt.Errorf("sheet %s header style: %w", sheet, err)
		}
	}
	return nil
}

func summaryRows(doc *Document) [][]any {
	rows := [][]any{{
		"Task", "Pairs", "Missing",
		doc.Treatment + " mean", doc.Treatment + " std", doc.Treatment + " success rate",
		doc.Control + " mean", doc.Control + " std", doc.Control + " success rate",
		"Diff mean", "Diff std", "t", "p", "CI low", "CI high",
		"Cohen's d", "Effect", "Significant",
		fmt.Sprintf("pass@%d %s", doc.K, doc.Treatment), fmt.Sprintf("pass@%d %s", doc.K, doc.Control),
		fmt.Sprintf("pass^%d %s", doc.K, doc.Treatment), fmt.Sprintf("pass^%d %s", doc.K, doc.Control),
	}}
	for _, id := range doc.TaskIDs() {
		t := doc.Tasks[id]
		c := t.Comparison
		rows = append(rows, []any{
			id, t.NPairs, t.MissingPairs,
			t.Treatment.Mean, t.Treatment.Std, t.Treatment.SuccessRate,
			t.Control.Mean, t.Control.Std, t.Control.SuccessRate,
			c.DiffMean, c.DiffStd, c.TStatistic, c.PValue, c.CI95[0], c.CI95[1],
			c.CohensD, c.CohensDInterpretation.String(), c.Significant,
			t.Treatment.PassAtK, t.Control.PassAtK,
			t.Treatment.PassHatK, t.Control.PassHatK,
		})
	}
	return rows
}

func pairRows(doc *Document) [][]any {
	rows := [][]any{{
		"Task", "Iteration",
		doc.Treatment + " score", doc.Control + " score", "Difference",
		doc.Treatment + " success", doc.Control + " success",
	}}
	for _, id := range doc.TaskIDs() {
		for _, p := range doc.Tasks[id].Pairs {
			rows = append(rows, []any{
				id, p.Iteration,
				p.TreatmentScore, p.ControlScore, p.Difference,
				p.TreatmentSuccess, p.ControlSuccess,
			})
		}
	}
	return rows
}

func skippedRows(doc *Document) [][]any {
	rows := [][]any{{"Task", "Condition", "Iteration", "Kind", "Detail"}}
	for _, s := range doc.Skipped {
		rows = append(rows, []any{s.TaskID, "", "", "task_failure", s.Reason})
	}
	for _, d := range doc.Diagnostics {
		rows = append(rows, []any{d.TaskID, d.Condition, d.Iteration, d.Kind, d.Error})
	}
	return rows
}
