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
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianEval/services/evals/report"
)

// errConflictingFormats is returned when shorthand flags disagree.
var errConflictingFormats = errors.New("--json and --report cannot be combined")

type analyzeOptions struct {
	format     string
	json       bool
	markdown   bool
	output     string
	metricsOut string
}

// resolveFormat applies the --json and --report shorthands over --format.
func (o analyzeOptions) resolveFormat() (report.Format, error) {
	switch {
	case o.json && o.markdown:
		return "", errConflictingFormats
	case o.json:
		return report.FormatJSON, nil
	case o.markdown:
		return report.FormatMarkdown, nil
	default:
		return report.ParseFormat(o.format)
	}
}

func newAnalyzeCmd(global *globalOptions) *cobra.Command {
	opts := analyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze <results_dir>",
		Short: "Compare both conditions of every task in a results directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, global, opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.format, "format", "f", string(report.FormatText), "Output format: json, text, markdown, html or xlsx")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Shorthand for --format json")
	cmd.Flags().BoolVar(&opts.markdown, "report", false, "Shorthand for --format markdown")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Write the report to a file instead of stdout")
	cmd.Flags().StringVar(&opts.metricsOut, "metrics-out", "", "Write Prometheus metrics in textfile format to this path")
	return cmd
}

func runAnalyze(cmd *cobra.Command, global *globalOptions, opts analyzeOptions, root string) error {
	format, err := opts.resolveFormat()
	if err != nil {
		return err
	}

	cfg, err := global.loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()

	load, err := a.loader.Load(ctx, root)
	if err != nil {
		return err
	}

	run, err := a.analyzer.AnalyzeRun(ctx, load)
	if err != nil {
		return err
	}

	doc := report.Build(run, report.Options{IncludePairs: format.NeedsPairs()})

	if err := writeReport(cmd, doc, format, opts.output); err != nil {
		return err
	}

	if opts.metricsOut != "" {
		if err := a.prom.WriteTextfile(opts.metricsOut); err != nil {
			return err
		}
		a.logger.Info("metrics written", "path", opts.metricsOut)
	}
	return nil
}

// writeReport renders doc to path, or to stdout when path is empty.
func writeReport(cmd *cobra.Command, doc *report.Document, format report.Format, path string) (err error) {
	var w io.Writer = cmd.OutOrStdout()
	if path != "" {
		f, createErr := os.Create(path)
		if createErr != nil {
			return fmt.Errorf("create report file: %w", createErr)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		w = f
	}
	return report.Render(cmd.Context(), w, doc, format)
}
