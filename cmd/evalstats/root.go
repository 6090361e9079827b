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
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianEval/pkg/logging"
	"github.com/AleutianAI/AleutianEval/services/evals/analysis"
	"github.com/AleutianAI/AleutianEval/services/evals/config"
	"github.com/AleutianAI/AleutianEval/services/evals/stats"
	"github.com/AleutianAI/AleutianEval/services/evals/telemetry"
	"github.com/AleutianAI/AleutianEval/services/evals/trials"
)

const serviceName = "evalstats"

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	backend    string
	logLevel   string
	logJSON    bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "evalstats",
		Short: "Paired statistical comparison of agent evaluation trials",
		Long: `evalstats reads graded trials for two conditions of the same tasks,
pairs them by iteration and reports a paired t-test, Cohen's d, pass@k and
pass^k per task.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&opts.backend, "backend", "", "Numeric backend: exact, approximate or auto")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&opts.logJSON, "log-json", false, "Write logs as JSON")

	rootCmd.AddCommand(newAnalyzeCmd(opts))
	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newPassKCmd())
	return rootCmd
}

// loadConfig merges defaults, file, environment and the persistent flags.
func (o *globalOptions) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Merge(o.configPath)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend = o.backend
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON = o.logJSON
	}
	return cfg, cfg.Validate()
}

// app is the wired analysis pipeline of one command invocation.
type app struct {
	cfg      config.Config
	logger   *logging.Logger
	loader   *trials.Loader
	analyzer *analysis.Analyzer
	prom     *telemetry.PrometheusSink
	sink     telemetry.Sink

	shutdown func(context.Context) error
}

// newApp wires logging, telemetry, the numeric backend, the loader and
// the analyzer from cfg.
//
// # Inputs
//
//   - ctx: Used for exporter connections.
//   - cfg: Validated configuration.
//   - logOut: Console log destination.
//
// # Outputs
//
//   - *app: Call close when done.
//   - error: Telemetry, sink or backend setup failure.
func newApp(ctx context.Context, cfg config.Config, logOut io.Writer) (*app, error) {
	logCfg := cfg.LoggingConfig(serviceName)
	logCfg.Output = logOut
	logger := logging.New(logCfg)

	a := &app{cfg: cfg, logger: logger}

	telCfg := cfg.Telemetry
	if telCfg.ServiceName == "" {
		telCfg.ServiceName = serviceName
	}
	shutdown, err := telemetry.Init(ctx, telCfg)
	if err != nil {
		_ = logger.Close()
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.shutdown = shutdown

	promCfg := telemetry.DefaultPrometheusConfig()
	promCfg.Registry = prometheus.NewRegistry()
	a.prom, err = telemetry.NewPrometheusSink(promCfg)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("create prometheus sink: %w", err)
	}

	otelSink, err := telemetry.NewOTelSink(nil)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("create otel sink: %w", err)
	}

	composite, err := telemetry.NewCompositeSink(a.prom, otelSink)
	if err != nil {
		a.close()
		return nil, err
	}
	a.sink = composite

	backend, err := stats.SelectBackend(cfg.BackendMode(), logger)
	if err != nil {
		a.close()
		return nil, err
	}

	a.loader = trials.NewLoader(cfg.LoaderConfig(), logger)
	a.analyzer = analysis.NewAnalyzer(cfg.AnalysisConfig(), backend, logger, a.sink)

	logger.Debug("pipeline ready",
		"backend", backend.Name(),
		"treatment", cfg.Treatment,
		"control", cfg.Control,
		"pass_k", cfg.PassK,
	)
	return a, nil
}

func (a *app) close() {
	var errs []error
	if a.sink != nil {
		errs = append(errs, a.sink.Close())
	} else if a.prom != nil {
		errs = append(errs, a.prom.Close())
	}
	if a.shutdown != nil {
		errs = append(errs, a.shutdown(context.Background()))
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("shutdown failed", "error", err)
	}
	_ = a.logger.Close()
}
