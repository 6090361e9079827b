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
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianEval/services/evals/server"
	"github.com/AleutianAI/AleutianEval/services/evals/trials"
)

type serveOptions struct {
	addr  string
	watch bool
}

func newServeCmd(global *globalOptions) *cobra.Command {
	opts := serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve <results_dir>",
		Short: "Serve the report of a results directory over HTTP",
		Long: `Serve analyzes the results directory and serves the report:

  GET  /v1/evals/health
  GET  /v1/evals/report         (?format=json|text|markdown|html|xlsx)
  GET  /v1/evals/report.md
  GET  /v1/evals/tasks/:task_id
  POST /v1/evals/refresh
  GET  /metrics

With --watch the report is recomputed when files in the directory change.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, global, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "", "Listen address (default from config, :8089)")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Re-analyze when the results directory changes")
	return cmd
}

func runServe(cmd *cobra.Command, global *globalOptions, opts serveOptions, root string) error {
	cfg, err := global.loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("addr") {
		cfg.Server.Addr = opts.addr
	}
	if cmd.Flags().Changed("watch") {
		cfg.Server.Watch = opts.watch
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()

	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := server.New(server.Options{
		Root:        root,
		ServiceName: serviceName,
		Metrics:     a.prom.Handler(),
	}, a.loader, a.analyzer, a.logger)

	if err := srv.Refresh(ctx); err != nil && !errors.Is(err, trials.ErrNoResults) {
		return err
	}

	if cfg.Server.Watch {
		stopWatch, err := srv.Watch(ctx, cfg.Server.Debounce)
		if err != nil {
			return err
		}
		defer stopWatch()
	}

	return srv.Run(ctx, cfg.Server.Addr)
}
