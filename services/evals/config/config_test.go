// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianEval/pkg/logging"
	"github.com/AleutianAI/AleutianEval/services/evals/stats"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "evalstats.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "grading-result.json", cfg.RecordFile)
	assert.Equal(t, "with-plugin", cfg.Treatment)
	assert.Equal(t, "no-plugin", cfg.Control)
	assert.Equal(t, 3, cfg.PassK)
	assert.Equal(t, stats.ModeAuto, cfg.BackendMode())
}

func TestLoad_FileOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
treatment: v2
control: v1
pass_k: 5
backend: approximate
log:
  level: debug
server:
  addr: ":9000"
  watch: true
  debounce: 2s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "v2", cfg.Treatment)
	assert.Equal(t, "v1", cfg.Control)
	assert.Equal(t, 5, cfg.PassK)
	assert.Equal(t, stats.ModeApproximate, cfg.BackendMode())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.True(t, cfg.Server.Watch)
	assert.Equal(t, 2*time.Second, cfg.Server.Debounce)

	// Untouched keys keep defaults.
	assert.Equal(t, "plans_exists", cfg.SuccessGrader)
	assert.Equal(t, 0.05, cfg.Alpha)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "pass_k: 5\nalpha: 0.1\n")
	t.Setenv("EVALSTATS_PASS_K", "7")
	t.Setenv("EVALSTATS_CODE_WEIGHT", "0.5")
	t.Setenv("EVALSTATS_MODEL_WEIGHT", "0.5")
	t.Setenv("EVALSTATS_LOG_JSON", "true")
	t.Setenv("EVALSTATS_DEBOUNCE", "1s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.PassK)
	assert.Equal(t, 0.1, cfg.Alpha)
	assert.Equal(t, 0.5, cfg.CodeWeight)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, time.Second, cfg.Server.Debounce)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.ErrorIs(t, err, ErrConfigNotFound)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "pass_k: [1, 2\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse config")
	})

	t.Run("bad env value", func(t *testing.T) {
		t.Setenv("EVALSTATS_ALPHA", "small")
		_, err := Load("")
		assert.ErrorIs(t, err, ErrInvalidConfig)
		assert.Contains(t, err.Error(), "EVALSTATS_ALPHA")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"weights do not sum to 1", func(c *Config) { c.CodeWeight = 0.7 }, "must equal 1"},
		{"same conditions", func(c *Config) { c.Control = c.Treatment }, "must differ"},
		{"conditions share a report key", func(c *Config) { c.Treatment, c.Control = "a-b", "a_b" }, `report key "a_b"`},
		{"unknown backend", func(c *Config) { c.Backend = "gpu" }, "unknown numeric backend"},
		{"alpha out of range", func(c *Config) { c.Alpha = 1 }, "Alpha"},
		{"pass k zero", func(c *Config) { c.PassK = 0 }, "PassK"},
		{"empty record file", func(c *Config) { c.RecordFile = "" }, "RecordFile"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "Level"},
		{"bad trace exporter", func(c *Config) { c.Telemetry.TraceExporter = "zipkin" }, "TraceExporter"},
		{"negative debounce", func(c *Config) { c.Server.Debounce = -time.Second }, "Debounce"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMerge_DefersValidation(t *testing.T) {
	path := writeConfig(t, "backend: gpu\n")

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg, err := Merge(path)
	require.NoError(t, err)
	assert.Equal(t, "gpu", cfg.Backend)

	cfg.Backend = "exact"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.CodeWeight = 0.9
	cfg.Control = cfg.Treatment

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must equal 1")
	assert.Contains(t, err.Error(), "must differ")
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.Treatment = "v2"
	cfg.Control = "v1"
	cfg.Log.Level = "WARN"
	cfg.Log.Dir = "/var/log/evals"

	lc := cfg.LoaderConfig()
	assert.Equal(t, "v2", lc.Treatment)
	assert.Equal(t, 0.6, lc.CodeWeight)

	ac := cfg.AnalysisConfig()
	assert.Equal(t, "v1", ac.Control)
	assert.Equal(t, 3, ac.PassK)

	logCfg := cfg.LoggingConfig("evalstats")
	assert.Equal(t, logging.LevelWarn, logCfg.Level)
	assert.Equal(t, "/var/log/evals", logCfg.LogDir)
	assert.Equal(t, "evalstats", logCfg.Service)
}
