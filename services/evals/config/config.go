// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads evalstats configuration.
//
// Priority, highest first: command line flags (applied by the caller),
// EVALSTATS_* environment variables, the YAML file, defaults.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianEval/pkg/logging"
	"github.com/AleutianAI/AleutianEval/services/evals/analysis"
	"github.com/AleutianAI/AleutianEval/services/evals/report"
	"github.com/AleutianAI/AleutianEval/services/evals/stats"
	"github.com/AleutianAI/AleutianEval/services/evals/telemetry"
	"github.com/AleutianAI/AleutianEval/services/evals/trials"
)

var (
	// ErrConfigNotFound is returned when an explicit config file is missing.
	ErrConfigNotFound = errors.New("config file not found")

	// ErrInvalidConfig wraps every validation failure.
	ErrInvalidConfig = errors.New("invalid config")
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EVALSTATS_"

var configValidate *validator.Validate

func init() {
	configValidate = validator.New(validator.WithRequiredStructEnabled())
}

// Config is the complete evalstats configuration.
type Config struct {
	// RecordFile is the grading record file name inside each iter-N dir.
	RecordFile string `yaml:"record_file" json:"record_file" validate:"required"`

	// Treatment and Control are the condition directory names.
	Treatment string `yaml:"treatment" json:"treatment" validate:"required"`
	Control   string `yaml:"control" json:"control" validate:"required"`

	// SuccessGrader is the code grader whose value 1 means success.
	SuccessGrader string `yaml:"success_grader" json:"success_grader" validate:"required"`

	// CodeWeight and ModelWeight blend the sub-scores. Must sum to 1.
	CodeWeight  float64 `yaml:"code_weight" json:"code_weight" validate:"gte=0,lte=1"`
	ModelWeight float64 `yaml:"model_weight" json:"model_weight" validate:"gte=0,lte=1"`

	// PassK is the k of pass@k and pass^k.
	PassK int `yaml:"pass_k" json:"pass_k" validate:"gte=1"`

	// Alpha is the significance level.
	Alpha float64 `yaml:"alpha" json:"alpha" validate:"gt=0,lt=1"`

	// Backend is the numeric backend mode: exact, approximate or auto.
	Backend string `yaml:"backend" json:"backend"`

	// SaturationThreshold is the success rate reported as saturated.
	SaturationThreshold float64 `yaml:"saturation_threshold" json:"saturation_threshold" validate:"gt=0,lte=1"`

	Log       LogConfig        `yaml:"log" json:"log"`
	Telemetry telemetry.Config `yaml:"telemetry" json:"telemetry"`
	Server    ServerConfig     `yaml:"server" json:"server"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json" json:"json"`
	Dir   string `yaml:"dir" json:"dir"`
}

// ServerConfig controls the report server.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `yaml:"addr" json:"addr" validate:"required"`

	// Watch re-analyzes when the results directory changes.
	Watch bool `yaml:"watch" json:"watch"`

	// Debounce delays re-analysis until file events settle.
	Debounce time.Duration `yaml:"debounce" json:"debounce" validate:"gte=0"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		RecordFile:          trials.DefaultRecordFile,
		Treatment:           trials.DefaultTreatment,
		Control:             trials.DefaultControl,
		SuccessGrader:       trials.DefaultSuccessGrader,
		CodeWeight:          trials.DefaultCodeWeight,
		ModelWeight:         trials.DefaultModelWeight,
		PassK:               analysis.DefaultPassK,
		Alpha:               analysis.DefaultAlpha,
		Backend:             string(stats.ModeAuto),
		SaturationThreshold: analysis.DefaultSaturationThreshold,
		Log: LogConfig{
			Level: "info",
		},
		Telemetry: telemetry.DefaultConfig(),
		Server: ServerConfig{
			Addr:     ":8089",
			Debounce: 500 * time.Millisecond,
		},
	}
}

// Load builds the configuration with priority env > file > defaults.
//
// # Inputs
//
//   - path: YAML file. Empty means defaults and environment only.
//
// # Outputs
//
//   - Config: Merged and validated configuration.
//   - error: ErrConfigNotFound, a parse error, or ErrInvalidConfig.
func Load(path string) (Config, error) {
	cfg, err := Merge(path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Merge is Load without the final Validate, for callers that apply
// command line flags on top and validate afterwards.
func Merge(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return cfg, err
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto c. Keys absent from the
// file keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays EVALSTATS_* environment variables onto c.
//
// Unparseable values are reported together; valid ones are still applied.
func (c *Config) ApplyEnv() error {
	var errs []error

	setString := func(name string, dst *string) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	setFloat := func(name string, dst *float64) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = f
		}
	}
	setInt := func(name string, dst *int) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			i, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = i
		}
	}
	setBool := func(name string, dst *bool) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	setString("RECORD_FILE", &c.RecordFile)
	setString("TREATMENT", &c.Treatment)
	setString("CONTROL", &c.Control)
	setString("SUCCESS_GRADER", &c.SuccessGrader)
	setFloat("CODE_WEIGHT", &c.CodeWeight)
	setFloat("MODEL_WEIGHT", &c.ModelWeight)
	setInt("PASS_K", &c.PassK)
	setFloat("ALPHA", &c.Alpha)
	setString("BACKEND", &c.Backend)
	setFloat("SATURATION_THRESHOLD", &c.SaturationThreshold)

	setString("LOG_LEVEL", &c.Log.Level)
	setBool("LOG_JSON", &c.Log.JSON)
	setString("LOG_DIR", &c.Log.Dir)

	setString("SERVER_ADDR", &c.Server.Addr)
	setBool("WATCH", &c.Server.Watch)
	if v := os.Getenv(EnvPrefix + "DEBOUNCE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sDEBOUNCE: %w", EnvPrefix, err))
		} else {
			c.Server.Debounce = d
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Validate checks field constraints and cross-field rules.
//
// All problems are reported together.
func (c Config) Validate() error {
	var errs []error

	if err := configValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	// Labels that differ only in '-' versus '_' share a report key.
	if c.Treatment != "" && report.ConditionKey(c.Treatment) == report.ConditionKey(c.Control) {
		errs = append(errs, fmt.Errorf("treatment %q and control %q must differ in report key %q", c.Treatment, c.Control, report.ConditionKey(c.Control)))
	}
	if math.Abs(c.CodeWeight+c.ModelWeight-1) > 1e-9 {
		errs = append(errs, fmt.Errorf("code_weight + model_weight must equal 1, got %g", c.CodeWeight+c.ModelWeight))
	}
	if _, err := stats.ParseBackendMode(c.Backend); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// LoaderConfig returns the trial loader settings.
func (c Config) LoaderConfig() trials.LoaderConfig {
	return trials.LoaderConfig{
		RecordFile:    c.RecordFile,
		Treatment:     c.Treatment,
		Control:       c.Control,
		SuccessGrader: c.SuccessGrader,
		CodeWeight:    c.CodeWeight,
		ModelWeight:   c.ModelWeight,
	}
}

// AnalysisConfig returns the analyzer settings.
func (c Config) AnalysisConfig() analysis.Config {
	return analysis.Config{
		Treatment:           c.Treatment,
		Control:             c.Control,
		PassK:               c.PassK,
		Alpha:               c.Alpha,
		SaturationThreshold: c.SaturationThreshold,
	}
}

// BackendMode returns the parsed backend mode. Call after Validate.
func (c Config) BackendMode() stats.BackendMode {
	mode, err := stats.ParseBackendMode(c.Backend)
	if err != nil {
		return stats.ModeAuto
	}
	return mode
}

// LoggingConfig returns the logger settings for service.
func (c Config) LoggingConfig(service string) logging.Config {
	level, ok := logging.ParseLevel(strings.ToLower(c.Log.Level))
	if !ok {
		level = logging.LevelInfo
	}
	return logging.Config{
		Level:   level,
		LogDir:  c.Log.Dir,
		Service: service,
		JSON:    c.Log.JSON,
	}
}
