// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stats

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/AleutianAI/AleutianEval/pkg/logging"
	"gonum.org/v1/gonum/stat/distuv"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrUnknownBackend indicates an unrecognized backend mode.
	ErrUnknownBackend = errors.New("unknown numeric backend")

	// ErrBackendUnavailable indicates the exact backend failed its self check.
	ErrBackendUnavailable = errors.New("exact numeric backend unavailable")
)

// -----------------------------------------------------------------------------
// Backend Interface
// -----------------------------------------------------------------------------

// Backend evaluates the Student's t distribution for the paired test.
//
// Description:
//
//	Implementations are selected once with SelectBackend and passed into
//	PairedTTest. Callers never need to know which implementation ran; they
//	read Exact on the result instead.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Backend interface {
	// Name identifies the backend in logs and reports.
	Name() string

	// Exact reports whether results come from the true t distribution.
	Exact() bool

	// TwoTailedPValue returns P(|T| >= |t|) for T ~ t(df).
	TwoTailedPValue(t float64, df int) float64

	// CriticalValue returns the t(df) quantile at q (0.975 for a 95% CI).
	CriticalValue(df int, q float64) float64
}

// BackendMode selects how SelectBackend chooses an implementation.
type BackendMode string

const (
	// ModeExact always uses ExactBackend.
	ModeExact BackendMode = "exact"

	// ModeApproximate always uses ApproximateBackend.
	ModeApproximate BackendMode = "approximate"

	// ModeAuto uses ExactBackend when its self check passes and falls back
	// to ApproximateBackend otherwise.
	ModeAuto BackendMode = "auto"
)

// ParseBackendMode parses a mode name. Empty means ModeAuto.
func ParseBackendMode(name string) (BackendMode, error) {
	switch BackendMode(strings.ToLower(strings.TrimSpace(name))) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeExact:
		return ModeExact, nil
	case ModeApproximate, "approx", "fallback":
		return ModeApproximate, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
}

// probeExact verifies the exact backend against known t values.
// Replaced in tests to simulate an unusable backend.
var probeExact = func() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrBackendUnavailable, r)
		}
	}()

	b := ExactBackend{}
	// t(4) upper 2.5% point is 2.7764; the CDF of a symmetric t at 0 is 0.5.
	if q := b.CriticalValue(4, 0.975); math.IsNaN(q) || math.Abs(q-2.7764451) > 1e-4 {
		return fmt.Errorf("%w: quantile check returned %v", ErrBackendUnavailable, q)
	}
	if p := b.TwoTailedPValue(0, 4); math.Abs(p-1) > 1e-9 {
		return fmt.Errorf("%w: cdf check returned p=%v", ErrBackendUnavailable, p)
	}
	return nil
}

// SelectBackend resolves a mode into a Backend.
//
// Description:
//
//	ModeAuto probes the exact backend once. On failure it logs a single
//	warning and returns ApproximateBackend. ModeExact returns an error
//	instead of falling back so that exactness is never claimed silently.
//
// Inputs:
//   - mode: Selection mode.
//   - logger: Receives the fallback notice. May be nil.
//
// Outputs:
//   - Backend: The selected backend. Never nil when err is nil.
//   - error: ErrUnknownBackend or ErrBackendUnavailable.
func SelectBackend(mode BackendMode, logger *logging.Logger) (Backend, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	switch mode {
	case ModeApproximate:
		return ApproximateBackend{}, nil
	case ModeExact:
		if err := probeExact(); err != nil {
			return nil, err
		}
		return ExactBackend{}, nil
	case ModeAuto, "":
		if err := probeExact(); err != nil {
			logger.Warn("exact t-distribution backend unavailable, using approximation",
				"error", err,
				"backend", ApproximateBackend{}.Name(),
			)
			return ApproximateBackend{}, nil
		}
		return ExactBackend{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, mode)
	}
}

// -----------------------------------------------------------------------------
// Exact Backend
// -----------------------------------------------------------------------------

// ExactBackend evaluates the Student's t distribution with gonum.
type ExactBackend struct{}

// Name implements Backend.
func (ExactBackend) Name() string { return "exact" }

// Exact implements Backend.
func (ExactBackend) Exact() bool { return true }

// TwoTailedPValue implements Backend.
func (ExactBackend) TwoTailedPValue(t float64, df int) float64 {
	if df < 1 || math.IsNaN(t) {
		return 1
	}
	dist := studentsT(df)
	return clampUnit(2 * (1 - dist.CDF(math.Abs(t))))
}

// CriticalValue implements Backend.
func (ExactBackend) CriticalValue(df int, q float64) float64 {
	if df < 1 {
		df = 1
	}
	return studentsT(df).Quantile(q)
}

func studentsT(df int) distuv.StudentsT {
	return distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(df)}
}

// -----------------------------------------------------------------------------
// Approximate Backend
// -----------------------------------------------------------------------------

// ApproximateBackend uses closed form approximations of the t distribution.
//
// P-values use the standard normal tail for df > 30 and the conservative
// bound 2·exp(-t²/2) below that. Critical values come from a coarse table
// keyed by df. Results are monotonic in |t| but only approximate.
type ApproximateBackend struct{}

// Name implements Backend.
func (ApproximateBackend) Name() string { return "approximate" }

// Exact implements Backend.
func (ApproximateBackend) Exact() bool { return false }

// TwoTailedPValue implements Backend.
func (ApproximateBackend) TwoTailedPValue(t float64, df int) float64 {
	if df < 1 || math.IsNaN(t) {
		return 1
	}
	absT := math.Abs(t)
	if df > 30 {
		return clampUnit(2 * (1 - normalCDF(absT)))
	}
	return math.Min(1, 2*math.Exp(-absT*absT/2))
}

// criticalTable maps a minimum df to the 97.5% t quantile.
var criticalTable = []struct {
	minDF int
	value float64
}{
	{120, 1.96},
	{60, 2.00},
	{30, 2.04},
	{20, 2.09},
	{15, 2.13},
	{10, 2.23},
	{5, 2.57},
}

// smallDFCritical is used below the smallest table entry.
const smallDFCritical = 2.78

// CriticalValue implements Backend.
//
// The table covers q = 0.975. Other quantiles use the normal quantile.
func (ApproximateBackend) CriticalValue(df int, q float64) float64 {
	if math.Abs(q-0.975) > 1e-9 {
		return zScore(q)
	}
	for _, row := range criticalTable {
		if df >= row.minDF {
			return row.value
		}
	}
	return smallDFCritical
}

// normalCDF approximates the standard normal CDF.
func normalCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// zScore returns the standard normal quantile at p.
func zScore(p float64) float64 {
	if p <= 0 {
		return math.Inf(-1)
	}
	if p >= 1 {
		return math.Inf(1)
	}
	return math.Sqrt2 * math.Erfinv(2*p-1)
}
