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
	"encoding/json"
	"fmt"
	"math"
)

// EffectCategory categorizes effect sizes using Cohen's conventions.
type EffectCategory int

const (
	// EffectNegligible indicates |d| < 0.2
	EffectNegligible EffectCategory = iota
	// EffectSmall indicates 0.2 <= |d| < 0.5
	EffectSmall
	// EffectMedium indicates 0.5 <= |d| < 0.8
	EffectMedium
	// EffectLarge indicates |d| >= 0.8
	EffectLarge
)

// Cohen's thresholds on |d|.
const (
	smallEffectThreshold  = 0.2
	mediumEffectThreshold = 0.5
	largeEffectThreshold  = 0.8
)

// String returns the label used in reports.
func (e EffectCategory) String() string {
	switch e {
	case EffectNegligible:
		return "negligible"
	case EffectSmall:
		return "small"
	case EffectMedium:
		return "medium"
	case EffectLarge:
		return "large"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the category as its label.
func (e EffectCategory) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

// UnmarshalJSON decodes a label produced by MarshalJSON.
func (e *EffectCategory) UnmarshalJSON(data []byte) error {
	var label string
	if err := json.Unmarshal(data, &label); err != nil {
		return err
	}
	parsed, err := ParseEffectCategory(label)
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// ParseEffectCategory is the inverse of EffectCategory.String.
func ParseEffectCategory(label string) (EffectCategory, error) {
	switch label {
	case "negligible":
		return EffectNegligible, nil
	case "small":
		return EffectSmall, nil
	case "medium":
		return EffectMedium, nil
	case "large":
		return EffectLarge, nil
	default:
		return EffectNegligible, fmt.Errorf("unknown effect category %q", label)
	}
}

// CategorizeEffect returns the category for a Cohen's d value.
//
// Only the magnitude matters: a large regression and a large improvement
// are both EffectLarge. NaN is treated as negligible.
func CategorizeEffect(d float64) EffectCategory {
	absD := math.Abs(d)
	switch {
	case math.IsNaN(absD), absD < smallEffectThreshold:
		return EffectNegligible
	case absD < mediumEffectThreshold:
		return EffectSmall
	case absD < largeEffectThreshold:
		return EffectMedium
	default:
		return EffectLarge
	}
}
