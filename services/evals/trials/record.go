// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package trials

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrMalformedRecord indicates a record file is not valid JSON.
	ErrMalformedRecord = errors.New("malformed grading record")

	// ErrSchemaViolation indicates a record is missing required fields or
	// holds out of range values.
	ErrSchemaViolation = errors.New("grading record schema violation")
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// recordValidate is the validator instance for grading records.
var recordValidate *validator.Validate

func init() {
	recordValidate = validator.New()
	recordValidate.RegisterTagNameFunc(jsonFieldName)
}

// jsonFieldName reports validation failures by JSON key instead of Go name.
func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

// =============================================================================
// Record Schema
// =============================================================================

// GradingRecord is the on-disk schema of one grading result.
//
// # Description
//
// The record is produced by the external grading pipeline. Only the fields
// listed here are read; anything else in the file is ignored.
//
// # Validation
//
// Uses go-playground/validator:
//   - code_grading: required
//   - code_grading.normalized_score: required, 0..100
//   - model_grading: required
//   - model_grading.normalized_score: required, 0..100
//
// Graders are optional. A grader that is absent counts as not successful.
type GradingRecord struct {
	CodeGrading  *GradingSection `json:"code_grading" validate:"required"`
	ModelGrading *GradingSection `json:"model_grading" validate:"required"`
}

// GradingSection is one grader family's output.
type GradingSection struct {
	NormalizedScore *float64                `json:"normalized_score" validate:"required,gte=0,lte=100"`
	Graders         map[string]GraderResult `json:"graders,omitempty"`
}

// GraderResult is one named grader's verdict.
//
// Value is a number or a boolean depending on the producer version.
type GraderResult struct {
	Value any `json:"value"`
}

// Passed reports whether the grader value equals 1 (or true).
func (g GraderResult) Passed() bool {
	switch v := g.Value.(type) {
	case float64:
		return v == 1
	case bool:
		return v
	case json.Number:
		f, err := v.Float64()
		return err == nil && f == 1
	default:
		return false
	}
}

// ParseGradingRecord decodes and validates a record.
//
// # Inputs
//
//   - data: Raw file contents.
//
// # Outputs
//
//   - *GradingRecord: The validated record.
//   - error: Wraps ErrMalformedRecord or ErrSchemaViolation.
func ParseGradingRecord(data []byte) (*GradingRecord, error) {
	var rec GradingRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if err := recordValidate.Struct(&rec); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSchemaViolation, describeValidation(err))
	}
	return &rec, nil
}

// Succeeded reports whether the named code grader passed.
func (r *GradingRecord) Succeeded(grader string) bool {
	if r == nil || r.CodeGrading == nil {
		return false
	}
	result, ok := r.CodeGrading.Graders[grader]
	if !ok {
		return false
	}
	return result.Passed()
}

// CodeScore returns code_grading.normalized_score.
func (r *GradingRecord) CodeScore() float64 {
	return *r.CodeGrading.NormalizedScore
}

// ModelScore returns model_grading.normalized_score.
func (r *GradingRecord) ModelScore() float64 {
	return *r.ModelGrading.NormalizedScore
}

// describeValidation flattens validator errors into "field: tag" pairs.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		ns := fe.Namespace()
		if i := strings.Index(ns, "."); i >= 0 {
			ns = ns[i+1:]
		}
		parts = append(parts, fmt.Sprintf("%s failed %q", ns, fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
