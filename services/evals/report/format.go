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
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianEval/services/evals/telemetry"
)

// ErrUnknownFormat is returned for an unrecognized output format.
var ErrUnknownFormat = errors.New("unknown report format")

// Format selects a projection of the Document.
type Format string

// Supported formats.
const (
	FormatJSON     Format = "json"
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatXLSX     Format = "xlsx"
)

// Formats lists every supported format.
var Formats = []Format{FormatJSON, FormatText, FormatMarkdown, FormatHTML, FormatXLSX}

// ParseFormat resolves a format name. "md" is accepted for markdown and
// "console" for text.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "json":
		return FormatJSON, nil
	case "text", "console", "":
		return FormatText, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "html":
		return FormatHTML, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
}

// Binary reports whether the format is not text.
func (f Format) Binary() bool {
	return f == FormatXLSX
}

// NeedsPairs reports whether the format renders per-iteration pairs.
func (f Format) NeedsPairs() bool {
	return f == FormatXLSX
}

// Render writes doc to w in the given format.
//
// # Inputs
//
//   - ctx: Carries the parent span of the "render" span.
//   - w: Destination.
//   - doc: Document from Build.
//   - format: Output format.
//
// # Outputs
//
//   - error: ErrUnknownFormat or a write error.
func Render(ctx context.Context, w io.Writer, doc *Document, format Format) error {
	_, span := telemetry.StartSpan(ctx, "render",
		trace.WithAttributes(attribute.String("format", string(format))),
	)
	defer span.End()

	var err error
	switch format {
	case FormatJSON:
		err = WriteJSON(w, doc)
	case FormatText:
		_, err = io.WriteString(w, Text(doc))
	case FormatMarkdown:
		_, err = io.WriteString(w, Markdown(doc))
	case FormatHTML:
		_, err = w.Write(HTML(doc))
	case FormatXLSX:
		err = WriteXLSX(w, doc)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	telemetry.SetSpanOK(span)
	return nil
}
