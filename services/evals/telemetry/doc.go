// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry exports analysis results and traces.
//
// Two concerns live here:
//
//   - Sinks receive per-task comparisons and run totals from the analyzer.
//     PrometheusSink keeps the latest run as labelled gauges (served on
//     /metrics or written as a node_exporter textfile); OTelSink feeds the
//     global OpenTelemetry meter; CompositeSink fans out to several.
//
//   - Init configures the OpenTelemetry tracer and meter providers, and the
//     span helpers wrap the module tracer used for the load, analyze and
//     render stages.
package telemetry
