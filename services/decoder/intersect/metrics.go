// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package intersect

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for intersection operations.
var (
	tracer = otel.Tracer("aleutian.decoder.intersect")
	meter  = otel.Meter("aleutian.decoder.intersect")
)

// Metrics for decode operations.
var (
	decodeLatency   metric.Float64Histogram
	decodeTotal     metric.Int64Counter
	framesDecoded   metric.Int64Histogram
	latticeArcsKept metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initialises the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		decodeLatency, err = meter.Float64Histogram(
			"decoder_intersect_duration_seconds",
			metric.WithDescription("Duration of pruned intersection calls"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		decodeTotal, err = meter.Int64Counter(
			"decoder_intersect_total",
			metric.WithDescription("Total pruned intersection calls"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		framesDecoded, err = meter.Int64Histogram(
			"decoder_intersect_frames",
			metric.WithDescription("Frames decoded per batch"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		latticeArcsKept, err = meter.Int64Histogram(
			"decoder_lattice_arcs",
			metric.WithDescription("Arcs surviving backward pruning per batch"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

// recordDecode records the summary metrics of one intersection call.
func recordDecode(ctx context.Context, seconds float64, frames, arcs int64, shared bool) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("shared_graph", shared))
	decodeLatency.Record(ctx, seconds, attrs)
	decodeTotal.Add(ctx, 1, attrs)
	framesDecoded.Record(ctx, frames, attrs)
	latticeArcsKept.Record(ctx, arcs, attrs)
}
