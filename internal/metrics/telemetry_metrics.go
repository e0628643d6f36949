package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// TelemetryMetrics provides metrics collection for heartbeat and inventory ingest
type TelemetryMetrics struct {
	heartbeatsCounter  metric.Int64Counter
	inventoriesCounter metric.Int64Counter
	ingestErrors       metric.Int64Counter
}

// NewTelemetryMetrics creates a new telemetry metrics collector
func NewTelemetryMetrics() (*TelemetryMetrics, error) {
	heartbeatsCounter, err := meter.Int64Counter(
		"controller.telemetry.heartbeats",
		metric.WithDescription("Total number of heartbeats ingested"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, err
	}

	inventoriesCounter, err := meter.Int64Counter(
		"controller.telemetry.inventories",
		metric.WithDescription("Total number of inventory envelopes ingested"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, err
	}

	ingestErrors, err := meter.Int64Counter(
		"controller.telemetry.errors",
		metric.WithDescription("Total number of telemetry messages that failed to ingest"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, err
	}

	return &TelemetryMetrics{
		heartbeatsCounter:  heartbeatsCounter,
		inventoriesCounter: inventoriesCounter,
		ingestErrors:       ingestErrors,
	}, nil
}

// RecordHeartbeat records one ingested heartbeat
func (tm *TelemetryMetrics) RecordHeartbeat(ctx context.Context, agentID string) {
	tm.heartbeatsCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("agent.id", agentID)),
	)
}

// RecordInventory records one ingested inventory envelope for a tier
func (tm *TelemetryMetrics) RecordInventory(ctx context.Context, agentID, tier string) {
	tm.inventoriesCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("agent.id", agentID),
			attribute.String("tier", tier),
		),
	)
}

// RecordIngestError records a telemetry message that could not be applied
func (tm *TelemetryMetrics) RecordIngestError(ctx context.Context, kind string) {
	tm.ingestErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
