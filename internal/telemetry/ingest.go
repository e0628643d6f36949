package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openhvx/controller/internal/inventory"
	"github.com/openhvx/controller/internal/metrics"
	"github.com/openhvx/controller/internal/models"
	"github.com/openhvx/controller/internal/store"
)

var tracer = otel.Tracer("telemetry-ingest")

// ApplyMode selects how an incoming inventory envelope updates the stored
// snapshot for its tier.
type ApplyMode string

const (
	// ApplyReplace overwrites the tier's snapshot wholesale.
	ApplyReplace ApplyMode = "replace"
	// ApplyMerge folds light envelopes into the stored light snapshot
	// non-destructively; full envelopes still replace.
	ApplyMerge ApplyMode = "merge"
)

// heartbeatMessage is the wire shape of one agent heartbeat.
type heartbeatMessage struct {
	AgentID      string     `json:"agentId"`
	Version      string     `json:"version"`
	Capabilities []string   `json:"capabilities"`
	Host         string     `json:"host"`
	TS           *time.Time `json:"ts"`
}

// inventoryEnvelope is the wire shape of one inventory report. MergeMode
// and Source mirror the transport headers for producers that cannot set
// AMQP headers.
type inventoryEnvelope struct {
	AgentID   string               `json:"agentId"`
	TS        *time.Time           `json:"ts"`
	Inventory *inventory.Inventory `json:"inventory"`
	MergeMode string               `json:"mergeMode"`
	Source    string               `json:"source"`
}

// Ingestor applies heartbeat and inventory messages to the store.
type Ingestor struct {
	store     store.TelemetryStore
	metrics   *metrics.TelemetryMetrics
	applyMode ApplyMode
	tracer    trace.Tracer
}

// NewIngestor creates an ingestor. metrics may be nil.
func NewIngestor(st store.TelemetryStore, tm *metrics.TelemetryMetrics, mode ApplyMode) *Ingestor {
	if mode != ApplyMerge {
		mode = ApplyReplace
	}
	return &Ingestor{store: st, metrics: tm, applyMode: mode, tracer: tracer}
}

// HandleHeartbeat ingests one heartbeat message. Each message overwrites
// the agent's liveness document wholesale.
func (ing *Ingestor) HandleHeartbeat(ctx context.Context, body []byte, _ amqp.Table, _ string) error {
	ctx, span := ing.tracer.Start(ctx, "telemetry.handle_heartbeat")
	defer span.End()

	var msg heartbeatMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		ing.recordError(ctx, "heartbeat")
		return fmt.Errorf("failed to parse heartbeat: %w", err)
	}
	if msg.AgentID == "" {
		ing.recordError(ctx, "heartbeat")
		return fmt.Errorf("heartbeat missing agentId")
	}
	span.SetAttributes(attribute.String("agent.id", msg.AgentID))

	lastSeen := time.Now()
	if msg.TS != nil {
		lastSeen = *msg.TS
	}
	caps := msg.Capabilities
	if caps == nil {
		caps = []string{}
	}

	hb := &models.Heartbeat{
		AgentID:      msg.AgentID,
		Version:      msg.Version,
		Capabilities: caps,
		Host:         msg.Host,
		LastSeen:     lastSeen,
	}
	if err := ing.store.UpsertHeartbeat(ctx, hb); err != nil {
		ing.recordError(ctx, "heartbeat")
		return err
	}
	if ing.metrics != nil {
		ing.metrics.RecordHeartbeat(ctx, msg.AgentID)
	}
	return nil
}

// HandleInventory ingests one inventory envelope, routing it to the full
// or light tier and applying it per the configured mode.
func (ing *Ingestor) HandleInventory(ctx context.Context, body []byte, headers amqp.Table, _ string) error {
	ctx, span := ing.tracer.Start(ctx, "telemetry.handle_inventory")
	defer span.End()

	var env inventoryEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		ing.recordError(ctx, "inventory")
		return fmt.Errorf("failed to parse inventory envelope: %w", err)
	}
	if env.AgentID == "" {
		ing.recordError(ctx, "inventory")
		return fmt.Errorf("inventory envelope missing agentId")
	}

	tier := SelectTier(headers, env.MergeMode, env.Source)
	span.SetAttributes(
		attribute.String("agent.id", env.AgentID),
		attribute.String("tier", string(tier)),
	)

	ts := time.Now()
	if env.TS != nil {
		ts = *env.TS
	}
	snap := &models.InventorySnapshot{AgentID: env.AgentID, TS: ts, Inventory: env.Inventory}

	if tier == models.TierLight && ing.applyMode == ApplyMerge {
		if err := ing.mergeLight(ctx, snap); err != nil {
			ing.recordError(ctx, "inventory")
			return err
		}
	} else if err := ing.store.UpsertInventory(ctx, tier, snap); err != nil {
		ing.recordError(ctx, "inventory")
		return err
	}

	if ing.metrics != nil {
		ing.metrics.RecordInventory(ctx, env.AgentID, string(tier))
	}
	return nil
}

// mergeLight folds the envelope into the stored light snapshot. A missing
// stored snapshot degrades to a plain replace.
func (ing *Ingestor) mergeLight(ctx context.Context, snap *models.InventorySnapshot) error {
	current, err := ing.store.GetInventory(ctx, models.TierLight, snap.AgentID)
	if err != nil && err != store.ErrNotFound {
		return err
	}
	if current != nil && current.Inventory != nil {
		snap.Inventory = inventory.Merge(current.Inventory, snap.Inventory)
	}
	return ing.store.UpsertInventory(ctx, models.TierLight, snap)
}

func (ing *Ingestor) recordError(ctx context.Context, kind string) {
	if ing.metrics != nil {
		ing.metrics.RecordIngestError(ctx, kind)
	}
	log.Printf(`{"level":"warn","message":"Telemetry message rejected","kind":"%s"}`, kind)
}

// SelectTier routes an inventory envelope: light when the transport
// headers (or their envelope mirrors) mark it as a non-destructive patch
// from a light refresh, full otherwise.
func SelectTier(headers amqp.Table, mergeMode, source string) models.Tier {
	if v, ok := headers["x-merge-mode"].(string); ok && v != "" {
		mergeMode = v
	}
	if v, ok := headers["x-source"].(string); ok && v != "" {
		source = v
	}
	if mergeMode == "patch-nondestructive" || source == "inventory.refresh.light" {
		return models.TierLight
	}
	return models.TierFull
}
