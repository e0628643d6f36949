package telemetry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhvx/controller/internal/inventory"
	"github.com/openhvx/controller/internal/models"
	"github.com/openhvx/controller/internal/store"
)

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestSelectTier(t *testing.T) {
	tests := []struct {
		name      string
		headers   amqp.Table
		mergeMode string
		source    string
		expected  models.Tier
	}{
		{name: "no markers routes full", headers: amqp.Table{}, expected: models.TierFull},
		{name: "merge mode header routes light", headers: amqp.Table{"x-merge-mode": "patch-nondestructive"}, expected: models.TierLight},
		{name: "source header routes light", headers: amqp.Table{"x-source": "inventory.refresh.light"}, expected: models.TierLight},
		{name: "envelope merge mode routes light", headers: amqp.Table{}, mergeMode: "patch-nondestructive", expected: models.TierLight},
		{name: "envelope source routes light", headers: amqp.Table{}, source: "inventory.refresh.light", expected: models.TierLight},
		{name: "header overrides envelope", headers: amqp.Table{"x-merge-mode": "replace"}, mergeMode: "patch-nondestructive", expected: models.TierFull},
		{name: "unrelated values route full", headers: amqp.Table{"x-merge-mode": "replace", "x-source": "inventory.refresh"}, expected: models.TierFull},
		{name: "non-string header is ignored", headers: amqp.Table{"x-merge-mode": 42}, expected: models.TierFull},
		{name: "nil headers with light source", headers: nil, source: "inventory.refresh.light", expected: models.TierLight},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SelectTier(tt.headers, tt.mergeMode, tt.source))
		})
	}
}

func TestIngestor_HandleHeartbeat(t *testing.T) {
	ctx := context.Background()

	t.Run("stores the heartbeat", func(t *testing.T) {
		st := store.NewMemoryStore()
		ing := NewIngestor(st, nil, ApplyReplace)

		ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		body := mustJSON(t, map[string]interface{}{
			"agentId":      "agent-1",
			"version":      "1.2.0",
			"capabilities": []string{"vm", "switch"},
			"host":         "hv-01",
			"ts":           ts,
		})

		require.NoError(t, ing.HandleHeartbeat(ctx, body, nil, "heartbeat.agent-1"))

		hb, err := st.GetHeartbeat(ctx, "agent-1")
		require.NoError(t, err)
		assert.Equal(t, "1.2.0", hb.Version)
		assert.Equal(t, []string{"vm", "switch"}, hb.Capabilities)
		assert.Equal(t, "hv-01", hb.Host)
		assert.Equal(t, ts, hb.LastSeen)
	})

	t.Run("missing timestamp defaults to now", func(t *testing.T) {
		st := store.NewMemoryStore()
		ing := NewIngestor(st, nil, ApplyReplace)

		before := time.Now()
		body := mustJSON(t, map[string]interface{}{"agentId": "agent-1"})
		require.NoError(t, ing.HandleHeartbeat(ctx, body, nil, ""))

		hb, err := st.GetHeartbeat(ctx, "agent-1")
		require.NoError(t, err)
		assert.False(t, hb.LastSeen.Before(before))
		assert.NotNil(t, hb.Capabilities)
	})

	t.Run("rejects malformed payloads", func(t *testing.T) {
		st := store.NewMemoryStore()
		ing := NewIngestor(st, nil, ApplyReplace)

		assert.Error(t, ing.HandleHeartbeat(ctx, []byte("{not json"), nil, ""))
		assert.Error(t, ing.HandleHeartbeat(ctx, mustJSON(t, map[string]interface{}{"version": "1.0"}), nil, ""))
	})
}

func TestIngestor_HandleInventory(t *testing.T) {
	ctx := context.Background()

	t.Run("full envelope replaces the full tier", func(t *testing.T) {
		st := store.NewMemoryStore()
		ing := NewIngestor(st, nil, ApplyReplace)

		body := mustJSON(t, map[string]interface{}{
			"agentId": "agent-1",
			"inventory": map[string]interface{}{
				"vms": []map[string]interface{}{{"guid": "g-1", "name": "web"}},
			},
		})
		require.NoError(t, ing.HandleInventory(ctx, body, amqp.Table{}, "inventory.agent-1"))

		snap, err := st.GetInventory(ctx, models.TierFull, "agent-1")
		require.NoError(t, err)
		require.NotNil(t, snap.Inventory)
		require.Len(t, snap.Inventory.VMs, 1)
		assert.Equal(t, "web", snap.Inventory.VMs[0].Name)

		_, err = st.GetInventory(ctx, models.TierLight, "agent-1")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("light envelope replaces the light tier in replace mode", func(t *testing.T) {
		st := store.NewMemoryStore()
		ing := NewIngestor(st, nil, ApplyReplace)

		seed := &models.InventorySnapshot{
			AgentID:   "agent-1",
			TS:        time.Now(),
			Inventory: &inventory.Inventory{VMs: []inventory.VM{{ID: "vm-1", Name: "web", CPU: new(int)}}},
		}
		require.NoError(t, st.UpsertInventory(ctx, models.TierLight, seed))

		body := mustJSON(t, map[string]interface{}{
			"agentId": "agent-1",
			"inventory": map[string]interface{}{
				"vms": []map[string]interface{}{{"id": "vm-1", "state": "Running"}},
			},
		})
		headers := amqp.Table{"x-merge-mode": "patch-nondestructive"}
		require.NoError(t, ing.HandleInventory(ctx, body, headers, "inventory.agent-1"))

		snap, err := st.GetInventory(ctx, models.TierLight, "agent-1")
		require.NoError(t, err)
		require.Len(t, snap.Inventory.VMs, 1)
		// wholesale replace, the stored name is gone
		assert.Empty(t, snap.Inventory.VMs[0].Name)
	})

	t.Run("light envelope merges in merge mode", func(t *testing.T) {
		st := store.NewMemoryStore()
		ing := NewIngestor(st, nil, ApplyMerge)

		seed := &models.InventorySnapshot{
			AgentID:   "agent-1",
			TS:        time.Now().Add(-time.Minute),
			Inventory: &inventory.Inventory{VMs: []inventory.VM{{ID: "vm-1", Name: "web"}}},
		}
		require.NoError(t, st.UpsertInventory(ctx, models.TierLight, seed))

		body := mustJSON(t, map[string]interface{}{
			"agentId": "agent-1",
			"source":  "inventory.refresh.light",
			"inventory": map[string]interface{}{
				"vms": []map[string]interface{}{{"id": "vm-1", "state": "Running"}},
			},
		})
		require.NoError(t, ing.HandleInventory(ctx, body, amqp.Table{}, "inventory.agent-1"))

		snap, err := st.GetInventory(ctx, models.TierLight, "agent-1")
		require.NoError(t, err)
		require.Len(t, snap.Inventory.VMs, 1)
		assert.Equal(t, "web", snap.Inventory.VMs[0].Name)
		require.NotNil(t, snap.Inventory.VMs[0].State)
		assert.Equal(t, "Running", *snap.Inventory.VMs[0].State)
	})

	t.Run("merge mode with no stored snapshot degrades to replace", func(t *testing.T) {
		st := store.NewMemoryStore()
		ing := NewIngestor(st, nil, ApplyMerge)

		body := mustJSON(t, map[string]interface{}{
			"agentId":   "agent-1",
			"mergeMode": "patch-nondestructive",
			"inventory": map[string]interface{}{
				"vms": []map[string]interface{}{{"id": "vm-1", "name": "web"}},
			},
		})
		require.NoError(t, ing.HandleInventory(ctx, body, amqp.Table{}, "inventory.agent-1"))

		snap, err := st.GetInventory(ctx, models.TierLight, "agent-1")
		require.NoError(t, err)
		require.Len(t, snap.Inventory.VMs, 1)
		assert.Equal(t, "web", snap.Inventory.VMs[0].Name)
	})

	t.Run("full envelopes replace even in merge mode", func(t *testing.T) {
		st := store.NewMemoryStore()
		ing := NewIngestor(st, nil, ApplyMerge)

		seed := &models.InventorySnapshot{
			AgentID:   "agent-1",
			Inventory: &inventory.Inventory{VMs: []inventory.VM{{ID: "vm-1", Name: "web"}, {ID: "vm-2", Name: "db"}}},
		}
		require.NoError(t, st.UpsertInventory(ctx, models.TierFull, seed))

		body := mustJSON(t, map[string]interface{}{
			"agentId": "agent-1",
			"inventory": map[string]interface{}{
				"vms": []map[string]interface{}{{"id": "vm-1", "name": "web"}},
			},
		})
		require.NoError(t, ing.HandleInventory(ctx, body, amqp.Table{}, "inventory.agent-1"))

		snap, err := st.GetInventory(ctx, models.TierFull, "agent-1")
		require.NoError(t, err)
		assert.Len(t, snap.Inventory.VMs, 1)
	})

	t.Run("rejects malformed envelopes", func(t *testing.T) {
		st := store.NewMemoryStore()
		ing := NewIngestor(st, nil, ApplyReplace)

		assert.Error(t, ing.HandleInventory(ctx, []byte("nope"), nil, ""))
		assert.Error(t, ing.HandleInventory(ctx, mustJSON(t, map[string]interface{}{"inventory": map[string]interface{}{}}), nil, ""))
	})
}

func TestNewIngestor_InvalidModeFallsBackToReplace(t *testing.T) {
	ing := NewIngestor(store.NewMemoryStore(), nil, ApplyMode("bogus"))
	assert.Equal(t, ApplyReplace, ing.applyMode)
}
