package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequiredCapability(t *testing.T) {
	tests := []struct {
		name     string
		action   string
		expected string
	}{
		{name: "table entry wins", action: ActionInventoryRefresh, expected: "inventory"},
		{name: "vm.power is its own capability", action: ActionVMPower, expected: "vm.power"},
		{name: "vm.create is its own capability", action: ActionVMCreate, expected: "vm.create"},
		{name: "namespace prefix fallback", action: "switch.create", expected: "switch"},
		{name: "nested namespace keeps the first segment", action: "console.serial.open", expected: "console"},
		{name: "no namespace falls back to the action", action: "echo", expected: "echo"},
		{name: "leading dot is not a namespace", action: ".weird", expected: ".weird"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, RequiredCapability(tt.action))
		})
	}
}

func TestActionRequiresRefID(t *testing.T) {
	tests := []struct {
		name     string
		action   string
		expected bool
	}{
		{name: "delete targets a resource", action: ActionVMDelete, expected: true},
		{name: "power targets a resource", action: ActionVMPower, expected: true},
		{name: "lookup is case-insensitive", action: "VM.Delete", expected: true},
		{name: "create makes a new resource", action: ActionVMCreate, expected: false},
		{name: "inventory refresh is agent-wide", action: ActionInventoryRefresh, expected: false},
		{name: "console open targets a vm", action: ActionConsoleSerial, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ActionRequiresRefID(tt.action))
		})
	}
}

func TestValidateActionTables(t *testing.T) {
	require.NoError(t, ValidateActionTables())
}

func TestKnownActions_CoversDispatchTables(t *testing.T) {
	known := KnownActions()
	for _, a := range []string{
		ActionVMCreate, ActionVMClone, ActionVMDelete, ActionVMPower, ActionVMEdit,
		ActionInventoryRefresh, ActionSwitchCreate, ActionConsoleSerial, ActionNetTunnel, ActionEcho,
	} {
		assert.Contains(t, known, a)
	}
}

func TestHeartbeatOnline(t *testing.T) {
	tests := []struct {
		name     string
		lastSeen time.Time
		expected bool
	}{
		{name: "recent heartbeat is online", lastSeen: time.Now().Add(-30 * time.Second), expected: true},
		{name: "stale heartbeat is offline", lastSeen: time.Now().Add(-5 * time.Minute), expected: false},
		{name: "zero time is offline", lastSeen: time.Time{}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hb := &Heartbeat{AgentID: "agent-1", LastSeen: tt.lastSeen}
			assert.Equal(t, tt.expected, hb.Online(2*time.Minute))
		})
	}
}

func TestInventorySnapshotTimed(t *testing.T) {
	t.Run("nil snapshot yields nil", func(t *testing.T) {
		var s *InventorySnapshot
		assert.Nil(t, s.Timed())
	})

	t.Run("snapshot carries its timestamp through", func(t *testing.T) {
		ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		s := &InventorySnapshot{AgentID: "agent-1", TS: ts}
		timed := s.Timed()
		require.NotNil(t, timed)
		assert.Equal(t, ts, timed.TS)
	})
}
