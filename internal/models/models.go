package models

import (
	"time"

	"github.com/openhvx/controller/internal/inventory"
)

// TaskStatus is the lifecycle state of a dispatched task. Status only moves
// queued -> sent -> done|error; terminal states accept only idempotent
// re-application of the same result.
type TaskStatus string

const (
	TaskQueued TaskStatus = "queued"
	TaskSent   TaskStatus = "sent"
	TaskDone   TaskStatus = "done"
	TaskError  TaskStatus = "error"
)

// Task is one submitted tenant action, keyed by a globally unique taskId
// that doubles as the broker correlation id.
type Task struct {
	TaskID        string                 `json:"taskId" bson:"taskId"`
	TenantID      string                 `json:"tenantId,omitempty" bson:"tenantId,omitempty"`
	AgentID       string                 `json:"agentId,omitempty" bson:"agentId,omitempty"`
	Action        string                 `json:"action" bson:"action"`
	Data          map[string]interface{} `json:"data" bson:"data"`
	Status        TaskStatus             `json:"status" bson:"status"`
	CorrelationID string                 `json:"correlationId,omitempty" bson:"correlationId,omitempty"`
	QueuedAt      time.Time              `json:"queuedAt" bson:"queuedAt"`
	PublishedAt   *time.Time             `json:"publishedAt,omitempty" bson:"publishedAt,omitempty"`
	FinishedAt    *time.Time             `json:"finishedAt,omitempty" bson:"finishedAt,omitempty"`
	Result        map[string]interface{} `json:"result,omitempty" bson:"result,omitempty"`
	Error         string                 `json:"error,omitempty" bson:"error,omitempty"`
	RoutingKey    string                 `json:"routingKey,omitempty" bson:"routingKey,omitempty"`
}

// Heartbeat is the latest liveness record for one agent; each heartbeat
// message overwrites it wholesale.
type Heartbeat struct {
	AgentID      string    `json:"agentId" bson:"agentId"`
	Version      string    `json:"version,omitempty" bson:"version,omitempty"`
	Capabilities []string  `json:"capabilities" bson:"capabilities"`
	LastSeen     time.Time `json:"lastSeen" bson:"lastSeen"`
	Host         string    `json:"host,omitempty" bson:"host,omitempty"`
}

// Online reports whether the agent was seen within the staleness threshold.
func (h *Heartbeat) Online(staleAfter time.Duration) bool {
	return !h.LastSeen.IsZero() && time.Since(h.LastSeen) < staleAfter
}

// Tier selects one of the two independently stored inventory snapshot
// classes per agent.
type Tier string

const (
	TierFull  Tier = "full"
	TierLight Tier = "light"
)

// InventorySnapshot is one tier's latest inventory for an agent; each
// inventory message replaces the tier's document wholesale.
type InventorySnapshot struct {
	AgentID   string               `json:"agentId" bson:"agentId"`
	TS        time.Time            `json:"ts" bson:"ts"`
	Inventory *inventory.Inventory `json:"inventory" bson:"inventory"`
}

// Timed adapts the snapshot for the view materializer.
func (s *InventorySnapshot) Timed() *inventory.TimedInventory {
	if s == nil {
		return nil
	}
	return &inventory.TimedInventory{TS: s.TS, Inventory: s.Inventory}
}

// ResourceKind classifies claimable resources.
type ResourceKind string

const (
	KindVM     ResourceKind = "vm"
	KindSwitch ResourceKind = "switch"
	KindDisk   ResourceKind = "disk"
	KindNIC    ResourceKind = "nic"
	KindOther  ResourceKind = "other"
)

// TenantResourceLink binds a resource to the single tenant that owns it.
// The (kind, agentId, refId) triple is globally unique.
type TenantResourceLink struct {
	TenantID   string       `json:"tenantId" bson:"tenantId"`
	Kind       ResourceKind `json:"kind" bson:"kind"`
	AgentID    string       `json:"agentId" bson:"agentId"`
	RefID      string       `json:"refId" bson:"refId"`
	AssignedAt time.Time    `json:"assignedAt" bson:"assignedAt"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}
