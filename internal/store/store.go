package store

import (
	"context"
	"errors"
	"time"

	"github.com/openhvx/controller/internal/models"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("not found")

// ResultUpdate carries one job result into the task collection. Applied as
// an upsert by taskId with insert-only defaults, so a result that arrives
// before (or instead of) the task row is still recorded correctly and
// redelivery is idempotent.
type ResultUpdate struct {
	TaskID     string
	AgentID    string
	OK         bool
	Result     map[string]interface{}
	Error      string
	FinishedAt time.Time
	RoutingKey string
}

// LinkFilter narrows ListLinks. Zero fields match everything.
type LinkFilter struct {
	TenantID string
	Kind     models.ResourceKind
	AgentID  string
}

// TaskStore persists tasks and their lifecycle transitions.
type TaskStore interface {
	CreateTask(ctx context.Context, task *models.Task) error
	MarkTaskSent(ctx context.Context, taskID string, publishedAt time.Time) error
	ApplyTaskResult(ctx context.Context, upd ResultUpdate) error
	GetTask(ctx context.Context, taskID string) (*models.Task, error)
	GetTenantTask(ctx context.Context, taskID, tenantID string) (*models.Task, error)
	// ExpireQueuedTasks moves tasks stuck in queued since before olderThan
	// to error with the given reason; returns how many were expired.
	ExpireQueuedTasks(ctx context.Context, olderThan time.Time, reason string) (int64, error)
	CountTasksByStatusSince(ctx context.Context, tenantID string, since time.Time) (map[models.TaskStatus]int64, error)
}

// TelemetryStore persists agent liveness and the two inventory tiers.
type TelemetryStore interface {
	UpsertHeartbeat(ctx context.Context, hb *models.Heartbeat) error
	GetHeartbeat(ctx context.Context, agentID string) (*models.Heartbeat, error)
	ListHeartbeats(ctx context.Context) ([]models.Heartbeat, error)
	UpsertInventory(ctx context.Context, tier models.Tier, snap *models.InventorySnapshot) error
	GetInventory(ctx context.Context, tier models.Tier, agentID string) (*models.InventorySnapshot, error)
	// ListInventories returns one snapshot per agent for the tier; a nil or
	// empty agentIDs slice returns all of them.
	ListInventories(ctx context.Context, tier models.Tier, agentIDs []string) ([]models.InventorySnapshot, error)
}

// ResourceStore persists tenant-resource ownership links. Claim is
// insert-if-absent against the unique (kind, agentId, refId) index, so a
// resource belongs to at most one tenant and replays are harmless.
type ResourceStore interface {
	ClaimResource(ctx context.Context, link *models.TenantResourceLink) (created bool, err error)
	ReleaseResource(ctx context.Context, kind models.ResourceKind, agentID, refID string) error
	UnclaimResource(ctx context.Context, tenantID string, kind models.ResourceKind, agentID, refID string) error
	GetLink(ctx context.Context, kind models.ResourceKind, agentID, refID string) (*models.TenantResourceLink, error)
	FindLink(ctx context.Context, tenantID string, kind models.ResourceKind, agentID, refID string) (*models.TenantResourceLink, error)
	ListLinks(ctx context.Context, f LinkFilter) ([]models.TenantResourceLink, error)
}

// Store is the document store backing the controller. Implementations rely
// on per-key unique indexes and atomic single-document upserts only; there
// are no cross-document transactions.
type Store interface {
	TaskStore
	TelemetryStore
	ResourceStore

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
