package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/openhvx/controller/internal/models"
)

// MemoryStore is an in-memory Store used by tests and local development.
// It mirrors the unique-index semantics of the real backends.
type MemoryStore struct {
	mu          sync.RWMutex
	tasks       map[string]*models.Task
	heartbeats  map[string]*models.Heartbeat
	inventories map[models.Tier]map[string]*models.InventorySnapshot
	links       map[linkKey]*models.TenantResourceLink
}

type linkKey struct {
	Kind    models.ResourceKind
	AgentID string
	RefID   string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:      make(map[string]*models.Task),
		heartbeats: make(map[string]*models.Heartbeat),
		inventories: map[models.Tier]map[string]*models.InventorySnapshot{
			models.TierFull:  {},
			models.TierLight: {},
		},
		links: make(map[linkKey]*models.TenantResourceLink),
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close(ctx context.Context) error { return nil }

func copyTask(t *models.Task) *models.Task {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func (m *MemoryStore) CreateTask(ctx context.Context, task *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.TaskID] = copyTask(task)
	return nil
}

func (m *MemoryStore) MarkTaskSent(ctx context.Context, taskID string, publishedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	t.Status = models.TaskSent
	t.PublishedAt = &publishedAt
	return nil
}

func (m *MemoryStore) ApplyTaskResult(ctx context.Context, upd ResultUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[upd.TaskID]
	if !ok {
		// insert-only defaults: the result may arrive before the task row
		t = &models.Task{
			TaskID:   upd.TaskID,
			Action:   "unknown",
			Data:     map[string]interface{}{},
			QueuedAt: time.Now(),
		}
		m.tasks[upd.TaskID] = t
	}
	if upd.OK {
		t.Status = models.TaskDone
	} else {
		t.Status = models.TaskError
	}
	fin := upd.FinishedAt
	t.FinishedAt = &fin
	t.Result = upd.Result
	t.Error = upd.Error
	if upd.AgentID != "" {
		t.AgentID = upd.AgentID
	}
	t.RoutingKey = upd.RoutingKey
	return nil
}

func (m *MemoryStore) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyTask(t), nil
}

func (m *MemoryStore) GetTenantTask(ctx context.Context, taskID, tenantID string) (*models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[taskID]
	if !ok || t.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return copyTask(t), nil
}

func (m *MemoryStore) ExpireQueuedTasks(ctx context.Context, olderThan time.Time, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	now := time.Now()
	for _, t := range m.tasks {
		if t.Status == models.TaskQueued && t.QueuedAt.Before(olderThan) {
			t.Status = models.TaskError
			t.Error = reason
			fin := now
			t.FinishedAt = &fin
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CountTasksByStatusSince(ctx context.Context, tenantID string, since time.Time) (map[models.TaskStatus]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[models.TaskStatus]int64)
	for _, t := range m.tasks {
		if t.QueuedAt.Before(since) {
			continue
		}
		if tenantID != "" && t.TenantID != tenantID {
			continue
		}
		out[t.Status]++
	}
	return out, nil
}

func (m *MemoryStore) UpsertHeartbeat(ctx context.Context, hb *models.Heartbeat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *hb
	m.heartbeats[hb.AgentID] = &c
	return nil
}

func (m *MemoryStore) GetHeartbeat(ctx context.Context, agentID string) (*models.Heartbeat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hb, ok := m.heartbeats[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *hb
	return &c, nil
}

func (m *MemoryStore) ListHeartbeats(ctx context.Context) ([]models.Heartbeat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Heartbeat, 0, len(m.heartbeats))
	for _, hb := range m.heartbeats {
		out = append(out, *hb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

func (m *MemoryStore) UpsertInventory(ctx context.Context, tier models.Tier, snap *models.InventorySnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *snap
	m.inventories[tier][snap.AgentID] = &c
	return nil
}

func (m *MemoryStore) GetInventory(ctx context.Context, tier models.Tier, agentID string) (*models.InventorySnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.inventories[tier][agentID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *s
	return &c, nil
}

func (m *MemoryStore) ListInventories(ctx context.Context, tier models.Tier, agentIDs []string) ([]models.InventorySnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := make(map[string]struct{}, len(agentIDs))
	for _, id := range agentIDs {
		want[id] = struct{}{}
	}
	out := make([]models.InventorySnapshot, 0, len(m.inventories[tier]))
	for id, s := range m.inventories[tier] {
		if len(want) > 0 {
			if _, ok := want[id]; !ok {
				continue
			}
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

func (m *MemoryStore) ClaimResource(ctx context.Context, link *models.TenantResourceLink) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := linkKey{Kind: link.Kind, AgentID: link.AgentID, RefID: link.RefID}
	if _, ok := m.links[k]; ok {
		return false, nil
	}
	c := *link
	m.links[k] = &c
	return true, nil
}

func (m *MemoryStore) ReleaseResource(ctx context.Context, kind models.ResourceKind, agentID, refID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.links, linkKey{Kind: kind, AgentID: agentID, RefID: refID})
	return nil
}

func (m *MemoryStore) UnclaimResource(ctx context.Context, tenantID string, kind models.ResourceKind, agentID, refID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := linkKey{Kind: kind, AgentID: agentID, RefID: refID}
	if l, ok := m.links[k]; ok && l.TenantID == tenantID {
		delete(m.links, k)
	}
	return nil
}

func (m *MemoryStore) GetLink(ctx context.Context, kind models.ResourceKind, agentID, refID string) (*models.TenantResourceLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.links[linkKey{Kind: kind, AgentID: agentID, RefID: refID}]
	if !ok {
		return nil, ErrNotFound
	}
	c := *l
	return &c, nil
}

func (m *MemoryStore) FindLink(ctx context.Context, tenantID string, kind models.ResourceKind, agentID, refID string) (*models.TenantResourceLink, error) {
	l, err := m.GetLink(ctx, kind, agentID, refID)
	if err != nil {
		return nil, err
	}
	if l.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return l, nil
}

func (m *MemoryStore) ListLinks(ctx context.Context, f LinkFilter) ([]models.TenantResourceLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.TenantResourceLink, 0)
	for _, l := range m.links {
		if f.TenantID != "" && l.TenantID != f.TenantID {
			continue
		}
		if f.Kind != "" && l.Kind != f.Kind {
			continue
		}
		if f.AgentID != "" && l.AgentID != f.AgentID {
			continue
		}
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AgentID != out[j].AgentID {
			return out[i].AgentID < out[j].AgentID
		}
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].RefID < out[j].RefID
	})
	return out, nil
}
