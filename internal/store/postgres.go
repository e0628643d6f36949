package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openhvx/controller/internal/inventory"
	"github.com/openhvx/controller/internal/models"
)

// PostgresStore is the alternative Store backend. Documents live in JSONB
// columns; the primary keys give the same upsert semantics as the mongo
// unique indexes.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	task_id        TEXT PRIMARY KEY,
	tenant_id      TEXT NOT NULL DEFAULT '',
	agent_id       TEXT NOT NULL DEFAULT '',
	action         TEXT NOT NULL DEFAULT 'unknown',
	data           JSONB NOT NULL DEFAULT '{}'::jsonb,
	status         TEXT NOT NULL DEFAULT 'queued',
	correlation_id TEXT NOT NULL DEFAULT '',
	queued_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at   TIMESTAMPTZ,
	finished_at    TIMESTAMPTZ,
	result         JSONB,
	error          TEXT NOT NULL DEFAULT '',
	routing_key    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS tasks_tenant_status_queued_idx
	ON tasks (tenant_id, status, queued_at DESC);

CREATE TABLE IF NOT EXISTS heartbeats (
	agent_id     TEXT PRIMARY KEY,
	version      TEXT NOT NULL DEFAULT '',
	capabilities JSONB NOT NULL DEFAULT '[]'::jsonb,
	last_seen    TIMESTAMPTZ NOT NULL,
	host         TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS inventories (
	agent_id  TEXT NOT NULL,
	tier      TEXT NOT NULL,
	ts        TIMESTAMPTZ NOT NULL,
	inventory JSONB NOT NULL,
	PRIMARY KEY (agent_id, tier)
);

CREATE TABLE IF NOT EXISTS tenant_resources (
	kind        TEXT NOT NULL,
	agent_id    TEXT NOT NULL,
	ref_id      TEXT NOT NULL,
	tenant_id   TEXT NOT NULL,
	assigned_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (kind, agent_id, ref_id)
);
CREATE INDEX IF NOT EXISTS tenant_resources_tenant_idx
	ON tenant_resources (tenant_id);
`

// NewPostgresStore connects the pool and ensures the schema.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateTask(ctx context.Context, task *models.Task) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tasks (task_id, tenant_id, agent_id, action, data, status, correlation_id, queued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		task.TaskID, task.TenantID, task.AgentID, task.Action, task.Data,
		task.Status, task.CorrelationID, task.QueuedAt)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkTaskSent(ctx context.Context, taskID string, publishedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = $1, published_at = $2 WHERE task_id = $3`,
		models.TaskSent, publishedAt, taskID)
	if err != nil {
		return fmt.Errorf("failed to mark task sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ApplyTaskResult(ctx context.Context, upd ResultUpdate) error {
	status := models.TaskError
	if upd.OK {
		status = models.TaskDone
	}
	// agent_id is only overwritten when the result actually names one
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tasks (task_id, agent_id, status, finished_at, result, error, routing_key, queued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (task_id) DO UPDATE SET
			agent_id    = CASE WHEN EXCLUDED.agent_id <> '' THEN EXCLUDED.agent_id ELSE tasks.agent_id END,
			status      = EXCLUDED.status,
			finished_at = EXCLUDED.finished_at,
			result      = EXCLUDED.result,
			error       = EXCLUDED.error,
			routing_key = EXCLUDED.routing_key`,
		upd.TaskID, upd.AgentID, status, upd.FinishedAt, upd.Result, upd.Error, upd.RoutingKey)
	if err != nil {
		return fmt.Errorf("failed to apply task result: %w", err)
	}
	return nil
}

const taskColumns = `task_id, tenant_id, agent_id, action, data, status, correlation_id,
	queued_at, published_at, finished_at, result, error, routing_key`

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	err := row.Scan(&t.TaskID, &t.TenantID, &t.AgentID, &t.Action, &t.Data, &t.Status,
		&t.CorrelationID, &t.QueuedAt, &t.PublishedAt, &t.FinishedAt, &t.Result,
		&t.Error, &t.RoutingKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	return scanTask(s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE task_id = $1`, taskID))
}

func (s *PostgresStore) GetTenantTask(ctx context.Context, taskID, tenantID string) (*models.Task, error) {
	return scanTask(s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE task_id = $1 AND tenant_id = $2`, taskID, tenantID))
}

func (s *PostgresStore) ExpireQueuedTasks(ctx context.Context, olderThan time.Time, reason string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET status = $1, error = $2, finished_at = now()
		WHERE status = $3 AND queued_at < $4`,
		models.TaskError, reason, models.TaskQueued, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to expire queued tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) CountTasksByStatusSince(ctx context.Context, tenantID string, since time.Time) (map[models.TaskStatus]int64, error) {
	query := `SELECT status, count(*) FROM tasks WHERE queued_at >= $1`
	args := []interface{}{since}
	if tenantID != "" {
		query += ` AND tenant_id = $2`
		args = append(args, tenantID)
	}
	query += ` GROUP BY status`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	defer rows.Close()

	out := make(map[models.TaskStatus]int64)
	for rows.Next() {
		var st models.TaskStatus
		var n int64
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("failed to scan task count: %w", err)
		}
		out[st] = n
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertHeartbeat(ctx context.Context, hb *models.Heartbeat) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO heartbeats (agent_id, version, capabilities, last_seen, host)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (agent_id) DO UPDATE SET
			version      = EXCLUDED.version,
			capabilities = EXCLUDED.capabilities,
			last_seen    = EXCLUDED.last_seen,
			host         = EXCLUDED.host`,
		hb.AgentID, hb.Version, hb.Capabilities, hb.LastSeen, hb.Host)
	if err != nil {
		return fmt.Errorf("failed to upsert heartbeat: %w", err)
	}
	return nil
}

func scanHeartbeat(row pgx.Row) (*models.Heartbeat, error) {
	var hb models.Heartbeat
	err := row.Scan(&hb.AgentID, &hb.Version, &hb.Capabilities, &hb.LastSeen, &hb.Host)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan heartbeat: %w", err)
	}
	return &hb, nil
}

func (s *PostgresStore) GetHeartbeat(ctx context.Context, agentID string) (*models.Heartbeat, error) {
	return scanHeartbeat(s.pool.QueryRow(ctx,
		`SELECT agent_id, version, capabilities, last_seen, host FROM heartbeats WHERE agent_id = $1`,
		agentID))
}

func (s *PostgresStore) ListHeartbeats(ctx context.Context) ([]models.Heartbeat, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT agent_id, version, capabilities, last_seen, host FROM heartbeats ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list heartbeats: %w", err)
	}
	defer rows.Close()

	var out []models.Heartbeat
	for rows.Next() {
		var hb models.Heartbeat
		if err := rows.Scan(&hb.AgentID, &hb.Version, &hb.Capabilities, &hb.LastSeen, &hb.Host); err != nil {
			return nil, fmt.Errorf("failed to scan heartbeat: %w", err)
		}
		out = append(out, hb)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertInventory(ctx context.Context, tier models.Tier, snap *models.InventorySnapshot) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO inventories (agent_id, tier, ts, inventory)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (agent_id, tier) DO UPDATE SET
			ts        = EXCLUDED.ts,
			inventory = EXCLUDED.inventory`,
		snap.AgentID, tier, snap.TS, snap.Inventory)
	if err != nil {
		return fmt.Errorf("failed to upsert %s inventory: %w", tier, err)
	}
	return nil
}

func (s *PostgresStore) GetInventory(ctx context.Context, tier models.Tier, agentID string) (*models.InventorySnapshot, error) {
	var snap models.InventorySnapshot
	var inv inventory.Inventory
	err := s.pool.QueryRow(ctx,
		`SELECT agent_id, ts, inventory FROM inventories WHERE agent_id = $1 AND tier = $2`,
		agentID, tier).Scan(&snap.AgentID, &snap.TS, &inv)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s inventory: %w", tier, err)
	}
	snap.Inventory = &inv
	return &snap, nil
}

func (s *PostgresStore) ListInventories(ctx context.Context, tier models.Tier, agentIDs []string) ([]models.InventorySnapshot, error) {
	query := `SELECT agent_id, ts, inventory FROM inventories WHERE tier = $1`
	args := []interface{}{tier}
	if len(agentIDs) > 0 {
		query += ` AND agent_id = ANY($2)`
		args = append(args, agentIDs)
	}
	query += ` ORDER BY agent_id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s inventories: %w", tier, err)
	}
	defer rows.Close()

	var out []models.InventorySnapshot
	for rows.Next() {
		var snap models.InventorySnapshot
		var inv inventory.Inventory
		if err := rows.Scan(&snap.AgentID, &snap.TS, &inv); err != nil {
			return nil, fmt.Errorf("failed to scan %s inventory: %w", tier, err)
		}
		snap.Inventory = &inv
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ClaimResource(ctx context.Context, link *models.TenantResourceLink) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO tenant_resources (kind, agent_id, ref_id, tenant_id, assigned_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (kind, agent_id, ref_id) DO NOTHING`,
		link.Kind, link.AgentID, link.RefID, link.TenantID, link.AssignedAt)
	if err != nil {
		return false, fmt.Errorf("failed to claim resource: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ReleaseResource(ctx context.Context, kind models.ResourceKind, agentID, refID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM tenant_resources WHERE kind = $1 AND agent_id = $2 AND ref_id = $3`,
		kind, agentID, refID)
	if err != nil {
		return fmt.Errorf("failed to release resource: %w", err)
	}
	return nil
}

func (s *PostgresStore) UnclaimResource(ctx context.Context, tenantID string, kind models.ResourceKind, agentID, refID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM tenant_resources WHERE tenant_id = $1 AND kind = $2 AND agent_id = $3 AND ref_id = $4`,
		tenantID, kind, agentID, refID)
	if err != nil {
		return fmt.Errorf("failed to unclaim resource: %w", err)
	}
	return nil
}

func scanLink(row pgx.Row) (*models.TenantResourceLink, error) {
	var l models.TenantResourceLink
	err := row.Scan(&l.Kind, &l.AgentID, &l.RefID, &l.TenantID, &l.AssignedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan resource link: %w", err)
	}
	return &l, nil
}

func (s *PostgresStore) GetLink(ctx context.Context, kind models.ResourceKind, agentID, refID string) (*models.TenantResourceLink, error) {
	return scanLink(s.pool.QueryRow(ctx, `
		SELECT kind, agent_id, ref_id, tenant_id, assigned_at FROM tenant_resources
		WHERE kind = $1 AND agent_id = $2 AND ref_id = $3`,
		kind, agentID, refID))
}

func (s *PostgresStore) FindLink(ctx context.Context, tenantID string, kind models.ResourceKind, agentID, refID string) (*models.TenantResourceLink, error) {
	return scanLink(s.pool.QueryRow(ctx, `
		SELECT kind, agent_id, ref_id, tenant_id, assigned_at FROM tenant_resources
		WHERE tenant_id = $1 AND kind = $2 AND agent_id = $3 AND ref_id = $4`,
		tenantID, kind, agentID, refID))
}

func (s *PostgresStore) ListLinks(ctx context.Context, f LinkFilter) ([]models.TenantResourceLink, error) {
	var where []string
	var args []interface{}
	add := func(col string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if f.TenantID != "" {
		add("tenant_id", f.TenantID)
	}
	if f.Kind != "" {
		add("kind", f.Kind)
	}
	if f.AgentID != "" {
		add("agent_id", f.AgentID)
	}
	query := `SELECT kind, agent_id, ref_id, tenant_id, assigned_at FROM tenant_resources`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY kind, agent_id, ref_id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list resource links: %w", err)
	}
	defer rows.Close()

	var out []models.TenantResourceLink
	for rows.Next() {
		var l models.TenantResourceLink
		if err := rows.Scan(&l.Kind, &l.AgentID, &l.RefID, &l.TenantID, &l.AssignedAt); err != nil {
			return nil, fmt.Errorf("failed to scan resource link: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
