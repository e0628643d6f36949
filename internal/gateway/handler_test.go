package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhvx/controller/internal/auth"
	"github.com/openhvx/controller/internal/console"
	"github.com/openhvx/controller/internal/dispatch"
	"github.com/openhvx/controller/internal/enrich"
	"github.com/openhvx/controller/internal/images"
	"github.com/openhvx/controller/internal/inventory"
	"github.com/openhvx/controller/internal/models"
	"github.com/openhvx/controller/internal/store"
	"github.com/openhvx/controller/internal/view"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakePublisher struct {
	published []*models.Task
}

func (f *fakePublisher) PublishTask(_ context.Context, task *models.Task) error {
	f.published = append(f.published, task)
	return nil
}

type testEnv struct {
	store  *store.MemoryStore
	router *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st := store.NewMemoryStore()
	pub := &fakePublisher{}
	reg := enrich.NewRegistry()

	raw, err := json.Marshal(map[string]interface{}{"images": []images.Image{
		{ID: "ubuntu-22", Name: "Ubuntu 22.04", OS: "linux", Gen: 2, Path: `\\fs\images\ubuntu-22.vhdx`},
	}})
	require.NoError(t, err)
	indexPath := filepath.Join(t.TempDir(), "index.json")
	require.NoError(t, os.WriteFile(indexPath, raw, 0o644))
	catalog := images.NewCatalog(indexPath, time.Minute)
	enrich.RegisterDefaults(reg, catalog)

	tickets, err := console.NewTicketService(st, "agent-secret", "browser-secret", "wss://gw.example.com", "wss://broker.example.com")
	require.NoError(t, err)

	staleAfter := 2 * time.Minute
	d := dispatch.New(st, pub, reg, nil, staleAfter)
	h := NewHandler(d, view.NewService(st), st, catalog, tickets, staleAfter)

	router := gin.New()
	router.Use(auth.LoadIdentity())

	tenant := router.Group("/api/v1/tenant", auth.RequireTenant())
	{
		tenant.POST("/tasks", h.EnqueueTask(false))
		tenant.GET("/tasks/:taskId", h.GetTask(false))
		tenant.GET("/resources", h.ListResources)
		tenant.GET("/metrics/overview", h.Overview(false))
		tenant.POST("/console/serial", h.OpenSerialConsole)
		tenant.POST("/console/net", h.OpenNetTunnel)
	}
	admin := router.Group("/api/v1/admin", auth.RequireAdmin())
	{
		admin.POST("/tasks", h.EnqueueTask(true))
		admin.GET("/tasks/:taskId", h.GetTask(true))
		admin.GET("/agents", h.GetAgents)
		admin.GET("/agents/:agentId/status", h.GetAgentStatus)
		admin.GET("/agents/:agentId/inventory", h.GetAgentInventory)
		admin.GET("/resources/unassigned", h.ListUnassignedResources)
		admin.GET("/tenants/:tenantId/resources", h.ListResources)
		admin.POST("/tenants/:tenantId/resources", h.ClaimResources)
		admin.DELETE("/tenants/:tenantId/resources/:resourceId", h.UnclaimResource)
		admin.GET("/metrics/overview", h.Overview(true))
		admin.GET("/images", h.ListImages)
		admin.GET("/images/:imageId", h.GetImage)
		admin.GET("/images/:imageId/resolve", h.ResolveImage)
	}
	router.GET("/api/v1/healthz", h.Healthz)

	return &testEnv{store: st, router: router}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

var (
	tenantHeaders = map[string]string{"X-User-Id": "user-1", "X-Tenant-Id": "tenant-a"}
	adminHeaders  = map[string]string{"X-User-Id": "op-1", "X-Roles": "admin"}
)

func (e *testEnv) seedAgent(t *testing.T, agentID string, caps ...string) {
	t.Helper()
	require.NoError(t, e.store.UpsertHeartbeat(context.Background(), &models.Heartbeat{
		AgentID:      agentID,
		Capabilities: caps,
		Host:         "hv-01",
		Version:      "1.2.0",
		LastSeen:     time.Now(),
	}))
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestEnqueueTask(t *testing.T) {
	t.Run("tenant submission is accepted", func(t *testing.T) {
		e := newTestEnv(t)
		e.seedAgent(t, "agent-1", "vm.create")

		w := e.do(t, http.MethodPost, "/api/v1/tenant/tasks", map[string]interface{}{
			"action": "vm.create",
			"target": map[string]interface{}{"kind": "vm", "agentId": "agent-1"},
			"data":   map[string]interface{}{"name": "web"},
		}, tenantHeaders)

		require.Equal(t, http.StatusAccepted, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, true, body["queued"])
		assert.Equal(t, true, body["agentOnline"])
		assert.NotEmpty(t, body["taskId"])
	})

	t.Run("unknown agent maps to 404", func(t *testing.T) {
		e := newTestEnv(t)
		w := e.do(t, http.MethodPost, "/api/v1/tenant/tasks", map[string]interface{}{
			"action": "vm.create",
			"target": map[string]interface{}{"kind": "vm", "agentId": "ghost"},
		}, tenantHeaders)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("missing capability maps to 422", func(t *testing.T) {
		e := newTestEnv(t)
		e.seedAgent(t, "agent-1", "switch")
		w := e.do(t, http.MethodPost, "/api/v1/tenant/tasks", map[string]interface{}{
			"action": "vm.create",
			"target": map[string]interface{}{"kind": "vm", "agentId": "agent-1"},
		}, tenantHeaders)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("unowned resource maps to 403", func(t *testing.T) {
		e := newTestEnv(t)
		e.seedAgent(t, "agent-1", "vm.delete")
		w := e.do(t, http.MethodPost, "/api/v1/tenant/tasks", map[string]interface{}{
			"action": "vm.delete",
			"target": map[string]interface{}{"kind": "vm", "agentId": "agent-1", "refId": "g-1"},
		}, tenantHeaders)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("validation failures map to 400", func(t *testing.T) {
		e := newTestEnv(t)
		w := e.do(t, http.MethodPost, "/api/v1/tenant/tasks", map[string]interface{}{
			"action": "vm.create",
		}, tenantHeaders)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("no tenant context is rejected by middleware", func(t *testing.T) {
		e := newTestEnv(t)
		w := e.do(t, http.MethodPost, "/api/v1/tenant/tasks", map[string]interface{}{
			"action": "vm.create",
		}, map[string]string{"X-User-Id": "user-1"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("admin submits on behalf of a tenant", func(t *testing.T) {
		e := newTestEnv(t)
		e.seedAgent(t, "agent-1", "vm.create")
		w := e.do(t, http.MethodPost, "/api/v1/admin/tasks", map[string]interface{}{
			"action":   "vm.create",
			"tenantId": "tenant-z",
			"target":   map[string]interface{}{"kind": "vm", "agentId": "agent-1"},
		}, adminHeaders)
		require.Equal(t, http.StatusAccepted, w.Code)
	})

	t.Run("non-admin on the admin surface is forbidden", func(t *testing.T) {
		e := newTestEnv(t)
		w := e.do(t, http.MethodPost, "/api/v1/admin/tasks", map[string]interface{}{}, tenantHeaders)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestGetTaskRoutes(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.store.CreateTask(context.Background(), &models.Task{
		TaskID:   "t-1",
		TenantID: "tenant-a",
		Action:   "echo",
		Status:   models.TaskQueued,
		QueuedAt: time.Now(),
	}))

	t.Run("owning tenant reads its task", func(t *testing.T) {
		w := e.do(t, http.MethodGet, "/api/v1/tenant/tasks/t-1", nil, tenantHeaders)
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		data := body["data"].(map[string]interface{})
		assert.Equal(t, "t-1", data["taskId"])
	})

	t.Run("other tenant gets 404", func(t *testing.T) {
		w := e.do(t, http.MethodGet, "/api/v1/tenant/tasks/t-1", nil, map[string]string{"X-Tenant-Id": "tenant-b"})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("admin reads any task", func(t *testing.T) {
		w := e.do(t, http.MethodGet, "/api/v1/admin/tasks/t-1", nil, adminHeaders)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestAgentRoutes(t *testing.T) {
	e := newTestEnv(t)
	e.seedAgent(t, "agent-1", "vm.create")

	t.Run("list agents", func(t *testing.T) {
		w := e.do(t, http.MethodGet, "/api/v1/admin/agents", nil, adminHeaders)
		require.Equal(t, http.StatusOK, w.Code)

		var agents []map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &agents))
		require.Len(t, agents, 1)
		assert.Equal(t, "agent-1", agents[0]["id"])
		assert.Equal(t, "online", agents[0]["status"])
	})

	t.Run("agent status", func(t *testing.T) {
		w := e.do(t, http.MethodGet, "/api/v1/admin/agents/agent-1/status", nil, adminHeaders)
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, true, body["heartbeatOk"])
	})

	t.Run("unknown agent status", func(t *testing.T) {
		w := e.do(t, http.MethodGet, "/api/v1/admin/agents/ghost/status", nil, adminHeaders)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("agent inventory", func(t *testing.T) {
		require.NoError(t, e.store.UpsertInventory(context.Background(), models.TierFull, &models.InventorySnapshot{
			AgentID:   "agent-1",
			TS:        time.Now(),
			Inventory: &inventory.Inventory{VMs: []inventory.VM{{GUID: "g-1", Name: "web"}}},
		}))

		w := e.do(t, http.MethodGet, "/api/v1/admin/agents/agent-1/inventory", nil, adminHeaders)
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		data := body["data"].(map[string]interface{})
		vms := data["vms"].([]interface{})
		assert.Len(t, vms, 1)
	})

	t.Run("inventory for an unseen agent", func(t *testing.T) {
		w := e.do(t, http.MethodGet, "/api/v1/admin/agents/ghost/inventory", nil, adminHeaders)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestResourceRoutes(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.store.UpsertInventory(context.Background(), models.TierFull, &models.InventorySnapshot{
		AgentID: "agent-1",
		TS:      time.Now(),
		Inventory: &inventory.Inventory{VMs: []inventory.VM{
			{GUID: "g-1", Name: "web"},
			{GUID: "g-2", Name: "free"},
		}},
	}))

	t.Run("admin claims resources for a tenant", func(t *testing.T) {
		w := e.do(t, http.MethodPost, "/api/v1/admin/tenants/tenant-a/resources", map[string]interface{}{
			"kind":    "vm",
			"agentId": "agent-1",
			"refIds":  []string{"g-1"},
		}, adminHeaders)
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, float64(1), body["claimed"])
	})

	t.Run("re-claiming is a no-op", func(t *testing.T) {
		w := e.do(t, http.MethodPost, "/api/v1/admin/tenants/tenant-a/resources", map[string]interface{}{
			"kind":    "vm",
			"agentId": "agent-1",
			"refIds":  []string{"g-1"},
		}, adminHeaders)
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, float64(0), body["claimed"])
	})

	t.Run("claim body is validated", func(t *testing.T) {
		w := e.do(t, http.MethodPost, "/api/v1/admin/tenants/tenant-a/resources", map[string]interface{}{
			"kind": "vm",
		}, adminHeaders)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("tenant lists its resources", func(t *testing.T) {
		w := e.do(t, http.MethodGet, "/api/v1/tenant/resources", nil, tenantHeaders)
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		data := body["data"].([]interface{})
		require.Len(t, data, 1)
		res := data[0].(map[string]interface{})
		assert.Equal(t, "g-1", res["refId"])
		assert.Equal(t, "web", res["name"])
	})

	t.Run("unassigned excludes claimed entries", func(t *testing.T) {
		w := e.do(t, http.MethodGet, "/api/v1/admin/resources/unassigned?kind=vm", nil, adminHeaders)
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		data := body["data"].([]interface{})
		require.Len(t, data, 1)
		assert.Equal(t, "g-2", data[0].(map[string]interface{})["refId"])
	})

	t.Run("admin unclaims", func(t *testing.T) {
		w := e.do(t, http.MethodDelete, "/api/v1/admin/tenants/tenant-a/resources/g-1?kind=vm&agentId=agent-1", nil, adminHeaders)
		require.Equal(t, http.StatusOK, w.Code)

		w = e.do(t, http.MethodGet, "/api/v1/tenant/resources", nil, tenantHeaders)
		body := decodeBody(t, w)
		assert.Empty(t, body["data"])
	})

	t.Run("unclaim requires kind and agentId", func(t *testing.T) {
		w := e.do(t, http.MethodDelete, "/api/v1/admin/tenants/tenant-a/resources/g-1", nil, adminHeaders)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestImageRoutes(t *testing.T) {
	e := newTestEnv(t)

	t.Run("list images", func(t *testing.T) {
		w := e.do(t, http.MethodGet, "/api/v1/admin/images", nil, adminHeaders)
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		data := body["data"].([]interface{})
		assert.Len(t, data, 1)
	})

	t.Run("filtered list", func(t *testing.T) {
		w := e.do(t, http.MethodGet, "/api/v1/admin/images?os=windows", nil, adminHeaders)
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Empty(t, body["data"])
	})

	t.Run("get one image", func(t *testing.T) {
		w := e.do(t, http.MethodGet, "/api/v1/admin/images/ubuntu-22", nil, adminHeaders)
		require.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("unknown image", func(t *testing.T) {
		w := e.do(t, http.MethodGet, "/api/v1/admin/images/missing", nil, adminHeaders)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("resolve image path", func(t *testing.T) {
		w := e.do(t, http.MethodGet, "/api/v1/admin/images/ubuntu-22/resolve", nil, adminHeaders)
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		data := body["data"].(map[string]interface{})
		assert.Equal(t, `\\fs\images\ubuntu-22.vhdx`, data["path"])
	})
}

func TestConsoleRoutes(t *testing.T) {
	e := newTestEnv(t)
	created, err := e.store.ClaimResource(context.Background(), &models.TenantResourceLink{
		TenantID: "tenant-a",
		Kind:     models.KindVM,
		AgentID:  "agent-1",
		RefID:    "g-1",
	})
	require.NoError(t, err)
	require.True(t, created)

	t.Run("tenant opens a serial console for an owned vm", func(t *testing.T) {
		w := e.do(t, http.MethodPost, "/api/v1/tenant/console/serial", map[string]interface{}{
			"agentId": "agent-1",
			"refId":   "g-1",
		}, tenantHeaders)
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Contains(t, body, "agentData")
		assert.Contains(t, body, "ui")
	})

	t.Run("unowned vm is rejected", func(t *testing.T) {
		w := e.do(t, http.MethodPost, "/api/v1/tenant/console/serial", map[string]interface{}{
			"agentId": "agent-1",
			"refId":   "g-1",
		}, map[string]string{"X-Tenant-Id": "tenant-b"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("net tunnel requires a target", func(t *testing.T) {
		w := e.do(t, http.MethodPost, "/api/v1/tenant/console/net", map[string]interface{}{
			"agentId": "agent-1",
			"refId":   "g-1",
		}, tenantHeaders)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("net tunnel with a target", func(t *testing.T) {
		w := e.do(t, http.MethodPost, "/api/v1/tenant/console/net", map[string]interface{}{
			"agentId": "agent-1",
			"refId":   "g-1",
			"mode":    "ssh",
			"target":  map[string]interface{}{"ip": "10.0.0.5", "port": 22},
		}, tenantHeaders)
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		ui := body["ui"].(map[string]interface{})
		assert.Equal(t, "ssh", ui["mode"])
	})

	t.Run("console returns 501 when not configured", func(t *testing.T) {
		st := store.NewMemoryStore()
		h := NewHandler(nil, view.NewService(st), st, nil, nil, time.Minute)
		router := gin.New()
		router.Use(auth.LoadIdentity())
		router.POST("/console/serial", h.OpenSerialConsole)

		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(map[string]interface{}{"refId": "g-1"}))
		req, err := http.NewRequest(http.MethodPost, "/console/serial", &buf)
		require.NoError(t, err)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotImplemented, w.Code)
	})
}

func TestOverview(t *testing.T) {
	e := newTestEnv(t)
	e.seedAgent(t, "agent-1", "vm.create")

	running := "Running"
	require.NoError(t, e.store.UpsertInventory(context.Background(), models.TierFull, &models.InventorySnapshot{
		AgentID: "agent-1",
		TS:      time.Now(),
		Inventory: &inventory.Inventory{VMs: []inventory.VM{
			{GUID: "g-1", Name: "web", State: &running},
			{GUID: "g-2", Name: "db"},
		}},
	}))
	require.NoError(t, e.store.CreateTask(context.Background(), &models.Task{
		TaskID:   "t-1",
		TenantID: "tenant-a",
		Action:   "echo",
		Status:   models.TaskQueued,
		QueuedAt: time.Now(),
	}))

	t.Run("tenant overview", func(t *testing.T) {
		w := e.do(t, http.MethodGet, "/api/v1/tenant/metrics/overview", nil, tenantHeaders)
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		data := body["data"].(map[string]interface{})

		agents := data["agents"].(map[string]interface{})
		assert.Equal(t, float64(1), agents["total"])
		assert.Equal(t, float64(1), agents["online"])

		vms := data["vms"].(map[string]interface{})
		assert.Equal(t, float64(2), vms["total"])
		byState := vms["byState"].(map[string]interface{})
		assert.Equal(t, float64(1), byState["Running"])
		assert.Equal(t, float64(1), byState["Unknown"])

		tasks := data["tasks"].(map[string]interface{})
		assert.Equal(t, float64(1), tasks["queued"])
	})

	t.Run("admin overview counts all tenants", func(t *testing.T) {
		require.NoError(t, e.store.CreateTask(context.Background(), &models.Task{
			TaskID:   "t-2",
			TenantID: "tenant-b",
			Action:   "echo",
			Status:   models.TaskQueued,
			QueuedAt: time.Now(),
		}))

		w := e.do(t, http.MethodGet, "/api/v1/admin/metrics/overview", nil, adminHeaders)
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		tasks := body["data"].(map[string]interface{})["tasks"].(map[string]interface{})
		assert.Equal(t, float64(2), tasks["queued"])
	})
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodGet, "/api/v1/healthz", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["ok"])
}
