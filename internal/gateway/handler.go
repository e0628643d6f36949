package gateway

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openhvx/controller/internal/auth"
	"github.com/openhvx/controller/internal/console"
	"github.com/openhvx/controller/internal/dispatch"
	"github.com/openhvx/controller/internal/images"
	"github.com/openhvx/controller/internal/models"
	"github.com/openhvx/controller/internal/store"
	"github.com/openhvx/controller/internal/view"
)

// Handler handles HTTP requests for the controller API
type Handler struct {
	dispatcher *dispatch.Dispatcher
	resources  *view.Service
	store      store.Store
	catalog    *images.Catalog
	tickets    *console.TicketService
	staleAfter time.Duration
}

// NewHandler creates a new controller API handler. tickets may be nil when
// the console tunnel feature is not configured.
func NewHandler(d *dispatch.Dispatcher, rs *view.Service, st store.Store, cat *images.Catalog, tk *console.TicketService, staleAfter time.Duration) *Handler {
	return &Handler{
		dispatcher: d,
		resources:  rs,
		store:      st,
		catalog:    cat,
		tickets:    tk,
		staleAfter: staleAfter,
	}
}

func caller(c *gin.Context, admin bool) dispatch.Caller {
	id := auth.GetIdentity(c)
	return dispatch.Caller{
		Subject:  id.Subject,
		TenantID: id.TenantID,
		Admin:    admin && id.IsAdmin(),
	}
}

func dispatchStatus(kind dispatch.ErrorKind) int {
	switch kind {
	case dispatch.KindForbidden:
		return http.StatusForbidden
	case dispatch.KindNotFound:
		return http.StatusNotFound
	case dispatch.KindUnprocessable:
		return http.StatusUnprocessableEntity
	case dispatch.KindPublish:
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}

// EnqueueTask godoc
// @Summary Submit a task
// @Description Authorize, enrich and publish a task toward its agent
// @Tags tasks
// @Accept json
// @Produce json
// @Param request body dispatch.Request true "Task submission"
// @Success 202 {object} dispatch.Receipt
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 422 {object} models.ErrorResponse
// @Router /tasks [post]
func (h *Handler) EnqueueTask(admin bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dispatch.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
			return
		}

		receipt, err := h.dispatcher.Dispatch(c.Request.Context(), caller(c, admin), req)
		if err != nil {
			if de, ok := err.(*dispatch.Error); ok {
				c.JSON(dispatchStatus(de.Kind), models.ErrorResponse{Error: de.Message, Details: de.Details})
				return
			}
			log.Printf(`{"level":"error","message":"Task dispatch failed","error":"%v"}`, err)
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to publish task"})
			return
		}
		c.JSON(http.StatusAccepted, receipt)
	}
}

// GetTask godoc
// @Summary Get a task
// @Description Fetch one task by id, scoped to the caller's tenant unless admin
// @Tags tasks
// @Produce json
// @Param taskId path string true "Task ID"
// @Success 200 {object} models.Task
// @Failure 404 {object} models.ErrorResponse
// @Router /tasks/{taskId} [get]
func (h *Handler) GetTask(admin bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		task, err := h.dispatcher.GetTask(c.Request.Context(), caller(c, admin), c.Param("taskId"))
		if err == store.ErrNotFound {
			c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Task not found"})
			return
		}
		if err != nil {
			if de, ok := err.(*dispatch.Error); ok {
				c.JSON(dispatchStatus(de.Kind), models.ErrorResponse{Error: de.Message})
				return
			}
			log.Printf(`{"level":"error","message":"Failed to get task","error":"%v"}`, err)
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Server error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": task})
	}
}

type agentSummary struct {
	ID            string     `json:"id"`
	Host          string     `json:"host,omitempty"`
	Capabilities  []string   `json:"capabilities"`
	Version       string     `json:"version,omitempty"`
	Status        string     `json:"status"`
	HeartbeatOK   bool       `json:"heartbeatOk"`
	LastHeartbeat *time.Time `json:"lastHeartbeat"`
}

func (h *Handler) summarize(hb *models.Heartbeat) agentSummary {
	online := hb.Online(h.staleAfter)
	status := "offline"
	if online {
		status = "online"
	}
	var last *time.Time
	if !hb.LastSeen.IsZero() {
		t := hb.LastSeen
		last = &t
	}
	return agentSummary{
		ID:            hb.AgentID,
		Host:          hb.Host,
		Capabilities:  hb.Capabilities,
		Version:       hb.Version,
		Status:        status,
		HeartbeatOK:   online,
		LastHeartbeat: last,
	}
}

// GetAgents godoc
// @Summary List agents
// @Tags agents
// @Produce json
// @Success 200 {array} gateway.agentSummary
// @Router /agents [get]
func (h *Handler) GetAgents(c *gin.Context) {
	hbs, err := h.store.ListHeartbeats(c.Request.Context())
	if err != nil {
		log.Printf(`{"level":"error","message":"Failed to list agents","error":"%v"}`, err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Server error"})
		return
	}
	out := make([]agentSummary, 0, len(hbs))
	for i := range hbs {
		out = append(out, h.summarize(&hbs[i]))
	}
	c.JSON(http.StatusOK, out)
}

// GetAgentStatus godoc
// @Summary Get agent status
// @Tags agents
// @Produce json
// @Param agentId path string true "Agent ID"
// @Success 200 {object} gateway.agentSummary
// @Failure 404 {object} models.ErrorResponse
// @Router /agents/{agentId}/status [get]
func (h *Handler) GetAgentStatus(c *gin.Context) {
	hb, err := h.store.GetHeartbeat(c.Request.Context(), c.Param("agentId"))
	if err == store.ErrNotFound {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Not found"})
		return
	}
	if err != nil {
		log.Printf(`{"level":"error","message":"Failed to get agent status","error":"%v"}`, err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Server error"})
		return
	}
	c.JSON(http.StatusOK, h.summarize(hb))
}

// GetAgentInventory godoc
// @Summary Get agent inventory
// @Description Combined VM view plus the raw full and light snapshots
// @Tags agents
// @Produce json
// @Param agentId path string true "Agent ID"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} models.ErrorResponse
// @Router /agents/{agentId}/inventory [get]
func (h *Handler) GetAgentInventory(c *gin.Context) {
	data, err := h.resources.AgentInventory(c.Request.Context(), c.Param("agentId"))
	if err == store.ErrNotFound {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Not found"})
		return
	}
	if err != nil {
		log.Printf(`{"level":"error","message":"Failed to get agent inventory","error":"%v"}`, err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

// resolveTenant returns the tenant a resource call operates on: the URL
// parameter on the admin surface, the identity's tenant otherwise.
func resolveTenant(c *gin.Context) string {
	if t := c.Param("tenantId"); t != "" {
		return t
	}
	return auth.GetIdentity(c).TenantID
}

// ListResources godoc
// @Summary List tenant resources
// @Description Claimed resources joined with the freshest inventory view
// @Tags resources
// @Produce json
// @Param kind query string false "Resource kind (vm, switch)"
// @Param agentId query string false "Agent filter"
// @Param includeOrphans query bool false "Include links without live inventory"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} models.ErrorResponse
// @Router /resources [get]
func (h *Handler) ListResources(c *gin.Context) {
	tenantID := resolveTenant(c)
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Missing tenant context"})
		return
	}

	opts := view.ListOptions{
		Kind:           models.ResourceKind(c.Query("kind")),
		AgentID:        c.Query("agentId"),
		IncludeOrphans: c.Query("includeOrphans") == "true",
	}
	out, err := h.resources.ListResources(c.Request.Context(), tenantID, opts)
	if err != nil {
		log.Printf(`{"level":"error","message":"Failed to list resources","tenant_id":"%s","error":"%v"}`, tenantID, err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": out})
}

type claimRequest struct {
	Kind    string   `json:"kind" binding:"required"`
	AgentID string   `json:"agentId" binding:"required"`
	RefIDs  []string `json:"refIds" binding:"required,min=1"`
}

// ClaimResources godoc
// @Summary Claim resources for a tenant
// @Tags resources
// @Accept json
// @Produce json
// @Param request body gateway.claimRequest true "Resources to claim"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} models.ErrorResponse
// @Router /resources/claim [post]
func (h *Handler) ClaimResources(c *gin.Context) {
	tenantID := resolveTenant(c)
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Missing tenant context"})
		return
	}

	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "kind, agentId and non-empty refIds[] required"})
		return
	}

	claimed := 0
	for _, refID := range req.RefIDs {
		created, err := h.store.ClaimResource(c.Request.Context(), &models.TenantResourceLink{
			TenantID:   tenantID,
			Kind:       models.ResourceKind(req.Kind),
			AgentID:    req.AgentID,
			RefID:      refID,
			AssignedAt: time.Now(),
		})
		if err != nil {
			log.Printf(`{"level":"error","message":"Failed to claim resource","tenant_id":"%s","ref_id":"%s","error":"%v"}`,
				tenantID, refID, err)
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Server error"})
			return
		}
		if created {
			claimed++
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "claimed": claimed})
}

// UnclaimResource godoc
// @Summary Release a claimed resource
// @Tags resources
// @Produce json
// @Param resourceId path string true "Resource ref id"
// @Param kind query string true "Resource kind"
// @Param agentId query string true "Agent ID"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} models.ErrorResponse
// @Router /resources/{resourceId} [delete]
func (h *Handler) UnclaimResource(c *gin.Context) {
	tenantID := resolveTenant(c)
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Missing tenant context"})
		return
	}

	refID := c.Param("resourceId")
	kind := c.Query("kind")
	agentID := c.Query("agentId")
	if refID == "" || kind == "" || agentID == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "resourceId param and kind/agentId query params are required"})
		return
	}

	if err := h.store.UnclaimResource(c.Request.Context(), tenantID, models.ResourceKind(kind), agentID, refID); err != nil {
		log.Printf(`{"level":"error","message":"Failed to unclaim resource","tenant_id":"%s","ref_id":"%s","error":"%v"}`,
			tenantID, refID, err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ListUnassignedResources godoc
// @Summary List unclaimed inventory entries
// @Tags resources
// @Produce json
// @Param kind query string false "Resource kind (vm, switch)"
// @Param agentId query string false "Agent filter"
// @Param limit query int false "Max entries (default 100, cap 500)"
// @Success 200 {object} map[string]interface{}
// @Router /resources/unassigned [get]
func (h *Handler) ListUnassignedResources(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	out, err := h.resources.ListUnassigned(c.Request.Context(),
		models.ResourceKind(c.Query("kind")), c.Query("agentId"), limit)
	if err != nil {
		log.Printf(`{"level":"error","message":"Failed to list unassigned resources","error":"%v"}`, err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(out), "data": out})
}

// ListImages godoc
// @Summary List catalog images
// @Tags images
// @Produce json
// @Param q query string false "Free-text filter on id, name and path"
// @Param gen query string false "Generation filter"
// @Param os query string false "OS substring filter"
// @Param arch query string false "Architecture filter"
// @Success 200 {object} map[string]interface{}
// @Router /images [get]
func (h *Handler) ListImages(c *gin.Context) {
	imgs, err := h.catalog.List(images.Filter{
		Query: c.Query("q"),
		Gen:   c.Query("gen"),
		OS:    c.Query("os"),
		Arch:  c.Query("arch"),
	})
	if err != nil {
		log.Printf(`{"level":"error","message":"Failed to list images","error":"%v"}`, err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": imgs})
}

// GetImage returns one catalog entry.
func (h *Handler) GetImage(c *gin.Context) {
	img, err := h.catalog.GetByID(c.Param("imageId"))
	if err != nil {
		log.Printf(`{"level":"error","message":"Failed to get image","error":"%v"}`, err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Server error"})
		return
	}
	if img == nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Image not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": img})
}

// ResolveImage maps an image id to its storage path.
func (h *Handler) ResolveImage(c *gin.Context) {
	id := c.Param("imageId")
	path, err := h.catalog.ResolvePath(id)
	if err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Image not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"id": id, "path": path}})
}

type consoleRequest struct {
	AgentID    string          `json:"agentId"`
	RefID      string          `json:"refId" binding:"required"`
	Mode       string          `json:"mode"`
	Target     *console.Target `json:"target"`
	TTLSeconds int             `json:"ttlSeconds"`
}

// OpenSerialConsole godoc
// @Summary Open a serial console tunnel
// @Tags console
// @Accept json
// @Produce json
// @Param request body gateway.consoleRequest true "Console target"
// @Success 200 {object} console.TunnelPlan
// @Failure 400 {object} models.ErrorResponse
// @Router /console/serial [post]
func (h *Handler) OpenSerialConsole(c *gin.Context) {
	if h.tickets == nil {
		c.JSON(http.StatusNotImplemented, models.ErrorResponse{Error: "Console tunnels are not configured"})
		return
	}
	var req consoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "refId is required"})
		return
	}

	id := auth.GetIdentity(c)
	tenantID := id.TenantID
	if id.IsAdmin() {
		tenantID = ""
	}
	plan, err := h.tickets.PlanSerialOpen(c.Request.Context(), tenantID, req.AgentID, req.RefID, id.Subject, req.TTLSeconds)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, plan)
}

// OpenNetTunnel opens a generic TCP tunnel (SSH, RDP, VNC) toward a VM.
func (h *Handler) OpenNetTunnel(c *gin.Context) {
	if h.tickets == nil {
		c.JSON(http.StatusNotImplemented, models.ErrorResponse{Error: "Console tunnels are not configured"})
		return
	}
	var req consoleRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Target == nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "refId and target are required"})
		return
	}

	id := auth.GetIdentity(c)
	tenantID := id.TenantID
	if id.IsAdmin() {
		tenantID = ""
	}
	plan, err := h.tickets.PlanNetTunnelOpen(c.Request.Context(), tenantID, req.AgentID, req.RefID, id.Subject, req.Mode, *req.Target, req.TTLSeconds)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, plan)
}

// Overview godoc
// @Summary Activity overview
// @Description Agent liveness, VM state counts and task throughput over the last 24h
// @Tags metrics
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /metrics/overview [get]
func (h *Handler) Overview(admin bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		tenantID := ""
		if !admin {
			tenantID = auth.GetIdentity(c).TenantID
			if tenantID == "" {
				c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Missing tenant context"})
				return
			}
		}

		hbs, err := h.store.ListHeartbeats(ctx)
		if err != nil {
			log.Printf(`{"level":"error","message":"Failed to list heartbeats","error":"%v"}`, err)
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Server error"})
			return
		}
		online := 0
		for i := range hbs {
			if hbs[i].Online(h.staleAfter) {
				online++
			}
		}

		since := time.Now().Add(-24 * time.Hour)
		counts, err := h.store.CountTasksByStatusSince(ctx, tenantID, since)
		if err != nil {
			log.Printf(`{"level":"error","message":"Failed to count tasks","error":"%v"}`, err)
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Server error"})
			return
		}

		vmStates := map[string]int{}
		vmTotal := 0
		snaps, err := h.store.ListInventories(ctx, models.TierFull, nil)
		if err == nil {
			for i := range snaps {
				if snaps[i].Inventory == nil {
					continue
				}
				for j := range snaps[i].Inventory.VMs {
					state := "Unknown"
					if s := snaps[i].Inventory.VMs[j].State; s != nil && *s != "" {
						state = *s
					}
					vmStates[state]++
					vmTotal++
				}
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data": gin.H{
				"agents": gin.H{"total": len(hbs), "online": online, "offline": len(hbs) - online},
				"vms":    gin.H{"total": vmTotal, "byState": vmStates},
				"tasks": gin.H{
					"since":  since,
					"queued": counts[models.TaskQueued],
					"sent":   counts[models.TaskSent],
					"done":   counts[models.TaskDone],
					"error":  counts[models.TaskError],
				},
			},
		})
	}
}

// Healthz reports process and store liveness.
func (h *Handler) Healthz(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
