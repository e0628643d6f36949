package dispatch

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openhvx/controller/internal/enrich"
	"github.com/openhvx/controller/internal/metrics"
	"github.com/openhvx/controller/internal/models"
	"github.com/openhvx/controller/internal/store"
)

var tracer = otel.Tracer("task-dispatch")

// ErrorKind classifies dispatch rejections so the HTTP layer can map them
// to status codes without parsing messages.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindForbidden     ErrorKind = "forbidden"
	KindNotFound      ErrorKind = "not_found"
	KindUnprocessable ErrorKind = "unprocessable"
	KindEnrichment    ErrorKind = "enrichment"
	KindPublish       ErrorKind = "publish_failed"
)

// Error is a dispatch rejection with machine-readable details.
type Error struct {
	Kind    ErrorKind
	Message string
	Details map[string]interface{}
}

func (e *Error) Error() string { return e.Message }

func reject(kind ErrorKind, msg string, details map[string]interface{}) *Error {
	return &Error{Kind: kind, Message: msg, Details: details}
}

// TaskPublisher sends an accepted task toward its agent.
type TaskPublisher interface {
	PublishTask(ctx context.Context, task *models.Task) error
}

// Caller identifies who is submitting a task.
type Caller struct {
	Subject  string
	TenantID string
	Admin    bool
}

// Target names the agent and, for resource-scoped actions, the resource a
// task operates on.
type Target struct {
	Kind    string `json:"kind"`
	AgentID string `json:"agentId"`
	RefID   string `json:"refId,omitempty"`
}

// Request is one task submission.
type Request struct {
	Action   string                 `json:"action"`
	Target   *Target                `json:"target"`
	Data     map[string]interface{} `json:"data"`
	TenantID string                 `json:"tenantId,omitempty"`
}

// Receipt is returned on acceptance. AgentOnline is advisory: the task is
// queued either way and a currently offline agent picks it up on
// reconnect.
type Receipt struct {
	Queued      bool   `json:"queued"`
	TaskID      string `json:"taskId"`
	AgentOnline bool   `json:"agentOnline"`
	StatusURL   string `json:"statusUrl"`
}

// Dispatcher authorizes, enriches, persists, and publishes tenant task
// submissions.
type Dispatcher struct {
	store      store.Store
	publisher  TaskPublisher
	enricher   *enrich.Registry
	metrics    *metrics.TaskMetrics
	staleAfter time.Duration
	tracer     trace.Tracer
}

// New creates a dispatcher. metrics may be nil.
func New(st store.Store, pub TaskPublisher, reg *enrich.Registry, tm *metrics.TaskMetrics, staleAfter time.Duration) *Dispatcher {
	return &Dispatcher{
		store:      st,
		publisher:  pub,
		enricher:   reg,
		metrics:    tm,
		staleAfter: staleAfter,
		tracer:     tracer,
	}
}

// Dispatch runs the full submission pipeline. On rejection it returns a
// *Error and nothing is persisted or published.
func (d *Dispatcher) Dispatch(ctx context.Context, caller Caller, req Request) (*Receipt, error) {
	ctx, span := d.tracer.Start(ctx, "dispatch.submit")
	defer span.End()

	action := strings.TrimSpace(req.Action)
	if action == "" {
		return nil, d.rejected(ctx, action, reject(KindValidation, "missing 'action' in body", nil))
	}
	span.SetAttributes(attribute.String("task.action", action))

	if req.Target == nil || req.Target.Kind == "" || req.Target.AgentID == "" {
		return nil, d.rejected(ctx, action, reject(KindValidation, "missing target.kind / target.agentId", nil))
	}
	target := *req.Target
	agentID := target.AgentID
	span.SetAttributes(attribute.String("agent.id", agentID))

	needsRefID := models.ActionRequiresRefID(action)
	if needsRefID && target.RefID == "" {
		return nil, d.rejected(ctx, action, reject(KindValidation, "missing target.refId for this action", nil))
	}

	// Non-admin callers act only as the tenant their identity carries;
	// admins may act on behalf of any tenant named in the body.
	tenantID := caller.TenantID
	if caller.Admin && req.TenantID != "" {
		tenantID = req.TenantID
	}
	if tenantID == "" {
		msg := "missing tenant context"
		if caller.Admin {
			msg = "tenantId is required for admin operations"
		}
		return nil, d.rejected(ctx, action, reject(KindValidation, msg, nil))
	}

	if !caller.Admin && needsRefID {
		_, err := d.store.FindLink(ctx, tenantID, models.ResourceKind(target.Kind), agentID, target.RefID)
		if err == store.ErrNotFound {
			return nil, d.rejected(ctx, action, reject(KindForbidden, "resource not owned by this tenant", map[string]interface{}{
				"tenantId": tenantID,
				"target":   target,
			}))
		}
		if err != nil {
			return nil, fmt.Errorf("failed to check resource ownership: %w", err)
		}
	}

	hb, err := d.store.GetHeartbeat(ctx, agentID)
	if err == store.ErrNotFound {
		return nil, d.rejected(ctx, action, reject(KindNotFound, "agent not found (no heartbeat yet)", map[string]interface{}{
			"agentId": agentID,
		}))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load agent heartbeat: %w", err)
	}

	needCap := models.RequiredCapability(action)
	if !hasCapability(hb.Capabilities, needCap) {
		return nil, d.rejected(ctx, action, reject(KindUnprocessable, "capability not supported by agent", map[string]interface{}{
			"requiredCapability": needCap,
			"agentCapabilities":  hb.Capabilities,
			"action":             action,
			"agentId":            agentID,
		}))
	}
	agentOnline := hb.Online(d.staleAfter)

	data := make(map[string]interface{}, len(req.Data)+2)
	for k, v := range req.Data {
		data[k] = v
	}
	// the agent reads data.id; target stays alongside for audit
	if needsRefID && data["id"] == nil {
		data["id"] = target.RefID
	}
	data["target"] = map[string]interface{}{
		"kind":    target.Kind,
		"agentId": target.AgentID,
		"refId":   target.RefID,
	}

	enriched, applied, err := d.enricher.Apply(ctx, action, "auto", data, enrich.Context{TenantID: tenantID, AgentID: agentID})
	if err != nil {
		return nil, d.rejected(ctx, action, reject(KindEnrichment, fmt.Sprintf("enrichment failed: %v", err), nil))
	}
	if applied {
		data = enriched
	}

	taskID := uuid.NewString()
	task := &models.Task{
		TaskID:        taskID,
		TenantID:      tenantID,
		AgentID:       agentID,
		Action:        action,
		Data:          data,
		Status:        models.TaskQueued,
		CorrelationID: taskID,
		QueuedAt:      time.Now(),
	}
	if err := d.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to persist task: %w", err)
	}

	if err := d.publisher.PublishTask(ctx, task); err != nil {
		log.Printf(`{"level":"error","message":"Failed to publish task","task_id":"%s","agent_id":"%s","error":"%v"}`,
			taskID, agentID, err)
		return nil, reject(KindPublish, "failed to publish task", map[string]interface{}{"taskId": taskID})
	}

	if err := d.store.MarkTaskSent(ctx, taskID, time.Now()); err != nil {
		log.Printf(`{"level":"warn","message":"Failed to mark task sent","task_id":"%s","error":"%v"}`, taskID, err)
	}

	if d.metrics != nil {
		d.metrics.RecordTaskDispatched(ctx, action, agentID)
	}
	span.SetAttributes(attribute.String("task.id", taskID))

	base := "/api/v1/tenant"
	if caller.Admin {
		base = "/api/v1/admin"
	}
	return &Receipt{
		Queued:      true,
		TaskID:      taskID,
		AgentOnline: agentOnline,
		StatusURL:   base + "/tasks/" + taskID,
	}, nil
}

// GetTask returns a task visible to the caller. Non-admin callers only see
// their own tenant's tasks.
func (d *Dispatcher) GetTask(ctx context.Context, caller Caller, taskID string) (*models.Task, error) {
	if caller.Admin {
		return d.store.GetTask(ctx, taskID)
	}
	if caller.TenantID == "" {
		return nil, reject(KindValidation, "missing tenant context", nil)
	}
	return d.store.GetTenantTask(ctx, taskID, caller.TenantID)
}

func (d *Dispatcher) rejected(ctx context.Context, action string, e *Error) *Error {
	if d.metrics != nil {
		d.metrics.RecordTaskRejected(ctx, action, string(e.Kind))
	}
	return e
}

func hasCapability(caps []string, want string) bool {
	for _, c := range caps {
		if c == want {
			return true
		}
	}
	return false
}
