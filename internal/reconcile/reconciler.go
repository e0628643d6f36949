package reconcile

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

	"github.com/openhvx/controller/internal/metrics"
	"github.com/openhvx/controller/internal/models"
	"github.com/openhvx/controller/internal/store"
)

var tracer = otel.Tracer("result-reconcile")

// resultMessage is the wire shape of one task result.
type resultMessage struct {
	TaskID     string                 `json:"taskId"`
	AgentID    string                 `json:"agentId"`
	OK         bool                   `json:"ok"`
	Result     map[string]interface{} `json:"result"`
	Error      string                 `json:"error"`
	FinishedAt *time.Time             `json:"finishedAt"`
}

// Reconciler applies task results to the store and keeps tenant-resource
// ownership links in step with successful lifecycle actions.
type Reconciler struct {
	store   store.Store
	metrics *metrics.TaskMetrics
	tracer  trace.Tracer
}

// New creates a reconciler. metrics may be nil.
func New(st store.Store, tm *metrics.TaskMetrics) *Reconciler {
	return &Reconciler{store: st, metrics: tm, tracer: tracer}
}

// HandleResult ingests one result message. The task upsert is idempotent,
// so broker redeliveries converge on the same terminal row. Ownership
// bookkeeping failures are logged but never block the ack: the result
// itself is already durable.
func (r *Reconciler) HandleResult(ctx context.Context, body []byte, _ amqp.Table, routingKey string) error {
	ctx, span := r.tracer.Start(ctx, "reconcile.handle_result")
	defer span.End()

	var msg resultMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("failed to parse result: %w", err)
	}
	if msg.TaskID == "" {
		return fmt.Errorf("result missing taskId")
	}
	span.SetAttributes(
		attribute.String("task.id", msg.TaskID),
		attribute.Bool("task.ok", msg.OK),
		attribute.String("routing_key", routingKey),
	)

	finishedAt := time.Now()
	if msg.FinishedAt != nil {
		finishedAt = *msg.FinishedAt
	}

	if err := r.store.ApplyTaskResult(ctx, store.ResultUpdate{
		TaskID:     msg.TaskID,
		AgentID:    msg.AgentID,
		OK:         msg.OK,
		Result:     msg.Result,
		Error:      msg.Error,
		FinishedAt: finishedAt,
		RoutingKey: routingKey,
	}); err != nil {
		return err
	}

	task, err := r.store.GetTask(ctx, msg.TaskID)
	if err != nil {
		// the upsert above guarantees the row exists; treat a miss as a
		// race with an operator delete and move on
		log.Printf(`{"level":"warn","message":"Task not found after result upsert","task_id":"%s","error":"%v"}`, msg.TaskID, err)
		return nil
	}

	r.recordOutcome(ctx, task, msg.OK, finishedAt)

	if msg.OK {
		if err := r.upsertOwnership(ctx, task, msg.Result); err != nil {
			log.Printf(`{"level":"error","message":"Ownership bookkeeping failed","task_id":"%s","action":"%s","error":"%v"}`,
				task.TaskID, task.Action, err)
		}
	}
	return nil
}

// upsertOwnership translates a successful lifecycle result into ownership
// link changes. The task row is the source of truth for tenant and agent;
// results that arrived before their task carry neither and are skipped.
func (r *Reconciler) upsertOwnership(ctx context.Context, task *models.Task, result map[string]interface{}) error {
	if task.TenantID == "" || task.AgentID == "" {
		return nil
	}

	switch task.Action {
	case models.ActionVMCreate, models.ActionVMClone:
		refID := vmRefID(result)
		if refID == "" {
			return nil
		}
		created, err := r.store.ClaimResource(ctx, &models.TenantResourceLink{
			TenantID:   task.TenantID,
			Kind:       models.KindVM,
			AgentID:    task.AgentID,
			RefID:      refID,
			AssignedAt: time.Now(),
		})
		if err != nil {
			return err
		}
		if created {
			log.Printf(`{"level":"info","message":"VM claimed","tenant_id":"%s","agent_id":"%s","ref_id":"%s"}`,
				task.TenantID, task.AgentID, refID)
		}
		return nil

	case models.ActionVMDelete:
		refID := vmRefID(result)
		if refID == "" {
			return nil
		}
		return r.store.ReleaseResource(ctx, models.KindVM, task.AgentID, refID)

	case models.ActionSwitchCreate:
		refID := switchRefID(result)
		if refID == "" {
			return nil
		}
		_, err := r.store.ClaimResource(ctx, &models.TenantResourceLink{
			TenantID:   task.TenantID,
			Kind:       models.KindSwitch,
			AgentID:    task.AgentID,
			RefID:      refID,
			AssignedAt: time.Now(),
		})
		return err
	}
	return nil
}

func (r *Reconciler) recordOutcome(ctx context.Context, task *models.Task, ok bool, finishedAt time.Time) {
	if r.metrics == nil {
		return
	}
	duration := finishedAt.Sub(task.QueuedAt)
	if duration < 0 {
		duration = 0
	}
	if ok {
		r.metrics.RecordTaskCompleted(ctx, task.Action, task.AgentID, duration)
	} else {
		r.metrics.RecordTaskFailed(ctx, task.Action, task.AgentID, duration)
	}
}

// vmRefID identifies the VM a result describes: guid preferred, name as
// the fallback for agents that cannot report one.
func vmRefID(result map[string]interface{}) string {
	vm, _ := result["vm"].(map[string]interface{})
	if vm == nil {
		return ""
	}
	if guid, _ := vm["guid"].(string); guid != "" {
		return guid
	}
	name, _ := vm["name"].(string)
	return name
}

func switchRefID(result map[string]interface{}) string {
	sw, _ := result["switch"].(map[string]interface{})
	if sw == nil {
		return ""
	}
	name, _ := sw["name"].(string)
	return name
}
