package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openhvx/controller/internal/models"
)

const (
	// JobsExchange routes tasks to per-agent queues (direct).
	JobsExchange = "jobs"
	// TelemetryExchange receives heartbeat.<agentId> and inventory.<agentId> (topic).
	TelemetryExchange = "agent.telemetry"
	// ResultsExchange receives task.<action> result messages (topic).
	ResultsExchange = "results"

	// HeartbeatQueue collects heartbeats from every agent. Heartbeats are
	// disposable liveness signals, so the queue caps both age and depth.
	HeartbeatQueue = "agent.heartbeats"
	// InventoryQueue collects full and light inventory envelopes.
	InventoryQueue = "agent.inventories"
	// ResultsQueue collects task results for the reconciler.
	ResultsQueue = "results.controller"

	heartbeatTTLMs     = 120000
	heartbeatMaxLength = 2000
)

// HandlerFunc processes one delivery. A nil return acks the message; an
// error nacks it without requeue (the broker's dead-letter policy, if
// configured, takes it from there).
type HandlerFunc func(ctx context.Context, body []byte, headers amqp.Table, routingKey string) error

// Broker wraps one AMQP connection with the controller's topology declared.
// Publishing is serialized on a single channel; each consumer gets its own.
type Broker struct {
	conn     *amqp.Connection
	pub      *amqp.Channel
	prefetch int
	dlx      string

	mu       sync.Mutex
	declared map[string]bool

	tracer trace.Tracer
}

// Connect dials RabbitMQ and declares the exchanges and telemetry queues.
// deadLetterExchange may be empty; when set, failed deliveries on the
// consumer queues are routed there instead of being dropped.
func Connect(url string, prefetch int, deadLetterExchange string) (*Broker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	pub, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	b := &Broker{
		conn:     conn,
		pub:      pub,
		prefetch: prefetch,
		dlx:      deadLetterExchange,
		declared: make(map[string]bool),
		tracer:   otel.Tracer("broker"),
	}
	if err := b.declareTopology(pub); err != nil {
		conn.Close()
		return nil, err
	}
	return b, nil
}

func (b *Broker) declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(JobsExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", JobsExchange, err)
	}
	if err := ch.ExchangeDeclare(TelemetryExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", TelemetryExchange, err)
	}
	if err := ch.ExchangeDeclare(ResultsExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", ResultsExchange, err)
	}

	hbArgs := amqp.Table{
		"x-message-ttl": int32(heartbeatTTLMs),
		"x-max-length":  int32(heartbeatMaxLength),
	}
	for k, v := range b.queueArgs() {
		hbArgs[k] = v
	}
	if _, err := ch.QueueDeclare(HeartbeatQueue, true, false, false, false, hbArgs); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", HeartbeatQueue, err)
	}
	if _, err := ch.QueueDeclare(InventoryQueue, true, false, false, false, b.queueArgs()); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", InventoryQueue, err)
	}
	if _, err := ch.QueueDeclare(ResultsQueue, true, false, false, false, b.queueArgs()); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", ResultsQueue, err)
	}

	// routing keys are heartbeat.<agentId> / inventory.<agentId> / task.<action>
	if err := ch.QueueBind(HeartbeatQueue, "heartbeat.*", TelemetryExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", HeartbeatQueue, err)
	}
	if err := ch.QueueBind(InventoryQueue, "inventory.*", TelemetryExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", InventoryQueue, err)
	}
	if err := ch.QueueBind(ResultsQueue, "task.#", ResultsExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", ResultsQueue, err)
	}
	return nil
}

func (b *Broker) queueArgs() amqp.Table {
	if b.dlx == "" {
		return nil
	}
	return amqp.Table{"x-dead-letter-exchange": b.dlx}
}

// PublishTask declares the agent's task queue, binds it to the jobs
// exchange under the agent id, and publishes the task as persistent JSON.
func (b *Broker) PublishTask(ctx context.Context, task *models.Task) error {
	if task.AgentID == "" || task.Action == "" {
		return fmt.Errorf("agentId and action are required")
	}

	ctx, span := b.tracer.Start(ctx, "broker.publish_task")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", task.TaskID),
		attribute.String("task.action", task.Action),
		attribute.String("agent.id", task.AgentID),
	)

	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	correlationID := task.CorrelationID
	if correlationID == "" {
		correlationID = task.TaskID
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	queue := "agent." + task.AgentID + ".tasks"
	if !b.declared[queue] {
		if _, err := b.pub.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", queue, err)
		}
		if err := b.pub.QueueBind(queue, task.AgentID, JobsExchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", queue, err)
		}
		b.declared[queue] = true
	}

	err = b.pub.PublishWithContext(ctx, JobsExchange, task.AgentID, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: correlationID,
		Timestamp:     time.Now(),
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish task: %w", err)
	}
	return nil
}

// Consume opens a dedicated channel on the queue and feeds deliveries to
// the handler until ctx is cancelled or the channel dies. Messages are
// acked on success and nacked without requeue on handler error.
func (b *Broker) Consume(ctx context.Context, queue string, handler HandlerFunc) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel for %s: %w", queue, err)
	}
	if err := ch.Qos(b.prefetch, 0, false); err != nil {
		ch.Close()
		return fmt.Errorf("failed to set prefetch for %s: %w", queue, err)
	}
	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to consume %s: %w", queue, err)
	}

	go func() {
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-deliveries:
				if !ok {
					log.Printf(`{"level":"warn","message":"Consumer channel closed","queue":"%s"}`, queue)
					return
				}
				b.handle(ctx, queue, handler, msg)
			}
		}
	}()
	return nil
}

func (b *Broker) handle(ctx context.Context, queue string, handler HandlerFunc, msg amqp.Delivery) {
	ctx, span := b.tracer.Start(ctx, "broker.consume")
	defer span.End()
	span.SetAttributes(
		attribute.String("queue", queue),
		attribute.String("routing_key", msg.RoutingKey),
	)

	if err := handler(ctx, msg.Body, msg.Headers, msg.RoutingKey); err != nil {
		log.Printf(`{"level":"error","message":"Message handling failed","queue":"%s","routing_key":"%s","error":"%v"}`,
			queue, msg.RoutingKey, err)
		if nackErr := msg.Nack(false, false); nackErr != nil {
			log.Printf(`{"level":"error","message":"Failed to nack message","queue":"%s","error":"%v"}`, queue, nackErr)
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		log.Printf(`{"level":"error","message":"Failed to ack message","queue":"%s","error":"%v"}`, queue, err)
	}
}

// Close shuts down the publish channel and the connection.
func (b *Broker) Close() error {
	if err := b.pub.Close(); err != nil && err != amqp.ErrClosed {
		return err
	}
	if err := b.conn.Close(); err != nil && err != amqp.ErrClosed {
		return err
	}
	return nil
}
