package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("controller-metrics")

// TaskMetrics provides metrics collection for task dispatch and completion
type TaskMetrics struct {
	tasksDispatchedCounter metric.Int64Counter
	tasksCompletedCounter  metric.Int64Counter
	tasksFailedCounter     metric.Int64Counter
	tasksRejectedCounter   metric.Int64Counter
	tasksExpiredCounter    metric.Int64Counter
	taskDurationHistogram  metric.Float64Histogram
	tasksInFlightGauge     metric.Int64UpDownCounter
}

// NewTaskMetrics creates a new task metrics collector
func NewTaskMetrics() (*TaskMetrics, error) {
	tasksDispatchedCounter, err := meter.Int64Counter(
		"controller.tasks.dispatched",
		metric.WithDescription("Total number of tasks accepted and published"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, err
	}

	tasksCompletedCounter, err := meter.Int64Counter(
		"controller.tasks.completed",
		metric.WithDescription("Total number of tasks that finished successfully"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, err
	}

	tasksFailedCounter, err := meter.Int64Counter(
		"controller.tasks.failed",
		metric.WithDescription("Total number of tasks that finished in error"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, err
	}

	tasksRejectedCounter, err := meter.Int64Counter(
		"controller.tasks.rejected",
		metric.WithDescription("Total number of task submissions rejected before publish"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, err
	}

	tasksExpiredCounter, err := meter.Int64Counter(
		"controller.tasks.expired",
		metric.WithDescription("Total number of queued tasks expired by the sweeper"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, err
	}

	taskDurationHistogram, err := meter.Float64Histogram(
		"controller.task.duration",
		metric.WithDescription("Time from dispatch to result in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	tasksInFlightGauge, err := meter.Int64UpDownCounter(
		"controller.tasks.in_flight",
		metric.WithDescription("Number of tasks dispatched and awaiting a result"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		return nil, err
	}

	return &TaskMetrics{
		tasksDispatchedCounter: tasksDispatchedCounter,
		tasksCompletedCounter:  tasksCompletedCounter,
		tasksFailedCounter:     tasksFailedCounter,
		tasksRejectedCounter:   tasksRejectedCounter,
		tasksExpiredCounter:    tasksExpiredCounter,
		taskDurationHistogram:  taskDurationHistogram,
		tasksInFlightGauge:     tasksInFlightGauge,
	}, nil
}

// RecordTaskDispatched records one accepted and published task
func (tm *TaskMetrics) RecordTaskDispatched(ctx context.Context, action, agentID string) {
	tm.tasksDispatchedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("task.action", action),
			attribute.String("agent.id", agentID),
		),
	)
	tm.tasksInFlightGauge.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("agent.id", agentID),
		),
	)
}

// RecordTaskRejected records a submission refused before publish
func (tm *TaskMetrics) RecordTaskRejected(ctx context.Context, action, reason string) {
	tm.tasksRejectedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("task.action", action),
			attribute.String("reason", reason),
		),
	)
}

// RecordTaskCompleted records a successful task result
func (tm *TaskMetrics) RecordTaskCompleted(ctx context.Context, action, agentID string, duration time.Duration) {
	tm.tasksCompletedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("task.action", action),
			attribute.String("agent.id", agentID),
			attribute.String("status", "done"),
		),
	)
	tm.taskDurationHistogram.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("task.action", action),
			attribute.String("status", "done"),
		),
	)
	tm.tasksInFlightGauge.Add(ctx, -1,
		metric.WithAttributes(
			attribute.String("agent.id", agentID),
		),
	)
}

// RecordTaskFailed records a task result that reported an error
func (tm *TaskMetrics) RecordTaskFailed(ctx context.Context, action, agentID string, duration time.Duration) {
	tm.tasksFailedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("task.action", action),
			attribute.String("agent.id", agentID),
			attribute.String("status", "error"),
		),
	)
	tm.taskDurationHistogram.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("task.action", action),
			attribute.String("status", "error"),
		),
	)
	tm.tasksInFlightGauge.Add(ctx, -1,
		metric.WithAttributes(
			attribute.String("agent.id", agentID),
		),
	)
}

// RecordTasksExpired records queued tasks swept into error after the TTL
func (tm *TaskMetrics) RecordTasksExpired(ctx context.Context, count int64) {
	if count <= 0 {
		return
	}
	tm.tasksExpiredCounter.Add(ctx, count)
}
