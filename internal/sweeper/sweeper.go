package sweeper

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/openhvx/controller/internal/metrics"
	"github.com/openhvx/controller/internal/store"
)

var tracer = otel.Tracer("task-sweeper")

const expireReason = "expired: no agent pickup before queue TTL"

// Sweeper periodically fails tasks stuck in queued longer than the TTL, so
// submissions to agents that never come back do not sit pending forever.
type Sweeper struct {
	store    store.TaskStore
	metrics  *metrics.TaskMetrics
	interval time.Duration
	ttl      time.Duration
	tracer   trace.Tracer
}

// New creates a sweeper. metrics may be nil.
func New(st store.TaskStore, tm *metrics.TaskMetrics, interval, ttl time.Duration) *Sweeper {
	return &Sweeper{store: st, metrics: tm, interval: interval, ttl: ttl, tracer: tracer}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep expires queued tasks older than the TTL and returns how many were
// expired.
func (s *Sweeper) Sweep(ctx context.Context) int64 {
	ctx, span := s.tracer.Start(ctx, "sweeper.sweep")
	defer span.End()

	n, err := s.store.ExpireQueuedTasks(ctx, time.Now().Add(-s.ttl), expireReason)
	if err != nil {
		log.Printf(`{"level":"error","message":"Task sweep failed","error":"%v"}`, err)
		return 0
	}
	if n > 0 {
		log.Printf(`{"level":"info","message":"Expired stale queued tasks","count":%d}`, n)
		if s.metrics != nil {
			s.metrics.RecordTasksExpired(ctx, n)
		}
	}
	return n
}
