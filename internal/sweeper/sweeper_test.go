package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhvx/controller/internal/models"
	"github.com/openhvx/controller/internal/store"
)

func TestSweep(t *testing.T) {
	ctx := context.Background()

	t.Run("expires queued tasks older than the ttl", func(t *testing.T) {
		st := store.NewMemoryStore()
		s := New(st, nil, time.Minute, 15*time.Minute)

		stale := &models.Task{
			TaskID:   "t-stale",
			Action:   models.ActionEcho,
			Status:   models.TaskQueued,
			QueuedAt: time.Now().Add(-time.Hour),
		}
		require.NoError(t, st.CreateTask(ctx, stale))

		fresh := &models.Task{
			TaskID:   "t-fresh",
			Action:   models.ActionEcho,
			Status:   models.TaskQueued,
			QueuedAt: time.Now(),
		}
		require.NoError(t, st.CreateTask(ctx, fresh))

		n := s.Sweep(ctx)
		assert.Equal(t, int64(1), n)

		task, err := st.GetTask(ctx, "t-stale")
		require.NoError(t, err)
		assert.Equal(t, models.TaskError, task.Status)
		assert.Equal(t, expireReason, task.Error)
		assert.NotNil(t, task.FinishedAt)

		task, err = st.GetTask(ctx, "t-fresh")
		require.NoError(t, err)
		assert.Equal(t, models.TaskQueued, task.Status)
	})

	t.Run("sent tasks are left alone", func(t *testing.T) {
		st := store.NewMemoryStore()
		s := New(st, nil, time.Minute, 15*time.Minute)

		old := &models.Task{
			TaskID:   "t-sent",
			Action:   models.ActionEcho,
			Status:   models.TaskQueued,
			QueuedAt: time.Now().Add(-time.Hour),
		}
		require.NoError(t, st.CreateTask(ctx, old))
		require.NoError(t, st.MarkTaskSent(ctx, "t-sent", time.Now().Add(-time.Hour)))

		assert.Zero(t, s.Sweep(ctx))
	})

	t.Run("empty store sweeps zero", func(t *testing.T) {
		s := New(store.NewMemoryStore(), nil, time.Minute, 15*time.Minute)
		assert.Zero(t, s.Sweep(ctx))
	})
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	st := store.NewMemoryStore()
	s := New(st, nil, 5*time.Millisecond, time.Millisecond)

	require.NoError(t, st.CreateTask(context.Background(), &models.Task{
		TaskID:   "t-1",
		Action:   models.ActionEcho,
		Status:   models.TaskQueued,
		QueuedAt: time.Now().Add(-time.Minute),
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		task, err := st.GetTask(context.Background(), "t-1")
		return err == nil && task.Status == models.TaskError
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after context cancel")
	}
}
