package fleet_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adbfleet/internal/fleet"
)

func TestPoolRunsEveryJobInOrder(t *testing.T) {
	jobs := make([]fleet.Job[int], 8)
	for i := range jobs {
		jobs[i] = fleet.Job[int]{Payload: i, Fn: func(_ context.Context, n int) error {
			if n%2 == 1 {
				return errors.New("odd")
			}
			return nil
		}}
	}

	results := fleet.NewPool[int](3).Run(context.Background(), jobs)
	require.Len(t, results, 8)
	for i, res := range results {
		assert.Equal(t, i, res.Payload, "results keep job order")
		if i%2 == 1 {
			assert.Error(t, res.Err)
		} else {
			assert.NoError(t, res.Err)
		}
	}
}

func TestPoolBoundsWorkers(t *testing.T) {
	const limit = 2
	var active, peak int32
	var mu sync.Mutex
	block := make(chan struct{})

	jobs := make([]fleet.Job[int], 6)
	for i := range jobs {
		jobs[i] = fleet.Job[int]{Payload: i, Fn: func(context.Context, int) error {
			n := atomic.AddInt32(&active, 1)
			mu.Lock()
			if n > peak {
				peak = n
			}
			mu.Unlock()
			<-block
			atomic.AddInt32(&active, -1)
			return nil
		}}
	}

	done := make(chan []fleet.Result[int])
	go func() { done <- fleet.NewPool[int](limit).Run(context.Background(), jobs) }()
	close(block)
	results := <-done

	assert.Len(t, results, 6)
	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, int32(limit))
}

func TestPoolCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := fleet.NewPool[int](2).Run(ctx, []fleet.Job[int]{
		{Payload: 1, Fn: func(context.Context, int) error { return nil }},
	})
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, context.Canceled)
}
