package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunExecutesAllJobs(t *testing.T) {
	p := New(4)
	var count int64
	jobs := make([]Job, 20)
	for i := range jobs {
		jobs[i] = func(ctx context.Context) error {
			atomic.AddInt64(&count, 1)
			return nil
		}
	}
	require.NoError(t, p.Run(context.Background(), jobs))
	require.Equal(t, int64(20), count)
}

func TestRunReturnsFirstError(t *testing.T) {
	p := New(2)
	boom := errors.New("boom")
	jobs := []Job{
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return boom },
		func(ctx context.Context) error { <-ctx.Done(); return ctx.Err() },
	}
	err := p.Run(context.Background(), jobs)
	require.Error(t, err)
}

func TestRunRespectsContextCancellation(t *testing.T) {
	p := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	jobs := []Job{
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return nil },
	}
	err := p.Run(ctx, jobs)
	require.Error(t, err)
}

func TestRunEachConcurrencyBound(t *testing.T) {
	p := New(2)
	var current, max int64
	items := make([]int, 10)
	err := RunEach(context.Background(), p, items, func(ctx context.Context, item int) error {
		n := atomic.AddInt64(&current, 1)
		for {
			old := atomic.LoadInt64(&max)
			if n <= old || atomic.CompareAndSwapInt64(&max, old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&current, -1)
		return nil
	})
	require.NoError(t, err)
	require.LessOrEqual(t, max, int64(2))
}

func TestRunWithNoJobs(t *testing.T) {
	p := New(4)
	require.NoError(t, p.Run(context.Background(), nil))
}
