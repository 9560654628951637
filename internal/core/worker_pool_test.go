package core

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
)

func TestWorkerPoolRun(t *testing.T) {
	var running, peak int64
	failure := errors.New("boom")

	var jobs []Job
	for i := 0; i < 10; i++ {
		jobs = append(jobs, JobFunc{
			Name: fmt.Sprintf("job-%d", i),
			Fn: func(ctx context.Context) error {
				n := atomic.AddInt64(&running, 1)
				defer atomic.AddInt64(&running, -1)
				for {
					p := atomic.LoadInt64(&peak)
					if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
						break
					}
				}
				if i == 3 {
					return failure
				}
				return nil
			},
		})
	}

	pool := NewWorkerPool(3)
	results, err := pool.Run(context.Background(), jobs)
	if err != nil {
		t.Fatal(err)
	}
	for i, r := range results {
		if r.JobID != fmt.Sprintf("job-%d", i) {
			t.Errorf("result %d has id %s", i, r.JobID)
		}
		if (i == 3) != errors.Is(r.Error, failure) {
			t.Errorf("result %d error = %v", i, r.Error)
		}
	}
	if peak > 3 {
		t.Errorf("peak concurrency %d exceeds limit", peak)
	}
	stats := pool.GetStats()
	if stats.JobsCompleted != 10 || stats.JobsFailed != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestWorkerPoolCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewWorkerPool(2).Run(ctx, []Job{JobFunc{Name: "x", Fn: func(context.Context) error { return nil }}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}
