package core

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Job 任务接口
type Job interface {
	ID() string
	Run(ctx context.Context) error
}

// JobFunc 把函数包装为任务
type JobFunc struct {
	Name string
	Fn   func(ctx context.Context) error
}

// ID 返回任务名
func (j JobFunc) ID() string { return j.Name }

// Run 执行任务
func (j JobFunc) Run(ctx context.Context) error { return j.Fn(ctx) }

// Result 任务结果
type Result struct {
	JobID    string
	Error    error
	Duration time.Duration
}

// PoolStats 工作池统计信息
type PoolStats struct {
	JobsSubmitted   int64 `json:"jobs_submitted"`
	JobsCompleted   int64 `json:"jobs_completed"`
	JobsFailed      int64 `json:"jobs_failed"`
	TotalExecTimeNs int64 `json:"total_exec_time_ns"`
}

// WorkerPool 有并发上限的工作池；单个任务失败不会取消其他任务
type WorkerPool struct {
	workers int
	stats   PoolStats
}

// NewWorkerPool 创建工作池，workers <= 0 表示不限制并发
func NewWorkerPool(workers int) *WorkerPool {
	return &WorkerPool{workers: workers}
}

// Run 执行全部任务并按提交顺序返回结果；只有 ctx 被取消时返回错误
func (wp *WorkerPool) Run(ctx context.Context, jobs []Job) ([]Result, error) {
	results := make([]Result, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	if wp.workers > 0 {
		g.SetLimit(wp.workers)
	}

	for i, job := range jobs {
		if gctx.Err() != nil {
			break
		}
		atomic.AddInt64(&wp.stats.JobsSubmitted, 1)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			err := job.Run(gctx)
			elapsed := time.Since(start)

			atomic.AddInt64(&wp.stats.JobsCompleted, 1)
			atomic.AddInt64(&wp.stats.TotalExecTimeNs, int64(elapsed))
			if err != nil {
				atomic.AddInt64(&wp.stats.JobsFailed, 1)
			}
			results[i] = Result{JobID: job.ID(), Error: err, Duration: elapsed}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}

// GetStats 获取统计信息
func (wp *WorkerPool) GetStats() PoolStats {
	return PoolStats{
		JobsSubmitted:   atomic.LoadInt64(&wp.stats.JobsSubmitted),
		JobsCompleted:   atomic.LoadInt64(&wp.stats.JobsCompleted),
		JobsFailed:      atomic.LoadInt64(&wp.stats.JobsFailed),
		TotalExecTimeNs: atomic.LoadInt64(&wp.stats.TotalExecTimeNs),
	}
}
