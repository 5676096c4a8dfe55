// ============================================================================
// Trip-Planner Coordinator - 單一請求協調器
// ============================================================================
//
// Package: internal/coordinator
// 文件: coordinator.go
// 功能: 驗證請求、依 worker 註冊表建立任務、交給 scheduler 執行，
//       並提供取消入口
//
// 生命週期:
//   1. New() - 綁定 scheduler 與唯讀配置
//   2. Handle(ctx, req) - 驗證（失敗則同步回傳 *types.ValidationError，
//      不建立 channel、不啟動 worker）→ 排程 → 回傳 progress.Channel
//   3. Cancel() - 立即送出 Final，執行中的 worker 標記為 cancelled
//   4. Final 快照送出後，內部 context 被釋放
//
// 每個 Coordinator 只處理一個請求；跨請求的狀態只存在於 Service 的註冊表。
//
// ============================================================================

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/trip-planner/internal/progress"
	"github.com/ChuLiYu/trip-planner/internal/scheduler"
	"github.com/ChuLiYu/trip-planner/internal/worker"
	"github.com/ChuLiYu/trip-planner/pkg/types"
)

var (
	// ErrAlreadyHandled 表示同一個 Coordinator 被重複使用
	ErrAlreadyHandled = errors.New("coordinator already handled a request")
	// ErrNoWorkers 表示註冊表中沒有啟用的 worker
	ErrNoWorkers = errors.New("no workers registered")
)

// WorkerSpec registers one producer with the coordinator.
type WorkerSpec struct {
	Kind     types.WorkerKind
	Priority int
	Producer worker.Producer
}

// Config is the read-only configuration shared by every request.
type Config struct {
	QuickAck time.Duration
	Final    time.Duration
	Workers  []WorkerSpec
	// Today is the calendar date requests are validated against; defaults to
	// the local date. Deadlines always run on the wall clock.
	Today func() types.Date
}

func (c Config) today() types.Date {
	if c.Today != nil {
		return c.Today()
	}
	return types.DateOf(time.Now())
}

func (c Config) deadlines(start time.Time) scheduler.Deadlines {
	d := scheduler.DefaultDeadlines()
	if c.QuickAck > 0 {
		d.QuickAck = c.QuickAck
	}
	if c.Final > 0 {
		d.Final = c.Final
	}
	d.Start = start
	return d
}

// Coordinator runs a single request.
type Coordinator struct {
	sched *scheduler.Scheduler
	cfg   Config

	mu      sync.Mutex
	req     types.Request
	channel *progress.Channel
	cancel  context.CancelCauseFunc
	handled bool
}

// New creates a coordinator for one request.
func New(sched *scheduler.Scheduler, cfg Config) *Coordinator {
	return &Coordinator{sched: sched, cfg: cfg}
}

// Handle validates req and starts its workers. The returned channel carries
// every snapshot of the request and is closed by the Final one. A request
// without an ID is assigned one.
//
// Cancelling ctx has the same effect as Cancel.
func (c *Coordinator) Handle(ctx context.Context, req types.Request) (*progress.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handled {
		return nil, ErrAlreadyHandled
	}

	req = req.Normalized()
	if err := req.Validate(c.cfg.today()); err != nil {
		slog.Info("Request rejected", "destination", req.Destination, "error", err)
		return nil, err
	}
	if len(c.cfg.Workers) == 0 {
		return nil, ErrNoWorkers
	}
	if req.ID == "" {
		req.ID = types.NewRequestID()
	}

	tasks := make([]*worker.Task, 0, len(c.cfg.Workers))
	for _, w := range c.cfg.Workers {
		tasks = append(tasks, worker.NewTask(w.Kind, w.Priority, w.Producer))
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	ch, err := c.sched.Schedule(runCtx, req, tasks, c.cfg.deadlines(time.Now()))
	if err != nil {
		cancel(err)
		return nil, fmt.Errorf("schedule %s: %w", req.ID, err)
	}

	c.handled = true
	c.req = req
	c.channel = ch
	c.cancel = cancel

	go func() {
		<-ch.Done()
		cancel(nil)
	}()

	slog.Info("Request accepted",
		"request", req.ID,
		"destination", req.Destination,
		"check_in", req.Dates.CheckIn,
		"check_out", req.Dates.CheckOut,
		"workers", len(tasks))
	return ch, nil
}

// Cancel stops the request. The Final snapshot is emitted immediately with
// the unfinished workers degraded as cancelled. Cancel after Final, or before
// Handle, does nothing.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel(worker.ErrCancelled)
	}
}

// Request returns the accepted, normalized request.
func (c *Coordinator) Request() types.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.req
}

// Channel returns the progress channel, or nil before Handle succeeded.
func (c *Coordinator) Channel() *progress.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}
