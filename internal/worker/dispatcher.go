// ============================================================================
// Trip-Planner Dispatcher - 並發任務派發器
// ============================================================================
//
// Package: internal/worker
// 文件: dispatcher.go
// 功能: 為單一請求啟動所有 worker goroutine，並回報事件給 scheduler
//
// 設計模式:
//   每個請求一個 Dispatcher（不跨請求共用）：
//   1. 依 priority 排序（數字越小越先派發）
//   2. 未設定上限時全部立即啟動
//   3. 設定 maxConcurrency 時使用 semaphore 依序取得執行名額
//
// 架構組件:
//   ┌─────────────┐
//   │ Scheduler   │ --Dispatch()--> Worker goroutines
//   └─────────────┘                     │
//         ↑                             │
//       events  ←───────────────────────┘
//
// 生命週期:
//   1. NewDispatcher() - 綁定 events / done 通道
//   2. Dispatch(ctx, req, jobs) - 啟動 worker（只能呼叫一次）
//   3. Wait() - 等待所有 worker goroutine 結束（測試與關閉時使用）
//
// 並發控制:
//   - semaphore.Weighted: 限制同時執行的 producer 數量
//   - WaitGroup: 追蹤所有 worker goroutine
//   - done: scheduler 停止讀取後，worker 的送出不會阻塞
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/ChuLiYu/trip-planner/pkg/types"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrAlreadyDispatched 表示同一個 Dispatcher 被派發兩次
	ErrAlreadyDispatched = errors.New("dispatcher already used")
	// ErrDuplicateKind 表示同一請求中有兩個相同種類的任務
	ErrDuplicateKind = errors.New("duplicate worker kind in one request")
)

// Dispatcher starts the workers of one request.
type Dispatcher struct {
	sem    *semaphore.Weighted // nil 表示不限制並發
	events chan<- Event
	done   <-chan struct{}
	wg     sync.WaitGroup

	mu         sync.Mutex
	dispatched bool
}

// NewDispatcher 建立派發器
// 參數：
//   - maxConcurrency: 同時執行的 producer 上限，0 表示不限制
//   - events: worker 事件通道
//   - done: scheduler 停止監聽時關閉
func NewDispatcher(maxConcurrency int, events chan<- Event, done <-chan struct{}) *Dispatcher {
	d := &Dispatcher{events: events, done: done}
	if maxConcurrency > 0 {
		d.sem = semaphore.NewWeighted(int64(maxConcurrency))
	}
	return d
}

// Dispatch starts one worker per job. Jobs are started in priority order;
// with a concurrency limit, lower priority numbers get a slot first and jobs
// that never get a slot before ctx ends are left unstarted.
func (d *Dispatcher) Dispatch(ctx context.Context, req types.Request, jobs []Assignment) error {
	d.mu.Lock()
	if d.dispatched {
		d.mu.Unlock()
		return ErrAlreadyDispatched
	}
	d.dispatched = true
	d.mu.Unlock()

	seen := make(map[types.WorkerKind]bool, len(jobs))
	for _, j := range jobs {
		if seen[j.Kind] {
			return ErrDuplicateKind
		}
		seen[j.Kind] = true
	}

	ordered := SortByPriority(jobs)

	if d.sem == nil {
		for _, j := range ordered {
			d.start(ctx, j, req, false)
		}
		return nil
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for _, j := range ordered {
			if err := d.sem.Acquire(ctx, 1); err != nil {
				slog.Warn("Dispatch stopped before all workers started",
					"kind", j.Kind,
					"error", err)
				return
			}
			d.start(ctx, j, req, true)
		}
	}()
	return nil
}

func (d *Dispatcher) start(ctx context.Context, job Assignment, req types.Request, release bool) {
	w := newWorker(job, req, d.events, d.done)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if release {
			defer d.sem.Release(1)
		}
		w.Run(ctx)
	}()
}

// Wait blocks until every worker goroutine has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// SortByPriority returns jobs ordered by (priority, kind).
func SortByPriority(jobs []Assignment) []Assignment {
	out := append([]Assignment(nil), jobs...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}
