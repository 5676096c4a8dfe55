// ============================================================================
// Trip-Planner 任務表 - 單一請求的任務狀態機
// ============================================================================
//
// Package: internal/scheduler
// 文件: task_table.go
// 功能: 保存一個請求內所有 worker 任務的狀態，並維護合法的狀態轉換
//
// 任務狀態轉換 (State Machine):
//   Pending (待執行)
//      ↓ MarkRunning()
//   Running (執行中) ── RecordInterim() 可重複更新 Latest
//      ↓ MarkSucceeded() / MarkFailed()
//      ↓ MarkTimedOut() / MarkCancelled()  （由 scheduler 在期限或取消時呼叫）
//   Succeeded / Failed / TimedOut / Cancelled (終止狀態)
//
// 狀態轉換規則:
//   - 終止狀態不可再轉換，回傳 ErrTerminal（遲到的事件會被忽略）
//   - Pending 任務也可直接進入 TimedOut / Cancelled（從未取得執行名額）
//   - 一個請求內每種 worker 最多一個任務
//
// 所有權:
//   TaskTable 只由 scheduler 的事件迴圈讀寫；aggregator 只看到 Views()
//   回傳的不可變副本。mutex 讓 metrics 與測試可以安全讀取 Counts()。
//
// ============================================================================

package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ChuLiYu/trip-planner/internal/worker"
	"github.com/ChuLiYu/trip-planner/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// 任務不存在
	ErrTaskNotFound = errors.New("task not found")
	// 任務已在終止狀態
	ErrTerminal = errors.New("task already terminal")
)

// TaskTable holds the tasks of one request, keyed by ID.
type TaskTable struct {
	mu    sync.RWMutex
	tasks map[worker.TaskID]*worker.Task
	order []worker.TaskID // (priority, kind)
}

// NewTaskTable 建立任務表
//
// 參數說明：
//   - tasks: 本請求的所有任務，必須處於 Pending 狀態
//
// 錯誤處理：
//   - worker.ErrDuplicateKind: 同一種類出現兩次
func NewTaskTable(tasks []*worker.Task) (*TaskTable, error) {
	tt := &TaskTable{tasks: make(map[worker.TaskID]*worker.Task, len(tasks))}
	kinds := make(map[types.WorkerKind]bool, len(tasks))
	for _, t := range tasks {
		if t == nil {
			return nil, fmt.Errorf("nil task")
		}
		if kinds[t.Kind] {
			return nil, fmt.Errorf("%w: %s", worker.ErrDuplicateKind, t.Kind)
		}
		kinds[t.Kind] = true
		if t.Status == "" {
			t.Status = worker.StatusPending
		}
		tt.tasks[t.ID] = t
		tt.order = append(tt.order, t.ID)
	}
	sort.SliceStable(tt.order, func(i, j int) bool {
		a, b := tt.tasks[tt.order[i]], tt.tasks[tt.order[j]]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.Kind < b.Kind
	})
	return tt, nil
}

// ============================================================================
// 狀態轉換
// ============================================================================

// MarkRunning 將任務從 Pending 轉為 Running
func (tt *TaskTable) MarkRunning(id worker.TaskID, at time.Time) error {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	t, err := tt.live(id)
	if err != nil {
		return err
	}
	t.Status = worker.StatusRunning
	t.StartedAt = at
	return nil
}

// RecordInterim 記錄一個 Preliminary 中間結果，任務維持 Running
func (tt *TaskTable) RecordInterim(id worker.TaskID, r types.PartialResult, at time.Time) error {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	t, err := tt.live(id)
	if err != nil {
		return err
	}
	if t.Status == worker.StatusPending {
		t.Status = worker.StatusRunning
		t.StartedAt = at
	}
	t.Latest = &r
	return nil
}

// MarkSucceeded 記錄最終結果並將任務轉為 Succeeded
func (tt *TaskTable) MarkSucceeded(id worker.TaskID, r types.PartialResult, at time.Time) error {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	t, err := tt.live(id)
	if err != nil {
		return err
	}
	t.Latest = &r
	tt.finish(t, worker.StatusSucceeded, "", "", at)
	return nil
}

// MarkFailed 將任務轉為 Failed（reason 為 failed 或 fatal）
func (tt *TaskTable) MarkFailed(id worker.TaskID, reason types.ReasonCode, detail string, at time.Time) error {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	t, err := tt.live(id)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = types.ReasonFailed
	}
	tt.finish(t, worker.StatusFailed, reason, detail, at)
	return nil
}

// MarkTimedOut 將任務轉為 TimedOut
func (tt *TaskTable) MarkTimedOut(id worker.TaskID, detail string, at time.Time) error {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	t, err := tt.live(id)
	if err != nil {
		return err
	}
	tt.finish(t, worker.StatusTimedOut, types.ReasonTimeout, detail, at)
	return nil
}

// MarkCancelled 將任務轉為 Cancelled
func (tt *TaskTable) MarkCancelled(id worker.TaskID, detail string, at time.Time) error {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	t, err := tt.live(id)
	if err != nil {
		return err
	}
	tt.finish(t, worker.StatusCancelled, types.ReasonCancelled, detail, at)
	return nil
}

// Expire moves every non-terminal task to status (TimedOut or Cancelled) and
// returns the tasks it changed, in (priority, kind) order.
func (tt *TaskTable) Expire(status worker.Status, detail string, at time.Time) []worker.View {
	reason := types.ReasonTimeout
	if status == worker.StatusCancelled {
		reason = types.ReasonCancelled
	}

	tt.mu.Lock()
	defer tt.mu.Unlock()

	var changed []worker.View
	for _, id := range tt.order {
		t := tt.tasks[id]
		if t.Status.Terminal() {
			continue
		}
		tt.finish(t, status, reason, detail, at)
		changed = append(changed, t.View())
	}
	return changed
}

func (tt *TaskTable) live(id worker.TaskID) (*worker.Task, error) {
	t, ok := tt.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if t.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrTerminal, id, t.Status)
	}
	return t, nil
}

func (tt *TaskTable) finish(t *worker.Task, status worker.Status, reason types.ReasonCode, detail string, at time.Time) {
	t.Status = status
	t.Reason = reason
	t.Detail = detail
	t.FinishedAt = at
}

// ============================================================================
// 查詢
// ============================================================================

// Get returns a view of one task.
func (tt *TaskTable) Get(id worker.TaskID) (worker.View, bool) {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	t, ok := tt.tasks[id]
	if !ok {
		return worker.View{}, false
	}
	return t.View(), true
}

// Views returns immutable copies of every task in (priority, kind) order.
func (tt *TaskTable) Views() []worker.View {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	out := make([]worker.View, 0, len(tt.order))
	for _, id := range tt.order {
		out = append(out, tt.tasks[id].View())
	}
	return out
}

// Assignments returns the worker-facing part of every task.
func (tt *TaskTable) Assignments() []worker.Assignment {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	out := make([]worker.Assignment, 0, len(tt.order))
	for _, id := range tt.order {
		out = append(out, worker.AssignmentOf(tt.tasks[id]))
	}
	return out
}

// AllTerminal reports whether every task has finished.
func (tt *TaskTable) AllTerminal() bool {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	for _, t := range tt.tasks {
		if !t.Status.Terminal() {
			return false
		}
	}
	return true
}

// Counts returns the number of tasks per status.
func (tt *TaskTable) Counts() map[worker.Status]int {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	out := make(map[worker.Status]int)
	for _, t := range tt.tasks {
		out[t.Status]++
	}
	return out
}

// Len returns the number of tasks.
func (tt *TaskTable) Len() int {
	tt.mu.RLock()
	defer tt.mu.RUnlock()
	return len(tt.tasks)
}
