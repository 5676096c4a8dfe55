package worker

import (
	"fmt"
	"time"

	"github.com/ChuLiYu/trip-planner/pkg/types"
	"github.com/google/uuid"
)

// TaskID 任務唯一識別碼
type TaskID string

// Status 任務狀態
type Status string

// 定義任務狀態常數
const (
	StatusPending   Status = "pending"   // 已建立，尚未取得執行名額
	StatusRunning   Status = "running"   // producer 正在執行
	StatusSucceeded Status = "succeeded" // producer 成功回傳結果
	StatusFailed    Status = "failed"    // producer 回傳錯誤或 panic
	StatusTimedOut  Status = "timed_out" // 最終期限時仍未完成
	StatusCancelled Status = "cancelled" // 呼叫端取消請求
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTimedOut, StatusCancelled:
		return true
	}
	return false
}

// Task 代表一個 worker 的工作單元，由 scheduler 在執行期間獨占持有
type Task struct {
	ID       TaskID           // 任務唯一識別碼
	Kind     types.WorkerKind // worker 種類，每個請求每種最多一個
	Priority int              // 數字越小越優先（合併順序與限流時的派發順序）
	Producer Producer         // 實際產生結果的 producer

	Status     Status               // 任務當前狀態
	Latest     *types.PartialResult // 最近一次回報的結果
	Reason     types.ReasonCode     // 失敗/逾時/取消原因
	Detail     string               // 原因細節（錯誤訊息）
	StartedAt  time.Time            // 開始執行時間
	FinishedAt time.Time            // 進入終止狀態的時間
}

// NewTask creates a pending task for kind.
func NewTask(kind types.WorkerKind, priority int, producer Producer) *Task {
	return &Task{
		ID:       TaskID(fmt.Sprintf("%s-%s", kind, uuid.NewString()[:8])),
		Kind:     kind,
		Priority: priority,
		Producer: producer,
		Status:   StatusPending,
	}
}

// View returns an immutable copy of the task's observable state.
func (t *Task) View() View {
	v := View{
		ID:         t.ID,
		Kind:       t.Kind,
		Priority:   t.Priority,
		Status:     t.Status,
		Reason:     t.Reason,
		Detail:     t.Detail,
		StartedAt:  t.StartedAt,
		FinishedAt: t.FinishedAt,
	}
	if t.Latest != nil {
		v.Result = *t.Latest
		v.HasResult = true
	}
	return v
}

// View is the read-only task state handed to the aggregator.
type View struct {
	ID         TaskID
	Kind       types.WorkerKind
	Priority   int
	Status     Status
	Result     types.PartialResult
	HasResult  bool
	Reason     types.ReasonCode
	Detail     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// EventType 任務事件種類
type EventType string

const (
	EventStarted  EventType = "started"  // 取得執行名額，producer 開始執行
	EventInterim  EventType = "interim"  // producer 回報中間結果
	EventFinished EventType = "finished" // producer 返回（成功或失敗）
)

// Event reports one transition of a running task to the scheduler loop.
type Event struct {
	TaskID TaskID
	Kind   types.WorkerKind
	Type   EventType
	Result types.PartialResult // EventInterim, or EventFinished with Err == nil
	Err    error               // EventFinished only
	Reason types.ReasonCode    // set when Err != nil
	At     time.Time
}
