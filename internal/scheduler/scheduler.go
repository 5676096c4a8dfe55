// ============================================================================
// Trip-Planner Deadline Scheduler - 分段期限排程器
// ============================================================================
//
// Package: internal/scheduler
// 文件: scheduler.go
// 功能: 為單一請求同時啟動所有 worker，在 quick-ack 與 final 兩個期限
//       合併當下已有的部分結果，並透過 progress.Channel 逐步送出快照
//
// 時間軸 (從 Deadlines.Start 起算):
//
//   0 ─────────── QuickAck ───────────── Final-Grace ──── Final
//   │ dispatch      │ 快照 (QuickAck/Partial)  │ 協作取消     │ Final 快照
//   │               │                          │ (ctx cause)  │ 仍在執行 → TimedOut
//   └─ 每次任務完成 / 中間結果 → Partial 快照 ──────────────────┘
//
// 事件迴圈 (每個請求一個 goroutine):
//   select {
//     case <-ctx.Done():   呼叫端取消 → 立即 Final，執行中任務標記 Cancelled
//     case <-quickAck.C:   送出 quick-ack 快照（Final 之前必定送出）
//     case <-final.C:      最終期限 → 執行中任務標記 TimedOut，送出 Final
//     case e := <-events:  更新任務表 → 合併 → 送出快照；全部終止則提前 Final
//   }
//   不使用輪詢；所有等待都在同一個 select 上。
//
// 取消語意:
//   worker 的 context 與呼叫端的 context 分離，由 scheduler 以
//   context.WithCancelCause 控制：
//   - Final-Grace 時以 worker.ErrFinalDeadline 為 cause 取消
//   - 呼叫端取消時以 worker.ErrCancelled 為 cause 取消
//   取消是建議性的：不理會 context 的 producer 會被放棄，其遲到的結果
//   不會再被合併（Final 之後 done 關閉，worker 的送出直接返回）。
//
// 並發安全:
//   - TaskTable 與上一個快照只由事件迴圈存取
//   - aggregator.Merge 是純函數
//   - progress.Channel 自帶 mutex
//
// ============================================================================

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ChuLiYu/trip-planner/internal/aggregator"
	"github.com/ChuLiYu/trip-planner/internal/progress"
	"github.com/ChuLiYu/trip-planner/internal/worker"
	"github.com/ChuLiYu/trip-planner/pkg/types"
)

// ============================================================================
// 配置
// ============================================================================

// 預設期限
const (
	DefaultQuickAck    = 5 * time.Second
	DefaultFinal       = 30 * time.Second
	DefaultGracePeriod = 500 * time.Millisecond
)

// ErrInvalidDeadlines 表示期限設定不合法（需 0 < QuickAck < Final）
var ErrInvalidDeadlines = errors.New("invalid deadlines")

// Deadlines are measured from Start, the moment the request was accepted.
type Deadlines struct {
	QuickAck time.Duration
	Final    time.Duration
	Start    time.Time // zero means "now" at Schedule time
}

// DefaultDeadlines returns 5s / 30s.
func DefaultDeadlines() Deadlines {
	return Deadlines{QuickAck: DefaultQuickAck, Final: DefaultFinal}
}

// Validate checks 0 < QuickAck < Final.
func (d Deadlines) Validate() error {
	if d.QuickAck <= 0 {
		return fmt.Errorf("%w: quick-ack deadline must be positive, got %s", ErrInvalidDeadlines, d.QuickAck)
	}
	if d.Final <= d.QuickAck {
		return fmt.Errorf("%w: final deadline %s must be after quick-ack deadline %s", ErrInvalidDeadlines, d.Final, d.QuickAck)
	}
	return nil
}

// Recorder receives scheduling metrics. A nil Recorder disables them.
type Recorder interface {
	RecordSnapshot(stage types.Stage)
	RecordWorkerOutcome(kind types.WorkerKind, status string, duration time.Duration)
	RecordDegraded(kind types.WorkerKind, reason types.ReasonCode)
	RecordTimeToFinal(d time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) RecordSnapshot(types.Stage)                                  {}
func (noopRecorder) RecordWorkerOutcome(types.WorkerKind, string, time.Duration) {}
func (noopRecorder) RecordDegraded(types.WorkerKind, types.ReasonCode)           {}
func (noopRecorder) RecordTimeToFinal(time.Duration)                             {}

// Config 排程器配置
type Config struct {
	GracePeriod    time.Duration // 最終期限前多久送出協作取消，0 表示在最終期限才取消
	MaxConcurrency int           // 同時執行的 producer 上限，0 表示不限制
	Recorder       Recorder
}

// Scheduler runs requests. It holds no per-request state and is safe for
// concurrent use.
type Scheduler struct {
	cfg Config
}

// New creates a scheduler.
func New(cfg Config) *Scheduler {
	if cfg.GracePeriod < 0 {
		cfg.GracePeriod = 0
	}
	if cfg.Recorder == nil {
		cfg.Recorder = noopRecorder{}
	}
	return &Scheduler{cfg: cfg}
}

// grace clamps the grace period to a quarter of the final window.
func (s *Scheduler) grace(d Deadlines) time.Duration {
	g := s.cfg.GracePeriod
	if limit := d.Final / 4; g > limit {
		g = limit
	}
	return g
}

// ============================================================================
// Schedule
// ============================================================================

// Schedule starts every task of req and returns the channel its snapshots are
// published on. Cancelling ctx cancels the request: a Final snapshot is
// emitted immediately with the unfinished tasks marked cancelled.
//
// Errors:
//   - ErrInvalidDeadlines
//   - worker.ErrDuplicateKind
func (s *Scheduler) Schedule(ctx context.Context, req types.Request, tasks []*worker.Task, dl Deadlines) (*progress.Channel, error) {
	if err := dl.Validate(); err != nil {
		return nil, err
	}
	if dl.Start.IsZero() {
		dl.Start = time.Now()
	}
	table, err := NewTaskTable(tasks)
	if err != nil {
		return nil, err
	}

	finalAt := dl.Start.Add(dl.Final)
	cancelAt := finalAt.Add(-s.grace(dl))

	// worker 的 context 保留 ctx 的值但不繼承其取消
	workCtx, cancelWork := context.WithCancelCause(context.WithoutCancel(ctx))
	workCtx, stopDeadline := context.WithDeadlineCause(workCtx, cancelAt, worker.ErrFinalDeadline)

	r := &run{
		req:        req,
		table:      table,
		channel:    progress.New(),
		events:     make(chan worker.Event, table.Len()),
		done:       make(chan struct{}),
		recorder:   s.cfg.Recorder,
		deadlines:  dl,
		cancelWork: cancelWork,
	}
	r.snapshot = types.AggregateSnapshot{RequestID: req.ID}

	slog.Info("Request scheduled",
		"request", req.ID,
		"workers", table.Len(),
		"quick_ack", dl.QuickAck,
		"final", dl.Final,
		"cancel_at", cancelAt.Sub(dl.Start))

	dispatcher := worker.NewDispatcher(s.cfg.MaxConcurrency, r.events, r.done)
	go func() {
		defer stopDeadline()
		r.loop(ctx)
	}()
	if err := dispatcher.Dispatch(workCtx, req, table.Assignments()); err != nil {
		// 任務表已檢查過重複種類，這裡只會是程式錯誤
		cancelWork(err)
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	return r.channel, nil
}

// ============================================================================
// 單一請求的執行狀態
// ============================================================================

type run struct {
	req       types.Request
	table     *TaskTable
	channel   *progress.Channel
	events    chan worker.Event
	done      chan struct{} // closed after the Final snapshot
	recorder  Recorder
	deadlines Deadlines
	snapshot  types.AggregateSnapshot // last published

	cancelWork context.CancelCauseFunc
}

func (r *run) loop(ctx context.Context) {
	start := r.deadlines.Start
	quickAck := time.NewTimer(time.Until(start.Add(r.deadlines.QuickAck)))
	final := time.NewTimer(time.Until(start.Add(r.deadlines.Final)))
	defer quickAck.Stop()
	defer final.Stop()

	if r.table.Len() == 0 {
		r.finalize(worker.StatusTimedOut, "", worker.ErrFinalDeadline)
		return
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("Request cancelled by caller", "request", r.req.ID, "cause", context.Cause(ctx))
			r.finalize(worker.StatusCancelled, "request cancelled", worker.ErrCancelled)
			return

		case <-quickAck.C:
			slog.Debug("Quick-ack deadline reached", "request", r.req.ID)
			r.emit(false)

		case <-final.C:
			slog.Info("Final deadline reached", "request", r.req.ID, "counts", r.table.Counts())
			r.finalize(worker.StatusTimedOut, "still running at the final deadline", worker.ErrFinalDeadline)
			return

		case e := <-r.events:
			if r.apply(e) {
				r.emit(false)
			}
			if r.table.AllTerminal() {
				slog.Info("All workers finished before the final deadline",
					"request", r.req.ID,
					"elapsed", time.Since(start))
				r.finalize(worker.StatusTimedOut, "", worker.ErrFinalDeadline)
				return
			}
		}
	}
}

// apply records one worker event in the task table and reports whether the
// change is visible in a snapshot.
func (r *run) apply(e worker.Event) bool {
	var err error
	visible := true

	switch e.Type {
	case worker.EventStarted:
		err = r.table.MarkRunning(e.TaskID, e.At)
		visible = false
	case worker.EventInterim:
		err = r.table.RecordInterim(e.TaskID, e.Result, e.At)
	case worker.EventFinished:
		if e.Err == nil {
			err = r.table.MarkSucceeded(e.TaskID, e.Result, e.At)
			break
		}
		slog.Warn("Worker failed",
			"request", r.req.ID,
			"kind", e.Kind,
			"reason", e.Reason,
			"error", e.Err)
		switch e.Reason {
		case types.ReasonTimeout:
			err = r.table.MarkTimedOut(e.TaskID, e.Err.Error(), e.At)
		case types.ReasonCancelled:
			err = r.table.MarkCancelled(e.TaskID, e.Err.Error(), e.At)
		default:
			err = r.table.MarkFailed(e.TaskID, e.Reason, e.Err.Error(), e.At)
		}
	default:
		err = fmt.Errorf("unknown event type %q", e.Type)
	}

	if err != nil {
		slog.Debug("Ignoring worker event", "request", r.req.ID, "kind", e.Kind, "type", e.Type, "error", err)
		return false
	}
	if e.Type == worker.EventFinished {
		if v, ok := r.table.Get(e.TaskID); ok {
			r.recordOutcome(v)
		}
	}
	return visible
}

// emit merges the current task views and publishes the result.
func (r *run) emit(finalize bool) {
	next := aggregator.Merge(r.snapshot, aggregator.Input{
		RequestID: r.req.ID,
		Views:     r.table.Views(),
		Finalize:  finalize,
		At:        time.Now(),
	})
	if err := r.channel.Publish(next); err != nil {
		slog.Error("Failed to publish snapshot", "request", r.req.ID, "seq", next.Seq, "error", err)
		return
	}
	r.snapshot = next
	r.recorder.RecordSnapshot(next.Stage)
}

// finalize marks every unfinished task with status, emits the Final
// snapshot, stops listening to workers and cancels them with cause.
func (r *run) finalize(status worker.Status, detail string, cause error) {
	for _, v := range r.table.Expire(status, detail, time.Now()) {
		r.recordOutcome(v)
	}

	r.emit(true)
	close(r.done)
	r.cancelWork(cause)

	elapsed := time.Since(r.deadlines.Start)
	r.recorder.RecordTimeToFinal(elapsed)
	for _, kind := range r.snapshot.DegradedKinds() {
		d := r.snapshot.Degraded[kind]
		r.recorder.RecordDegraded(kind, d.Reason)
	}

	slog.Info("Final snapshot emitted",
		"request", r.req.ID,
		"seq", r.snapshot.Seq,
		"elapsed", elapsed,
		"degraded", r.snapshot.DegradedKinds())
}

func (r *run) recordOutcome(v worker.View) {
	started := v.StartedAt
	if started.IsZero() {
		started = r.deadlines.Start
	}
	r.recorder.RecordWorkerOutcome(v.Kind, string(v.Status), v.FinishedAt.Sub(started))
}
