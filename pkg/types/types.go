// Package types 定義了 trip-planner 系統中使用的核心領域模型
package types

import (
	"github.com/google/uuid"
)

// RequestID 請求唯一識別碼
type RequestID string

// NewRequestID returns a fresh random request identifier.
func NewRequestID() RequestID {
	return RequestID(uuid.NewString())
}

// WorkerKind names a specialized producer. The set is open: new kinds are
// added through the worker registry in the config.
type WorkerKind string

const (
	KindHotel     WorkerKind = "hotel"     // 旅宿推薦
	KindItinerary WorkerKind = "itinerary" // 行程規劃（景點 + 交通）
	KindTransport WorkerKind = "transport" // 獨立交通建議
)

// Completeness 部分結果的完成度
type Completeness string

const (
	CompletenessEmpty       Completeness = "empty"       // 尚無資料
	CompletenessPreliminary Completeness = "preliminary" // 初步結果，之後可能被更新
	CompletenessComplete    Completeness = "complete"    // 最終結果
)

// Rank orders completeness levels; unknown values rank lowest.
func (c Completeness) Rank() int {
	switch c {
	case CompletenessPreliminary:
		return 1
	case CompletenessComplete:
		return 2
	default:
		return 0
	}
}

// Stage 快照階段
type Stage string

const (
	StageQuickAck Stage = "quick_ack" // 快速回應：可能完全沒有資料
	StagePartial  Stage = "partial"   // 至少一個 worker 有結果
	StageFinal    Stage = "final"     // 最終快照，之後通道關閉
)

// Rank orders stages. The zero Stage ranks below QuickAck so the first
// snapshot of a request can take any stage.
func (s Stage) Rank() int {
	switch s {
	case StageQuickAck:
		return 1
	case StagePartial:
		return 2
	case StageFinal:
		return 3
	default:
		return 0
	}
}

// ReasonCode explains why a worker was degraded.
type ReasonCode string

const (
	ReasonFailed    ReasonCode = "failed"    // producer 回傳錯誤
	ReasonFatal     ReasonCode = "fatal"     // producer panic（程式錯誤）
	ReasonTimeout   ReasonCode = "timeout"   // 最終期限時仍在執行
	ReasonCancelled ReasonCode = "cancelled" // 呼叫端取消請求
)

// Degradation records a worker that missed the final snapshot.
type Degradation struct {
	Kind   WorkerKind `json:"kind"`
	Reason ReasonCode `json:"reason"`
	Detail string     `json:"detail,omitempty"`
}
