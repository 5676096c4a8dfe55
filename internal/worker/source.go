// ============================================================================
// Trip-Planner Producer Interface
// ============================================================================
//
// Package: internal/worker
// File: source.go
// Purpose: Defines the abstraction the scheduler uses to obtain results.
//
// Motivation:
//   Hotel search and itinerary search talk to different upstream APIs with
//   very different latencies. The scheduler must treat them uniformly, so
//   every specialized search is wrapped as a Producer.
//
//   - Produce: one-shot, returns the final PartialResult.
//   - ProduceProgressive: may report Preliminary results before returning.
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/ChuLiYu/trip-planner/pkg/types"
)

var (
	// ErrFinalDeadline is the cancellation cause given to producers still
	// running when the final deadline approaches.
	ErrFinalDeadline = errors.New("final deadline reached")
	// ErrCancelled is the cancellation cause given to producers when the
	// caller abandons the request.
	ErrCancelled = errors.New("request cancelled by caller")
)

// Producer turns a Request into a PartialResult.
type Producer interface {
	// Produce is invoked at most once per task. It should honor ctx
	// cancellation and return an error for upstream failures rather than
	// panic. A panic is treated as a fatal programming error.
	Produce(ctx context.Context, req types.Request) (types.PartialResult, error)
}

// ReportFunc publishes an interim result while a producer is still running.
type ReportFunc func(types.PartialResult)

// ProgressiveProducer is a Producer that can publish interim results.
// When a Producer also implements this interface the scheduler calls
// ProduceProgressive instead of Produce.
type ProgressiveProducer interface {
	Producer
	ProduceProgressive(ctx context.Context, req types.Request, report ReportFunc) (types.PartialResult, error)
}

// ProducerFunc adapts a function to the Producer interface.
type ProducerFunc func(ctx context.Context, req types.Request) (types.PartialResult, error)

func (f ProducerFunc) Produce(ctx context.Context, req types.Request) (types.PartialResult, error) {
	return f(ctx, req)
}

// FatalError wraps a panic recovered from a producer.
type FatalError struct {
	Value any
	Stack []byte
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("producer panicked: %v", e.Value)
}
