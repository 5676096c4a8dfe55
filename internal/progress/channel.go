// Package progress delivers the snapshots of one request from the scheduler
// to its consumer.
//
// A Channel supports two access patterns over the same total order:
//
//   - push: Updates / Next return every snapshot exactly once, in order
//   - pull: Latest returns the most recent snapshot (last one wins)
//
// The Final snapshot closes the channel; Done is closed at the same moment.
package progress

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"

	"github.com/ChuLiYu/trip-planner/pkg/types"
)

var (
	// ErrClosed 表示 Final 快照已送出，不能再發布
	ErrClosed = errors.New("progress channel closed")
	// ErrRegression 表示快照的序號、階段或完成度倒退
	ErrRegression = errors.New("snapshot regresses a previous one")
)

// Channel is a single-producer ordered snapshot stream.
type Channel struct {
	mu      sync.Mutex
	history []types.AggregateSnapshot // ordered by Seq
	changed chan struct{}             // closed and replaced on every publish
	done    chan struct{}
	closed  bool
}

// New returns an open channel with no snapshots.
func New() *Channel {
	return &Channel{
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Publish appends s. It rejects snapshots that would break the ordering
// guarantees, and any snapshot after the Final one.
func (c *Channel) Publish(s types.AggregateSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if n := len(c.history); n > 0 {
		if err := checkOrder(c.history[n-1], s); err != nil {
			return err
		}
	}

	c.history = append(c.history, s)
	close(c.changed)
	c.changed = make(chan struct{})

	if s.IsFinal() {
		c.closed = true
		close(c.done)
	}
	return nil
}

func checkOrder(last, s types.AggregateSnapshot) error {
	if s.Seq <= last.Seq {
		return ErrRegression
	}
	if s.Stage.Rank() < last.Stage.Rank() {
		return ErrRegression
	}
	for kind, r := range last.PerWorker {
		if s.Completeness(kind).Rank() < r.Completeness.Rank() {
			return ErrRegression
		}
	}
	return nil
}

// Latest returns the most recent snapshot, if any.
func (c *Channel) Latest() (types.AggregateSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) == 0 {
		return types.AggregateSnapshot{}, false
	}
	return c.history[len(c.history)-1], true
}

// Next blocks until a snapshot with Seq greater than after exists and
// returns the first such snapshot. It returns io.EOF once the Final snapshot
// has been returned, or ctx.Err() if ctx ends first.
func (c *Channel) Next(ctx context.Context, after uint64) (types.AggregateSnapshot, error) {
	for {
		c.mu.Lock()
		i := sort.Search(len(c.history), func(i int) bool { return c.history[i].Seq > after })
		if i < len(c.history) {
			s := c.history[i]
			c.mu.Unlock()
			return s, nil
		}
		if c.closed {
			c.mu.Unlock()
			return types.AggregateSnapshot{}, io.EOF
		}
		wait := c.changed
		c.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return types.AggregateSnapshot{}, ctx.Err()
		}
	}
}

// Updates streams every snapshot in order, starting from the first one, and
// closes the returned channel after the Final snapshot or when ctx ends.
func (c *Channel) Updates(ctx context.Context) <-chan types.AggregateSnapshot {
	out := make(chan types.AggregateSnapshot, 1)
	go func() {
		defer close(out)
		var after uint64
		for {
			s, err := c.Next(ctx, after)
			if err != nil {
				return
			}
			select {
			case out <- s:
			case <-ctx.Done():
				return
			}
			if s.IsFinal() {
				return
			}
			after = s.Seq
		}
	}()
	return out
}

// Done is closed once the Final snapshot has been published.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Final waits for and returns the Final snapshot.
func (c *Channel) Final(ctx context.Context) (types.AggregateSnapshot, error) {
	select {
	case <-c.done:
		s, _ := c.Latest()
		return s, nil
	case <-ctx.Done():
		return types.AggregateSnapshot{}, ctx.Err()
	}
}

// History returns a copy of every snapshot published so far.
func (c *Channel) History() []types.AggregateSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.AggregateSnapshot(nil), c.history...)
}
