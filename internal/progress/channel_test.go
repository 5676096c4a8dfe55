package progress

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/ChuLiYu/trip-planner/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snap(seq uint64, stage types.Stage, hotel types.Completeness) types.AggregateSnapshot {
	s := types.AggregateSnapshot{
		RequestID: "req-1",
		Seq:       seq,
		Stage:     stage,
		PerWorker: map[types.WorkerKind]types.PartialResult{},
	}
	if hotel != "" {
		s.PerWorker[types.KindHotel] = types.PartialResult{Kind: types.KindHotel, Completeness: hotel}
	}
	return s
}

func TestPublishOrdering(t *testing.T) {
	c := New()
	_, ok := c.Latest()
	assert.False(t, ok)

	require.NoError(t, c.Publish(snap(1, types.StageQuickAck, "")))
	require.NoError(t, c.Publish(snap(2, types.StagePartial, types.CompletenessPreliminary)))

	assert.ErrorIs(t, c.Publish(snap(2, types.StagePartial, types.CompletenessComplete)), ErrRegression, "seq must grow")
	assert.ErrorIs(t, c.Publish(snap(3, types.StageQuickAck, types.CompletenessComplete)), ErrRegression, "stage must not go back")
	assert.ErrorIs(t, c.Publish(snap(3, types.StagePartial, "")), ErrRegression, "completeness must not go back")

	require.NoError(t, c.Publish(snap(3, types.StageFinal, types.CompletenessComplete)))
	assert.ErrorIs(t, c.Publish(snap(4, types.StageFinal, types.CompletenessComplete)), ErrClosed)

	latest, ok := c.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(3), latest.Seq)
	assert.Len(t, c.History(), 3)

	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed after the final snapshot")
	}
}

func TestNextBlocksUntilPublish(t *testing.T) {
	c := New()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got := make(chan types.AggregateSnapshot, 1)
	go func() {
		s, err := c.Next(ctx, 0)
		if err == nil {
			got <- s
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.Publish(snap(1, types.StageQuickAck, "")))

	select {
	case s := <-got:
		assert.Equal(t, uint64(1), s.Seq)
	case <-ctx.Done():
		t.Fatal("Next did not wake up")
	}
}

func TestNextEOFAndContext(t *testing.T) {
	c := New()
	require.NoError(t, c.Publish(snap(1, types.StageFinal, "")))

	s, err := c.Next(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, s.IsFinal())

	_, err = c.Next(context.Background(), 1)
	assert.ErrorIs(t, err, io.EOF)

	open := New()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = open.Next(ctx, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUpdatesDeliversEverySnapshotOnce(t *testing.T) {
	c := New()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	updates := c.Updates(ctx)
	go func() {
		_ = c.Publish(snap(1, types.StageQuickAck, ""))
		_ = c.Publish(snap(2, types.StagePartial, types.CompletenessPreliminary))
		_ = c.Publish(snap(3, types.StagePartial, types.CompletenessComplete))
		_ = c.Publish(snap(4, types.StageFinal, types.CompletenessComplete))
	}()

	var seqs []uint64
	for s := range updates {
		seqs = append(seqs, s.Seq)
	}
	assert.Equal(t, []uint64{1, 2, 3, 4}, seqs)
}

func TestUpdatesLateSubscriberReplays(t *testing.T) {
	c := New()
	require.NoError(t, c.Publish(snap(1, types.StageQuickAck, "")))
	require.NoError(t, c.Publish(snap(2, types.StageFinal, "")))

	var seqs []uint64
	for s := range c.Updates(context.Background()) {
		seqs = append(seqs, s.Seq)
	}
	assert.Equal(t, []uint64{1, 2}, seqs)
}

func TestFinal(t *testing.T) {
	c := New()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.Final(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, c.Publish(snap(7, types.StageFinal, types.CompletenessComplete)))
	s, err := c.Final(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(7), s.Seq)
}
