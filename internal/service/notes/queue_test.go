package notes

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/memento/internal/consolidation"
)

type stubConsolidator struct {
	mu     sync.Mutex
	inputs []consolidation.Input
	err    error
	calls  chan struct{}
}

func (s *stubConsolidator) Consolidate(_ context.Context, in consolidation.Input) (consolidation.Result, error) {
	s.mu.Lock()
	s.inputs = append(s.inputs, in)
	s.mu.Unlock()
	if s.calls != nil {
		s.calls <- struct{}{}
	}
	if s.err != nil {
		return consolidation.Result{}, s.err
	}
	return consolidation.Result{NoteID: "n1"}, nil
}

func (s *stubConsolidator) seen() []consolidation.Input {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]consolidation.Input(nil), s.inputs...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitForCalls(t *testing.T, calls chan struct{}, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-calls:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for consolidation call %d of %d", i+1, n)
		}
	}
}

func TestQueueProcessesInOrder(t *testing.T) {
	c := &stubConsolidator{calls: make(chan struct{}, 8)}
	q := NewQueue(c, 8, testLogger())
	q.Start(context.Background())

	base := time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(consolidation.Input{
			Content:   string(rune('a' + i)),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	waitForCalls(t, c.calls, 3)

	drainCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	q.Drain(drainCtx)

	seen := c.seen()
	require.Len(t, seen, 3)
	assert.Equal(t, "a", seen[0].Content)
	assert.Equal(t, "b", seen[1].Content)
	assert.Equal(t, "c", seen[2].Content)
	assert.Equal(t, int64(0), q.Failed())
}

func TestQueueDrainFlushesPending(t *testing.T) {
	c := &stubConsolidator{}
	q := NewQueue(c, 8, testLogger())
	q.Start(context.Background())

	for i := 0; i < 4; i++ {
		require.NoError(t, q.Enqueue(consolidation.Input{Content: "note", Timestamp: time.Now()}))
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.Drain(drainCtx)

	assert.Len(t, c.seen(), 4, "drain should flush everything still queued")
	assert.Zero(t, q.Len())
}

func TestQueueBackpressure(t *testing.T) {
	q := NewQueue(&stubConsolidator{}, 1, testLogger())
	// Worker not started, so the first note stays queued.

	require.NoError(t, q.Enqueue(consolidation.Input{Content: "first"}))
	err := q.Enqueue(consolidation.Input{Content: "second"})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 1, q.Len())
}

func TestQueueCountsFailures(t *testing.T) {
	c := &stubConsolidator{err: errors.New("provider down"), calls: make(chan struct{}, 1)}
	q := NewQueue(c, 4, testLogger())
	q.Start(context.Background())

	require.NoError(t, q.Enqueue(consolidation.Input{Content: "doomed", Timestamp: time.Now()}))
	waitForCalls(t, c.calls, 1)

	drainCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	q.Drain(drainCtx)

	assert.Equal(t, int64(1), q.Failed())
}

func TestQueueStartTwiceIsNoop(t *testing.T) {
	q := NewQueue(&stubConsolidator{}, 1, testLogger())
	q.Start(context.Background())
	q.Start(context.Background()) // must not panic or spawn a second worker

	drainCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	q.Drain(drainCtx)
}
