// Package notes provides the asynchronous note intake queue. Submissions
// enqueue and return immediately; a single background worker runs
// consolidation in arrival order, so concurrent notes never interleave
// writes to the graph.
package notes

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/memento/internal/consolidation"
	"github.com/ashita-ai/memento/internal/telemetry"
)

// ErrQueueFull is returned by Enqueue when the queue is at capacity.
// Callers should surface backpressure rather than block the request.
var ErrQueueFull = errors.New("notes: queue full")

// noteTimeout bounds a single consolidation run. Consolidation makes several
// LLM calls; a stuck provider must not wedge the worker forever.
const noteTimeout = 5 * time.Minute

// Consolidator runs the write pipeline for one note.
type Consolidator interface {
	Consolidate(ctx context.Context, in consolidation.Input) (consolidation.Result, error)
}

// Queue is a bounded note intake buffer with a single consolidation worker.
type Queue struct {
	consolidator Consolidator
	logger       *slog.Logger
	ch           chan consolidation.Input

	started    atomic.Bool
	cancelLoop context.CancelFunc
	done       chan struct{}
	once       sync.Once
	drainCh    chan context.Context // carries the drain context to run for the final flush

	processed atomic.Int64
	failed    atomic.Int64
}

// NewQueue creates a queue holding up to size pending notes.
func NewQueue(consolidator Consolidator, size int, logger *slog.Logger) *Queue {
	return &Queue{
		consolidator: consolidator,
		logger:       logger,
		ch:           make(chan consolidation.Input, size),
		done:         make(chan struct{}),
		drainCh:      make(chan context.Context, 1),
	}
}

// Start begins the background worker and registers OTEL metrics. It is safe
// to call only once; subsequent calls are no-ops and log a warning.
func (q *Queue) Start(ctx context.Context) {
	if !q.started.CompareAndSwap(false, true) {
		q.logger.Warn("notes: Start called more than once, ignoring")
		return
	}
	q.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	q.cancelLoop = cancel
	go q.run(loopCtx)
}

// Enqueue adds a note for background consolidation. Returns ErrQueueFull
// when the queue is at capacity (backpressure).
func (q *Queue) Enqueue(in consolidation.Input) error {
	select {
	case q.ch <- in:
		return nil
	default:
		return ErrQueueFull
	}
}

// Len returns the number of pending notes.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Failed returns the total number of notes whose consolidation errored.
// A non-zero value indicates lost notes.
func (q *Queue) Failed() int64 {
	return q.failed.Load()
}

// Drain signals the worker to stop, processes remaining notes, and blocks
// until done or the context expires. The ctx parameter is passed to the final
// flush so it respects the caller's deadline.
func (q *Queue) Drain(ctx context.Context) {
	// Send the drain context to run via channel (race-free). Must be sent
	// before cancelLoop so run can receive it on ctx.Done().
	select {
	case q.drainCh <- ctx:
	default:
	}
	if q.cancelLoop != nil {
		q.cancelLoop()
	}
	select {
	case <-q.done:
	case <-ctx.Done():
		q.logger.Warn("notes: drain timed out", "pending", q.Len())
	}
}

func (q *Queue) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// Final flush: prefer the drain context (sent by Drain via
			// channel) so remaining notes respect the caller's deadline.
			var drainCtx context.Context
			select {
			case drainCtx = <-q.drainCh:
			default:
			}
			if drainCtx == nil {
				// Fallback for direct cancellation without Drain (e.g., tests).
				var cancel context.CancelFunc
				drainCtx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
			}
			q.flush(drainCtx)
			q.once.Do(func() { close(q.done) })
			return
		case in := <-q.ch:
			q.process(ctx, in)
		}
	}
}

// flush consolidates everything still queued, stopping early if ctx expires.
func (q *Queue) flush(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			if n := q.Len(); n > 0 {
				q.logger.Warn("notes: abandoning queued notes, drain deadline reached", "pending", n)
			}
			return
		}
		select {
		case in := <-q.ch:
			q.process(ctx, in)
		default:
			return
		}
	}
}

func (q *Queue) process(ctx context.Context, in consolidation.Input) {
	noteCtx, cancel := context.WithTimeout(ctx, noteTimeout)
	defer cancel()

	start := time.Now()
	res, err := q.consolidator.Consolidate(noteCtx, in)
	if err != nil {
		q.failed.Add(1)
		q.logger.Error("notes: consolidation failed", "error", err)
		return
	}
	q.processed.Add(1)
	q.logger.Info("notes: consolidated",
		"note_id", res.NoteID,
		"skipped", res.Skipped,
		"memories", len(res.Memories),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// registerMetrics registers observable OTEL gauges for queue health monitoring.
func (q *Queue) registerMetrics() {
	meter := telemetry.Meter("memento/notes")

	_, _ = meter.Int64ObservableGauge("memento.notes.queue_depth",
		metric.WithDescription("Current number of pending notes in the intake queue"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(q.Len()))
			return nil
		}),
	)

	_, _ = meter.Int64ObservableGauge("memento.notes.failed_total",
		metric.WithDescription("Total notes whose consolidation errored"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(q.Failed())
			return nil
		}),
	)
}
