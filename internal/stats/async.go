package stats

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Async hands events to a wrapped Recorder from a background goroutine.
// Record never blocks: when the buffer is full the event is dropped.
type Async struct {
	next    Recorder
	events  chan Event
	dropped atomic.Uint64
	logger  *slog.Logger
	done    chan struct{}
}

func NewAsync(next Recorder, buffer int, logger *slog.Logger) *Async {
	if buffer <= 0 {
		buffer = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Async{
		next:   next,
		events: make(chan Event, buffer),
		logger: logger,
		done:   make(chan struct{}),
	}
}

func (a *Async) Record(_ context.Context, ev Event) error {
	select {
	case a.events <- ev:
	default:
		a.dropped.Add(1)
	}
	return nil
}

func (a *Async) Summary(ctx context.Context, from, to time.Time) (Summary, error) {
	return a.next.Summary(ctx, from, to)
}

// Dropped is the number of events discarded because the buffer was full.
func (a *Async) Dropped() uint64 {
	return a.dropped.Load()
}

// Run forwards events until ctx is cancelled, then flushes what is buffered.
func (a *Async) Run(ctx context.Context) {
	defer close(a.done)

	for {
		select {
		case ev := <-a.events:
			// select may pick a queued event after cancellation
			if ctx.Err() != nil {
				a.drain(ev)
				return
			}
			a.forward(ctx, ev)
		case <-ctx.Done():
			a.drain()
			return
		}
	}
}

// Done is closed once Run has returned.
func (a *Async) Done() <-chan struct{} {
	return a.done
}

// drain forwards pending and then everything still buffered under a fresh
// deadline, since the Run context is already cancelled.
func (a *Async) drain(pending ...Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for _, ev := range pending {
		a.forward(ctx, ev)
	}
	for {
		select {
		case ev := <-a.events:
			a.forward(ctx, ev)
		default:
			return
		}
	}
}

func (a *Async) forward(ctx context.Context, ev Event) {
	if err := a.next.Record(ctx, ev); err != nil {
		a.logger.Warn("admission stats write failed", slog.String("error", err.Error()))
	}
}
