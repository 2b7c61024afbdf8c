package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Proton-105/protrader-agent/internal/queue"
	"github.com/Proton-105/protrader-agent/pkg/metrics"
)

// Sink delivers events to one destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev Event) error
}

// lane is the private buffer of one sink, drained by its own worker so a
// slow sink never delays the others.
type lane struct {
	sink  Sink
	queue *queue.Ring[Event]
}

// Fanout implements Publisher over one bounded queue per sink.
// Publish never blocks; when a queue is full its oldest event is dropped.
type Fanout struct {
	lanes []lane
	log   *slog.Logger
}

// NewFanout builds a fanout buffering up to capacity events per sink.
func NewFanout(capacity int, log *slog.Logger, sinks ...Sink) *Fanout {
	if log == nil {
		log = slog.Default()
	}

	lanes := make([]lane, 0, len(sinks))
	for _, sink := range sinks {
		q := queue.NewRing[Event](capacity)
		label := "telemetry_" + sink.Name()
		q.OnDrop(func() { metrics.RecordQueueDrop(label) })
		lanes = append(lanes, lane{sink: sink, queue: q})
	}

	return &Fanout{
		lanes: lanes,
		log:   log.With("component", "telemetry"),
	}
}

// Publish queues ev for every sink.
func (f *Fanout) Publish(ev Event) {
	for _, l := range f.lanes {
		l.queue.Push(ev)
	}
}

// Run delivers queued events until ctx is done, then flushes what is left
// with a detached context. It returns once every sink worker has stopped.
func (f *Fanout) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, l := range f.lanes {
		wg.Add(1)
		go func(l lane) {
			defer wg.Done()
			f.drain(ctx, l)
		}(l)
	}
	wg.Wait()
}

// Flush delivers every buffered event synchronously.
func (f *Fanout) Flush(ctx context.Context) {
	for _, l := range f.lanes {
		f.flushLane(ctx, l)
	}
}

func (f *Fanout) drain(ctx context.Context, l lane) {
	for {
		ev, err := l.queue.Wait(ctx)
		if err != nil {
			f.flushLane(context.WithoutCancel(ctx), l)
			return
		}
		f.deliver(ctx, l.sink, ev)
	}
}

func (f *Fanout) flushLane(ctx context.Context, l lane) {
	for _, ev := range l.queue.Drain() {
		f.deliver(ctx, l.sink, ev)
	}
}

func (f *Fanout) deliver(ctx context.Context, sink Sink, ev Event) {
	if err := sink.Deliver(ctx, ev); err != nil {
		f.log.WarnContext(ctx, "telemetry delivery failed",
			slog.String("sink", sink.Name()),
			slog.String("type", ev.Type),
			slog.Any("error", err),
		)
	}
}
