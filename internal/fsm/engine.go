package fsm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	defaultTickHz   = 2.0
	maxCascadeDepth = 64
)

// Options configures an Engine.
type Options[S ~string] struct {
	Start S
	End   S
	Error S

	// TickHz is the loop frequency. Values <= 0 fall back to 2 Hz.
	TickHz float64
	// MaxRuntime bounds the whole run. Zero disables it.
	MaxRuntime time.Duration

	// Guard, when set, must approve every transition except those into Error.
	Guard func(from, to S) bool
	// OnTransition observes every state change after on_exit and before on_enter.
	OnTransition func(from, to S)

	Logger *slog.Logger
	Now    func() time.Time
	Sleep  func(ctx context.Context, d time.Duration) error
}

// Engine runs a Graph one tick at a time. It is not safe for concurrent use;
// a single worker owns it for the duration of Run.
type Engine[S ~string] struct {
	graph Graph[S]
	opts  Options[S]
	log   *slog.Logger

	current   S
	def       StateDef[S]
	entered   bool
	enteredAt time.Time
	reason    error
	ticks     int
}

// New validates opts against graph and returns a ready engine.
func New[S ~string](graph Graph[S], opts Options[S]) (*Engine[S], error) {
	if graph == nil {
		return nil, errors.New("fsm: nil graph")
	}

	for _, s := range []S{opts.Start, opts.End, opts.Error} {
		if s == "" {
			return nil, errors.New("fsm: start, end and error states are required")
		}
		if _, ok := graph.State(s); !ok {
			return nil, fmt.Errorf("fsm: %w: %s", ErrUnknownState, s)
		}
	}

	if opts.TickHz <= 0 {
		opts.TickHz = defaultTickHz
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Engine[S]{
		graph: graph,
		opts:  opts,
		log:   log,
	}, nil
}

// Current returns the active state.
func (e *Engine[S]) Current() S {
	return e.current
}

// EnteredAt returns the entry time of the active state.
func (e *Engine[S]) EnteredAt() time.Time {
	return e.enteredAt
}

// Ticks returns how many on_tick calls have been made.
func (e *Engine[S]) Ticks() int {
	return e.ticks
}

// Run enters the start state and ticks until a terminal state is reached,
// the global deadline passes or ctx is canceled.
func (e *Engine[S]) Run(ctx context.Context) (Status, error) {
	startedAt := e.opts.Now()
	period := time.Duration(float64(time.Second) / e.opts.TickHz)

	e.switchTo(ctx, e.opts.Start)

	for {
		switch e.current {
		case e.opts.End:
			return StatusSuccess, nil
		case e.opts.Error:
			return StatusError, e.failure()
		}

		if err := ctx.Err(); err != nil {
			return StatusCanceled, err
		}

		now := e.opts.Now()
		if e.opts.MaxRuntime > 0 && now.Sub(startedAt) > e.opts.MaxRuntime {
			e.log.ErrorContext(ctx, "global run timeout", slog.Duration("max_runtime", e.opts.MaxRuntime), slog.String("state", string(e.current)))
			e.reason = ErrGlobalTimeout
			e.switchTo(ctx, e.opts.Error)
			return StatusTimeout, ErrGlobalTimeout
		}

		if e.def.Timeout > 0 && now.Sub(e.enteredAt) > e.def.Timeout {
			target := e.def.OnTimeout
			if target == "" {
				target = e.opts.Error
				e.reason = fmt.Errorf("%w: %s after %s", ErrStateTimeout, e.current, e.def.Timeout)
			}
			e.log.WarnContext(ctx, "state timeout", slog.String("state", string(e.current)), slog.String("next", string(target)))
			e.switchTo(ctx, target)
			continue
		}

		if e.def.OnTick != nil {
			e.ticks++
			if next := e.def.OnTick(ctx); next != "" {
				e.switchTo(ctx, next)
			}
		}

		if err := e.opts.Sleep(ctx, period); err != nil {
			return StatusCanceled, err
		}
	}
}

// switchTo performs a transition and any cascade requested by on_enter.
func (e *Engine[S]) switchTo(ctx context.Context, next S) {
	for depth := 0; ; depth++ {
		if depth >= maxCascadeDepth && next != e.opts.Error {
			e.reason = fmt.Errorf("%w: last target %s", ErrCascadeLimit, next)
			next = e.opts.Error
		}

		from := e.current
		if e.entered && next != e.opts.Error && e.opts.Guard != nil && !e.opts.Guard(from, next) {
			e.log.WarnContext(ctx, "invalid state transition", slog.String("from", string(from)), slog.String("to", string(next)))
			e.reason = fmt.Errorf("%w: %s -> %s", ErrTransitionRejected, from, next)
			next = e.opts.Error
		}

		def, ok := e.graph.State(next)
		if !ok {
			e.reason = fmt.Errorf("%w: %s", ErrUnknownState, next)
			next = e.opts.Error
			def, _ = e.graph.State(next)
		}

		if e.entered && e.def.OnExit != nil {
			e.def.OnExit(ctx)
		}

		e.current = next
		e.def = def
		e.entered = true
		e.enteredAt = e.opts.Now()

		transitionRecorder(string(from), string(next))
		if e.opts.OnTransition != nil {
			e.opts.OnTransition(from, next)
		}
		e.log.DebugContext(ctx, "state transition", slog.String("from", string(from)), slog.String("to", string(next)))

		if def.OnEnter == nil {
			return
		}

		cascade := def.OnEnter(ctx)
		if cascade == "" || (depth >= maxCascadeDepth && next == e.opts.Error) {
			return
		}
		next = cascade
	}
}

func (e *Engine[S]) failure() error {
	if e.reason != nil {
		return e.reason
	}
	return ErrReachedError
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
