// Package fsm implements the tick-driven state machine runtime that drives
// screen automation workflows.
package fsm

import (
	"context"
	"errors"
	"time"
)

// Status is the terminal outcome of Engine.Run.
type Status string

const (
	StatusSuccess  Status = "SUCCESS"
	StatusError    Status = "ERROR"
	StatusTimeout  Status = "TIMEOUT_GLOBAL"
	StatusCanceled Status = "CANCELED"
)

var (
	// ErrGlobalTimeout is returned when the run exceeds Options.MaxRuntime.
	ErrGlobalTimeout = errors.New("global run timeout exceeded")
	// ErrStateTimeout marks a state that outlived its timeout without a fallback.
	ErrStateTimeout = errors.New("state timed out")
	// ErrUnknownState indicates a callback returned a state the graph does not define.
	ErrUnknownState = errors.New("unknown state")
	// ErrTransitionRejected indicates the guard refused a transition.
	ErrTransitionRejected = errors.New("transition rejected")
	// ErrCascadeLimit indicates on_enter callbacks chained into each other without settling.
	ErrCascadeLimit = errors.New("cascading transitions exceeded limit")
	// ErrReachedError is reported when a callback routes the machine to the error state.
	ErrReachedError = errors.New("workflow reached error state")
)

// StateDef describes one state. A callback returning the zero state means
// "stay"; any other value requests a transition.
type StateDef[S ~string] struct {
	Name S

	OnEnter func(ctx context.Context) S
	OnTick  func(ctx context.Context) S
	OnExit  func(ctx context.Context)

	// Timeout is measured from entry. Zero disables it.
	Timeout time.Duration
	// OnTimeout is the fallback target; the zero state means the error terminal.
	OnTimeout S
}

// Graph resolves state definitions. Implementations switch over their own
// state enum and report false for values outside it.
type Graph[S ~string] interface {
	State(s S) (StateDef[S], bool)
}

// GraphFunc adapts a plain function to Graph.
type GraphFunc[S ~string] func(s S) (StateDef[S], bool)

// State calls f(s).
func (f GraphFunc[S]) State(s S) (StateDef[S], bool) {
	return f(s)
}

var transitionRecorder = func(from, to string) {}

// RegisterTransitionRecorder allows external packages to observe FSM transitions.
func RegisterTransitionRecorder(recorder func(from, to string)) {
	if recorder == nil {
		transitionRecorder = func(string, string) {}
		return
	}

	transitionRecorder = recorder
}
