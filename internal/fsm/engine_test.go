package fsm

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testState string

const (
	stStart testState = "start"
	stMid   testState = "mid"
	stEnd   testState = "end"
	stError testState = "error"
)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.now = c.now.Add(d)
	return ctx.Err()
}

type mapGraph map[testState]StateDef[testState]

func (g mapGraph) State(s testState) (StateDef[testState], bool) {
	def, ok := g[s]
	return def, ok
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, g mapGraph, mutate func(*Options[testState])) (*Engine[testState], *fakeClock) {
	t.Helper()

	clock := newFakeClock()
	opts := Options[testState]{
		Start:  stStart,
		End:    stEnd,
		Error:  stError,
		TickHz: 2,
		Logger: testLogger(),
		Now:    clock.Now,
		Sleep:  clock.Sleep,
	}
	if mutate != nil {
		mutate(&opts)
	}

	e, err := New[testState](g, opts)
	require.NoError(t, err)
	return e, clock
}

func withTerminals(g mapGraph) mapGraph {
	if _, ok := g[stEnd]; !ok {
		g[stEnd] = StateDef[testState]{Name: stEnd}
	}
	if _, ok := g[stError]; !ok {
		g[stError] = StateDef[testState]{Name: stError}
	}
	return g
}

func TestEngine_StartExitNeverBeforeEnter(t *testing.T) {
	var events []string

	g := withTerminals(mapGraph{
		stStart: {
			Name: stStart,
			OnEnter: func(context.Context) testState {
				events = append(events, "enter")
				return stEnd
			},
			OnExit: func(context.Context) {
				events = append(events, "exit")
			},
		},
	})

	e, _ := newTestEngine(t, g, nil)
	status, err := e.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)
	assert.Equal(t, []string{"enter", "exit"}, events)
}

func TestEngine_CascadeConsumesNoTick(t *testing.T) {
	var path []testState

	g := withTerminals(mapGraph{
		stStart: {Name: stStart, OnEnter: func(context.Context) testState { return stMid }},
		stMid: {
			Name:    stMid,
			OnEnter: func(context.Context) testState { return stEnd },
			OnTick: func(context.Context) testState {
				t.Fatal("pass-through state must not tick")
				return ""
			},
		},
	})

	e, _ := newTestEngine(t, g, func(o *Options[testState]) {
		o.OnTransition = func(_, to testState) { path = append(path, to) }
	})

	status, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)
	assert.Equal(t, []testState{stStart, stMid, stEnd}, path)
	assert.Zero(t, e.Ticks())
}

func TestEngine_TickStaysUntilNext(t *testing.T) {
	calls := 0
	g := withTerminals(mapGraph{
		stStart: {
			Name: stStart,
			OnTick: func(context.Context) testState {
				calls++
				if calls < 3 {
					return ""
				}
				return stEnd
			},
		},
	})

	e, clock := newTestEngine(t, g, nil)
	began := clock.Now()

	status, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1500*time.Millisecond, clock.Now().Sub(began))
}

func TestEngine_LocalTimeout(t *testing.T) {
	testCases := []struct {
		name       string
		onTimeout  testState
		wantStatus Status
		wantErr    error
	}{
		{name: "fallback state", onTimeout: stEnd, wantStatus: StatusSuccess},
		{name: "defaults to error", onTimeout: "", wantStatus: StatusError, wantErr: ErrStateTimeout},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			g := withTerminals(mapGraph{
				stStart: {
					Name:      stStart,
					OnTick:    func(context.Context) testState { return "" },
					Timeout:   2 * time.Second,
					OnTimeout: tc.onTimeout,
				},
			})

			e, _ := newTestEngine(t, g, nil)
			status, err := e.Run(context.Background())

			assert.Equal(t, tc.wantStatus, status)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEngine_GlobalTimeout(t *testing.T) {
	errorEntered := false
	g := mapGraph{
		stStart: {Name: stStart, OnTick: func(context.Context) testState { return "" }},
		stEnd:   {Name: stEnd},
		stError: {Name: stError, OnEnter: func(context.Context) testState {
			errorEntered = true
			return ""
		}},
	}

	e, _ := newTestEngine(t, g, func(o *Options[testState]) {
		o.MaxRuntime = 5 * time.Second
	})

	status, err := e.Run(context.Background())
	assert.Equal(t, StatusTimeout, status)
	assert.ErrorIs(t, err, ErrGlobalTimeout)
	assert.True(t, errorEntered)
	assert.Equal(t, stError, e.Current())
}

func TestEngine_UnknownStateRoutesToError(t *testing.T) {
	g := withTerminals(mapGraph{
		stStart: {Name: stStart, OnTick: func(context.Context) testState { return "nowhere" }},
	})

	e, _ := newTestEngine(t, g, nil)
	status, err := e.Run(context.Background())

	assert.Equal(t, StatusError, status)
	assert.ErrorIs(t, err, ErrUnknownState)
}

func TestEngine_GuardRejectsTransition(t *testing.T) {
	g := withTerminals(mapGraph{
		stStart: {Name: stStart, OnTick: func(context.Context) testState { return stEnd }},
	})

	e, _ := newTestEngine(t, g, func(o *Options[testState]) {
		o.Guard = func(from, to testState) bool { return !(from == stStart && to == stEnd) }
	})

	status, err := e.Run(context.Background())
	assert.Equal(t, StatusError, status)
	assert.ErrorIs(t, err, ErrTransitionRejected)
}

func TestEngine_CascadeLimit(t *testing.T) {
	g := withTerminals(mapGraph{
		stStart: {Name: stStart, OnEnter: func(context.Context) testState { return stMid }},
		stMid:   {Name: stMid, OnEnter: func(context.Context) testState { return stStart }},
	})

	e, _ := newTestEngine(t, g, nil)
	status, err := e.Run(context.Background())

	assert.Equal(t, StatusError, status)
	assert.ErrorIs(t, err, ErrCascadeLimit)
}

func TestEngine_CanceledBetweenTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ticks := 0

	g := withTerminals(mapGraph{
		stStart: {Name: stStart, OnTick: func(context.Context) testState {
			ticks++
			cancel()
			return ""
		}},
	})

	e, _ := newTestEngine(t, g, nil)
	status, err := e.Run(ctx)

	assert.Equal(t, StatusCanceled, status)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, ticks)
}

func TestEngine_ErrorReasonDefault(t *testing.T) {
	g := withTerminals(mapGraph{
		stStart: {Name: stStart, OnTick: func(context.Context) testState { return stError }},
	})

	e, _ := newTestEngine(t, g, nil)
	status, err := e.Run(context.Background())

	assert.Equal(t, StatusError, status)
	assert.ErrorIs(t, err, ErrReachedError)
}

func TestNew_RequiresKnownTerminals(t *testing.T) {
	_, err := New[testState](mapGraph{stStart: {Name: stStart}}, Options[testState]{Start: stStart, End: stEnd, Error: stError})
	assert.ErrorIs(t, err, ErrUnknownState)

	_, err = New[testState](nil, Options[testState]{})
	assert.Error(t, err)
}

func TestRegisterTransitionRecorder(t *testing.T) {
	var recorded [][2]string
	RegisterTransitionRecorder(func(from, to string) {
		recorded = append(recorded, [2]string{from, to})
	})
	t.Cleanup(func() { RegisterTransitionRecorder(nil) })

	g := withTerminals(mapGraph{
		stStart: {Name: stStart, OnEnter: func(context.Context) testState { return stEnd }},
	})

	e, _ := newTestEngine(t, g, nil)
	_, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, [][2]string{{"", "start"}, {"start", "end"}}, recorded)
}

func TestGraphFunc(t *testing.T) {
	g := GraphFunc[testState](func(s testState) (StateDef[testState], bool) {
		return StateDef[testState]{Name: s}, s == stStart
	})

	def, ok := g.State(stStart)
	assert.True(t, ok)
	assert.Equal(t, stStart, def.Name)

	_, ok = g.State(stMid)
	assert.False(t, ok)
}
