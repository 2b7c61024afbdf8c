package lifecycle

import "context"

// Phase orders shutdown hooks. Lower phases finish before higher ones start.
type Phase int

const (
	// PhaseWorkers stops producers: the running workflow and command intake.
	PhaseWorkers Phase = iota
	// PhaseSinks flushes telemetry and closes the realtime link.
	PhaseSinks
	// PhaseStorage closes Redis, Postgres and the log file.
	PhaseStorage
)

func (p Phase) String() string {
	switch p {
	case PhaseWorkers:
		return "workers"
	case PhaseSinks:
		return "sinks"
	case PhaseStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Hook describes a named shutdown hook.
type Hook struct {
	Name  string
	Phase Phase
	Fn    func(ctx context.Context) error
}
