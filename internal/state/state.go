package state

import "time"

// Run statuses stored in snapshots.
const (
	StatusRunning  = "RUNNING"
	StatusSuccess  = "SUCCESS"
	StatusError    = "ERROR"
	StatusTimeout  = "TIMEOUT_GLOBAL"
	StatusCanceled = "CANCELED"
)

// Snapshot is the latest known progress of one workflow run.
type Snapshot struct {
	RunID     string         `json:"run_id"`
	Script    string         `json:"script"`
	State     string         `json:"state"`
	Resource  string         `json:"resource,omitempty"`
	Index     int            `json:"index"`
	Count     int            `json:"count"`
	Kamas     *int           `json:"kamas,omitempty"`
	Status    string         `json:"status"`
	Context   map[string]any `json:"context,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Active reports whether the run has not reached a terminal status.
func (s *Snapshot) Active() bool {
	return s != nil && s.Status == StatusRunning
}

// Clone returns a deep copy of s.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}

	out := *s
	if s.Kamas != nil {
		k := *s.Kamas
		out.Kamas = &k
	}
	if s.Context != nil {
		out.Context = make(map[string]any, len(s.Context))
		for k, v := range s.Context {
			out.Context[k] = v
		}
	}
	return &out
}
