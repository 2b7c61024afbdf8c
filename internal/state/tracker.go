package state

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	runLockKey = "agent:run:lock"
	lockTTL    = 10 * time.Minute
)

var (
	// ErrSnapshotNotFound indicates that a run snapshot does not exist.
	ErrSnapshotNotFound = errors.New("run snapshot not found")
	// ErrRunActive indicates that another run already holds the run lock.
	ErrRunActive = errors.New("a run is already active")
)

// Tracker records workflow progress and enforces a single active run.
type Tracker interface {
	Begin(ctx context.Context, runID, script string, count int) (*Snapshot, error)
	Update(ctx context.Context, runID string, fn func(*Snapshot)) error
	Finish(ctx context.Context, runID, status string) error
	Get(ctx context.Context, runID string) (*Snapshot, error)
	Latest(ctx context.Context) (*Snapshot, error)
	List(ctx context.Context) ([]*Snapshot, error)
}

type tracker struct {
	storage     Storage
	log         *slog.Logger
	redisClient *redis.Client
	now         func() time.Time

	mu     sync.Mutex
	active string
}

// NewTracker creates a tracker on storage. With a redis client the run lock is
// shared between agent processes; without one it is local to this process.
func NewTracker(storage Storage, log *slog.Logger, redisClient *redis.Client) Tracker {
	if log == nil {
		log = slog.Default()
	}

	return &tracker{
		storage:     storage,
		log:         log,
		redisClient: redisClient,
		now:         time.Now,
	}
}

func (t *tracker) Begin(ctx context.Context, runID, script string, count int) (*Snapshot, error) {
	if err := t.lock(ctx, runID); err != nil {
		return nil, err
	}

	snapshot := &Snapshot{
		RunID:     runID,
		Script:    script,
		Count:     count,
		Status:    StatusRunning,
		StartedAt: t.now().UTC(),
	}
	if err := t.storage.Save(ctx, snapshot); err != nil {
		t.unlock(ctx, runID)
		return nil, err
	}

	return snapshot.Clone(), nil
}

func (t *tracker) Update(ctx context.Context, runID string, fn func(*Snapshot)) error {
	snapshot, err := t.storage.Get(ctx, runID)
	if err != nil {
		return err
	}

	fn(snapshot)
	snapshot.RunID = runID

	if err := t.storage.Save(ctx, snapshot); err != nil {
		return err
	}

	if t.redisClient != nil && snapshot.Active() {
		if err := t.redisClient.Expire(ctx, runLockKey, lockTTL).Err(); err != nil {
			t.log.Warn("failed to refresh run lock", "run_id", runID, "error", err)
		}
	}

	return nil
}

func (t *tracker) Finish(ctx context.Context, runID, status string) error {
	defer t.unlock(ctx, runID)

	return t.Update(ctx, runID, func(s *Snapshot) {
		s.Status = status
	})
}

func (t *tracker) Get(ctx context.Context, runID string) (*Snapshot, error) {
	return t.storage.Get(ctx, runID)
}

// Latest returns the most recently started run.
func (t *tracker) Latest(ctx context.Context) (*Snapshot, error) {
	all, err := t.storage.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, ErrSnapshotNotFound
	}

	return slices.MaxFunc(all, func(a, b *Snapshot) int {
		return cmp.Compare(a.StartedAt.UnixNano(), b.StartedAt.UnixNano())
	}), nil
}

func (t *tracker) List(ctx context.Context) ([]*Snapshot, error) {
	return t.storage.List(ctx)
}

func (t *tracker) lock(ctx context.Context, runID string) error {
	if t.redisClient == nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.active != "" {
			t.log.Warn("run lock already held", "run_id", runID, "active_run", t.active)
			return ErrRunActive
		}
		t.active = runID
		return nil
	}

	acquired, err := t.redisClient.SetNX(ctx, runLockKey, runID, lockTTL).Result()
	if err != nil {
		t.log.Error("failed to acquire run lock", "run_id", runID, "error", err)
		return err
	}

	if !acquired {
		t.log.Warn("run lock already held", "run_id", runID)
		return ErrRunActive
	}

	return nil
}

func (t *tracker) unlock(ctx context.Context, runID string) {
	if t.redisClient == nil {
		t.mu.Lock()
		if t.active == runID {
			t.active = ""
		}
		t.mu.Unlock()
		return
	}

	holder, err := t.redisClient.Get(ctx, runLockKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			t.log.Error("failed to read run lock", "run_id", runID, "error", err)
		}
		return
	}
	if holder != runID {
		return
	}

	if err := t.redisClient.Del(ctx, runLockKey).Err(); err != nil {
		t.log.Error("failed to release run lock", "run_id", runID, "error", err)
	}
}
