package state

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var errStorageFailure = errors.New("storage error")

type mockStorage struct {
	mock.Mock
}

func (m *mockStorage) Get(ctx context.Context, runID string) (*Snapshot, error) {
	args := m.Called(ctx, runID)
	snapshot, _ := args.Get(0).(*Snapshot)
	return snapshot, args.Error(1)
}

func (m *mockStorage) Save(ctx context.Context, snapshot *Snapshot) error {
	args := m.Called(ctx, snapshot)
	return args.Error(0)
}

func (m *mockStorage) Delete(ctx context.Context, runID string) error {
	args := m.Called(ctx, runID)
	return args.Error(0)
}

func (m *mockStorage) List(ctx context.Context) ([]*Snapshot, error) {
	args := m.Called(ctx)
	snapshots, _ := args.Get(0).([]*Snapshot)
	return snapshots, args.Error(1)
}

func TestTracker_Begin(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name        string
		setupMocks  func(ms *mockStorage)
		expectedErr error
	}{
		{
			name: "saves running snapshot",
			setupMocks: func(ms *mockStorage) {
				ms.On("Save", mock.Anything, mock.MatchedBy(func(s *Snapshot) bool {
					return s.RunID == "run-1" && s.Status == StatusRunning && s.Count == 2
				})).Return(nil).Once()
			},
		},
		{
			name: "storage failure releases lock",
			setupMocks: func(ms *mockStorage) {
				ms.On("Save", mock.Anything, mock.Anything).Return(errStorageFailure).Once()
			},
			expectedErr: errStorageFailure,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ms := &mockStorage{}
			tc.setupMocks(ms)

			tr := NewTracker(ms, testLogger(), nil)
			_, err := tr.Begin(ctx, "run-1", "marketplace", 2)

			if tc.expectedErr != nil {
				require.ErrorIs(t, err, tc.expectedErr)
				ms.On("Save", mock.Anything, mock.Anything).Return(nil).Once()
				_, err = tr.Begin(ctx, "run-2", "marketplace", 2)
				assert.NoError(t, err, "lock must be released after a failed begin")
			} else {
				require.NoError(t, err)
			}

			ms.AssertExpectations(t)
		})
	}
}

func TestTracker_UpdateAndFinish(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(NewMemoryStorage(), testLogger(), nil)

	_, err := tr.Begin(ctx, "run-1", "marketplace", 3)
	require.NoError(t, err)

	require.NoError(t, tr.Update(ctx, "run-1", func(s *Snapshot) {
		s.State = "SCAN_PRICES"
		s.Resource = "ortie"
		s.Index = 1
	}))

	_, err = tr.Begin(ctx, "run-2", "marketplace", 1)
	assert.ErrorIs(t, err, ErrRunActive)

	require.NoError(t, tr.Finish(ctx, "run-1", StatusSuccess))

	snapshot, err := tr.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "SCAN_PRICES", snapshot.State)
	assert.Equal(t, StatusSuccess, snapshot.Status)
	assert.False(t, snapshot.Active())

	_, err = tr.Begin(ctx, "run-2", "marketplace", 1)
	assert.NoError(t, err)

	latest, err := tr.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "run-2", latest.RunID)
}

func TestTracker_UpdateMissing(t *testing.T) {
	tr := NewTracker(NewMemoryStorage(), testLogger(), nil)

	err := tr.Update(context.Background(), "ghost", func(*Snapshot) {})
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	_, err = tr.Latest(context.Background())
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestTracker_RedisLock(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	t.Cleanup(cleanup)

	storage := NewRedisStorage(client, 0, testLogger())
	first := NewTracker(storage, testLogger(), client)
	second := NewTracker(storage, testLogger(), client)

	ctx := context.Background()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	for i, tr := range []Tracker{first, second} {
		wg.Add(1)
		go func(id string, tr Tracker) {
			defer wg.Done()
			_, err := tr.Begin(ctx, id, "marketplace", 1)
			errCh <- err
		}([]string{"run-a", "run-b"}[i], tr)
	}

	wg.Wait()
	close(errCh)

	var success, locked int
	for err := range errCh {
		if err == nil {
			success++
			continue
		}

		if errors.Is(err, ErrRunActive) {
			locked++
			continue
		}

		t.Fatalf("unexpected error: %v", err)
	}

	assert.Equal(t, 1, success)
	assert.Equal(t, 1, locked)

	holder, err := client.Get(ctx, runLockKey).Result()
	require.NoError(t, err)

	// a tracker that does not own the lock cannot release it
	other := map[string]string{"run-a": "run-b", "run-b": "run-a"}[holder]
	first.(*tracker).unlock(ctx, other)
	assert.Equal(t, holder, client.Get(ctx, runLockKey).Val())

	require.NoError(t, first.Finish(ctx, holder, StatusSuccess))
	assert.Equal(t, int64(0), client.Exists(ctx, runLockKey).Val())
}

func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cleanup := func() {
		_ = client.Close()
		mr.Close()
	}

	return client, cleanup
}

func setupTestRedisServer(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return client, mr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
