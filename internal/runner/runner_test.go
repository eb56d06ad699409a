package runner

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTask struct {
	name     string
	schedule string
	timeout  time.Duration
	runs     atomic.Int32
	fn       func(ctx context.Context) error
}

func (f *fakeTask) Name() string { return f.name }
func (f *fakeTask) Schedule() string { return f.schedule }
func (f *fakeTask) Timeout() time.Duration { return f.timeout }
func (f *fakeTask) Run(ctx context.Context) error {
	f.runs.Add(1)
	if f.fn != nil {
		return f.fn(ctx)
	}
	return nil
}

func TestRegisterRejectsBadSchedule(t *testing.T) {
	r := New()
	err := r.Register(&fakeTask{name: "bad", schedule: "not a cron"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid schedule")
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&fakeTask{name: "a", schedule: "0 0 * * * *"}))
	assert.Error(t, r.Register(&fakeTask{name: "a", schedule: "0 0 * * * *"}))
}

func TestRunNowRecordsStatus(t *testing.T) {
	store := NewMemoryStatusStore()
	r := New(WithStatusStore(store))
	boom := errors.New("boom")
	calls := 0
	task := &fakeTask{name: "cleanup", schedule: "0 30 3 * * *", fn: func(context.Context) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	}}
	require.NoError(t, r.Register(task))

	require.NoError(t, r.RunNow(context.Background(), "cleanup"))
	require.ErrorIs(t, r.RunNow(context.Background(), "cleanup"), boom)

	s, err := store.LoadStatus(context.Background(), "cleanup")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 2, s.Runs)
	assert.Equal(t, 1, s.Failures)
	assert.Equal(t, "boom", s.LastError)

	statuses, err := r.Statuses(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "0 30 3 * * *", statuses[0].Schedule)
}

func TestRunNowUnknownTask(t *testing.T) {
	assert.ErrorIs(t, New().RunNow(context.Background(), "missing"), ErrUnknownTask)
}

func TestRunNowAppliesTimeout(t *testing.T) {
	r := New()
	task := &fakeTask{name: "slow", schedule: "@every 1h", timeout: 10 * time.Millisecond, fn: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	require.NoError(t, r.Register(task))
	assert.ErrorIs(t, r.RunNow(context.Background(), "slow"), context.DeadlineExceeded)
}

func TestRunNowRecoversPanic(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(&fakeTask{name: "explode", schedule: "@hourly", fn: func(context.Context) error {
		panic("kaboom")
	}}))
	err := r.RunNow(context.Background(), "explode")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestScheduledExecution(t *testing.T) {
	r := New()
	task := &fakeTask{name: "tick", schedule: "* * * * * *"}
	require.NoError(t, r.Register(task))
	r.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = r.Stop(ctx)
	}()

	assert.Eventually(t, func() bool { return task.runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
}
