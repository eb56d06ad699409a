package instrument

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/tickettransfer/internal/models"
)

type memRecorder struct {
	mu      sync.Mutex
	entries []*models.TimeoutLog
	err     error
}

func (r *memRecorder) RecordTimeout(_ context.Context, e *models.TimeoutLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return r.err
}

// steppedClock advances by step on every read.
func steppedClock(step time.Duration) func() time.Time {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(step)
		return t
	}
}

func newTestMonitor(rec Recorder, step time.Duration) (*Monitor, *logtest.Hook) {
	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	m := NewMonitor(WithRecorder(rec), WithLogger(log))
	m.now = steppedClock(step)
	return m, hook
}

func TestMonitorWrapWithinThreshold(t *testing.T) {
	rec := &memRecorder{}
	m, hook := newTestMonitor(rec, time.Second)

	err := m.Run(context.Background(), Spec{Name: "fast", Threshold: 10 * time.Second}, func(context.Context) error {
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, rec.entries)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.DebugLevel, hook.LastEntry().Level)
}

func TestMonitorWrapExceededWarnsAndRecords(t *testing.T) {
	rec := &memRecorder{}
	m, hook := newTestMonitor(rec, 2*time.Second)
	record := 42

	err := m.Run(context.Background(), Spec{
		Name:      "transfer.subresources",
		Model:     "helpdesk.ticket",
		Method:    "Transfer",
		RecordID:  &record,
		Threshold: time.Second,
	}, func(context.Context) error { return nil })
	require.NoError(t, err)

	require.Len(t, rec.entries, 1)
	e := rec.entries[0]
	assert.True(t, e.Exceeded)
	assert.Equal(t, "helpdesk.ticket", e.ModelName)
	assert.Equal(t, 2.0, e.Duration)
	assert.Equal(t, 1.0, e.Threshold)
	assert.Empty(t, e.ErrorMessage)

	var warned bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Message == "operation exceeded threshold" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestMonitorWrapFailOnExceed(t *testing.T) {
	m, _ := newTestMonitor(nil, 5*time.Second)

	err := m.Run(context.Background(), Spec{Name: "strict", Threshold: time.Second, FailOnExceed: true},
		func(context.Context) error { return nil })

	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "strict", te.Name)
	assert.Equal(t, 5*time.Second, te.Elapsed)
	assert.True(t, IsTimeout(err))
}

func TestMonitorWrapErrorIsRecordedAndReturned(t *testing.T) {
	rec := &memRecorder{}
	m, hook := newTestMonitor(rec, time.Millisecond)
	boom := errors.New("remote said no")

	err := m.Run(context.Background(), Spec{Name: "failing", Threshold: time.Minute}, func(context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Len(t, rec.entries, 1)
	assert.Equal(t, "remote said no", rec.entries[0].ErrorMessage)
	assert.False(t, rec.entries[0].Exceeded)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestMonitorRecorderFailureIsOnlyLogged(t *testing.T) {
	rec := &memRecorder{err: errors.New("db down")}
	m, hook := newTestMonitor(rec, 3*time.Second)

	err := m.Run(context.Background(), Spec{Name: "slow", Threshold: time.Second}, func(context.Context) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "failed to record timeout log", hook.LastEntry().Message)
}

func TestNilMonitorRunsUnwrapped(t *testing.T) {
	var m *Monitor
	called := false
	require.NoError(t, m.Run(context.Background(), Spec{Name: "x"}, func(context.Context) error {
		called = true
		return nil
	}))
	assert.True(t, called)
	m.Time("noop", time.Second)()
}

func TestCallReturnsValue(t *testing.T) {
	m, _ := newTestMonitor(nil, time.Millisecond)
	v, err := Call(context.Background(), m, Spec{Name: "value"}, func(context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestMonitorTimeScope(t *testing.T) {
	m, hook := newTestMonitor(nil, 2*time.Second)
	done := m.Time("export", time.Second)
	done()
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "export", hook.LastEntry().Data["operation"])
}
