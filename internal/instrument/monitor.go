// Package instrument provides execution-time monitoring, batching and retry
// helpers for long running operations.
package instrument

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/goatkit/tickettransfer/internal/logger"
	"github.com/goatkit/tickettransfer/internal/models"
)

// Operation is a unit of monitored work.
type Operation func(ctx context.Context) error

// TimeoutError is returned when a monitored operation ran past its
// threshold and its Spec set FailOnExceed.
type TimeoutError struct {
	Name      string
	Elapsed   time.Duration
	Threshold time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation %s exceeded timeout of %s (took %s)",
		e.Name, e.Threshold, e.Elapsed.Round(time.Millisecond))
}

// IsTimeout reports whether err is a TimeoutError or a context deadline.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te) || errors.Is(err, context.DeadlineExceeded)
}

// Recorder persists timeout log entries.
type Recorder interface {
	RecordTimeout(ctx context.Context, entry *models.TimeoutLog) error
}

// Spec describes a monitored operation.
type Spec struct {
	Name         string
	Model        string
	Method       string
	RecordID     *int
	UserID       *int
	ContextInfo  string
	Threshold    time.Duration
	FailOnExceed bool
}

// Monitor times operations, logs slow or failing ones and persists them
// through an optional Recorder. A nil *Monitor runs operations unwrapped.
type Monitor struct {
	recorder Recorder
	log      logrus.FieldLogger
	metrics  *instrumentMetrics
	now      func() time.Time
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithRecorder persists exceeded or failed operations.
func WithRecorder(r Recorder) MonitorOption {
	return func(m *Monitor) {
		m.recorder = r
	}
}

// WithLogger injects a logger.
func WithLogger(l logrus.FieldLogger) MonitorOption {
	return func(m *Monitor) {
		m.log = l
	}
}

// NewMonitor creates a Monitor.
func NewMonitor(opts ...MonitorOption) *Monitor {
	m := &Monitor{
		metrics: globalInstrumentMetrics(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = logger.Component(m.log, "instrument")
	return m
}

// Wrap decorates op with timing. An exceeded threshold is logged and
// recorded; with FailOnExceed the successful result is replaced by a
// TimeoutError. Errors are logged with the elapsed time, recorded and
// returned unchanged.
func (m *Monitor) Wrap(spec Spec, op Operation) Operation {
	if m == nil {
		return op
	}
	return func(ctx context.Context) error {
		start := m.now()
		err := op(ctx)
		elapsed := m.now().Sub(start)

		m.metrics.observe(spec.Name, elapsed)
		fields := logrus.Fields{
			"operation": spec.Name,
			"elapsed":   elapsed.Round(time.Millisecond).String(),
		}

		if err != nil {
			m.log.WithFields(fields).WithError(err).Error("operation failed")
			m.record(ctx, spec, elapsed, err)
			return err
		}

		if spec.Threshold > 0 && elapsed > spec.Threshold {
			m.metrics.exceeded(spec.Name)
			m.log.WithFields(fields).WithField("threshold", spec.Threshold.String()).Warn("operation exceeded threshold")
			m.record(ctx, spec, elapsed, nil)
			if spec.FailOnExceed {
				return &TimeoutError{Name: spec.Name, Elapsed: elapsed, Threshold: spec.Threshold}
			}
			return nil
		}

		m.log.WithFields(fields).Debug("operation completed")
		return nil
	}
}

// Run executes op under spec.
func (m *Monitor) Run(ctx context.Context, spec Spec, op Operation) error {
	return m.Wrap(spec, op)(ctx)
}

// Call is the value-returning form of Run.
func Call[T any](ctx context.Context, m *Monitor, spec Spec, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := m.Run(ctx, spec, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

// Time starts a scoped timer. Call the returned func when the block ends:
//
//	defer monitor.Time("export", 5*time.Minute)()
func (m *Monitor) Time(name string, threshold time.Duration) func() {
	if m == nil {
		return func() {}
	}
	start := m.now()
	return func() {
		elapsed := m.now().Sub(start)
		m.metrics.observe(name, elapsed)
		entry := m.log.WithFields(logrus.Fields{"operation": name, "elapsed": elapsed.Round(time.Millisecond).String()})
		if threshold > 0 && elapsed > threshold {
			m.metrics.exceeded(name)
			entry.WithField("threshold", threshold.String()).Warn("operation exceeded threshold")
			return
		}
		entry.Debug("operation completed")
	}
}

func (m *Monitor) record(ctx context.Context, spec Spec, elapsed time.Duration, opErr error) {
	if m.recorder == nil {
		return
	}
	entry := &models.TimeoutLog{
		Name:        spec.Name,
		ModelName:   spec.Model,
		MethodName:  spec.Method,
		Duration:    elapsed.Seconds(),
		Threshold:   spec.Threshold.Seconds(),
		UserID:      spec.UserID,
		RecordID:    spec.RecordID,
		ContextInfo: spec.ContextInfo,
		CreateDate:  m.now().UTC(),
	}
	if opErr != nil {
		entry.ErrorMessage = opErr.Error()
	}
	entry.ComputeExceeded()

	// The operation's context may already be cancelled; the log must still land.
	if err := m.recorder.RecordTimeout(context.WithoutCancel(ctx), entry); err != nil {
		m.log.WithError(err).WithField("operation", spec.Name).Warn("failed to record timeout log")
	}
}
