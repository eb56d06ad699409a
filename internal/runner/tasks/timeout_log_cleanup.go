// Package tasks provides background task implementations for the runner.
package tasks

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/goatkit/tickettransfer/internal/config"
	"github.com/goatkit/tickettransfer/internal/database"
	"github.com/goatkit/tickettransfer/internal/instrument"
	"github.com/goatkit/tickettransfer/internal/logger"
	"github.com/goatkit/tickettransfer/internal/repository"
	"github.com/goatkit/tickettransfer/internal/runner"
)

const (
	defaultCleanupSchedule  = "0 30 3 * * *"
	defaultRetentionDays    = 30
	timeoutLogCleanupBatch  = 500
	timeoutLogCleanupWindow = 10 * time.Minute
)

// TimeoutLogCleanupTask deletes timeout log entries older than the
// retention window, one committed batch at a time.
type TimeoutLogCleanupTask struct {
	db        database.TxBeginner
	repo      *repository.TimeoutLogRepository
	schedule  string
	retention int
	batchSize int
	retry     instrument.RetryPolicy
	log       logrus.FieldLogger
	now       func() time.Time
}

// NewTimeoutLogCleanupTask creates the task from the global config.
func NewTimeoutLogCleanupTask(db database.TxBeginner, log logrus.FieldLogger) runner.Task {
	schedule := defaultCleanupSchedule
	retention := defaultRetentionDays
	if cfg := config.Get(); cfg != nil {
		if cfg.Runner.TimeoutLogCleanup.Schedule != "" {
			schedule = cfg.Runner.TimeoutLogCleanup.Schedule
		}
		if cfg.Runner.TimeoutLogCleanup.RetentionDays > 0 {
			retention = cfg.Runner.TimeoutLogCleanup.RetentionDays
		}
	}

	retry := instrument.DefaultRetryPolicy()
	retry.RetryIf = func(err error) bool { return instrument.IsTimeout(err) || database.IsTransient(err) }

	return &TimeoutLogCleanupTask{
		db:        db,
		repo:      repository.NewTimeoutLogRepository(db),
		schedule:  schedule,
		retention: retention,
		batchSize: timeoutLogCleanupBatch,
		retry:     retry,
		log:       logger.Component(log, "timeout-log-cleanup"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Name returns the task name.
func (t *TimeoutLogCleanupTask) Name() string {
	return "timeout-log-cleanup"
}

// Schedule returns the configured cron expression.
func (t *TimeoutLogCleanupTask) Schedule() string {
	return t.schedule
}

// Timeout returns the task timeout.
func (t *TimeoutLogCleanupTask) Timeout() time.Duration {
	return timeoutLogCleanupWindow
}

// Run removes expired entries. Failed batches are rolled back and reported
// in the returned error; committed batches stay deleted.
func (t *TimeoutLogCleanupTask) Run(ctx context.Context) error {
	cutoff := t.now().AddDate(0, 0, -t.retention)
	entry := t.log.WithField("cutoff", cutoff.Format(time.RFC3339))

	var ids []int64
	err := instrument.Retry(ctx, t.retry, t.log, func(ctx context.Context) error {
		var err error
		ids, err = t.repo.ListIDsOlderThan(ctx, cutoff)
		return err
	})
	if err != nil {
		return fmt.Errorf("list expired timeout logs: %w", err)
	}
	if len(ids) == 0 {
		entry.Info("no expired timeout logs to clean up")
		return nil
	}

	progress := instrument.NewProgressTracker(t.Name(), len(ids), t.log)
	processor := instrument.NewBatchProcessor(t.Name(), t.batchSize,
		instrument.WithCommitPerBatch[int64](t.db),
		instrument.WithBatchLogger[int64](t.log),
		instrument.WithProgress[int64](func(done, _ int) {
			p := progress.Snapshot()
			progress.Add(done - p.Done)
		}),
	)

	var deleted int64
	summary, err := processor.Process(ctx, ids, func(ctx context.Context, tx *sql.Tx, batch []int64) error {
		n, err := repository.NewTimeoutLogRepository(tx).DeleteByIDs(ctx, batch)
		if err != nil {
			return err
		}
		deleted += n
		return nil
	})
	progress.Finish()
	if err != nil {
		return err
	}

	entry.WithFields(logrus.Fields{"deleted": deleted, "failed": summary.Failed}).Info("timeout log cleanup complete")
	if summary.Failed > 0 {
		return fmt.Errorf("timeout log cleanup: %d of %d entries could not be deleted", summary.Failed, len(ids))
	}
	return nil
}
