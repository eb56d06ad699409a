package instrument

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/goatkit/tickettransfer/internal/database"
	"github.com/goatkit/tickettransfer/internal/logger"
	"github.com/goatkit/tickettransfer/internal/models"
)

// Pool runs named tasks concurrently with a bounded number of workers.
// A failing task never cancels its siblings; Wait joins every error.
type Pool struct {
	db    database.TxBeginner
	group *errgroup.Group
	ctx   context.Context
	log   logrus.FieldLogger

	mu   sync.Mutex
	errs []error
}

// NewPool creates a pool of at most workers concurrent tasks. db may be nil
// when only Submit is used.
func NewPool(ctx context.Context, db database.TxBeginner, workers int, log logrus.FieldLogger) *Pool {
	g := &errgroup.Group{}
	if workers > 0 {
		g.SetLimit(workers)
	}
	return &Pool{db: db, group: g, ctx: ctx, log: logger.Component(log, "pool")}
}

// Submit queues fn. It blocks while all workers are busy.
func (p *Pool) Submit(name string, fn func(ctx context.Context) error) {
	p.group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task %s panicked: %v", name, r)
			}
			p.collect(name, err)
		}()
		if err := p.ctx.Err(); err != nil {
			return err
		}
		return fn(p.ctx)
	})
}

// SubmitTx queues fn inside its own transaction. Each task commits or rolls
// back independently of the others.
func (p *Pool) SubmitTx(name string, fn func(ctx context.Context, tx *sql.Tx) error) {
	p.Submit(name, func(ctx context.Context) error {
		if p.db == nil {
			return fmt.Errorf("task %s: pool has no database", name)
		}
		tx, err := p.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return SafeCommit(tx, name, p.log)
	})
}

// Wait blocks until every task is done and returns their joined errors.
func (p *Pool) Wait() error {
	_ = p.group.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	return errors.Join(p.errs...)
}

func (p *Pool) collect(name string, err error) {
	if err == nil {
		return
	}
	p.log.WithField("task", name).WithError(err).Warn("pool task failed")
	p.mu.Lock()
	p.errs = append(p.errs, fmt.Errorf("%s: %w", name, err))
	p.mu.Unlock()
}

// TimeoutLogWriter inserts a timeout log through a transaction.
type TimeoutLogWriter func(ctx context.Context, tx *sql.Tx, entry *models.TimeoutLog) error

// PoolRecorder is a Recorder that writes each timeout log in its own
// pooled transaction, so a caller's rollback never discards the log.
type PoolRecorder struct {
	pool  *Pool
	write TimeoutLogWriter
}

// NewPoolRecorder creates a PoolRecorder.
func NewPoolRecorder(pool *Pool, write TimeoutLogWriter) *PoolRecorder {
	return &PoolRecorder{pool: pool, write: write}
}

// RecordTimeout queues the write. Errors surface from the pool's Wait.
func (r *PoolRecorder) RecordTimeout(_ context.Context, entry *models.TimeoutLog) error {
	r.pool.SubmitTx("timeout_log:"+entry.Name, func(ctx context.Context, tx *sql.Tx) error {
		return r.write(ctx, tx, entry)
	})
	return nil
}
