package instrument

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/goatkit/tickettransfer/internal/database"
	"github.com/goatkit/tickettransfer/internal/logger"
)

// DefaultBatchSize is used when a non-positive size is requested.
const DefaultBatchSize = 100

// Batches yields fixed-size slices of items lazily. Iteration can be
// restarted with Reset or by calling All again.
type Batches[T any] struct {
	items []T
	size  int
	pos   int
}

// NewBatches creates a batch iterator over items.
func NewBatches[T any](items []T, size int) *Batches[T] {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &Batches[T]{items: items, size: size}
}

// Next returns the next batch, or false when exhausted.
func (b *Batches[T]) Next() ([]T, bool) {
	if b.pos >= len(b.items) {
		return nil, false
	}
	end := min(b.pos+b.size, len(b.items))
	batch := b.items[b.pos:end:end]
	b.pos = end
	return batch, true
}

// Reset rewinds the iterator.
func (b *Batches[T]) Reset() {
	b.pos = 0
}

// Count returns the total number of batches.
func (b *Batches[T]) Count() int {
	return (len(b.items) + b.size - 1) / b.size
}

// All iterates every batch from the start with its index, independent of Next.
func (b *Batches[T]) All() iter.Seq2[int, []T] {
	return func(yield func(int, []T) bool) {
		for i, start := 0, 0; start < len(b.items); i, start = i+1, start+b.size {
			end := min(start+b.size, len(b.items))
			if !yield(i, b.items[start:end:end]) {
				return
			}
		}
	}
}

// Chunk splits items into slices of at most size elements.
func Chunk[T any](items []T, size int) [][]T {
	b := NewBatches(items, size)
	out := make([][]T, 0, b.Count())
	for _, batch := range b.All() {
		out = append(out, batch)
	}
	return out
}

// BatchFunc processes one batch. tx is nil unless the processor commits per batch.
type BatchFunc[T any] func(ctx context.Context, tx *sql.Tx, batch []T) error

// BatchSummary reports a processor run.
type BatchSummary struct {
	Processed int
	Failed    int
	Batches   int
	Elapsed   time.Duration
}

// Rate returns processed items per second.
func (s BatchSummary) Rate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Processed) / s.Elapsed.Seconds()
}

// BatchProcessor runs a BatchFunc over items in batches. With per-batch
// commits each batch gets its own transaction: success commits it, failure
// rolls it back and counts the whole batch as failed.
type BatchProcessor[T any] struct {
	name           string
	db             database.TxBeginner
	size           int
	commitPerBatch bool
	onError        func(batch []T, err error)
	onProgress     func(done, total int)
	log            logrus.FieldLogger
}

// BatchOption configures a BatchProcessor.
type BatchOption[T any] func(*BatchProcessor[T])

// WithCommitPerBatch wraps each batch in its own transaction on db.
func WithCommitPerBatch[T any](db database.TxBeginner) BatchOption[T] {
	return func(p *BatchProcessor[T]) {
		p.db = db
		p.commitPerBatch = db != nil
	}
}

// WithErrorHandler is called for every failed batch.
func WithErrorHandler[T any](fn func(batch []T, err error)) BatchOption[T] {
	return func(p *BatchProcessor[T]) {
		p.onError = fn
	}
}

// WithProgress is called after every batch with items handled so far.
func WithProgress[T any](fn func(done, total int)) BatchOption[T] {
	return func(p *BatchProcessor[T]) {
		p.onProgress = fn
	}
}

// WithBatchLogger injects a logger.
func WithBatchLogger[T any](l logrus.FieldLogger) BatchOption[T] {
	return func(p *BatchProcessor[T]) {
		p.log = l
	}
}

// NewBatchProcessor creates a processor named for logging.
func NewBatchProcessor[T any](name string, size int, opts ...BatchOption[T]) *BatchProcessor[T] {
	if size <= 0 {
		size = DefaultBatchSize
	}
	p := &BatchProcessor[T]{name: name, size: size}
	for _, opt := range opts {
		opt(p)
	}
	p.log = logger.Component(p.log, "batch")
	return p
}

// Process runs fn over items. Batch failures are counted and handed to the
// error handler; only context cancellation stops the run early.
func (p *BatchProcessor[T]) Process(ctx context.Context, items []T, fn BatchFunc[T]) (BatchSummary, error) {
	var summary BatchSummary
	start := time.Now()
	metrics := globalInstrumentMetrics()

	for idx, batch := range NewBatches(items, p.size).All() {
		if err := ctx.Err(); err != nil {
			summary.Elapsed = time.Since(start)
			return summary, err
		}

		err := p.runBatch(ctx, batch, fn)
		summary.Batches++
		metrics.batch(err == nil)
		if err != nil {
			summary.Failed += len(batch)
			p.log.WithFields(logrus.Fields{"processor": p.name, "batch": idx + 1}).WithError(err).Error("batch failed")
			if p.onError != nil {
				p.onError(batch, err)
			}
		} else {
			summary.Processed += len(batch)
		}

		if p.onProgress != nil {
			p.onProgress(summary.Processed+summary.Failed, len(items))
		}
	}

	summary.Elapsed = time.Since(start)
	p.log.WithFields(logrus.Fields{
		"processor": p.name,
		"processed": summary.Processed,
		"failed":    summary.Failed,
		"elapsed":   summary.Elapsed.Round(time.Millisecond).String(),
		"rate":      fmt.Sprintf("%.1f/s", summary.Rate()),
	}).Info("batch processing complete")
	return summary, nil
}

func (p *BatchProcessor[T]) runBatch(ctx context.Context, batch []T, fn BatchFunc[T]) error {
	if !p.commitPerBatch {
		return fn(ctx, nil, batch)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(ctx, tx, batch); err != nil {
		_ = tx.Rollback()
		return err
	}
	return SafeCommit(tx, p.name, p.log)
}
