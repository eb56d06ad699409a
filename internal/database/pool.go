package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/goatkit/tickettransfer/internal/logger"
)

const maxSlowQueryLog = 100

// MonitorConfig controls query monitoring and retry.
type MonitorConfig struct {
	SlowQueryThreshold time.Duration
	MaxRetries         int
	RetryBackoff       time.Duration
}

// MonitoredDB wraps *sql.DB with query timing, slow query logging and retry
// of transient connection errors.
type MonitoredDB struct {
	db           *sql.DB
	config       MonitorConfig
	metrics      *poolMetrics
	log          logrus.FieldLogger
	slowQueryLog []SlowQuery
	slowQueryMu  sync.RWMutex
}

// SlowQuery represents a slow database query.
type SlowQuery struct {
	Query     string
	Duration  time.Duration
	Timestamp time.Time
	Error     error
}

type poolMetrics struct {
	queryDuration prometheus.Histogram
	queryErrors   prometheus.Counter
	slowQueries   prometheus.Counter
	transactions  prometheus.Counter
	openConns     prometheus.Gauge
	inUseConns    prometheus.Gauge
}

var (
	poolMetricsOnce sync.Once
	poolMetricsInst *poolMetrics
)

func globalPoolMetrics() *poolMetrics {
	poolMetricsOnce.Do(func() {
		poolMetricsInst = &poolMetrics{
			queryDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Namespace: "tickettransfer",
				Subsystem: "db",
				Name:      "query_duration_seconds",
				Help:      "Database query duration",
				Buckets:   prometheus.DefBuckets,
			}),
			queryErrors: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "tickettransfer",
				Subsystem: "db",
				Name:      "query_errors_total",
				Help:      "Total number of query errors",
			}),
			slowQueries: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "tickettransfer",
				Subsystem: "db",
				Name:      "slow_queries_total",
				Help:      "Total number of queries over the slow query threshold",
			}),
			transactions: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: "tickettransfer",
				Subsystem: "db",
				Name:      "transactions_total",
				Help:      "Total number of database transactions started",
			}),
			openConns: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: "tickettransfer",
				Subsystem: "db",
				Name:      "open_connections",
				Help:      "Open database connections at last sample",
			}),
			inUseConns: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: "tickettransfer",
				Subsystem: "db",
				Name:      "in_use_connections",
				Help:      "In-use database connections at last sample",
			}),
		}
	})
	return poolMetricsInst
}

// NewMonitoredDB wraps db. A nil log discards slow query warnings.
func NewMonitoredDB(db *sql.DB, cfg MonitorConfig, log logrus.FieldLogger) *MonitoredDB {
	if cfg.SlowQueryThreshold <= 0 {
		cfg.SlowQueryThreshold = time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	return &MonitoredDB{
		db:      db,
		config:  cfg,
		metrics: globalPoolMetrics(),
		log:     logger.Component(log, "db"),
	}
}

// DB exposes the wrapped handle.
func (p *MonitoredDB) DB() *sql.DB {
	return p.db
}

// QueryContext executes a query with monitoring and retry.
func (p *MonitoredDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	err := p.withRetry(ctx, query, func() error {
		var err error
		rows, err = p.db.QueryContext(ctx, query, args...)
		return err
	})
	return rows, err
}

// ExecContext executes a statement with monitoring and retry.
func (p *MonitoredDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	err := p.withRetry(ctx, query, func() error {
		var err error
		result, err = p.db.ExecContext(ctx, query, args...)
		return err
	})
	return result, err
}

// QueryRowContext executes a query returning a single row. Errors surface on Scan.
func (p *MonitoredDB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	timer := prometheus.NewTimer(p.metrics.queryDuration)
	defer timer.ObserveDuration()

	start := time.Now()
	row := p.db.QueryRowContext(ctx, query, args...)
	if d := time.Since(start); d > p.config.SlowQueryThreshold {
		p.logSlowQuery(query, d, nil)
	}
	return row
}

// BeginTx starts a transaction on the wrapped handle.
func (p *MonitoredDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	p.metrics.transactions.Inc()
	tx, err := p.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// SampleStats copies connection pool statistics into the gauges.
func (p *MonitoredDB) SampleStats() sql.DBStats {
	stats := p.db.Stats()
	p.metrics.openConns.Set(float64(stats.OpenConnections))
	p.metrics.inUseConns.Set(float64(stats.InUse))
	return stats
}

// SlowQueries returns a copy of the recent slow query log.
func (p *MonitoredDB) SlowQueries() []SlowQuery {
	p.slowQueryMu.RLock()
	defer p.slowQueryMu.RUnlock()

	queries := make([]SlowQuery, len(p.slowQueryLog))
	copy(queries, p.slowQueryLog)
	return queries
}

// Close closes the wrapped handle.
func (p *MonitoredDB) Close() error {
	return p.db.Close()
}

func (p *MonitoredDB) withRetry(ctx context.Context, query string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		timer := prometheus.NewTimer(p.metrics.queryDuration)
		start := time.Now()

		err = fn()

		d := time.Since(start)
		timer.ObserveDuration()
		if d > p.config.SlowQueryThreshold {
			p.logSlowQuery(query, d, err)
		}

		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			p.metrics.queryErrors.Inc()
			return err
		}

		if attempt < p.config.MaxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.config.RetryBackoff * time.Duration(attempt+1)):
			}
		}
	}

	p.metrics.queryErrors.Inc()
	return fmt.Errorf("query failed after %d retries: %w", p.config.MaxRetries, err)
}

func (p *MonitoredDB) logSlowQuery(query string, d time.Duration, err error) {
	p.metrics.slowQueries.Inc()

	entry := p.log.WithFields(logrus.Fields{
		"duration":  d.String(),
		"threshold": p.config.SlowQueryThreshold.String(),
		"query":     compactQuery(query),
	})
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Warn("slow query")

	p.slowQueryMu.Lock()
	defer p.slowQueryMu.Unlock()
	if len(p.slowQueryLog) >= maxSlowQueryLog {
		p.slowQueryLog = p.slowQueryLog[1:]
	}
	p.slowQueryLog = append(p.slowQueryLog, SlowQuery{
		Query:     query,
		Duration:  d,
		Timestamp: time.Now(),
		Error:     err,
	})
}

func compactQuery(query string) string {
	q := strings.Join(strings.Fields(query), " ")
	if len(q) > 200 {
		return q[:200] + "..."
	}
	return q
}

// IsTransient reports whether err looks like a dropped or refused connection.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, retryable := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"bad connection",
		"too many connections",
	} {
		if strings.Contains(msg, retryable) {
			return true
		}
	}
	return false
}
