package repository

import (
	"context"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/goatkit/tickettransfer/internal/database"
	"github.com/goatkit/tickettransfer/internal/models"
)

// TimeoutLogRepository stores instrumentation events for slow or failed operations.
type TimeoutLogRepository struct {
	db database.DBTX
}

// NewTimeoutLogRepository creates a new timeout log repository.
func NewTimeoutLogRepository(db database.DBTX) *TimeoutLogRepository {
	return &TimeoutLogRepository{db: db}
}

// Create inserts a log entry, computing the exceeded flag.
func (r *TimeoutLogRepository) Create(ctx context.Context, l *models.TimeoutLog) (int64, error) {
	if l.CreateDate.IsZero() {
		l.CreateDate = time.Now().UTC()
	}
	l.ComputeExceeded()

	id, err := database.InsertReturningID(ctx, r.db, `
		INSERT INTO timeout_log (name, model_name, method_name, duration, threshold, exceeded,
			user_id, record_id, context_info, error_message, create_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.Name, l.ModelName, l.MethodName, l.Duration, l.Threshold, l.Exceeded,
		l.UserID, l.RecordID, l.ContextInfo, l.ErrorMessage, l.CreateDate,
	)
	if err != nil {
		return 0, err
	}
	l.ID = id
	return id, nil
}

// RecordTimeout satisfies the instrumentation recorder contract.
func (r *TimeoutLogRepository) RecordTimeout(ctx context.Context, l *models.TimeoutLog) error {
	_, err := r.Create(ctx, l)
	return err
}

// ListRecent returns the newest entries, optionally only those over threshold.
func (r *TimeoutLogRepository) ListRecent(ctx context.Context, limit int, exceededOnly bool) ([]*models.TimeoutLog, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, name, COALESCE(model_name, '') AS model_name, COALESCE(method_name, '') AS method_name,
			duration, threshold, exceeded, user_id, record_id,
			COALESCE(context_info, '') AS context_info, COALESCE(error_message, '') AS error_message, create_date
		FROM timeout_log`
	args := []any{}
	if exceededOnly {
		query += ` WHERE exceeded = ?`
		args = append(args, true)
	}
	query += ` ORDER BY create_date DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, database.ConvertPlaceholders(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*models.TimeoutLog
	if err := sqlx.StructScan(rows, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// Statistics aggregates entries created within the last days.
func (r *TimeoutLogRepository) Statistics(ctx context.Context, days int) (*models.TimeoutStatistics, error) {
	if days <= 0 {
		days = 7
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	stats := &models.TimeoutStatistics{Days: days, ByModel: map[string]models.ModelTimeoutStats{}}

	totals := database.ConvertPlaceholders(`
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN exceeded = ? THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(duration), 0),
			COALESCE(MAX(duration), 0)
		FROM timeout_log
		WHERE create_date >= ?
	`)
	if err := r.db.QueryRowContext(ctx, totals, true, since).Scan(
		&stats.Total, &stats.Exceeded, &stats.AvgDuration, &stats.MaxDuration,
	); err != nil {
		return nil, err
	}

	byModel := database.ConvertPlaceholders(`
		SELECT COALESCE(model_name, '') AS model_name, COUNT(*) AS count,
			COALESCE(SUM(duration), 0) AS total_duration, COALESCE(AVG(duration), 0) AS avg_duration
		FROM timeout_log
		WHERE create_date >= ?
		GROUP BY model_name
	`)
	rows, err := r.db.QueryContext(ctx, byModel, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			model string
			ms    models.ModelTimeoutStats
		)
		if err := rows.Scan(&model, &ms.Count, &ms.TotalDuration, &ms.AvgDuration); err != nil {
			return nil, err
		}
		if model == "" {
			model = "unknown"
		}
		stats.ByModel[model] = ms
	}
	return stats, rows.Err()
}

// CleanupOlderThan deletes entries created before cutoff and returns the count.
func (r *TimeoutLogRepository) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := database.ConvertPlaceholders(`DELETE FROM timeout_log WHERE create_date < ?`)
	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// ListIDsOlderThan returns the ids of entries created before cutoff, oldest first.
func (r *TimeoutLogRepository) ListIDsOlderThan(ctx context.Context, cutoff time.Time) ([]int64, error) {
	query := database.ConvertPlaceholders(`SELECT id FROM timeout_log WHERE create_date < ? ORDER BY id`)
	rows, err := r.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteByIDs removes the given entries.
func (r *TimeoutLogRepository) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := database.ConvertPlaceholders(`DELETE FROM timeout_log WHERE id IN (` + placeholders + `)`)
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
