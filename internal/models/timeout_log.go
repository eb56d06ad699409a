package models

import "time"

// TimeoutLog records a monitored operation that ran long or failed.
type TimeoutLog struct {
	ID           int64     `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	ModelName    string    `db:"model_name" json:"model_name,omitempty"`
	MethodName   string    `db:"method_name" json:"method_name,omitempty"`
	Duration     float64   `db:"duration" json:"duration"`
	Threshold    float64   `db:"threshold" json:"threshold"`
	Exceeded     bool      `db:"exceeded" json:"exceeded"`
	UserID       *int      `db:"user_id" json:"user_id,omitempty"`
	RecordID     *int      `db:"record_id" json:"record_id,omitempty"`
	ContextInfo  string    `db:"context_info" json:"context_info,omitempty"`
	ErrorMessage string    `db:"error_message" json:"error_message,omitempty"`
	CreateDate   time.Time `db:"create_date" json:"create_date"`
}

// ComputeExceeded sets Exceeded from Duration and Threshold (both seconds).
func (l *TimeoutLog) ComputeExceeded() {
	l.Exceeded = l.Threshold > 0 && l.Duration > l.Threshold
}

// TimeoutStatistics aggregates timeout logs over a window.
type TimeoutStatistics struct {
	Days        int                          `json:"days"`
	Total       int                          `json:"total_operations"`
	Exceeded    int                          `json:"exceeded_count"`
	AvgDuration float64                      `json:"avg_duration"`
	MaxDuration float64                      `json:"max_duration"`
	ByModel     map[string]ModelTimeoutStats `json:"by_model"`
}

// ModelTimeoutStats is the per-model slice of TimeoutStatistics.
type ModelTimeoutStats struct {
	Count         int     `db:"count" json:"count"`
	TotalDuration float64 `db:"total_duration" json:"total_duration"`
	AvgDuration   float64 `db:"avg_duration" json:"avg_duration"`
}
