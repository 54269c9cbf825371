package repository

import (
	"context"
	"time"

	"github.com/aman-churiwal/chain-gateway/internal/models"
	"github.com/aman-churiwal/chain-gateway/internal/storage"
)

type RequestLogRepository struct {
	db *storage.Postgres
}

func NewRequestLogRepository(db *storage.Postgres) *RequestLogRepository {
	return &RequestLogRepository{db: db}
}

// Inserts multiple request logs (for batch insertion)
func (r *RequestLogRepository) CreateBatch(ctx context.Context, logs []*models.RequestLog) error {
	if len(logs) == 0 {
		return nil
	}

	return r.db.DB.WithContext(ctx).Create(&logs).Error
}

// LogFilter narrows a log query. Zero values match everything.
type LogFilter struct {
	From       time.Time
	To         time.Time
	Tier       string
	StatusCode int
	Limit      int
	Offset     int
}

// Retrieves logs newest first
func (r *RequestLogRepository) Find(ctx context.Context, f LogFilter) ([]models.RequestLog, error) {
	var logs []models.RequestLog

	q := r.db.DB.WithContext(ctx).
		Where("timestamp BETWEEN ? AND ?", f.From, f.To)
	if f.Tier != "" {
		q = q.Where("tier = ?", f.Tier)
	}
	if f.StatusCode != 0 {
		q = q.Where("status_code = ?", f.StatusCode)
	}

	err := q.Order("timestamp DESC").
		Limit(f.Limit).
		Offset(f.Offset).
		Find(&logs).Error

	return logs, err
}

// Counts rate-limited responses in a time range
func (r *RequestLogRepository) CountRejected(ctx context.Context, from, to time.Time) (int64, error) {
	var count int64

	err := r.db.DB.WithContext(ctx).
		Model(&models.RequestLog{}).
		Where("status_code = ? AND timestamp BETWEEN ? AND ?", 429, from, to).
		Count(&count).Error

	return count, err
}

// Deletes logs older than the specified time
func (r *RequestLogRepository) DeleteOldLogs(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("timestamp < ?", before).
		Delete(&models.RequestLog{})

	return result.RowsAffected, result.Error
}
