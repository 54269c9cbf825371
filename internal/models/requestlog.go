package models

import (
	"time"

	"github.com/google/uuid"
)

// Represents one proxied or rejected request
type RequestLog struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	RequestID      uuid.UUID `gorm:"type:uuid;index" json:"request_id"`
	Timestamp      time.Time `gorm:"index" json:"timestamp"`
	Tier           string    `gorm:"index" json:"tier"`
	Method         string    `json:"method"`
	Path           string    `gorm:"index" json:"path"`
	StatusCode     int       `gorm:"index" json:"status_code"`
	ResponseTimeMs int       `json:"response_time_ms"`
	IPAddress      string    `json:"ip_address"`
	UserAgent      string    `json:"user_agent"`
	Backend        string    `json:"backend,omitempty"`
	BodyBytes      int64     `json:"body_bytes"`
}

func (RequestLog) TableName() string {
	return "request_logs"
}
