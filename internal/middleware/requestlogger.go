package middleware

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/aman-churiwal/chain-gateway/internal/access"
	"github.com/aman-churiwal/chain-gateway/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	logBatchSize  = 100
	logFlushEvery = 5 * time.Second
)

// LogSink persists request logs in batches.
type LogSink interface {
	CreateBatch(ctx context.Context, logs []*models.RequestLog) error
}

// RequestLogWriter queues request logs and writes them from a background
// goroutine so persistence never delays a response.
type RequestLogWriter struct {
	sink    LogSink
	entries chan *models.RequestLog
	dropped atomic.Uint64
	logger  *slog.Logger
}

func NewRequestLogWriter(sink LogSink, bufferSize int, logger *slog.Logger) *RequestLogWriter {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RequestLogWriter{
		sink:    sink,
		entries: make(chan *models.RequestLog, bufferSize),
		logger:  logger,
	}
}

// Run batches queued entries until ctx is cancelled. A batch is written when
// it is full or every logFlushEvery, whichever comes first.
func (w *RequestLogWriter) Run(ctx context.Context) {
	batch := make([]*models.RequestLog, 0, logBatchSize)
	ticker := time.NewTicker(logFlushEvery)
	defer ticker.Stop()

	for {
		select {
		case entry := <-w.entries:
			batch = append(batch, entry)
			if len(batch) >= logBatchSize {
				w.flush(ctx, batch)
				batch = make([]*models.RequestLog, 0, logBatchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(ctx, batch)
				batch = make([]*models.RequestLog, 0, logBatchSize)
			}
		case <-ctx.Done():
		drain:
			for {
				select {
				case entry := <-w.entries:
					batch = append(batch, entry)
				default:
					break drain
				}
			}
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			w.flush(flushCtx, batch)
			cancel()
			return
		}
	}
}

func (w *RequestLogWriter) flush(ctx context.Context, batch []*models.RequestLog) {
	if len(batch) == 0 {
		return
	}
	if err := w.sink.CreateBatch(ctx, batch); err != nil {
		w.logger.Error("failed to insert request logs",
			slog.Int("count", len(batch)),
			slog.String("error", err.Error()),
		)
	}
}

// Dropped is the number of entries discarded because the queue was full.
func (w *RequestLogWriter) Dropped() uint64 {
	return w.dropped.Load()
}

// Middleware records every request, admitted or rejected.
func (w *RequestLogWriter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		requestID, _ := uuid.Parse(c.GetString(RequestIDKey))
		entry := &models.RequestLog{
			RequestID:      requestID,
			Timestamp:      start,
			Tier:           access.TierFromContext(c.Request.Context()).String(),
			Method:         c.Request.Method,
			Path:           c.Request.URL.Path,
			StatusCode:     c.Writer.Status(),
			ResponseTimeMs: int(time.Since(start).Milliseconds()),
			IPAddress:      c.ClientIP(),
			UserAgent:      c.Request.UserAgent(),
			Backend:        c.Writer.Header().Get(BackendHeader),
			BodyBytes:      max(c.Request.ContentLength, 0),
		}

		select {
		case w.entries <- entry:
		default:
			w.dropped.Add(1)
		}
	}
}

// BackendHeader names the upstream target that served a proxied request.
const BackendHeader = "X-Backend-Server"
