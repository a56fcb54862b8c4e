package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eljoodia/eljoodia-erp/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeNotificationDeliver persists one event as per-user notification rows.
	TaskTypeNotificationDeliver = "notify:deliver"
	// TaskTypeNotificationCleanup prunes old notifications and idempotency keys.
	TaskTypeNotificationCleanup = "notify:cleanup"
)

// NotificationDeliverPayload carries one committed event to the worker.
type NotificationDeliverPayload struct {
	EventID   string    `json:"eventId"`
	Kind      string    `json:"kind"`
	OrderID   int64     `json:"orderId"`
	Number    string    `json:"number"`
	UserIDs   []int64   `json:"userIds"`
	MessageAr string    `json:"messageAr"`
	MessageEn string    `json:"messageEn"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewNotificationDeliverTask constructs an Asynq task.
func NewNotificationDeliverTask(payload NotificationDeliverPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeNotificationDeliver, data, asynq.MaxRetry(5)), nil
}

// NewNotificationCleanupTask constructs the periodic cleanup task.
func NewNotificationCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskTypeNotificationCleanup, nil)
}

// NotificationWriter processes notification tasks against PostgreSQL.
type NotificationWriter struct {
	pool      *pgxpool.Pool
	keys      *shared.IdempotencyStore
	retention time.Duration
	logger    *slog.Logger
}

// NewNotificationWriter constructs the task handler set.
func NewNotificationWriter(pool *pgxpool.Pool, retention time.Duration, logger *slog.Logger) *NotificationWriter {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &NotificationWriter{
		pool:      pool,
		keys:      shared.NewIdempotencyStore(pool),
		retention: retention,
		logger:    logger,
	}
}

// HandleDeliver writes one notification row per recipient. The event id
// dedupes retried deliveries of the same event.
func (w *NotificationWriter) HandleDeliver(ctx context.Context, t *asynq.Task) error {
	var payload NotificationDeliverPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.EventID == "" || len(payload.UserIDs) == 0 {
		return asynq.SkipRetry
	}

	if err := w.keys.CheckAndInsert(ctx, payload.EventID, "notify"); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			w.logger.Debug("duplicate event delivery skipped", "event_id", payload.EventID)
			return nil
		}
		return err
	}

	at := payload.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	for _, userID := range payload.UserIDs {
		_, err := w.pool.Exec(ctx, `
			INSERT INTO notifications (user_id, event_id, kind, order_id, order_number, message, message_en, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (user_id, event_id) DO NOTHING`,
			userID, payload.EventID, payload.Kind, payload.OrderID, payload.Number,
			payload.MessageAr, payload.MessageEn, at)
		if err != nil {
			return err
		}
	}
	return nil
}

// HandleCleanup removes notifications and idempotency keys past retention.
func (w *NotificationWriter) HandleCleanup(ctx context.Context, _ *asynq.Task) error {
	tag, err := w.pool.Exec(ctx,
		`DELETE FROM notifications WHERE created_at < $1`, time.Now().Add(-w.retention))
	if err != nil {
		return err
	}
	if err := w.keys.Cleanup(ctx, w.retention); err != nil {
		return err
	}
	w.logger.Info("notification cleanup done", "removed", tag.RowsAffected())
	return nil
}
