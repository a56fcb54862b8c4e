package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/eljoodia/eljoodia-erp/internal/observability"
	"github.com/eljoodia/eljoodia-erp/internal/orders"
	"github.com/eljoodia/eljoodia-erp/jobs"
)

// ChannelPrefix namespaces the pub/sub channels carrying live events.
const ChannelPrefix = "events:"

// Channel returns the pub/sub channel of one room.
func Channel(room string) string { return ChannelPrefix + room }

// Enqueuer submits durable delivery tasks. *asynq.Client satisfies it.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// wireEvent is the JSON shape broadcast to connected clients.
type wireEvent struct {
	EventID    string    `json:"eventId"`
	Kind       string    `json:"kind"`
	OrderID    int64     `json:"orderId"`
	Number     string    `json:"number"`
	BranchID   int64     `json:"branchId"`
	Status     string    `json:"status"`
	MessageAr  string    `json:"message"`
	MessageEn  string    `json:"messageEn"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Notifier broadcasts events over redis pub/sub and queues durable
// notifications for events flagged as such. It is only invoked after the
// lifecycle transaction committed.
type Notifier struct {
	rdb     *redis.Client
	queue   Enqueuer
	dir     DirectoryPort
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewNotifier constructs a notifier. queue may be nil to disable durable
// delivery.
func NewNotifier(rdb *redis.Client, queue Enqueuer, dir DirectoryPort, metrics *observability.Metrics, logger *slog.Logger) *Notifier {
	return &Notifier{rdb: rdb, queue: queue, dir: dir, metrics: metrics, logger: logger}
}

var _ orders.Notifier = (*Notifier)(nil)

// Publish sends the event to every room in parallel, then queues the durable
// delivery when the event requires one. Partial failures are reported but do
// not stop the remaining rooms.
func (n *Notifier) Publish(ctx context.Context, ev orders.Event) error {
	payload := wireEvent{
		EventID:    ev.Key(),
		Kind:       string(ev.Kind),
		OrderID:    ev.OrderID,
		Number:     ev.Number,
		BranchID:   ev.BranchID,
		Status:     string(ev.Status),
		MessageAr:  ev.Message.Ar,
		MessageEn:  ev.Message.En,
		OccurredAt: ev.OccurredAt,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, room := range Rooms(ev) {
		channel := Channel(room)
		g.Go(func() error {
			return n.rdb.Publish(gctx, channel, data).Err()
		})
	}
	if err := g.Wait(); err != nil {
		n.observe(ev, "failed")
		return err
	}

	if ev.Durable && n.queue != nil {
		if err := n.enqueueDurable(ctx, ev); err != nil {
			n.observe(ev, "failed")
			return err
		}
	}
	n.observe(ev, "published")
	return nil
}

func (n *Notifier) enqueueDurable(ctx context.Context, ev orders.Event) error {
	recipients, err := Recipients(ctx, n.dir, ev)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		return nil
	}
	task, err := jobs.NewNotificationDeliverTask(jobs.NotificationDeliverPayload{
		EventID:   ev.Key(),
		Kind:      string(ev.Kind),
		OrderID:   ev.OrderID,
		Number:    ev.Number,
		UserIDs:   recipients,
		MessageAr: ev.Message.Ar,
		MessageEn: ev.Message.En,
		CreatedAt: ev.OccurredAt,
	})
	if err != nil {
		return err
	}
	info, err := n.queue.EnqueueContext(ctx, task, asynq.Queue(jobs.QueueDefault))
	if err != nil {
		return err
	}
	n.logger.Debug("durable notification queued",
		"task_id", info.ID, "event_id", ev.Key(), "recipients", len(recipients))
	return nil
}

func (n *Notifier) observe(ev orders.Event, outcome string) {
	if n.metrics != nil {
		n.metrics.ObserveEvent(string(ev.Kind), outcome)
	}
}
