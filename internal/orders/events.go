package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eljoodia/eljoodia-erp/internal/shared"
)

// EventKind names the lifecycle events published after commit.
type EventKind string

const (
	EventCreated      EventKind = "order_created"
	EventApproved     EventKind = "order_approved"
	EventTaskAssigned EventKind = "task_assigned"
	EventStatusChange EventKind = "order_status_changed"
	EventInTransit    EventKind = "order_in_transit"
	EventDelivered    EventKind = "order_delivered"
	EventItemProgress EventKind = "item_status_changed"
)

// eventNamespace seeds the deterministic event keys.
var eventNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("eljoodia/orders"))

// Event is one lifecycle notification. Recipients is resolved by the service
// before publishing; Durable marks events that must also be persisted as
// per-recipient notification rows.
type Event struct {
	Kind       EventKind
	OrderID    int64
	Number     string
	BranchID   int64
	Status     Status
	Message    shared.Text
	ActorID    int64
	ChefIDs    []int64
	Durable    bool
	OccurredAt time.Time
}

// Key returns a deterministic idempotency key so retried publishes of the
// same logical event dedupe at the consumer.
func (e Event) Key() string {
	name := fmt.Sprintf("order:%d:%s:%s", e.OrderID, e.Kind, e.Status)
	return uuid.NewSHA1(eventNamespace, []byte(name)).String()
}

// Notifier fans an event out to its audiences. Implementations must be safe
// to call after the transaction committed; errors are logged, never bubbled
// back into the lifecycle operation.
type Notifier interface {
	Publish(ctx context.Context, ev Event) error
}

// NopNotifier discards events. Used in tests and when fan-out is disabled.
type NopNotifier struct{}

func (NopNotifier) Publish(context.Context, Event) error { return nil }
