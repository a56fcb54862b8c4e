package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eljoodia/eljoodia-erp/internal/orders"
	"github.com/eljoodia/eljoodia-erp/internal/shared"
	"github.com/eljoodia/eljoodia-erp/jobs"
)

type fakeDir struct {
	byRole   map[shared.Role][]int64
	byBranch map[int64][]int64
}

func (d *fakeDir) ListUserIDsByRole(ctx context.Context, role shared.Role) ([]int64, error) {
	return d.byRole[role], nil
}

func (d *fakeDir) ListUserIDsByBranch(ctx context.Context, branchID int64) ([]int64, error) {
	return d.byBranch[branchID], nil
}

type fakeQueue struct {
	tasks []*asynq.Task
}

func (q *fakeQueue) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: "test-task"}, nil
}

func TestRooms(t *testing.T) {
	// every lifecycle kind reaches admin, production, and the owning branch
	for _, kind := range []orders.EventKind{
		orders.EventCreated, orders.EventApproved, orders.EventInTransit,
		orders.EventDelivered, orders.EventItemProgress, orders.EventStatusChange,
	} {
		rooms := Rooms(orders.Event{Kind: kind, BranchID: 10})
		assert.ElementsMatchf(t, []string{RoomAdmin, RoomProduction, "branch-10"}, rooms, "%s", kind)
	}

	ev := orders.Event{Kind: orders.EventTaskAssigned, BranchID: 10, ChefIDs: []int64{5, 6}}
	rooms := Rooms(ev)
	assert.ElementsMatch(t, []string{RoomAdmin, RoomProduction, "branch-10", "chef-5", "chef-6"}, rooms)
}

func TestRecipientsDeduped(t *testing.T) {
	dir := &fakeDir{
		byRole: map[shared.Role][]int64{
			shared.RoleAdmin:      {1, 2},
			shared.RoleProduction: {2, 3},
		},
		byBranch: map[int64][]int64{10: {4}},
	}
	ev := orders.Event{Kind: orders.EventDelivered, BranchID: 10}
	ids, err := Recipients(context.Background(), dir, ev)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2, 3, 4}, ids)
}

func newTestNotifier(t *testing.T, queue Enqueuer, dir DirectoryPort) (*Notifier, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewNotifier(client, queue, dir, nil, slog.Default()), client
}

func TestPublishBroadcastsToRooms(t *testing.T) {
	notifier, client := newTestNotifier(t, nil, &fakeDir{})
	ctx := context.Background()

	sub := client.Subscribe(ctx, Channel(RoomAdmin))
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	ev := orders.Event{
		Kind:       orders.EventCreated,
		OrderID:    42,
		Number:     "ORD-42",
		BranchID:   10,
		Status:     orders.StatusPending,
		Message:    shared.Text{Ar: "طلب جديد", En: "New order"},
		OccurredAt: time.Now(),
	}
	require.NoError(t, notifier.Publish(ctx, ev))

	msg, err := sub.ReceiveTimeout(ctx, 2*time.Second)
	require.NoError(t, err)
	payload, ok := msg.(*redis.Message)
	require.True(t, ok)

	var wire struct {
		EventID string `json:"eventId"`
		Kind    string `json:"kind"`
		OrderID int64  `json:"orderId"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal([]byte(payload.Payload), &wire))
	assert.Equal(t, ev.Key(), wire.EventID)
	assert.Equal(t, string(orders.EventCreated), wire.Kind)
	assert.Equal(t, int64(42), wire.OrderID)
	assert.Equal(t, "طلب جديد", wire.Message)
}

func TestPublishQueuesDurableDelivery(t *testing.T) {
	queue := &fakeQueue{}
	dir := &fakeDir{
		byRole: map[shared.Role][]int64{
			shared.RoleAdmin:      {1},
			shared.RoleProduction: {2},
		},
	}
	notifier, _ := newTestNotifier(t, queue, dir)

	ev := orders.Event{
		Kind:     orders.EventCreated,
		OrderID:  42,
		Number:   "ORD-42",
		BranchID: 10,
		Durable:  true,
		Message:  shared.Text{Ar: "طلب جديد", En: "New order"},
	}
	require.NoError(t, notifier.Publish(context.Background(), ev))

	require.Len(t, queue.tasks, 1)
	assert.Equal(t, jobs.TaskTypeNotificationDeliver, queue.tasks[0].Type())

	var payload jobs.NotificationDeliverPayload
	require.NoError(t, json.Unmarshal(queue.tasks[0].Payload(), &payload))
	assert.Equal(t, ev.Key(), payload.EventID)
	assert.ElementsMatch(t, []int64{1, 2}, payload.UserIDs)
	assert.Equal(t, "New order", payload.MessageEn)
}

func TestPublishSkipsQueueForTransientEvents(t *testing.T) {
	queue := &fakeQueue{}
	notifier, _ := newTestNotifier(t, queue, &fakeDir{})

	ev := orders.Event{Kind: orders.EventItemProgress, OrderID: 1, BranchID: 10}
	require.NoError(t, notifier.Publish(context.Background(), ev))
	assert.Empty(t, queue.tasks)
}
