package orders

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eljoodia/eljoodia-erp/internal/directory"
	"github.com/eljoodia/eljoodia-erp/internal/production"
	"github.com/eljoodia/eljoodia-erp/internal/shared"
	"github.com/eljoodia/eljoodia-erp/internal/stock"
)

// ============================================================================
// IN-MEMORY FAKES
// ============================================================================

type itemKey struct{ orderID, itemID int64 }
type levelKey struct{ branchID, productID int64 }

type fakeState struct {
	orders  map[int64]*Order
	history map[int64][]HistoryEntry
	tasks   map[itemKey]*production.Task
	levels  map[levelKey]float64
	ledger  []stock.LedgerEntry
}

func cloneOrder(o Order) Order {
	out := o
	out.Items = append([]Item(nil), o.Items...)
	out.History = append([]HistoryEntry(nil), o.History...)
	return out
}

func (s *fakeState) clone() *fakeState {
	next := &fakeState{
		orders:  make(map[int64]*Order, len(s.orders)),
		history: make(map[int64][]HistoryEntry, len(s.history)),
		tasks:   make(map[itemKey]*production.Task, len(s.tasks)),
		levels:  make(map[levelKey]float64, len(s.levels)),
		ledger:  append([]stock.LedgerEntry(nil), s.ledger...),
	}
	for id, o := range s.orders {
		c := cloneOrder(*o)
		next.orders[id] = &c
	}
	for id, h := range s.history {
		next.history[id] = append([]HistoryEntry(nil), h...)
	}
	for k, t := range s.tasks {
		c := *t
		next.tasks[k] = &c
	}
	for k, v := range s.levels {
		next.levels[k] = v
	}
	return next
}

// fakeRepo implements RepositoryPort with transactional rollback semantics:
// a failing callback leaves the state untouched.
type fakeRepo struct {
	mu    sync.Mutex
	state *fakeState

	nextOrderID int64
	nextItemID  int64
	nextTaskID  int64

	failOn string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{state: &fakeState{
		orders:  make(map[int64]*Order),
		history: make(map[int64][]HistoryEntry),
		tasks:   make(map[itemKey]*production.Task),
		levels:  make(map[levelKey]float64),
	}}
}

func (r *fakeRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	working := r.state.clone()
	tx := &fakeTx{repo: r, state: working}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.state = working
	return nil
}

func (r *fakeRepo) GetByID(ctx context.Context, id int64) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.state.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	out := cloneOrder(*o)
	out.History = append([]HistoryEntry(nil), r.state.history[id]...)
	return out, nil
}

func (r *fakeRepo) NumberExists(ctx context.Context, branchID int64, number string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.state.orders {
		if o.BranchID == branchID && o.Number == number {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) List(ctx context.Context, f ListFilter) ([]Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Order
	for _, o := range r.state.orders {
		if f.BranchID != 0 && o.BranchID != f.BranchID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		out = append(out, cloneOrder(*o))
	}
	return out, nil
}

func (r *fakeRepo) taskByItem(orderID, itemID int64) *production.Task {
	return r.state.tasks[itemKey{orderID, itemID}]
}

type fakeTx struct {
	repo  *fakeRepo
	state *fakeState
}

func (t *fakeTx) fail(step string) error {
	if t.repo.failOn == step {
		return errors.New("injected failure: " + step)
	}
	return nil
}

func (t *fakeTx) GetForUpdate(ctx context.Context, id int64) (Order, error) {
	o, ok := t.state.orders[id]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return cloneOrder(*o), nil
}

func (t *fakeTx) CreateOrder(ctx context.Context, o Order) (int64, error) {
	if err := t.fail("CreateOrder"); err != nil {
		return 0, err
	}
	for _, existing := range t.state.orders {
		if existing.BranchID == o.BranchID && existing.Number == o.Number {
			return 0, ErrDuplicateNumber
		}
	}
	t.repo.nextOrderID++
	o.ID = t.repo.nextOrderID
	o.Items = nil
	t.state.orders[o.ID] = &o
	return o.ID, nil
}

func (t *fakeTx) InsertItem(ctx context.Context, item Item) (int64, error) {
	if err := t.fail("InsertItem"); err != nil {
		return 0, err
	}
	o, ok := t.state.orders[item.OrderID]
	if !ok {
		return 0, ErrOrderNotFound
	}
	t.repo.nextItemID++
	item.ID = t.repo.nextItemID
	o.Items = append(o.Items, item)
	return item.ID, nil
}

func (t *fakeTx) UpdateOrderState(ctx context.Context, o Order) error {
	if err := t.fail("UpdateOrderState"); err != nil {
		return err
	}
	stored, ok := t.state.orders[o.ID]
	if !ok {
		return ErrOrderNotFound
	}
	items := stored.Items
	*stored = cloneOrder(o)
	stored.Items = items
	return nil
}

func (t *fakeTx) UpdateItem(ctx context.Context, item Item) error {
	if err := t.fail("UpdateItem"); err != nil {
		return err
	}
	o, ok := t.state.orders[item.OrderID]
	if !ok {
		return ErrOrderNotFound
	}
	for i := range o.Items {
		if o.Items[i].ID == item.ID {
			o.Items[i] = item
			return nil
		}
	}
	return ErrItemNotFound
}

func (t *fakeTx) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	if err := t.fail("AppendHistory"); err != nil {
		return err
	}
	t.state.history[entry.OrderID] = append(t.state.history[entry.OrderID], entry)
	return nil
}

func (t *fakeTx) Tasks() production.TxStore { return &fakeTasks{tx: t} }
func (t *fakeTx) Stock() stock.TxStore      { return &fakeStock{tx: t} }

type fakeTasks struct {
	tx *fakeTx
}

func (f *fakeTasks) GetForItem(ctx context.Context, orderID, itemID int64) (production.Task, error) {
	task, ok := f.tx.state.tasks[itemKey{orderID, itemID}]
	if !ok {
		return production.Task{}, production.ErrTaskNotFound
	}
	return *task, nil
}

func (f *fakeTasks) Upsert(ctx context.Context, task production.Task) error {
	key := itemKey{task.OrderID, task.ItemID}
	if existing, ok := f.tx.state.tasks[key]; ok {
		task.ID = existing.ID
	} else {
		f.tx.repo.nextTaskID++
		task.ID = f.tx.repo.nextTaskID
	}
	f.tx.state.tasks[key] = &task
	return nil
}

func (f *fakeTasks) SetStatus(ctx context.Context, orderID, itemID int64, status production.TaskStatus) error {
	task, ok := f.tx.state.tasks[itemKey{orderID, itemID}]
	if !ok {
		return production.ErrTaskNotFound
	}
	task.Status = status
	return nil
}

type fakeStock struct {
	tx *fakeTx
}

func (f *fakeStock) Receive(ctx context.Context, mv stock.Movement) error {
	if err := f.tx.fail("StockReceive"); err != nil {
		return err
	}
	if mv.Quantity <= 0 {
		return stock.ErrInvalidQuantity
	}
	f.tx.state.levels[levelKey{mv.BranchID, mv.ProductID}] += mv.Quantity
	f.tx.state.ledger = append(f.tx.state.ledger, stock.LedgerEntry{
		ID:        int64(len(f.tx.state.ledger) + 1),
		BranchID:  mv.BranchID,
		ProductID: mv.ProductID,
		Action:    stock.ActionDelivery,
		Quantity:  mv.Quantity,
		Reference: mv.Reference,
		OrderID:   mv.OrderID,
		CreatedBy: mv.ActorID,
	})
	return nil
}

type fakeDirectory struct {
	products map[int64]directory.Product
	branches map[int64]directory.Branch
	users    map[int64]directory.User
}

func (d *fakeDirectory) GetProducts(ctx context.Context, ids []int64) (map[int64]directory.Product, error) {
	out := make(map[int64]directory.Product)
	for _, id := range ids {
		if p, ok := d.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (d *fakeDirectory) GetBranch(ctx context.Context, id int64) (directory.Branch, error) {
	b, ok := d.branches[id]
	if !ok {
		return directory.Branch{}, directory.ErrBranchNotFound
	}
	return b, nil
}

func (d *fakeDirectory) GetUsers(ctx context.Context, ids []int64) (map[int64]directory.User, error) {
	out := make(map[int64]directory.User)
	for _, id := range ids {
		if u, ok := d.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Publish(ctx context.Context, ev Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) kinds() []EventKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]EventKind, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Kind)
	}
	return out
}

// ============================================================================
// FIXTURE
// ============================================================================

type fixture struct {
	repo     *fakeRepo
	dir      *fakeDirectory
	notifier *recordingNotifier
	service  *Service
}

var (
	adminActor      = shared.Actor{ID: 1, Role: shared.RoleAdmin}
	productionActor = shared.Actor{ID: 2, Role: shared.RoleProduction}
	branchActor     = shared.Actor{ID: 3, Role: shared.RoleBranch, BranchID: 10}
	chefOmar        = shared.Actor{ID: 5, Role: shared.RoleChef}
	chefSara        = shared.Actor{ID: 6, Role: shared.RoleChef}
)

func newFixture() *fixture {
	repo := newFakeRepo()
	dir := &fakeDirectory{
		products: map[int64]directory.Product{
			101: {ID: 101, Name: shared.Text{Ar: "كنافة", En: "Kunafa"}, Price: 15},
			102: {ID: 102, Name: shared.Text{Ar: "بقلاوة", En: "Baklava"}, Price: 10},
			103: {ID: 103, Name: shared.Text{Ar: "معمول", En: "Maamoul"}, Price: 5},
		},
		branches: map[int64]directory.Branch{
			10: {ID: 10, Name: shared.Text{Ar: "فرع الرياض", En: "Riyadh"}},
		},
		users: map[int64]directory.User{
			5: {ID: 5, Username: "chef.omar", Role: shared.RoleChef},
			6: {ID: 6, Username: "chef.sara", Role: shared.RoleChef},
			3: {ID: 3, Username: "riyadh", Role: shared.RoleBranch, BranchID: 10},
		},
	}
	notifier := &recordingNotifier{}
	service := NewService(repo, dir, notifier, nil, nil, slog.Default())
	return &fixture{repo: repo, dir: dir, notifier: notifier, service: service}
}

func (f *fixture) createOrder(t *testing.T, items ...CreateItemInput) Order {
	t.Helper()
	order, err := f.service.Create(context.Background(), branchActor, CreateOrderInput{
		BranchID: 10,
		Number:   "ORD-100",
		Items:    items,
	})
	require.NoError(t, err)
	return order
}

// ============================================================================
// CREATE
// ============================================================================

func TestCreateComputesTotals(t *testing.T) {
	f := newFixture()
	order := f.createOrder(t,
		CreateItemInput{ProductID: 101, Quantity: 2},
		CreateItemInput{ProductID: 102, Quantity: 1},
	)

	assert.Equal(t, StatusPending, order.Status)
	assert.Equal(t, 40.0, order.Total)
	assert.Equal(t, 40.0, order.AdjustedTotal)
	require.Len(t, order.Items, 2)
	assert.Equal(t, ItemPending, order.Items[0].Status)
	assert.Equal(t, []EventKind{EventCreated}, f.notifier.kinds())

	stored, err := f.repo.GetByID(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, stored.History, 1)
	assert.Equal(t, string(StatusPending), stored.History[0].Status)
}

func TestCreateMergesDuplicateProducts(t *testing.T) {
	f := newFixture()
	order := f.createOrder(t,
		CreateItemInput{ProductID: 101, Quantity: 1},
		CreateItemInput{ProductID: 101, Quantity: 1},
		CreateItemInput{ProductID: 102, Quantity: 1},
	)
	require.Len(t, order.Items, 2)
	assert.Equal(t, 2.0, order.Items[0].Quantity)
	assert.Equal(t, 40.0, order.Total)
}

func TestCreateRejectsBadQuantityAndPrice(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.service.Create(ctx, branchActor, CreateOrderInput{
		BranchID: 10,
		Items:    []CreateItemInput{{ProductID: 101, Quantity: 0.1}},
	})
	require.Error(t, err)
	assert.Equal(t, shared.KindValidation, shared.KindOf(err))

	_, err = f.service.Create(ctx, branchActor, CreateOrderInput{
		BranchID: 10,
		Items:    []CreateItemInput{{ProductID: 101, Quantity: 1, Price: 99}},
	})
	require.Error(t, err)
	assert.Equal(t, shared.KindValidation, shared.KindOf(err))
}

func TestCreateDuplicateNumber(t *testing.T) {
	f := newFixture()
	f.createOrder(t, CreateItemInput{ProductID: 101, Quantity: 1})

	_, err := f.service.Create(context.Background(), branchActor, CreateOrderInput{
		BranchID: 10,
		Number:   "ORD-100",
		Items:    []CreateItemInput{{ProductID: 102, Quantity: 1}},
	})
	require.ErrorIs(t, err, ErrDuplicateNumber)
}

func TestCreateBranchScopeEnforced(t *testing.T) {
	f := newFixture()
	_, err := f.service.Create(context.Background(), branchActor, CreateOrderInput{
		BranchID: 99,
		Items:    []CreateItemInput{{ProductID: 101, Quantity: 1}},
	})
	require.ErrorIs(t, err, ErrBranchScope)

	_, err = f.service.Create(context.Background(), chefOmar, CreateOrderInput{
		BranchID: 10,
		Items:    []CreateItemInput{{ProductID: 101, Quantity: 1}},
	})
	require.Error(t, err)
	assert.Equal(t, shared.KindAuthorization, shared.KindOf(err))
}

// ============================================================================
// APPROVE
// ============================================================================

func TestApproveWithPartialRejection(t *testing.T) {
	f := newFixture()
	order := f.createOrder(t,
		CreateItemInput{ProductID: 101, Quantity: 2},
		CreateItemInput{ProductID: 102, Quantity: 1},
	)

	approved, err := f.service.Approve(context.Background(), productionActor, order.ID, ApproveInput{
		Rejections: []ItemRejection{{ItemID: order.Items[1].ID, Reason: "out_of_stock"}},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, approved.Status)
	assert.Equal(t, 30.0, approved.Total)
	assert.Equal(t, 30.0, approved.AdjustedTotal)
	assert.Equal(t, productionActor.ID, approved.ApprovedBy)
	require.NotNil(t, approved.ApprovedAt)
	assert.Contains(t, f.notifier.kinds(), EventApproved)

	// each rejection leaves its own history entry before the approval
	stored, err := f.repo.GetByID(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, stored.History, 3)
	assert.Equal(t, string(ItemRejected), stored.History[1].Status)
	assert.Contains(t, stored.History[1].Notes.En, "Out of Stock")
	assert.Equal(t, string(StatusApproved), stored.History[2].Status)
}

func TestApproveAllRejectedCancels(t *testing.T) {
	f := newFixture()
	order := f.createOrder(t, CreateItemInput{ProductID: 101, Quantity: 1})

	approved, err := f.service.Approve(context.Background(), adminActor, order.ID, ApproveInput{
		Rejections: []ItemRejection{{ItemID: order.Items[0].ID, Reason: "not_available"}},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, approved.Status)
	assert.Equal(t, 0.0, approved.AdjustedTotal)

	// short-circuit: no approval is recorded or announced
	assert.Zero(t, approved.ApprovedBy)
	assert.Nil(t, approved.ApprovedAt)
	assert.NotContains(t, f.notifier.kinds(), EventApproved)

	stored, err := f.repo.GetByID(context.Background(), order.ID)
	require.NoError(t, err)
	statuses := make([]string, 0, len(stored.History))
	for _, h := range stored.History {
		statuses = append(statuses, h.Status)
	}
	assert.Equal(t, []string{"pending", "rejected", "cancelled"}, statuses)
}

func TestApproveGuards(t *testing.T) {
	f := newFixture()
	order := f.createOrder(t, CreateItemInput{ProductID: 101, Quantity: 1})
	ctx := context.Background()

	_, err := f.service.Approve(ctx, branchActor, order.ID, ApproveInput{})
	require.Error(t, err)
	assert.Equal(t, shared.KindAuthorization, shared.KindOf(err))

	_, err = f.service.Approve(ctx, adminActor, order.ID, ApproveInput{
		Rejections: []ItemRejection{{ItemID: order.Items[0].ID, Reason: "bogus"}},
	})
	require.Error(t, err)
	assert.Equal(t, shared.KindValidation, shared.KindOf(err))

	_, err = f.service.Approve(ctx, adminActor, order.ID, ApproveInput{})
	require.NoError(t, err)
	_, err = f.service.Approve(ctx, adminActor, order.ID, ApproveInput{})
	require.Error(t, err)
	assert.Equal(t, shared.KindConflict, shared.KindOf(err))
}

// ============================================================================
// ASSIGN + PROGRESS
// ============================================================================

func approvedOrder(t *testing.T, f *fixture) Order {
	t.Helper()
	order := f.createOrder(t,
		CreateItemInput{ProductID: 101, Quantity: 2},
		CreateItemInput{ProductID: 102, Quantity: 1},
	)
	approved, err := f.service.Approve(context.Background(), productionActor, order.ID, ApproveInput{})
	require.NoError(t, err)
	return approved
}

func TestAssignChefs(t *testing.T) {
	f := newFixture()
	order := approvedOrder(t, f)
	ctx := context.Background()

	assigned, err := f.service.AssignChefs(ctx, productionActor, order.ID, AssignInput{
		Assignments: []Assignment{
			{ItemID: order.Items[0].ID, ChefID: chefOmar.ID},
			{ItemID: order.Items[1].ID, ChefID: chefSara.ID},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, ItemAssigned, assigned.Items[0].Status)
	assert.Equal(t, chefOmar.ID, assigned.Items[0].AssignedTo)
	assert.Equal(t, StatusApproved, assigned.Status)

	task := f.repo.taskByItem(order.ID, order.Items[0].ID)
	require.NotNil(t, task)
	assert.Equal(t, production.TaskPending, task.Status)

	// same chef again is idempotent
	_, err = f.service.AssignChefs(ctx, productionActor, order.ID, AssignInput{
		Assignments: []Assignment{{ItemID: order.Items[0].ID, ChefID: chefOmar.ID}},
	})
	require.NoError(t, err)

	// another chef is a conflict
	_, err = f.service.AssignChefs(ctx, productionActor, order.ID, AssignInput{
		Assignments: []Assignment{{ItemID: order.Items[0].ID, ChefID: chefSara.ID}},
	})
	require.ErrorIs(t, err, production.ErrReassignment)
}

func TestAssignChefsRejectsItems(t *testing.T) {
	f := newFixture()
	order := approvedOrder(t, f) // 2 x 15.00 + 1 x 10.00
	ctx := context.Background()

	assigned, err := f.service.AssignChefs(ctx, productionActor, order.ID, AssignInput{
		Assignments: []Assignment{{ItemID: order.Items[0].ID, ChefID: chefOmar.ID}},
		Rejections:  []ItemRejection{{ItemID: order.Items[1].ID, Reason: "out_of_stock"}},
	})
	require.NoError(t, err)
	assert.Equal(t, ItemAssigned, assigned.Items[0].Status)
	assert.Equal(t, ItemRejected, assigned.Items[1].Status)
	assert.Equal(t, StatusApproved, assigned.Status)
	assert.Equal(t, 30.0, assigned.Total)
	assert.Equal(t, 30.0, assigned.AdjustedTotal)
}

func TestAssignChefsAllRejectedCancels(t *testing.T) {
	f := newFixture()
	order := approvedOrder(t, f)

	assigned, err := f.service.AssignChefs(context.Background(), productionActor, order.ID, AssignInput{
		Rejections: []ItemRejection{
			{ItemID: order.Items[0].ID, Reason: "not_available"},
			{ItemID: order.Items[1].ID, Reason: "not_available"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, assigned.Status)
	assert.Equal(t, 0.0, assigned.AdjustedTotal)
}

func TestAssignChefsRejectsNonChef(t *testing.T) {
	f := newFixture()
	order := approvedOrder(t, f)

	_, err := f.service.AssignChefs(context.Background(), productionActor, order.ID, AssignInput{
		Assignments: []Assignment{{ItemID: order.Items[0].ID, ChefID: 3}},
	})
	require.Error(t, err)
	assert.Equal(t, shared.KindValidation, shared.KindOf(err))
}

func TestItemProgressDrivesOrderStatus(t *testing.T) {
	f := newFixture()
	order := approvedOrder(t, f)
	ctx := context.Background()

	_, err := f.service.AssignChefs(ctx, productionActor, order.ID, AssignInput{
		Assignments: []Assignment{
			{ItemID: order.Items[0].ID, ChefID: chefOmar.ID},
			{ItemID: order.Items[1].ID, ChefID: chefSara.ID},
		},
	})
	require.NoError(t, err)

	// wrong chef cannot touch the task
	_, err = f.service.UpdateItemProgress(ctx, chefSara, order.ID, order.Items[0].ID, ProgressInput{Status: "in_progress"})
	require.Error(t, err)
	assert.Equal(t, shared.KindAuthorization, shared.KindOf(err))

	updated, err := f.service.UpdateItemProgress(ctx, chefOmar, order.ID, order.Items[0].ID, ProgressInput{Status: "in_progress"})
	require.NoError(t, err)
	assert.Equal(t, StatusInProduction, updated.Status)

	updated, err = f.service.UpdateItemProgress(ctx, chefOmar, order.ID, order.Items[0].ID, ProgressInput{Status: "completed"})
	require.NoError(t, err)
	assert.Equal(t, StatusInProduction, updated.Status)

	updated, err = f.service.UpdateItemProgress(ctx, chefSara, order.ID, order.Items[1].ID, ProgressInput{Status: "completed"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, updated.Status)

	task := f.repo.taskByItem(order.ID, order.Items[0].ID)
	require.NotNil(t, task)
	assert.Equal(t, production.TaskCompleted, task.Status)
}

// ============================================================================
// TRANSIT + DELIVERY
// ============================================================================

func completedOrder(t *testing.T, f *fixture) Order {
	t.Helper()
	order := f.createOrder(t,
		CreateItemInput{ProductID: 103, Quantity: 2}, // 2 x 5.00
		CreateItemInput{ProductID: 102, Quantity: 1},
	)
	ctx := context.Background()
	_, err := f.service.Approve(ctx, productionActor, order.ID, ApproveInput{})
	require.NoError(t, err)
	_, err = f.service.AssignChefs(ctx, productionActor, order.ID, AssignInput{
		Assignments: []Assignment{
			{ItemID: order.Items[0].ID, ChefID: chefOmar.ID},
			{ItemID: order.Items[1].ID, ChefID: chefOmar.ID},
		},
	})
	require.NoError(t, err)
	for _, item := range order.Items {
		_, err = f.service.UpdateItemProgress(ctx, chefOmar, order.ID, item.ID, ProgressInput{Status: "completed"})
		require.NoError(t, err)
	}
	out, err := f.repo.GetByID(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, out.Status)
	return out
}

func TestTransitAndDelivery(t *testing.T) {
	f := newFixture()
	order := completedOrder(t, f)
	ctx := context.Background()

	inTransit, err := f.service.StartTransit(ctx, productionActor, order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInTransit, inTransit.Status)
	require.NotNil(t, inTransit.TransitStartedAt)

	// only the first item arrives; the second was not received
	delivered, err := f.service.ConfirmDelivery(ctx, branchActor, order.ID, ConfirmDeliveryInput{
		Received: []ReceivedItem{{ItemID: order.Items[0].ID, Quantity: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, delivered.Status)
	assert.Equal(t, branchActor.ID, delivered.ConfirmedBy)
	assert.Equal(t, 10.0, delivered.AdjustedTotal)
	assert.Equal(t, ItemRejected, delivered.Items[1].Status)
	assert.Equal(t, ReasonUnspecified, delivered.Items[1].RejectReason)

	// stock moved exactly once for the received item
	assert.Equal(t, 2.0, f.repo.state.levels[levelKey{10, 103}])
	require.Len(t, f.repo.state.ledger, 1)
	assert.Equal(t, order.ID, f.repo.state.ledger[0].OrderID)
	assert.Equal(t, stock.ActionDelivery, f.repo.state.ledger[0].Action)

	// double confirm is a conflict and must not move stock again
	_, err = f.service.ConfirmDelivery(ctx, branchActor, order.ID, ConfirmDeliveryInput{
		Received: []ReceivedItem{{ItemID: order.Items[0].ID, Quantity: 2}},
	})
	require.ErrorIs(t, err, ErrAlreadyDelivered)
	assert.Equal(t, 2.0, f.repo.state.levels[levelKey{10, 103}])
	require.Len(t, f.repo.state.ledger, 1)
}

func TestConfirmDeliveryPartialReceipt(t *testing.T) {
	f := newFixture()
	order := completedOrder(t, f)
	ctx := context.Background()
	_, err := f.service.StartTransit(ctx, productionActor, order.ID)
	require.NoError(t, err)

	// one of the two requested units arrives; adjusted follows what landed
	delivered, err := f.service.ConfirmDelivery(ctx, branchActor, order.ID, ConfirmDeliveryInput{
		Received: []ReceivedItem{{ItemID: order.Items[0].ID, Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, delivered.Items[0].ReceivedQuantity)
	assert.Equal(t, 5.0, delivered.AdjustedTotal)
	assert.Equal(t, 1.0, f.repo.state.levels[levelKey{10, 103}])
}

func TestConfirmDeliveryAllRejectedCancels(t *testing.T) {
	f := newFixture()
	order := completedOrder(t, f)
	ctx := context.Background()
	_, err := f.service.StartTransit(ctx, productionActor, order.ID)
	require.NoError(t, err)
	f.notifier.events = nil

	// nothing arrived: the order cancels instead of delivering
	cancelled, err := f.service.ConfirmDelivery(ctx, branchActor, order.ID, ConfirmDeliveryInput{})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Nil(t, cancelled.DeliveredAt)
	assert.Zero(t, cancelled.ConfirmedBy)
	assert.Equal(t, 0.0, cancelled.AdjustedTotal)

	assert.Empty(t, f.repo.state.ledger)
	assert.Equal(t, 0.0, f.repo.state.levels[levelKey{10, 103}])

	kinds := f.notifier.kinds()
	assert.Contains(t, kinds, EventStatusChange)
	assert.NotContains(t, kinds, EventDelivered)

	stored, err := f.repo.GetByID(ctx, order.ID)
	require.NoError(t, err)
	last := stored.History[len(stored.History)-1]
	assert.Equal(t, string(StatusCancelled), last.Status)
}

func TestConfirmDeliveryWrongBranch(t *testing.T) {
	f := newFixture()
	order := completedOrder(t, f)
	ctx := context.Background()
	_, err := f.service.StartTransit(ctx, productionActor, order.ID)
	require.NoError(t, err)

	other := shared.Actor{ID: 9, Role: shared.RoleBranch, BranchID: 77}
	_, err = f.service.ConfirmDelivery(ctx, other, order.ID, ConfirmDeliveryInput{})
	require.ErrorIs(t, err, ErrBranchScope)
}

func TestConfirmDeliveryRequiresTransit(t *testing.T) {
	f := newFixture()
	order := completedOrder(t, f)

	_, err := f.service.ConfirmDelivery(context.Background(), branchActor, order.ID, ConfirmDeliveryInput{})
	require.Error(t, err)
	assert.Equal(t, shared.KindConflict, shared.KindOf(err))
}

// ============================================================================
// MANUAL STATUS + ATOMICITY
// ============================================================================

func TestUpdateStatusGuards(t *testing.T) {
	f := newFixture()
	order := f.createOrder(t, CreateItemInput{ProductID: 101, Quantity: 1})
	ctx := context.Background()

	_, err := f.service.UpdateStatus(ctx, adminActor, order.ID, UpdateStatusInput{Status: "delivered"})
	require.Error(t, err)
	assert.Equal(t, shared.KindValidation, shared.KindOf(err))

	updated, err := f.service.UpdateStatus(ctx, adminActor, order.ID, UpdateStatusInput{Status: "cancelled"})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, updated.Status)

	_, err = f.service.UpdateStatus(ctx, adminActor, order.ID, UpdateStatusInput{Status: "approved"})
	require.Error(t, err)
	assert.Equal(t, shared.KindConflict, shared.KindOf(err))
}

func TestUpdateStatusAllRejectedForcesCancellation(t *testing.T) {
	f := newFixture()
	order := f.createOrder(t, CreateItemInput{ProductID: 101, Quantity: 1})
	ctx := context.Background()

	updated, err := f.service.UpdateStatus(ctx, adminActor, order.ID, UpdateStatusInput{
		Status: "approved",
		Rejections: []ItemRejection{
			{ItemID: order.Items[0].ID, Reason: "out_of_stock"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, updated.Status)
	assert.Equal(t, 0.0, updated.AdjustedTotal)

	stored, err := f.repo.GetByID(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, stored.History, 4)
	assert.Equal(t, string(ItemRejected), stored.History[1].Status)
	assert.Equal(t, string(StatusApproved), stored.History[2].Status)
	assert.Equal(t, string(StatusCancelled), stored.History[3].Status)
}

func TestStartTransitProductionOnly(t *testing.T) {
	f := newFixture()
	order := completedOrder(t, f)

	_, err := f.service.StartTransit(context.Background(), adminActor, order.ID)
	require.Error(t, err)
	assert.Equal(t, shared.KindAuthorization, shared.KindOf(err))
}

func TestFailedTransactionLeavesNoTrace(t *testing.T) {
	f := newFixture()
	order := completedOrder(t, f)
	ctx := context.Background()
	_, err := f.service.StartTransit(ctx, productionActor, order.ID)
	require.NoError(t, err)

	f.notifier.events = nil
	f.repo.failOn = "UpdateOrderState"

	_, err = f.service.ConfirmDelivery(ctx, branchActor, order.ID, ConfirmDeliveryInput{
		Received: []ReceivedItem{{ItemID: order.Items[0].ID, Quantity: 2}},
	})
	require.Error(t, err)

	// nothing committed: no stock, no ledger, status unchanged, no events
	assert.Empty(t, f.repo.state.ledger)
	assert.Equal(t, 0.0, f.repo.state.levels[levelKey{10, 103}])
	stored, err := f.repo.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInTransit, stored.Status)
	assert.Equal(t, ItemCompleted, stored.Items[1].Status)
	assert.Empty(t, f.notifier.kinds())
}

func TestGetBranchScoped(t *testing.T) {
	f := newFixture()
	order := f.createOrder(t, CreateItemInput{ProductID: 101, Quantity: 1})

	other := shared.Actor{ID: 9, Role: shared.RoleBranch, BranchID: 77}
	_, err := f.service.Get(context.Background(), other, order.ID)
	require.ErrorIs(t, err, ErrBranchScope)

	got, err := f.service.Get(context.Background(), adminActor, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)
}
