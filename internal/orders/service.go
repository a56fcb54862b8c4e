package orders

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/eljoodia/eljoodia-erp/internal/directory"
	"github.com/eljoodia/eljoodia-erp/internal/observability"
	"github.com/eljoodia/eljoodia-erp/internal/production"
	"github.com/eljoodia/eljoodia-erp/internal/shared"
	"github.com/eljoodia/eljoodia-erp/internal/stock"
)

// Directory resolves catalog and identity lookups the lifecycle depends on.
type Directory interface {
	GetProducts(ctx context.Context, ids []int64) (map[int64]directory.Product, error)
	GetBranch(ctx context.Context, id int64) (directory.Branch, error)
	GetUsers(ctx context.Context, ids []int64) (map[int64]directory.User, error)
}

// Auditor records operation audit trails outside the lifecycle transaction.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates order lifecycle operations. Every mutation runs inside
// one repository transaction; events and audit records go out only after the
// transaction committed.
type Service struct {
	repo     RepositoryPort
	dir      Directory
	notifier Notifier
	audit    Auditor
	metrics  *observability.Metrics
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService constructs the order lifecycle service.
func NewService(repo RepositoryPort, dir Directory, notifier Notifier, audit Auditor, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Service{
		repo:     repo,
		dir:      dir,
		notifier: notifier,
		audit:    audit,
		metrics:  metrics,
		validate: validator.New(),
		logger:   logger,
	}
}

var errInvalidPayload = shared.E(shared.KindValidation,
	"بيانات الطلب غير صالحة", "Invalid request payload")

func (s *Service) validateInput(in any) error {
	if err := s.validate.Struct(in); err != nil {
		return shared.Wrap(shared.KindValidation, err,
			errInvalidPayload.Text.Ar, errInvalidPayload.Text.En)
	}
	return nil
}

// rejectItem marks one item rejected and records it in the status history
// with the bilingual reason text.
func rejectItem(ctx context.Context, tx TxRepository, actorID int64, item *Item, reason RejectReason) error {
	item.Status = ItemRejected
	item.RejectReason = reason
	if err := tx.UpdateItem(ctx, *item); err != nil {
		return err
	}
	text := reason.Text()
	return tx.AppendHistory(ctx, HistoryEntry{
		OrderID:   item.OrderID,
		Status:    string(ItemRejected),
		ChangedBy: actorID,
		Notes: shared.Text{
			Ar: fmt.Sprintf("رفض عنصر: %s", text.Ar),
			En: fmt.Sprintf("Item rejected: %s", text.En),
		},
	})
}

// applyRejections marks the listed items rejected with their reason codes.
// Callers recalculate totals and re-derive the order status afterwards.
func applyRejections(ctx context.Context, tx TxRepository, actorID int64, o *Order, rejections []ItemRejection) error {
	for _, rej := range rejections {
		item := o.ItemByID(rej.ItemID)
		if item == nil {
			return ErrItemNotFound
		}
		reason := RejectReason(rej.Reason)
		if reason == ReasonNone || !reason.IsValid() {
			return shared.E(shared.KindValidation,
				"سبب الرفض غير صالح", "Invalid rejection reason")
		}
		if err := rejectItem(ctx, tx, actorID, item, reason); err != nil {
			return err
		}
	}
	return nil
}

// Create registers a new order in pending state. Branch users create for
// their own branch; admins pick the branch explicitly.
func (s *Service) Create(ctx context.Context, actor shared.Actor, in CreateOrderInput) (Order, error) {
	if !actor.HasRole(shared.RoleAdmin, shared.RoleBranch) {
		return Order{}, shared.E(shared.KindAuthorization,
			"غير مخول بإنشاء الطلبات", "Not authorized to create orders")
	}
	if actor.Role == shared.RoleBranch {
		if in.BranchID != 0 && in.BranchID != actor.BranchID {
			return Order{}, ErrBranchScope
		}
		in.BranchID = actor.BranchID
	}
	if err := s.validateInput(in); err != nil {
		return Order{}, err
	}
	branch, err := s.dir.GetBranch(ctx, in.BranchID)
	if err != nil {
		return Order{}, err
	}

	items, err := s.buildItems(ctx, in.Items)
	if err != nil {
		return Order{}, err
	}

	number := in.Number
	if number == "" {
		number = fmt.Sprintf("ORD-%d-%d", in.BranchID, time.Now().UnixMilli())
	}
	if exists, err := s.repo.NumberExists(ctx, in.BranchID, number); err != nil {
		return Order{}, err
	} else if exists {
		return Order{}, ErrDuplicateNumber
	}

	priority := Priority(in.Priority)
	if priority == "" {
		priority = PriorityMedium
	}
	if !priority.IsValid() {
		return Order{}, shared.E(shared.KindValidation,
			"أولوية غير صالحة", "Invalid priority")
	}

	total, adjusted := Recalculate(items)
	order := Order{
		Number:              number,
		BranchID:            branch.ID,
		Total:               total,
		AdjustedTotal:       adjusted,
		Status:              StatusPending,
		Notes:               shared.Text{Ar: in.Notes, En: in.NotesEn},
		Priority:            priority,
		RequestedDeliveryAt: in.RequestedDeliveryAt,
		CreatedBy:           actor.ID,
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreateOrder(ctx, order)
		if err != nil {
			return err
		}
		order.ID = id
		for i := range items {
			items[i].OrderID = id
			itemID, err := tx.InsertItem(ctx, items[i])
			if err != nil {
				return err
			}
			items[i].ID = itemID
		}
		return tx.AppendHistory(ctx, HistoryEntry{
			OrderID:   id,
			Status:    string(StatusPending),
			ChangedBy: actor.ID,
			Notes:     shared.Text{Ar: "تم إنشاء الطلب", En: "Order created"},
		})
	})
	if err != nil {
		return Order{}, err
	}
	order.Items = items

	s.recordAudit(ctx, actor, "order.create", order.ID, map[string]any{
		"number": order.Number, "branch_id": order.BranchID, "total": order.Total,
	})
	s.publish(ctx, Event{
		Kind:     EventCreated,
		OrderID:  order.ID,
		Number:   order.Number,
		BranchID: order.BranchID,
		Status:   order.Status,
		ActorID:  actor.ID,
		Durable:  true,
		Message: shared.Text{
			Ar: fmt.Sprintf("طلب جديد رقم %s من فرع %s", order.Number, branch.Name.Ar),
			En: fmt.Sprintf("New order %s from branch %s", order.Number, branch.Name.En),
		},
	})
	return order, nil
}

// buildItems merges duplicate product lines, resolves catalog prices and
// applies the quantity floor.
func (s *Service) buildItems(ctx context.Context, lines []CreateItemInput) ([]Item, error) {
	merged := make([]CreateItemInput, 0, len(lines))
	index := make(map[int64]int, len(lines))
	for _, line := range lines {
		if at, ok := index[line.ProductID]; ok {
			merged[at].Quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(merged)
		merged = append(merged, line)
	}

	ids := make([]int64, 0, len(merged))
	for _, line := range merged {
		ids = append(ids, line.ProductID)
	}
	products, err := s.dir.GetProducts(ctx, ids)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(merged))
	for _, line := range merged {
		product, ok := products[line.ProductID]
		if !ok {
			return nil, directory.ErrProductNotFound
		}
		if line.Quantity < minQuantity {
			return nil, shared.E(shared.KindValidation,
				fmt.Sprintf("الكمية يجب ألا تقل عن %.2f", minQuantity),
				fmt.Sprintf("Quantity must be at least %.2f", minQuantity))
		}
		if line.Price != 0 && line.Price != product.Price {
			return nil, shared.E(shared.KindValidation,
				fmt.Sprintf("سعر المنتج %s لا يطابق الكتالوج", product.Name.Ar),
				fmt.Sprintf("Price for product %s does not match the catalog", product.Name.En))
		}
		items = append(items, Item{
			ProductID: product.ID,
			Quantity:  line.Quantity,
			Price:     product.Price,
			Status:    ItemPending,
		})
	}
	return items, nil
}

const minQuantity = 0.25

// Approve moves a pending order to approved, optionally rejecting items.
// When every item is rejected the order derives straight to cancelled.
func (s *Service) Approve(ctx context.Context, actor shared.Actor, orderID int64, in ApproveInput) (Order, error) {
	if !actor.HasRole(shared.RoleAdmin, shared.RoleProduction) {
		return Order{}, shared.E(shared.KindAuthorization,
			"غير مخول باعتماد الطلبات", "Not authorized to approve orders")
	}
	var (
		order  Order
		events []Event
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o, err := tx.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := GuardTransition(o.Status, StatusApproved); err != nil {
			return err
		}
		if err := applyRejections(ctx, tx, actor.ID, &o, in.Rejections); err != nil {
			return err
		}
		o.Total, o.AdjustedTotal = Recalculate(o.Items)

		// every item rejected: the order cancels instead of approving and
		// no approval is recorded or announced
		if derived, changed := Derive(o.Items, o.Status); changed && derived == StatusCancelled {
			o.Status = StatusCancelled
			if err := tx.AppendHistory(ctx, HistoryEntry{
				OrderID:   o.ID,
				Status:    string(StatusCancelled),
				ChangedBy: o.historyActor(),
				Notes:     shared.Text{Ar: "تم رفض جميع العناصر", En: "All items rejected"},
			}); err != nil {
				return err
			}
			if err := tx.UpdateOrderState(ctx, o); err != nil {
				return err
			}
			events = append(events, s.statusEvent(o, o.historyActor()))
			order = o
			return nil
		}

		now := time.Now()
		o.Status = StatusApproved
		o.ApprovedBy = actor.ID
		o.ApprovedAt = &now
		if err := tx.AppendHistory(ctx, HistoryEntry{
			OrderID:   o.ID,
			Status:    string(StatusApproved),
			ChangedBy: actor.ID,
			Notes:     shared.Text{Ar: "تم اعتماد الطلب", En: "Order approved"},
		}); err != nil {
			return err
		}
		events = append(events, Event{
			Kind: EventApproved, OrderID: o.ID, Number: o.Number, BranchID: o.BranchID,
			Status: StatusApproved, ActorID: actor.ID, Durable: true,
			Message: shared.Text{
				Ar: fmt.Sprintf("تم اعتماد الطلب %s", o.Number),
				En: fmt.Sprintf("Order %s approved", o.Number),
			},
		})
		if err := tx.UpdateOrderState(ctx, o); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.observeTransition(order.Status)
	s.recordAudit(ctx, actor, "order.approve", order.ID, map[string]any{
		"status": order.Status, "rejections": len(in.Rejections),
	})
	for _, ev := range events {
		s.publish(ctx, ev)
	}
	return order, nil
}

// AssignChefs binds chefs to order items. A task already bound to another
// chef cannot be rebound.
func (s *Service) AssignChefs(ctx context.Context, actor shared.Actor, orderID int64, in AssignInput) (Order, error) {
	if !actor.HasRole(shared.RoleAdmin, shared.RoleProduction) {
		return Order{}, shared.E(shared.KindAuthorization,
			"غير مخول بتوزيع المهام", "Not authorized to assign tasks")
	}
	if err := s.validateInput(in); err != nil {
		return Order{}, err
	}
	if len(in.Assignments) == 0 && len(in.Rejections) == 0 {
		return Order{}, shared.E(shared.KindValidation,
			"لا توجد تعيينات أو رفض", "No assignments or rejections supplied")
	}

	chefIDs := make([]int64, 0, len(in.Assignments))
	for _, a := range in.Assignments {
		chefIDs = append(chefIDs, a.ChefID)
	}
	chefs, err := s.dir.GetUsers(ctx, chefIDs)
	if err != nil {
		return Order{}, err
	}
	for _, a := range in.Assignments {
		chef, ok := chefs[a.ChefID]
		if !ok {
			return Order{}, directory.ErrUserNotFound
		}
		if !chef.IsChef() {
			return Order{}, shared.E(shared.KindValidation,
				fmt.Sprintf("المستخدم %s ليس شيف", chef.Name.Ar),
				fmt.Sprintf("User %s is not a chef", chef.Name.En))
		}
	}

	var (
		order  Order
		events []Event
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o, err := tx.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != StatusApproved && o.Status != StatusInProduction {
			return shared.E(shared.KindConflict,
				"لا يمكن توزيع المهام في هذه الحالة", "Order is not open for task assignment")
		}
		// rejections first; a task behind a rejected item stays in place but
		// the item status is authoritative
		if err := applyRejections(ctx, tx, actor.ID, &o, in.Rejections); err != nil {
			return err
		}
		tasks := tx.Tasks()
		for _, a := range in.Assignments {
			item := o.ItemByID(a.ItemID)
			if item == nil {
				return ErrItemNotFound
			}
			if item.Rejected() {
				return shared.E(shared.KindValidation,
					"لا يمكن تعيين عنصر مرفوض", "Cannot assign a rejected item")
			}
			existing, err := tasks.GetForItem(ctx, o.ID, a.ItemID)
			switch {
			case err == nil:
				if existing.ChefID != a.ChefID {
					return production.ErrReassignment
				}
			case shared.IsKind(err, shared.KindNotFound):
			default:
				return err
			}
			if err := tasks.Upsert(ctx, production.Task{
				OrderID:   o.ID,
				ItemID:    item.ID,
				ChefID:    a.ChefID,
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				Status:    production.TaskPending,
			}); err != nil {
				return err
			}
			if item.Status == ItemPending {
				item.Status = ItemAssigned
			}
			item.AssignedTo = a.ChefID
			if err := tx.UpdateItem(ctx, *item); err != nil {
				return err
			}
		}

		if len(in.Rejections) > 0 {
			o.Total, o.AdjustedTotal = Recalculate(o.Items)
			if derived, changed := Derive(o.Items, o.Status); changed && derived == StatusCancelled {
				o.Status = StatusCancelled
				if err := tx.AppendHistory(ctx, HistoryEntry{
					OrderID:   o.ID,
					Status:    string(StatusCancelled),
					ChangedBy: o.historyActor(),
					Notes:     shared.Text{Ar: "تم رفض جميع العناصر", En: "All items rejected"},
				}); err != nil {
					return err
				}
				events = append(events, s.statusEvent(o, o.historyActor()))
			}
			if err := tx.UpdateOrderState(ctx, o); err != nil {
				return err
			}
		}
		order = o
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.recordAudit(ctx, actor, "order.assign_chefs", order.ID, map[string]any{
		"assignments": len(in.Assignments), "rejections": len(in.Rejections),
	})
	if len(in.Assignments) > 0 {
		s.publish(ctx, Event{
			Kind: EventTaskAssigned, OrderID: order.ID, Number: order.Number,
			BranchID: order.BranchID, Status: order.Status, ActorID: actor.ID,
			ChefIDs: chefIDs, Durable: true,
			Message: shared.Text{
				Ar: fmt.Sprintf("تم تعيين مهام إنتاج للطلب %s", order.Number),
				En: fmt.Sprintf("Production tasks assigned for order %s", order.Number),
			},
		})
	}
	for _, ev := range events {
		s.observeTransition(order.Status)
		s.publish(ctx, ev)
	}
	return order, nil
}

// UpdateItemProgress records a chef starting or finishing an item. The item,
// its production task and the derived order status advance in one
// transaction.
func (s *Service) UpdateItemProgress(ctx context.Context, actor shared.Actor, orderID, itemID int64, in ProgressInput) (Order, error) {
	if !actor.HasRole(shared.RoleAdmin, shared.RoleChef) {
		return Order{}, shared.E(shared.KindAuthorization,
			"غير مخول بتحديث حالة العنصر", "Not authorized to update item progress")
	}
	if err := s.validateInput(in); err != nil {
		return Order{}, err
	}
	target := ItemStatus(in.Status)

	var (
		order   Order
		derived *Status
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o, err := tx.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status.IsTerminal() {
			return shared.E(shared.KindConflict,
				"الطلب في حالة نهائية", "Order is in a terminal state")
		}
		item := o.ItemByID(itemID)
		if item == nil {
			return ErrItemNotFound
		}
		if item.Rejected() {
			return shared.E(shared.KindConflict,
				"العنصر مرفوض", "Item is rejected")
		}

		tasks := tx.Tasks()
		task, err := tasks.GetForItem(ctx, o.ID, itemID)
		if err != nil {
			return err
		}
		if actor.Role == shared.RoleChef && task.ChefID != actor.ID {
			return shared.E(shared.KindAuthorization,
				"المهمة معينة لشيف آخر", "Task is assigned to another chef")
		}

		now := time.Now()
		switch target {
		case ItemInProgress:
			if item.Status != ItemAssigned {
				return shared.E(shared.KindConflict,
					"العنصر ليس في حالة تسمح ببدء التحضير", "Item cannot start production from its current state")
			}
			item.Status = ItemInProgress
			item.StartedAt = &now
			if err := tasks.SetStatus(ctx, o.ID, itemID, production.TaskInProgress); err != nil {
				return err
			}
		case ItemCompleted:
			if item.Status != ItemAssigned && item.Status != ItemInProgress {
				return shared.E(shared.KindConflict,
					"العنصر ليس قيد التحضير", "Item is not in production")
			}
			if item.StartedAt == nil {
				item.StartedAt = &now
			}
			item.Status = ItemCompleted
			item.CompletedAt = &now
			if err := tasks.SetStatus(ctx, o.ID, itemID, production.TaskCompleted); err != nil {
				return err
			}
		default:
			return shared.E(shared.KindValidation,
				"حالة عنصر غير صالحة", "Invalid item status")
		}
		if err := tx.UpdateItem(ctx, *item); err != nil {
			return err
		}

		if next, changed := Derive(o.Items, o.Status); changed {
			o.Status = next
			derived = &next
			if err := tx.AppendHistory(ctx, HistoryEntry{
				OrderID:   o.ID,
				Status:    string(next),
				ChangedBy: o.historyActor(),
			}); err != nil {
				return err
			}
			if err := tx.UpdateOrderState(ctx, o); err != nil {
				return err
			}
		}
		order = o
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publish(ctx, Event{
		Kind: EventItemProgress, OrderID: order.ID, Number: order.Number,
		BranchID: order.BranchID, Status: order.Status, ActorID: actor.ID,
		Message: shared.Text{
			Ar: fmt.Sprintf("تحديث تحضير في الطلب %s", order.Number),
			En: fmt.Sprintf("Production progress on order %s", order.Number),
		},
	})
	if derived != nil {
		s.observeTransition(*derived)
		s.publish(ctx, s.statusEvent(order, order.historyActor()))
	}
	return order, nil
}

// StartTransit moves a completed order onto a delivery vehicle.
func (s *Service) StartTransit(ctx context.Context, actor shared.Actor, orderID int64) (Order, error) {
	if actor.Role != shared.RoleProduction {
		return Order{}, shared.E(shared.KindAuthorization,
			"غير مخول ببدء التوصيل", "Not authorized to start transit")
	}
	var order Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o, err := tx.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := GuardTransition(o.Status, StatusInTransit); err != nil {
			return err
		}
		now := time.Now()
		o.Status = StatusInTransit
		o.TransitStartedAt = &now
		if err := tx.AppendHistory(ctx, HistoryEntry{
			OrderID:   o.ID,
			Status:    string(StatusInTransit),
			ChangedBy: actor.ID,
			Notes:     shared.Text{Ar: "الطلب في الطريق", En: "Order in transit"},
		}); err != nil {
			return err
		}
		if err := tx.UpdateOrderState(ctx, o); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.observeTransition(StatusInTransit)
	s.recordAudit(ctx, actor, "order.start_transit", order.ID, nil)
	s.publish(ctx, Event{
		Kind: EventInTransit, OrderID: order.ID, Number: order.Number,
		BranchID: order.BranchID, Status: StatusInTransit, ActorID: actor.ID, Durable: true,
		Message: shared.Text{
			Ar: fmt.Sprintf("الطلب %s في الطريق إليكم", order.Number),
			En: fmt.Sprintf("Order %s is on its way", order.Number),
		},
	})
	return order, nil
}

// ConfirmDelivery finalises the order at the branch. Items missing from the
// received set are rejected as unspecified; received quantities move into
// branch stock with one ledger entry each, all inside the same transaction.
func (s *Service) ConfirmDelivery(ctx context.Context, actor shared.Actor, orderID int64, in ConfirmDeliveryInput) (Order, error) {
	if actor.Role != shared.RoleBranch {
		return Order{}, shared.E(shared.KindAuthorization,
			"غير مخول بتأكيد الاستلام", "Not authorized to confirm delivery")
	}
	received := make(map[int64]float64, len(in.Received))
	for _, item := range in.Received {
		received[item.ItemID] = item.Quantity
	}

	var (
		order  Order
		events []Event
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o, err := tx.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if actor.BranchID != o.BranchID {
			return ErrBranchScope
		}
		if o.DeliveredAt != nil {
			return ErrAlreadyDelivered
		}
		if err := GuardTransition(o.Status, StatusDelivered); err != nil {
			return err
		}

		if err := applyRejections(ctx, tx, actor.ID, &o, in.Rejections); err != nil {
			return err
		}

		now := time.Now()
		store := tx.Stock()
		for i := range o.Items {
			item := &o.Items[i]
			if item.Rejected() {
				continue
			}
			qty, ok := received[item.ID]
			if !ok || qty <= 0 {
				if err := rejectItem(ctx, tx, actor.ID, item, ReasonUnspecified); err != nil {
					return err
				}
				continue
			}
			item.ReceivedQuantity = qty
			if err := tx.UpdateItem(ctx, *item); err != nil {
				return err
			}
			if err := store.Receive(ctx, stock.Movement{
				BranchID:  o.BranchID,
				ProductID: item.ProductID,
				Quantity:  qty,
				Reference: o.Number,
				OrderID:   o.ID,
				ActorID:   actor.ID,
				Note:      shared.Text{Ar: "استلام طلب", En: "Order delivery"},
			}); err != nil {
				return err
			}
		}

		o.Total, o.AdjustedTotal = Recalculate(o.Items)

		// nothing was received: a fully rejected delivery cancels the
		// order, it is never stamped delivered
		if derived, changed := Derive(o.Items, o.Status); changed && derived == StatusCancelled {
			o.Status = StatusCancelled
			if err := tx.AppendHistory(ctx, HistoryEntry{
				OrderID:   o.ID,
				Status:    string(StatusCancelled),
				ChangedBy: o.historyActor(),
				Notes:     shared.Text{Ar: "تم رفض جميع العناصر", En: "All items rejected"},
			}); err != nil {
				return err
			}
			if err := tx.UpdateOrderState(ctx, o); err != nil {
				return err
			}
			events = append(events, s.statusEvent(o, o.historyActor()))
			order = o
			return nil
		}

		o.Status = StatusDelivered
		o.DeliveredAt = &now
		o.ConfirmedBy = actor.ID
		if err := tx.AppendHistory(ctx, HistoryEntry{
			OrderID:   o.ID,
			Status:    string(StatusDelivered),
			ChangedBy: actor.ID,
			Notes:     shared.Text{Ar: "تم تأكيد الاستلام", En: "Delivery confirmed"},
		}); err != nil {
			return err
		}
		if err := tx.UpdateOrderState(ctx, o); err != nil {
			return err
		}
		events = append(events, Event{
			Kind: EventDelivered, OrderID: o.ID, Number: o.Number,
			BranchID: o.BranchID, Status: StatusDelivered, ActorID: actor.ID, Durable: true,
			Message: shared.Text{
				Ar: fmt.Sprintf("تم تسليم الطلب %s", o.Number),
				En: fmt.Sprintf("Order %s delivered", o.Number),
			},
		})
		order = o
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.observeTransition(order.Status)
	s.recordAudit(ctx, actor, "order.confirm_delivery", order.ID, map[string]any{
		"status": order.Status, "adjusted_total": order.AdjustedTotal,
	})
	for _, ev := range events {
		s.publish(ctx, ev)
	}
	return order, nil
}

// UpdateStatus performs a guarded manual transition. Delivery must go
// through ConfirmDelivery so stock movement stays paired with the
// transition.
func (s *Service) UpdateStatus(ctx context.Context, actor shared.Actor, orderID int64, in UpdateStatusInput) (Order, error) {
	if !actor.HasRole(shared.RoleAdmin, shared.RoleProduction) {
		return Order{}, shared.E(shared.KindAuthorization,
			"غير مخول بتغيير حالة الطلب", "Not authorized to change order status")
	}
	if err := s.validateInput(in); err != nil {
		return Order{}, err
	}
	target := Status(in.Status)
	if target == StatusDelivered {
		return Order{}, shared.E(shared.KindValidation,
			"استخدم تأكيد الاستلام لتسليم الطلب", "Use delivery confirmation to deliver the order")
	}

	var (
		order  Order
		events []Event
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o, err := tx.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := GuardTransition(o.Status, target); err != nil {
			return err
		}
		if err := applyRejections(ctx, tx, actor.ID, &o, in.Rejections); err != nil {
			return err
		}

		now := time.Now()
		o.Status = target
		switch target {
		case StatusApproved:
			o.ApprovedBy = actor.ID
			o.ApprovedAt = &now
		case StatusInTransit:
			o.TransitStartedAt = &now
		}
		o.Total, o.AdjustedTotal = Recalculate(o.Items)
		if err := tx.AppendHistory(ctx, HistoryEntry{
			OrderID:   o.ID,
			Status:    string(target),
			ChangedBy: actor.ID,
			Notes:     shared.Text{Ar: in.Notes, En: in.NotesEn},
		}); err != nil {
			return err
		}
		ev := s.statusEvent(o, actor.ID)
		ev.Durable = target == StatusCancelled || target == StatusInTransit
		events = append(events, ev)

		// a fully rejected item set forces cancellation over the requested target
		if derived, changed := Derive(o.Items, o.Status); changed && derived == StatusCancelled {
			o.Status = StatusCancelled
			if err := tx.AppendHistory(ctx, HistoryEntry{
				OrderID:   o.ID,
				Status:    string(StatusCancelled),
				ChangedBy: o.historyActor(),
				Notes:     shared.Text{Ar: "تم رفض جميع العناصر", En: "All items rejected"},
			}); err != nil {
				return err
			}
			events = append(events, s.statusEvent(o, o.historyActor()))
		}
		if err := tx.UpdateOrderState(ctx, o); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.observeTransition(order.Status)
	s.recordAudit(ctx, actor, "order.update_status", order.ID, map[string]any{
		"status": order.Status, "rejections": len(in.Rejections),
	})
	for _, ev := range events {
		s.publish(ctx, ev)
	}
	return order, nil
}

// Get loads one order with items and history. Branch users only see their
// own branch.
func (s *Service) Get(ctx context.Context, actor shared.Actor, orderID int64) (Order, error) {
	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if actor.Role == shared.RoleBranch && actor.BranchID != order.BranchID {
		return Order{}, ErrBranchScope
	}
	return order, nil
}

// List returns orders matching the filter, scoped to the actor's branch for
// branch users.
func (s *Service) List(ctx context.Context, actor shared.Actor, filter ListFilter) ([]Order, error) {
	if actor.Role == shared.RoleBranch {
		filter.BranchID = actor.BranchID
	}
	return s.repo.List(ctx, filter)
}

// Exists reports whether an order number is already used by a branch.
func (s *Service) Exists(ctx context.Context, actor shared.Actor, branchID int64, number string) (bool, error) {
	if actor.Role == shared.RoleBranch {
		branchID = actor.BranchID
	}
	return s.repo.NumberExists(ctx, branchID, number)
}

func (s *Service) statusEvent(o Order, actorID int64) Event {
	return Event{
		Kind:     EventStatusChange,
		OrderID:  o.ID,
		Number:   o.Number,
		BranchID: o.BranchID,
		Status:   o.Status,
		ActorID:  actorID,
		Durable:  o.Status == StatusCancelled || o.Status == StatusCompleted,
		Message: shared.Text{
			Ar: fmt.Sprintf("تغيرت حالة الطلب %s إلى %s", o.Number, o.Status),
			En: fmt.Sprintf("Order %s status changed to %s", o.Number, o.Status),
		},
	}
}

// publish runs after commit. A fan-out failure never unwinds the committed
// transition.
func (s *Service) publish(ctx context.Context, ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	if err := s.notifier.Publish(ctx, ev); err != nil {
		if s.logger != nil {
			s.logger.Error("event publish failed",
				"kind", ev.Kind, "order_id", ev.OrderID, "error", err)
		}
	}
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, orderID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   "order",
		EntityID: strconv.FormatInt(orderID, 10),
		Meta:     meta,
	})
	if err != nil && s.logger != nil {
		s.logger.Error("audit record failed", "action", action, "order_id", orderID, "error", err)
	}
}

func (s *Service) observeTransition(status Status) {
	if s.metrics != nil {
		s.metrics.ObserveTransition(string(status))
	}
}
