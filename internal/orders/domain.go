// Package orders implements the purchase order lifecycle engine: the status
// state machine, the transactional coordinator that keeps the aggregate,
// production tasks and branch stock consistent, and the post-commit event
// fan-out.
package orders

import (
	"time"

	"github.com/eljoodia/eljoodia-erp/internal/shared"
)

// Status is the coarse lifecycle stage of an order.
type Status string

const (
	StatusPending      Status = "pending"
	StatusApproved     Status = "approved"
	StatusInProduction Status = "in_production"
	StatusCompleted    Status = "completed"
	StatusInTransit    Status = "in_transit"
	StatusDelivered    Status = "delivered"
	StatusCancelled    Status = "cancelled"
)

// IsValid reports whether the status is one of the known lifecycle stages.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusInProduction, StatusCompleted, StatusInTransit, StatusDelivered, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// ItemStatus is the fine-grained fulfillment state of one order item.
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemAssigned   ItemStatus = "assigned"
	ItemInProgress ItemStatus = "in_progress"
	ItemCompleted  ItemStatus = "completed"
	ItemRejected   ItemStatus = "rejected"
)

// RejectReason is an enumerated, bilingual rejection reason code.
type RejectReason string

const (
	ReasonNone         RejectReason = ""
	ReasonDamaged      RejectReason = "damaged"
	ReasonNotDelivered RejectReason = "not_delivered"
	ReasonOutOfStock   RejectReason = "out_of_stock"
	ReasonNotAvailable RejectReason = "not_available"
	ReasonOther        RejectReason = "other"
	ReasonUnspecified  RejectReason = "unspecified"
)

var rejectReasonTexts = map[RejectReason]shared.Text{
	ReasonDamaged:      {Ar: "تالف", En: "Damaged"},
	ReasonNotDelivered: {Ar: "لم يصل", En: "Not Delivered"},
	ReasonOutOfStock:   {Ar: "نفاد المخزون", En: "Out of Stock"},
	ReasonNotAvailable: {Ar: "غير متاح", En: "Not Available"},
	ReasonOther:        {Ar: "أخرى", En: "Other"},
	ReasonUnspecified:  {Ar: "غير محدد", En: "Unspecified"},
}

// IsValid reports whether the code is a known reason (or empty).
func (r RejectReason) IsValid() bool {
	if r == ReasonNone {
		return true
	}
	_, ok := rejectReasonTexts[r]
	return ok
}

// Text returns the bilingual display text for the reason.
func (r RejectReason) Text() shared.Text {
	return rejectReasonTexts[r]
}

// Priority orders the urgency of fulfilment.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// IsValid reports whether the priority is known.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	default:
		return false
	}
}

// Item is one product line within an order.
type Item struct {
	ID               int64
	OrderID          int64
	ProductID        int64
	Quantity         float64
	ReceivedQuantity float64
	Price            float64
	Status           ItemStatus
	RejectReason     RejectReason
	AssignedTo       int64 // chef user id, zero when unassigned
	StartedAt        *time.Time
	CompletedAt      *time.Time
}

// Rejected reports whether the item was diverted out of fulfilment.
func (i Item) Rejected() bool { return i.Status == ItemRejected }

// Done reports whether the item needs no further production work.
func (i Item) Done() bool {
	return i.Status == ItemCompleted || i.Status == ItemRejected
}

// HistoryEntry is one append-only status history record. Status holds the
// order status for lifecycle entries and "rejected" for item rejections.
type HistoryEntry struct {
	ID        int64
	OrderID   int64
	Status    string
	ChangedBy int64
	Notes     shared.Text
	ChangedAt time.Time
}

// Order is the aggregate root and the unit of transactional consistency.
type Order struct {
	ID                  int64
	Number              string
	BranchID            int64
	Items               []Item
	Total               float64
	AdjustedTotal       float64
	Status              Status
	Notes               shared.Text
	Priority            Priority
	RequestedDeliveryAt *time.Time
	CreatedBy           int64
	ApprovedBy          int64
	ConfirmedBy         int64
	ApprovedAt          *time.Time
	TransitStartedAt    *time.Time
	DeliveredAt         *time.Time
	History             []HistoryEntry
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ItemByID returns a pointer into Items for in-place mutation, or nil.
func (o *Order) ItemByID(id int64) *Item {
	for i := range o.Items {
		if o.Items[i].ID == id {
			return &o.Items[i]
		}
	}
	return nil
}

// historyActor is the identity derived transitions are attributed to.
func (o *Order) historyActor() int64 {
	if o.ApprovedBy != 0 {
		return o.ApprovedBy
	}
	return o.CreatedBy
}

// Domain errors shared across operations.
var (
	ErrOrderNotFound = shared.E(shared.KindNotFound,
		"الطلب غير موجود", "Order not found")
	ErrItemNotFound = shared.E(shared.KindNotFound,
		"العنصر غير موجود", "Order item not found")
	ErrDuplicateNumber = shared.E(shared.KindConflict,
		"رقم الطلب مستخدم بالفعل لهذا الفرع", "Order number already used for this branch")
	ErrAlreadyDelivered = shared.E(shared.KindConflict,
		"تم تأكيد الاستلام مسبقًا", "Delivery already confirmed")
	ErrBranchScope = shared.E(shared.KindAuthorization,
		"غير مخول لهذا الفرع", "Unauthorized for this branch")
)
