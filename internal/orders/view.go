package orders

import (
	"context"
	"time"

	"github.com/eljoodia/eljoodia-erp/internal/directory"
	"github.com/eljoodia/eljoodia-erp/internal/shared"
)

var statusTexts = map[Status]shared.Text{
	StatusPending:      {Ar: "قيد الانتظار", En: "Pending"},
	StatusApproved:     {Ar: "معتمد", En: "Approved"},
	StatusInProduction: {Ar: "قيد الإنتاج", En: "In Production"},
	StatusCompleted:    {Ar: "مكتمل", En: "Completed"},
	StatusInTransit:    {Ar: "في الطريق", En: "In Transit"},
	StatusDelivered:    {Ar: "تم التسليم", En: "Delivered"},
	StatusCancelled:    {Ar: "ملغي", En: "Cancelled"},
}

// DisplayText returns the localized label for the status.
func (s Status) DisplayText() shared.Text { return statusTexts[s] }

// OrderView is the localized API representation of an order.
type OrderView struct {
	ID                  int64       `json:"id"`
	Number              string      `json:"number"`
	BranchID            int64       `json:"branchId"`
	BranchName          string      `json:"branchName,omitempty"`
	Status              Status      `json:"status"`
	StatusDisplay       string      `json:"statusDisplay"`
	Total               float64     `json:"total"`
	AdjustedTotal       float64     `json:"adjustedTotal"`
	Priority            Priority    `json:"priority"`
	Notes               string      `json:"notes,omitempty"`
	RequestedDeliveryAt *time.Time  `json:"requestedDeliveryDate,omitempty"`
	CreatedBy           int64       `json:"createdBy"`
	ApprovedBy          int64       `json:"approvedBy,omitempty"`
	ConfirmedBy         int64       `json:"confirmedBy,omitempty"`
	ApprovedAt          *time.Time  `json:"approvedAt,omitempty"`
	TransitStartedAt    *time.Time  `json:"transitStartedAt,omitempty"`
	DeliveredAt         *time.Time  `json:"deliveredAt,omitempty"`
	Items               []ItemView  `json:"items,omitempty"`
	History             []EntryView `json:"statusHistory,omitempty"`
	CreatedAt           time.Time   `json:"createdAt"`
	UpdatedAt           time.Time   `json:"updatedAt"`
}

// ItemView is the localized representation of one order item.
type ItemView struct {
	ID               int64      `json:"id"`
	ProductID        int64      `json:"productId"`
	ProductName      string     `json:"productName,omitempty"`
	Unit             string     `json:"unit,omitempty"`
	Quantity         float64    `json:"quantity"`
	ReceivedQuantity float64    `json:"receivedQuantity,omitempty"`
	Price            float64    `json:"price"`
	Status           ItemStatus `json:"status"`
	RejectReason     string     `json:"rejectReason,omitempty"`
	AssignedTo       int64      `json:"assignedTo,omitempty"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
}

// EntryView is one localized history record.
type EntryView struct {
	Status    string    `json:"status"`
	ChangedBy int64     `json:"changedBy,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	ChangedAt time.Time `json:"changedAt"`
}

// Renderer turns domain orders into localized views, resolving product and
// branch names through the directory.
type Renderer struct {
	dir Directory
}

// NewRenderer constructs a renderer.
func NewRenderer(dir Directory) *Renderer {
	return &Renderer{dir: dir}
}

// Render localizes one order. Directory lookup failures degrade to views
// without display names rather than failing the read.
func (r *Renderer) Render(ctx context.Context, o Order, lang shared.Lang) OrderView {
	var (
		branchName string
		products   map[int64]directory.Product
	)
	if branch, err := r.dir.GetBranch(ctx, o.BranchID); err == nil {
		branchName = branch.Name.In(lang)
	}
	if len(o.Items) > 0 {
		ids := make([]int64, 0, len(o.Items))
		for _, it := range o.Items {
			ids = append(ids, it.ProductID)
		}
		products, _ = r.dir.GetProducts(ctx, ids)
	}

	view := OrderView{
		ID:                  o.ID,
		Number:              o.Number,
		BranchID:            o.BranchID,
		BranchName:          branchName,
		Status:              o.Status,
		StatusDisplay:       o.Status.DisplayText().In(lang),
		Total:               o.Total,
		AdjustedTotal:       o.AdjustedTotal,
		Priority:            o.Priority,
		Notes:               o.Notes.In(lang),
		RequestedDeliveryAt: o.RequestedDeliveryAt,
		CreatedBy:           o.CreatedBy,
		ApprovedBy:          o.ApprovedBy,
		ConfirmedBy:         o.ConfirmedBy,
		ApprovedAt:          o.ApprovedAt,
		TransitStartedAt:    o.TransitStartedAt,
		DeliveredAt:         o.DeliveredAt,
		CreatedAt:           o.CreatedAt,
		UpdatedAt:           o.UpdatedAt,
	}
	for _, it := range o.Items {
		iv := ItemView{
			ID:               it.ID,
			ProductID:        it.ProductID,
			Quantity:         it.Quantity,
			ReceivedQuantity: it.ReceivedQuantity,
			Price:            it.Price,
			Status:           it.Status,
			AssignedTo:       it.AssignedTo,
			StartedAt:        it.StartedAt,
			CompletedAt:      it.CompletedAt,
		}
		if p, ok := products[it.ProductID]; ok {
			iv.ProductName = p.Name.In(lang)
			iv.Unit = p.Unit.In(lang)
		}
		if it.RejectReason != ReasonNone {
			iv.RejectReason = it.RejectReason.Text().In(lang)
		}
		view.Items = append(view.Items, iv)
	}
	for _, h := range o.History {
		view.History = append(view.History, EntryView{
			Status:    h.Status,
			ChangedBy: h.ChangedBy,
			Notes:     h.Notes.In(lang),
			ChangedAt: h.ChangedAt,
		})
	}
	return view
}

// RenderList localizes a slice of orders.
func (r *Renderer) RenderList(ctx context.Context, list []Order, lang shared.Lang) []OrderView {
	views := make([]OrderView, 0, len(list))
	for _, o := range list {
		views = append(views, r.Render(ctx, o, lang))
	}
	return views
}
