// Package stock tracks per-branch stock levels together with an append-only
// ledger. A level change and its ledger entry are always written as a pair
// inside the caller's transaction, never separately.
package stock

import (
	"time"

	"github.com/eljoodia/eljoodia-erp/internal/shared"
)

// Action enumerates supported ledger actions.
type Action string

const (
	// ActionDelivery records stock received through a confirmed order delivery.
	ActionDelivery Action = "delivery"
	// ActionAdjustment records a manual correction.
	ActionAdjustment Action = "adjustment"
)

// Level summarises current stock of one product at one branch.
type Level struct {
	BranchID  int64
	ProductID int64
	Quantity  float64
	UpdatedAt time.Time
}

// LedgerEntry is the immutable history record behind every level change.
type LedgerEntry struct {
	ID        int64
	BranchID  int64
	ProductID int64
	Action    Action
	Quantity  float64
	Reference string
	OrderID   int64
	Note      shared.Text
	CreatedBy int64
	CreatedAt time.Time
}

// Movement describes one paired increment + ledger append.
type Movement struct {
	BranchID  int64
	ProductID int64
	Quantity  float64
	Reference string
	OrderID   int64
	Note      shared.Text
	ActorID   int64
}

// ErrInvalidQuantity rejects zero or negative delivery quantities.
var ErrInvalidQuantity = shared.E(shared.KindValidation, "كمية غير صالحة", "Invalid quantity")
