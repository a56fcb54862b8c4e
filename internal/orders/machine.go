package orders

import (
	"fmt"
	"math"

	"github.com/eljoodia/eljoodia-erp/internal/shared"
)

// transitions is the explicit edge set of the lifecycle state machine.
// Terminal statuses have no outgoing edges.
var transitions = map[Status][]Status{
	StatusPending:      {StatusApproved, StatusCancelled},
	StatusApproved:     {StatusInProduction, StatusCancelled},
	StatusInProduction: {StatusCompleted, StatusCancelled},
	StatusCompleted:    {StatusInTransit},
	StatusInTransit:    {StatusDelivered},
	StatusDelivered:    {},
	StatusCancelled:    {},
}

// CanTransition reports whether the edge from -> to exists.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// GuardTransition validates the edge and returns a conflict error naming
// both statuses when it does not exist.
func GuardTransition(from, to Status) error {
	if !to.IsValid() {
		return shared.E(shared.KindValidation,
			fmt.Sprintf("حالة غير صالحة: %s", to),
			fmt.Sprintf("invalid status: %s", to))
	}
	if !CanTransition(from, to) {
		return shared.E(shared.KindConflict,
			fmt.Sprintf("لا يمكن الانتقال من %s إلى %s", from, to),
			fmt.Sprintf("cannot transition from %s to %s", from, to))
	}
	return nil
}

// Derive computes the order status implied by the item set. The all-rejected
// check runs first so a fully rejected order cancels even when every item
// also counts as done. Completion is not re-derived once the order has moved
// past production.
func Derive(items []Item, current Status) (Status, bool) {
	if len(items) == 0 {
		return current, false
	}
	allRejected := true
	allDone := true
	anyActive := false
	for _, it := range items {
		if it.Status != ItemRejected {
			allRejected = false
		}
		if !it.Done() {
			allDone = false
		}
		if it.Status == ItemInProgress || it.Status == ItemCompleted {
			anyActive = true
		}
	}
	if allRejected {
		if current != StatusCancelled {
			return StatusCancelled, true
		}
		return current, false
	}
	if allDone {
		switch current {
		case StatusCompleted, StatusInTransit, StatusDelivered, StatusCancelled:
			return current, false
		}
		return StatusCompleted, true
	}
	if anyActive && current == StatusApproved {
		return StatusInProduction, true
	}
	return current, false
}

// Recalculate returns the order totals over non-rejected items, rounded to
// two decimals. The total values requested quantities; once a received
// quantity has been recorded it replaces the requested quantity in the
// adjusted total.
func Recalculate(items []Item) (total, adjusted float64) {
	for _, it := range items {
		if it.Status == ItemRejected {
			continue
		}
		total += it.Quantity * it.Price
		qty := it.Quantity
		if it.ReceivedQuantity > 0 {
			qty = it.ReceivedQuantity
		}
		adjusted += qty * it.Price
	}
	return round2(total), round2(adjusted)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
