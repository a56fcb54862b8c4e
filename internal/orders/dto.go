package orders

import "time"

// CreateOrderInput is the payload for registering a new order.
type CreateOrderInput struct {
	BranchID            int64             `json:"branchId" validate:"required"`
	Number              string            `json:"number" validate:"omitempty,max=64"`
	Items               []CreateItemInput `json:"items" validate:"required,min=1,dive"`
	Notes               string            `json:"notes" validate:"max=1000"`
	NotesEn             string            `json:"notesEn" validate:"max=1000"`
	Priority            string            `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	RequestedDeliveryAt *time.Time        `json:"requestedDeliveryDate"`
}

// CreateItemInput is one product line of a create request.
type CreateItemInput struct {
	ProductID int64   `json:"productId" validate:"required"`
	Quantity  float64 `json:"quantity" validate:"required,gt=0"`
	Price     float64 `json:"price" validate:"gte=0"`
}

// ApproveInput optionally rejects items while approving.
type ApproveInput struct {
	Rejections []ItemRejection `json:"rejections" validate:"dive"`
}

// ItemRejection diverts one item out of fulfilment with a reason code.
type ItemRejection struct {
	ItemID int64  `json:"itemId" validate:"required"`
	Reason string `json:"reason" validate:"required"`
}

// AssignInput binds chefs to items. Items can be rejected instead of
// assigned in the same call.
type AssignInput struct {
	Assignments []Assignment    `json:"assignments" validate:"dive"`
	Rejections  []ItemRejection `json:"rejections" validate:"dive"`
}

// Assignment is one item to chef binding.
type Assignment struct {
	ItemID int64 `json:"itemId" validate:"required"`
	ChefID int64 `json:"chefId" validate:"required"`
}

// ProgressInput advances one item through production.
type ProgressInput struct {
	Status string `json:"status" validate:"required,oneof=in_progress completed"`
}

// ConfirmDeliveryInput lists what the branch actually received. Items absent
// from the list are rejected as unspecified; an explicit rejection carries
// its own reason.
type ConfirmDeliveryInput struct {
	Received   []ReceivedItem  `json:"received" validate:"dive"`
	Rejections []ItemRejection `json:"rejections" validate:"dive"`
}

// ReceivedItem acknowledges one item with the quantity that arrived.
type ReceivedItem struct {
	ItemID   int64   `json:"itemId" validate:"required"`
	Quantity float64 `json:"quantity" validate:"gte=0"`
}

// UpdateStatusInput performs a guarded manual transition, optionally
// rejecting items on the way.
type UpdateStatusInput struct {
	Status     string          `json:"status" validate:"required"`
	Rejections []ItemRejection `json:"rejections" validate:"dive"`
	Notes      string          `json:"notes" validate:"max=1000"`
	NotesEn    string          `json:"notesEn" validate:"max=1000"`
}
