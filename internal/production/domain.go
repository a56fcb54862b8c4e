// Package production tracks which chef is responsible for producing each
// order item. At most one task exists per (order, item); the chef binding is
// set once and only changes when the item is simultaneously rejected.
package production

import (
	"time"

	"github.com/eljoodia/eljoodia-erp/internal/shared"
)

// TaskStatus mirrors the production progress of one task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// Task binds one order item to the chef producing it.
type Task struct {
	ID        int64
	OrderID   int64
	ItemID    int64
	ChefID    int64
	ProductID int64
	Quantity  float64
	Status    TaskStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TaskView adds display fields for the chef task list.
type TaskView struct {
	Task
	OrderNumber string
	ProductName shared.Text
	ItemStatus  string
}

// ErrReassignment rejects moving an existing task to a different chef.
var ErrReassignment = shared.E(shared.KindConflict,
	"لا يمكن إعادة تعيين المهمة لشيف آخر",
	"Cannot reassign task to another chef")
