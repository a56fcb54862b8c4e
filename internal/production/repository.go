package production

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eljoodia/eljoodia-erp/internal/shared"
)

// ErrTaskNotFound indicates the task record is missing.
var ErrTaskNotFound = shared.E(shared.KindNotFound, "المهمة غير موجودة", "Task not found")

// TxStore applies task writes inside the order coordinator's transaction.
type TxStore interface {
	// GetForItem returns the task bound to (order, item), or ErrTaskNotFound.
	GetForItem(ctx context.Context, orderID, itemID int64) (Task, error)
	// Upsert creates the task or refreshes quantity/status for the same chef.
	Upsert(ctx context.Context, task Task) error
	// SetStatus moves the task's own progress marker.
	SetStatus(ctx context.Context, orderID, itemID int64, status TaskStatus) error
}

type txStore struct {
	tx pgx.Tx
}

// NewTxStore wraps an open transaction.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txStore{tx: tx}
}

func (s *txStore) GetForItem(ctx context.Context, orderID, itemID int64) (Task, error) {
	var t Task
	err := s.tx.QueryRow(ctx, `
		SELECT id, order_id, item_id, chef_id, product_id, quantity, status, created_at, updated_at
		FROM production_tasks WHERE order_id=$1 AND item_id=$2`,
		orderID, itemID).
		Scan(&t.ID, &t.OrderID, &t.ItemID, &t.ChefID, &t.ProductID, &t.Quantity, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrTaskNotFound
		}
		return Task{}, err
	}
	return t, nil
}

func (s *txStore) Upsert(ctx context.Context, task Task) error {
	now := time.Now()
	if task.Status == "" {
		task.Status = TaskPending
	}
	_, err := s.tx.Exec(ctx, `
		INSERT INTO production_tasks (order_id, item_id, chef_id, product_id, quantity, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (order_id, item_id)
		DO UPDATE SET chef_id = EXCLUDED.chef_id, quantity = EXCLUDED.quantity, status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		task.OrderID, task.ItemID, task.ChefID, task.ProductID, task.Quantity, task.Status, now)
	return err
}

func (s *txStore) SetStatus(ctx context.Context, orderID, itemID int64, status TaskStatus) error {
	tag, err := s.tx.Exec(ctx,
		`UPDATE production_tasks SET status=$3, updated_at=$4 WHERE order_id=$1 AND item_id=$2`,
		orderID, itemID, status, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// Repository reads tasks outside the transactional path.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListForChef returns the chef's open tasks, oldest first. Tasks behind
// rejected items are excluded: the item status is authoritative.
func (r *Repository) ListForChef(ctx context.Context, chefID int64) ([]TaskView, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT t.id, t.order_id, t.item_id, t.chef_id, t.product_id, t.quantity, t.status, t.created_at, t.updated_at,
		       o.number, p.name, p.name_en, i.status
		FROM production_tasks t
		JOIN orders o ON o.id = t.order_id
		JOIN order_items i ON i.id = t.item_id
		JOIN products p ON p.id = t.product_id
		WHERE t.chef_id=$1 AND t.status <> $2 AND i.status <> 'rejected'
		ORDER BY t.created_at ASC`,
		chefID, TaskCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tasks []TaskView
	for rows.Next() {
		var v TaskView
		if err := rows.Scan(&v.ID, &v.OrderID, &v.ItemID, &v.ChefID, &v.ProductID, &v.Quantity, &v.Status, &v.CreatedAt, &v.UpdatedAt,
			&v.OrderNumber, &v.ProductName.Ar, &v.ProductName.En, &v.ItemStatus); err != nil {
			return nil, err
		}
		tasks = append(tasks, v)
	}
	return tasks, rows.Err()
}
