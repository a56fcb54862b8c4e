package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eljoodia/eljoodia-erp/internal/production"
	"github.com/eljoodia/eljoodia-erp/internal/stock"
)

// Repository provides PostgreSQL backed persistence for orders.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations of one lifecycle change.
// Tasks and Stock run against the same transaction, so a failure in any part
// rolls back the whole change.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id int64) (Order, error)
	CreateOrder(ctx context.Context, o Order) (int64, error)
	InsertItem(ctx context.Context, item Item) (int64, error)
	UpdateOrderState(ctx context.Context, o Order) error
	UpdateItem(ctx context.Context, item Item) error
	AppendHistory(ctx context.Context, entry HistoryEntry) error
	Tasks() production.TxStore
	Stock() stock.TxStore
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, &txRepo{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (t *txRepo) Tasks() production.TxStore { return production.NewTxStore(t.tx) }
func (t *txRepo) Stock() stock.TxStore      { return stock.NewTxStore(t.tx) }

const orderColumns = `id, number, branch_id, total, adjusted_total, status,
	notes, notes_en, priority, requested_delivery_at,
	created_by, approved_by, confirmed_by,
	approved_at, transit_started_at, delivered_at, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o       Order
		confirm *int64
		approve *int64
	)
	err := row.Scan(&o.ID, &o.Number, &o.BranchID, &o.Total, &o.AdjustedTotal, &o.Status,
		&o.Notes.Ar, &o.Notes.En, &o.Priority, &o.RequestedDeliveryAt,
		&o.CreatedBy, &approve, &confirm,
		&o.ApprovedAt, &o.TransitStartedAt, &o.DeliveredAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	if approve != nil {
		o.ApprovedBy = *approve
	}
	if confirm != nil {
		o.ConfirmedBy = *confirm
	}
	return o, nil
}

// GetForUpdate loads the order row with a row lock, then its items. Lifecycle
// operations on the same order serialize on this lock.
func (t *txRepo) GetForUpdate(ctx context.Context, id int64) (Order, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, err
	}
	o.Items, err = loadItems(ctx, t.tx, id)
	if err != nil {
		return Order{}, err
	}
	return o, nil
}

func (t *txRepo) CreateOrder(ctx context.Context, o Order) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO orders (number, branch_id, total, adjusted_total, status,
			notes, notes_en, priority, requested_delivery_at, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		RETURNING id`,
		o.Number, o.BranchID, o.Total, o.AdjustedTotal, o.Status,
		o.Notes.Ar, o.Notes.En, o.Priority, o.RequestedDeliveryAt, o.CreatedBy).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateNumber
		}
		return 0, err
	}
	return id, nil
}

func (t *txRepo) InsertItem(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO order_items (order_id, product_id, quantity, received_quantity, price, status, reject_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		item.OrderID, item.ProductID, item.Quantity, item.ReceivedQuantity,
		item.Price, item.Status, item.RejectReason).Scan(&id)
	return id, err
}

// UpdateOrderState persists the mutable lifecycle fields of the aggregate.
func (t *txRepo) UpdateOrderState(ctx context.Context, o Order) error {
	var approvedBy, confirmedBy *int64
	if o.ApprovedBy != 0 {
		approvedBy = &o.ApprovedBy
	}
	if o.ConfirmedBy != 0 {
		confirmedBy = &o.ConfirmedBy
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE orders SET status = $2, total = $3, adjusted_total = $4,
			approved_by = $5, confirmed_by = $6,
			approved_at = $7, transit_started_at = $8, delivered_at = $9,
			updated_at = NOW()
		WHERE id = $1`,
		o.ID, o.Status, o.Total, o.AdjustedTotal,
		approvedBy, confirmedBy,
		o.ApprovedAt, o.TransitStartedAt, o.DeliveredAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (t *txRepo) UpdateItem(ctx context.Context, item Item) error {
	var assigned *int64
	if item.AssignedTo != 0 {
		assigned = &item.AssignedTo
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE order_items SET status = $2, reject_reason = $3, received_quantity = $4,
			assigned_to = $5, started_at = $6, completed_at = $7
		WHERE id = $1`,
		item.ID, item.Status, item.RejectReason, item.ReceivedQuantity,
		assigned, item.StartedAt, item.CompletedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (t *txRepo) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	at := entry.ChangedAt
	if at.IsZero() {
		at = time.Now()
	}
	var changedBy *int64
	if entry.ChangedBy != 0 {
		changedBy = &entry.ChangedBy
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO order_status_history (order_id, status, changed_by, notes, notes_en, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.OrderID, entry.Status, changedBy, entry.Notes.Ar, entry.Notes.En, at)
	return err
}

// Read side

// GetByID loads an order with its items and status history.
func (r *Repository) GetByID(ctx context.Context, id int64) (Order, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, err
	}
	if o.Items, err = loadItems(ctx, r.pool, id); err != nil {
		return Order{}, err
	}
	if o.History, err = loadHistory(ctx, r.pool, id); err != nil {
		return Order{}, err
	}
	return o, nil
}

// NumberExists reports whether a branch already used an order number.
func (r *Repository) NumberExists(ctx context.Context, branchID int64, number string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM orders WHERE branch_id = $1 AND number = $2)`,
		branchID, number).Scan(&exists)
	return exists, err
}

// ListFilter narrows List results. Zero values are ignored.
type ListFilter struct {
	BranchID int64
	Status   Status
	Priority Priority
	Limit    int
	Offset   int
}

// List returns orders newest first without items or history.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]Order, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.BranchID != 0 {
		conds = append(conds, "branch_id = "+arg(f.BranchID))
	}
	if f.Status != "" {
		conds = append(conds, "status = "+arg(f.Status))
	}
	if f.Priority != "" {
		conds = append(conds, "priority = "+arg(f.Priority))
	}
	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query += " LIMIT " + arg(limit)
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadItems(ctx context.Context, q querier, orderID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, quantity, received_quantity, price,
			status, reject_reason, assigned_to, started_at, completed_at
		FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var (
			it       Item
			assigned *int64
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.ReceivedQuantity,
			&it.Price, &it.Status, &it.RejectReason, &assigned, &it.StartedAt, &it.CompletedAt); err != nil {
			return nil, err
		}
		if assigned != nil {
			it.AssignedTo = *assigned
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func loadHistory(ctx context.Context, q querier, orderID int64) ([]HistoryEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, status, COALESCE(changed_by, 0), notes, notes_en, changed_at
		FROM order_status_history WHERE order_id = $1 ORDER BY changed_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Status, &e.ChangedBy,
			&e.Notes.Ar, &e.Notes.En, &e.ChangedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Port used by the service so tests can substitute an in-memory fake.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetByID(ctx context.Context, id int64) (Order, error)
	NumberExists(ctx context.Context, branchID int64, number string) (bool, error)
	List(ctx context.Context, f ListFilter) ([]Order, error)
}

var _ RepositoryPort = (*Repository)(nil)
