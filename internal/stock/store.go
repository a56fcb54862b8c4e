package stock

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxStore applies stock movements inside a transaction owned by the caller.
// The order coordinator hands one out per unit of work so stock writes commit
// or abort together with the order mutation.
type TxStore interface {
	// Receive increments the branch stock level and appends the matching
	// ledger entry. Both writes happen or neither does.
	Receive(ctx context.Context, mv Movement) error
}

type txStore struct {
	tx pgx.Tx
}

// NewTxStore wraps an open transaction.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txStore{tx: tx}
}

func (s *txStore) Receive(ctx context.Context, mv Movement) error {
	if mv.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	now := time.Now()
	_, err := s.tx.Exec(ctx, `
		INSERT INTO branch_stock (branch_id, product_id, quantity, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (branch_id, product_id)
		DO UPDATE SET quantity = branch_stock.quantity + EXCLUDED.quantity, updated_at = EXCLUDED.updated_at`,
		mv.BranchID, mv.ProductID, mv.Quantity, now)
	if err != nil {
		return err
	}
	_, err = s.tx.Exec(ctx, `
		INSERT INTO stock_ledger (branch_id, product_id, action, quantity, reference, order_id, note, note_en, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, 0), $7, $8, NULLIF($9, 0), $10)`,
		mv.BranchID, mv.ProductID, ActionDelivery, mv.Quantity, mv.Reference, mv.OrderID, mv.Note.Ar, mv.Note.En, mv.ActorID, now)
	return err
}

// Repository reads stock levels and ledger history.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetLevel returns the current level for (branch, product); zero when absent.
func (r *Repository) GetLevel(ctx context.Context, branchID, productID int64) (Level, error) {
	level := Level{BranchID: branchID, ProductID: productID}
	err := r.pool.QueryRow(ctx,
		`SELECT quantity, updated_at FROM branch_stock WHERE branch_id=$1 AND product_id=$2`,
		branchID, productID).Scan(&level.Quantity, &level.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return level, nil
		}
		return Level{}, err
	}
	return level, nil
}

// ListLedger returns ledger entries for a branch, newest first.
func (r *Repository) ListLedger(ctx context.Context, branchID int64, limit int) ([]LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, branch_id, product_id, action, quantity, reference, COALESCE(order_id,0), note, note_en, COALESCE(created_by,0), created_at
		FROM stock_ledger WHERE branch_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		branchID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(&e.ID, &e.BranchID, &e.ProductID, &e.Action, &e.Quantity, &e.Reference, &e.OrderID, &e.Note.Ar, &e.Note.En, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
