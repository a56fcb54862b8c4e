package directory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eljoodia/eljoodia-erp/internal/shared"
)

// Lookup errors.
var (
	ErrProductNotFound = shared.E(shared.KindNotFound, "بعض المنتجات غير موجودة", "Some products not found")
	ErrBranchNotFound  = shared.E(shared.KindNotFound, "الفرع غير موجود", "Branch not found")
	ErrUserNotFound    = shared.E(shared.KindNotFound, "المستخدم غير موجود", "User not found")
)

// Repository reads master data from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetProducts returns the products for the given ids, keyed by id.
// Missing ids are simply absent from the map.
func (r *Repository) GetProducts(ctx context.Context, ids []int64) (map[int64]Product, error) {
	if len(ids) == 0 {
		return map[int64]Product{}, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT id, name, name_en, unit, unit_en, price, COALESCE(department_id,0) FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	products := make(map[int64]Product, len(ids))
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name.Ar, &p.Name.En, &p.Unit.Ar, &p.Unit.En, &p.Price, &p.DepartmentID); err != nil {
			return nil, err
		}
		products[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

// GetBranch resolves one branch.
func (r *Repository) GetBranch(ctx context.Context, id int64) (Branch, error) {
	var b Branch
	err := r.pool.QueryRow(ctx, `SELECT id, name, name_en FROM branches WHERE id=$1`, id).
		Scan(&b.ID, &b.Name.Ar, &b.Name.En)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Branch{}, ErrBranchNotFound
		}
		return Branch{}, err
	}
	return b, nil
}

// GetUser resolves one user.
func (r *Repository) GetUser(ctx context.Context, id int64) (User, error) {
	var u User
	err := r.pool.QueryRow(ctx, `SELECT id, username, name, name_en, role, COALESCE(branch_id,0) FROM users WHERE id=$1`, id).
		Scan(&u.ID, &u.Username, &u.Name.Ar, &u.Name.En, &u.Role, &u.BranchID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	return u, nil
}

// GetUsers resolves several users at once, keyed by id.
func (r *Repository) GetUsers(ctx context.Context, ids []int64) (map[int64]User, error) {
	if len(ids) == 0 {
		return map[int64]User{}, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT id, username, name, name_en, role, COALESCE(branch_id,0) FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	users := make(map[int64]User, len(ids))
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Name.Ar, &u.Name.En, &u.Role, &u.BranchID); err != nil {
			return nil, err
		}
		users[u.ID] = u
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

// ListUserIDsByRole returns the ids of all users holding the role.
func (r *Repository) ListUserIDsByRole(ctx context.Context, role shared.Role) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM users WHERE role=$1`, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListUserIDsByBranch returns the ids of branch users for one branch.
func (r *Repository) ListUserIDsByBranch(ctx context.Context, branchID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM users WHERE role=$1 AND branch_id=$2`, shared.RoleBranch, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
