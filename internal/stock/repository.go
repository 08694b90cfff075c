package stock

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cableworks-erp/cableworks-erp/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ RepositoryPort = (*Repository)(nil)

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// GetItem returns one stock item.
func (r *Repository) GetItem(ctx context.Context, id int64) (Item, error) {
	return scanItem(r.pool.QueryRow(ctx, `SELECT id, name, category_id, brand_id, unit_id, quantity_on_hand, unit_cost, created_at, updated_at
FROM stock_items WHERE id=$1`, id))
}

// ListMovements returns trail entries for an item, newest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	query := `SELECT id, item_id, kind, quantity, balance_after, ref_module, ref_id, note, posted_at
FROM stock_movements WHERE item_id=$1`
	args := []any{filter.ItemID}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		query += ` AND posted_at >= $2`
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		if len(args) == 3 {
			query += ` AND posted_at <= $3`
		} else {
			query += ` AND posted_at <= $2`
		}
	}
	query += ` ORDER BY posted_at DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		switch len(args) {
		case 2:
			query += ` LIMIT $2`
		case 3:
			query += ` LIMIT $3`
		case 4:
			query += ` LIMIT $4`
		}
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var movements []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.ItemID, &m.Kind, &m.Quantity, &m.BalanceAfter, &m.RefModule, &m.RefID, &m.Note, &m.PostedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

type txRepo struct {
	tx pgx.Tx
}

var _ TxRepository = (*txRepo)(nil)

// NewTxRepository wraps an existing pgx transaction so another module can
// fold stock mutations into its own unit of work.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

// GetItemForUpdate locks the item row for the duration of the transaction.
func (r *txRepo) GetItemForUpdate(ctx context.Context, id int64) (Item, error) {
	return scanItem(r.tx.QueryRow(ctx, `SELECT id, name, category_id, brand_id, unit_id, quantity_on_hand, unit_cost, created_at, updated_at
FROM stock_items WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepo) UpdateQuantity(ctx context.Context, id int64, qty decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_items SET quantity_on_hand=$2, updated_at=NOW() WHERE id=$1`, id, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *txRepo) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (item_id, kind, quantity, balance_after, ref_module, ref_id, note, posted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		m.ItemID, m.Kind, m.Quantity, m.BalanceAfter, m.RefModule, m.RefID, m.Note, m.PostedAt).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (Item, error) {
	var item Item
	err := row.Scan(&item.ID, &item.Name, &item.CategoryID, &item.BrandID, &item.UnitID, &item.QuantityOnHand, &item.UnitCost, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	return item, nil
}
