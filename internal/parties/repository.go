package parties

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateParty inserts a party with a zero opening balance.
func (r *Repository) CreateParty(ctx context.Context, input PartyInput) (Party, error) {
	var p Party
	err := r.pool.QueryRow(ctx, `INSERT INTO parties (name, type, phone, address, current_balance, created_at, updated_at)
VALUES ($1, $2, $3, $4, 0, NOW(), NOW())
RETURNING id, name, type, phone, address, current_balance, created_at, updated_at`,
		input.Name, input.Type, input.Phone, input.Address).
		Scan(&p.ID, &p.Name, &p.Type, &p.Phone, &p.Address, &p.CurrentBalance, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Party{}, err
	}
	return p, nil
}

// GetParty returns one party by id.
func (r *Repository) GetParty(ctx context.Context, id int64) (Party, error) {
	var p Party
	err := r.pool.QueryRow(ctx, `SELECT id, name, type, phone, address, current_balance, created_at, updated_at
FROM parties WHERE id=$1`, id).
		Scan(&p.ID, &p.Name, &p.Type, &p.Phone, &p.Address, &p.CurrentBalance, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Party{}, ErrPartyNotFound
		}
		return Party{}, err
	}
	return p, nil
}

// ListParties returns parties ordered by name, optionally filtered by type.
func (r *Repository) ListParties(ctx context.Context, typ PartyType) ([]Party, error) {
	query := `SELECT id, name, type, phone, address, current_balance, created_at, updated_at FROM parties`
	args := []any{}
	if typ != "" {
		query += ` WHERE type=$1`
		args = append(args, typ)
	}
	query += ` ORDER BY name`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Party
	for rows.Next() {
		var p Party
		if err := rows.Scan(&p.ID, &p.Name, &p.Type, &p.Phone, &p.Address, &p.CurrentBalance, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListBalances returns id, type and stored balance for every party. Used by
// the ledger integrity job.
func (r *Repository) ListBalances(ctx context.Context) ([]PartyBalance, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, type, current_balance FROM parties ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []PartyBalance
	for rows.Next() {
		var b PartyBalance
		if err := rows.Scan(&b.PartyID, &b.Type, &b.Stored); err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// PartyBalance pairs a party with its stored balance.
type PartyBalance struct {
	PartyID int64
	Type    PartyType
	Stored  decimal.Decimal
}
