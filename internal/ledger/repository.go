package ledger

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads ledger rows from the party_ledger_entries view, which
// unions invoice headers and payments per party.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ TransactionQuery = (*Repository)(nil)

// FetchPartyTransactions returns a party's ledger rows ordered by date,
// ties broken by invoice number.
func (r *Repository) FetchPartyTransactions(ctx context.Context, partyID int64, rng DateRange) ([]Transaction, error) {
	query := `SELECT invoice_number, tx_date, kind, gross_amount, discount, paid_amount, return_amount
FROM party_ledger_entries WHERE party_id=$1`
	args := []any{partyID}
	if !rng.From.IsZero() {
		args = append(args, rng.From)
		query += ` AND tx_date >= $2`
	}
	if !rng.To.IsZero() {
		args = append(args, rng.To)
		if len(args) == 3 {
			query += ` AND tx_date <= $3`
		} else {
			query += ` AND tx_date <= $2`
		}
	}
	query += ` ORDER BY tx_date, invoice_number`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var txs []Transaction
	for rows.Next() {
		var tx Transaction
		if err := rows.Scan(&tx.InvoiceNumber, &tx.Date, &tx.Kind, &tx.GrossAmount, &tx.Discount, &tx.PaidAmount, &tx.ReturnAmount); err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txs, nil
}
