package invoicing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cableworks-erp/cableworks-erp/internal/parties"
	"github.com/cableworks-erp/cableworks-erp/internal/platform/db"
	"github.com/cableworks-erp/cableworks-erp/internal/stock"
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

// WithTx wraps callback in a repeatable-read transaction covering invoice,
// stock and balance writes.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, TxRepository: stock.NewTxRepository(tx)})
	})
}

// GetInvoiceWithLines returns one invoice header with its lines.
func (r *Repository) GetInvoiceWithLines(ctx context.Context, id int64) (InvoiceWithLines, error) {
	var inv Invoice
	err := r.pool.QueryRow(ctx, `SELECT id, number, number_prefix, sequence, kind, party_id, invoice_date, gross_amount, discount, total, status, ref_invoice_id, created_by, created_at
FROM invoices WHERE id=$1`, id).
		Scan(&inv.ID, &inv.Number, &inv.NumberPrefix, &inv.Sequence, &inv.Kind, &inv.PartyID, &inv.Date, &inv.GrossAmount, &inv.Discount, &inv.Total, &inv.Status, &inv.RefInvoiceID, &inv.CreatedBy, &inv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return InvoiceWithLines{}, ErrInvoiceNotFound
		}
		return InvoiceWithLines{}, err
	}

	rows, err := r.pool.Query(ctx, `SELECT id, invoice_id, stock_item_id, quantity, unit_price, line_total
FROM invoice_lines WHERE invoice_id=$1 ORDER BY id`, id)
	if err != nil {
		return InvoiceWithLines{}, err
	}
	defer rows.Close()
	result := InvoiceWithLines{Invoice: inv}
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.StockItemID, &l.Quantity, &l.UnitPrice, &l.LineTotal); err != nil {
			return InvoiceWithLines{}, err
		}
		result.Lines = append(result.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return InvoiceWithLines{}, err
	}
	return result, nil
}

// SumReturnedQuantities aggregates posted return quantities per stock item
// for one original invoice.
func (r *Repository) SumReturnedQuantities(ctx context.Context, originalInvoiceID int64) (map[int64]decimal.Decimal, error) {
	rows, err := r.pool.Query(ctx, `SELECT l.stock_item_id, COALESCE(SUM(l.quantity), 0)
FROM invoice_lines l
JOIN invoices i ON i.id = l.invoice_id
WHERE i.ref_invoice_id = $1 AND i.kind IN ('PURCHASE_RETURN','SALE_RETURN') AND i.status = 'POSTED'
GROUP BY l.stock_item_id`, originalInvoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make(map[int64]decimal.Decimal)
	for rows.Next() {
		var itemID int64
		var qty decimal.Decimal
		if err := rows.Scan(&itemID, &qty); err != nil {
			return nil, err
		}
		result[itemID] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type txRepo struct {
	tx pgx.Tx
	stock.TxRepository
}

var _ TxRepository = (*txRepo)(nil)

// InsertInvoice persists the header. A unique-constraint violation on the
// invoice number maps to ErrDuplicateNumber for the retry protocol.
func (r *txRepo) InsertInvoice(ctx context.Context, inv Invoice) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO invoices (number, number_prefix, sequence, kind, party_id, invoice_date, gross_amount, discount, total, status, ref_invoice_id, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW()) RETURNING id`,
		inv.Number, inv.NumberPrefix, inv.Sequence, inv.Kind, inv.PartyID, inv.Date, inv.GrossAmount, inv.Discount, inv.Total, inv.Status, inv.RefInvoiceID, inv.CreatedBy).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateNumber
		}
		return 0, err
	}
	return id, nil
}

func (r *txRepo) InsertLines(ctx context.Context, invoiceID int64, lines []Line) error {
	for _, l := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO invoice_lines (invoice_id, stock_item_id, quantity, unit_price, line_total)
VALUES ($1, $2, $3, $4, $5)`, invoiceID, l.StockItemID, l.Quantity, l.UnitPrice, l.LineTotal); err != nil {
			return err
		}
	}
	return nil
}

// SumReturnedQuantities reads already-returned quantities inside the
// transaction for the posting-time bound re-check.
func (r *txRepo) SumReturnedQuantities(ctx context.Context, originalInvoiceID int64) (map[int64]decimal.Decimal, error) {
	rows, err := r.tx.Query(ctx, `SELECT l.stock_item_id, COALESCE(SUM(l.quantity), 0)
FROM invoice_lines l
JOIN invoices i ON i.id = l.invoice_id
WHERE i.ref_invoice_id = $1 AND i.kind IN ('PURCHASE_RETURN','SALE_RETURN') AND i.status = 'POSTED'
GROUP BY l.stock_item_id`, originalInvoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := make(map[int64]decimal.Decimal)
	for rows.Next() {
		var itemID int64
		var qty decimal.Decimal
		if err := rows.Scan(&itemID, &qty); err != nil {
			return nil, err
		}
		result[itemID] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// GetPartyForUpdate locks the party row so concurrent postings against the
// same party serialize on the balance.
func (r *txRepo) GetPartyForUpdate(ctx context.Context, partyID int64) (parties.Party, error) {
	var p parties.Party
	err := r.tx.QueryRow(ctx, `SELECT id, name, type, phone, address, current_balance, created_at, updated_at
FROM parties WHERE id=$1 FOR UPDATE`, partyID).
		Scan(&p.ID, &p.Name, &p.Type, &p.Phone, &p.Address, &p.CurrentBalance, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return parties.Party{}, parties.ErrPartyNotFound
		}
		return parties.Party{}, err
	}
	return p, nil
}

func (r *txRepo) UpdatePartyBalance(ctx context.Context, partyID int64, balance decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE parties SET current_balance=$2, updated_at=NOW() WHERE id=$1`, partyID, balance)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return parties.ErrPartyNotFound
	}
	return nil
}

func (r *txRepo) MaxSequenceForPrefix(ctx context.Context, prefix string) (int64, error) {
	var max int64
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM invoices WHERE number_prefix=$1`, prefix).Scan(&max)
	if err != nil {
		return 0, err
	}
	return max, nil
}

func (r *txRepo) NextSequence(ctx context.Context, prefix string) (int64, error) {
	var seq int64
	err := r.tx.QueryRow(ctx, `INSERT INTO invoice_counters (prefix, last_sequence) VALUES ($1, 1)
ON CONFLICT (prefix) DO UPDATE SET last_sequence = invoice_counters.last_sequence + 1
RETURNING last_sequence`, prefix).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq, nil
}
