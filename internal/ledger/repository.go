package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/larderhq/larder/internal/platform/db"
)

// Repository persists the batch store, aggregates and the movement log in
// PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside one serializable transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{tx: tx})
	})
}

type txStore struct {
	tx pgx.Tx
}

// NewTxStore wraps an already-open transaction. Document workflows use it
// to mutate ledger rows and document rows inside one unit of work.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txStore{tx: tx}
}

const batchColumns = `id, item_id, batch_number, initial_qty::text, current_qty::text, unit_cost::text,
received_at, expires_at, COALESCE(supplier_id, 0), status`

// Batches are locked in received order; every consumer acquiring locks in
// the same order keeps concurrent approvals over one item deadlock-free.
func (s *txStore) ActiveBatchesForUpdate(ctx context.Context, itemID int64) ([]Batch, error) {
	rows, err := s.tx.Query(ctx, `SELECT `+batchColumns+`
FROM inventory_batches WHERE item_id = $1 AND status = 'active'
ORDER BY received_at, id FOR UPDATE`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBatches(rows)
}

func (s *txStore) InsertBatch(ctx context.Context, batch Batch) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `INSERT INTO inventory_batches
(item_id, batch_number, initial_qty, current_qty, unit_cost, received_at, expires_at, supplier_id, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, 0), $9)
RETURNING id`,
		batch.ItemID, batch.BatchNumber, batch.InitialQty.String(), batch.CurrentQty.String(),
		batch.UnitCost.String(), batch.ReceivedAt, batch.ExpiresAt, batch.SupplierID, string(batch.Status),
	).Scan(&id)
	return id, err
}

func (s *txStore) UpdateBatch(ctx context.Context, batchID int64, currentQty decimal.Decimal, status BatchStatus) error {
	_, err := s.tx.Exec(ctx, `UPDATE inventory_batches SET current_qty = $2, status = $3 WHERE id = $1`,
		batchID, currentQty.String(), string(status))
	return err
}

func (s *txStore) GetStockForUpdate(ctx context.Context, itemID int64) (Stock, error) {
	row := s.tx.QueryRow(ctx, `SELECT item_id, current_stock::text, reserved_stock::text, available_stock::text,
avg_cost::text, total_value::text, next_expiry, updated_at
FROM stock_levels WHERE item_id = $1 FOR UPDATE`, itemID)
	stock, err := scanStock(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Stock{}, ErrStockNotFound
		}
		return Stock{}, err
	}
	return stock, nil
}

func (s *txStore) UpsertStock(ctx context.Context, stock Stock) error {
	_, err := s.tx.Exec(ctx, `INSERT INTO stock_levels
(item_id, current_stock, reserved_stock, available_stock, avg_cost, total_value, next_expiry, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (item_id) DO UPDATE SET
current_stock = EXCLUDED.current_stock,
reserved_stock = EXCLUDED.reserved_stock,
available_stock = EXCLUDED.available_stock,
avg_cost = EXCLUDED.avg_cost,
total_value = EXCLUDED.total_value,
next_expiry = EXCLUDED.next_expiry,
updated_at = EXCLUDED.updated_at`,
		stock.ItemID, stock.CurrentStock.String(), stock.ReservedStock.String(), stock.AvailableStock.String(),
		stock.AvgCost.String(), stock.TotalValue.String(), stock.NextExpiry, stock.UpdatedAt)
	return err
}

func (s *txStore) InsertTransaction(ctx context.Context, t Transaction) (int64, error) {
	var docID any
	if t.DocumentID != uuid.Nil {
		docID = t.DocumentID
	}
	var id int64
	err := s.tx.QueryRow(ctx, `INSERT INTO stock_transactions
(tx_type, item_id, batch_id, quantity, unit_cost, document_id, processed_by, note)
VALUES ($1, $2, NULLIF($3, 0), $4, $5, $6, $7, $8)
RETURNING id`,
		string(t.Type), t.ItemID, t.BatchID, t.Quantity.String(), t.UnitCost.String(),
		docID, t.ProcessedBy, t.Note,
	).Scan(&id)
	return id, err
}

func (r *Repository) GetStock(ctx context.Context, itemID int64) (Stock, error) {
	row := r.pool.QueryRow(ctx, `SELECT item_id, current_stock::text, reserved_stock::text, available_stock::text,
avg_cost::text, total_value::text, next_expiry, updated_at
FROM stock_levels WHERE item_id = $1`, itemID)
	stock, err := scanStock(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Stock{}, ErrStockNotFound
		}
		return Stock{}, err
	}
	return stock, nil
}

func (r *Repository) ListStock(ctx context.Context) ([]Stock, error) {
	rows, err := r.pool.Query(ctx, `SELECT item_id, current_stock::text, reserved_stock::text, available_stock::text,
avg_cost::text, total_value::text, next_expiry, updated_at
FROM stock_levels ORDER BY item_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var stocks []Stock
	for rows.Next() {
		stock, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		stocks = append(stocks, stock)
	}
	return stocks, rows.Err()
}

func (r *Repository) ListBatches(ctx context.Context, itemID int64) ([]Batch, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+batchColumns+`
FROM inventory_batches WHERE item_id = $1 ORDER BY received_at, id`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBatches(rows)
}

func (r *Repository) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	query := `SELECT id, tx_type, item_id, COALESCE(batch_id, 0), quantity::text, unit_cost::text,
COALESCE(document_id, '00000000-0000-0000-0000-000000000000'::uuid), processed_by, note, created_at
FROM stock_transactions WHERE 1=1`
	args := []any{}
	if filter.ItemID != 0 {
		args = append(args, filter.ItemID)
		query += fmt.Sprintf(" AND item_id = $%d", len(args))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		query += fmt.Sprintf(" AND tx_type = $%d", len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var txs []Transaction
	for rows.Next() {
		var t Transaction
		var txType string
		var qty, cost string
		if err := rows.Scan(&t.ID, &txType, &t.ItemID, &t.BatchID, &qty, &cost,
			&t.DocumentID, &t.ProcessedBy, &t.Note, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Type = TxType(txType)
		if t.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, err
		}
		if t.UnitCost, err = decimal.NewFromString(cost); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func (r *Repository) ListExpiredActive(ctx context.Context, now time.Time) ([]Batch, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+batchColumns+`
FROM inventory_batches
WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at <= $1
ORDER BY expires_at`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBatches(rows)
}

func (r *Repository) GetBatchForUpdate(ctx context.Context, tx TxStore, batchID int64) (Batch, error) {
	store, ok := tx.(*txStore)
	if !ok {
		return Batch{}, errors.New("ledger: tx store mismatch")
	}
	rows, err := store.tx.Query(ctx, `SELECT `+batchColumns+`
FROM inventory_batches WHERE id = $1 FOR UPDATE`, batchID)
	if err != nil {
		return Batch{}, err
	}
	defer rows.Close()
	batches, err := scanBatches(rows)
	if err != nil {
		return Batch{}, err
	}
	if len(batches) == 0 {
		return Batch{}, fmt.Errorf("batch %d: %w", batchID, ErrStockNotFound)
	}
	return batches[0], nil
}

func (r *Repository) ListBelowMinimum(ctx context.Context) ([]LowStockItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT i.id, i.name, s.current_stock::text, i.min_quantity::text
FROM items i
JOIN stock_levels s ON s.item_id = i.id
WHERE i.active AND i.min_quantity > 0 AND s.current_stock < i.min_quantity
ORDER BY i.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []LowStockItem
	for rows.Next() {
		var item LowStockItem
		var current, minStock string
		if err := rows.Scan(&item.ItemID, &item.Name, &current, &minStock); err != nil {
			return nil, err
		}
		if item.CurrentStock, err = decimal.NewFromString(current); err != nil {
			return nil, err
		}
		if item.MinStock, err = decimal.NewFromString(minStock); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanBatches(rows pgx.Rows) ([]Batch, error) {
	var batches []Batch
	for rows.Next() {
		var b Batch
		var initial, current, cost, status string
		if err := rows.Scan(&b.ID, &b.ItemID, &b.BatchNumber, &initial, &current, &cost,
			&b.ReceivedAt, &b.ExpiresAt, &b.SupplierID, &status); err != nil {
			return nil, err
		}
		var err error
		if b.InitialQty, err = decimal.NewFromString(initial); err != nil {
			return nil, err
		}
		if b.CurrentQty, err = decimal.NewFromString(current); err != nil {
			return nil, err
		}
		if b.UnitCost, err = decimal.NewFromString(cost); err != nil {
			return nil, err
		}
		b.Status = BatchStatus(status)
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func scanStock(row pgx.Row) (Stock, error) {
	var s Stock
	var current, reserved, available, avg, value string
	if err := row.Scan(&s.ItemID, &current, &reserved, &available, &avg, &value,
		&s.NextExpiry, &s.UpdatedAt); err != nil {
		return Stock{}, err
	}
	var err error
	if s.CurrentStock, err = decimal.NewFromString(current); err != nil {
		return Stock{}, err
	}
	if s.ReservedStock, err = decimal.NewFromString(reserved); err != nil {
		return Stock{}, err
	}
	if s.AvailableStock, err = decimal.NewFromString(available); err != nil {
		return Stock{}, err
	}
	if s.AvgCost, err = decimal.NewFromString(avg); err != nil {
		return Stock{}, err
	}
	if s.TotalValue, err = decimal.NewFromString(value); err != nil {
		return Stock{}, err
	}
	return s, nil
}
