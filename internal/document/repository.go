package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/larderhq/larder/internal/ledger"
	"github.com/larderhq/larder/internal/platform/db"
	"github.com/larderhq/larder/internal/shared"
)

// Repository persists documents and their lines in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx opens one serializable transaction covering document and ledger
// rows.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{TxStore: ledger.NewTxStore(tx), tx: tx})
	})
}

type txRepo struct {
	ledger.TxStore
	tx pgx.Tx
}

func (t *txRepo) InsertDocument(ctx context.Context, doc Document) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO documents
(id, kind, code, doc_date, supplier_id, department_id, purpose, status, note, attachments, created_by, created_at)
VALUES ($1, $2, $3, $4, NULLIF($5, 0), NULLIF($6, 0), $7, $8, $9, $10, $11, $12)`,
		doc.ID, string(doc.Kind), doc.Code, doc.DocDate, doc.SupplierID, doc.DepartmentID,
		doc.Purpose, string(doc.Status), doc.Note, doc.Attachments, doc.CreatedBy, doc.CreatedAt)
	return err
}

func (t *txRepo) InsertLines(ctx context.Context, docID uuid.UUID, lines []Line) error {
	for _, line := range lines {
		_, err := t.tx.Exec(ctx, `INSERT INTO document_lines
(document_id, item_id, quantity, unit_price, batch_number, expires_at, condition, export_line_id, est_value, reason)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, 0), $9, $10)`,
			docID, line.ItemID, line.Quantity.String(), line.UnitPrice.String(), line.BatchNumber,
			line.ExpiresAt, string(line.Condition), line.ExportLineID, line.EstValue.String(), line.Reason)
		if err != nil {
			return err
		}
	}
	return nil
}

const documentColumns = `id, kind, code, doc_date, COALESCE(supplier_id, 0), COALESCE(department_id, 0),
purpose, status, note, attachments, created_by, created_at,
COALESCE(approved_by, 0), approved_at, COALESCE(rejected_by, 0), rejected_at, COALESCE(reject_reason, '')`

func (t *txRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (Document, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1 FOR UPDATE`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
		}
		return Document{}, err
	}
	doc.Lines, err = loadLines(ctx, t.tx, id)
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (t *txRepo) MarkApproved(ctx context.Context, id uuid.UUID, actorID int64, at time.Time) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE documents SET status = 'approved', approved_by = $2, approved_at = $3 WHERE id = $1`,
		id, actorID, at)
	return err
}

func (t *txRepo) MarkRejected(ctx context.Context, id uuid.UUID, actorID int64, at time.Time, reason string) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE documents SET status = 'rejected', rejected_by = $2, rejected_at = $3, reject_reason = $4 WHERE id = $1`,
		id, actorID, at, reason)
	return err
}

func (t *txRepo) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `UPDATE documents SET status = 'cancelled' WHERE id = $1`, id)
	return err
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Document, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
		}
		return Document{}, err
	}
	doc.Lines, err = loadLines(ctx, r.pool, id)
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

// GetView assembles the document with joined catalog names.
func (r *Repository) GetView(ctx context.Context, id uuid.UUID) (View, error) {
	doc, err := r.Get(ctx, id)
	if err != nil {
		return View{}, err
	}
	view := View{Document: doc}

	if doc.SupplierID != 0 {
		if err := r.pool.QueryRow(ctx, `SELECT name FROM suppliers WHERE id = $1`, doc.SupplierID).
			Scan(&view.SupplierName); err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return View{}, err
		}
	}
	if doc.DepartmentID != 0 {
		if err := r.pool.QueryRow(ctx, `SELECT name FROM departments WHERE id = $1`, doc.DepartmentID).
			Scan(&view.DepartmentName); err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return View{}, err
		}
	}

	for _, line := range doc.Lines {
		lv := LineView{Line: line}
		err := r.pool.QueryRow(ctx, `SELECT i.name, COALESCE(u.name, '')
FROM items i LEFT JOIN units u ON u.id = i.unit_id WHERE i.id = $1`, line.ItemID).
			Scan(&lv.ItemName, &lv.Unit)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return View{}, err
		}
		view.LineViews = append(view.LineViews, lv)
	}
	return view, nil
}

func (r *Repository) List(ctx context.Context, filter Filter) ([]Document, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		where += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where += fmt.Sprintf(" AND doc_date >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where += fmt.Sprintf(" AND doc_date < $%d", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM documents`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	args = append(args, perPage, (page-1)*perPage)
	query := `SELECT ` + documentColumns + ` FROM documents` + where +
		fmt.Sprintf(` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range docs {
		if docs[i].Lines, err = loadLines(ctx, r.pool, docs[i].ID); err != nil {
			return nil, 0, err
		}
	}
	return docs, total, nil
}

// GetExportLine loads a line of an approved export for return validation.
func (r *Repository) GetExportLine(ctx context.Context, lineID int64) (Line, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+lineColumns+`
FROM document_lines l
JOIN documents d ON d.id = l.document_id
WHERE l.id = $1 AND d.kind = 'export' AND d.status = 'approved'`, lineID)
	line, err := scanLine(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Line{}, fmt.Errorf("export line %d: %w", lineID, shared.ErrNotFound)
		}
		return Line{}, err
	}
	return line, nil
}

const lineColumns = `l.id, l.document_id, l.item_id, l.quantity::text, l.unit_price::text, l.batch_number,
l.expires_at, l.condition, COALESCE(l.export_line_id, 0), l.est_value::text, l.reason`

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadLines(ctx context.Context, q querier, docID uuid.UUID) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT `+lineColumns+`
FROM document_lines l WHERE l.document_id = $1 ORDER BY l.id`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func scanLine(row pgx.Row) (Line, error) {
	var l Line
	var qty, price, estValue, condition string
	if err := row.Scan(&l.ID, &l.DocumentID, &l.ItemID, &qty, &price, &l.BatchNumber,
		&l.ExpiresAt, &condition, &l.ExportLineID, &estValue, &l.Reason); err != nil {
		return Line{}, err
	}
	var err error
	if l.Quantity, err = decimal.NewFromString(qty); err != nil {
		return Line{}, err
	}
	if l.UnitPrice, err = decimal.NewFromString(price); err != nil {
		return Line{}, err
	}
	if l.EstValue, err = decimal.NewFromString(estValue); err != nil {
		return Line{}, err
	}
	l.Condition = ReturnCondition(condition)
	return l, nil
}

func scanDocument(row pgx.Row) (Document, error) {
	var d Document
	var kind, status string
	if err := row.Scan(&d.ID, &kind, &d.Code, &d.DocDate, &d.SupplierID, &d.DepartmentID,
		&d.Purpose, &status, &d.Note, &d.Attachments, &d.CreatedBy, &d.CreatedAt,
		&d.ApprovedBy, &d.ApprovedAt, &d.RejectedBy, &d.RejectedAt, &d.RejectReason); err != nil {
		return Document{}, err
	}
	d.Kind = Kind(kind)
	d.Status = Status(status)
	return d, nil
}
