package recon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/larderhq/larder/internal/document"
	"github.com/larderhq/larder/internal/platform/db"
)

// Repository is the PostgreSQL implementation of RepositoryPort and
// ReportStore.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, rec Reconciliation) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO reconciliations
(id, code, recon_date, shift, department_id, status, note, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			rec.ID, rec.Code, rec.ReconDate, string(rec.Shift), rec.DepartmentID,
			string(rec.Status), rec.Note, rec.CreatedBy, rec.CreatedAt)
		if err != nil {
			return err
		}
		for _, line := range rec.Lines {
			_, err := tx.Exec(ctx, `INSERT INTO reconciliation_lines
(reconciliation_id, item_id, opening_qty, received_qty, withdrawn_qty, sold_qty, wasted_qty,
 staff_meal_qty, sampled_qty, returned_qty, system_qty, actual_qty, discrepancy, discrepancy_rate, note)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
				rec.ID, line.ItemID, line.OpeningQty.String(), line.ReceivedQty.String(),
				line.WithdrawnQty.String(), line.SoldQty.String(), line.WastedQty.String(),
				line.StaffMealQty.String(), line.SampledQty.String(), line.ReturnedQty.String(),
				line.SystemQty.String(), line.ActualQty.String(), line.Discrepancy.String(),
				line.DiscrepancyRate.String(), line.Note)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

const reconColumns = `id, code, recon_date, shift, department_id, status, note, created_by, created_at,
COALESCE(approved_by, 0), approved_at, COALESCE(rejected_by, 0), rejected_at, COALESCE(reject_reason, '')`

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Reconciliation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+reconColumns+` FROM reconciliations WHERE id = $1`, id)
	rec, err := scanRecon(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Reconciliation{}, fmt.Errorf("reconciliation %s: %w", id, document.ErrNotFound)
		}
		return Reconciliation{}, err
	}
	rec.Lines, err = r.loadLines(ctx, id)
	if err != nil {
		return Reconciliation{}, err
	}
	return rec, nil
}

func (r *Repository) List(ctx context.Context, filter Filter) ([]Reconciliation, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Shift != "" {
		args = append(args, string(filter.Shift))
		where += fmt.Sprintf(" AND shift = $%d", len(args))
	}
	if filter.DepartmentID != 0 {
		args = append(args, filter.DepartmentID)
		where += fmt.Sprintf(" AND department_id = $%d", len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where += fmt.Sprintf(" AND recon_date >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where += fmt.Sprintf(" AND recon_date < $%d", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM reconciliations`+where, args...).Scan(&total); err != nil {
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
	rows, err := r.pool.Query(ctx, `SELECT `+reconColumns+` FROM reconciliations`+where+
		fmt.Sprintf(` ORDER BY recon_date DESC, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var recs []Reconciliation
	for rows.Next() {
		rec, err := scanRecon(rows)
		if err != nil {
			return nil, 0, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range recs {
		if recs[i].Lines, err = r.loadLines(ctx, recs[i].ID); err != nil {
			return nil, 0, err
		}
	}
	return recs, total, nil
}

func (r *Repository) Approve(ctx context.Context, id uuid.UUID, actorID int64, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE reconciliations
SET status = 'approved', approved_by = $2, approved_at = $3
WHERE id = $1 AND status = 'pending'`, id, actorID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.explainNoFlip(ctx, id)
	}
	return nil
}

func (r *Repository) Reject(ctx context.Context, id uuid.UUID, actorID int64, at time.Time, reason string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE reconciliations
SET status = 'rejected', rejected_by = $2, rejected_at = $3, reject_reason = $4
WHERE id = $1 AND status = 'pending'`, id, actorID, at, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.explainNoFlip(ctx, id)
	}
	return nil
}

// explainNoFlip distinguishes a missing sheet from a terminal one after a
// guarded update matched nothing.
func (r *Repository) explainNoFlip(ctx context.Context, id uuid.UUID) error {
	var status string
	err := r.pool.QueryRow(ctx, `SELECT status FROM reconciliations WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("reconciliation %s: %w", id, document.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: reconciliation %s is %s", document.ErrNotPending, id, status)
}

// reportArgs builds the filter conditions appended after the approved
// status guard.
func (r *Repository) reportArgs(filter ReportFilter) (string, []any) {
	where := ""
	args := []any{}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where += fmt.Sprintf(" AND rc.recon_date >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where += fmt.Sprintf(" AND rc.recon_date < $%d", len(args))
	}
	if filter.DepartmentID != 0 {
		args = append(args, filter.DepartmentID)
		where += fmt.Sprintf(" AND rc.department_id = $%d", len(args))
	}
	if filter.Shift != "" {
		args = append(args, string(filter.Shift))
		where += fmt.Sprintf(" AND rc.shift = $%d", len(args))
	}
	return where, args
}

func (r *Repository) DiscrepancyLines(ctx context.Context, filter ReportFilter) ([]ReportLine, error) {
	where, args := r.reportArgs(filter)
	query := `SELECT l.item_id, COALESCE(i.name, ''),
COALESCE(SUM(l.system_qty), 0)::text, COALESCE(SUM(l.actual_qty), 0)::text,
COALESCE(SUM(l.discrepancy), 0)::text,
COALESCE(SUM(GREATEST(l.discrepancy, 0)), 0)::text,
COALESCE(SUM(LEAST(l.discrepancy, 0)), 0)::text,
COALESCE(SUM(ABS(l.discrepancy) * COALESCE(i.unit_cost, 0)), 0)::text,
COUNT(DISTINCT rc.id)
FROM reconciliation_lines l
JOIN reconciliations rc ON rc.id = l.reconciliation_id
LEFT JOIN items i ON i.id = l.item_id
WHERE rc.status = 'approved'` + where + `
GROUP BY l.item_id, i.name
ORDER BY SUM(ABS(l.discrepancy)) DESC`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []ReportLine
	for rows.Next() {
		var line ReportLine
		var system, actual, disc, surplus, shortage, loss string
		if err := rows.Scan(&line.ItemID, &line.ItemName, &system, &actual, &disc,
			&surplus, &shortage, &loss, &line.SheetCount); err != nil {
			return nil, err
		}
		if line.TotalSystem, err = decimal.NewFromString(system); err != nil {
			return nil, err
		}
		if line.TotalActual, err = decimal.NewFromString(actual); err != nil {
			return nil, err
		}
		if line.TotalDiscrepancy, err = decimal.NewFromString(disc); err != nil {
			return nil, err
		}
		if line.Surplus, err = decimal.NewFromString(surplus); err != nil {
			return nil, err
		}
		if line.Shortage, err = decimal.NewFromString(shortage); err != nil {
			return nil, err
		}
		if line.EstimatedLoss, err = decimal.NewFromString(loss); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (r *Repository) TotalsByShift(ctx context.Context, filter ReportFilter) ([]ShiftTotal, error) {
	where, args := r.reportArgs(filter)
	query := `SELECT rc.shift,
COALESCE(SUM(l.discrepancy), 0)::text,
COALESCE(SUM(ABS(l.discrepancy) * COALESCE(i.unit_cost, 0)), 0)::text,
COUNT(DISTINCT rc.id)
FROM reconciliation_lines l
JOIN reconciliations rc ON rc.id = l.reconciliation_id
LEFT JOIN items i ON i.id = l.item_id
WHERE rc.status = 'approved'` + where + `
GROUP BY rc.shift ORDER BY rc.shift`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var totals []ShiftTotal
	for rows.Next() {
		var t ShiftTotal
		var shift, disc, loss string
		if err := rows.Scan(&shift, &disc, &loss, &t.SheetCount); err != nil {
			return nil, err
		}
		t.Shift = Shift(shift)
		if t.TotalDiscrepancy, err = decimal.NewFromString(disc); err != nil {
			return nil, err
		}
		if t.EstimatedLoss, err = decimal.NewFromString(loss); err != nil {
			return nil, err
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

func (r *Repository) TotalsByDepartment(ctx context.Context, filter ReportFilter) ([]DepartmentTotal, error) {
	where, args := r.reportArgs(filter)
	query := `SELECT rc.department_id, COALESCE(d.name, ''),
COALESCE(SUM(l.discrepancy), 0)::text,
COALESCE(SUM(ABS(l.discrepancy) * COALESCE(i.unit_cost, 0)), 0)::text,
COUNT(DISTINCT rc.id)
FROM reconciliation_lines l
JOIN reconciliations rc ON rc.id = l.reconciliation_id
LEFT JOIN items i ON i.id = l.item_id
LEFT JOIN departments d ON d.id = rc.department_id
WHERE rc.status = 'approved'` + where + `
GROUP BY rc.department_id, d.name ORDER BY rc.department_id`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var totals []DepartmentTotal
	for rows.Next() {
		var t DepartmentTotal
		var disc, loss string
		if err := rows.Scan(&t.DepartmentID, &t.DepartmentName, &disc, &loss, &t.SheetCount); err != nil {
			return nil, err
		}
		if t.TotalDiscrepancy, err = decimal.NewFromString(disc); err != nil {
			return nil, err
		}
		if t.EstimatedLoss, err = decimal.NewFromString(loss); err != nil {
			return nil, err
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

const lineColumns = `id, item_id, opening_qty::text, received_qty::text, withdrawn_qty::text, sold_qty::text,
wasted_qty::text, staff_meal_qty::text, sampled_qty::text, returned_qty::text,
system_qty::text, actual_qty::text, discrepancy::text, discrepancy_rate::text, note`

func (r *Repository) loadLines(ctx context.Context, id uuid.UUID) ([]Line, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+lineColumns+` FROM reconciliation_lines WHERE reconciliation_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var l Line
		raw := make([]string, 13)
		if err := rows.Scan(&l.ID, &l.ItemID, &raw[0], &raw[1], &raw[2], &raw[3], &raw[4],
			&raw[5], &raw[6], &raw[7], &raw[8], &raw[9], &raw[10], &raw[11], &l.Note); err != nil {
			return nil, err
		}
		targets := []*decimal.Decimal{
			&l.OpeningQty, &l.ReceivedQty, &l.WithdrawnQty, &l.SoldQty, &l.WastedQty,
			&l.StaffMealQty, &l.SampledQty, &l.ReturnedQty, &l.SystemQty, &l.ActualQty,
			&l.Discrepancy, &l.DiscrepancyRate,
		}
		for i, target := range targets {
			if *target, err = decimal.NewFromString(raw[i]); err != nil {
				return nil, err
			}
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func scanRecon(row pgx.Row) (Reconciliation, error) {
	var rec Reconciliation
	var shift, status string
	if err := row.Scan(&rec.ID, &rec.Code, &rec.ReconDate, &shift, &rec.DepartmentID,
		&status, &rec.Note, &rec.CreatedBy, &rec.CreatedAt,
		&rec.ApprovedBy, &rec.ApprovedAt, &rec.RejectedBy, &rec.RejectedAt, &rec.RejectReason); err != nil {
		return Reconciliation{}, err
	}
	rec.Shift = Shift(shift)
	rec.Status = document.Status(status)
	return rec, nil
}
