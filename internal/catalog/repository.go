package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PgRepository is the PostgreSQL implementation of Repository.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PgRepository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *PgRepository) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, created_at FROM categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cats []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

func (r *PgRepository) CreateCategory(ctx context.Context, cat Category) (Category, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO categories (name, name_folded) VALUES ($1, $2) RETURNING id, created_at`,
		cat.Name, Fold(cat.Name)).Scan(&cat.ID, &cat.CreatedAt)
	if isUniqueViolation(err) {
		return Category{}, fmt.Errorf("category %q: %w", cat.Name, ErrDuplicate)
	}
	return cat, err
}

func (r *PgRepository) GetCategoryByFoldedName(ctx context.Context, folded string) (Category, error) {
	var c Category
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, created_at FROM categories WHERE name_folded = $1`, folded).
		Scan(&c.ID, &c.Name, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Category{}, fmt.Errorf("category %q: %w", folded, ErrNotFound)
	}
	return c, err
}

func (r *PgRepository) ListUnits(ctx context.Context) ([]Unit, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, created_at FROM units ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var units []Unit
	for rows.Next() {
		var u Unit
		if err := rows.Scan(&u.ID, &u.Name, &u.CreatedAt); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func (r *PgRepository) CreateUnit(ctx context.Context, unit Unit) (Unit, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO units (name, name_folded) VALUES ($1, $2) RETURNING id, created_at`,
		unit.Name, Fold(unit.Name)).Scan(&unit.ID, &unit.CreatedAt)
	if isUniqueViolation(err) {
		return Unit{}, fmt.Errorf("unit %q: %w", unit.Name, ErrDuplicate)
	}
	return unit, err
}

func (r *PgRepository) GetUnitByFoldedName(ctx context.Context, folded string) (Unit, error) {
	var u Unit
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, created_at FROM units WHERE name_folded = $1`, folded).
		Scan(&u.ID, &u.Name, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Unit{}, fmt.Errorf("unit %q: %w", folded, ErrNotFound)
	}
	return u, err
}

const supplierColumns = `id, name, COALESCE(phone, ''), COALESCE(address, ''), active, created_at`

func (r *PgRepository) ListSuppliers(ctx context.Context, activeOnly bool) ([]Supplier, error) {
	query := `SELECT ` + supplierColumns + ` FROM suppliers`
	if activeOnly {
		query += ` WHERE active`
	}
	rows, err := r.pool.Query(ctx, query+` ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var suppliers []Supplier
	for rows.Next() {
		var s Supplier
		if err := rows.Scan(&s.ID, &s.Name, &s.Phone, &s.Address, &s.Active, &s.CreatedAt); err != nil {
			return nil, err
		}
		suppliers = append(suppliers, s)
	}
	return suppliers, rows.Err()
}

func (r *PgRepository) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	var s Supplier
	err := r.pool.QueryRow(ctx,
		`SELECT `+supplierColumns+` FROM suppliers WHERE id = $1`, id).
		Scan(&s.ID, &s.Name, &s.Phone, &s.Address, &s.Active, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Supplier{}, fmt.Errorf("supplier %d: %w", id, ErrNotFound)
	}
	return s, err
}

func (r *PgRepository) GetSupplierByFoldedName(ctx context.Context, folded string) (Supplier, error) {
	var s Supplier
	err := r.pool.QueryRow(ctx,
		`SELECT `+supplierColumns+` FROM suppliers WHERE name_folded = $1`, folded).
		Scan(&s.ID, &s.Name, &s.Phone, &s.Address, &s.Active, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Supplier{}, fmt.Errorf("supplier %q: %w", folded, ErrNotFound)
	}
	return s, err
}

func (r *PgRepository) CreateSupplier(ctx context.Context, supplier Supplier) (Supplier, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO suppliers (name, name_folded, phone, address, active)
VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		supplier.Name, Fold(supplier.Name), supplier.Phone, supplier.Address, supplier.Active).
		Scan(&supplier.ID, &supplier.CreatedAt)
	if isUniqueViolation(err) {
		return Supplier{}, fmt.Errorf("supplier %q: %w", supplier.Name, ErrDuplicate)
	}
	return supplier, err
}

func (r *PgRepository) UpdateSupplier(ctx context.Context, supplier Supplier) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE suppliers SET name = $2, name_folded = $3, phone = $4, address = $5, active = $6 WHERE id = $1`,
		supplier.ID, supplier.Name, Fold(supplier.Name), supplier.Phone, supplier.Address, supplier.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("supplier %q: %w", supplier.Name, ErrDuplicate)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("supplier %d: %w", supplier.ID, ErrNotFound)
	}
	return nil
}

func (r *PgRepository) ListDepartments(ctx context.Context, activeOnly bool) ([]Department, error) {
	query := `SELECT id, name, active, created_at FROM departments`
	if activeOnly {
		query += ` WHERE active`
	}
	rows, err := r.pool.Query(ctx, query+` ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var depts []Department
	for rows.Next() {
		var d Department
		if err := rows.Scan(&d.ID, &d.Name, &d.Active, &d.CreatedAt); err != nil {
			return nil, err
		}
		depts = append(depts, d)
	}
	return depts, rows.Err()
}

func (r *PgRepository) GetDepartment(ctx context.Context, id int64) (Department, error) {
	var d Department
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, active, created_at FROM departments WHERE id = $1`, id).
		Scan(&d.ID, &d.Name, &d.Active, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Department{}, fmt.Errorf("department %d: %w", id, ErrNotFound)
	}
	return d, err
}

func (r *PgRepository) GetDepartmentByFoldedName(ctx context.Context, folded string) (Department, error) {
	var d Department
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, active, created_at FROM departments WHERE name_folded = $1`, folded).
		Scan(&d.ID, &d.Name, &d.Active, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Department{}, fmt.Errorf("department %q: %w", folded, ErrNotFound)
	}
	return d, err
}

func (r *PgRepository) CreateDepartment(ctx context.Context, dept Department) (Department, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO departments (name, name_folded, active) VALUES ($1, $2, $3) RETURNING id, created_at`,
		dept.Name, Fold(dept.Name), dept.Active).Scan(&dept.ID, &dept.CreatedAt)
	if isUniqueViolation(err) {
		return Department{}, fmt.Errorf("department %q: %w", dept.Name, ErrDuplicate)
	}
	return dept, err
}

func (r *PgRepository) UpdateDepartment(ctx context.Context, dept Department) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE departments SET name = $2, name_folded = $3, active = $4 WHERE id = $1`,
		dept.ID, dept.Name, Fold(dept.Name), dept.Active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("department %d: %w", dept.ID, ErrNotFound)
	}
	return nil
}

const itemColumns = `id, name, name_folded, COALESCE(sku, ''), COALESCE(category_id, 0), COALESCE(unit_id, 0),
unit_cost::text, min_quantity::text, max_quantity::text, shelf_life_days, active, created_at, updated_at`

func (r *PgRepository) ListItems(ctx context.Context, filter ItemFilter) ([]Item, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		where += fmt.Sprintf(" AND name_folded LIKE $%d", len(args))
	}
	if filter.CategoryID != 0 {
		args = append(args, filter.CategoryID)
		where += fmt.Sprintf(" AND category_id = $%d", len(args))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		where += fmt.Sprintf(" AND active = $%d", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM items`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 50
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	args = append(args, perPage, (page-1)*perPage)
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM items`+where+
		fmt.Sprintf(` ORDER BY name LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, item)
	}
	return items, total, rows.Err()
}

func (r *PgRepository) GetItem(ctx context.Context, id int64) (Item, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id)
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, fmt.Errorf("item %d: %w", id, ErrNotFound)
	}
	return item, err
}

func (r *PgRepository) GetItemByFoldedName(ctx context.Context, folded string) (Item, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE name_folded = $1`, folded)
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, fmt.Errorf("item %q: %w", folded, ErrNotFound)
	}
	return item, err
}

func (r *PgRepository) CreateItem(ctx context.Context, item Item) (Item, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO items
(name, name_folded, sku, category_id, unit_id, unit_cost, min_quantity, max_quantity, shelf_life_days, active)
VALUES ($1, $2, $3, NULLIF($4, 0), NULLIF($5, 0), $6, $7, $8, $9, $10)
RETURNING id, created_at, updated_at`,
		item.Name, item.NameFolded, item.SKU, item.CategoryID, item.UnitID,
		item.UnitCost.String(), item.MinQuantity.String(), item.MaxQuantity.String(), item.ShelfLife, item.Active).
		Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
	if isUniqueViolation(err) {
		return Item{}, fmt.Errorf("item %q: %w", item.Name, ErrDuplicate)
	}
	return item, err
}

func (r *PgRepository) UpdateItem(ctx context.Context, item Item) error {
	tag, err := r.pool.Exec(ctx, `UPDATE items SET
name = $2, name_folded = $3, sku = $4, category_id = NULLIF($5, 0), unit_id = NULLIF($6, 0),
unit_cost = $7, min_quantity = $8, max_quantity = $9, shelf_life_days = $10, active = $11, updated_at = now()
WHERE id = $1`,
		item.ID, item.Name, item.NameFolded, item.SKU, item.CategoryID, item.UnitID,
		item.UnitCost.String(), item.MinQuantity.String(), item.MaxQuantity.String(), item.ShelfLife, item.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("item %q: %w", item.Name, ErrDuplicate)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %d: %w", item.ID, ErrNotFound)
	}
	return nil
}

func (r *PgRepository) ItemReferenced(ctx context.Context, id int64) (bool, error) {
	var referenced bool
	err := r.pool.QueryRow(ctx, `SELECT
EXISTS (SELECT 1 FROM document_lines WHERE item_id = $1)
OR EXISTS (SELECT 1 FROM inventory_batches WHERE item_id = $1)`, id).Scan(&referenced)
	return referenced, err
}

func (r *PgRepository) DeleteItem(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM items WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("item %d: %w", id, ErrNotFound)
	}
	return nil
}

func scanItem(row pgx.Row) (Item, error) {
	var item Item
	var cost, minQty, maxQty string
	if err := row.Scan(&item.ID, &item.Name, &item.NameFolded, &item.SKU, &item.CategoryID,
		&item.UnitID, &cost, &minQty, &maxQty, &item.ShelfLife, &item.Active,
		&item.CreatedAt, &item.UpdatedAt); err != nil {
		return Item{}, err
	}
	var err error
	if item.UnitCost, err = decimal.NewFromString(cost); err != nil {
		return Item{}, err
	}
	if item.MinQuantity, err = decimal.NewFromString(minQty); err != nil {
		return Item{}, err
	}
	if item.MaxQuantity, err = decimal.NewFromString(maxQty); err != nil {
		return Item{}, err
	}
	return item, nil
}
