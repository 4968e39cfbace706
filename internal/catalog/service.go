package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/larderhq/larder/internal/shared"
)

// Repository abstracts catalog persistence.
type Repository interface {
	ListCategories(ctx context.Context) ([]Category, error)
	CreateCategory(ctx context.Context, cat Category) (Category, error)
	GetCategoryByFoldedName(ctx context.Context, folded string) (Category, error)

	ListUnits(ctx context.Context) ([]Unit, error)
	CreateUnit(ctx context.Context, unit Unit) (Unit, error)
	GetUnitByFoldedName(ctx context.Context, folded string) (Unit, error)

	ListSuppliers(ctx context.Context, activeOnly bool) ([]Supplier, error)
	GetSupplier(ctx context.Context, id int64) (Supplier, error)
	GetSupplierByFoldedName(ctx context.Context, folded string) (Supplier, error)
	CreateSupplier(ctx context.Context, supplier Supplier) (Supplier, error)
	UpdateSupplier(ctx context.Context, supplier Supplier) error

	ListDepartments(ctx context.Context, activeOnly bool) ([]Department, error)
	GetDepartment(ctx context.Context, id int64) (Department, error)
	GetDepartmentByFoldedName(ctx context.Context, folded string) (Department, error)
	CreateDepartment(ctx context.Context, dept Department) (Department, error)
	UpdateDepartment(ctx context.Context, dept Department) error

	ListItems(ctx context.Context, filter ItemFilter) ([]Item, int, error)
	GetItem(ctx context.Context, id int64) (Item, error)
	GetItemByFoldedName(ctx context.Context, folded string) (Item, error)
	CreateItem(ctx context.Context, item Item) (Item, error)
	UpdateItem(ctx context.Context, item Item) error
	// ItemReferenced reports whether any document line or batch points at
	// the item.
	ItemReferenced(ctx context.Context, id int64) (bool, error)
	DeleteItem(ctx context.Context, id int64) error
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns the restaurant's master data. Items with ledger history can
// only be deactivated, never deleted, so past documents keep resolving.
type Service struct {
	repo  Repository
	audit AuditPort
}

// NewService constructs catalog service.
func NewService(repo Repository, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

func (s *Service) ListCategories(ctx context.Context) ([]Category, error) {
	return s.repo.ListCategories(ctx)
}

func (s *Service) CreateCategory(ctx context.Context, name string) (Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Category{}, errors.New("catalog: category name is required")
	}
	return s.repo.CreateCategory(ctx, Category{Name: name})
}

func (s *Service) ListUnits(ctx context.Context) ([]Unit, error) {
	return s.repo.ListUnits(ctx)
}

func (s *Service) CreateUnit(ctx context.Context, name string) (Unit, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Unit{}, errors.New("catalog: unit name is required")
	}
	return s.repo.CreateUnit(ctx, Unit{Name: name})
}

func (s *Service) ListSuppliers(ctx context.Context, activeOnly bool) ([]Supplier, error) {
	return s.repo.ListSuppliers(ctx, activeOnly)
}

func (s *Service) CreateSupplier(ctx context.Context, supplier Supplier) (Supplier, error) {
	supplier.Name = strings.TrimSpace(supplier.Name)
	if supplier.Name == "" {
		return Supplier{}, errors.New("catalog: supplier name is required")
	}
	supplier.Active = true
	created, err := s.repo.CreateSupplier(ctx, supplier)
	if err != nil {
		return Supplier{}, err
	}
	s.recordAudit(ctx, "catalog:supplier:create", "supplier", created.ID, created.Name)
	return created, nil
}

func (s *Service) UpdateSupplier(ctx context.Context, supplier Supplier) error {
	if supplier.ID <= 0 {
		return errors.New("catalog: invalid supplier id")
	}
	supplier.Name = strings.TrimSpace(supplier.Name)
	if supplier.Name == "" {
		return errors.New("catalog: supplier name is required")
	}
	if err := s.repo.UpdateSupplier(ctx, supplier); err != nil {
		return err
	}
	s.recordAudit(ctx, "catalog:supplier:update", "supplier", supplier.ID, supplier.Name)
	return nil
}

func (s *Service) ListDepartments(ctx context.Context, activeOnly bool) ([]Department, error) {
	return s.repo.ListDepartments(ctx, activeOnly)
}

func (s *Service) CreateDepartment(ctx context.Context, dept Department) (Department, error) {
	dept.Name = strings.TrimSpace(dept.Name)
	if dept.Name == "" {
		return Department{}, errors.New("catalog: department name is required")
	}
	dept.Active = true
	created, err := s.repo.CreateDepartment(ctx, dept)
	if err != nil {
		return Department{}, err
	}
	s.recordAudit(ctx, "catalog:department:create", "department", created.ID, created.Name)
	return created, nil
}

func (s *Service) ListItems(ctx context.Context, filter ItemFilter) ([]Item, int, error) {
	if filter.Search != "" {
		filter.Search = Fold(filter.Search)
	}
	return s.repo.ListItems(ctx, filter)
}

func (s *Service) GetItem(ctx context.Context, id int64) (Item, error) {
	if id <= 0 {
		return Item{}, fmt.Errorf("item %d: %w", id, ErrNotFound)
	}
	return s.repo.GetItem(ctx, id)
}

func (s *Service) CreateItem(ctx context.Context, item Item) (Item, error) {
	item.Name = strings.TrimSpace(item.Name)
	if item.Name == "" {
		return Item{}, errors.New("catalog: item name is required")
	}
	if item.UnitCost.IsNegative() {
		return Item{}, errors.New("catalog: unit cost must not be negative")
	}
	if item.MinQuantity.IsNegative() {
		return Item{}, errors.New("catalog: minimum quantity must not be negative")
	}
	if item.MaxQuantity.IsNegative() {
		return Item{}, errors.New("catalog: maximum quantity must not be negative")
	}
	if item.MaxQuantity.IsPositive() && item.MaxQuantity.LessThan(item.MinQuantity) {
		return Item{}, errors.New("catalog: maximum quantity must not be below the minimum")
	}
	item.NameFolded = Fold(item.Name)
	item.Active = true
	created, err := s.repo.CreateItem(ctx, item)
	if err != nil {
		return Item{}, err
	}
	s.recordAudit(ctx, "catalog:item:create", "item", created.ID, created.Name)
	return created, nil
}

func (s *Service) UpdateItem(ctx context.Context, item Item) error {
	if item.ID <= 0 {
		return fmt.Errorf("item %d: %w", item.ID, ErrNotFound)
	}
	item.Name = strings.TrimSpace(item.Name)
	if item.Name == "" {
		return errors.New("catalog: item name is required")
	}
	item.NameFolded = Fold(item.Name)
	if err := s.repo.UpdateItem(ctx, item); err != nil {
		return err
	}
	s.recordAudit(ctx, "catalog:item:update", "item", item.ID, item.Name)
	return nil
}

// DeleteItem removes an item without history. Items referenced by any
// document or batch are deactivated instead and the call reports
// ErrReferenced so the client can tell the two outcomes apart.
func (s *Service) DeleteItem(ctx context.Context, id int64) error {
	item, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return err
	}
	referenced, err := s.repo.ItemReferenced(ctx, id)
	if err != nil {
		return err
	}
	if referenced {
		item.Active = false
		if err := s.repo.UpdateItem(ctx, item); err != nil {
			return err
		}
		s.recordAudit(ctx, "catalog:item:deactivate", "item", item.ID, item.Name)
		return fmt.Errorf("item %q: %w", item.Name, ErrReferenced)
	}
	if err := s.repo.DeleteItem(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, "catalog:item:delete", "item", item.ID, item.Name)
	return nil
}

// SupplierExists reports whether an active supplier with the id exists.
func (s *Service) SupplierExists(ctx context.Context, id int64) (bool, error) {
	supplier, err := s.repo.GetSupplier(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return supplier.Active, nil
}

// DepartmentExists reports whether an active department with the id exists.
func (s *Service) DepartmentExists(ctx context.Context, id int64) (bool, error) {
	dept, err := s.repo.GetDepartment(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return dept.Active, nil
}

func (s *Service) recordAudit(ctx context.Context, action, entity string, id int64, name string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprintf("%d", id),
		Meta:     map[string]any{"name": name},
	})
}
