package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var foldChain = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold normalizes a name for matching: diacritics stripped, Vietnamese
// d-with-stroke mapped, whitespace collapsed, lowercased. "Cà Chua " and
// "ca chua" fold to the same key.
func Fold(name string) string {
	folded, _, err := transform.String(foldChain, name)
	if err != nil {
		folded = name
	}
	folded = strings.ReplaceAll(folded, "đ", "d")
	folded = strings.ReplaceAll(folded, "Đ", "D")
	return strings.ToLower(strings.Join(strings.Fields(folded), " "))
}

// Resolver maps free-form names from intake forms onto catalog ids,
// creating rows on first sight. Matching is fold-based so spelling
// variants of the same Vietnamese name land on one item.
type Resolver struct {
	service *Service
}

// NewResolver constructs Resolver.
func NewResolver(service *Service) *Resolver {
	return &Resolver{service: service}
}

// ResolveItem finds or creates the item named name. Unit and category
// names are resolved the same way when given.
func (r *Resolver) ResolveItem(ctx context.Context, name, unit, category string) (int64, error) {
	folded := Fold(name)
	if folded == "" {
		return 0, fmt.Errorf("catalog: empty item name")
	}
	item, err := r.service.repo.GetItemByFoldedName(ctx, folded)
	if err == nil {
		return item.ID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return 0, err
	}

	var unitID, categoryID int64
	if unit != "" {
		if unitID, err = r.resolveUnit(ctx, unit); err != nil {
			return 0, err
		}
	}
	if category != "" {
		if categoryID, err = r.resolveCategory(ctx, category); err != nil {
			return 0, err
		}
	}
	created, err := r.service.CreateItem(ctx, Item{
		Name:       strings.TrimSpace(name),
		CategoryID: categoryID,
		UnitID:     unitID,
		Active:     true,
	})
	if err != nil {
		// lost a create race: the folded name now exists
		if errors.Is(err, ErrDuplicate) {
			if item, lookupErr := r.service.repo.GetItemByFoldedName(ctx, folded); lookupErr == nil {
				return item.ID, nil
			}
		}
		return 0, err
	}
	return created.ID, nil
}

// ResolveSupplier finds or creates the supplier named name.
func (r *Resolver) ResolveSupplier(ctx context.Context, name string) (int64, error) {
	folded := Fold(name)
	if folded == "" {
		return 0, fmt.Errorf("catalog: empty supplier name")
	}
	supplier, err := r.service.repo.GetSupplierByFoldedName(ctx, folded)
	if err == nil {
		return supplier.ID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return 0, err
	}
	created, err := r.service.CreateSupplier(ctx, Supplier{Name: strings.TrimSpace(name), Active: true})
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			if supplier, lookupErr := r.service.repo.GetSupplierByFoldedName(ctx, folded); lookupErr == nil {
				return supplier.ID, nil
			}
		}
		return 0, err
	}
	return created.ID, nil
}

// ResolveDepartment finds or creates the department named name.
func (r *Resolver) ResolveDepartment(ctx context.Context, name string) (int64, error) {
	folded := Fold(name)
	if folded == "" {
		return 0, fmt.Errorf("catalog: empty department name")
	}
	dept, err := r.service.repo.GetDepartmentByFoldedName(ctx, folded)
	if err == nil {
		return dept.ID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return 0, err
	}
	created, err := r.service.CreateDepartment(ctx, Department{Name: strings.TrimSpace(name), Active: true})
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			if dept, lookupErr := r.service.repo.GetDepartmentByFoldedName(ctx, folded); lookupErr == nil {
				return dept.ID, nil
			}
		}
		return 0, err
	}
	return created.ID, nil
}

func (r *Resolver) resolveUnit(ctx context.Context, name string) (int64, error) {
	unit, err := r.service.repo.GetUnitByFoldedName(ctx, Fold(name))
	if err == nil {
		return unit.ID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return 0, err
	}
	created, err := r.service.CreateUnit(ctx, strings.TrimSpace(name))
	if err != nil {
		return 0, err
	}
	return created.ID, nil
}

func (r *Resolver) resolveCategory(ctx context.Context, name string) (int64, error) {
	cat, err := r.service.repo.GetCategoryByFoldedName(ctx, Fold(name))
	if err == nil {
		return cat.ID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return 0, err
	}
	created, err := r.service.CreateCategory(ctx, strings.TrimSpace(name))
	if err != nil {
		return 0, err
	}
	return created.ID, nil
}
