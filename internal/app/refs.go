package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/larderhq/larder/internal/catalog"
	"github.com/larderhq/larder/internal/document"
	"github.com/larderhq/larder/internal/shared"
)

// CatalogRefs adapts the catalog service to the reference ports the
// workflow services validate against.
type CatalogRefs struct {
	Catalog *catalog.Service
}

func (r CatalogRefs) ItemRef(ctx context.Context, id int64) (document.ItemRef, error) {
	item, err := r.Catalog.GetItem(ctx, id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return document.ItemRef{}, fmt.Errorf("item %d: %w", id, shared.ErrNotFound)
		}
		return document.ItemRef{}, err
	}
	return document.ItemRef{
		ID:       item.ID,
		Name:     item.Name,
		UnitCost: item.UnitCost,
		Active:   item.Active,
	}, nil
}

func (r CatalogRefs) SupplierExists(ctx context.Context, id int64) (bool, error) {
	return r.Catalog.SupplierExists(ctx, id)
}

func (r CatalogRefs) DepartmentExists(ctx context.Context, id int64) (bool, error) {
	return r.Catalog.DepartmentExists(ctx, id)
}
