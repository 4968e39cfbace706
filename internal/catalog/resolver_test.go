package catalog

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestFold(t *testing.T) {
	cases := map[string]string{
		"Cà Chua ":          "ca chua",
		"ca chua":           "ca chua",
		"CÀ  CHUA":          "ca chua",
		"Đậu phụ":           "dau phu",
		"đường":             "duong",
		"Thịt Bò Úc":        "thit bo uc",
		"  Hành   Lá  ":     "hanh la",
		"Nước mắm Phú Quốc": "nuoc mam phu quoc",
		"":                  "",
		"   ":               "",
	}
	for input, want := range cases {
		require.Equal(t, want, Fold(input), "Fold(%q)", input)
	}
}

// memCatalog implements Repository over maps. raceItem, when set, makes the
// next CreateItem behave as if a concurrent writer won: the row appears and
// the create reports ErrDuplicate.
type memCatalog struct {
	nextID      int64
	categories  map[string]Category
	units       map[string]Unit
	suppliers   map[string]Supplier
	departments map[string]Department
	items       map[string]Item
	referenced  map[int64]bool
	raceItem    *Item
}

func newMemCatalog() *memCatalog {
	return &memCatalog{
		categories:  make(map[string]Category),
		units:       make(map[string]Unit),
		suppliers:   make(map[string]Supplier),
		departments: make(map[string]Department),
		items:       make(map[string]Item),
		referenced:  make(map[int64]bool),
	}
}

func (m *memCatalog) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memCatalog) ListCategories(context.Context) ([]Category, error) {
	var out []Category
	for _, c := range m.categories {
		out = append(out, c)
	}
	return out, nil
}

func (m *memCatalog) CreateCategory(_ context.Context, cat Category) (Category, error) {
	folded := Fold(cat.Name)
	if _, ok := m.categories[folded]; ok {
		return Category{}, ErrDuplicate
	}
	cat.ID = m.id()
	m.categories[folded] = cat
	return cat, nil
}

func (m *memCatalog) GetCategoryByFoldedName(_ context.Context, folded string) (Category, error) {
	cat, ok := m.categories[folded]
	if !ok {
		return Category{}, ErrNotFound
	}
	return cat, nil
}

func (m *memCatalog) ListUnits(context.Context) ([]Unit, error) {
	var out []Unit
	for _, u := range m.units {
		out = append(out, u)
	}
	return out, nil
}

func (m *memCatalog) CreateUnit(_ context.Context, unit Unit) (Unit, error) {
	folded := Fold(unit.Name)
	if _, ok := m.units[folded]; ok {
		return Unit{}, ErrDuplicate
	}
	unit.ID = m.id()
	m.units[folded] = unit
	return unit, nil
}

func (m *memCatalog) GetUnitByFoldedName(_ context.Context, folded string) (Unit, error) {
	unit, ok := m.units[folded]
	if !ok {
		return Unit{}, ErrNotFound
	}
	return unit, nil
}

func (m *memCatalog) ListSuppliers(_ context.Context, activeOnly bool) ([]Supplier, error) {
	var out []Supplier
	for _, s := range m.suppliers {
		if activeOnly && !s.Active {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *memCatalog) GetSupplier(_ context.Context, id int64) (Supplier, error) {
	for _, s := range m.suppliers {
		if s.ID == id {
			return s, nil
		}
	}
	return Supplier{}, ErrNotFound
}

func (m *memCatalog) GetSupplierByFoldedName(_ context.Context, folded string) (Supplier, error) {
	s, ok := m.suppliers[folded]
	if !ok {
		return Supplier{}, ErrNotFound
	}
	return s, nil
}

func (m *memCatalog) CreateSupplier(_ context.Context, supplier Supplier) (Supplier, error) {
	folded := Fold(supplier.Name)
	if _, ok := m.suppliers[folded]; ok {
		return Supplier{}, ErrDuplicate
	}
	supplier.ID = m.id()
	m.suppliers[folded] = supplier
	return supplier, nil
}

func (m *memCatalog) UpdateSupplier(_ context.Context, supplier Supplier) error {
	for folded, s := range m.suppliers {
		if s.ID == supplier.ID {
			delete(m.suppliers, folded)
			m.suppliers[Fold(supplier.Name)] = supplier
			return nil
		}
	}
	return ErrNotFound
}

func (m *memCatalog) ListDepartments(_ context.Context, activeOnly bool) ([]Department, error) {
	var out []Department
	for _, d := range m.departments {
		if activeOnly && !d.Active {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (m *memCatalog) GetDepartment(_ context.Context, id int64) (Department, error) {
	for _, d := range m.departments {
		if d.ID == id {
			return d, nil
		}
	}
	return Department{}, ErrNotFound
}

func (m *memCatalog) GetDepartmentByFoldedName(_ context.Context, folded string) (Department, error) {
	d, ok := m.departments[folded]
	if !ok {
		return Department{}, ErrNotFound
	}
	return d, nil
}

func (m *memCatalog) CreateDepartment(_ context.Context, dept Department) (Department, error) {
	folded := Fold(dept.Name)
	if _, ok := m.departments[folded]; ok {
		return Department{}, ErrDuplicate
	}
	dept.ID = m.id()
	m.departments[folded] = dept
	return dept, nil
}

func (m *memCatalog) UpdateDepartment(_ context.Context, dept Department) error {
	for folded, d := range m.departments {
		if d.ID == dept.ID {
			delete(m.departments, folded)
			m.departments[Fold(dept.Name)] = dept
			return nil
		}
	}
	return ErrNotFound
}

func (m *memCatalog) ListItems(_ context.Context, filter ItemFilter) ([]Item, int, error) {
	var out []Item
	for folded, item := range m.items {
		if filter.Search != "" && folded != filter.Search {
			continue
		}
		out = append(out, item)
	}
	return out, len(out), nil
}

func (m *memCatalog) GetItem(_ context.Context, id int64) (Item, error) {
	for _, item := range m.items {
		if item.ID == id {
			return item, nil
		}
	}
	return Item{}, fmt.Errorf("item %d: %w", id, ErrNotFound)
}

func (m *memCatalog) GetItemByFoldedName(_ context.Context, folded string) (Item, error) {
	item, ok := m.items[folded]
	if !ok {
		return Item{}, ErrNotFound
	}
	return item, nil
}

func (m *memCatalog) CreateItem(_ context.Context, item Item) (Item, error) {
	if m.raceItem != nil {
		winner := *m.raceItem
		m.raceItem = nil
		winner.ID = m.id()
		m.items[winner.NameFolded] = winner
		return Item{}, ErrDuplicate
	}
	if _, ok := m.items[item.NameFolded]; ok {
		return Item{}, ErrDuplicate
	}
	item.ID = m.id()
	m.items[item.NameFolded] = item
	return item, nil
}

func (m *memCatalog) UpdateItem(_ context.Context, item Item) error {
	for folded, existing := range m.items {
		if existing.ID == item.ID {
			delete(m.items, folded)
			m.items[item.NameFolded] = item
			return nil
		}
	}
	return ErrNotFound
}

func (m *memCatalog) ItemReferenced(_ context.Context, id int64) (bool, error) {
	return m.referenced[id], nil
}

func (m *memCatalog) DeleteItem(_ context.Context, id int64) error {
	for folded, item := range m.items {
		if item.ID == id {
			delete(m.items, folded)
			return nil
		}
	}
	return ErrNotFound
}

func TestResolveItemMatchesSpellingVariants(t *testing.T) {
	repo := newMemCatalog()
	resolver := NewResolver(NewService(repo, nil))
	ctx := context.Background()

	first, err := resolver.ResolveItem(ctx, "Cà Chua", "kg", "rau cu")
	require.NoError(t, err)

	second, err := resolver.ResolveItem(ctx, "ca  chua ", "", "")
	require.NoError(t, err)
	require.Equal(t, first, second)

	third, err := resolver.ResolveItem(ctx, "CÀ CHUA", "", "")
	require.NoError(t, err)
	require.Equal(t, first, third)

	require.Len(t, repo.items, 1)
	item := repo.items["ca chua"]
	require.Equal(t, "Cà Chua", item.Name)
	require.True(t, item.Active)
	require.NotZero(t, item.UnitID)
	require.NotZero(t, item.CategoryID)
}

func TestResolveItemRecoversFromCreateRace(t *testing.T) {
	repo := newMemCatalog()
	resolver := NewResolver(NewService(repo, nil))
	ctx := context.Background()

	repo.raceItem = &Item{Name: "Đậu phụ", NameFolded: "dau phu", Active: true}

	id, err := resolver.ResolveItem(ctx, "dau phu", "", "")
	require.NoError(t, err)
	require.Equal(t, repo.items["dau phu"].ID, id)
	require.Len(t, repo.items, 1)
}

func TestResolveRejectsEmptyNames(t *testing.T) {
	resolver := NewResolver(NewService(newMemCatalog(), nil))
	ctx := context.Background()

	_, err := resolver.ResolveItem(ctx, "   ", "", "")
	require.Error(t, err)
	_, err = resolver.ResolveSupplier(ctx, "")
	require.Error(t, err)
	_, err = resolver.ResolveDepartment(ctx, "")
	require.Error(t, err)
}

func TestResolveSupplierAndDepartment(t *testing.T) {
	repo := newMemCatalog()
	resolver := NewResolver(NewService(repo, nil))
	ctx := context.Background()

	supplierID, err := resolver.ResolveSupplier(ctx, "Chợ Bến Thành")
	require.NoError(t, err)
	again, err := resolver.ResolveSupplier(ctx, "cho ben thanh")
	require.NoError(t, err)
	require.Equal(t, supplierID, again)

	deptID, err := resolver.ResolveDepartment(ctx, "Bếp Chính")
	require.NoError(t, err)
	againDept, err := resolver.ResolveDepartment(ctx, "bep chinh")
	require.NoError(t, err)
	require.Equal(t, deptID, againDept)
}

func TestDeleteItemDeactivatesWhenReferenced(t *testing.T) {
	repo := newMemCatalog()
	svc := NewService(repo, nil)
	ctx := context.Background()

	item, err := svc.CreateItem(ctx, Item{Name: "Hành Lá", UnitCost: decimal.NewFromInt(2000)})
	require.NoError(t, err)
	repo.referenced[item.ID] = true

	err = svc.DeleteItem(ctx, item.ID)
	require.ErrorIs(t, err, ErrReferenced)

	kept, err := repo.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.False(t, kept.Active)

	fresh, err := svc.CreateItem(ctx, Item{Name: "Rau Muống"})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteItem(ctx, fresh.ID))
	_, err = repo.GetItem(ctx, fresh.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCreateItemStockThresholds(t *testing.T) {
	repo := newMemCatalog()
	svc := NewService(repo, nil)
	ctx := context.Background()

	item, err := svc.CreateItem(ctx, Item{
		Name:        "Thịt Bò",
		MinQuantity: decimal.NewFromInt(5),
		MaxQuantity: decimal.NewFromInt(50),
	})
	require.NoError(t, err)

	stored, err := repo.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.True(t, stored.MinQuantity.Equal(decimal.NewFromInt(5)))
	require.True(t, stored.MaxQuantity.Equal(decimal.NewFromInt(50)))

	_, err = svc.CreateItem(ctx, Item{Name: "Cá Hồi", MaxQuantity: decimal.NewFromInt(-1)})
	require.Error(t, err)

	_, err = svc.CreateItem(ctx, Item{
		Name:        "Tôm Sú",
		MinQuantity: decimal.NewFromInt(10),
		MaxQuantity: decimal.NewFromInt(3),
	})
	require.Error(t, err)
}

func TestSupplierExistsChecksActive(t *testing.T) {
	repo := newMemCatalog()
	svc := NewService(repo, nil)
	ctx := context.Background()

	supplier, err := svc.CreateSupplier(ctx, Supplier{Name: "Vissan"})
	require.NoError(t, err)

	ok, err := svc.SupplierExists(ctx, supplier.ID)
	require.NoError(t, err)
	require.True(t, ok)

	supplier.Active = false
	require.NoError(t, repo.UpdateSupplier(ctx, supplier))
	ok, err = svc.SupplierExists(ctx, supplier.ID)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = svc.SupplierExists(ctx, 999)
	require.NoError(t, err)
	require.False(t, ok)
}
