package catalog

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Category groups items for reporting.
type Category struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Unit is a measurement unit (kg, l, pcs).
type Unit struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Supplier is an import counterpart.
type Supplier struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Address   string    `json:"address"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Department is an internal counterpart for exports, returns and waste.
type Department struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Item is a perishable good tracked by the ledger. NameFolded holds the
// lowercased diacritic-free form used for name matching.
type Item struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	NameFolded  string          `json:"-"`
	SKU         string          `json:"sku"`
	CategoryID  int64           `json:"category_id"`
	UnitID      int64           `json:"unit_id"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	MinQuantity decimal.Decimal `json:"min_quantity"`
	MaxQuantity decimal.Decimal `json:"max_quantity"`
	ShelfLife   int             `json:"shelf_life_days"`
	Active      bool            `json:"active"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ItemFilter narrows item listings.
type ItemFilter struct {
	Search     string
	CategoryID int64
	Active     *bool
	Page       int
	PerPage    int
}

var (
	// ErrNotFound indicates the catalog row does not exist.
	ErrNotFound = errors.New("catalog: not found")
	// ErrReferenced indicates the row has ledger or document history and
	// may only be deactivated, not deleted.
	ErrReferenced = errors.New("catalog: referenced by documents")
	// ErrDuplicate indicates a name collision within the entity type.
	ErrDuplicate = errors.New("catalog: duplicate name")
)
