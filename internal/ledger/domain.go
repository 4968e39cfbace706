package ledger

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BatchStatus tracks the lifecycle of a received lot.
type BatchStatus string

const (
	// BatchActive lots participate in FIFO consumption.
	BatchActive BatchStatus = "active"
	// BatchDepleted lots reached zero quantity; retained for costing history.
	BatchDepleted BatchStatus = "depleted"
	// BatchExpired lots were written off by the expiry scan.
	BatchExpired BatchStatus = "expired"
)

// TxType enumerates stock-affecting movements.
type TxType string

const (
	TxIn         TxType = "IN"
	TxOut        TxType = "OUT"
	TxAdjustment TxType = "ADJUSTMENT"
)

// Batch is one received lot of an item. Created only by approved inbound
// documents, decremented only by FIFO consumption, never deleted.
type Batch struct {
	ID          int64           `json:"id"`
	ItemID      int64           `json:"item_id"`
	BatchNumber string          `json:"batch_number,omitempty"`
	InitialQty  decimal.Decimal `json:"initial_qty"`
	CurrentQty  decimal.Decimal `json:"current_qty"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	ReceivedAt  time.Time       `json:"received_at"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
	SupplierID  int64           `json:"supplier_id,omitempty"`
	Status      BatchStatus     `json:"status"`
}

// Stock is the denormalised per-item aggregate. It is derived from the
// batch store and never the source of truth by itself.
type Stock struct {
	ItemID         int64           `json:"item_id"`
	CurrentStock   decimal.Decimal `json:"current_stock"`
	ReservedStock  decimal.Decimal `json:"reserved_stock"`
	AvailableStock decimal.Decimal `json:"available_stock"`
	AvgCost        decimal.Decimal `json:"avg_cost"`
	TotalValue     decimal.Decimal `json:"total_value"`
	NextExpiry     *time.Time      `json:"next_expiry,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Transaction is one immutable row of the movement log, written exactly
// once per stock-affecting event at approval time.
type Transaction struct {
	ID          int64           `json:"id"`
	Type        TxType          `json:"type"`
	ItemID      int64           `json:"item_id"`
	BatchID     int64           `json:"batch_id,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	DocumentID  uuid.UUID       `json:"document_id,omitempty"`
	ProcessedBy int64           `json:"processed_by"`
	Note        string          `json:"note,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Consumption reports how much was taken from one batch during a FIFO draw.
type Consumption struct {
	BatchID  int64
	Quantity decimal.Decimal
	UnitCost decimal.Decimal
}

// ReceiveInput describes an inbound lot.
type ReceiveInput struct {
	ItemID      int64
	Quantity    decimal.Decimal
	UnitCost    decimal.Decimal
	BatchNumber string
	ReceivedAt  time.Time
	ExpiresAt   *time.Time
	SupplierID  int64
	DocumentID  uuid.UUID
	ActorID     int64
	Note        string
}

// ConsumeInput describes an outbound FIFO draw.
type ConsumeInput struct {
	ItemID     int64
	Quantity   decimal.Decimal
	DocumentID uuid.UUID
	ActorID    int64
	Note       string
}

// AdjustInput describes a signed correction. Positive quantities create a
// correction batch, negative quantities consume FIFO.
type AdjustInput struct {
	ItemID     int64
	Quantity   decimal.Decimal
	UnitCost   decimal.Decimal
	DocumentID uuid.UUID
	ActorID    int64
	Note       string
}

// TransactionFilter narrows movement log listings.
type TransactionFilter struct {
	ItemID int64
	Type   TxType
	From   time.Time
	To     time.Time
	Limit  int
}

// LowStockItem is reported by the low-stock scan.
type LowStockItem struct {
	ItemID       int64           `json:"item_id"`
	Name         string          `json:"name"`
	CurrentStock decimal.Decimal `json:"current_stock"`
	MinStock     decimal.Decimal `json:"min_stock"`
}

var (
	// ErrInsufficientStock indicates FIFO consumption cannot satisfy the
	// requested quantity.
	ErrInsufficientStock = errors.New("ledger: insufficient stock")
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = errors.New("ledger: quantity must be positive")
	// ErrInvalidUnitCost indicates a negative unit cost.
	ErrInvalidUnitCost = errors.New("ledger: unit cost must be >= 0")
	// ErrStockNotFound indicates a missing aggregate row.
	ErrStockNotFound = errors.New("ledger: stock not found")
)
