// Package recon implements end-of-shift stock reconciliation: counted
// quantities checked against the system's expectation, with discrepancies
// surfaced for approval. Approval records the count; it never adjusts the
// ledger, which stays document-driven.
package recon

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/larderhq/larder/internal/document"
)

// Shift names the counting window.
type Shift string

const (
	ShiftMorning Shift = "morning"
	ShiftEvening Shift = "evening"
	ShiftFull    Shift = "full_day"
)

// Valid reports whether s is a known shift.
func (s Shift) Valid() bool {
	switch s {
	case ShiftMorning, ShiftEvening, ShiftFull:
		return true
	}
	return false
}

// Reconciliation is one shift's count sheet. It shares the document
// lifecycle: pending until a manager approves or rejects it.
type Reconciliation struct {
	ID           uuid.UUID       `json:"id"`
	Code         string          `json:"code"`
	ReconDate    time.Time       `json:"recon_date"`
	Shift        Shift           `json:"shift"`
	DepartmentID int64           `json:"department_id"`
	Status       document.Status `json:"status"`
	Note         string          `json:"note"`
	CreatedBy    int64           `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
	ApprovedBy   int64           `json:"approved_by,omitempty"`
	ApprovedAt   *time.Time      `json:"approved_at,omitempty"`
	RejectedBy   int64           `json:"rejected_by,omitempty"`
	RejectedAt   *time.Time      `json:"rejected_at,omitempty"`
	RejectReason string          `json:"reject_reason,omitempty"`
	Lines        []Line          `json:"lines"`
}

// Line carries one item's movement components for the shift. SystemQty,
// Discrepancy and DiscrepancyRate are derived server-side from the
// components and the actual count.
type Line struct {
	ID              int64           `json:"id"`
	ItemID          int64           `json:"item_id"`
	OpeningQty      decimal.Decimal `json:"opening_qty"`
	ReceivedQty     decimal.Decimal `json:"received_qty"`
	WithdrawnQty    decimal.Decimal `json:"withdrawn_qty"`
	SoldQty         decimal.Decimal `json:"sold_qty"`
	WastedQty       decimal.Decimal `json:"wasted_qty"`
	StaffMealQty    decimal.Decimal `json:"staff_meal_qty"`
	SampledQty      decimal.Decimal `json:"sampled_qty"`
	ReturnedQty     decimal.Decimal `json:"returned_qty"`
	SystemQty       decimal.Decimal `json:"system_qty"`
	ActualQty       decimal.Decimal `json:"actual_qty"`
	Discrepancy     decimal.Decimal `json:"discrepancy"`
	DiscrepancyRate decimal.Decimal `json:"discrepancy_rate"`
	Note            string          `json:"note"`
}

// SystemExpectation derives the quantity the books say should remain.
func (l Line) SystemExpectation() decimal.Decimal {
	return l.OpeningQty.
		Add(l.ReceivedQty).
		Sub(l.WithdrawnQty).
		Sub(l.SoldQty).
		Sub(l.WastedQty).
		Sub(l.StaffMealQty).
		Sub(l.SampledQty).
		Add(l.ReturnedQty)
}

// Filter narrows reconciliation listings.
type Filter struct {
	Status       document.Status
	Shift        Shift
	DepartmentID int64
	From         time.Time
	To           time.Time
	Page         int
	PerPage      int
}
