package document

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind discriminates the four stock document types.
type Kind string

const (
	KindImport Kind = "import"
	KindExport Kind = "export"
	KindReturn Kind = "return"
	KindWaste  Kind = "waste"
)

// Valid reports whether k is a known document kind.
func (k Kind) Valid() bool {
	switch k {
	case KindImport, KindExport, KindReturn, KindWaste:
		return true
	}
	return false
}

// Inbound reports whether approving this kind adds stock.
func (k Kind) Inbound() bool {
	return k == KindImport
}

// Status is the shared document state machine. All document kinds share
// the same lifecycle so the transitions live in exactly one place.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	if s != StatusPending {
		return false
	}
	return next == StatusApproved || next == StatusRejected || next == StatusCancelled
}

// ReturnCondition qualifies a returned line. Good-condition returns go back
// to stock; damaged returns are written off.
type ReturnCondition string

const (
	ConditionGood    ReturnCondition = "good"
	ConditionDamaged ReturnCondition = "damaged"
)

// Document is the shared shape of Import, Export, Return and Waste records.
// A pending document never affects physical stock; approval is the only
// transition that mutates the ledger.
type Document struct {
	ID           uuid.UUID  `json:"id"`
	Kind         Kind       `json:"kind"`
	Code         string     `json:"code"`
	DocDate      time.Time  `json:"doc_date"`
	SupplierID   int64      `json:"supplier_id,omitempty"`   // import counterpart
	DepartmentID int64      `json:"department_id,omitempty"` // export/return/waste counterpart
	Purpose      string     `json:"purpose,omitempty"`
	Status       Status     `json:"status"`
	Note         string     `json:"note,omitempty"`
	Attachments  []string   `json:"attachments,omitempty"`
	CreatedBy    int64      `json:"created_by"`
	CreatedAt    time.Time  `json:"created_at"`
	ApprovedBy   int64      `json:"approved_by,omitempty"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	RejectedBy   int64      `json:"rejected_by,omitempty"`
	RejectedAt   *time.Time `json:"rejected_at,omitempty"`
	RejectReason string     `json:"reject_reason,omitempty"`
	Lines        []Line     `json:"lines"`
}

// Line is one item row of a document. Type-specific fields are zero for
// the kinds that do not use them.
type Line struct {
	ID           int64           `json:"id"`
	DocumentID   uuid.UUID       `json:"document_id"`
	ItemID       int64           `json:"item_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`               // import
	BatchNumber  string          `json:"batch_number,omitempty"`   // import
	ExpiresAt    *time.Time      `json:"expires_at,omitempty"`     // import
	Condition    ReturnCondition `json:"condition,omitempty"`      // return
	ExportLineID int64           `json:"export_line_id,omitempty"` // return: original export line
	EstValue     decimal.Decimal `json:"est_value"`                // waste
	Reason       string          `json:"reason,omitempty"`         // waste
}

// View is the assembled read model served to clients and cached by id.
type View struct {
	Document
	SupplierName   string     `json:"supplier_name,omitempty"`
	DepartmentName string     `json:"department_name,omitempty"`
	LineViews      []LineView `json:"line_views"`
}

// LineView joins catalog names onto a line.
type LineView struct {
	Line
	ItemName string `json:"item_name"`
	Unit     string `json:"unit"`
}

// Filter narrows document listings.
type Filter struct {
	Kind    Kind
	Status  Status
	From    time.Time
	To      time.Time
	Page    int
	PerPage int
}

// ValidationError describes one failed business rule.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors collects every violation so all problems surface at
// once instead of one per round trip.
type ValidationErrors []ValidationError

// Error implements error.
func (v ValidationErrors) Error() string {
	parts := make([]string, 0, len(v))
	for _, e := range v {
		parts = append(parts, e.Field+": "+e.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add appends a violation.
func (v *ValidationErrors) Add(field, message string) {
	*v = append(*v, ValidationError{Field: field, Message: message})
}

var (
	// ErrNotPending indicates approve/reject/cancel was called on a document
	// that already reached a terminal status.
	ErrNotPending = errors.New("document: not pending")
	// ErrNotFound indicates the document does not exist.
	ErrNotFound = errors.New("document: not found")
)
