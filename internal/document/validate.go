package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/larderhq/larder/internal/shared"
)

// CreateInput describes a new document with resolved references.
type CreateInput struct {
	Kind         Kind
	DocDate      time.Time
	SupplierID   int64
	DepartmentID int64
	Purpose      string
	Note         string
	Attachments  []string
	CreatedBy    int64
	Lines        []LineInput
}

// LineInput describes one document line.
type LineInput struct {
	ItemID       int64
	Quantity     decimal.Decimal
	UnitPrice    decimal.Decimal
	BatchNumber  string
	ExpiresAt    *time.Time
	Condition    ReturnCondition
	ExportLineID int64
	EstValue     decimal.Decimal
	Reason       string
}

// validate runs the common and kind-specific business rules, collecting
// every violation. The export availability check here is a fail-fast
// pre-check only; approval re-checks atomically inside the transaction.
func (s *Service) validate(ctx context.Context, input CreateInput) (ValidationErrors, error) {
	var verrs ValidationErrors

	if !input.Kind.Valid() {
		verrs.Add("kind", "unknown document kind")
		return verrs, nil
	}
	if input.DocDate.After(s.now()) {
		verrs.Add("doc_date", "date must not be in the future")
	}
	if len(input.Lines) == 0 {
		verrs.Add("lines", "at least one line is required")
	}

	switch input.Kind {
	case KindImport:
		if input.SupplierID == 0 {
			verrs.Add("supplier_id", "supplier is required")
		} else if ok, err := s.refs.SupplierExists(ctx, input.SupplierID); err != nil {
			return nil, err
		} else if !ok {
			verrs.Add("supplier_id", fmt.Sprintf("supplier %d does not exist", input.SupplierID))
		}
	default:
		if input.DepartmentID == 0 {
			verrs.Add("department_id", "department is required")
		} else if ok, err := s.refs.DepartmentExists(ctx, input.DepartmentID); err != nil {
			return nil, err
		} else if !ok {
			verrs.Add("department_id", fmt.Sprintf("department %d does not exist", input.DepartmentID))
		}
	}

	for i, line := range input.Lines {
		field := func(name string) string { return fmt.Sprintf("lines[%d].%s", i, name) }

		if line.ItemID == 0 {
			verrs.Add(field("item_id"), "item is required")
			continue
		}
		item, err := s.refs.ItemRef(ctx, line.ItemID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				verrs.Add(field("item_id"), fmt.Sprintf("item %d does not exist", line.ItemID))
				continue
			}
			return nil, err
		}
		if !item.Active {
			verrs.Add(field("item_id"), fmt.Sprintf("item %q is inactive", item.Name))
		}
		if !line.Quantity.IsPositive() {
			verrs.Add(field("quantity"), "quantity must be positive")
			continue
		}

		switch input.Kind {
		case KindImport:
			if !line.UnitPrice.IsPositive() {
				verrs.Add(field("unit_price"), "unit price must be positive")
			}
			if line.ExpiresAt != nil && !line.ExpiresAt.After(s.now()) {
				verrs.Add(field("expires_at"), "expiry must be in the future")
			}
		case KindExport:
			stock, err := s.stocks.GetStock(ctx, line.ItemID)
			if err != nil {
				return nil, err
			}
			if stock.AvailableStock.LessThan(line.Quantity) {
				verrs.Add(field("quantity"), fmt.Sprintf("only %s of %q available", stock.AvailableStock, item.Name))
			}
		case KindReturn:
			if line.Condition != ConditionGood && line.Condition != ConditionDamaged {
				verrs.Add(field("condition"), "condition must be good or damaged")
			}
			if line.ExportLineID != 0 {
				exported, err := s.repo.GetExportLine(ctx, line.ExportLineID)
				if err != nil {
					if errors.Is(err, shared.ErrNotFound) {
						verrs.Add(field("export_line_id"), fmt.Sprintf("export line %d does not exist", line.ExportLineID))
						continue
					}
					return nil, err
				}
				if exported.ItemID != line.ItemID {
					verrs.Add(field("export_line_id"), "export line refers to a different item")
				}
				if line.Quantity.GreaterThan(exported.Quantity) {
					verrs.Add(field("quantity"), fmt.Sprintf("returned quantity exceeds exported %s", exported.Quantity))
				}
			}
		case KindWaste:
			if line.EstValue.IsNegative() {
				verrs.Add(field("estimated_value"), "estimated value must not be negative")
			}
			if line.Reason == "" {
				verrs.Add(field("reason"), "waste reason is required")
			}
		}
	}

	return verrs, nil
}
