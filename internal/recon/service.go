package recon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/larderhq/larder/internal/document"
	"github.com/larderhq/larder/internal/shared"
)

// derived quantities submitted by clients must match the server's own
// arithmetic within this tolerance
var tolerance = decimal.RequireFromString("0.0001")

// RepositoryPort abstracts reconciliation persistence. The status flips
// are guarded in the store so a terminal sheet reports ErrNotPending.
type RepositoryPort interface {
	Insert(ctx context.Context, rec Reconciliation) error
	Get(ctx context.Context, id uuid.UUID) (Reconciliation, error)
	List(ctx context.Context, filter Filter) ([]Reconciliation, int, error)
	Approve(ctx context.Context, id uuid.UUID, actorID int64, at time.Time) error
	Reject(ctx context.Context, id uuid.UUID, actorID int64, at time.Time, reason string) error
}

// ReferencePort resolves catalog references during validation.
type ReferencePort interface {
	ItemRef(ctx context.Context, id int64) (document.ItemRef, error)
	DepartmentExists(ctx context.Context, id int64) (bool, error)
}

// ApprovalPort records approval history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns the reconciliation lifecycle.
type Service struct {
	repo      RepositoryPort
	refs      ReferencePort
	approvals ApprovalPort
	audit     AuditPort
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs recon service.
func NewService(repo RepositoryPort, refs ReferencePort, approvals ApprovalPort, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		refs:      refs,
		approvals: approvals,
		audit:     audit,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput describes a new count sheet.
type CreateInput struct {
	ReconDate    time.Time
	Shift        Shift
	DepartmentID int64
	Note         string
	CreatedBy    int64
	Lines        []LineInput
}

// LineInput carries one counted item. SystemQty and Discrepancy are
// optional client echoes cross-checked against the server's arithmetic.
type LineInput struct {
	ItemID       int64
	OpeningQty   decimal.Decimal
	ReceivedQty  decimal.Decimal
	WithdrawnQty decimal.Decimal
	SoldQty      decimal.Decimal
	WastedQty    decimal.Decimal
	StaffMealQty decimal.Decimal
	SampledQty   decimal.Decimal
	ReturnedQty  decimal.Decimal
	ActualQty    decimal.Decimal
	SystemQty    *decimal.Decimal
	Discrepancy  *decimal.Decimal
	Note         string
}

// Create validates the sheet, derives the per-line expectation and
// discrepancy and persists it pending.
func (s *Service) Create(ctx context.Context, input CreateInput) (Reconciliation, error) {
	verrs, err := s.validate(ctx, input)
	if err != nil {
		return Reconciliation{}, err
	}
	if len(verrs) > 0 {
		return Reconciliation{}, verrs
	}

	rec := Reconciliation{
		ID:           uuid.New(),
		Code:         fmt.Sprintf("REC-%d", time.Now().UnixNano()),
		ReconDate:    input.ReconDate,
		Shift:        input.Shift,
		DepartmentID: input.DepartmentID,
		Status:       document.StatusPending,
		Note:         input.Note,
		CreatedBy:    input.CreatedBy,
		CreatedAt:    s.now(),
	}
	if rec.ReconDate.IsZero() {
		rec.ReconDate = s.now()
	}
	for _, in := range input.Lines {
		line := Line{
			ItemID:       in.ItemID,
			OpeningQty:   in.OpeningQty,
			ReceivedQty:  in.ReceivedQty,
			WithdrawnQty: in.WithdrawnQty,
			SoldQty:      in.SoldQty,
			WastedQty:    in.WastedQty,
			StaffMealQty: in.StaffMealQty,
			SampledQty:   in.SampledQty,
			ReturnedQty:  in.ReturnedQty,
			ActualQty:    in.ActualQty,
			Note:         in.Note,
		}
		line.SystemQty = line.SystemExpectation()
		line.Discrepancy = line.ActualQty.Sub(line.SystemQty)
		line.DiscrepancyRate = discrepancyRate(line.Discrepancy, line.SystemQty)
		rec.Lines = append(rec.Lines, line)
	}

	if err := s.repo.Insert(ctx, rec); err != nil {
		return Reconciliation{}, err
	}
	if s.approvals != nil {
		_ = s.approvals.Record(ctx, shared.ApprovalLog{
			Module: "reconciliation", RefID: rec.ID, ActorID: rec.CreatedBy,
			Action: shared.ApprovalSubmit, Note: rec.Code,
		})
	}
	s.recordAudit(ctx, rec, "recon:create", rec.CreatedBy)
	return rec, nil
}

// Approve accepts the count. The ledger is not touched: discrepancies are
// information for management, corrections go through waste or adjustment
// documents.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, actor shared.Actor) (Reconciliation, error) {
	if !actor.CanApprove() {
		return Reconciliation{}, fmt.Errorf("%w: role %q may not approve", shared.ErrForbidden, actor.Role)
	}
	at := s.now()
	if err := s.repo.Approve(ctx, id, actor.UserID, at); err != nil {
		return Reconciliation{}, err
	}
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return Reconciliation{}, err
	}
	if s.approvals != nil {
		_ = s.approvals.Record(ctx, shared.ApprovalLog{
			Module: "reconciliation", RefID: rec.ID, ActorID: actor.UserID,
			Action: shared.ApprovalApprove, Note: rec.Code,
		})
	}
	s.recordAudit(ctx, rec, "recon:approve", actor.UserID)
	return rec, nil
}

// Reject declines the count with a mandatory reason.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, actor shared.Actor, reason string) (Reconciliation, error) {
	if !actor.CanApprove() {
		return Reconciliation{}, fmt.Errorf("%w: role %q may not reject", shared.ErrForbidden, actor.Role)
	}
	if reason == "" {
		return Reconciliation{}, document.ValidationErrors{{Field: "reason", Message: "rejection reason is required"}}
	}
	if err := s.repo.Reject(ctx, id, actor.UserID, s.now(), reason); err != nil {
		return Reconciliation{}, err
	}
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return Reconciliation{}, err
	}
	if s.approvals != nil {
		_ = s.approvals.Record(ctx, shared.ApprovalLog{
			Module: "reconciliation", RefID: rec.ID, ActorID: actor.UserID,
			Action: shared.ApprovalReject, Note: reason,
		})
	}
	s.recordAudit(ctx, rec, "recon:reject", actor.UserID)
	return rec, nil
}

// Get loads one reconciliation with its lines.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Reconciliation, error) {
	return s.repo.Get(ctx, id)
}

// List returns reconciliations matching the filter.
func (s *Service) List(ctx context.Context, filter Filter) ([]Reconciliation, shared.Pagination, error) {
	recs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return recs, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

func (s *Service) validate(ctx context.Context, input CreateInput) (document.ValidationErrors, error) {
	var verrs document.ValidationErrors

	if !input.Shift.Valid() {
		verrs.Add("shift", "unknown shift")
	}
	if !input.ReconDate.IsZero() && input.ReconDate.After(s.now()) {
		verrs.Add("recon_date", "date must not be in the future")
	}
	if input.DepartmentID == 0 {
		verrs.Add("department_id", "department is required")
	} else if ok, err := s.refs.DepartmentExists(ctx, input.DepartmentID); err != nil {
		return nil, err
	} else if !ok {
		verrs.Add("department_id", fmt.Sprintf("department %d does not exist", input.DepartmentID))
	}
	if len(input.Lines) == 0 {
		verrs.Add("lines", "at least one line is required")
	}

	for i, line := range input.Lines {
		field := func(name string) string { return fmt.Sprintf("lines[%d].%s", i, name) }

		if line.ItemID == 0 {
			verrs.Add(field("item_id"), "item is required")
		} else if _, err := s.refs.ItemRef(ctx, line.ItemID); err != nil {
			verrs.Add(field("item_id"), fmt.Sprintf("item %d does not exist", line.ItemID))
		}
		for name, qty := range map[string]decimal.Decimal{
			"opening_qty": line.OpeningQty, "received_qty": line.ReceivedQty,
			"withdrawn_qty": line.WithdrawnQty, "sold_qty": line.SoldQty,
			"wasted_qty": line.WastedQty, "staff_meal_qty": line.StaffMealQty,
			"sampled_qty": line.SampledQty, "returned_qty": line.ReturnedQty,
			"actual_qty": line.ActualQty,
		} {
			if qty.IsNegative() {
				verrs.Add(field(name), "must not be negative")
			}
		}

		system := Line{
			OpeningQty: line.OpeningQty, ReceivedQty: line.ReceivedQty,
			WithdrawnQty: line.WithdrawnQty, SoldQty: line.SoldQty,
			WastedQty: line.WastedQty, StaffMealQty: line.StaffMealQty,
			SampledQty: line.SampledQty, ReturnedQty: line.ReturnedQty,
		}.SystemExpectation()
		if line.SystemQty != nil && line.SystemQty.Sub(system).Abs().GreaterThan(tolerance) {
			verrs.Add(field("system_qty"),
				fmt.Sprintf("does not match movement arithmetic: expected %s", system))
		}
		if line.Discrepancy != nil {
			want := line.ActualQty.Sub(system)
			if line.Discrepancy.Sub(want).Abs().GreaterThan(tolerance) {
				verrs.Add(field("discrepancy"),
					fmt.Sprintf("does not match actual minus system: expected %s", want))
			}
		}
	}
	return verrs, nil
}

// discrepancyRate is |discrepancy| relative to the system expectation in
// percent, zero when nothing was expected.
func discrepancyRate(discrepancy, system decimal.Decimal) decimal.Decimal {
	if !system.IsPositive() {
		return decimal.Zero
	}
	return discrepancy.Abs().Div(system).Mul(decimal.NewFromInt(100)).Round(4)
}

func (s *Service) recordAudit(ctx context.Context, rec Reconciliation, action string, actorID int64) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "reconciliation",
		EntityID: rec.ID.String(),
		Meta:     map[string]any{"code": rec.Code, "shift": string(rec.Shift), "status": string(rec.Status)},
	})
}
