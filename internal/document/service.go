package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/larderhq/larder/internal/ledger"
	"github.com/larderhq/larder/internal/platform/db"
	"github.com/larderhq/larder/internal/shared"
)

// TxRepository is the unit of work shared by all document workflows: the
// document rows plus the ledger rows they mutate, inside one transaction.
type TxRepository interface {
	ledger.TxStore
	InsertDocument(ctx context.Context, doc Document) error
	InsertLines(ctx context.Context, docID uuid.UUID, lines []Line) error
	GetForUpdate(ctx context.Context, id uuid.UUID) (Document, error)
	MarkApproved(ctx context.Context, id uuid.UUID, actorID int64, at time.Time) error
	MarkRejected(ctx context.Context, id uuid.UUID, actorID int64, at time.Time, reason string) error
	MarkCancelled(ctx context.Context, id uuid.UUID) error
}

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (Document, error)
	GetView(ctx context.Context, id uuid.UUID) (View, error)
	List(ctx context.Context, filter Filter) ([]Document, int, error)
	// GetExportLine loads a line belonging to an approved export document.
	GetExportLine(ctx context.Context, lineID int64) (Line, error)
}

// ItemRef is the catalog projection the workflows need.
type ItemRef struct {
	ID       int64
	Name     string
	UnitCost decimal.Decimal
	Active   bool
}

// ReferencePort resolves catalog references during validation.
type ReferencePort interface {
	ItemRef(ctx context.Context, id int64) (ItemRef, error)
	SupplierExists(ctx context.Context, id int64) (bool, error)
	DepartmentExists(ctx context.Context, id int64) (bool, error)
}

// StockPort reads aggregates for the export fail-fast pre-check.
type StockPort interface {
	GetStock(ctx context.Context, itemID int64) (ledger.Stock, error)
}

// ApprovalPort records approval history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ObserverPort receives workflow outcomes for metrics.
type ObserverPort interface {
	DocumentDecided(kind, outcome string)
	StockMovement(txType string)
}

// Service orchestrates the Import/Export/Return/Waste workflows over one
// shared state machine and one shared stock mutator.
type Service struct {
	repo      RepositoryPort
	refs      ReferencePort
	stocks    StockPort
	mutator   ledger.Mutator
	cache     *ViewCache
	approvals ApprovalPort
	audit     AuditPort
	observer  ObserverPort
	logger    *slog.Logger
	retries   int
	now       func() time.Time
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// ApprovalRetries bounds retries after serialization conflicts.
	ApprovalRetries int
}

// NewService builds Service.
func NewService(repo RepositoryPort, refs ReferencePort, stocks StockPort, cache *ViewCache,
	approvals ApprovalPort, audit AuditPort, observer ObserverPort, logger *slog.Logger, cfg ServiceConfig) *Service {
	retries := cfg.ApprovalRetries
	if retries <= 0 {
		retries = 3
	}
	return &Service{
		repo:      repo,
		refs:      refs,
		stocks:    stocks,
		cache:     cache,
		approvals: approvals,
		audit:     audit,
		observer:  observer,
		logger:    logger,
		retries:   retries,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create validates the document and persists it pending. Stock is not
// touched: a pending document never affects physical inventory.
func (s *Service) Create(ctx context.Context, input CreateInput) (Document, error) {
	verrs, err := s.validate(ctx, input)
	if err != nil {
		return Document{}, err
	}
	if len(verrs) > 0 {
		return Document{}, verrs
	}

	docDate := input.DocDate
	if docDate.IsZero() {
		docDate = s.now()
	}
	doc := Document{
		ID:           uuid.New(),
		Kind:         input.Kind,
		Code:         generateCode(input.Kind),
		DocDate:      docDate,
		SupplierID:   input.SupplierID,
		DepartmentID: input.DepartmentID,
		Purpose:      input.Purpose,
		Status:       StatusPending,
		Note:         input.Note,
		Attachments:  input.Attachments,
		CreatedBy:    input.CreatedBy,
		CreatedAt:    s.now(),
	}
	for _, line := range input.Lines {
		doc.Lines = append(doc.Lines, Line{
			DocumentID:   doc.ID,
			ItemID:       line.ItemID,
			Quantity:     line.Quantity,
			UnitPrice:    line.UnitPrice,
			BatchNumber:  line.BatchNumber,
			ExpiresAt:    line.ExpiresAt,
			Condition:    line.Condition,
			ExportLineID: line.ExportLineID,
			EstValue:     line.EstValue,
			Reason:       line.Reason,
		})
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.InsertDocument(ctx, doc); err != nil {
			return err
		}
		return tx.InsertLines(ctx, doc.ID, doc.Lines)
	})
	if err != nil {
		return Document{}, err
	}

	s.invalidate(ctx, doc.ID)
	if s.approvals != nil {
		_ = s.approvals.Record(ctx, shared.ApprovalLog{
			Module: string(doc.Kind), RefID: doc.ID, ActorID: doc.CreatedBy,
			Action: shared.ApprovalSubmit, Note: doc.Code,
		})
	}
	s.recordAudit(ctx, doc, "document:create", doc.CreatedBy)
	return doc, nil
}

// Approve re-validates stock and performs the kind-specific ledger
// mutations, the status flip and the approval metadata as one atomic unit.
// Serialization conflicts are retried a bounded number of times before
// surfacing as a conflict the caller may retry.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, actor shared.Actor) (Document, error) {
	if !actor.CanApprove() {
		return Document{}, fmt.Errorf("%w: role %q may not approve", shared.ErrForbidden, actor.Role)
	}

	var doc Document
	var movements []string
	attempt := func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			d, err := tx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if d.Status != StatusPending {
				return fmt.Errorf("%w: document %s is %s", ErrNotPending, d.Code, d.Status)
			}
			moved, err := s.applyStock(ctx, tx, d, actor)
			if err != nil {
				return err
			}
			movements = moved
			at := s.now()
			if err := tx.MarkApproved(ctx, id, actor.UserID, at); err != nil {
				return err
			}
			d.Status = StatusApproved
			d.ApprovedBy = actor.UserID
			d.ApprovedAt = &at
			doc = d
			return nil
		})
	}

	var err error
	for i := 0; i < s.retries; i++ {
		err = attempt()
		if err == nil || !db.IsSerializationFailure(err) {
			break
		}
		if s.logger != nil {
			s.logger.Warn("approval serialization retry",
				slog.String("document_id", id.String()), slog.Int("attempt", i+1))
		}
	}
	if err != nil {
		if db.IsSerializationFailure(err) {
			return Document{}, fmt.Errorf("%w: %v", shared.ErrConflict, err)
		}
		return Document{}, err
	}

	s.invalidate(ctx, id)
	if s.approvals != nil {
		_ = s.approvals.Record(ctx, shared.ApprovalLog{
			Module: string(doc.Kind), RefID: doc.ID, ActorID: actor.UserID,
			Action: shared.ApprovalApprove, Note: doc.Code,
		})
	}
	s.recordAudit(ctx, doc, "document:approve", actor.UserID)
	if s.observer != nil {
		s.observer.DocumentDecided(string(doc.Kind), string(StatusApproved))
		// Movement counters only reflect committed mutations; rolled-back
		// attempts must not show up in the totals.
		for _, txType := range movements {
			s.observer.StockMovement(txType)
		}
	}
	return doc, nil
}

// Reject flips the document to rejected with a mandatory reason. No stock
// side effects.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, actor shared.Actor, reason string) (Document, error) {
	if !actor.CanApprove() {
		return Document{}, fmt.Errorf("%w: role %q may not reject", shared.ErrForbidden, actor.Role)
	}
	if reason == "" {
		return Document{}, ValidationErrors{{Field: "reason", Message: "rejection reason is required"}}
	}

	var doc Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		d, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if d.Status != StatusPending {
			return fmt.Errorf("%w: document %s is %s", ErrNotPending, d.Code, d.Status)
		}
		at := s.now()
		if err := tx.MarkRejected(ctx, id, actor.UserID, at, reason); err != nil {
			return err
		}
		d.Status = StatusRejected
		d.RejectedBy = actor.UserID
		d.RejectedAt = &at
		d.RejectReason = reason
		doc = d
		return nil
	})
	if err != nil {
		return Document{}, err
	}

	s.invalidate(ctx, id)
	if s.approvals != nil {
		_ = s.approvals.Record(ctx, shared.ApprovalLog{
			Module: string(doc.Kind), RefID: doc.ID, ActorID: actor.UserID,
			Action: shared.ApprovalReject, Note: reason,
		})
	}
	s.recordAudit(ctx, doc, "document:reject", actor.UserID)
	if s.observer != nil {
		s.observer.DocumentDecided(string(doc.Kind), string(StatusRejected))
	}
	return doc, nil
}

// Cancel withdraws a pending document. Only the pending state can be
// cancelled; terminal documents stay as they are.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor shared.Actor) (Document, error) {
	var doc Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		d, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if d.Status != StatusPending {
			return fmt.Errorf("%w: document %s is %s", ErrNotPending, d.Code, d.Status)
		}
		if err := tx.MarkCancelled(ctx, id); err != nil {
			return err
		}
		d.Status = StatusCancelled
		doc = d
		return nil
	})
	if err != nil {
		return Document{}, err
	}

	s.invalidate(ctx, id)
	if s.approvals != nil {
		_ = s.approvals.Record(ctx, shared.ApprovalLog{
			Module: string(doc.Kind), RefID: doc.ID, ActorID: actor.UserID,
			Action: shared.ApprovalCancel, Note: doc.Code,
		})
	}
	s.recordAudit(ctx, doc, "document:cancel", actor.UserID)
	return doc, nil
}

// Get serves the assembled document view through the cache. Cache absence
// falls back to the store; the store is always authoritative.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (View, error) {
	if view, ok := s.cache.Get(ctx, id); ok {
		return view, nil
	}
	view, err := s.repo.GetView(ctx, id)
	if err != nil {
		return View{}, err
	}
	s.cache.Set(ctx, id, view)
	return view, nil
}

// List returns documents matching the filter with pagination metadata.
func (s *Service) List(ctx context.Context, filter Filter) ([]Document, shared.Pagination, error) {
	docs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return docs, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// applyStock performs the kind-specific mutations, one ledger call per
// line. Import and good-condition returns receive stock; export, waste and
// damaged returns consume FIFO. Insufficient stock aborts the whole
// transaction. The returned movement types are reported to the observer by
// the caller once the transaction has committed.
func (s *Service) applyStock(ctx context.Context, tx TxRepository, doc Document, actor shared.Actor) ([]string, error) {
	var movements []string
	for _, line := range doc.Lines {
		note := fmt.Sprintf("%s %s", doc.Kind, doc.Code)
		switch doc.Kind {
		case KindImport:
			if _, err := s.mutator.Receive(ctx, tx, ledger.ReceiveInput{
				ItemID:      line.ItemID,
				Quantity:    line.Quantity,
				UnitCost:    line.UnitPrice,
				BatchNumber: line.BatchNumber,
				ReceivedAt:  doc.DocDate,
				ExpiresAt:   line.ExpiresAt,
				SupplierID:  doc.SupplierID,
				DocumentID:  doc.ID,
				ActorID:     actor.UserID,
				Note:        note,
			}); err != nil {
				return nil, err
			}
			movements = append(movements, string(ledger.TxIn))
		case KindExport, KindWaste:
			if _, err := s.mutator.Consume(ctx, tx, ledger.ConsumeInput{
				ItemID:     line.ItemID,
				Quantity:   line.Quantity,
				DocumentID: doc.ID,
				ActorID:    actor.UserID,
				Note:       note,
			}); err != nil {
				return nil, err
			}
			movements = append(movements, string(ledger.TxOut))
		case KindReturn:
			if line.Condition == ConditionGood {
				cost, err := s.restockCost(ctx, tx, line.ItemID)
				if err != nil {
					return nil, err
				}
				if _, err := s.mutator.Receive(ctx, tx, ledger.ReceiveInput{
					ItemID:     line.ItemID,
					Quantity:   line.Quantity,
					UnitCost:   cost,
					ReceivedAt: doc.DocDate,
					DocumentID: doc.ID,
					ActorID:    actor.UserID,
					Note:       note,
				}); err != nil {
					return nil, err
				}
				movements = append(movements, string(ledger.TxIn))
				continue
			}
			if _, err := s.mutator.Consume(ctx, tx, ledger.ConsumeInput{
				ItemID:     line.ItemID,
				Quantity:   line.Quantity,
				DocumentID: doc.ID,
				ActorID:    actor.UserID,
				Note:       note + " (damaged)",
			}); err != nil {
				return nil, err
			}
			movements = append(movements, string(ledger.TxOut))
		default:
			return nil, fmt.Errorf("document: unsupported kind %q", doc.Kind)
		}
	}
	return movements, nil
}

// restockCost values a good-condition return at the item's current average
// cost, falling back to the catalog unit cost when the item has no stock.
func (s *Service) restockCost(ctx context.Context, tx TxRepository, itemID int64) (decimal.Decimal, error) {
	stock, err := tx.GetStockForUpdate(ctx, itemID)
	if err == nil && stock.AvgCost.IsPositive() {
		return stock.AvgCost, nil
	}
	if err != nil && !errors.Is(err, ledger.ErrStockNotFound) {
		return decimal.Zero, err
	}
	item, err := s.refs.ItemRef(ctx, itemID)
	if err != nil {
		return decimal.Zero, err
	}
	return item.UnitCost, nil
}

func (s *Service) invalidate(ctx context.Context, id uuid.UUID) {
	if err := s.cache.Invalidate(ctx, id); err != nil && s.logger != nil {
		s.logger.Warn("invalidate document cache", slog.String("document_id", id.String()), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, doc Document, action string, actorID int64) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "document",
		EntityID: doc.ID.String(),
		Meta:     map[string]any{"kind": string(doc.Kind), "code": doc.Code, "status": string(doc.Status)},
	})
}

var codePrefixes = map[Kind]string{
	KindImport: "IMP",
	KindExport: "EXP",
	KindReturn: "RET",
	KindWaste:  "WST",
}

func generateCode(kind Kind) string {
	return fmt.Sprintf("%s-%d", codePrefixes[kind], time.Now().UnixNano())
}
