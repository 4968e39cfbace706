package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/larderhq/larder/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	GetStock(ctx context.Context, itemID int64) (Stock, error)
	ListStock(ctx context.Context) ([]Stock, error)
	ListBatches(ctx context.Context, itemID int64) ([]Batch, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
	// ListExpiredActive returns ids of active batches whose expiry has
	// passed; the write-off re-checks each under lock.
	ListExpiredActive(ctx context.Context, now time.Time) ([]Batch, error)
	GetBatchForUpdate(ctx context.Context, tx TxStore, batchID int64) (Batch, error)
	ListBelowMinimum(ctx context.Context) ([]LowStockItem, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates reads and the mutations that do not belong to a
// document workflow (manual adjustments, expiry write-offs).
type Service struct {
	repo    RepositoryPort
	mutator Mutator
	audit   AuditPort
	logger  *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, audit: audit, logger: logger}
}

// GetStock returns the aggregate for one item.
func (s *Service) GetStock(ctx context.Context, itemID int64) (Stock, error) {
	stock, err := s.repo.GetStock(ctx, itemID)
	if err != nil {
		if errors.Is(err, ErrStockNotFound) {
			return Stock{ItemID: itemID}, nil
		}
		return Stock{}, err
	}
	return stock, nil
}

// ListStock returns all aggregates.
func (s *Service) ListStock(ctx context.Context) ([]Stock, error) {
	return s.repo.ListStock(ctx)
}

// ListBatches returns all lots of an item, terminal ones included.
func (s *Service) ListBatches(ctx context.Context, itemID int64) ([]Batch, error) {
	return s.repo.ListBatches(ctx, itemID)
}

// ListTransactions returns movement log entries.
func (s *Service) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	if filter.Limit <= 0 {
		filter.Limit = 200
	}
	return s.repo.ListTransactions(ctx, filter)
}

// Adjust posts a manual signed correction in its own transaction.
func (s *Service) Adjust(ctx context.Context, input AdjustInput) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		return s.mutator.Adjust(ctx, tx, input)
	})
	if err != nil {
		return err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "stock:adjust",
			Entity:   "item",
			EntityID: fmt.Sprintf("%d", input.ItemID),
			Meta:     map[string]any{"qty": input.Quantity.String(), "note": input.Note},
		})
	}
	return nil
}

// ExpireBatches writes off active batches whose expiry date has passed and
// returns how many were expired. Each batch is handled in its own
// transaction so one failure does not block the rest of the sweep.
func (s *Service) ExpireBatches(ctx context.Context, now time.Time) (int, error) {
	candidates, err := s.repo.ListExpiredActive(ctx, now)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, candidate := range candidates {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
			batch, err := s.repo.GetBatchForUpdate(ctx, tx, candidate.ID)
			if err != nil {
				return err
			}
			if batch.Status != BatchActive || batch.ExpiresAt == nil || batch.ExpiresAt.After(now) {
				return nil
			}
			return s.mutator.WriteOffBatch(ctx, tx, batch, BatchExpired, 0,
				fmt.Sprintf("expired %s", batch.ExpiresAt.Format("2006-01-02")))
		})
		if err != nil {
			if s.logger != nil {
				s.logger.Error("expire batch", slog.Int64("batch_id", candidate.ID), slog.Any("error", err))
			}
			continue
		}
		expired++
	}
	return expired, nil
}

// ListBelowMinimum reports items whose current stock fell under their
// minimum threshold.
func (s *Service) ListBelowMinimum(ctx context.Context) ([]LowStockItem, error) {
	return s.repo.ListBelowMinimum(ctx)
}

// Mutator exposes the shared stock mutator for document workflows.
func (s *Service) Mutator() Mutator {
	return s.mutator
}
