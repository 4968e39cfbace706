package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/hibiken/asynq"

	"github.com/larderhq/larder/internal/ledger"
	"github.com/larderhq/larder/internal/shared"
)

const (
	// TaskLowStockScan reports items below their minimum stock level.
	TaskLowStockScan = "stock:low-stock-scan"
)

// LowStockScanPayload carries scheduling metadata.
type LowStockScanPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewLowStockScanTask constructs an Asynq task for the low-stock scan.
func NewLowStockScanTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(LowStockScanPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockScan, body, asynq.Queue(QueueDefault)), nil
}

// AuditPort records scan findings in the audit trail.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// NewLowStockScanHandler returns the handler that reports items running
// low so the kitchen can reorder. Each finding lands in the audit trail.
func NewLowStockScanHandler(service *ledger.Service, audit AuditPort, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload LowStockScanPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		items, err := service.ListBelowMinimum(ctx)
		if err != nil {
			logger.Error("low stock scan", slog.Any("error", err))
			return err
		}
		for _, item := range items {
			logger.Warn("item below minimum stock",
				slog.Int64("item_id", item.ItemID),
				slog.String("name", item.Name),
				slog.String("current", item.CurrentStock.String()),
				slog.String("minimum", item.MinStock.String()))
			if audit != nil {
				_ = audit.Record(ctx, shared.AuditLog{
					Action:   "stock:below-minimum",
					Entity:   "item",
					EntityID: strconv.FormatInt(item.ItemID, 10),
					Meta: map[string]any{
						"name":    item.Name,
						"current": item.CurrentStock.String(),
						"minimum": item.MinStock.String(),
					},
				})
			}
		}
		logger.Info("low stock scan done", slog.Int("below_minimum", len(items)))
		return nil
	}
}
