package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/larderhq/larder/internal/ledger"
)

const (
	// TaskBatchExpiryScan writes off batches past their expiry date.
	TaskBatchExpiryScan = "batch:expiry-scan"
)

// BatchExpiryScanPayload carries scheduling metadata.
type BatchExpiryScanPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewBatchExpiryScanTask constructs an Asynq task for the expiry scan.
func NewBatchExpiryScanTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(BatchExpiryScanPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBatchExpiryScan, body, asynq.Queue(QueueDefault)), nil
}

// NewBatchExpiryScanHandler returns the handler that expires overdue
// batches through the ledger.
func NewBatchExpiryScanHandler(service *ledger.Service, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload BatchExpiryScanPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		expired, err := service.ExpireBatches(ctx, time.Now().UTC())
		if err != nil {
			logger.Error("batch expiry scan", slog.Any("error", err))
			return err
		}
		logger.Info("batch expiry scan done", slog.Int("expired", expired))
		return nil
	}
}
