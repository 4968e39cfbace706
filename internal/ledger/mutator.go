package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TxStore exposes the batch, stock and transaction rows of one item inside
// an enclosing database transaction. Implementations must lock batches in
// received order so concurrent approvals over the same item serialize
// without deadlocking.
type TxStore interface {
	// ActiveBatchesForUpdate returns the item's active batches ordered by
	// received date ascending, locked for the duration of the transaction.
	ActiveBatchesForUpdate(ctx context.Context, itemID int64) ([]Batch, error)
	InsertBatch(ctx context.Context, batch Batch) (int64, error)
	UpdateBatch(ctx context.Context, batchID int64, currentQty decimal.Decimal, status BatchStatus) error
	// GetStockForUpdate returns ErrStockNotFound when the item has no
	// aggregate row yet.
	GetStockForUpdate(ctx context.Context, itemID int64) (Stock, error)
	UpsertStock(ctx context.Context, stock Stock) error
	InsertTransaction(ctx context.Context, tx Transaction) (int64, error)
}

// Mutator is the single place where stock mutates. All document workflows
// go through Receive/Consume/Adjust so the FIFO and conservation invariants
// are enforced exactly once.
type Mutator struct{}

// Receive creates a new batch with current = initial = quantity, appends an
// IN transaction and refreshes the aggregate.
func (Mutator) Receive(ctx context.Context, tx TxStore, input ReceiveInput) (Batch, error) {
	if !input.Quantity.IsPositive() {
		return Batch{}, ErrInvalidQuantity
	}
	if input.UnitCost.IsNegative() {
		return Batch{}, ErrInvalidUnitCost
	}
	stock, err := lockStock(ctx, tx, input.ItemID)
	if err != nil {
		return Batch{}, err
	}
	batches, err := tx.ActiveBatchesForUpdate(ctx, input.ItemID)
	if err != nil {
		return Batch{}, err
	}

	receivedAt := input.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	batch := Batch{
		ItemID:      input.ItemID,
		BatchNumber: input.BatchNumber,
		InitialQty:  input.Quantity,
		CurrentQty:  input.Quantity,
		UnitCost:    input.UnitCost,
		ReceivedAt:  receivedAt,
		ExpiresAt:   input.ExpiresAt,
		SupplierID:  input.SupplierID,
		Status:      BatchActive,
	}
	id, err := tx.InsertBatch(ctx, batch)
	if err != nil {
		return Batch{}, fmt.Errorf("ledger: insert batch: %w", err)
	}
	batch.ID = id

	if _, err := tx.InsertTransaction(ctx, Transaction{
		Type:        TxIn,
		ItemID:      input.ItemID,
		BatchID:     id,
		Quantity:    input.Quantity,
		UnitCost:    input.UnitCost,
		DocumentID:  input.DocumentID,
		ProcessedBy: input.ActorID,
		Note:        input.Note,
	}); err != nil {
		return Batch{}, fmt.Errorf("ledger: insert transaction: %w", err)
	}

	if err := writeAggregate(ctx, tx, stock, append(batches, batch)); err != nil {
		return Batch{}, err
	}
	return batch, nil
}

// Consume depletes the oldest active batches first until the requested
// quantity is satisfied, appending one OUT transaction per batch touched.
// It fails with ErrInsufficientStock before mutating anything when the
// active batches cannot cover the request; the enclosing transaction makes
// any partial work invisible either way.
func (Mutator) Consume(ctx context.Context, tx TxStore, input ConsumeInput) ([]Consumption, error) {
	if !input.Quantity.IsPositive() {
		return nil, ErrInvalidQuantity
	}
	stock, err := lockStock(ctx, tx, input.ItemID)
	if err != nil {
		return nil, err
	}
	batches, err := tx.ActiveBatchesForUpdate(ctx, input.ItemID)
	if err != nil {
		return nil, err
	}

	available := decimal.Zero
	for _, b := range batches {
		available = available.Add(b.CurrentQty)
	}
	if available.LessThan(input.Quantity) {
		return nil, fmt.Errorf("%w: item %d has %s, need %s",
			ErrInsufficientStock, input.ItemID, available, input.Quantity)
	}

	remaining := input.Quantity
	var consumed []Consumption
	for i := range batches {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(remaining, batches[i].CurrentQty)
		batches[i].CurrentQty = batches[i].CurrentQty.Sub(take)
		status := BatchActive
		if batches[i].CurrentQty.IsZero() {
			status = BatchDepleted
		}
		batches[i].Status = status
		if err := tx.UpdateBatch(ctx, batches[i].ID, batches[i].CurrentQty, status); err != nil {
			return nil, fmt.Errorf("ledger: update batch: %w", err)
		}
		if _, err := tx.InsertTransaction(ctx, Transaction{
			Type:        TxOut,
			ItemID:      input.ItemID,
			BatchID:     batches[i].ID,
			Quantity:    take,
			UnitCost:    batches[i].UnitCost,
			DocumentID:  input.DocumentID,
			ProcessedBy: input.ActorID,
			Note:        input.Note,
		}); err != nil {
			return nil, fmt.Errorf("ledger: insert transaction: %w", err)
		}
		consumed = append(consumed, Consumption{BatchID: batches[i].ID, Quantity: take, UnitCost: batches[i].UnitCost})
		remaining = remaining.Sub(take)
	}

	if err := writeAggregate(ctx, tx, stock, batches); err != nil {
		return nil, err
	}
	return consumed, nil
}

// Adjust posts a signed correction. Positive adjustments land as a
// correction batch so later consumption still follows FIFO; negative
// adjustments drain batches the same way Consume does but log ADJUSTMENT
// rows.
func (m Mutator) Adjust(ctx context.Context, tx TxStore, input AdjustInput) error {
	if input.Quantity.IsZero() {
		return ErrInvalidQuantity
	}
	if input.Quantity.IsPositive() {
		if input.UnitCost.IsNegative() {
			return ErrInvalidUnitCost
		}
		stock, err := lockStock(ctx, tx, input.ItemID)
		if err != nil {
			return err
		}
		batches, err := tx.ActiveBatchesForUpdate(ctx, input.ItemID)
		if err != nil {
			return err
		}
		batch := Batch{
			ItemID:     input.ItemID,
			InitialQty: input.Quantity,
			CurrentQty: input.Quantity,
			UnitCost:   input.UnitCost,
			ReceivedAt: time.Now().UTC(),
			Status:     BatchActive,
		}
		id, err := tx.InsertBatch(ctx, batch)
		if err != nil {
			return fmt.Errorf("ledger: insert batch: %w", err)
		}
		batch.ID = id
		if _, err := tx.InsertTransaction(ctx, Transaction{
			Type:        TxAdjustment,
			ItemID:      input.ItemID,
			BatchID:     id,
			Quantity:    input.Quantity,
			UnitCost:    input.UnitCost,
			DocumentID:  input.DocumentID,
			ProcessedBy: input.ActorID,
			Note:        input.Note,
		}); err != nil {
			return fmt.Errorf("ledger: insert transaction: %w", err)
		}
		return writeAggregate(ctx, tx, stock, append(batches, batch))
	}

	stock, err := lockStock(ctx, tx, input.ItemID)
	if err != nil {
		return err
	}
	batches, err := tx.ActiveBatchesForUpdate(ctx, input.ItemID)
	if err != nil {
		return err
	}
	need := input.Quantity.Neg()
	available := decimal.Zero
	for _, b := range batches {
		available = available.Add(b.CurrentQty)
	}
	if available.LessThan(need) {
		return fmt.Errorf("%w: item %d has %s, need %s", ErrInsufficientStock, input.ItemID, available, need)
	}
	for i := range batches {
		if !need.IsPositive() {
			break
		}
		take := decimal.Min(need, batches[i].CurrentQty)
		batches[i].CurrentQty = batches[i].CurrentQty.Sub(take)
		status := BatchActive
		if batches[i].CurrentQty.IsZero() {
			status = BatchDepleted
		}
		batches[i].Status = status
		if err := tx.UpdateBatch(ctx, batches[i].ID, batches[i].CurrentQty, status); err != nil {
			return fmt.Errorf("ledger: update batch: %w", err)
		}
		if _, err := tx.InsertTransaction(ctx, Transaction{
			Type:        TxAdjustment,
			ItemID:      input.ItemID,
			BatchID:     batches[i].ID,
			Quantity:    take.Neg(),
			UnitCost:    batches[i].UnitCost,
			DocumentID:  input.DocumentID,
			ProcessedBy: input.ActorID,
			Note:        input.Note,
		}); err != nil {
			return fmt.Errorf("ledger: insert transaction: %w", err)
		}
		need = need.Sub(take)
	}
	return writeAggregate(ctx, tx, stock, batches)
}

// WriteOffBatch moves one locked batch to a terminal status, logging an
// ADJUSTMENT for the written-off quantity. Used by the expiry scan.
func (Mutator) WriteOffBatch(ctx context.Context, tx TxStore, batch Batch, status BatchStatus, actorID int64, note string) error {
	stock, err := lockStock(ctx, tx, batch.ItemID)
	if err != nil {
		return err
	}
	if err := tx.UpdateBatch(ctx, batch.ID, decimal.Zero, status); err != nil {
		return fmt.Errorf("ledger: update batch: %w", err)
	}
	if batch.CurrentQty.IsPositive() {
		if _, err := tx.InsertTransaction(ctx, Transaction{
			Type:        TxAdjustment,
			ItemID:      batch.ItemID,
			BatchID:     batch.ID,
			Quantity:    batch.CurrentQty.Neg(),
			UnitCost:    batch.UnitCost,
			ProcessedBy: actorID,
			Note:        note,
		}); err != nil {
			return fmt.Errorf("ledger: insert transaction: %w", err)
		}
	}
	batches, err := tx.ActiveBatchesForUpdate(ctx, batch.ItemID)
	if err != nil {
		return err
	}
	return writeAggregate(ctx, tx, stock, batches)
}

func lockStock(ctx context.Context, tx TxStore, itemID int64) (Stock, error) {
	stock, err := tx.GetStockForUpdate(ctx, itemID)
	if err != nil {
		if errors.Is(err, ErrStockNotFound) {
			return Stock{ItemID: itemID, CurrentStock: decimal.Zero, ReservedStock: decimal.Zero}, nil
		}
		return Stock{}, err
	}
	return stock, nil
}

// writeAggregate recomputes the aggregate from the active batch set, so
// current_stock == sum of active batch quantities holds after every
// committed mutation.
func writeAggregate(ctx context.Context, tx TxStore, stock Stock, batches []Batch) error {
	current := decimal.Zero
	value := decimal.Zero
	var nextExpiry *time.Time
	for _, b := range batches {
		if b.Status != BatchActive {
			continue
		}
		current = current.Add(b.CurrentQty)
		value = value.Add(b.CurrentQty.Mul(b.UnitCost))
		if b.ExpiresAt != nil && (nextExpiry == nil || b.ExpiresAt.Before(*nextExpiry)) {
			expiry := *b.ExpiresAt
			nextExpiry = &expiry
		}
	}
	avg := decimal.Zero
	if current.IsPositive() {
		avg = value.DivRound(current, 4)
	}
	stock.CurrentStock = current
	stock.AvailableStock = current.Sub(stock.ReservedStock)
	stock.AvgCost = avg
	stock.TotalValue = value
	stock.NextExpiry = nextExpiry
	stock.UpdatedAt = time.Now().UTC()
	if err := tx.UpsertStock(ctx, stock); err != nil {
		return fmt.Errorf("ledger: upsert stock: %w", err)
	}
	return nil
}
