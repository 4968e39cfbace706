package ledger

import (
	"context"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	nextBatchID int64
	nextTxID    int64
	batches     []*Batch
	stocks      map[int64]Stock
	txs         []Transaction
	minStock    map[int64]decimal.Decimal
	names       map[int64]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		stocks:   make(map[int64]Stock),
		minStock: make(map[int64]decimal.Decimal),
		names:    make(map[int64]string),
	}
}

func (m *memoryStore) ActiveBatchesForUpdate(_ context.Context, itemID int64) ([]Batch, error) {
	var out []Batch
	for _, b := range m.batches {
		if b.ItemID == itemID && b.Status == BatchActive {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].ReceivedAt.Before(out[j].ReceivedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memoryStore) InsertBatch(_ context.Context, batch Batch) (int64, error) {
	m.nextBatchID++
	batch.ID = m.nextBatchID
	m.batches = append(m.batches, &batch)
	return batch.ID, nil
}

func (m *memoryStore) UpdateBatch(_ context.Context, batchID int64, currentQty decimal.Decimal, status BatchStatus) error {
	for _, b := range m.batches {
		if b.ID == batchID {
			b.CurrentQty = currentQty
			b.Status = status
			return nil
		}
	}
	return ErrStockNotFound
}

func (m *memoryStore) GetStockForUpdate(_ context.Context, itemID int64) (Stock, error) {
	stock, ok := m.stocks[itemID]
	if !ok {
		return Stock{}, ErrStockNotFound
	}
	return stock, nil
}

func (m *memoryStore) UpsertStock(_ context.Context, stock Stock) error {
	m.stocks[stock.ItemID] = stock
	return nil
}

func (m *memoryStore) InsertTransaction(_ context.Context, tx Transaction) (int64, error) {
	m.nextTxID++
	tx.ID = m.nextTxID
	tx.CreatedAt = time.Now().UTC()
	m.txs = append(m.txs, tx)
	return tx.ID, nil
}

func (m *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return fn(ctx, m)
}

func (m *memoryStore) GetStock(ctx context.Context, itemID int64) (Stock, error) {
	return m.GetStockForUpdate(ctx, itemID)
}

func (m *memoryStore) ListStock(context.Context) ([]Stock, error) {
	var out []Stock
	for _, s := range m.stocks {
		out = append(out, s)
	}
	return out, nil
}

func (m *memoryStore) ListBatches(_ context.Context, itemID int64) ([]Batch, error) {
	var out []Batch
	for _, b := range m.batches {
		if b.ItemID == itemID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memoryStore) ListTransactions(_ context.Context, filter TransactionFilter) ([]Transaction, error) {
	var out []Transaction
	for _, tx := range m.txs {
		if filter.ItemID != 0 && tx.ItemID != filter.ItemID {
			continue
		}
		if filter.Type != "" && tx.Type != filter.Type {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

func (m *memoryStore) ListExpiredActive(_ context.Context, now time.Time) ([]Batch, error) {
	var out []Batch
	for _, b := range m.batches {
		if b.Status == BatchActive && b.ExpiresAt != nil && !b.ExpiresAt.After(now) {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memoryStore) GetBatchForUpdate(_ context.Context, _ TxStore, batchID int64) (Batch, error) {
	for _, b := range m.batches {
		if b.ID == batchID {
			return *b, nil
		}
	}
	return Batch{}, ErrStockNotFound
}

func (m *memoryStore) ListBelowMinimum(context.Context) ([]LowStockItem, error) {
	var out []LowStockItem
	for itemID, min := range m.minStock {
		stock := m.stocks[itemID]
		if stock.CurrentStock.LessThan(min) {
			out = append(out, LowStockItem{ItemID: itemID, Name: m.names[itemID], CurrentStock: stock.CurrentStock, MinStock: min})
		}
	}
	return out, nil
}

func (m *memoryStore) activeTotal(itemID int64) decimal.Decimal {
	total := decimal.Zero
	for _, b := range m.batches {
		if b.ItemID == itemID && b.Status == BatchActive {
			total = total.Add(b.CurrentQty)
		}
	}
	return total
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestReceiveCreatesBatchAndAggregate(t *testing.T) {
	store := newMemoryStore()
	var mut Mutator
	ctx := context.Background()

	batch, err := mut.Receive(ctx, store, ReceiveInput{
		ItemID:   1,
		Quantity: dec("50"),
		UnitCost: dec("10000"),
		ActorID:  7,
	})
	require.NoError(t, err)
	require.Equal(t, BatchActive, batch.Status)
	require.True(t, batch.CurrentQty.Equal(dec("50")))

	stock := store.stocks[1]
	require.True(t, stock.CurrentStock.Equal(dec("50")))
	require.True(t, stock.AvgCost.Equal(dec("10000")))
	require.True(t, stock.TotalValue.Equal(dec("500000")))
	require.Len(t, store.txs, 1)
	require.Equal(t, TxIn, store.txs[0].Type)
}

func TestReceiveRejectsBadInput(t *testing.T) {
	store := newMemoryStore()
	var mut Mutator
	ctx := context.Background()

	_, err := mut.Receive(ctx, store, ReceiveInput{ItemID: 1, Quantity: dec("0"), UnitCost: dec("1")})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = mut.Receive(ctx, store, ReceiveInput{ItemID: 1, Quantity: dec("1"), UnitCost: dec("-1")})
	require.ErrorIs(t, err, ErrInvalidUnitCost)
	require.Empty(t, store.batches)
}

func TestConsumeFollowsFIFO(t *testing.T) {
	store := newMemoryStore()
	var mut Mutator
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	first, err := mut.Receive(ctx, store, ReceiveInput{
		ItemID: 1, Quantity: dec("5"), UnitCost: dec("10000"), ReceivedAt: base,
	})
	require.NoError(t, err)
	second, err := mut.Receive(ctx, store, ReceiveInput{
		ItemID: 1, Quantity: dec("10"), UnitCost: dec("12000"), ReceivedAt: base.Add(time.Hour),
	})
	require.NoError(t, err)

	consumed, err := mut.Consume(ctx, store, ConsumeInput{ItemID: 1, Quantity: dec("7")})
	require.NoError(t, err)
	require.Len(t, consumed, 2)
	require.Equal(t, first.ID, consumed[0].BatchID)
	require.True(t, consumed[0].Quantity.Equal(dec("5")))
	require.True(t, consumed[0].UnitCost.Equal(dec("10000")))
	require.Equal(t, second.ID, consumed[1].BatchID)
	require.True(t, consumed[1].Quantity.Equal(dec("2")))
	require.True(t, consumed[1].UnitCost.Equal(dec("12000")))

	require.Equal(t, BatchDepleted, store.batches[0].Status)
	require.True(t, store.batches[0].CurrentQty.IsZero())
	require.Equal(t, BatchActive, store.batches[1].Status)
	require.True(t, store.batches[1].CurrentQty.Equal(dec("8")))

	stock := store.stocks[1]
	require.True(t, stock.CurrentStock.Equal(dec("8")))
	require.True(t, stock.AvgCost.Equal(dec("12000")))
}

func TestConsumeInsufficientStockLeavesStateUntouched(t *testing.T) {
	store := newMemoryStore()
	var mut Mutator
	ctx := context.Background()

	_, err := mut.Receive(ctx, store, ReceiveInput{ItemID: 1, Quantity: dec("3"), UnitCost: dec("5000")})
	require.NoError(t, err)
	before := store.stocks[1]

	_, err = mut.Consume(ctx, store, ConsumeInput{ItemID: 1, Quantity: dec("4")})
	require.ErrorIs(t, err, ErrInsufficientStock)

	require.True(t, store.batches[0].CurrentQty.Equal(dec("3")))
	require.Equal(t, BatchActive, store.batches[0].Status)
	require.True(t, store.stocks[1].CurrentStock.Equal(before.CurrentStock))
	require.Len(t, store.txs, 1)
}

func TestStockConservation(t *testing.T) {
	store := newMemoryStore()
	var mut Mutator
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	_, err := mut.Receive(ctx, store, ReceiveInput{ItemID: 1, Quantity: dec("20"), UnitCost: dec("9000"), ReceivedAt: base})
	require.NoError(t, err)
	_, err = mut.Receive(ctx, store, ReceiveInput{ItemID: 1, Quantity: dec("12.5"), UnitCost: dec("9500"), ReceivedAt: base.Add(time.Hour)})
	require.NoError(t, err)
	_, err = mut.Consume(ctx, store, ConsumeInput{ItemID: 1, Quantity: dec("8.25")})
	require.NoError(t, err)
	require.NoError(t, mut.Adjust(ctx, store, AdjustInput{ItemID: 1, Quantity: dec("-1.75")}))

	require.True(t, store.stocks[1].CurrentStock.Equal(store.activeTotal(1)))
	require.True(t, store.stocks[1].CurrentStock.Equal(dec("22.5")))
}

func TestWeightedAverageCost(t *testing.T) {
	store := newMemoryStore()
	var mut Mutator
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	_, err := mut.Receive(ctx, store, ReceiveInput{ItemID: 1, Quantity: dec("10"), UnitCost: dec("10000"), ReceivedAt: base})
	require.NoError(t, err)
	_, err = mut.Receive(ctx, store, ReceiveInput{ItemID: 1, Quantity: dec("10"), UnitCost: dec("14000"), ReceivedAt: base.Add(time.Hour)})
	require.NoError(t, err)

	require.True(t, store.stocks[1].AvgCost.Equal(dec("12000")))

	// Draining the cheap batch leaves only the expensive one in the average.
	_, err = mut.Consume(ctx, store, ConsumeInput{ItemID: 1, Quantity: dec("10")})
	require.NoError(t, err)
	require.True(t, store.stocks[1].AvgCost.Equal(dec("14000")))
}

func TestAdjustPositiveCreatesCorrectionBatch(t *testing.T) {
	store := newMemoryStore()
	var mut Mutator
	ctx := context.Background()

	require.NoError(t, mut.Adjust(ctx, store, AdjustInput{ItemID: 1, Quantity: dec("4"), UnitCost: dec("8000")}))

	require.Len(t, store.batches, 1)
	require.Equal(t, BatchActive, store.batches[0].Status)
	require.True(t, store.batches[0].CurrentQty.Equal(dec("4")))
	require.True(t, store.stocks[1].CurrentStock.Equal(dec("4")))
	require.Len(t, store.txs, 1)
	require.Equal(t, TxAdjustment, store.txs[0].Type)
}

func TestAdjustNegativeDrainsFIFO(t *testing.T) {
	store := newMemoryStore()
	var mut Mutator
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	_, err := mut.Receive(ctx, store, ReceiveInput{ItemID: 1, Quantity: dec("2"), UnitCost: dec("7000"), ReceivedAt: base})
	require.NoError(t, err)
	_, err = mut.Receive(ctx, store, ReceiveInput{ItemID: 1, Quantity: dec("6"), UnitCost: dec("7500"), ReceivedAt: base.Add(time.Hour)})
	require.NoError(t, err)

	require.NoError(t, mut.Adjust(ctx, store, AdjustInput{ItemID: 1, Quantity: dec("-3")}))

	require.Equal(t, BatchDepleted, store.batches[0].Status)
	require.True(t, store.batches[1].CurrentQty.Equal(dec("5")))
	require.True(t, store.stocks[1].CurrentStock.Equal(dec("5")))

	err = mut.Adjust(ctx, store, AdjustInput{ItemID: 1, Quantity: dec("-50")})
	require.ErrorIs(t, err, ErrInsufficientStock)
}

func TestAdjustZeroQuantityRejected(t *testing.T) {
	store := newMemoryStore()
	var mut Mutator
	err := mut.Adjust(context.Background(), store, AdjustInput{ItemID: 1, Quantity: decimal.Zero})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestServiceGetStockMissingReturnsZeroRow(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, nil, slog.Default())

	stock, err := svc.GetStock(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, int64(42), stock.ItemID)
	require.True(t, stock.CurrentStock.IsZero())
}

func TestExpireBatchesWritesOffPastExpiry(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, nil, slog.Default())
	var mut Mutator
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)

	past := now.Add(-24 * time.Hour)
	future := now.Add(48 * time.Hour)
	_, err := mut.Receive(ctx, store, ReceiveInput{ItemID: 1, Quantity: dec("5"), UnitCost: dec("6000"), ReceivedAt: now.Add(-72 * time.Hour), ExpiresAt: &past})
	require.NoError(t, err)
	_, err = mut.Receive(ctx, store, ReceiveInput{ItemID: 1, Quantity: dec("7"), UnitCost: dec("6200"), ReceivedAt: now.Add(-48 * time.Hour), ExpiresAt: &future})
	require.NoError(t, err)

	expired, err := svc.ExpireBatches(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	require.Equal(t, BatchExpired, store.batches[0].Status)
	require.True(t, store.batches[0].CurrentQty.IsZero())
	require.Equal(t, BatchActive, store.batches[1].Status)
	require.True(t, store.stocks[1].CurrentStock.Equal(dec("7")))
	require.NotNil(t, store.stocks[1].NextExpiry)
	require.True(t, store.stocks[1].NextExpiry.Equal(future))

	// A second sweep finds nothing left to expire.
	expired, err = svc.ExpireBatches(ctx, now)
	require.NoError(t, err)
	require.Zero(t, expired)
}

func TestListBelowMinimum(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, nil, slog.Default())
	var mut Mutator
	ctx := context.Background()

	store.minStock[1] = dec("10")
	store.minStock[2] = dec("3")
	store.names[1] = "ca chua"
	store.names[2] = "hanh la"

	_, err := mut.Receive(ctx, store, ReceiveInput{ItemID: 1, Quantity: dec("4"), UnitCost: dec("5000")})
	require.NoError(t, err)
	_, err = mut.Receive(ctx, store, ReceiveInput{ItemID: 2, Quantity: dec("9"), UnitCost: dec("2000")})
	require.NoError(t, err)

	low, err := svc.ListBelowMinimum(ctx)
	require.NoError(t, err)
	require.Len(t, low, 1)
	require.Equal(t, int64(1), low[0].ItemID)
	require.True(t, low[0].CurrentStock.Equal(dec("4")))
}
