package document

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/larderhq/larder/internal/ledger"
	"github.com/larderhq/larder/internal/shared"
)

// memoryRepo implements RepositoryPort, TxRepository and StockPort over
// plain maps so the workflows run against real mutator logic without a
// database.
type memoryRepo struct {
	nextBatchID int64
	nextTxID    int64
	nextLineID  int64
	batches     []*ledger.Batch
	stocks      map[int64]ledger.Stock
	ledgerTxs   []ledger.Transaction
	docs        map[uuid.UUID]*Document
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		stocks: make(map[int64]ledger.Stock),
		docs:   make(map[uuid.UUID]*Document),
	}
}

func (m *memoryRepo) ActiveBatchesForUpdate(_ context.Context, itemID int64) ([]ledger.Batch, error) {
	var out []ledger.Batch
	for _, b := range m.batches {
		if b.ItemID == itemID && b.Status == ledger.BatchActive {
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

func (m *memoryRepo) InsertBatch(_ context.Context, batch ledger.Batch) (int64, error) {
	m.nextBatchID++
	batch.ID = m.nextBatchID
	m.batches = append(m.batches, &batch)
	return batch.ID, nil
}

func (m *memoryRepo) UpdateBatch(_ context.Context, batchID int64, currentQty decimal.Decimal, status ledger.BatchStatus) error {
	for _, b := range m.batches {
		if b.ID == batchID {
			b.CurrentQty = currentQty
			b.Status = status
			return nil
		}
	}
	return ledger.ErrStockNotFound
}

func (m *memoryRepo) GetStockForUpdate(_ context.Context, itemID int64) (ledger.Stock, error) {
	stock, ok := m.stocks[itemID]
	if !ok {
		return ledger.Stock{}, ledger.ErrStockNotFound
	}
	return stock, nil
}

func (m *memoryRepo) UpsertStock(_ context.Context, stock ledger.Stock) error {
	m.stocks[stock.ItemID] = stock
	return nil
}

func (m *memoryRepo) InsertTransaction(_ context.Context, tx ledger.Transaction) (int64, error) {
	m.nextTxID++
	tx.ID = m.nextTxID
	m.ledgerTxs = append(m.ledgerTxs, tx)
	return tx.ID, nil
}

func (m *memoryRepo) InsertDocument(_ context.Context, doc Document) error {
	copied := doc
	copied.Lines = nil
	m.docs[doc.ID] = &copied
	return nil
}

func (m *memoryRepo) InsertLines(_ context.Context, docID uuid.UUID, lines []Line) error {
	doc, ok := m.docs[docID]
	if !ok {
		return ErrNotFound
	}
	for _, line := range lines {
		m.nextLineID++
		line.ID = m.nextLineID
		line.DocumentID = docID
		doc.Lines = append(doc.Lines, line)
	}
	return nil
}

func (m *memoryRepo) GetForUpdate(_ context.Context, id uuid.UUID) (Document, error) {
	doc, ok := m.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return *doc, nil
}

func (m *memoryRepo) MarkApproved(_ context.Context, id uuid.UUID, actorID int64, at time.Time) error {
	doc := m.docs[id]
	doc.Status = StatusApproved
	doc.ApprovedBy = actorID
	doc.ApprovedAt = &at
	return nil
}

func (m *memoryRepo) MarkRejected(_ context.Context, id uuid.UUID, actorID int64, at time.Time, reason string) error {
	doc := m.docs[id]
	doc.Status = StatusRejected
	doc.RejectedBy = actorID
	doc.RejectedAt = &at
	doc.RejectReason = reason
	return nil
}

func (m *memoryRepo) MarkCancelled(_ context.Context, id uuid.UUID) error {
	m.docs[id].Status = StatusCancelled
	return nil
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memoryRepo) snapshot() *memoryRepo {
	cp := &memoryRepo{
		nextBatchID: m.nextBatchID,
		nextTxID:    m.nextTxID,
		nextLineID:  m.nextLineID,
		stocks:      make(map[int64]ledger.Stock, len(m.stocks)),
		docs:        make(map[uuid.UUID]*Document, len(m.docs)),
	}
	for id, s := range m.stocks {
		cp.stocks[id] = s
	}
	for _, b := range m.batches {
		copied := *b
		cp.batches = append(cp.batches, &copied)
	}
	cp.ledgerTxs = append(cp.ledgerTxs, m.ledgerTxs...)
	for id, d := range m.docs {
		copied := *d
		copied.Lines = append([]Line(nil), d.Lines...)
		cp.docs[id] = &copied
	}
	return cp
}

func (m *memoryRepo) restore(snap *memoryRepo) {
	m.nextBatchID = snap.nextBatchID
	m.nextTxID = snap.nextTxID
	m.nextLineID = snap.nextLineID
	m.stocks = snap.stocks
	m.batches = snap.batches
	m.ledgerTxs = snap.ledgerTxs
	m.docs = snap.docs
}

func (m *memoryRepo) Get(_ context.Context, id uuid.UUID) (Document, error) {
	doc, ok := m.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return *doc, nil
}

func (m *memoryRepo) GetView(ctx context.Context, id uuid.UUID) (View, error) {
	doc, err := m.Get(ctx, id)
	if err != nil {
		return View{}, err
	}
	view := View{Document: doc}
	for _, line := range doc.Lines {
		view.LineViews = append(view.LineViews, LineView{Line: line})
	}
	return view, nil
}

func (m *memoryRepo) List(_ context.Context, filter Filter) ([]Document, int, error) {
	var out []Document
	for _, doc := range m.docs {
		if filter.Kind != "" && doc.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && doc.Status != filter.Status {
			continue
		}
		out = append(out, *doc)
	}
	return out, len(out), nil
}

func (m *memoryRepo) GetExportLine(_ context.Context, lineID int64) (Line, error) {
	for _, doc := range m.docs {
		if doc.Kind != KindExport || doc.Status != StatusApproved {
			continue
		}
		for _, line := range doc.Lines {
			if line.ID == lineID {
				return line, nil
			}
		}
	}
	return Line{}, fmt.Errorf("export line %d: %w", lineID, shared.ErrNotFound)
}

// GetStock serves the export pre-check: missing aggregates read as zero.
func (m *memoryRepo) GetStock(_ context.Context, itemID int64) (ledger.Stock, error) {
	stock, ok := m.stocks[itemID]
	if !ok {
		return ledger.Stock{ItemID: itemID}, nil
	}
	return stock, nil
}

type memoryRefs struct {
	items       map[int64]ItemRef
	suppliers   map[int64]bool
	departments map[int64]bool
}

func (r *memoryRefs) ItemRef(_ context.Context, id int64) (ItemRef, error) {
	item, ok := r.items[id]
	if !ok {
		return ItemRef{}, fmt.Errorf("item %d: %w", id, shared.ErrNotFound)
	}
	return item, nil
}

func (r *memoryRefs) SupplierExists(_ context.Context, id int64) (bool, error) {
	return r.suppliers[id], nil
}

func (r *memoryRefs) DepartmentExists(_ context.Context, id int64) (bool, error) {
	return r.departments[id], nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// flakyRepo simulates serialization aborts. failuresLeft counts how many
// WithTx calls fail with SQLSTATE 40001; with failAfterFn set the closure
// runs first, mimicking an abort at commit after the work was done.
type flakyRepo struct {
	*memoryRepo
	failuresLeft int
	failAfterFn  bool
	attempts     int
}

func (f *flakyRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	f.attempts++
	if f.failuresLeft > 0 {
		f.failuresLeft--
		if f.failAfterFn {
			snap := f.memoryRepo.snapshot()
			_ = f.memoryRepo.WithTx(ctx, fn)
			f.memoryRepo.restore(snap)
		}
		return &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
	}
	return f.memoryRepo.WithTx(ctx, fn)
}

type captureObserver struct {
	decided   []string
	movements []string
}

func (o *captureObserver) DocumentDecided(kind, outcome string) {
	o.decided = append(o.decided, kind+":"+outcome)
}

func (o *captureObserver) StockMovement(txType string) {
	o.movements = append(o.movements, txType)
}

func newFlakyService(t *testing.T) (*Service, *flakyRepo, *captureObserver) {
	t.Helper()
	flaky := &flakyRepo{memoryRepo: newMemoryRepo()}
	refs := &memoryRefs{
		items: map[int64]ItemRef{
			1: {ID: 1, Name: "ca chua", UnitCost: dec("9000"), Active: true},
		},
		suppliers:   map[int64]bool{10: true},
		departments: map[int64]bool{20: true},
	}
	obs := &captureObserver{}
	svc := NewService(flaky, refs, flaky, nil, nil, nil, obs, slog.Default(), ServiceConfig{ApprovalRetries: 3})
	return svc, flaky, obs
}

func newTestService(t *testing.T, cache *ViewCache) (*Service, *memoryRepo) {
	t.Helper()
	repo := newMemoryRepo()
	refs := &memoryRefs{
		items: map[int64]ItemRef{
			1: {ID: 1, Name: "ca chua", UnitCost: dec("9000"), Active: true},
			2: {ID: 2, Name: "thit bo", UnitCost: dec("250000"), Active: true},
			3: {ID: 3, Name: "rau cu het mua", UnitCost: dec("4000"), Active: false},
		},
		suppliers:   map[int64]bool{10: true},
		departments: map[int64]bool{20: true},
	}
	svc := NewService(repo, refs, repo, cache, nil, nil, nil, slog.Default(), ServiceConfig{})
	return svc, repo
}

var (
	manager = shared.Actor{UserID: 5, Role: shared.RoleManager}
	staff   = shared.Actor{UserID: 6, Role: shared.RoleStaff}
)

func importInput(qty, price string) CreateInput {
	return CreateInput{
		Kind:       KindImport,
		SupplierID: 10,
		CreatedBy:  6,
		Lines:      []LineInput{{ItemID: 1, Quantity: dec(qty), UnitPrice: dec(price)}},
	}
}

func exportInput(qty string) CreateInput {
	return CreateInput{
		Kind:         KindExport,
		DepartmentID: 20,
		Purpose:      "bep sang",
		CreatedBy:    6,
		Lines:        []LineInput{{ItemID: 1, Quantity: dec(qty)}},
	}
}

func TestImportExportRoundTrip(t *testing.T) {
	svc, repo := newTestService(t, nil)
	ctx := context.Background()

	imp, err := svc.Create(ctx, importInput("50", "10000"))
	require.NoError(t, err)
	require.Equal(t, StatusPending, imp.Status)
	require.Contains(t, imp.Code, "IMP-")

	// Pending documents leave stock untouched.
	require.True(t, repo.stocks[1].CurrentStock.IsZero())

	imp, err = svc.Approve(ctx, imp.ID, manager)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, imp.Status)
	require.Equal(t, manager.UserID, imp.ApprovedBy)
	require.True(t, repo.stocks[1].CurrentStock.Equal(dec("50")))
	require.True(t, repo.stocks[1].AvgCost.Equal(dec("10000")))

	exp, err := svc.Create(ctx, exportInput("20"))
	require.NoError(t, err)
	require.Contains(t, exp.Code, "EXP-")

	_, err = svc.Approve(ctx, exp.ID, manager)
	require.NoError(t, err)
	require.True(t, repo.stocks[1].CurrentStock.Equal(dec("30")))

	require.Len(t, repo.ledgerTxs, 2)
	require.Equal(t, ledger.TxIn, repo.ledgerTxs[0].Type)
	require.Equal(t, ledger.TxOut, repo.ledgerTxs[1].Type)
	require.Equal(t, imp.ID, repo.ledgerTxs[0].DocumentID)
	require.Equal(t, exp.ID, repo.ledgerTxs[1].DocumentID)
}

func TestApproveIsTerminalOnceDecided(t *testing.T) {
	svc, repo := newTestService(t, nil)
	ctx := context.Background()

	doc, err := svc.Create(ctx, importInput("5", "1000"))
	require.NoError(t, err)
	_, err = svc.Approve(ctx, doc.ID, manager)
	require.NoError(t, err)

	_, err = svc.Approve(ctx, doc.ID, manager)
	require.ErrorIs(t, err, ErrNotPending)
	// Double approval must not double the stock.
	require.True(t, repo.stocks[1].CurrentStock.Equal(dec("5")))

	_, err = svc.Reject(ctx, doc.ID, manager, "too late")
	require.ErrorIs(t, err, ErrNotPending)
	_, err = svc.Cancel(ctx, doc.ID, manager)
	require.ErrorIs(t, err, ErrNotPending)
}

func TestApproveRequiresManagerRole(t *testing.T) {
	svc, repo := newTestService(t, nil)
	ctx := context.Background()

	doc, err := svc.Create(ctx, importInput("5", "1000"))
	require.NoError(t, err)

	_, err = svc.Approve(ctx, doc.ID, staff)
	require.ErrorIs(t, err, shared.ErrForbidden)
	_, err = svc.Reject(ctx, doc.ID, staff, "no")
	require.ErrorIs(t, err, shared.ErrForbidden)

	require.Equal(t, StatusPending, repo.docs[doc.ID].Status)
	require.True(t, repo.stocks[1].CurrentStock.IsZero())
}

func TestRejectRequiresReason(t *testing.T) {
	svc, repo := newTestService(t, nil)
	ctx := context.Background()

	doc, err := svc.Create(ctx, importInput("5", "1000"))
	require.NoError(t, err)

	_, err = svc.Reject(ctx, doc.ID, manager, "")
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	require.Equal(t, "reason", verrs[0].Field)

	rejected, err := svc.Reject(ctx, doc.ID, manager, "wrong supplier")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, rejected.Status)
	require.Equal(t, "wrong supplier", rejected.RejectReason)
	require.True(t, repo.stocks[1].CurrentStock.IsZero())
}

func TestCancelPendingOnly(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	doc, err := svc.Create(ctx, importInput("5", "1000"))
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, doc.ID, staff)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	_, err = svc.Approve(ctx, doc.ID, manager)
	require.ErrorIs(t, err, ErrNotPending)
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	fields := func(err error) []string {
		var verrs ValidationErrors
		require.ErrorAs(t, err, &verrs)
		out := make([]string, 0, len(verrs))
		for _, e := range verrs {
			out = append(out, e.Field)
		}
		return out
	}

	_, err := svc.Create(ctx, CreateInput{Kind: "transfer"})
	require.Contains(t, fields(err), "kind")

	_, err = svc.Create(ctx, CreateInput{Kind: KindImport, SupplierID: 99, Lines: []LineInput{{ItemID: 1, Quantity: dec("1"), UnitPrice: dec("1")}}})
	require.Contains(t, fields(err), "supplier_id")

	_, err = svc.Create(ctx, CreateInput{Kind: KindImport, SupplierID: 10})
	require.Contains(t, fields(err), "lines")

	// Unknown and inactive items are reported per line.
	_, err = svc.Create(ctx, CreateInput{
		Kind:       KindImport,
		SupplierID: 10,
		Lines: []LineInput{
			{ItemID: 404, Quantity: dec("1"), UnitPrice: dec("1")},
			{ItemID: 3, Quantity: dec("1"), UnitPrice: dec("1")},
		},
	})
	require.Contains(t, fields(err), "lines[0].item_id")
	require.Contains(t, fields(err), "lines[1].item_id")

	_, err = svc.Create(ctx, CreateInput{
		Kind:         KindWaste,
		DepartmentID: 20,
		Lines:        []LineInput{{ItemID: 1, Quantity: dec("1")}},
	})
	require.Contains(t, fields(err), "lines[0].reason")
}

func TestExportInsufficientStockFailsValidation(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	doc, err := svc.Create(ctx, importInput("10", "10000"))
	require.NoError(t, err)
	_, err = svc.Approve(ctx, doc.ID, manager)
	require.NoError(t, err)

	_, err = svc.Create(ctx, exportInput("11"))
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	require.Equal(t, "lines[0].quantity", verrs[0].Field)

	_, err = svc.Create(ctx, exportInput("10"))
	require.NoError(t, err)
}

func TestReturnGoodRestocksAtAverageCost(t *testing.T) {
	svc, repo := newTestService(t, nil)
	ctx := context.Background()

	imp, err := svc.Create(ctx, importInput("10", "10000"))
	require.NoError(t, err)
	_, err = svc.Approve(ctx, imp.ID, manager)
	require.NoError(t, err)

	exp, err := svc.Create(ctx, exportInput("4"))
	require.NoError(t, err)
	exp, err = svc.Approve(ctx, exp.ID, manager)
	require.NoError(t, err)
	exportLine := repo.docs[exp.ID].Lines[0]

	ret, err := svc.Create(ctx, CreateInput{
		Kind:         KindReturn,
		DepartmentID: 20,
		CreatedBy:    6,
		Lines: []LineInput{{
			ItemID:       1,
			Quantity:     dec("2"),
			Condition:    ConditionGood,
			ExportLineID: exportLine.ID,
		}},
	})
	require.NoError(t, err)
	require.Contains(t, ret.Code, "RET-")

	_, err = svc.Approve(ctx, ret.ID, manager)
	require.NoError(t, err)

	require.True(t, repo.stocks[1].CurrentStock.Equal(dec("8")))
	restocked := repo.batches[len(repo.batches)-1]
	require.True(t, restocked.UnitCost.Equal(dec("10000")))
	require.Equal(t, ledger.BatchActive, restocked.Status)
}

func TestReturnDamagedConsumesStock(t *testing.T) {
	svc, repo := newTestService(t, nil)
	ctx := context.Background()

	imp, err := svc.Create(ctx, importInput("10", "10000"))
	require.NoError(t, err)
	_, err = svc.Approve(ctx, imp.ID, manager)
	require.NoError(t, err)

	ret, err := svc.Create(ctx, CreateInput{
		Kind:         KindReturn,
		DepartmentID: 20,
		CreatedBy:    6,
		Lines:        []LineInput{{ItemID: 1, Quantity: dec("3"), Condition: ConditionDamaged}},
	})
	require.NoError(t, err)
	_, err = svc.Approve(ctx, ret.ID, manager)
	require.NoError(t, err)

	require.True(t, repo.stocks[1].CurrentStock.Equal(dec("7")))
	last := repo.ledgerTxs[len(repo.ledgerTxs)-1]
	require.Equal(t, ledger.TxOut, last.Type)
}

func TestReturnValidatesExportLine(t *testing.T) {
	svc, repo := newTestService(t, nil)
	ctx := context.Background()

	imp, err := svc.Create(ctx, importInput("10", "10000"))
	require.NoError(t, err)
	_, err = svc.Approve(ctx, imp.ID, manager)
	require.NoError(t, err)
	exp, err := svc.Create(ctx, exportInput("4"))
	require.NoError(t, err)
	_, err = svc.Approve(ctx, exp.ID, manager)
	require.NoError(t, err)
	exportLine := repo.docs[exp.ID].Lines[0]

	fields := func(err error) []string {
		var verrs ValidationErrors
		require.ErrorAs(t, err, &verrs)
		out := make([]string, 0, len(verrs))
		for _, e := range verrs {
			out = append(out, e.Field)
		}
		return out
	}

	_, err = svc.Create(ctx, CreateInput{
		Kind: KindReturn, DepartmentID: 20,
		Lines: []LineInput{{ItemID: 1, Quantity: dec("1"), Condition: ConditionGood, ExportLineID: 999}},
	})
	require.Contains(t, fields(err), "lines[0].export_line_id")

	_, err = svc.Create(ctx, CreateInput{
		Kind: KindReturn, DepartmentID: 20,
		Lines: []LineInput{{ItemID: 2, Quantity: dec("1"), Condition: ConditionGood, ExportLineID: exportLine.ID}},
	})
	require.Contains(t, fields(err), "lines[0].export_line_id")

	_, err = svc.Create(ctx, CreateInput{
		Kind: KindReturn, DepartmentID: 20,
		Lines: []LineInput{{ItemID: 1, Quantity: dec("5"), Condition: ConditionGood, ExportLineID: exportLine.ID}},
	})
	require.Contains(t, fields(err), "lines[0].quantity")
}

func TestApproveRetriesSerializationConflicts(t *testing.T) {
	svc, flaky, obs := newFlakyService(t)
	ctx := context.Background()

	doc, err := svc.Create(ctx, importInput("5", "1000"))
	require.NoError(t, err)

	flaky.failuresLeft = 2
	flaky.attempts = 0
	approved, err := svc.Approve(ctx, doc.ID, manager)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approved.Status)
	require.Equal(t, 3, flaky.attempts)
	require.True(t, flaky.stocks[1].CurrentStock.Equal(dec("5")))
	require.Equal(t, []string{"IN"}, obs.movements)
}

func TestApproveSurfacesConflictAfterRetriesExhausted(t *testing.T) {
	svc, flaky, _ := newFlakyService(t)
	ctx := context.Background()

	doc, err := svc.Create(ctx, importInput("5", "1000"))
	require.NoError(t, err)

	flaky.failuresLeft = 10
	flaky.attempts = 0
	_, err = svc.Approve(ctx, doc.ID, manager)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Equal(t, 3, flaky.attempts)
	require.Equal(t, StatusPending, flaky.docs[doc.ID].Status)
}

func TestRolledBackApprovalsDoNotCountMovements(t *testing.T) {
	svc, flaky, obs := newFlakyService(t)
	ctx := context.Background()

	doc, err := svc.Create(ctx, importInput("5", "1000"))
	require.NoError(t, err)

	// Every attempt does the ledger work but aborts at commit. None of it
	// may reach the movement counters.
	flaky.failuresLeft = 10
	flaky.failAfterFn = true
	_, err = svc.Approve(ctx, doc.ID, manager)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Empty(t, obs.movements)
	require.Empty(t, obs.decided)
}

func TestCreateRejectsFutureDate(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()

	input := importInput("5", "1000")
	input.DocDate = time.Now().UTC().Add(time.Hour)
	_, err := svc.Create(ctx, input)
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	require.Equal(t, "doc_date", verrs[0].Field)

	input.DocDate = time.Now().UTC().Add(-time.Hour)
	_, err = svc.Create(ctx, input)
	require.NoError(t, err)
}

func TestViewCacheServesAndInvalidates(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewViewCache(client, time.Minute)

	svc, _ := newTestService(t, cache)
	ctx := context.Background()

	doc, err := svc.Create(ctx, importInput("5", "1000"))
	require.NoError(t, err)

	view, err := svc.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, view.Status)
	require.True(t, mr.Exists("doc:view:"+doc.ID.String()))

	_, err = svc.Approve(ctx, doc.ID, manager)
	require.NoError(t, err)
	require.False(t, mr.Exists("doc:view:"+doc.ID.String()))

	view, err = svc.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, view.Status)
}
