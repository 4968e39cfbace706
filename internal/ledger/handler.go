package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/larderhq/larder/internal/platform/httpx"
	"github.com/larderhq/larder/internal/shared"
)

// Handler wires HTTP endpoints for stock queries and manual adjustments.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleListStock)
	r.Get("/low", h.handleLowStock)
	r.Get("/transactions", h.handleListTransactions)
	r.Get("/{itemID}", h.handleGetStock)
	r.Get("/{itemID}/batches", h.handleListBatches)

	r.Group(func(r chi.Router) {
		r.Use(shared.RequireActor)
		r.Post("/adjustments", h.handleAdjust)
	})
}

type adjustPayload struct {
	ItemID   int64  `json:"item_id" validate:"required,gt=0"`
	Quantity string `json:"quantity" validate:"required"`
	UnitCost string `json:"unit_cost"`
	Note     string `json:"note" validate:"required"`
}

func (h *Handler) handleListStock(w http.ResponseWriter, r *http.Request) {
	stocks, err := h.service.ListStock(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	if stocks == nil {
		stocks = []Stock{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"stocks": stocks})
}

func (h *Handler) handleGetStock(w http.ResponseWriter, r *http.Request) {
	itemID, ok := h.parseItemID(w, r)
	if !ok {
		return
	}
	stock, err := h.service.GetStock(r.Context(), itemID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stock)
}

func (h *Handler) handleListBatches(w http.ResponseWriter, r *http.Request) {
	itemID, ok := h.parseItemID(w, r)
	if !ok {
		return
	}
	batches, err := h.service.ListBatches(r.Context(), itemID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if batches == nil {
		batches = []Batch{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"batches": batches})
}

func (h *Handler) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := TransactionFilter{Type: TxType(q.Get("type"))}
	if item := q.Get("item_id"); item != "" {
		filter.ItemID, _ = strconv.ParseInt(item, 10, 64)
	}
	if from := q.Get("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid from date")
			return
		}
		filter.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid to date")
			return
		}
		filter.To = t.Add(24 * time.Hour)
	}
	if limit := q.Get("limit"); limit != "" {
		filter.Limit, _ = strconv.Atoi(limit)
	}

	txs, err := h.service.ListTransactions(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if txs == nil {
		txs = []Transaction{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

func (h *Handler) handleLowStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListBelowMinimum(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	if items == nil {
		items = []LowStockItem{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	var payload adjustPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	if !actor.CanApprove() {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "manual adjustments need a manager")
		return
	}

	qty, err := decimal.NewFromString(payload.Quantity)
	if err != nil || qty.IsZero() {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid quantity")
		return
	}
	cost := decimal.Zero
	if payload.UnitCost != "" {
		if cost, err = decimal.NewFromString(payload.UnitCost); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid unit_cost")
			return
		}
	}

	if err := h.service.Adjust(r.Context(), AdjustInput{
		ItemID:   payload.ItemID,
		Quantity: qty,
		UnitCost: cost,
		ActorID:  actor.UserID,
		Note:     payload.Note,
	}); err != nil {
		h.respondError(w, err)
		return
	}

	stock, err := h.service.GetStock(r.Context(), payload.ItemID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stock)
}

func (h *Handler) parseItemID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "itemID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid item id")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidUnitCost):
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
	case errors.Is(err, ErrStockNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error("stock request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
