package document

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/larderhq/larder/internal/ledger"
	"github.com/larderhq/larder/internal/platform/httpx"
	"github.com/larderhq/larder/internal/shared"
)

// ResolverPort turns free-form catalog names into ids, creating catalog
// rows on first sight. Backed by the catalog resolver.
type ResolverPort interface {
	ResolveItem(ctx context.Context, name, unit, category string) (int64, error)
	ResolveSupplier(ctx context.Context, name string) (int64, error)
	ResolveDepartment(ctx context.Context, name string) (int64, error)
}

// Handler wires HTTP endpoints for document workflows.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	resolver ResolverPort
	validate *validator.Validate
}

// NewHandler constructs document handler.
func NewHandler(logger *slog.Logger, service *Service, resolver ResolverPort) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		resolver: resolver,
		validate: validator.New(),
	}
}

// MountRoutes registers document routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(shared.RequireActor)
		r.Post("/", h.handleCreate)
		r.Post("/intake", h.handleIntake)
		r.Post("/{id}/approve", h.handleApprove)
		r.Post("/{id}/reject", h.handleReject)
		r.Post("/{id}/cancel", h.handleCancel)
	})
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
}

type linePayload struct {
	ItemID       int64      `json:"item_id" validate:"required,gt=0"`
	Quantity     string     `json:"quantity" validate:"required"`
	UnitPrice    string     `json:"unit_price"`
	BatchNumber  string     `json:"batch_number"`
	ExpiresAt    *time.Time `json:"expires_at"`
	Condition    string     `json:"condition"`
	ExportLineID int64      `json:"export_line_id"`
	EstValue     string     `json:"est_value"`
	Reason       string     `json:"reason"`
}

type createPayload struct {
	Kind         string        `json:"kind" validate:"required,oneof=import export return waste"`
	DocDate      *time.Time    `json:"doc_date"`
	SupplierID   int64         `json:"supplier_id"`
	DepartmentID int64         `json:"department_id"`
	Purpose      string        `json:"purpose"`
	Note         string        `json:"note"`
	Attachments  []string      `json:"attachments"`
	Lines        []linePayload `json:"lines" validate:"required,min=1,dive"`
}

type intakeLinePayload struct {
	ItemName    string     `json:"item_name" validate:"required"`
	Unit        string     `json:"unit"`
	Category    string     `json:"category"`
	Quantity    string     `json:"quantity" validate:"required"`
	UnitPrice   string     `json:"unit_price" validate:"required"`
	BatchNumber string     `json:"batch_number"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

// intakePayload is the name-based import form used by delivery intake:
// suppliers and items are given by name and created on first sight.
type intakePayload struct {
	SupplierName string              `json:"supplier_name" validate:"required"`
	DocDate      *time.Time          `json:"doc_date"`
	Note         string              `json:"note"`
	Attachments  []string            `json:"attachments"`
	Lines        []intakeLinePayload `json:"lines" validate:"required,min=1,dive"`
}

type rejectPayload struct {
	Reason string `json:"reason" validate:"required"`
}

type documentResponse struct {
	Document Document `json:"document"`
}

type listResponse struct {
	Documents  []Document        `json:"documents"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload createPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())

	input, verrs := payloadToInput(payload, actor)
	if len(verrs) > 0 {
		h.respondValidation(w, verrs)
		return
	}

	doc, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, documentResponse{Document: doc})
}

// handleIntake accepts an import described by catalog names instead of ids.
// Unknown names are created before the regular import path runs.
func (h *Handler) handleIntake(w http.ResponseWriter, r *http.Request) {
	if h.resolver == nil {
		httpx.Problem(w, http.StatusNotImplemented, "Not Implemented", "name intake is not configured")
		return
	}
	var payload intakePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())

	supplierID, err := h.resolver.ResolveSupplier(r.Context(), payload.SupplierName)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	input := CreateInput{
		Kind:        KindImport,
		SupplierID:  supplierID,
		Note:        payload.Note,
		Attachments: payload.Attachments,
		CreatedBy:   actor.UserID,
	}
	if payload.DocDate != nil {
		input.DocDate = *payload.DocDate
	}
	var verrs ValidationErrors
	for i, line := range payload.Lines {
		itemID, err := h.resolver.ResolveItem(r.Context(), line.ItemName, line.Unit, line.Category)
		if err != nil {
			h.respondServiceError(w, r, err)
			return
		}
		qty, ok := parseDecimal(line.Quantity)
		if !ok {
			verrs.Add(lineField(i, "quantity"), "invalid decimal")
		}
		price, ok := parseDecimal(line.UnitPrice)
		if !ok {
			verrs.Add(lineField(i, "unit_price"), "invalid decimal")
		}
		input.Lines = append(input.Lines, LineInput{
			ItemID:      itemID,
			Quantity:    qty,
			UnitPrice:   price,
			BatchNumber: line.BatchNumber,
			ExpiresAt:   line.ExpiresAt,
		})
	}
	if len(verrs) > 0 {
		h.respondValidation(w, verrs)
		return
	}

	doc, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, documentResponse{Document: doc})
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	doc, err := h.service.Approve(r.Context(), id, actor)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, documentResponse{Document: doc})
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var payload rejectPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	doc, err := h.service.Reject(r.Context(), id, actor, payload.Reason)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, documentResponse{Document: doc})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	doc, err := h.service.Cancel(r.Context(), id, actor)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, documentResponse{Document: doc})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	view, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{
		Kind:   Kind(q.Get("kind")),
		Status: Status(q.Get("status")),
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
	filter.Page, filter.PerPage = shared.PageParams(q)

	docs, pagination, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if docs == nil {
		docs = []Document{}
	}
	httpx.JSON(w, http.StatusOK, listResponse{Documents: docs, Pagination: pagination})
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid document id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) respondValidation(w http.ResponseWriter, verrs ValidationErrors) {
	fieldErrs := make([]httpx.FieldError, 0, len(verrs))
	for _, e := range verrs {
		fieldErrs = append(fieldErrs, httpx.FieldError{Field: e.Field, Message: e.Message})
	}
	httpx.ProblemWithErrors(w, http.StatusUnprocessableEntity, "Validation Failed", fieldErrs)
}

func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verrs ValidationErrors
	switch {
	case errors.As(err, &verrs):
		h.respondValidation(w, verrs)
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrNotPending):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ledger.ErrInsufficientStock):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	default:
		if !errors.Is(err, shared.ErrNotFound) && !errors.Is(err, shared.ErrConflict) &&
			!errors.Is(err, shared.ErrForbidden) && !errors.Is(err, shared.ErrUnauthorized) {
			h.logger.Error("document request failed",
				slog.String("path", r.URL.Path), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
	}
}

func payloadToInput(payload createPayload, actor shared.Actor) (CreateInput, ValidationErrors) {
	input := CreateInput{
		Kind:         Kind(payload.Kind),
		SupplierID:   payload.SupplierID,
		DepartmentID: payload.DepartmentID,
		Purpose:      payload.Purpose,
		Note:         payload.Note,
		Attachments:  payload.Attachments,
		CreatedBy:    actor.UserID,
	}
	if payload.DocDate != nil {
		input.DocDate = *payload.DocDate
	}
	var verrs ValidationErrors
	for i, line := range payload.Lines {
		li := LineInput{
			ItemID:       line.ItemID,
			BatchNumber:  line.BatchNumber,
			ExpiresAt:    line.ExpiresAt,
			Condition:    ReturnCondition(line.Condition),
			ExportLineID: line.ExportLineID,
			Reason:       line.Reason,
		}
		var ok bool
		if li.Quantity, ok = parseDecimal(line.Quantity); !ok {
			verrs.Add(lineField(i, "quantity"), "invalid decimal")
		}
		if li.UnitPrice, ok = parseDecimal(line.UnitPrice); !ok {
			verrs.Add(lineField(i, "unit_price"), "invalid decimal")
		}
		if li.EstValue, ok = parseDecimal(line.EstValue); !ok {
			verrs.Add(lineField(i, "est_value"), "invalid decimal")
		}
		input.Lines = append(input.Lines, li)
	}
	return input, verrs
}

func parseDecimal(s string) (decimal.Decimal, bool) {
	if s == "" {
		return decimal.Zero, true
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func lineField(i int, name string) string {
	return "lines[" + strconv.Itoa(i) + "]." + name
}
