package recon

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/larderhq/larder/internal/document"
	"github.com/larderhq/larder/internal/platform/httpx"
	"github.com/larderhq/larder/internal/shared"
)

// Handler wires HTTP endpoints for reconciliations.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	reporter *Reporter
	validate *validator.Validate
}

// NewHandler constructs recon handler.
func NewHandler(logger *slog.Logger, service *Service, reporter *Reporter) *Handler {
	return &Handler{logger: logger, service: service, reporter: reporter, validate: validator.New()}
}

// MountRoutes registers reconciliation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(shared.RequireActor)
		r.Post("/", h.handleCreate)
		r.Post("/{id}/approve", h.handleApprove)
		r.Post("/{id}/reject", h.handleReject)
	})
	r.Get("/", h.handleList)
	r.Get("/report", h.handleReport)
	r.Get("/{id}", h.handleGet)
}

type linePayload struct {
	ItemID       int64   `json:"item_id" validate:"required,gt=0"`
	OpeningQty   string  `json:"opening_qty"`
	ReceivedQty  string  `json:"received_qty"`
	WithdrawnQty string  `json:"withdrawn_qty"`
	SoldQty      string  `json:"sold_qty"`
	WastedQty    string  `json:"wasted_qty"`
	StaffMealQty string  `json:"staff_meal_qty"`
	SampledQty   string  `json:"sampled_qty"`
	ReturnedQty  string  `json:"returned_qty"`
	ActualQty    string  `json:"actual_qty" validate:"required"`
	SystemQty    *string `json:"system_qty"`
	Discrepancy  *string `json:"discrepancy"`
	Note         string  `json:"note"`
}

type createPayload struct {
	ReconDate    *time.Time    `json:"recon_date"`
	Shift        string        `json:"shift" validate:"required,oneof=morning evening full_day"`
	DepartmentID int64         `json:"department_id" validate:"required,gt=0"`
	Note         string        `json:"note"`
	Lines        []linePayload `json:"lines" validate:"required,min=1,dive"`
}

type rejectPayload struct {
	Reason string `json:"reason" validate:"required"`
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

	input := CreateInput{
		Shift:        Shift(payload.Shift),
		DepartmentID: payload.DepartmentID,
		Note:         payload.Note,
		CreatedBy:    actor.UserID,
	}
	if payload.ReconDate != nil {
		input.ReconDate = *payload.ReconDate
	}
	var verrs document.ValidationErrors
	for i, lp := range payload.Lines {
		line, lineErrs := parseLine(i, lp)
		verrs = append(verrs, lineErrs...)
		input.Lines = append(input.Lines, line)
	}
	if len(verrs) > 0 {
		h.respondValidation(w, verrs)
		return
	}

	rec, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	rec, err := h.service.Approve(r.Context(), id, actor)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
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
	rec, err := h.service.Reject(r.Context(), id, actor, payload.Reason)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	rec, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{
		Status: document.Status(q.Get("status")),
		Shift:  Shift(q.Get("shift")),
	}
	if dept := q.Get("department_id"); dept != "" {
		filter.DepartmentID, _ = strconv.ParseInt(dept, 10, 64)
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

	recs, pagination, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if recs == nil {
		recs = []Reconciliation{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"reconciliations": recs, "pagination": pagination})
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ReportFilter{Shift: Shift(q.Get("shift"))}
	if dept := q.Get("department_id"); dept != "" {
		filter.DepartmentID, _ = strconv.ParseInt(dept, 10, 64)
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

	report, err := h.reporter.Build(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func parseLine(i int, lp linePayload) (LineInput, document.ValidationErrors) {
	var verrs document.ValidationErrors
	field := func(name string) string {
		return "lines[" + strconv.Itoa(i) + "]." + name
	}
	parse := func(name, raw string) decimal.Decimal {
		if raw == "" {
			return decimal.Zero
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			verrs.Add(field(name), "invalid decimal")
			return decimal.Zero
		}
		return d
	}

	line := LineInput{
		ItemID:       lp.ItemID,
		OpeningQty:   parse("opening_qty", lp.OpeningQty),
		ReceivedQty:  parse("received_qty", lp.ReceivedQty),
		WithdrawnQty: parse("withdrawn_qty", lp.WithdrawnQty),
		SoldQty:      parse("sold_qty", lp.SoldQty),
		WastedQty:    parse("wasted_qty", lp.WastedQty),
		StaffMealQty: parse("staff_meal_qty", lp.StaffMealQty),
		SampledQty:   parse("sampled_qty", lp.SampledQty),
		ReturnedQty:  parse("returned_qty", lp.ReturnedQty),
		ActualQty:    parse("actual_qty", lp.ActualQty),
		Note:         lp.Note,
	}
	if lp.SystemQty != nil {
		d := parse("system_qty", *lp.SystemQty)
		line.SystemQty = &d
	}
	if lp.Discrepancy != nil {
		d := parse("discrepancy", *lp.Discrepancy)
		line.Discrepancy = &d
	}
	return line, verrs
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid reconciliation id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) respondValidation(w http.ResponseWriter, verrs document.ValidationErrors) {
	fieldErrs := make([]httpx.FieldError, 0, len(verrs))
	for _, e := range verrs {
		fieldErrs = append(fieldErrs, httpx.FieldError{Field: e.Field, Message: e.Message})
	}
	httpx.ProblemWithErrors(w, http.StatusUnprocessableEntity, "Validation Failed", fieldErrs)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var verrs document.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		h.respondValidation(w, verrs)
	case errors.Is(err, document.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, document.ErrNotPending):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		if !errors.Is(err, shared.ErrForbidden) {
			h.logger.Error("reconciliation request failed", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
	}
}
