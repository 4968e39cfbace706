package catalog

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/larderhq/larder/internal/platform/httpx"
	"github.com/larderhq/larder/internal/shared"
)

// Handler wires HTTP endpoints for master data.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs catalog handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/categories", h.handleListCategories)
	r.Get("/units", h.handleListUnits)
	r.Get("/suppliers", h.handleListSuppliers)
	r.Get("/departments", h.handleListDepartments)
	r.Get("/items", h.handleListItems)
	r.Get("/items/{id}", h.handleGetItem)

	r.Group(func(r chi.Router) {
		r.Use(shared.RequireActor)
		r.Post("/categories", h.handleCreateCategory)
		r.Post("/units", h.handleCreateUnit)
		r.Post("/suppliers", h.handleCreateSupplier)
		r.Put("/suppliers/{id}", h.handleUpdateSupplier)
		r.Post("/departments", h.handleCreateDepartment)
		r.Post("/items", h.handleCreateItem)
		r.Put("/items/{id}", h.handleUpdateItem)
		r.Delete("/items/{id}", h.handleDeleteItem)
	})
}

type namePayload struct {
	Name string `json:"name" validate:"required"`
}

type supplierPayload struct {
	Name    string `json:"name" validate:"required"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Active  *bool  `json:"active"`
}

type itemPayload struct {
	Name        string `json:"name" validate:"required"`
	SKU         string `json:"sku"`
	CategoryID  int64  `json:"category_id"`
	UnitID      int64  `json:"unit_id"`
	UnitCost    string `json:"unit_cost"`
	MinQuantity string `json:"min_quantity"`
	MaxQuantity string `json:"max_quantity"`
	ShelfLife   int    `json:"shelf_life_days"`
	Active      *bool  `json:"active"`
}

func (h *Handler) handleListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.service.ListCategories(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"categories": cats})
}

func (h *Handler) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.decodeName(w, r)
	if !ok {
		return
	}
	cat, err := h.service.CreateCategory(r.Context(), payload.Name)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, cat)
}

func (h *Handler) handleListUnits(w http.ResponseWriter, r *http.Request) {
	units, err := h.service.ListUnits(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"units": units})
}

func (h *Handler) handleCreateUnit(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.decodeName(w, r)
	if !ok {
		return
	}
	unit, err := h.service.CreateUnit(r.Context(), payload.Name)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, unit)
}

func (h *Handler) handleListSuppliers(w http.ResponseWriter, r *http.Request) {
	suppliers, err := h.service.ListSuppliers(r.Context(), r.URL.Query().Get("active") == "true")
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"suppliers": suppliers})
}

func (h *Handler) handleCreateSupplier(w http.ResponseWriter, r *http.Request) {
	var payload supplierPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	supplier, err := h.service.CreateSupplier(r.Context(), Supplier{
		Name: payload.Name, Phone: payload.Phone, Address: payload.Address,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, supplier)
}

func (h *Handler) handleUpdateSupplier(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	var payload supplierPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	supplier := Supplier{ID: id, Name: payload.Name, Phone: payload.Phone, Address: payload.Address, Active: true}
	if payload.Active != nil {
		supplier.Active = *payload.Active
	}
	if err := h.service.UpdateSupplier(r.Context(), supplier); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, supplier)
}

func (h *Handler) handleListDepartments(w http.ResponseWriter, r *http.Request) {
	depts, err := h.service.ListDepartments(r.Context(), r.URL.Query().Get("active") == "true")
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"departments": depts})
}

func (h *Handler) handleCreateDepartment(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.decodeName(w, r)
	if !ok {
		return
	}
	dept, err := h.service.CreateDepartment(r.Context(), Department{Name: payload.Name})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, dept)
}

func (h *Handler) handleListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ItemFilter{Search: q.Get("search")}
	if cat := q.Get("category_id"); cat != "" {
		filter.CategoryID, _ = strconv.ParseInt(cat, 10, 64)
	}
	if active := q.Get("active"); active != "" {
		b := active == "true"
		filter.Active = &b
	}
	filter.Page, filter.PerPage = shared.PageParams(q)

	items, total, err := h.service.ListItems(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if items == nil {
		items = []Item{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items":      items,
		"pagination": shared.NewPagination(filter.Page, filter.PerPage, total),
	})
}

func (h *Handler) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	item, ok := h.decodeItem(w, r)
	if !ok {
		return
	}
	created, err := h.service.CreateItem(r.Context(), item)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	item, ok := h.decodeItem(w, r)
	if !ok {
		return
	}
	item.ID = id
	if err := h.service.UpdateItem(r.Context(), item); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}
	err := h.service.DeleteItem(r.Context(), id)
	if errors.Is(err, ErrReferenced) {
		httpx.JSON(w, http.StatusOK, map[string]any{"deleted": false, "deactivated": true})
		return
	}
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deleted": true, "deactivated": false})
}

func (h *Handler) decodeName(w http.ResponseWriter, r *http.Request) (namePayload, bool) {
	var payload namePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return payload, false
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return payload, false
	}
	return payload, true
}

func (h *Handler) decodeItem(w http.ResponseWriter, r *http.Request) (Item, bool) {
	var payload itemPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return Item{}, false
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return Item{}, false
	}
	item := Item{
		Name:       payload.Name,
		SKU:        payload.SKU,
		CategoryID: payload.CategoryID,
		UnitID:     payload.UnitID,
		ShelfLife:  payload.ShelfLife,
		Active:     true,
	}
	if payload.Active != nil {
		item.Active = *payload.Active
	}
	var err error
	if payload.UnitCost != "" {
		if item.UnitCost, err = decimal.NewFromString(payload.UnitCost); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid unit_cost")
			return Item{}, false
		}
	}
	if payload.MinQuantity != "" {
		if item.MinQuantity, err = decimal.NewFromString(payload.MinQuantity); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid min_quantity")
			return Item{}, false
		}
	}
	if payload.MaxQuantity != "" {
		if item.MaxQuantity, err = decimal.NewFromString(payload.MaxQuantity); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid max_quantity")
			return Item{}, false
		}
	}
	return item, true
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicate):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error("catalog request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
