package document

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/larderhq/larder/internal/shared"
)

// stubResolver maps every name onto the ids seeded by newTestService so the
// intake path lands on existing references. It records what was asked for.
type stubResolver struct {
	items     []string
	suppliers []string
}

func (s *stubResolver) ResolveItem(_ context.Context, name, _, _ string) (int64, error) {
	s.items = append(s.items, name)
	return 1, nil
}

func (s *stubResolver) ResolveSupplier(_ context.Context, name string) (int64, error) {
	s.suppliers = append(s.suppliers, name)
	return 10, nil
}

func (s *stubResolver) ResolveDepartment(context.Context, string) (int64, error) {
	return 20, nil
}

func newTestRouter(t *testing.T) (chi.Router, *stubResolver) {
	t.Helper()
	svc, _ := newTestService(t, nil)
	resolver := &stubResolver{}
	handler := NewHandler(slog.Default(), svc, resolver)

	r := chi.NewRouter()
	r.Use(shared.ActorMiddleware)
	r.Route("/documents", handler.MountRoutes)
	return r, resolver
}

func doRequest(t *testing.T, router chi.Router, method, path string, body any, actor *shared.Actor) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req.Header.Set(shared.HeaderUserID, strconv.FormatInt(actor.UserID, 10))
		req.Header.Set(shared.HeaderUserRole, string(actor.Role))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeDocument(t *testing.T, rec *httptest.ResponseRecorder) Document {
	t.Helper()
	var resp documentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Document
}

func importBody() map[string]any {
	return map[string]any{
		"kind":        "import",
		"supplier_id": 10,
		"lines": []map[string]any{
			{"item_id": 1, "quantity": "50", "unit_price": "10000"},
		},
	}
}

func TestHandlerRequiresIdentity(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/documents", importBody(), nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlerCreateAndApprove(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/documents", importBody(), &staff)
	require.Equal(t, http.StatusCreated, rec.Code)
	doc := decodeDocument(t, rec)
	require.Equal(t, StatusPending, doc.Status)

	// Staff cannot approve.
	rec = doRequest(t, router, http.MethodPost, "/documents/"+doc.ID.String()+"/approve", nil, &staff)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/documents/"+doc.ID.String()+"/approve", nil, &manager)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, StatusApproved, decodeDocument(t, rec).Status)

	// A second decision conflicts.
	rec = doRequest(t, router, http.MethodPost, "/documents/"+doc.ID.String()+"/approve", nil, &manager)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerRejectValidation(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/documents", importBody(), &staff)
	require.Equal(t, http.StatusCreated, rec.Code)
	doc := decodeDocument(t, rec)

	rec = doRequest(t, router, http.MethodPost, "/documents/"+doc.ID.String()+"/reject",
		map[string]any{"reason": ""}, &manager)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/documents/"+doc.ID.String()+"/reject",
		map[string]any{"reason": "wrong supplier"}, &manager)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, StatusRejected, decodeDocument(t, rec).Status)
}

func TestHandlerCreateValidationProblem(t *testing.T) {
	router, _ := newTestRouter(t)

	body := map[string]any{
		"kind":          "waste",
		"department_id": 20,
		"lines": []map[string]any{
			{"item_id": 1, "quantity": "2"},
		},
	}
	rec := doRequest(t, router, http.MethodPost, "/documents", body, &staff)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Contains(t, rec.Body.String(), "lines[0].reason")
}

func TestHandlerBadRequests(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/documents", map[string]any{"kind": "transfer"}, &staff)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := importBody()
	body["lines"] = []map[string]any{{"item_id": 1, "quantity": "not-a-number"}}
	rec = doRequest(t, router, http.MethodPost, "/documents", body, &staff)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/documents/not-a-uuid/approve", nil, &manager)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerGetAndList(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doRequest(t, router, http.MethodPost, "/documents", importBody(), &staff)
	require.Equal(t, http.StatusCreated, rec.Code)
	doc := decodeDocument(t, rec)

	rec = doRequest(t, router, http.MethodGet, "/documents/"+doc.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var view View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, doc.ID, view.ID)

	rec = doRequest(t, router, http.MethodGet, "/documents/"+uuid.NewString(), nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/documents?kind=import&status=pending", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Documents, 1)
	require.Equal(t, 1, list.Pagination.Total)
}

func TestHandlerIntakeResolvesNames(t *testing.T) {
	router, resolver := newTestRouter(t)

	body := map[string]any{
		"supplier_name": "Chợ Bến Thành",
		"lines": []map[string]any{
			{"item_name": "Cà Chua", "unit": "kg", "quantity": "5", "unit_price": "12000"},
		},
	}
	rec := doRequest(t, router, http.MethodPost, "/documents/intake", body, &staff)
	require.Equal(t, http.StatusCreated, rec.Code)

	doc := decodeDocument(t, rec)
	require.Equal(t, KindImport, doc.Kind)
	require.Equal(t, int64(10), doc.SupplierID)
	require.Equal(t, int64(1), doc.Lines[0].ItemID)
	require.Equal(t, []string{"Chợ Bến Thành"}, resolver.suppliers)
	require.Equal(t, []string{"Cà Chua"}, resolver.items)
}
