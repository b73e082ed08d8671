package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/uvr-coop/uvr/internal/authz"
	"github.com/uvr-coop/uvr/internal/users"
)

func newLedgerRouter(t *testing.T, w workflow, actor authz.Actor) http.Handler {
	t.Helper()
	gate := authz.NewGate(roleTable{1: {ID: 1, Role: users.RoleAdmin, IsActive: true}})
	h := NewHandler(nil, w.ledger, gate, w.requests)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(rw, req.WithContext(authz.WithActor(req.Context(), actor)))
		})
	})
	r.Route("/invoices", h.MountRoutes)
	return r
}

const invoiceBody = `{
	"document_number": "NF-9",
	"document_date": "2024-03-01",
	"direction": "EXPENSE",
	"category": "fuel",
	"lines": [{"description": "Diesel", "unit": "l", "quantity": "10", "unit_price": "6.10"}]
}`

func TestHandlerCreateUsesActorUnit(t *testing.T) {
	w := newWorkflow(t)
	router := newLedgerRouter(t, w, maker)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/invoices/", strings.NewReader(invoiceBody)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var inv Invoice
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inv))
	require.Equal(t, maker.Scope(), inv.Scope())
	require.Equal(t, "61.00", inv.DeclaredTotal.StringFixed(2))
}

func TestHandlerAdminCreateNeedsUnit(t *testing.T) {
	w := newWorkflow(t)
	router := newLedgerRouter(t, w, admin)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/invoices/", strings.NewReader(invoiceBody)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerVisitorIsReadOnly(t *testing.T) {
	w := newWorkflow(t)
	inv, err := w.ledger.CreateInvoice(context.Background(), unitScope, maker.ID, sampleInput(t))
	require.NoError(t, err)

	visitor := authz.Actor{ID: 3, Role: users.RoleVisitor, UnitID: 1, AssociationID: 11}
	router := newLedgerRouter(t, w, visitor)
	path := "/invoices/" + strconv.FormatInt(inv.ID, 10)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, path, nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/invoices/", strings.NewReader(invoiceBody)))
	require.Equal(t, http.StatusForbidden, rec.Code)

	outsider := authz.Actor{ID: 4, Role: users.RoleVisitor, UnitID: 2, AssociationID: 11}
	rec = httptest.NewRecorder()
	newLedgerRouter(t, w, outsider).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerEditRouting(t *testing.T) {
	w := newWorkflow(t)
	inv, err := w.ledger.CreateInvoice(context.Background(), unitScope, maker.ID, sampleInput(t))
	require.NoError(t, err)
	path := "/invoices/" + strconv.FormatInt(inv.ID, 10)

	rec := httptest.NewRecorder()
	newLedgerRouter(t, w, maker).ServeHTTP(rec, httptest.NewRequest(http.MethodPut, path, strings.NewReader(invoiceBody)))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	stored, err := w.repo.GetInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Equal(t, "NF-001", stored.DocumentNumber)

	rec = httptest.NewRecorder()
	newLedgerRouter(t, w, maker).ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, path, nil))
	require.Equal(t, http.StatusConflict, rec.Code, "second pending request on the same invoice")

	rec = httptest.NewRecorder()
	newLedgerRouter(t, w, admin).ServeHTTP(rec, httptest.NewRequest(http.MethodPut, path, strings.NewReader(invoiceBody)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	stored, err = w.repo.GetInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Equal(t, "NF-9", stored.DocumentNumber)

	rec = httptest.NewRecorder()
	newLedgerRouter(t, w, admin).ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, path, nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
}
