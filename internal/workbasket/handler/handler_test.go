package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tariffpub/internal/checks"
	"tariffpub/internal/platform/middleware"
	trackedstore "tariffpub/internal/tracked/store"
	"tariffpub/internal/workbasket/service"
	wbstore "tariffpub/internal/workbasket/store"
	dErrors "tariffpub/pkg/domain-errors"
	"tariffpub/pkg/platform/tx"
)

func newTestRouter(t *testing.T) chi.Router {
	t.Helper()
	st := wbstore.NewInMemory()
	tracked := trackedstore.NewInMemory(st)
	checker, err := checks.NewRuleSet(st, tracked)
	require.NoError(t, err)
	svc, err := service.New(st, tracked, checker, checks.NewInMemoryRecorder(), tx.NoopRunner{})
	require.NoError(t, err)

	r := chi.NewRouter()
	New(svc, slog.Default()).Register(r)
	return r
}

// do performs a request with the given claims already authenticated.
func do(t *testing.T, router http.Handler, method, path string, body io.Reader, claims *middleware.Claims) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if claims != nil {
		req = req.WithContext(context.WithValue(req.Context(), middleware.ContextKeyClaims, claims))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

var editor = &middleware.Claims{UserID: "editor"}
var approver = &middleware.Claims{UserID: "senior-officer", Roles: []string{RoleApprover}}

func TestHandleCreateAndGet(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/workbaskets",
		strings.NewReader(`{"title":"March updates","reason":"quarterly"}`), editor)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created workBasketResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "March updates", created.Title)
	assert.Equal(t, "editor", created.Author)
	assert.Equal(t, "NEW_IN_PROGRESS", created.Status)

	rec = do(t, router, http.MethodGet, "/workbaskets/"+created.ID, nil, editor)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, http.MethodGet, "/workbaskets/not-a-uuid", nil, editor)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCreate_MissingTitle(t *testing.T) {
	router := newTestRouter(t)
	rec := do(t, router, http.MethodPost, "/workbaskets", strings.NewReader(`{"reason":"x"}`), editor)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), string(dErrors.CodeValidation))
}

func TestHandleApprove_RequiresApproverRole(t *testing.T) {
	router := newTestRouter(t)
	rec := do(t, router, http.MethodPost, "/workbaskets",
		strings.NewReader(`{"title":"basket"}`), editor)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created workBasketResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = do(t, router, http.MethodPost, fmt.Sprintf("/workbaskets/%s/approve", created.ID), nil, editor)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), string(dErrors.CodeForbidden))
}

func TestHandleTransactionsAndChecks(t *testing.T) {
	router := newTestRouter(t)
	rec := do(t, router, http.MethodPost, "/workbaskets",
		strings.NewReader(`{"title":"basket"}`), editor)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created workBasketResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = do(t, router, http.MethodPost, fmt.Sprintf("/workbaskets/%s/transactions", created.ID), nil, editor)
	require.Equal(t, http.StatusCreated, rec.Code)
	var txn transactionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &txn))
	assert.Equal(t, 1, txn.Order)

	// The transaction is empty, so the structural checks fail.
	rec = do(t, router, http.MethodPost, fmt.Sprintf("/workbaskets/%s/checks", created.ID), nil, editor)
	require.Equal(t, http.StatusOK, rec.Code)
	var result checkResultResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, string(checks.StateFailed), result.State)

	rec = do(t, router, http.MethodGet, fmt.Sprintf("/workbaskets/%s/transactions", created.ID), nil, editor)
	require.Equal(t, http.StatusOK, rec.Code)
	var txns []transactionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &txns))
	assert.Len(t, txns, 1)
}

func TestHandleSubmit_InvalidStateMapsToConflict(t *testing.T) {
	router := newTestRouter(t)
	rec := do(t, router, http.MethodPost, "/workbaskets",
		strings.NewReader(`{"title":"basket"}`), editor)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created workBasketResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = do(t, router, http.MethodPost, fmt.Sprintf("/workbaskets/%s/submit", created.ID), nil, editor)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), string(dErrors.CodeInvalidState))
}

func TestHandleList_FiltersByStatus(t *testing.T) {
	router := newTestRouter(t)
	rec := do(t, router, http.MethodPost, "/workbaskets",
		strings.NewReader(`{"title":"basket"}`), editor)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, router, http.MethodGet, "/workbaskets?status=NEW_IN_PROGRESS", nil, editor)
	require.Equal(t, http.StatusOK, rec.Code)
	var baskets []workBasketResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &baskets))
	assert.Len(t, baskets, 1)

	rec = do(t, router, http.MethodGet, "/workbaskets?status=PUBLISHED", nil, editor)
	require.Equal(t, http.StatusOK, rec.Code)
	baskets = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &baskets))
	assert.Empty(t, baskets)
}
