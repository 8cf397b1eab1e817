package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "tariffpub/pkg/domain-errors"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]string{"id": "260001"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"id":"260001"}`, rec.Body.String())
}

func TestWriteJSON_NilBody(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusNoContent, nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestWriteError_CarriesCodeAndDescription(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, dErrors.New(dErrors.CodeNotFound, "workbasket not found"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var resp struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(dErrors.CodeNotFound), resp.Error)
	assert.Equal(t, "workbasket not found", resp.ErrorDescription)
}

func TestWriteError_InternalOmitsDescription(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, dErrors.New(dErrors.CodeInternal, "connection refused to db host"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Title string `json:"title"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":"march updates"}`))
	rec := httptest.NewRecorder()
	got, ok := DecodeJSON[payload](rec, req, nil)
	require.True(t, ok)
	assert.Equal(t, "march updates", got.Title)
}

func TestDecodeJSON_RejectsUnknownFields(t *testing.T) {
	type payload struct {
		Title string `json:"title"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"title":"x","surprise":true}`))
	rec := httptest.NewRecorder()
	_, ok := DecodeJSON[payload](rec, req, nil)
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), string(dErrors.CodeBadRequest))
}
