package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/evwarranty/warranty-backend/pkg/errors"
	"github.com/evwarranty/warranty-backend/pkg/logger"
	"github.com/evwarranty/warranty-backend/pkg/types"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) types.APIError {
	t.Helper()
	var env types.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error
}

func TestWriteErrorMapsCodes(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{"insufficient stock", pkgerrors.New(pkgerrors.CodeInsufficientStock, "need 3, have 1"), http.StatusConflict, "INSUFFICIENT_STOCK", "need 3, have 1"},
		{"invalid transition", pkgerrors.InvalidTransition("case_line", "DRAFT", "approve"), http.StatusConflict, "INVALID_TRANSITION", ""},
		{"not found", pkgerrors.New(pkgerrors.CodeNotFound, "case line not found"), http.StatusNotFound, "NOT_FOUND", "case line not found"},
		{"untyped", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(context.Background(), logger.Nop(), rec, tt.err)
			assert.Equal(t, tt.status, rec.Code)
			apiErr := decodeError(t, rec)
			assert.Equal(t, tt.code, apiErr.Code)
			if tt.message != "" {
				assert.Equal(t, tt.message, apiErr.Message)
			}
		})
	}
}

func TestWriteErrorHidesInternalMessages(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(context.Background(), nil, rec, pkgerrors.Wrap(pkgerrors.CodeInternal, errors.New("pq: secret"), "db exploded"))
	apiErr := decodeError(t, rec)
	assert.NotContains(t, apiErr.Message, "secret")
	assert.NotContains(t, apiErr.Message, "db exploded")
}

func TestWriteErrorBusySetsRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(context.Background(), nil, rec, pkgerrors.New(pkgerrors.CodeBusy, "row locked"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestWriteSuccessStatusEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSuccessStatus(rec, http.StatusCreated, map[string]string{"id": "abc"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"data":{"id":"abc"}}`, rec.Body.String())
}

func TestWriteErrorCarriesRequestIDAndRetryable(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Header().Set("X-Request-Id", "req-42")
	WriteError(context.Background(), nil, rec, pkgerrors.New(pkgerrors.CodeBusy, "stock row locked"))

	var env types.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "req-42", env.RequestID)
	assert.True(t, env.Error.Retryable)

	rec = httptest.NewRecorder()
	WriteError(context.Background(), nil, rec, pkgerrors.New(pkgerrors.CodeInsufficientStock, "short"))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.False(t, env.Error.Retryable)
}
