package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/qanda/internal/apperror"
)

func TestWriteError_Mapping(t *testing.T) {
	cause := errors.New("store down")

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
		wantMsg    string
	}{
		{"validation", apperror.ValidationFailed("text", "provide an answer before submitting"), 400, "validation_error", "provide an answer before submitting"},
		{"unauthorized", apperror.Unauthorized("please log in to ask a question"), 401, "unauthorized", "please log in to ask a question"},
		{"invalid credential", apperror.InvalidCredential(), 401, "invalid_credential", "invalid email or password"},
		{"forbidden", apperror.Forbidden("you can only delete your own answers"), 403, "forbidden", "you can only delete your own answers"},
		{"not found", apperror.NotFound("answer", "a1"), 404, "not_found", "answer not found with id a1"},
		{"conflict", apperror.Conflict("user", "a@x.com"), 409, "conflict", "user conflict with id a@x.com"},
		{"partial", apperror.Partial("partly saved", cause), 500, "partial_failure", "partly saved"},
		{"remote", apperror.Remote("error submitting question", cause), 500, "remote_error", "error submitting question"},
		{"remote wrapping not found", apperror.Remote("error submitting question", apperror.NotFound("q", "1")), 500, "remote_error", "error submitting question"},
		{"wrapped app error", fmt.Errorf("outer: %w", apperror.NotFound("question", "q1")), 404, "not_found", "question not found with id q1"},
		{"plain error", cause, 500, "internal_error", "An internal error occurred"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeError(w, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			var body ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tt.wantType, body.Error)
			assert.Equal(t, tt.wantMsg, body.Message)
		})
	}
}

func TestWriteError_IncludesField(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, apperror.ValidationFailed("email", "please enter a valid email address."))

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "email", body.Field)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
