package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/qanda/internal/apperror"
	"github.com/sakif/qanda/internal/handler"
	"github.com/sakif/qanda/internal/model"
	"github.com/sakif/qanda/internal/service"
)

type fakeProfiles struct {
	saveErr      error
	gotName      string
	gotImage     *service.Image
	gotPassword  string
	verification int
}

func (f *fakeProfiles) Load(_ context.Context, p *model.Principal) (*model.Profile, error) {
	if p == nil {
		return nil, apperror.Unauthorized("please log in to view your profile")
	}
	return &model.Profile{ID: p.ID, Email: p.Email, DisplayName: p.DisplayName}, nil
}

func (f *fakeProfiles) Save(_ context.Context, p *model.Principal, name string, img *service.Image) (*model.Profile, error) {
	f.gotName, f.gotImage = name, img
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	return &model.Profile{ID: p.ID, Email: p.Email, DisplayName: name}, nil
}

func (f *fakeProfiles) UpdatePassword(_ context.Context, _ *model.Principal, pw string) error {
	f.gotPassword = pw
	return nil
}

func (f *fakeProfiles) SendVerificationEmail(context.Context, *model.Principal) error {
	f.verification++
	return nil
}

func newProfileRouter(profiles *fakeProfiles) http.Handler {
	h := handler.NewProfileHandler(profiles, 1<<20)
	r := chi.NewRouter()
	r.Get("/api/me", h.HandleGet)
	r.Put("/api/me", h.HandleUpdate)
	r.Put("/api/me/password", h.HandlePassword)
	r.Post("/api/me/verification", h.HandleVerification)
	return r
}

func TestProfileHandler_Get(t *testing.T) {
	r := newProfileRouter(&fakeProfiles{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, asUser(httptest.NewRequest(http.MethodGet, "/api/me", nil), alice))
	require.Equal(t, http.StatusOK, w.Code)

	var got model.Profile
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, "Alice", got.DisplayName)
}

func TestProfileHandler_Update(t *testing.T) {
	profiles := &fakeProfiles{}
	r := newProfileRouter(profiles)

	req := multipartRequest(t, http.MethodPut, "/api/me",
		map[string]string{"displayName": "Ally"},
		&formFile{field: "image", name: "me.png", contentType: "image/png", data: pngBytes},
	)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, asUser(req, alice))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Ally", profiles.gotName)
	require.NotNil(t, profiles.gotImage)
	assert.Equal(t, "image/png", profiles.gotImage.ContentType)
}

func TestProfileHandler_UpdatePartialFailure(t *testing.T) {
	profiles := &fakeProfiles{saveErr: apperror.Partial("your profile was only partly saved, please save it again", assert.AnError)}
	r := newProfileRouter(profiles)

	req := multipartRequest(t, http.MethodPut, "/api/me", map[string]string{"displayName": "Ally"}, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, asUser(req, alice))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "partial_failure")
}

func TestProfileHandler_PasswordAndVerification(t *testing.T) {
	profiles := &fakeProfiles{}
	r := newProfileRouter(profiles)

	req := httptest.NewRequest(http.MethodPut, "/api/me/password", strings.NewReader(`{"password":"n3w-secret"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, asUser(req, alice))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "n3w-secret", profiles.gotPassword)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, asUser(httptest.NewRequest(http.MethodPost, "/api/me/verification", nil), alice))
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, profiles.verification)
}
