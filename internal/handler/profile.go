package handler

import (
	"context"
	"net/http"

	"github.com/sakif/qanda/internal/auth"
	"github.com/sakif/qanda/internal/model"
	"github.com/sakif/qanda/internal/service"
)

// ProfileEditor loads and saves the signed-in user's profile.
// *service.ProfileService implements it.
type ProfileEditor interface {
	Load(ctx context.Context, p *model.Principal) (*model.Profile, error)
	Save(ctx context.Context, p *model.Principal, displayName string, img *service.Image) (*model.Profile, error)
	UpdatePassword(ctx context.Context, p *model.Principal, newPassword string) error
	SendVerificationEmail(ctx context.Context, p *model.Principal) error
}

type ProfileHandler struct {
	profiles       ProfileEditor
	maxUploadBytes int64
}

func NewProfileHandler(profiles ProfileEditor, maxUploadBytes int64) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, maxUploadBytes: maxUploadBytes}
}

// HandleGet returns the merged profile.
//
// HTTP: GET /api/me
func (h *ProfileHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	profile, err := h.profiles.Load(r.Context(), auth.PrincipalFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// HandleUpdate saves display name and, optionally, a new picture.
//
// HTTP: PUT /api/me   multipart/form-data: displayName, image (optional)
func (h *ProfileHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	if err := parseMultipart(w, r, h.maxUploadBytes); err != nil {
		writeError(w, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	img, closeImg, err := formImage(r)
	if err != nil {
		writeError(w, err)
		return
	}
	defer closeImg()

	profile, err := h.profiles.Save(r.Context(), auth.PrincipalFromContext(r.Context()), r.FormValue("displayName"), img)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

type passwordRequest struct {
	Password string `json:"password"`
}

// HandlePassword changes the password.
//
// HTTP: PUT /api/me/password  {"password":"..."}
func (h *ProfileHandler) HandlePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.profiles.UpdatePassword(r.Context(), auth.PrincipalFromContext(r.Context()), req.Password); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

// HandleVerification mails a verification link.
//
// HTTP: POST /api/me/verification
func (h *ProfileHandler) HandleVerification(w http.ResponseWriter, r *http.Request) {
	if err := h.profiles.SendVerificationEmail(r.Context(), auth.PrincipalFromContext(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "verification email sent"})
}
