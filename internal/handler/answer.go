package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/qanda/internal/auth"
	"github.com/sakif/qanda/internal/model"
)

// AnswerMutator appends and deletes answers. *service.AnswerService
// implements it.
type AnswerMutator interface {
	Submit(ctx context.Context, p *model.Principal, questionID, text string) (*model.Answer, error)
	Find(ctx context.Context, questionID, answerID string) (model.Answer, error)
	Delete(ctx context.Context, p *model.Principal, questionID string, a model.Answer) error
}

type AnswerHandler struct {
	answers AnswerMutator
}

func NewAnswerHandler(answers AnswerMutator) *AnswerHandler {
	return &AnswerHandler{answers: answers}
}

type answerRequest struct {
	Text string `json:"text"`
}

// HandleCreate appends an answer.
//
// HTTP: POST /api/questions/{id}/answers  {"text":"..."}
func (h *AnswerHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	a, err := h.answers.Submit(r.Context(), auth.PrincipalFromContext(r.Context()), chi.URLParam(r, "id"), req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// HandleDelete removes an answer written by the caller.
//
// HTTP: DELETE /api/questions/{id}/answers/{answerID}
func (h *AnswerHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	questionID := chi.URLParam(r, "id")

	a, err := h.answers.Find(r.Context(), questionID, chi.URLParam(r, "answerID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.answers.Delete(r.Context(), auth.PrincipalFromContext(r.Context()), questionID, a); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
