// Package handler contains the HTTP handlers. Handlers parse requests,
// call a service and write the response; they hold no business rules.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/qanda/internal/auth"
	"github.com/sakif/qanda/internal/model"
	"github.com/sakif/qanda/internal/service"
)

// QuestionSubmitter creates and fetches questions. *service.QuestionService
// implements it.
type QuestionSubmitter interface {
	Submit(ctx context.Context, p *model.Principal, text string, img *service.Image) (*model.Question, error)
	Get(ctx context.Context, id string) (*model.Question, error)
}

// Mirror is a live in-memory view of the question collection.
// *feed.Controller implements it.
type Mirror interface {
	Questions() []model.Question
	Filter(term string) []model.Question
}

// Searcher ranks questions from a snapshot. *search.Service implements it.
type Searcher interface {
	Search(term string, snapshot []model.Question) []model.Question
}

// QuestionHandler serves the question list, single questions, search and
// question submission.
type QuestionHandler struct {
	questions      QuestionSubmitter
	mirror         Mirror
	search         Searcher
	maxUploadBytes int64
	logger         *slog.Logger
}

func NewQuestionHandler(questions QuestionSubmitter, mirror Mirror, search Searcher, maxUploadBytes int64, logger *slog.Logger) *QuestionHandler {
	return &QuestionHandler{
		questions:      questions,
		mirror:         mirror,
		search:         search,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// HandleList returns the live mirror, filtered by ?q= when present.
//
// HTTP: GET /api/questions?q=term
//
// The list comes from the server's feed, not from a fresh query: every
// write lands in the mirror through the store's change notifications.
func (h *QuestionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mirror.Filter(r.URL.Query().Get("q")))
}

// HandleSearch is HandleList with ranked search when an index is available.
//
// HTTP: GET /api/search?q=term
func (h *QuestionHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.search.Search(r.URL.Query().Get("q"), h.mirror.Questions()))
}

// HandleGet returns one question.
//
// HTTP: GET /api/questions/{id}
func (h *QuestionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	q, err := h.questions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// HandleCreate submits a question.
//
// HTTP: POST /api/questions   multipart/form-data: text, image (optional)
func (h *QuestionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
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

	q, err := h.questions.Submit(r.Context(), auth.PrincipalFromContext(r.Context()), r.FormValue("text"), img)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}
