// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (business layer) → validates, enforces rules, orchestrates
//	Repository (data layer)  → reads/writes the document store
//
// Services take the signed-in principal as an explicit argument. A nil
// *model.Principal means nobody is signed in, and every rule that needs a
// principal is checked here, before any store call, so the HTTP layer is
// not the only thing standing between an anonymous caller and a write.
//
// Services accept primitives and return domain errors (package apperror);
// they know nothing about HTTP.
package service

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/sakif/qanda/internal/apperror"
	"github.com/sakif/qanda/internal/metrics"
	"github.com/sakif/qanda/internal/model"
	"github.com/sakif/qanda/internal/objectstore"
	"github.com/sakif/qanda/internal/repository"
)

// Image is an uploaded file on its way to the object store.
type Image struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Indexer receives every newly created question. search.Service implements it.
type Indexer interface {
	IndexQuestion(q model.Question)
}

const errSubmittingQuestion = "error submitting question"

// QuestionService validates and creates questions.
type QuestionService struct {
	repo      repository.QuestionRepository
	store     objectstore.Store
	indexer   Indexer
	sanitizer *TextSanitizer
	metrics   metrics.Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewQuestionService creates a QuestionService. indexer may be nil.
func NewQuestionService(
	repo repository.QuestionRepository,
	store objectstore.Store,
	indexer Indexer,
	rec metrics.Recorder,
	logger *slog.Logger,
) *QuestionService {
	return &QuestionService{
		repo:      repo,
		store:     store,
		indexer:   indexer,
		sanitizer: NewTextSanitizer(),
		metrics:   rec,
		logger:    logger,
		now:       time.Now,
	}
}

// Submit creates a question from text, an image, or both.
//
// ORDER OF OPERATIONS:
//  1. Reject locally: no principal, or neither text nor image
//  2. Upload the image (if any) and resolve its URL
//  3. Create the question document
//
// A failure in 2 leaves no document behind. A failure in 3 leaves an
// orphaned image, which is harmless: nothing references it.
func (s *QuestionService) Submit(ctx context.Context, p *model.Principal, text string, img *Image) (*model.Question, error) {
	if p == nil {
		s.metrics.RecordRejected("question.submit", "unauthenticated")
		return nil, apperror.Unauthorized("please log in to ask a question")
	}

	text = s.sanitizer.Clean(text)
	if text == "" && img == nil {
		s.metrics.RecordRejected("question.submit", "empty")
		return nil, apperror.ValidationFailed("text", "please enter a question or upload an image")
	}

	var imageURL *string
	if img != nil {
		u, err := s.upload(ctx, p.ID, img)
		if err != nil {
			s.logger.Error("question image upload failed",
				slog.String("userID", p.ID),
				slog.String("error", err.Error()),
			)
			return nil, apperror.Remote(errSubmittingQuestion, err)
		}
		imageURL = &u
	}

	q := &model.Question{
		Text:      model.StringPtr(text),
		ImageURL:  imageURL,
		AskedBy:   p.Email,
		CreatedAt: s.now().UTC(),
		Answers:   []model.Answer{},
	}
	if err := s.repo.Create(ctx, q); err != nil {
		s.logger.Error("creating question failed",
			slog.String("userID", p.ID),
			slog.String("error", err.Error()),
		)
		return nil, apperror.Remote(errSubmittingQuestion, err)
	}

	s.metrics.RecordQuestionSubmitted(imageURL != nil)
	s.logger.Info("question submitted",
		slog.String("questionID", q.ID),
		slog.String("askedBy", q.AskedBy),
		slog.Bool("image", imageURL != nil),
	)
	if s.indexer != nil {
		s.indexer.IndexQuestion(q.Clone())
	}
	return q, nil
}

func (s *QuestionService) upload(ctx context.Context, userID string, img *Image) (string, error) {
	objectPath := objectstore.QuestionImagePath(userID, img.Name)

	start := time.Now()
	err := s.store.Upload(ctx, objectPath, img.Body, img.Size, img.ContentType)
	s.metrics.RecordUpload("question", time.Since(start), err)
	if err != nil {
		return "", err
	}
	return s.store.URL(objectPath)
}

// Get returns one question.
func (s *QuestionService) Get(ctx context.Context, id string) (*model.Question, error) {
	if id == "" {
		return nil, apperror.ValidationFailed("id", "question id is required")
	}
	return s.repo.GetByID(ctx, id)
}
