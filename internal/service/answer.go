package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/qanda/internal/apperror"
	"github.com/sakif/qanda/internal/metrics"
	"github.com/sakif/qanda/internal/model"
	"github.com/sakif/qanda/internal/repository"
)

// AnswerService appends answers to questions and removes them again.
//
// Every answer gets its own id when it is created. Appends are
// "add unless an answer with this id exists" and removals are keyed on the
// id, so two answers with identical text, author and timestamp are still two
// answers, and deleting one never takes the other with it.
type AnswerService struct {
	repo      repository.QuestionRepository
	sanitizer *TextSanitizer
	metrics   metrics.Recorder
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

func NewAnswerService(repo repository.QuestionRepository, rec metrics.Recorder, logger *slog.Logger) *AnswerService {
	return &AnswerService{
		repo:      repo,
		sanitizer: NewTextSanitizer(),
		metrics:   rec,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Submit appends an answer by p to the question.
func (s *AnswerService) Submit(ctx context.Context, p *model.Principal, questionID, text string) (*model.Answer, error) {
	if p == nil {
		s.metrics.RecordRejected("answer.submit", "unauthenticated")
		return nil, apperror.Unauthorized("please log in and provide an answer")
	}
	text = s.sanitizer.Clean(text)
	if text == "" {
		s.metrics.RecordRejected("answer.submit", "empty")
		return nil, apperror.ValidationFailed("text", "provide an answer before submitting")
	}

	a := model.Answer{
		ID:         s.newID(),
		Text:       text,
		AnsweredBy: p.Email,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.repo.AddAnswer(ctx, questionID, a); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		s.logger.Error("adding answer failed",
			slog.String("questionID", questionID),
			slog.String("error", err.Error()),
		)
		return nil, apperror.Remote("error submitting answer", err)
	}

	s.metrics.RecordAnswerSubmitted()
	s.logger.Info("answer submitted",
		slog.String("questionID", questionID),
		slog.String("answerID", a.ID),
	)
	return &a, nil
}

// Find returns the stored answer so callers that only have ids can pass the
// real answer to Delete.
func (s *AnswerService) Find(ctx context.Context, questionID, answerID string) (model.Answer, error) {
	q, err := s.repo.GetByID(ctx, questionID)
	if err != nil {
		return model.Answer{}, err
	}
	a, ok := q.AnswerByID(answerID)
	if !ok {
		return model.Answer{}, apperror.NotFound("answer", answerID)
	}
	return a, nil
}

// Delete removes a from the question. Only the author may delete an answer;
// anyone else is turned away here without the store being touched.
func (s *AnswerService) Delete(ctx context.Context, p *model.Principal, questionID string, a model.Answer) error {
	if p == nil || p.Email != a.AnsweredBy {
		s.metrics.RecordRejected("answer.delete", "forbidden")
		return apperror.Forbidden("you can only delete your own answers")
	}

	if err := s.repo.RemoveAnswer(ctx, questionID, a.ID, p.Email); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return err
		}
		s.logger.Error("removing answer failed",
			slog.String("questionID", questionID),
			slog.String("answerID", a.ID),
			slog.String("error", err.Error()),
		)
		return apperror.Remote("error deleting answer", err)
	}

	s.metrics.RecordAnswerDeleted()
	s.logger.Info("answer deleted",
		slog.String("questionID", questionID),
		slog.String("answerID", a.ID),
	)
	return nil
}
