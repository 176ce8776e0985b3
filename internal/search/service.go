package search

import (
	"log/slog"

	"github.com/sakif/qanda/internal/model"
)

// Service tries Meilisearch first and falls back to Filter.
type Service struct {
	meili  *Meili
	logger *slog.Logger
}

// NewService creates a search service. meili may be nil when Meilisearch is
// not configured.
func NewService(meili *Meili, logger *slog.Logger) *Service {
	return &Service{meili: meili, logger: logger}
}

// Search ranks questions from the given snapshot. Only questions present in
// the snapshot are returned, so a stale index can't resurrect anything.
func (s *Service) Search(term string, snapshot []model.Question) []model.Question {
	if term == "" || s.meili == nil || !s.meili.Healthy() {
		return Filter(snapshot, term)
	}

	ids, err := s.meili.Search(term, len(snapshot))
	if err != nil {
		s.logger.Warn("search: meilisearch error, falling back to filter", "error", err)
		return Filter(snapshot, term)
	}

	byID := make(map[string]model.Question, len(snapshot))
	for _, q := range snapshot {
		byID[q.ID] = q
	}
	out := make([]model.Question, 0, len(ids))
	for _, id := range ids {
		if q, ok := byID[id]; ok {
			out = append(out, q)
		}
	}
	return out
}

// IndexQuestion pushes q to the index without blocking the caller.
func (s *Service) IndexQuestion(q model.Question) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.Index(q); err != nil {
			s.logger.Warn("search: index question", "question_id", q.ID, "error", err)
		}
	}()
}

// ReindexAll pushes the whole collection; called once at startup.
func (s *Service) ReindexAll(questions []model.Question) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	if err := s.meili.Index(questions...); err != nil {
		s.logger.Warn("search: reindex questions", "count", len(questions), "error", err)
	}
}
