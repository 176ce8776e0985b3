package search

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"github.com/sakif/qanda/internal/model"
)

const idxQuestions = "qanda_questions"

// questionRecord is what goes into the index.
type questionRecord struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	AskedBy string   `json:"askedBy"`
	Answers []string `json:"answers"`
}

func toRecord(q model.Question) questionRecord {
	rec := questionRecord{ID: q.ID, AskedBy: q.AskedBy, Answers: make([]string, 0, len(q.Answers))}
	if q.Text != nil {
		rec.Text = *q.Text
	}
	for _, a := range q.Answers {
		rec.Answers = append(rec.Answers, a.Text)
	}
	return rec
}

// Meili indexes and searches questions in Meilisearch. It tracks the
// server's health in the background; callers check Healthy before relying
// on it.
type Meili struct {
	client  meili.ServiceManager
	logger  *slog.Logger
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili connects and configures the index. An unreachable server is not
// an error: the health loop picks it up once it appears.
func NewMeili(url, apiKey string, logger *slog.Logger) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		logger: logger,
		done:   make(chan struct{}),
	}

	if _, err := m.client.Health(); err != nil {
		logger.Warn("search: meilisearch unavailable", "url", url, "error", err)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop(10 * time.Second)
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxQuestions,
		PrimaryKey: "id",
	}); err != nil {
		m.logger.Debug("search: create index (may already exist)", "index", idxQuestions, "error", err)
	}

	searchable := []string{"text", "answers"}
	if _, err := m.client.Index(idxQuestions).UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("search: update searchable attributes", "index", idxQuestions, "error", err)
	}
}

func (m *Meili) healthLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.logger.Info("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the health loop.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search returns matching question IDs, best match first.
func (m *Meili) Search(term string, limit int) ([]string, error) {
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}
	if limit <= 0 {
		limit = 50
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID: idxQuestions,
			Query:    term,
			Limit:    int64(limit),
		}},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var ids []string
	for _, sr := range resp.Results {
		for _, hit := range sr.Hits {
			raw, ok := hit["id"]
			if !ok {
				continue
			}
			var id string
			if err := json.Unmarshal(raw, &id); err == nil && id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids, nil
}

// Index adds or replaces questions in the index.
func (m *Meili) Index(questions ...model.Question) error {
	if len(questions) == 0 {
		return nil
	}
	records := make([]questionRecord, 0, len(questions))
	for _, q := range questions {
		records = append(records, toRecord(q))
	}
	_, err := m.client.Index(idxQuestions).AddDocuments(records, nil)
	return err
}
