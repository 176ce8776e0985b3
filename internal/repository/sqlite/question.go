package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/qanda/internal/apperror"
	"github.com/sakif/qanda/internal/changefeed"
	"github.com/sakif/qanda/internal/model"
	"github.com/sakif/qanda/internal/repository"
)

var _ repository.QuestionRepository = (*DB)(nil)

// Create inserts a new question and sets q.ID.
//
// xid IDs are 20 URL-safe chars and sort by creation time, so the primary
// key order matches the feed order.
func (db *DB) Create(ctx context.Context, q *model.Question) error {
	q.ID = xid.New().String()
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}
	q.Answers = []model.Answer{}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO questions (id, text, image_url, asked_by, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		q.ID,
		nullString(q.Text),
		nullString(q.ImageURL),
		q.AskedBy,
		q.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating question: %w", err)
	}

	db.notify(ctx, changefeed.Questions, q.ID)
	return nil
}

// GetByID returns one question with its answers.
func (db *DB) GetByID(ctx context.Context, id string) (*model.Question, error) {
	var (
		q        model.Question
		text     sql.NullString
		imageURL sql.NullString
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, text, image_url, asked_by, created_at
		 FROM questions
		 WHERE id = ?`,
		id,
	).Scan(&q.ID, &text, &imageURL, &q.AskedBy, &q.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("question", id)
		}
		return nil, fmt.Errorf("sqlite: getting question %s: %w", id, err)
	}
	q.Text = stringPtr(text)
	q.ImageURL = stringPtr(imageURL)

	answers, err := db.answers(ctx, `WHERE question_id = ?`, id)
	if err != nil {
		return nil, err
	}
	q.Answers = orEmpty(answers[id])

	return &q, nil
}

// List returns every question with its answers, oldest first.
//
// Two queries, not N+1: all questions, then all answers grouped in Go.
func (db *DB) List(ctx context.Context) ([]model.Question, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, text, image_url, asked_by, created_at
		 FROM questions
		 ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing questions: %w", err)
	}

	questions := make([]model.Question, 0)
	for rows.Next() {
		var (
			q        model.Question
			text     sql.NullString
			imageURL sql.NullString
		)
		if err := rows.Scan(&q.ID, &text, &imageURL, &q.AskedBy, &q.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite: scanning question row: %w", err)
		}
		q.Text = stringPtr(text)
		q.ImageURL = stringPtr(imageURL)
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("sqlite: iterating questions: %w", err)
	}
	// Close before the next query: the pool has a single connection.
	rows.Close()

	answers, err := db.answers(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range questions {
		questions[i].Answers = orEmpty(answers[questions[i].ID])
	}

	return questions, nil
}

// orEmpty keeps an unanswered question's answers an empty list rather than
// nil, matching what Firestore returns.
func orEmpty(answers []model.Answer) []model.Answer {
	if answers == nil {
		return []model.Answer{}
	}
	return answers
}

// answers loads answers matching where, grouped by question ID in insertion
// order.
func (db *DB) answers(ctx context.Context, where string, args ...any) (map[string][]model.Answer, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT question_id, id, text, answered_by, created_at
		 FROM answers `+where+`
		 ORDER BY seq`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing answers: %w", err)
	}
	defer rows.Close()

	byQuestion := make(map[string][]model.Answer)
	for rows.Next() {
		var (
			questionID string
			a          model.Answer
		)
		if err := rows.Scan(&questionID, &a.ID, &a.Text, &a.AnsweredBy, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning answer row: %w", err)
		}
		byQuestion[questionID] = append(byQuestion[questionID], a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating answers: %w", err)
	}
	return byQuestion, nil
}

// AddAnswer appends a to the question. Appending an answer ID that is already
// present is a no-op, so retries are safe.
func (db *DB) AddAnswer(ctx context.Context, questionID string, a model.Answer) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions WHERE id = ?`, questionID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("sqlite: checking question %s: %w", questionID, err)
	}
	if exists == 0 {
		return apperror.NotFound("question", questionID)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO answers (id, question_id, text, answered_by, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		a.ID, questionID, a.Text, a.AnsweredBy, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: adding answer to question %s: %w", questionID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: committing answer: %w", err)
	}

	db.notify(ctx, changefeed.Questions, questionID)
	return nil
}

// RemoveAnswer deletes the answer only when both the ID and the author match.
// Zero rows affected means there was nothing of this author's to remove.
func (db *DB) RemoveAnswer(ctx context.Context, questionID, answerID, author string) error {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM answers WHERE question_id = ? AND id = ? AND answered_by = ?`,
		questionID, answerID, author,
	)
	if err != nil {
		return fmt.Errorf("sqlite: removing answer %s: %w", answerID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("answer", answerID)
	}

	db.notify(ctx, changefeed.Questions, questionID)
	return nil
}

// Subscribe delivers the current snapshot before returning and a fresh one
// after every question change, from a goroutine owned by the subscription.
//
// The returned function stops delivery and waits for an in-progress fn call
// to finish, so it must not be called from inside fn.
func (db *DB) Subscribe(ctx context.Context, fn func([]model.Question)) (func(), error) {
	// Listen first so a write landing between List and the goroutine start
	// still produces a wake-up.
	events, stop := db.notifier.Listen()

	initial, err := db.List(ctx)
	if err != nil {
		stop()
		return nil, err
	}
	fn(initial)

	// The subscription outlives the request that created it.
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	go func() {
		defer close(done)
		for ev := range events {
			if ev.Collection != changefeed.Questions {
				continue
			}
			snapshot, err := db.List(subCtx)
			if subCtx.Err() != nil {
				return
			}
			if err != nil {
				db.logger.Warn("sqlite: refreshing question snapshot", "error", err)
				continue
			}
			fn(snapshot)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			stop()
			<-done
		})
	}, nil
}

func (db *DB) notify(ctx context.Context, collection, id string) {
	db.notifier.Notify(ctx, changefeed.Event{Collection: collection, DocumentID: id})
}
