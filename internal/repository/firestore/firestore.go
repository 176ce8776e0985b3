// Package firestore implements the question and profile repositories on
// Google Cloud Firestore.
//
// Layout:
//
//	questions/{id}   Question fields, answers as an array field
//	profiles/{uid}   ProfileRecord fields
//
// Answers are appended with ArrayUnion, which is atomic per document. Removal
// by ID needs a read-modify-write and runs in a transaction.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sakif/qanda/internal/apperror"
	"github.com/sakif/qanda/internal/model"
	"github.com/sakif/qanda/internal/repository"
)

const (
	questionsCollection = "questions"
	profilesCollection  = "profiles"
)

var (
	_ repository.QuestionRepository = (*Store)(nil)
	_ repository.ProfileRepository  = (*Store)(nil)
)

// Store wraps a Firestore client.
type Store struct {
	client *firestore.Client
	logger *slog.Logger
}

// New connects to projectID. When FIRESTORE_EMULATOR_HOST is set the client
// talks to the emulator instead.
func New(ctx context.Context, projectID string, logger *slog.Logger) (*Store, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore: creating client: %w", err)
	}
	return &Store{client: client, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) questions() *firestore.CollectionRef {
	return s.client.Collection(questionsCollection)
}

func (s *Store) Create(ctx context.Context, q *model.Question) error {
	ref := s.questions().NewDoc()
	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now()
	}
	q.Answers = []model.Answer{}

	if _, err := ref.Create(ctx, q); err != nil {
		return fmt.Errorf("firestore: creating question: %w", err)
	}
	q.ID = ref.ID
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*model.Question, error) {
	snap, err := s.questions().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, apperror.NotFound("question", id)
		}
		return nil, fmt.Errorf("firestore: getting question %s: %w", id, err)
	}
	return decodeQuestion(snap)
}

// List reads the collection ordered by creation time.
func (s *Store) List(ctx context.Context) ([]model.Question, error) {
	snaps, err := s.questions().OrderBy("createdAt", firestore.Asc).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("firestore: listing questions: %w", err)
	}
	return decodeQuestions(snaps)
}

// Subscribe uses a Firestore snapshot listener. The first snapshot is read
// synchronously so the caller has data before Subscribe returns; later ones
// arrive on the listener's goroutine. A listener that fails is replaced
// after a backoff, and its first snapshot brings the caller up to date.
func (s *Store) Subscribe(ctx context.Context, fn func([]model.Question)) (func(), error) {
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	open := func() questionIter {
		return &snapshotIter{store: s, it: s.questions().OrderBy("createdAt", firestore.Asc).Snapshots(subCtx)}
	}

	it := open()
	first, err := it.next()
	if err != nil {
		it.stop()
		cancel()
		return nil, err
	}
	fn(first)

	done := make(chan struct{})
	go func() {
		defer close(done)
		follow(subCtx, it, open, fn, defaultRetry, s.logger)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

// questionIter is one snapshot listener.
type questionIter interface {
	next() ([]model.Question, error)
	stop()
}

type snapshotIter struct {
	store *Store
	it    *firestore.QuerySnapshotIterator
}

func (i *snapshotIter) next() ([]model.Question, error) { return i.store.next(i.it) }
func (i *snapshotIter) stop()                           { i.it.Stop() }

// retryPolicy is a capped exponential backoff.
type retryPolicy struct {
	initial, ceiling time.Duration
}

var defaultRetry = retryPolicy{initial: time.Second, ceiling: 30 * time.Second}

// follow delivers snapshots from it until ctx is cancelled, opening a new
// listener whenever the current one fails.
func follow(ctx context.Context, it questionIter, open func() questionIter, fn func([]model.Question), retry retryPolicy, logger *slog.Logger) {
	delay := retry.initial
	for {
		qs, err := it.next()
		if ctx.Err() != nil {
			it.stop()
			return
		}
		if err != nil {
			it.stop()
			logger.Warn("firestore: question listener failed, resubscribing",
				"error", err, "retry_in", delay)

			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			delay = min(delay*2, retry.ceiling)
			it = open()
			continue
		}
		delay = retry.initial
		fn(qs)
	}
}

func (s *Store) next(it *firestore.QuerySnapshotIterator) ([]model.Question, error) {
	qsnap, err := it.Next()
	if err != nil {
		return nil, fmt.Errorf("firestore: question snapshot: %w", err)
	}
	snaps, err := qsnap.Documents.GetAll()
	if err != nil {
		return nil, fmt.Errorf("firestore: reading question snapshot: %w", err)
	}
	return decodeQuestions(snaps)
}

// AddAnswer uses ArrayUnion. Distinct answers always differ by ID, so they
// never collapse into one entry; re-sending the same answer is a no-op.
func (s *Store) AddAnswer(ctx context.Context, questionID string, a model.Answer) error {
	_, err := s.questions().Doc(questionID).Update(ctx, []firestore.Update{
		{Path: "answers", Value: firestore.ArrayUnion(a)},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return apperror.NotFound("question", questionID)
		}
		return fmt.Errorf("firestore: adding answer to question %s: %w", questionID, err)
	}
	return nil
}

// RemoveAnswer rewrites the answers array without the matching entry.
func (s *Store) RemoveAnswer(ctx context.Context, questionID, answerID, author string) error {
	ref := s.questions().Doc(questionID)

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		q, err := decodeQuestion(snap)
		if err != nil {
			return err
		}

		kept := make([]model.Answer, 0, len(q.Answers))
		removed := false
		for _, a := range q.Answers {
			if !removed && a.ID == answerID && a.AnsweredBy == author {
				removed = true
				continue
			}
			kept = append(kept, a)
		}
		if !removed {
			return apperror.NotFound("answer", answerID)
		}
		return tx.Update(ref, []firestore.Update{{Path: "answers", Value: kept}})
	})
	if err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return appErr
		}
		if status.Code(err) == codes.NotFound {
			return apperror.NotFound("question", questionID)
		}
		return fmt.Errorf("firestore: removing answer %s: %w", answerID, err)
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*model.ProfileRecord, error) {
	snap, err := s.client.Collection(profilesCollection).Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, apperror.NotFound("profile", userID)
		}
		return nil, fmt.Errorf("firestore: getting profile %s: %w", userID, err)
	}

	var rec model.ProfileRecord
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("firestore: decoding profile %s: %w", userID, err)
	}
	rec.UserID = userID
	return &rec, nil
}

func (s *Store) UpsertProfile(ctx context.Context, rec *model.ProfileRecord) error {
	rec.UpdatedAt = time.Now()
	if _, err := s.client.Collection(profilesCollection).Doc(rec.UserID).Set(ctx, rec); err != nil {
		return fmt.Errorf("firestore: upserting profile %s: %w", rec.UserID, err)
	}
	return nil
}

func decodeQuestion(snap *firestore.DocumentSnapshot) (*model.Question, error) {
	var q model.Question
	if err := snap.DataTo(&q); err != nil {
		return nil, fmt.Errorf("firestore: decoding question %s: %w", snap.Ref.ID, err)
	}
	q.ID = snap.Ref.ID
	return &q, nil
}

func decodeQuestions(snaps []*firestore.DocumentSnapshot) ([]model.Question, error) {
	questions := make([]model.Question, 0, len(snaps))
	for _, snap := range snaps {
		q, err := decodeQuestion(snap)
		if err != nil {
			return nil, err
		}
		questions = append(questions, *q)
	}
	return questions, nil
}
