package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/sakif/qanda/internal/apperror"
	"github.com/sakif/qanda/internal/model"
)

// =========================================================================
// FAKES
// =========================================================================
//
// Hand-written in-memory implementations of the repository and object store
// interfaces. Each one counts calls so tests can assert that a rejected
// operation never reached the store.

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeQuestionRepo struct {
	mu        sync.Mutex
	questions map[string]*model.Question
	order     []string
	nextID    int
	calls     int

	createErr error
	addErr    error
	removeErr error
}

func newFakeQuestionRepo() *fakeQuestionRepo {
	return &fakeQuestionRepo{questions: make(map[string]*model.Question)}
}

func (f *fakeQuestionRepo) Create(_ context.Context, q *model.Question) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	q.ID = fmt.Sprintf("q-%d", f.nextID)
	stored := q.Clone()
	f.questions[q.ID] = &stored
	f.order = append(f.order, q.ID)
	return nil
}

func (f *fakeQuestionRepo) GetByID(_ context.Context, id string) (*model.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	q, ok := f.questions[id]
	if !ok {
		return nil, apperror.NotFound("question", id)
	}
	c := q.Clone()
	return &c, nil
}

func (f *fakeQuestionRepo) List(_ context.Context) ([]model.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	out := make([]model.Question, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.questions[id].Clone())
	}
	return out, nil
}

func (f *fakeQuestionRepo) Subscribe(ctx context.Context, fn func([]model.Question)) (func(), error) {
	qs, _ := f.List(ctx)
	fn(qs)
	return func() {}, nil
}

func (f *fakeQuestionRepo) AddAnswer(_ context.Context, questionID string, a model.Answer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.addErr != nil {
		return f.addErr
	}
	q, ok := f.questions[questionID]
	if !ok {
		return apperror.NotFound("question", questionID)
	}
	if _, exists := q.AnswerByID(a.ID); !exists {
		q.Answers = append(q.Answers, a)
	}
	return nil
}

func (f *fakeQuestionRepo) RemoveAnswer(_ context.Context, questionID, answerID, author string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.removeErr != nil {
		return f.removeErr
	}
	q, ok := f.questions[questionID]
	if !ok {
		return apperror.NotFound("question", questionID)
	}
	for i, a := range q.Answers {
		if a.ID == answerID && a.AnsweredBy == author {
			q.Answers = append(q.Answers[:i], q.Answers[i+1:]...)
			return nil
		}
	}
	return apperror.NotFound("answer", answerID)
}

func (f *fakeQuestionRepo) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeObjectStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploadErr error
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte)}
}

func (f *fakeObjectStore) Upload(_ context.Context, objectPath string, r io.Reader, _ int64, _ string) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[objectPath] = b
	return nil
}

func (f *fakeObjectStore) URL(objectPath string) (string, error) {
	return "https://cdn.example.com/" + objectPath, nil
}

func (f *fakeObjectStore) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.objects))
	for p := range f.objects {
		out = append(out, p)
	}
	return out
}

type fakeProfileRepo struct {
	records   map[string]model.ProfileRecord
	upsertErr error
	getErr    error
}

func newFakeProfileRepo() *fakeProfileRepo {
	return &fakeProfileRepo{records: make(map[string]model.ProfileRecord)}
}

func (f *fakeProfileRepo) GetProfile(_ context.Context, userID string) (*model.ProfileRecord, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	rec, ok := f.records[userID]
	if !ok {
		return nil, apperror.NotFound("profile", userID)
	}
	return &rec, nil
}

func (f *fakeProfileRepo) UpsertProfile(_ context.Context, rec *model.ProfileRecord) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.records[rec.UserID] = *rec
	return nil
}

// fakeIdentity records every UpdateProfile call. updateErrs is consumed one
// entry per call, so a test can let the first call succeed and fail the
// revert.
type fakeIdentity struct {
	updates    []model.ProfileAttrs
	updateErrs []error
	current    model.Principal

	passwords []string
	verifySent int
}

func (f *fakeIdentity) UpdateProfile(_ context.Context, userID string, attrs model.ProfileAttrs) (*model.Principal, error) {
	f.updates = append(f.updates, attrs)
	if len(f.updateErrs) > 0 {
		err := f.updateErrs[0]
		f.updateErrs = f.updateErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	f.current.ID = userID
	f.current.DisplayName = attrs.DisplayName
	f.current.PhotoURL = attrs.PhotoURL
	p := f.current
	return &p, nil
}

func (f *fakeIdentity) UpdatePassword(_ context.Context, _ string, newPassword string) error {
	f.passwords = append(f.passwords, newPassword)
	return nil
}

func (f *fakeIdentity) SendVerificationEmail(context.Context, string) error {
	f.verifySent++
	return nil
}

type capturedMail struct {
	to, name, link string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []capturedMail
	err  error
}

func (f *fakeMailer) SendVerification(_ context.Context, to, userName, link string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, capturedMail{to: to, name: userName, link: link})
	return nil
}

func (f *fakeMailer) last() capturedMail {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return capturedMail{}
	}
	return f.sent[len(f.sent)-1]
}
