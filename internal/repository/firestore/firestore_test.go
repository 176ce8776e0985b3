package firestore

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/qanda/internal/apperror"
	"github.com/sakif/qanda/internal/model"
)

// These tests need the Firestore emulator:
//
//	gcloud emulators firestore start --host-port=localhost:8086
//	FIRESTORE_EMULATOR_HOST=localhost:8086 go test ./internal/repository/firestore/
//
// Each test uses a fresh project ID so runs don't see each other's data.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	s, err := New(context.Background(), "test-"+xid.New().String(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_QuestionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	q := &model.Question{Text: model.StringPtr("What is 2+2?"), AskedBy: "a@x.com"}
	require.NoError(t, s.Create(ctx, q))
	require.NotEmpty(t, q.ID)

	at := time.Now()
	require.NoError(t, s.AddAnswer(ctx, q.ID, model.Answer{ID: "a1", Text: "4", AnsweredBy: "b@x.com", CreatedAt: at}))
	require.NoError(t, s.AddAnswer(ctx, q.ID, model.Answer{ID: "a2", Text: "4", AnsweredBy: "b@x.com", CreatedAt: at}))

	got, err := s.GetByID(ctx, q.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ImageURL)
	assert.Len(t, got.Answers, 2)

	err = s.RemoveAnswer(ctx, q.ID, "a1", "c@x.com")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	require.NoError(t, s.RemoveAnswer(ctx, q.ID, "a1", "b@x.com"))
	got, err = s.GetByID(ctx, q.ID)
	require.NoError(t, err)
	require.Len(t, got.Answers, 1)
	assert.Equal(t, "a2", got.Answers[0].ID)
}

func TestStore_Subscribe(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snapshots := make(chan []model.Question, 8)
	unsubscribe, err := s.Subscribe(ctx, func(qs []model.Question) { snapshots <- qs })
	require.NoError(t, err)
	defer unsubscribe()

	assert.Empty(t, <-snapshots)

	require.NoError(t, s.Create(ctx, &model.Question{Text: model.StringPtr("hello"), AskedBy: "a@x.com"}))

	select {
	case qs := <-snapshots:
		assert.Len(t, qs, 1)
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot after create")
	}
}

func TestStore_Profile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetProfile(ctx, "u1")
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	require.NoError(t, s.UpsertProfile(ctx, &model.ProfileRecord{UserID: "u1", DisplayName: "Ada"}))
	got, err := s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", got.DisplayName)
}
