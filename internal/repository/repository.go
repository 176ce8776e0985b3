// Package repository declares the storage contracts the services depend on.
// Implementations live in sub-packages (sqlite, firestore).
package repository

import (
	"context"
	"time"

	"github.com/sakif/qanda/internal/model"
)

// QuestionRepository is the document store for questions and their inline
// answers.
type QuestionRepository interface {
	// Create stores q and assigns q.ID.
	Create(ctx context.Context, q *model.Question) error
	GetByID(ctx context.Context, id string) (*model.Question, error)
	// List returns the whole collection in store order (oldest first).
	List(ctx context.Context) ([]model.Question, error)
	// Subscribe calls fn with the full snapshot before returning, then again
	// after every change until the returned unsubscribe function is called.
	// fn is never called after unsubscribe returns.
	Subscribe(ctx context.Context, fn func([]model.Question)) (unsubscribe func(), err error)
	// AddAnswer appends a to the question's answers unless an answer with the
	// same ID is already there.
	AddAnswer(ctx context.Context, questionID string, a model.Answer) error
	// RemoveAnswer removes the answer with answerID written by author.
	// It returns apperror.ErrNotFound when nothing matched.
	RemoveAnswer(ctx context.Context, questionID, answerID, author string) error
}

// ProfileRepository holds the denormalised profile record per user.
type ProfileRepository interface {
	GetProfile(ctx context.Context, userID string) (*model.ProfileRecord, error)
	UpsertProfile(ctx context.Context, rec *model.ProfileRecord) error
}

// UserRepository stores identity-provider accounts.
type UserRepository interface {
	// CreateUser assigns u.ID. A taken email returns apperror.ErrConflict.
	CreateUser(ctx context.Context, u *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByGoogleID(ctx context.Context, googleID string) (*model.User, error)
	UpdateUser(ctx context.Context, u *model.User) error
}

// VerificationRepository stores single-use email verification tokens.
type VerificationRepository interface {
	CreateVerification(ctx context.Context, token, userID string, expiresAt time.Time) error
	// ConsumeVerification deletes the token and returns its user. Unknown or
	// expired tokens return apperror.ErrNotFound.
	ConsumeVerification(ctx context.Context, token string) (userID string, err error)
}
