package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/sakif/qanda/internal/apperror"
	"github.com/sakif/qanda/internal/metrics"
	"github.com/sakif/qanda/internal/model"
	"github.com/sakif/qanda/internal/objectstore"
	"github.com/sakif/qanda/internal/repository"
)

// IdentityProvider is the slice of the identity provider the profile page
// drives. AuthService implements it.
type IdentityProvider interface {
	UpdateProfile(ctx context.Context, userID string, attrs model.ProfileAttrs) (*model.Principal, error)
	UpdatePassword(ctx context.Context, userID, newPassword string) error
	SendVerificationEmail(ctx context.Context, userID string) error
}

const errSavingProfile = "error saving profile"

// ProfileService loads and saves the signed-in user's profile.
//
// A profile lives in two places: the identity provider's account attributes
// and a denormalised profile record in the document store. Save writes both,
// in a fixed order, and undoes the first write if the second fails.
type ProfileService struct {
	identity IdentityProvider
	profiles repository.ProfileRepository
	store    objectstore.Store
	metrics  metrics.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

func NewProfileService(
	identity IdentityProvider,
	profiles repository.ProfileRepository,
	store objectstore.Store,
	rec metrics.Recorder,
	logger *slog.Logger,
) *ProfileService {
	return &ProfileService{
		identity: identity,
		profiles: profiles,
		store:    store,
		metrics:  rec,
		logger:   logger,
		now:      time.Now,
	}
}

// Load merges the principal with its profile record. Non-empty record values
// win; a missing record is not an error.
func (s *ProfileService) Load(ctx context.Context, p *model.Principal) (*model.Profile, error) {
	if p == nil {
		return nil, apperror.Unauthorized("please log in to view your profile")
	}

	profile := &model.Profile{
		ID:            p.ID,
		Email:         p.Email,
		DisplayName:   p.DisplayName,
		PhotoURL:      p.PhotoURL,
		EmailVerified: p.EmailVerified,
	}

	rec, err := s.profiles.GetProfile(ctx, p.ID)
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		return profile, nil
	case err != nil:
		s.logger.Error("loading profile record failed",
			slog.String("userID", p.ID),
			slog.String("error", err.Error()),
		)
		return nil, apperror.Remote("error loading profile", err)
	}

	if rec.DisplayName != "" {
		profile.DisplayName = rec.DisplayName
	}
	if rec.PhotoURL != "" {
		profile.PhotoURL = rec.PhotoURL
	}
	return profile, nil
}

// Save updates display name and, optionally, the profile picture.
//
// WRITE ORDER:
//  1. Upload the picture to a fresh path (nothing to undo on failure)
//  2. Update the identity provider's attributes
//  3. Upsert the profile record
//
// If 3 fails, 2 is reverted to the attributes p had on entry. If the revert
// fails too, the two copies disagree and the caller gets ErrPartial.
func (s *ProfileService) Save(ctx context.Context, p *model.Principal, displayName string, img *Image) (*model.Profile, error) {
	if p == nil {
		s.metrics.RecordRejected("profile.save", "unauthenticated")
		return nil, apperror.Unauthorized("please log in to update your profile")
	}

	attrs := model.ProfileAttrs{
		DisplayName: strings.TrimSpace(displayName),
		PhotoURL:    p.PhotoURL,
	}
	if attrs.DisplayName == "" {
		attrs.DisplayName = p.DisplayName
	}

	if img != nil {
		objectPath := objectstore.ProfileImagePath(p.ID, img.Name)
		start := time.Now()
		err := s.store.Upload(ctx, objectPath, img.Body, img.Size, img.ContentType)
		s.metrics.RecordUpload("profile", time.Since(start), err)
		if err == nil {
			attrs.PhotoURL, err = s.store.URL(objectPath)
		}
		if err != nil {
			s.logger.Error("profile picture upload failed",
				slog.String("userID", p.ID),
				slog.String("error", err.Error()),
			)
			return nil, apperror.Remote(errSavingProfile, err)
		}
	}

	updated, err := s.identity.UpdateProfile(ctx, p.ID, attrs)
	if err != nil {
		s.logger.Error("identity profile update failed",
			slog.String("userID", p.ID),
			slog.String("error", err.Error()),
		)
		return nil, apperror.Remote(errSavingProfile, err)
	}

	rec := &model.ProfileRecord{
		UserID:      p.ID,
		DisplayName: attrs.DisplayName,
		PhotoURL:    attrs.PhotoURL,
		UpdatedAt:   s.now().UTC(),
	}
	if err := s.profiles.UpsertProfile(ctx, rec); err != nil {
		return nil, s.compensate(ctx, p, err)
	}

	s.logger.Info("profile saved", slog.String("userID", p.ID))
	return &model.Profile{
		ID:            updated.ID,
		Email:         updated.Email,
		DisplayName:   attrs.DisplayName,
		PhotoURL:      attrs.PhotoURL,
		EmailVerified: updated.EmailVerified,
	}, nil
}

// compensate restores the identity attributes after the profile record write
// failed and returns the error Save should report.
func (s *ProfileService) compensate(ctx context.Context, p *model.Principal, cause error) error {
	previous := model.ProfileAttrs{DisplayName: p.DisplayName, PhotoURL: p.PhotoURL}

	if _, err := s.identity.UpdateProfile(ctx, p.ID, previous); err != nil {
		s.metrics.RecordRejected("profile.save", "partial")
		s.logger.Error("profile partially updated: revert failed",
			slog.String("userID", p.ID),
			slog.String("error", cause.Error()),
			slog.String("revertError", err.Error()),
		)
		return apperror.Partial("your profile was only partly saved, please save it again", errors.Join(cause, err))
	}

	s.logger.Error("profile record write failed, identity update reverted",
		slog.String("userID", p.ID),
		slog.String("error", cause.Error()),
	)
	return apperror.Remote(errSavingProfile, cause)
}

// UpdatePassword changes the signed-in user's password.
func (s *ProfileService) UpdatePassword(ctx context.Context, p *model.Principal, newPassword string) error {
	if p == nil {
		return apperror.Unauthorized("please log in to change your password")
	}
	if newPassword == "" {
		return apperror.ValidationFailed("password", "enter a new password")
	}
	if err := s.identity.UpdatePassword(ctx, p.ID, newPassword); err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return err
		}
		return apperror.Remote("error updating password", err)
	}
	return nil
}

// SendVerificationEmail mails the signed-in user a verification link.
func (s *ProfileService) SendVerificationEmail(ctx context.Context, p *model.Principal) error {
	if p == nil {
		return apperror.Unauthorized("please log in to verify your email")
	}
	if p.EmailVerified {
		return apperror.ValidationFailed("email", "your email address is already verified")
	}
	if err := s.identity.SendVerificationEmail(ctx, p.ID); err != nil {
		s.logger.Error("sending verification email failed",
			slog.String("userID", p.ID),
			slog.String("error", err.Error()),
		)
		return apperror.Remote("error sending verification email", err)
	}
	return nil
}
