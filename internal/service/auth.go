package service

// AuthService is the identity provider: it owns accounts, issues and revokes
// session tokens, and tells observers when a session's principal changes.
//
//	AuthHandler (HTTP) → AuthService → UserRepository (accounts)
//	                                 ↘ TokenService (JWT), session.Store (revocations)
//	                                 ↘ session.Watchers (auth-state observers)
//
// KEY RESPONSIBILITIES:
//   - Email + password accounts (register, sign in, change password)
//   - Google sign-in: link to an existing account by email or create one
//   - Sign-out that sticks, by revoking the token's ID until it expires
//   - Email verification links
//   - Resolving a session token into a principal for the auth middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sakif/qanda/internal/apperror"
	"github.com/sakif/qanda/internal/auth"
	"github.com/sakif/qanda/internal/email"
	"github.com/sakif/qanda/internal/metrics"
	"github.com/sakif/qanda/internal/model"
	"github.com/sakif/qanda/internal/repository"
	"github.com/sakif/qanda/internal/session"
)

// VerificationTTL is how long an emailed verification link stays valid.
const VerificationTTL = 24 * time.Hour

var (
	_ auth.Resolver    = (*AuthService)(nil)
	_ IdentityProvider = (*AuthService)(nil)
)

// AuthDeps groups AuthService's collaborators. Google may be nil when
// federated sign-in is not configured.
type AuthDeps struct {
	Users         repository.UserRepository
	Verifications repository.VerificationRepository
	Tokens        *auth.TokenService
	Passwords     *auth.PasswordService
	Google        *auth.GoogleProvider
	Revocations   session.Store
	Watchers      *session.Watchers
	Mailer        email.Sender
	Metrics       metrics.Recorder
	Logger        *slog.Logger
	// BaseURL is the externally visible origin used in verification links.
	BaseURL string
}

type AuthService struct {
	AuthDeps
	validate *validator.Validate
	now      func() time.Time
}

func NewAuthService(deps AuthDeps) *AuthService {
	return &AuthService{
		AuthDeps: deps,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
}

// AuthResult bundles the principal and its freshly issued session token so
// the handler can set the cookie and respond in one step.
type AuthResult struct {
	Principal *model.Principal
	Token     string
	ExpiresAt time.Time
}

// =========================================================================
// INPUT VALIDATION
// =========================================================================

type registerInput struct {
	Name     string `validate:"required"`
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=6"`
}

type loginInput struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

// validationMessages maps "Field.tag" to the message shown next to the form.
var validationMessages = map[string]string{
	"Name.required":     "enter your name",
	"Email.required":    "please enter a valid email address.",
	"Email.email":       "please enter a valid email address.",
	"Password.required": "enter your password",
	"Password.min":      "password must be at least 6 characters",
}

// check runs the validator and turns the first failure into an AppError.
func (s *AuthService) check(in any) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("service/auth: validating input: %w", err)
	}
	fe := verrs[0]
	msg, ok := validationMessages[fe.Field()+"."+fe.Tag()]
	if !ok {
		msg = fmt.Sprintf("%s is invalid", strings.ToLower(fe.Field()))
	}
	return apperror.ValidationFailed(strings.ToLower(fe.Field()), msg)
}

func normaliseEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// =========================================================================
// ACCOUNTS AND SIGN-IN
// =========================================================================

// CreateAccount registers an email + password account with a display name and
// signs it in. A verification mail is sent on a best-effort basis.
func (s *AuthService) CreateAccount(ctx context.Context, name, emailAddr, password string) (*AuthResult, error) {
	in := registerInput{Name: strings.TrimSpace(name), Email: normaliseEmail(emailAddr), Password: password}
	if err := s.check(in); err != nil {
		return nil, err
	}

	hash, err := s.Passwords.Hash(in.Password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return nil, apperror.ValidationFailed("password", "password is too long")
		}
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	now := s.now().UTC()
	u := &model.User{
		Email:        in.Email,
		PasswordHash: hash,
		DisplayName:  in.Name,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, &apperror.AppError{
				Err:     apperror.ErrConflict,
				Message: "an account with this email already exists",
				Field:   "email",
			}
		}
		return nil, fmt.Errorf("service/auth: creating user: %w", err)
	}

	s.Logger.Info("account created", slog.String("userID", u.ID))
	s.Metrics.RecordLogin("register", true)

	if err := s.SendVerificationEmail(ctx, u.ID); err != nil {
		s.Logger.Warn("verification email after registration failed",
			slog.String("userID", u.ID),
			slog.String("error", err.Error()),
		)
	}

	return s.issue(u)
}

// SignIn checks an email + password. An unknown email and a wrong password
// both come back as ErrInvalidCredential.
func (s *AuthService) SignIn(ctx context.Context, emailAddr, password string) (*AuthResult, error) {
	in := loginInput{Email: normaliseEmail(emailAddr), Password: password}
	if err := s.check(in); err != nil {
		return nil, err
	}

	u, err := s.Users.GetUserByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.Metrics.RecordLogin("password", false)
			return nil, apperror.InvalidCredential()
		}
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}

	// Google-only accounts have no password to match.
	if u.PasswordHash == "" {
		s.Metrics.RecordLogin("password", false)
		return nil, apperror.InvalidCredential()
	}
	if err := s.Passwords.Verify(u.PasswordHash, in.Password); err != nil {
		s.Metrics.RecordLogin("password", false)
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, apperror.InvalidCredential()
		}
		return nil, fmt.Errorf("service/auth: verifying password: %w", err)
	}

	s.Metrics.RecordLogin("password", true)
	s.Logger.Info("user signed in", slog.String("userID", u.ID), slog.String("method", "password"))
	return s.issue(u)
}

// ErrGoogleDisabled is returned by the Google flow when no client is configured.
var ErrGoogleDisabled = errors.New("service/auth: google sign-in is not configured")

// GoogleAuthURL returns the consent-screen URL for the given state.
func (s *AuthService) GoogleAuthURL(state string) (string, error) {
	if s.Google == nil {
		return "", ErrGoogleDisabled
	}
	return s.Google.AuthURL(state), nil
}

// SignInFederated completes Google sign-in.
//
// LOOKUP ORDER:
//  1. An account already linked to this Google subject
//  2. An account with the same (Google-verified) email: link it
//  3. Otherwise create a new account from the Google profile
func (s *AuthService) SignInFederated(ctx context.Context, code string) (*AuthResult, error) {
	if s.Google == nil {
		return nil, ErrGoogleDisabled
	}

	gu, err := s.Google.Exchange(ctx, code)
	if err != nil {
		s.Metrics.RecordLogin("google", false)
		return nil, fmt.Errorf("service/auth: google exchange: %w", err)
	}

	u, err := s.federatedUser(ctx, gu)
	if err != nil {
		s.Metrics.RecordLogin("google", false)
		return nil, err
	}

	s.Metrics.RecordLogin("google", true)
	s.Logger.Info("user signed in", slog.String("userID", u.ID), slog.String("method", "google"))
	return s.issue(u)
}

func (s *AuthService) federatedUser(ctx context.Context, gu *auth.GoogleUser) (*model.User, error) {
	u, err := s.Users.GetUserByGoogleID(ctx, gu.Subject)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/auth: looking up google user: %w", err)
	}

	emailAddr := normaliseEmail(gu.Email)
	if gu.EmailVerified && emailAddr != "" {
		u, err = s.Users.GetUserByEmail(ctx, emailAddr)
		switch {
		case err == nil:
			subject := gu.Subject
			u.GoogleID = &subject
			u.EmailVerified = true
			if u.PhotoURL == "" {
				u.PhotoURL = gu.Picture
			}
			u.UpdatedAt = s.now().UTC()
			if err := s.Users.UpdateUser(ctx, u); err != nil {
				return nil, fmt.Errorf("service/auth: linking google account: %w", err)
			}
			return u, nil
		case !errors.Is(err, apperror.ErrNotFound):
			return nil, fmt.Errorf("service/auth: looking up user by email: %w", err)
		}
	}

	subject := gu.Subject
	now := s.now().UTC()
	u = &model.User{
		Email:         emailAddr,
		GoogleID:      &subject,
		DisplayName:   gu.Name,
		PhotoURL:      gu.Picture,
		EmailVerified: gu.EmailVerified,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Users.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("service/auth: creating google user: %w", err)
	}
	return u, nil
}

func (s *AuthService) issue(u *model.User) (*AuthResult, error) {
	token, err := s.Tokens.Generate(u.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %s: %w", u.ID, err)
	}
	return &AuthResult{
		Principal: u.Principal(),
		Token:     token,
		ExpiresAt: s.now().Add(s.Tokens.TTL()),
	}, nil
}

// SignOut revokes the token until it would have expired anyway and tells the
// session's observers it has ended. An already invalid token is a no-op.
func (s *AuthService) SignOut(ctx context.Context, token string) error {
	claims, err := s.Tokens.Validate(token)
	if err != nil {
		return nil
	}
	if err := s.Revocations.Revoke(ctx, claims.TokenID, claims.ExpiresAt); err != nil {
		return fmt.Errorf("service/auth: revoking token: %w", err)
	}
	s.Watchers.SignedOut(claims.UserID, claims.TokenID)
	s.Logger.Info("user signed out", slog.String("userID", claims.UserID))
	return nil
}

// =========================================================================
// SESSION RESOLUTION AND OBSERVERS
// =========================================================================

// Authenticate implements auth.Resolver.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*model.Principal, error) {
	p, _, err := s.resolve(ctx, token)
	return p, err
}

func (s *AuthService) resolve(ctx context.Context, token string) (*model.Principal, *auth.Claims, error) {
	claims, err := s.Tokens.Validate(token)
	if err != nil {
		return nil, nil, apperror.Unauthorized("invalid session")
	}
	revoked, err := s.Revocations.IsRevoked(ctx, claims.TokenID)
	if err != nil {
		return nil, nil, fmt.Errorf("service/auth: checking revocation: %w", err)
	}
	if revoked {
		return nil, nil, apperror.Unauthorized("session has ended")
	}
	u, err := s.Users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, nil, apperror.Unauthorized("account no longer exists")
		}
		return nil, nil, fmt.Errorf("service/auth: fetching user %s: %w", claims.UserID, err)
	}
	return u.Principal(), claims, nil
}

// OnAuthStateChange calls fn with the session's current principal (nil when
// the token is not a live session) and again on every later change: profile
// updates, email verification, and sign-out (nil). The returned cancel stops
// delivery; it is safe to call more than once.
func (s *AuthService) OnAuthStateChange(ctx context.Context, token string, fn func(*model.Principal)) (cancel func(), err error) {
	p, claims, err := s.resolve(ctx, token)
	if err != nil {
		if errors.Is(err, apperror.ErrUnauthorized) {
			fn(nil)
			return func() {}, nil
		}
		return nil, err
	}

	// Register before the first delivery so no change is lost, and skip the
	// first delivery if a change already got through.
	var (
		mu   sync.Mutex
		seen bool
	)
	cancel = s.Watchers.Watch(p.ID, claims.TokenID, func(np *model.Principal) {
		mu.Lock()
		seen = true
		mu.Unlock()
		fn(np)
	})

	mu.Lock()
	if !seen {
		fn(p)
	}
	mu.Unlock()
	return cancel, nil
}

// =========================================================================
// PROFILE, PASSWORD AND VERIFICATION
// =========================================================================

// UpdateProfile sets the account's display name and photo URL.
func (s *AuthService) UpdateProfile(ctx context.Context, userID string, attrs model.ProfileAttrs) (*model.Principal, error) {
	u, err := s.Users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", userID, err)
	}
	u.DisplayName = attrs.DisplayName
	u.PhotoURL = attrs.PhotoURL
	u.UpdatedAt = s.now().UTC()
	if err := s.Users.UpdateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("service/auth: updating user %s: %w", userID, err)
	}

	p := u.Principal()
	s.Watchers.Changed(p)
	return p, nil
}

// UpdatePassword replaces the account's password. Google-only accounts gain
// one this way.
func (s *AuthService) UpdatePassword(ctx context.Context, userID, newPassword string) error {
	if len([]rune(newPassword)) < 6 {
		return apperror.ValidationFailed("password", "password must be at least 6 characters")
	}
	hash, err := s.Passwords.Hash(newPassword)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return apperror.ValidationFailed("password", "password is too long")
		}
		return fmt.Errorf("service/auth: hashing password: %w", err)
	}

	u, err := s.Users.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("service/auth: fetching user %s: %w", userID, err)
	}
	u.PasswordHash = hash
	u.UpdatedAt = s.now().UTC()
	if err := s.Users.UpdateUser(ctx, u); err != nil {
		return fmt.Errorf("service/auth: updating password for %s: %w", userID, err)
	}
	s.Logger.Info("password updated", slog.String("userID", userID))
	return nil
}

// SendVerificationEmail stores a single-use token and mails a link to it.
func (s *AuthService) SendVerificationEmail(ctx context.Context, userID string) error {
	u, err := s.Users.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("service/auth: fetching user %s: %w", userID, err)
	}

	token := uuid.NewString()
	if err := s.Verifications.CreateVerification(ctx, token, u.ID, s.now().Add(VerificationTTL)); err != nil {
		return fmt.Errorf("service/auth: storing verification token: %w", err)
	}

	link := strings.TrimRight(s.BaseURL, "/") + "/auth/verify?token=" + url.QueryEscape(token)
	if err := s.Mailer.SendVerification(ctx, u.Email, u.DisplayName, link); err != nil {
		return fmt.Errorf("service/auth: sending verification email: %w", err)
	}
	return nil
}

// VerifyEmail consumes a verification token and marks its account verified.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) (*model.Principal, error) {
	userID, err := s.Verifications.ConsumeVerification(ctx, token)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, &apperror.AppError{
				Err:     apperror.ErrNotFound,
				Message: "this verification link is invalid or has expired",
			}
		}
		return nil, fmt.Errorf("service/auth: consuming verification token: %w", err)
	}

	u, err := s.Users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", userID, err)
	}
	u.EmailVerified = true
	u.UpdatedAt = s.now().UTC()
	if err := s.Users.UpdateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("service/auth: marking email verified: %w", err)
	}

	p := u.Principal()
	s.Watchers.Changed(p)
	s.Logger.Info("email verified", slog.String("userID", userID))
	return p, nil
}
