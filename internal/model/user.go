// Package model defines the data structures used throughout the application.
package model

import "time"

// User is an account as the identity provider stores it.
//
// An account is created either with email + password (PasswordHash set) or
// through Google sign-in (GoogleID set). Both can be present when a Google
// login is linked to an existing email account.
//
// WHY *string FOR GoogleID?
// The column is UNIQUE. Several password-only users must be able to have
// "no Google account" at the same time, and SQL NULLs never collide in a
// UNIQUE index while empty strings do.
type User struct {
	ID            string    `json:"id"            db:"id"`
	Email         string    `json:"email"         db:"email"`
	PasswordHash  string    `json:"-"             db:"password_hash"`
	GoogleID      *string   `json:"-"             db:"google_id"`
	DisplayName   string    `json:"displayName"   db:"display_name"`
	PhotoURL      string    `json:"photoUrl"      db:"photo_url"`
	EmailVerified bool      `json:"emailVerified" db:"email_verified"`
	CreatedAt     time.Time `json:"createdAt"     db:"created_at"`
	UpdatedAt     time.Time `json:"updatedAt"     db:"updated_at"`
}

// Principal returns the identity attributes other components are allowed to see.
func (u *User) Principal() *Principal {
	return &Principal{
		ID:            u.ID,
		Email:         u.Email,
		DisplayName:   u.DisplayName,
		PhotoURL:      u.PhotoURL,
		EmailVerified: u.EmailVerified,
	}
}

// Principal is the currently signed-in user as seen by the rest of the app.
// It is passed explicitly into every operation that needs it; a nil
// *Principal means "nobody is signed in".
type Principal struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName"`
	PhotoURL      string `json:"photoUrl"`
	EmailVerified bool   `json:"emailVerified"`
}

// ProfileRecord is the denormalised copy of display name and photo kept next
// to the questions. Values here win over the provider's when non-empty.
type ProfileRecord struct {
	UserID      string    `json:"userId"      firestore:"-"`
	DisplayName string    `json:"displayName" firestore:"displayName"`
	PhotoURL    string    `json:"photoUrl"    firestore:"photoURL"`
	UpdatedAt   time.Time `json:"updatedAt"   firestore:"updatedAt"`
}

// Profile is what the profile page shows: provider attributes merged with the
// profile record.
type Profile struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	DisplayName   string `json:"displayName"`
	PhotoURL      string `json:"photoUrl"`
	EmailVerified bool   `json:"emailVerified"`
}

// ProfileAttrs is the mutable part of an account's identity attributes.
type ProfileAttrs struct {
	DisplayName string
	PhotoURL    string
}
