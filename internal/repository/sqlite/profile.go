package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sakif/qanda/internal/apperror"
	"github.com/sakif/qanda/internal/changefeed"
	"github.com/sakif/qanda/internal/model"
	"github.com/sakif/qanda/internal/repository"
)

var (
	_ repository.ProfileRepository      = (*DB)(nil)
	_ repository.VerificationRepository = (*DB)(nil)
)

// GetProfile returns the profile record for userID.
func (db *DB) GetProfile(ctx context.Context, userID string) (*model.ProfileRecord, error) {
	rec := model.ProfileRecord{UserID: userID}
	err := db.conn.QueryRowContext(ctx,
		`SELECT display_name, photo_url, updated_at FROM profiles WHERE user_id = ?`,
		userID,
	).Scan(&rec.DisplayName, &rec.PhotoURL, &rec.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("profile", userID)
		}
		return nil, fmt.Errorf("sqlite: getting profile %s: %w", userID, err)
	}
	return &rec, nil
}

// UpsertProfile creates or replaces the record. Writing the same values twice
// leaves the same row.
func (db *DB) UpsertProfile(ctx context.Context, rec *model.ProfileRecord) error {
	rec.UpdatedAt = time.Now()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO profiles (user_id, display_name, photo_url, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		     display_name = excluded.display_name,
		     photo_url    = excluded.photo_url,
		     updated_at   = excluded.updated_at`,
		rec.UserID, rec.DisplayName, rec.PhotoURL, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upserting profile %s: %w", rec.UserID, err)
	}

	db.notify(ctx, changefeed.Profiles, rec.UserID)
	return nil
}

// CreateVerification stores a verification token.
func (db *DB) CreateVerification(ctx context.Context, token, userID string, expiresAt time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO email_verifications (token, user_id, expires_at) VALUES (?, ?, ?)`,
		token, userID, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating verification for %s: %w", userID, err)
	}
	return nil
}

// ConsumeVerification deletes the token and returns its user ID. The token is
// deleted even when it turns out to be expired.
func (db *DB) ConsumeVerification(ctx context.Context, token string) (string, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("sqlite: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		userID    string
		expiresAt time.Time
	)
	err = tx.QueryRowContext(ctx,
		`SELECT user_id, expires_at FROM email_verifications WHERE token = ?`,
		token,
	).Scan(&userID, &expiresAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", apperror.NotFound("verification token", token)
		}
		return "", fmt.Errorf("sqlite: looking up verification: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM email_verifications WHERE token = ?`, token); err != nil {
		return "", fmt.Errorf("sqlite: deleting verification: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("sqlite: committing verification: %w", err)
	}

	if time.Now().After(expiresAt) {
		return "", apperror.NotFound("verification token", token)
	}
	return userID, nil
}
