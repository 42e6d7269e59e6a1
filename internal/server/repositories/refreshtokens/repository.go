// Package refreshtokens declares the refresh-token store contract and its
// PostgreSQL and in-memory implementations.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
)

// ArchiveFunc receives rows that are about to be purged. Returning an error
// aborts the purge.
type ArchiveFunc func(ctx context.Context, tokens []models.RefreshToken) error

// Repository stores refresh tokens keyed by their opaque value.
type Repository interface {
	// Add persists a new token. A value collision returns common.ErrDuplicateToken.
	Add(ctx context.Context, token *models.RefreshToken) error

	// GetByToken returns the token with the given value or common.ErrorNotFound.
	GetByToken(ctx context.Context, value string) (*models.RefreshToken, error)

	// Revoke flips an active token to revoked. Unknown or already revoked
	// values are a no-op.
	Revoke(ctx context.Context, value string, at time.Time) error

	// RevokeAllForUser revokes every non-revoked token of userID in one step
	// and returns how many were flipped.
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error)

	// Rotate atomically redeems presented and stores next. It succeeds only
	// if presented is still active at the given instant and belongs to
	// next.UserID; otherwise it returns common.ErrorNotFound and writes nothing.
	// Of several concurrent calls with the same presented value at most one
	// succeeds.
	Rotate(ctx context.Context, presented string, next *models.RefreshToken, at time.Time) error

	// SweepExpired deletes non-revoked tokens with ExpiresAt <= now and
	// returns how many were removed.
	SweepExpired(ctx context.Context, now time.Time) (int64, error)

	// PurgeRevoked deletes revoked tokens with ExpiresAt <= before, handing
	// them to archive first when it is not nil.
	PurgeRevoked(ctx context.Context, before time.Time, archive ArchiveFunc) (int64, error)

	// ListActiveForUser returns the tokens of userID that are active at now,
	// newest first.
	ListActiveForUser(ctx context.Context, userID string, now time.Time) ([]models.RefreshToken, error)
}
