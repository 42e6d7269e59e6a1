// Package models holds the server-side domain types shared by repositories
// and services.
package models

import "time"

// RefreshToken is a persisted, opaque, long-lived credential. A row is
// created active, may be flipped to revoked exactly once, and is only ever
// removed by cleanup. Rotation revokes the old row and creates a new one.
type RefreshToken struct {
	ID        string     `json:"id"`
	Token     string     `json:"-"`
	UserID    string     `json:"user_id"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	IsRevoked bool       `json:"is_revoked"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// IsExpired reports whether now has reached the expiry. A token expiring
// exactly at now is expired.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsActive reports whether the token can still be redeemed at now.
func (t *RefreshToken) IsActive(now time.Time) bool {
	return !t.IsRevoked && !t.IsExpired(now)
}

// Revoke marks the token revoked at the given instant. Revoking an already
// revoked token keeps the original timestamp.
func (t *RefreshToken) Revoke(at time.Time) {
	if t.IsRevoked {
		return
	}
	t.IsRevoked = true
	t.RevokedAt = &at
}
