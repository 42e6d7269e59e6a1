package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshToken_IsExpired_Boundary(t *testing.T) {
	now := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		expires time.Time
		want    bool
	}{
		{name: "future", expires: now.Add(time.Nanosecond), want: false},
		{name: "exactly now", expires: now, want: true},
		{name: "past", expires: now.Add(-time.Hour), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := &RefreshToken{ExpiresAt: tt.expires}
			assert.Equal(t, tt.want, tok.IsExpired(now))
			assert.Equal(t, !tt.want, tok.IsActive(now))
		})
	}
}

func TestRefreshToken_RevokeIsMonotonic(t *testing.T) {
	first := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tok := &RefreshToken{ExpiresAt: first.Add(time.Hour)}

	tok.Revoke(first)
	require.True(t, tok.IsRevoked)
	require.NotNil(t, tok.RevokedAt)
	assert.False(t, tok.IsActive(first))

	tok.Revoke(first.Add(time.Minute))
	assert.Equal(t, first, *tok.RevokedAt)
}

func TestAccount_ProfileDropsHash(t *testing.T) {
	a := &Account{ID: "u1", Email: "a@b.c", FirstName: "A", LastName: "B", PasswordHash: "secret", IsActive: true}
	p := a.Profile()
	assert.Equal(t, "u1", p.ID)
	assert.Equal(t, "a@b.c", p.Email)
	assert.True(t, p.IsActive)
}
