package models

import "time"

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
}

// UserClaims is the identity carried by an access token.
type UserClaims struct {
	UserID    string
	Email     string
	FirstName string
	LastName  string
	ExpiresAt time.Time
}
