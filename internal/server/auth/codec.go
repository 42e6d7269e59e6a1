// Package auth mints and parses the credential tokens handed to clients:
// HS256-signed access JWTs and opaque random refresh values.
package auth

import (
	"errors"
	"slices"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the JWT payload of an access token. The account id travels in
// the registered "sub" claim.
type Claims struct {
	jwt.RegisteredClaims
	Email      string `json:"email,omitempty"`
	GivenName  string `json:"given_name,omitempty"`
	FamilyName string `json:"family_name,omitempty"`
}

// CodecConfig is the immutable signing configuration of a Codec.
type CodecConfig struct {
	Secret    []byte
	Issuer    string
	Audience  string
	AccessTTL time.Duration
}

// Codec mints and parses tokens. It is safe for concurrent use.
type Codec struct {
	cfg   CodecConfig
	clock clock.Clock
}

// NewCodec validates cfg and returns a Codec reading time from clk.
func NewCodec(cfg CodecConfig, clk clock.Clock) (*Codec, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("auth: empty signing secret")
	}
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("auth: access token ttl must be positive")
	}
	if clk == nil {
		clk = clock.New()
	}
	cfg.Secret = slices.Clone(cfg.Secret)
	return &Codec{cfg: cfg, clock: clk}, nil
}

// MintAccessToken signs an access token for account and returns it together
// with its expiry instant.
func (c *Codec) MintAccessToken(account *models.Account) (string, time.Time, error) {
	now := c.clock.Now()
	exp := jwt.NewNumericDate(now.Add(c.cfg.AccessTTL))

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID,
			Issuer:    c.cfg.Issuer,
			Audience:  jwt.ClaimStrings{c.cfg.Audience},
			ExpiresAt: exp,
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
		Email:      account.Email,
		GivenName:  account.FirstName,
		FamilyName: account.LastName,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.cfg.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp.Time, nil
}

// MintRefreshToken returns a new opaque refresh value with 256 bits of entropy.
func (c *Codec) MintRefreshToken() (string, error) {
	return common.MakeRandHexString(common.RefreshTokenBytes)
}

// ParseAccessToken fully validates token (signature, algorithm, issuer,
// audience, expiry) and returns its identity. Any failure is ErrInvalidToken.
func (c *Codec) ParseAccessToken(token string) (*models.UserClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.cfg.Issuer),
		jwt.WithAudience(c.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.clock.Now),
	)
	return c.parse(parser, token)
}

// ParseExpiredToken validates token like ParseAccessToken but ignores its
// expiry, so the prior identity can be recovered from an expired token.
func (c *Codec) ParseExpiredToken(token string) (*models.UserClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	return c.parse(parser, token)
}

func (c *Codec) parse(parser *jwt.Parser, token string) (*models.UserClaims, error) {
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return c.cfg.Secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, common.ErrInvalidToken
	}
	// issuer and audience are checked here too because WithoutClaimsValidation
	// skips them.
	if claims.Subject == "" || claims.Issuer != c.cfg.Issuer || !slices.Contains(claims.Audience, c.cfg.Audience) {
		return nil, common.ErrInvalidToken
	}

	uc := &models.UserClaims{
		UserID:    claims.Subject,
		Email:     claims.Email,
		FirstName: claims.GivenName,
		LastName:  claims.FamilyName,
	}
	if claims.ExpiresAt != nil {
		uc.ExpiresAt = claims.ExpiresAt.Time
	}
	return uc, nil
}
