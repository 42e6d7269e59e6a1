// Package services contains the server-side business logic: the refresh
// token lifecycle (AuthService) and account management (AccountService).
package services

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/dbx"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// IdentityStore is what the token lifecycle needs from account management.
type IdentityStore interface {
	VerifyCredentials(ctx context.Context, email, password string) (*models.Account, error)
	CreateAccount(ctx context.Context, in models.NewAccount) (*models.Account, error)
	FindByID(ctx context.Context, id string) (*models.Account, error)
	RecordLogin(ctx context.Context, acc *models.Account)
}

// TokenCodec mints and parses tokens. *auth.Codec implements it.
type TokenCodec interface {
	MintAccessToken(acc *models.Account) (string, time.Time, error)
	MintRefreshToken() (string, error)
	ParseAccessToken(token string) (*models.UserClaims, error)
	ParseExpiredToken(token string) (*models.UserClaims, error)
}

// CleanupReport counts the rows removed by one Cleanup run.
type CleanupReport struct {
	Swept  int64
	Purged int64
}

// AuthService runs the token lifecycle: issuing pairs on login, single-use
// rotation on refresh, revocation and expiry cleanup. It holds no mutable
// state and is safe for concurrent use; atomicity of rotation lives in the
// refresh token store.
type AuthService struct {
	db               dbx.DBTX
	repomanager      repomanager.RepositoryManager
	identity         IdentityStore
	codec            TokenCodec
	refreshTTL       time.Duration
	revokedRetention time.Duration
	archive          refreshtokens.ArchiveFunc
	clock            clock.Clock
	logger           logging.Logger
}

// AuthSettings are the lifecycle parameters of an AuthService.
type AuthSettings struct {
	RefreshTTL time.Duration
	// RevokedRetention > 0 makes Cleanup purge revoked rows that expired
	// more than RevokedRetention ago.
	RevokedRetention time.Duration
	// Archive, when set, receives purged rows before they are deleted.
	Archive refreshtokens.ArchiveFunc
}

func NewAuthService(db dbx.DBTX, rm repomanager.RepositoryManager, identity IdentityStore, codec TokenCodec,
	settings AuthSettings, clk clock.Clock, l logging.Logger) *AuthService {
	return &AuthService{
		db:               db,
		repomanager:      rm,
		identity:         identity,
		codec:            codec,
		refreshTTL:       settings.RefreshTTL,
		revokedRetention: settings.RevokedRetention,
		archive:          settings.Archive,
		clock:            clk,
		logger:           l.With("module", "auth"),
	}
}

// Login checks credentials and issues a new token pair. Unknown email, wrong
// password and inactive account all yield common.ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, email, password string) (*models.TokenPair, error) {
	acc, err := s.identity.VerifyCredentials(ctx, email, password)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.logger.Info(ctx, "login rejected")
			return nil, common.ErrInvalidCredentials
		}
		return nil, common.ErrorInternal
	}
	if !acc.IsActive {
		s.logger.Info(ctx, "login rejected", "user_id", acc.ID, "reason", common.ErrAccountInactive)
		return nil, common.ErrInvalidCredentials
	}

	pair, err := s.issue(ctx, acc)
	if err != nil {
		return nil, err
	}

	s.identity.RecordLogin(ctx, acc)
	s.logger.Info(ctx, "login succeeded", "user_id", acc.ID)
	return pair, nil
}

// Register creates an account and issues its first token pair.
func (s *AuthService) Register(ctx context.Context, in models.NewAccount) (*models.TokenPair, error) {
	acc, err := s.identity.CreateAccount(ctx, in)
	if err != nil {
		if errors.Is(err, common.ErrDuplicateAccount) || errors.Is(err, common.ErrValidation) {
			return nil, err
		}
		return nil, common.ErrorInternal
	}
	return s.issue(ctx, acc)
}

// Refresh redeems a refresh token exactly once and returns a new pair. The
// presented token is revoked and replaced atomically. Any authentication
// failure is common.ErrInvalidRefreshToken.
func (s *AuthService) Refresh(ctx context.Context, value string) (*models.TokenPair, error) {
	if value == "" {
		return nil, common.ErrInvalidRefreshToken
	}

	repo := s.repomanager.RefreshTokens(s.db)
	now := s.clock.Now()

	stored, err := repo.GetByToken(ctx, value)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidRefreshToken
		}
		s.logger.Error(ctx, "refresh token lookup failed", "error", err)
		return nil, common.ErrorInternal
	}
	if !stored.IsActive(now) {
		s.logger.Info(ctx, "refresh rejected", "user_id", stored.UserID, "revoked", stored.IsRevoked)
		return nil, common.ErrInvalidRefreshToken
	}

	acc, err := s.identity.FindByID(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidRefreshToken
		}
		return nil, common.ErrorInternal
	}
	if !acc.IsActive {
		s.logger.Info(ctx, "refresh rejected", "user_id", acc.ID, "reason", common.ErrAccountInactive)
		return nil, common.ErrInvalidRefreshToken
	}

	pair, next, err := s.mint(ctx, acc, now)
	if err != nil {
		return nil, err
	}

	if err := repo.Rotate(ctx, value, next, now); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.logger.Info(ctx, "refresh lost rotation race", "user_id", acc.ID)
			return nil, common.ErrInvalidRefreshToken
		}
		s.logger.Error(ctx, "refresh token rotation failed", "user_id", acc.ID, "error", err)
		return nil, common.ErrorInternal
	}

	s.logger.Info(ctx, "refresh token rotated", "user_id", acc.ID)
	return pair, nil
}

// RevokeOne revokes a single refresh token. Unknown or already revoked
// values succeed silently.
func (s *AuthService) RevokeOne(ctx context.Context, value string) error {
	if value == "" {
		return nil
	}
	if err := s.repomanager.RefreshTokens(s.db).Revoke(ctx, value, s.clock.Now()); err != nil {
		s.logger.Error(ctx, "refresh token revoke failed", "error", err)
		return common.ErrorInternal
	}
	return nil
}

// RevokeAll revokes every outstanding refresh token of userID.
func (s *AuthService) RevokeAll(ctx context.Context, userID string) (int64, error) {
	n, err := s.repomanager.RefreshTokens(s.db).RevokeAllForUser(ctx, userID, s.clock.Now())
	if err != nil {
		s.logger.Error(ctx, "revoke all failed", "user_id", userID, "error", err)
		return 0, common.ErrorInternal
	}
	s.logger.Info(ctx, "revoked all refresh tokens", "user_id", userID, "count", n)
	return n, nil
}

// Cleanup deletes expired, non-revoked tokens and, when a retention is
// configured, purges revoked tokens past it.
func (s *AuthService) Cleanup(ctx context.Context) (CleanupReport, error) {
	var report CleanupReport
	repo := s.repomanager.RefreshTokens(s.db)
	now := s.clock.Now()

	swept, err := repo.SweepExpired(ctx, now)
	if err != nil {
		s.logger.Error(ctx, "sweep of expired refresh tokens failed", "error", err)
		return report, common.ErrorInternal
	}
	report.Swept = swept

	if s.revokedRetention > 0 {
		purged, err := repo.PurgeRevoked(ctx, now.Add(-s.revokedRetention), s.archive)
		if err != nil {
			s.logger.Error(ctx, "purge of revoked refresh tokens failed", "error", err)
			return report, common.ErrorInternal
		}
		report.Purged = purged
	}

	s.logger.Info(ctx, "refresh token cleanup finished", "swept", report.Swept, "purged", report.Purged)
	return report, nil
}

// CurrentUser returns the identity of a valid access token.
func (s *AuthService) CurrentUser(accessToken string) (*models.UserClaims, error) {
	return s.codec.ParseAccessToken(accessToken)
}

// IdentityFromExpired returns the identity of a correctly signed access
// token whose expiry has passed.
func (s *AuthService) IdentityFromExpired(accessToken string) (*models.UserClaims, error) {
	return s.codec.ParseExpiredToken(accessToken)
}

// ActiveSessions lists the refresh tokens of userID that can still be redeemed.
func (s *AuthService) ActiveSessions(ctx context.Context, userID string) ([]models.RefreshToken, error) {
	tokens, err := s.repomanager.RefreshTokens(s.db).ListActiveForUser(ctx, userID, s.clock.Now())
	if err != nil {
		s.logger.Error(ctx, "listing sessions failed", "user_id", userID, "error", err)
		return nil, common.ErrorInternal
	}
	return tokens, nil
}

// issue mints a pair for acc and persists its refresh token. Nothing is
// written unless both tokens were minted.
func (s *AuthService) issue(ctx context.Context, acc *models.Account) (*models.TokenPair, error) {
	pair, tok, err := s.mint(ctx, acc, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := s.repomanager.RefreshTokens(s.db).Add(ctx, tok); err != nil {
		s.logger.Error(ctx, "refresh token store failed", "user_id", acc.ID, "error", err)
		return nil, common.ErrorInternal
	}
	return pair, nil
}

func (s *AuthService) mint(ctx context.Context, acc *models.Account, now time.Time) (*models.TokenPair, *models.RefreshToken, error) {
	access, accessExp, err := s.codec.MintAccessToken(acc)
	if err != nil {
		s.logger.Error(ctx, "access token mint failed", "user_id", acc.ID, "error", err)
		return nil, nil, common.ErrorInternal
	}
	value, err := s.codec.MintRefreshToken()
	if err != nil {
		s.logger.Error(ctx, "refresh token mint failed", "user_id", acc.ID, "error", err)
		return nil, nil, common.ErrorInternal
	}

	tok := &models.RefreshToken{
		ID:        uuid.NewString(),
		Token:     value,
		UserID:    acc.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.refreshTTL),
	}
	pair := &models.TokenPair{
		AccessToken:           access,
		AccessTokenExpiresAt:  accessExp,
		RefreshToken:          value,
		RefreshTokenExpiresAt: tok.ExpiresAt,
	}
	return pair, tok, nil
}
