package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/dbx"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/cache"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/password"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/repomanager"
)

// AccountService owns user accounts: credential checks, registration,
// activation state and the cached profile view.
type AccountService struct {
	db          dbx.DBTX
	repomanager repomanager.RepositoryManager
	hasher      *password.Hasher
	cache       cache.Cache
	cacheTTL    time.Duration
	clock       clock.Clock
	logger      logging.Logger
}

func NewAccountService(db dbx.DBTX, rm repomanager.RepositoryManager, h *password.Hasher, c cache.Cache,
	cacheTTL time.Duration, clk clock.Clock, l logging.Logger) *AccountService {
	if c == nil {
		c = cache.NopCache{}
	}
	return &AccountService{
		db:          db,
		repomanager: rm,
		hasher:      h,
		cache:       c,
		cacheTTL:    cacheTTL,
		clock:       clk,
		logger:      l.With("module", "accounts"),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func userKey(id string) string     { return "user:" + id }
func emailKey(email string) string { return "user:email:" + email }

// VerifyCredentials returns the account matching email and password, or
// common.ErrorNotFound when either is wrong. Inactive accounts are returned
// as found; the caller decides what inactivity means.
func (s *AccountService) VerifyCredentials(ctx context.Context, email, pw string) (*models.Account, error) {
	acc, err := s.repomanager.Users(s.db).GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.hasher.Burn(pw)
			return nil, common.ErrorNotFound
		}
		s.logger.Error(ctx, "account lookup failed", "error", err)
		return nil, common.ErrorInternal
	}

	ok, err := s.hasher.Verify(pw, acc.PasswordHash)
	if err != nil {
		s.logger.Error(ctx, "stored password hash unreadable", "user_id", acc.ID, "error", err)
		return nil, common.ErrorInternal
	}
	if !ok {
		return nil, common.ErrorNotFound
	}
	return acc, nil
}

// CreateAccount validates and stores a new active account.
func (s *AccountService) CreateAccount(ctx context.Context, in models.NewAccount) (*models.Account, error) {
	email := normalizeEmail(in.Email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, fmt.Errorf("%w: invalid email", common.ErrValidation)
	}
	if strings.TrimSpace(in.FirstName) == "" || strings.TrimSpace(in.LastName) == "" {
		return nil, fmt.Errorf("%w: first and last name are required", common.ErrValidation)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		if errors.Is(err, common.ErrValidation) {
			return nil, err
		}
		s.logger.Error(ctx, "password hashing failed", "error", err)
		return nil, common.ErrorInternal
	}

	acc, err := s.repomanager.Users(s.db).Create(ctx, &models.Account{
		Email:        email,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    s.clock.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, common.ErrDuplicateAccount) {
			s.logger.Warn(ctx, "registration with existing email", "email", email)
			return nil, common.ErrDuplicateAccount
		}
		s.logger.Error(ctx, "account create failed", "error", err)
		return nil, common.ErrorInternal
	}

	s.logger.Info(ctx, "account registered", "user_id", acc.ID)
	return acc, nil
}

// FindByID reads the account from the store, bypassing the cache, so that
// activation state is always current.
func (s *AccountService) FindByID(ctx context.Context, id string) (*models.Account, error) {
	acc, err := s.repomanager.Users(s.db).GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		s.logger.Error(ctx, "account lookup failed", "user_id", id, "error", err)
		return nil, common.ErrorInternal
	}
	return acc, nil
}

// UpdateAccount persists acc and drops its cached profile.
func (s *AccountService) UpdateAccount(ctx context.Context, acc *models.Account) error {
	repo := s.repomanager.Users(s.db)

	prev, err := repo.GetByID(ctx, acc.ID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrorNotFound
		}
		s.logger.Error(ctx, "account lookup failed", "user_id", acc.ID, "error", err)
		return common.ErrorInternal
	}

	acc.Email = normalizeEmail(acc.Email)
	if err := repo.Update(ctx, acc); err != nil {
		if errors.Is(err, common.ErrorNotFound) || errors.Is(err, common.ErrDuplicateAccount) {
			return err
		}
		s.logger.Error(ctx, "account update failed", "user_id", acc.ID, "error", err)
		return common.ErrorInternal
	}

	s.cache.Remove(ctx, userKey(acc.ID), emailKey(prev.Email), emailKey(acc.Email))
	return nil
}

// RecordLogin stamps the last-login time. Failures are logged and ignored.
func (s *AccountService) RecordLogin(ctx context.Context, acc *models.Account) {
	now := s.clock.Now().UTC()
	if err := s.repomanager.Users(s.db).TouchLastLogin(ctx, acc.ID, now); err != nil {
		s.logger.Warn(ctx, "last login update failed", "user_id", acc.ID, "error", err)
		return
	}
	acc.LastLoginAt = &now
	s.cache.Remove(ctx, userKey(acc.ID), emailKey(acc.Email))
}

// GetProfile returns the profile of id, served from cache when possible.
func (s *AccountService) GetProfile(ctx context.Context, id string) (*models.UserProfile, error) {
	return s.cachedProfile(ctx, userKey(id), func() (*models.Account, error) {
		return s.repomanager.Users(s.db).GetByID(ctx, id)
	})
}

// GetProfileByEmail returns the profile for email, served from cache when possible.
func (s *AccountService) GetProfileByEmail(ctx context.Context, email string) (*models.UserProfile, error) {
	email = normalizeEmail(email)
	return s.cachedProfile(ctx, emailKey(email), func() (*models.Account, error) {
		return s.repomanager.Users(s.db).GetByEmail(ctx, email)
	})
}

func (s *AccountService) cachedProfile(ctx context.Context, key string, load func() (*models.Account, error)) (*models.UserProfile, error) {
	if b, ok := s.cache.Get(ctx, key); ok {
		p := &models.UserProfile{}
		if err := json.Unmarshal(b, p); err == nil {
			return p, nil
		}
		s.logger.Warn(ctx, "dropping undecodable cache entry", "key", key)
		s.cache.Remove(ctx, key)
	}

	acc, err := load()
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		s.logger.Error(ctx, "profile lookup failed", "key", key, "error", err)
		return nil, common.ErrorInternal
	}

	p := acc.Profile()
	if b, err := json.Marshal(p); err == nil {
		s.cache.Set(ctx, key, b, s.cacheTTL)
	}
	return p, nil
}

// Deactivate disables the account and revokes every refresh token it holds
// in the same transaction, then drops its cached profile.
func (s *AccountService) Deactivate(ctx context.Context, id string) error {
	return s.setActive(ctx, id, false)
}

// Activate re-enables a deactivated account. Revoked tokens stay revoked.
func (s *AccountService) Activate(ctx context.Context, id string) error {
	return s.setActive(ctx, id, true)
}

func (s *AccountService) setActive(ctx context.Context, id string, active bool) error {
	var email string
	var revoked int64

	err := dbx.InTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		users := s.repomanager.Users(tx)
		acc, err := users.GetByID(ctx, id)
		if err != nil {
			return err
		}
		email = acc.Email
		acc.IsActive = active
		if err := users.Update(ctx, acc); err != nil {
			return err
		}
		if !active {
			revoked, err = s.repomanager.RefreshTokens(tx).RevokeAllForUser(ctx, id, s.clock.Now())
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrorNotFound
		}
		s.logger.Error(ctx, "account state change failed", "user_id", id, "active", active, "error", err)
		return common.ErrorInternal
	}

	s.cache.Remove(ctx, userKey(id), emailKey(email))
	s.logger.Info(ctx, "account state changed", "user_id", id, "active", active, "revoked_tokens", revoked)
	return nil
}
