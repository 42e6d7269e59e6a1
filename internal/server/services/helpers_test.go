package services

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/auth"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/cache"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/password"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	accessTTL  = 15 * time.Minute
	refreshTTL = 7 * 24 * time.Hour
	testPass   = "correct horse battery"
)

// cheap argon2 parameters keep the tests fast
var testParams = password.Params{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16}

type fixture struct {
	clock    *clock.Mock
	rm       *repomanager.MemoryRepositoryManager
	codec    *auth.Codec
	accounts *AccountService
	auth     *AuthService
}

func newFixture(t *testing.T, settings AuthSettings) *fixture {
	t.Helper()
	return newFixtureWithCache(t, settings, cache.NopCache{})
}

func newFixtureWithCache(t *testing.T, settings AuthSettings, c cache.Cache) *fixture {
	t.Helper()

	clk := clock.NewMock()
	clk.Set(base)

	h, err := password.NewHasher(testParams)
	require.NoError(t, err)

	codec, err := auth.NewCodec(auth.CodecConfig{
		Secret:    []byte("test-secret"),
		Issuer:    "sessionkeeper",
		Audience:  "clients",
		AccessTTL: accessTTL,
	}, clk)
	require.NoError(t, err)

	if settings.RefreshTTL == 0 {
		settings.RefreshTTL = refreshTTL
	}

	rm := repomanager.NewMemoryRepositoryManager()
	accounts := NewAccountService(nil, rm, h, c, time.Minute, clk, logging.Nop())
	return &fixture{
		clock:    clk,
		rm:       rm,
		codec:    codec,
		accounts: accounts,
		auth:     NewAuthService(nil, rm, accounts, codec, settings, clk, logging.Nop()),
	}
}

func (f *fixture) register(t *testing.T, email string) *models.Account {
	t.Helper()
	acc, err := f.accounts.CreateAccount(context.Background(), models.NewAccount{
		Email:     email,
		Password:  testPass,
		FirstName: "Ada",
		LastName:  "Lovelace",
	})
	require.NoError(t, err)
	return acc
}
