package services

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/dbx"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/auth"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/cache"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/password"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogin_IssuesPair(t *testing.T) {
	f := newFixture(t, AuthSettings{})
	ctx := context.Background()
	acc := f.register(t, "u1@example.com")

	pair, err := f.auth.Login(ctx, "U1@Example.com ", testPass)
	require.NoError(t, err)
	assert.Equal(t, base.Add(accessTTL).Unix(), pair.AccessTokenExpiresAt.Unix())
	assert.Equal(t, base.Add(refreshTTL), pair.RefreshTokenExpiresAt)

	claims, err := f.auth.CurrentUser(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, acc.ID, claims.UserID)
	assert.Equal(t, "u1@example.com", claims.Email)

	stored, err := f.rm.RefreshTokens(nil).GetByToken(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, acc.ID, stored.UserID)
	assert.False(t, stored.IsRevoked)

	got, err := f.accounts.FindByID(ctx, acc.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastLoginAt)
	assert.Equal(t, base, *got.LastLoginAt)
}

func TestLogin_Rejections(t *testing.T) {
	f := newFixture(t, AuthSettings{})
	ctx := context.Background()
	acc := f.register(t, "u1@example.com")
	require.NoError(t, f.accounts.Deactivate(ctx, acc.ID))
	f.register(t, "u2@example.com")

	tests := []struct {
		name  string
		email string
		pass  string
	}{
		{"unknown email", "nobody@example.com", testPass},
		{"wrong password", "u2@example.com", "wrong password!"},
		{"inactive account", "u1@example.com", testPass},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pair, err := f.auth.Login(ctx, tt.email, tt.pass)
			assert.Nil(t, pair)
			assert.ErrorIs(t, err, common.ErrInvalidCredentials)
		})
	}
}

func TestRegister(t *testing.T) {
	f := newFixture(t, AuthSettings{})
	ctx := context.Background()

	pair, err := f.auth.Register(ctx, models.NewAccount{Email: "new@example.com", Password: testPass, FirstName: "A", LastName: "B"})
	require.NoError(t, err)
	require.NotEmpty(t, pair.RefreshToken)

	_, err = f.auth.Register(ctx, models.NewAccount{Email: "NEW@example.com", Password: testPass, FirstName: "A", LastName: "B"})
	assert.ErrorIs(t, err, common.ErrDuplicateAccount)

	_, err = f.auth.Register(ctx, models.NewAccount{Email: "short@example.com", Password: "short", FirstName: "A", LastName: "B"})
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestRefresh_RotatesSingleUse(t *testing.T) {
	f := newFixture(t, AuthSettings{})
	ctx := context.Background()
	acc := f.register(t, "u1@example.com")

	first, err := f.auth.Login(ctx, "u1@example.com", testPass)
	require.NoError(t, err)

	f.clock.Add(time.Hour)
	second, err := f.auth.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, base.Add(time.Hour).Add(refreshTTL), second.RefreshTokenExpiresAt)

	claims, err := f.auth.CurrentUser(second.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, acc.ID, claims.UserID)

	old, err := f.rm.RefreshTokens(nil).GetByToken(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.True(t, old.IsRevoked)
	require.NotNil(t, old.RevokedAt)
	assert.Equal(t, base.Add(time.Hour), *old.RevokedAt)

	_, err = f.auth.Refresh(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidRefreshToken)

	// the successor is unaffected by the replay
	_, err = f.auth.Refresh(ctx, second.RefreshToken)
	require.NoError(t, err)
}

func TestRefresh_Rejections(t *testing.T) {
	f := newFixture(t, AuthSettings{})
	ctx := context.Background()
	f.register(t, "u1@example.com")

	_, err := f.auth.Refresh(ctx, "")
	assert.ErrorIs(t, err, common.ErrInvalidRefreshToken)

	_, err = f.auth.Refresh(ctx, "never-issued")
	assert.ErrorIs(t, err, common.ErrInvalidRefreshToken)

	pair, err := f.auth.Login(ctx, "u1@example.com", testPass)
	require.NoError(t, err)
	require.NoError(t, f.auth.RevokeOne(ctx, pair.RefreshToken))
	_, err = f.auth.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidRefreshToken)
}

func TestRefresh_ExpiryBoundary(t *testing.T) {
	f := newFixture(t, AuthSettings{})
	ctx := context.Background()
	f.register(t, "u1@example.com")

	pair, err := f.auth.Login(ctx, "u1@example.com", testPass)
	require.NoError(t, err)

	// expiry equal to now counts as expired
	f.clock.Add(refreshTTL)
	_, err = f.auth.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidRefreshToken)
}

func TestRefresh_JustBeforeExpiry(t *testing.T) {
	f := newFixture(t, AuthSettings{})
	ctx := context.Background()
	f.register(t, "u1@example.com")

	pair, err := f.auth.Login(ctx, "u1@example.com", testPass)
	require.NoError(t, err)

	f.clock.Add(refreshTTL - time.Second)
	_, err = f.auth.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
}

func TestRefresh_DeactivatedAccount(t *testing.T) {
	f := newFixture(t, AuthSettings{})
	ctx := context.Background()
	acc := f.register(t, "u1@example.com")

	pair, err := f.auth.Login(ctx, "u1@example.com", testPass)
	require.NoError(t, err)

	require.NoError(t, f.accounts.Deactivate(ctx, acc.ID))
	_, err = f.auth.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidRefreshToken)

	// reactivation does not resurrect revoked tokens
	require.NoError(t, f.accounts.Activate(ctx, acc.ID))
	_, err = f.auth.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidRefreshToken)

	_, err = f.auth.Login(ctx, "u1@example.com", testPass)
	require.NoError(t, err)
}

func TestRefresh_ConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t, AuthSettings{})
	ctx := context.Background()
	f.register(t, "u1@example.com")

	pair, err := f.auth.Login(ctx, "u1@example.com", testPass)
	require.NoError(t, err)

	const n = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		invalid int
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.auth.Refresh(ctx, pair.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, common.ErrInvalidRefreshToken):
				invalid++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, invalid)
}

func TestRevokeOne_Idempotent(t *testing.T) {
	f := newFixture(t, AuthSettings{})
	ctx := context.Background()
	f.register(t, "u1@example.com")

	pair, err := f.auth.Login(ctx, "u1@example.com", testPass)
	require.NoError(t, err)

	require.NoError(t, f.auth.RevokeOne(ctx, pair.RefreshToken))
	first, err := f.rm.RefreshTokens(nil).GetByToken(ctx, pair.RefreshToken)
	require.NoError(t, err)

	f.clock.Add(time.Minute)
	require.NoError(t, f.auth.RevokeOne(ctx, pair.RefreshToken))
	second, err := f.rm.RefreshTokens(nil).GetByToken(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, first.RevokedAt, second.RevokedAt)

	require.NoError(t, f.auth.RevokeOne(ctx, "unknown"))
	require.NoError(t, f.auth.RevokeOne(ctx, ""))
}

func TestRevokeAll_IsolatesUsers(t *testing.T) {
	f := newFixture(t, AuthSettings{})
	ctx := context.Background()
	u1 := f.register(t, "u1@example.com")
	u2 := f.register(t, "u2@example.com")

	var u1Pairs []*models.TokenPair
	for i := 0; i < 3; i++ {
		p, err := f.auth.Login(ctx, "u1@example.com", testPass)
		require.NoError(t, err)
		u1Pairs = append(u1Pairs, p)
	}
	other, err := f.auth.Login(ctx, "u2@example.com", testPass)
	require.NoError(t, err)

	n, err := f.auth.RevokeAll(ctx, u1.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	for _, p := range u1Pairs {
		_, err := f.auth.Refresh(ctx, p.RefreshToken)
		assert.ErrorIs(t, err, common.ErrInvalidRefreshToken)
	}

	sessions, err := f.auth.ActiveSessions(ctx, u2.ID)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	_, err = f.auth.Refresh(ctx, other.RefreshToken)
	require.NoError(t, err)

	n, err = f.auth.RevokeAll(ctx, u1.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCleanup_SweepsExpiredKeepsRevoked(t *testing.T) {
	f := newFixture(t, AuthSettings{})
	ctx := context.Background()
	acc := f.register(t, "u1@example.com")

	expiring, err := f.auth.Login(ctx, "u1@example.com", testPass)
	require.NoError(t, err)
	revoked, err := f.auth.Login(ctx, "u1@example.com", testPass)
	require.NoError(t, err)
	require.NoError(t, f.auth.RevokeOne(ctx, revoked.RefreshToken))

	f.clock.Add(refreshTTL)
	fresh, err := f.auth.Login(ctx, "u1@example.com", testPass)
	require.NoError(t, err)

	report, err := f.auth.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, CleanupReport{Swept: 1}, report)

	repo := f.rm.RefreshTokens(nil)
	_, err = repo.GetByToken(ctx, expiring.RefreshToken)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	_, err = repo.GetByToken(ctx, revoked.RefreshToken)
	require.NoError(t, err)

	sessions, err := f.auth.ActiveSessions(ctx, acc.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, fresh.RefreshToken, sessions[0].Token)
}

func TestCleanup_PurgesRevokedPastRetention(t *testing.T) {
	var archived []models.RefreshToken
	archive := func(_ context.Context, tokens []models.RefreshToken) error {
		archived = append(archived, tokens...)
		return nil
	}
	f := newFixture(t, AuthSettings{RevokedRetention: 24 * time.Hour, Archive: archive})
	ctx := context.Background()
	f.register(t, "u1@example.com")

	revoked, err := f.auth.Login(ctx, "u1@example.com", testPass)
	require.NoError(t, err)
	require.NoError(t, f.auth.RevokeOne(ctx, revoked.RefreshToken))

	f.clock.Add(refreshTTL)
	report, err := f.auth.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, CleanupReport{}, report)

	f.clock.Add(24 * time.Hour)
	report, err = f.auth.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, CleanupReport{Purged: 1}, report)
	require.Len(t, archived, 1)
	assert.Equal(t, revoked.RefreshToken, archived[0].Token)
}

func TestCleanup_ArchiveFailureKeepsRows(t *testing.T) {
	archive := func(context.Context, []models.RefreshToken) error { return errors.New("s3 down") }
	f := newFixture(t, AuthSettings{RevokedRetention: time.Hour, Archive: archive})
	ctx := context.Background()
	f.register(t, "u1@example.com")

	revoked, err := f.auth.Login(ctx, "u1@example.com", testPass)
	require.NoError(t, err)
	require.NoError(t, f.auth.RevokeOne(ctx, revoked.RefreshToken))

	f.clock.Add(refreshTTL + 2*time.Hour)
	_, err = f.auth.Cleanup(ctx)
	assert.ErrorIs(t, err, common.ErrorInternal)

	_, err = f.rm.RefreshTokens(nil).GetByToken(ctx, revoked.RefreshToken)
	require.NoError(t, err)
}

func TestIdentityFromExpired(t *testing.T) {
	f := newFixture(t, AuthSettings{})
	ctx := context.Background()
	acc := f.register(t, "u1@example.com")

	pair, err := f.auth.Login(ctx, "u1@example.com", testPass)
	require.NoError(t, err)

	f.clock.Add(accessTTL)
	_, err = f.auth.CurrentUser(pair.AccessToken)
	assert.ErrorIs(t, err, common.ErrInvalidToken)

	claims, err := f.auth.IdentityFromExpired(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, acc.ID, claims.UserID)

	_, err = f.auth.IdentityFromExpired("garbage")
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

// --- failure injection ---

var errDB = errors.New("db error: connection reset")

type failingTokens struct {
	refreshtokens.Repository
}

func (failingTokens) Add(context.Context, *models.RefreshToken) error { return errDB }
func (failingTokens) GetByToken(context.Context, string) (*models.RefreshToken, error) {
	return nil, errDB
}
func (failingTokens) Revoke(context.Context, string, time.Time) error { return errDB }
func (failingTokens) RevokeAllForUser(context.Context, string, time.Time) (int64, error) {
	return 0, errDB
}
func (failingTokens) SweepExpired(context.Context, time.Time) (int64, error) { return 0, errDB }
func (failingTokens) ListActiveForUser(context.Context, string, time.Time) ([]models.RefreshToken, error) {
	return nil, errDB
}

type failingRepoManager struct {
	*repomanager.MemoryRepositoryManager
}

func (failingRepoManager) RefreshTokens(dbx.DBTX) refreshtokens.Repository { return failingTokens{} }

func TestStorageFailure_IsOpaque(t *testing.T) {
	f := newFixture(t, AuthSettings{})
	ctx := context.Background()
	acc := f.register(t, "u1@example.com")

	svc := NewAuthService(nil, failingRepoManager{f.rm}, f.accounts, f.codec, AuthSettings{RefreshTTL: refreshTTL}, f.clock, logging.Nop())

	_, err := svc.Login(ctx, "u1@example.com", testPass)
	assert.ErrorIs(t, err, common.ErrorInternal)
	assert.NotErrorIs(t, err, errDB)

	_, err = svc.Refresh(ctx, "anything")
	assert.ErrorIs(t, err, common.ErrorInternal)

	assert.ErrorIs(t, svc.RevokeOne(ctx, "anything"), common.ErrorInternal)

	_, err = svc.RevokeAll(ctx, acc.ID)
	assert.ErrorIs(t, err, common.ErrorInternal)

	_, err = svc.Cleanup(ctx)
	assert.ErrorIs(t, err, common.ErrorInternal)

	_, err = svc.ActiveSessions(ctx, acc.ID)
	assert.ErrorIs(t, err, common.ErrorInternal)
}

type flakyCodec struct {
	*auth.Codec
	failRefresh bool
}

func (c *flakyCodec) MintRefreshToken() (string, error) {
	if c.failRefresh {
		return "", errors.New("entropy exhausted")
	}
	return c.Codec.MintRefreshToken()
}

func TestMintFailure_PersistsNothing(t *testing.T) {
	f := newFixture(t, AuthSettings{})
	ctx := context.Background()
	acc := f.register(t, "u1@example.com")

	pair, err := f.auth.Login(ctx, "u1@example.com", testPass)
	require.NoError(t, err)

	codec := &flakyCodec{Codec: f.codec, failRefresh: true}
	svc := NewAuthService(nil, f.rm, f.accounts, codec, AuthSettings{RefreshTTL: refreshTTL}, f.clock, logging.Nop())

	_, err = svc.Login(ctx, "u1@example.com", testPass)
	assert.ErrorIs(t, err, common.ErrorInternal)

	_, err = svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, common.ErrorInternal)

	// the presented token survives a failed refresh
	sessions, err := f.auth.ActiveSessions(ctx, acc.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, pair.RefreshToken, sessions[0].Token)
}

// --- postgres wiring ---

func TestRefresh_Postgres(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	clk := clock.NewMock()
	clk.Set(base)
	h, err := password.NewHasher(testParams)
	require.NoError(t, err)
	codec, err := auth.NewCodec(auth.CodecConfig{Secret: []byte("k"), Issuer: "i", Audience: "a", AccessTTL: accessTTL}, clk)
	require.NoError(t, err)

	rm := repomanager.NewPostgresRepositoryManager()
	accounts := NewAccountService(db, rm, h, cache.NopCache{}, time.Minute, clk, logging.Nop())
	svc := NewAuthService(db, rm, accounts, codec, AuthSettings{RefreshTTL: refreshTTL}, clk, logging.Nop())

	mock.ExpectQuery(`(?s)^SELECT .* FROM refresh_tokens\s+WHERE token_hash = \$1`).
		WithArgs(common.HashToken("presented")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "created_at", "expires_at", "is_revoked", "revoked_at"}).
			AddRow("t1", "u1", base.Add(-time.Hour), base.Add(time.Hour), false, nil))
	mock.ExpectQuery(`(?s)^SELECT .* FROM users WHERE id = \$1`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "first_name", "last_name", "password_hash", "is_active", "created_at", "last_login_at"}).
			AddRow("u1", "u1@example.com", "Ada", "Lovelace", "hash", true, base, nil))
	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)^UPDATE\s+refresh_tokens\s+SET is_revoked = TRUE.*RETURNING user_id`).
		WithArgs(common.HashToken("presented"), base).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow("u1"))
	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+refresh_tokens`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	pair, err := svc.Refresh(context.Background(), "presented")
	require.NoError(t, err)
	assert.NotEqual(t, "presented", pair.RefreshToken)
	assert.Equal(t, base.Add(refreshTTL), pair.RefreshTokenExpiresAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRefresh_PostgresLostRace(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	clk := clock.NewMock()
	clk.Set(base)
	codec, err := auth.NewCodec(auth.CodecConfig{Secret: []byte("k"), Issuer: "i", Audience: "a", AccessTTL: accessTTL}, clk)
	require.NoError(t, err)

	rm := repomanager.NewPostgresRepositoryManager()
	identity := &staticIdentity{acc: &models.Account{ID: "u1", Email: "u1@example.com", IsActive: true}}
	svc := NewAuthService(db, rm, identity, codec, AuthSettings{RefreshTTL: refreshTTL}, clk, logging.Nop())

	mock.ExpectQuery(`(?s)^SELECT .* FROM refresh_tokens`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "created_at", "expires_at", "is_revoked", "revoked_at"}).
			AddRow("t1", "u1", base.Add(-time.Hour), base.Add(time.Hour), false, nil))
	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)^UPDATE\s+refresh_tokens.*RETURNING user_id`).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err = svc.Refresh(context.Background(), "presented")
	assert.ErrorIs(t, err, common.ErrInvalidRefreshToken)
	require.NoError(t, mock.ExpectationsWereMet())
}

type staticIdentity struct {
	acc *models.Account
}

func (s *staticIdentity) VerifyCredentials(context.Context, string, string) (*models.Account, error) {
	return s.acc, nil
}
func (s *staticIdentity) CreateAccount(context.Context, models.NewAccount) (*models.Account, error) {
	return s.acc, nil
}
func (s *staticIdentity) FindByID(context.Context, string) (*models.Account, error) {
	return s.acc, nil
}
func (s *staticIdentity) RecordLogin(context.Context, *models.Account) {}
