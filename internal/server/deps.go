package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/sessionkeeper/internal/dbx"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/archive"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/auth"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/cache"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/config"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/password"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/services"
	"github.com/redis/go-redis/v9"

	gs "github.com/dmitrijs2005/sessionkeeper/internal/server/grpc"
)

const cacheKeyPrefix = "sessionkeeper:"

// Deps is the wired service graph shared by the server and the operator CLI.
type Deps struct {
	Clock    clock.Clock
	DB       *sql.DB
	Repos    repomanager.RepositoryManager
	Codec    *auth.Codec
	Accounts *services.AccountService
	Auth     *services.AuthService
	// Probes gate the gRPC health status.
	Probes []gs.Probe

	closers []func() error
}

// passwordParams is a seam for tests, which use cheaper argon2 settings.
var passwordParams = password.DefaultParams

// Build opens storage and the cache and wires the services. Without a
// DatabaseDSN the repositories live in memory; without a RedisAddr profile
// caching is disabled; without an S3Bucket purged rows are not archived.
func Build(ctx context.Context, cfg *config.Config, logger logging.Logger) (*Deps, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	d := &Deps{Clock: clock.New()}
	built := false
	defer func() {
		if !built {
			_ = d.Close()
		}
	}()

	if cfg.DatabaseDSN != "" {
		db, err := repomanager.OpenPostgres(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		d.DB = db
		d.closers = append(d.closers, db.Close)

		rm := repomanager.NewPostgresRepositoryManager()
		if err := rm.RunMigrations(ctx, db); err != nil {
			return nil, fmt.Errorf("migrations error: %w", err)
		}
		d.Repos = rm
		d.Probes = append(d.Probes, db.PingContext)
	} else {
		logger.Warn(ctx, "no database configured, using in-memory storage")
		d.Repos = repomanager.NewMemoryRepositoryManager()
	}

	var c cache.Cache = cache.NopCache{}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		d.closers = append(d.closers, client.Close)
		rc := cache.NewRedisCache(client, cacheKeyPrefix, logger)
		if err := rc.Ping(ctx); err != nil {
			logger.Warn(ctx, "redis unreachable, continuing without cache hits", "addr", cfg.RedisAddr, "error", err)
		}
		c = rc
	}

	hasher, err := password.NewHasher(passwordParams)
	if err != nil {
		return nil, err
	}

	d.Codec, err = auth.NewCodec(auth.CodecConfig{
		Secret:    []byte(cfg.SecretKey),
		Issuer:    cfg.TokenIssuer,
		Audience:  cfg.TokenAudience,
		AccessTTL: cfg.AccessTokenValidityDuration,
	}, d.Clock)
	if err != nil {
		return nil, err
	}

	var archiveFn refreshtokens.ArchiveFunc
	if cfg.S3Bucket != "" {
		a, err := archive.NewS3Archiver(ctx, archive.Settings{
			User:         cfg.S3RootUser,
			Password:     cfg.S3RootPassword,
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			BaseEndpoint: cfg.S3BaseEndpoint,
			Prefix:       cfg.S3Prefix,
		}, d.Clock)
		if err != nil {
			return nil, err
		}
		archiveFn = a.Archive
	}

	// a nil *sql.DB must not reach the services as a non-nil interface
	var db dbx.DBTX
	if d.DB != nil {
		db = d.DB
	}

	d.Accounts = services.NewAccountService(db, d.Repos, hasher, c, cfg.UserCacheTTL, d.Clock, logger)
	d.Auth = services.NewAuthService(db, d.Repos, d.Accounts, d.Codec, services.AuthSettings{
		RefreshTTL:       cfg.RefreshTokenValidityDuration,
		RevokedRetention: cfg.RevokedRetention,
		Archive:          archiveFn,
	}, d.Clock, logger)

	built = true
	return d, nil
}

// Close releases the database pool and the Redis client.
func (d *Deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	d.closers = nil
	return errors.Join(errs...)
}
