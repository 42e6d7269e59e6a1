// Package config handles configuration for the sessionkeeper server:
// defaults, an optional JSON or YAML file, environment overrides for
// secrets, and finally command-line flags.
package config

import (
	"errors"
	"os"
	"time"
)

// Config holds runtime settings for the server.
//
// Token lifetimes, the cleanup cadence and the signing parameters are read
// once at startup and treated as immutable afterwards.
type Config struct {
	EndpointAddrGRPC string
	DatabaseDSN      string

	SecretKey                    string
	TokenIssuer                  string
	TokenAudience                string
	AccessTokenValidityDuration  time.Duration
	RefreshTokenValidityDuration time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	UserCacheTTL  time.Duration

	CleanupInterval      time.Duration
	CleanupRetryInterval time.Duration
	// RevokedRetention > 0 enables purging revoked rows whose expiry is older
	// than now-RevokedRetention. Zero keeps them forever.
	RevokedRetention    time.Duration
	HealthProbeInterval time.Duration

	LogFormat string
	LogLevel  string

	S3RootUser     string
	S3RootPassword string
	S3Bucket       string
	S3Region       string
	S3BaseEndpoint string
	S3Prefix       string
}

// LoadDefaults populates Config with development defaults.
// NOTE: the secret key is insecure and must be overridden in production.
func (c *Config) LoadDefaults() {
	c.EndpointAddrGRPC = ":50051"
	c.DatabaseDSN = ""
	c.SecretKey = "secretKey"
	c.TokenIssuer = "sessionkeeper"
	c.TokenAudience = "sessionkeeper-clients"
	c.AccessTokenValidityDuration = 15 * time.Minute
	c.RefreshTokenValidityDuration = 7 * 24 * time.Hour
	c.RedisAddr = ""
	c.RedisDB = 0
	c.UserCacheTTL = 30 * time.Minute
	c.CleanupInterval = 24 * time.Hour
	c.CleanupRetryInterval = 30 * time.Minute
	c.RevokedRetention = 0
	c.HealthProbeInterval = 10 * time.Second
	c.LogFormat = "json"
	c.LogLevel = "info"
	c.S3Region = "us-east-1"
	c.S3Prefix = "revoked-refresh-tokens"
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.SecretKey == "" {
		errs = append(errs, errors.New("secret key must not be empty"))
	}
	if c.AccessTokenValidityDuration <= 0 {
		errs = append(errs, errors.New("access token validity must be positive"))
	}
	if c.RefreshTokenValidityDuration <= 0 {
		errs = append(errs, errors.New("refresh token validity must be positive"))
	}
	if c.CleanupInterval <= 0 || c.CleanupRetryInterval <= 0 {
		errs = append(errs, errors.New("cleanup intervals must be positive"))
	}
	if c.RevokedRetention < 0 {
		errs = append(errs, errors.New("revoked retention must not be negative"))
	}
	return errors.Join(errs...)
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional config file, the environment and command-line flags.
func LoadConfig() *Config {
	return loadFrom(os.Args[1:], os.LookupEnv)
}

// LoadFile builds a Config from defaults, the file at path (skipped when
// empty) and the environment. Command-line flags are not consulted.
func LoadFile(path string) *Config {
	var args []string
	if path != "" {
		args = []string{"-c", path}
	}
	cfg := &Config{}
	cfg.LoadDefaults()
	parseFile(cfg, args)
	parseEnv(cfg, os.LookupEnv)
	return cfg
}

func loadFrom(args []string, lookup func(string) (string, bool)) *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseFile(cfg, args)
	parseEnv(cfg, lookup)
	parseFlags(cfg, args)
	return cfg
}
