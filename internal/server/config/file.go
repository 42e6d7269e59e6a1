package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/flagx"
	"github.com/dmitrijs2005/sessionkeeper/internal/timex"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk shape of the configuration. Pointer and
// timex.Duration fields let a file set only what it mentions.
type FileConfig struct {
	EndpointAddrGRPC             *string         `json:"endpoint_addr_grpc" yaml:"endpoint_addr_grpc"`
	DatabaseDSN                  *string         `json:"database_dsn" yaml:"database_dsn"`
	SecretKey                    *string         `json:"secret_key" yaml:"secret_key"`
	TokenIssuer                  *string         `json:"token_issuer" yaml:"token_issuer"`
	TokenAudience                *string         `json:"token_audience" yaml:"token_audience"`
	AccessTokenValidityDuration  *timex.Duration `json:"access_token_validity_duration" yaml:"access_token_validity_duration"`
	RefreshTokenValidityDuration *timex.Duration `json:"refresh_token_validity_duration" yaml:"refresh_token_validity_duration"`
	RedisAddr                    *string         `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword                *string         `json:"redis_password" yaml:"redis_password"`
	RedisDB                      *int            `json:"redis_db" yaml:"redis_db"`
	UserCacheTTL                 *timex.Duration `json:"user_cache_ttl" yaml:"user_cache_ttl"`
	CleanupInterval              *timex.Duration `json:"cleanup_interval" yaml:"cleanup_interval"`
	CleanupRetryInterval         *timex.Duration `json:"cleanup_retry_interval" yaml:"cleanup_retry_interval"`
	RevokedRetention             *timex.Duration `json:"revoked_retention" yaml:"revoked_retention"`
	HealthProbeInterval          *timex.Duration `json:"health_probe_interval" yaml:"health_probe_interval"`
	LogFormat                    *string         `json:"log_format" yaml:"log_format"`
	LogLevel                     *string         `json:"log_level" yaml:"log_level"`
	S3RootUser                   *string         `json:"s3_root_user" yaml:"s3_root_user"`
	S3RootPassword               *string         `json:"s3_root_password" yaml:"s3_root_password"`
	S3Bucket                     *string         `json:"s3_bucket" yaml:"s3_bucket"`
	S3Region                     *string         `json:"s3_region" yaml:"s3_region"`
	S3BaseEndpoint               *string         `json:"s3_base_endpoint" yaml:"s3_base_endpoint"`
	S3Prefix                     *string         `json:"s3_prefix" yaml:"s3_prefix"`
}

// parseFile loads the file named by -c/-config, choosing the decoder by
// extension (.yaml/.yml, anything else is JSON). It panics when the file
// cannot be read or decoded, since the server must not start half-configured.
func parseFile(config *Config, args []string) {
	path := flagx.ConfigFileFlag(args)
	if path == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	fc := &FileConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, fc)
	default:
		err = json.Unmarshal(data, fc)
	}
	if err != nil {
		panic(err)
	}

	fc.apply(config)
}

func (fc *FileConfig) apply(c *Config) {
	setString(&c.EndpointAddrGRPC, fc.EndpointAddrGRPC)
	setString(&c.DatabaseDSN, fc.DatabaseDSN)
	setString(&c.SecretKey, fc.SecretKey)
	setString(&c.TokenIssuer, fc.TokenIssuer)
	setString(&c.TokenAudience, fc.TokenAudience)
	setDuration(&c.AccessTokenValidityDuration, fc.AccessTokenValidityDuration)
	setDuration(&c.RefreshTokenValidityDuration, fc.RefreshTokenValidityDuration)
	setString(&c.RedisAddr, fc.RedisAddr)
	setString(&c.RedisPassword, fc.RedisPassword)
	if fc.RedisDB != nil {
		c.RedisDB = *fc.RedisDB
	}
	setDuration(&c.UserCacheTTL, fc.UserCacheTTL)
	setDuration(&c.CleanupInterval, fc.CleanupInterval)
	setDuration(&c.CleanupRetryInterval, fc.CleanupRetryInterval)
	setDuration(&c.RevokedRetention, fc.RevokedRetention)
	setDuration(&c.HealthProbeInterval, fc.HealthProbeInterval)
	setString(&c.LogFormat, fc.LogFormat)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.S3RootUser, fc.S3RootUser)
	setString(&c.S3RootPassword, fc.S3RootPassword)
	setString(&c.S3Bucket, fc.S3Bucket)
	setString(&c.S3Region, fc.S3Region)
	setString(&c.S3BaseEndpoint, fc.S3BaseEndpoint)
	setString(&c.S3Prefix, fc.S3Prefix)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
