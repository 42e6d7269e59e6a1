package config

import (
	"flag"
	"io"

	"github.com/dmitrijs2005/sessionkeeper/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string     gRPC bind address (e.g. ":50051")
//	-d string     PostgreSQL DSN; empty selects in-memory storage
//	-s string     JWT HMAC secret key
//	-t duration   access token validity (e.g. "15m")
//	-r duration   refresh token validity (e.g. "168h")
//	-k string     Redis address; empty disables the profile cache
//	-i duration   cleanup interval
//	-l string     log level
//	-b string     S3 bucket for revoked-token archives; empty disables archiving
//
// Args are filtered with flagx.FilterArgs first so flags owned by other
// components do not cause parse errors.
func parseFlags(config *Config, args []string) {
	filtered := flagx.FilterArgs(args, []string{"-a", "-d", "-s", "-t", "-r", "-k", "-i", "-l", "-b"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.DurationVar(&config.AccessTokenValidityDuration, "t", config.AccessTokenValidityDuration, "access token validity")
	fs.DurationVar(&config.RefreshTokenValidityDuration, "r", config.RefreshTokenValidityDuration, "refresh token validity")
	fs.StringVar(&config.RedisAddr, "k", config.RedisAddr, "redis address")
	fs.DurationVar(&config.CleanupInterval, "i", config.CleanupInterval, "cleanup interval")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 archive bucket")

	if err := fs.Parse(filtered); err != nil {
		panic(err)
	}
}
