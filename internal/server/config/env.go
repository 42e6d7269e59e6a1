package config

import "strconv"

// parseEnv overrides connection settings and secrets from the environment,
// so they do not have to live in a config file.
func parseEnv(c *Config, lookup func(string) (string, bool)) {
	strs := map[string]*string{
		"DATABASE_DSN":     &c.DatabaseDSN,
		"SECRET_KEY":       &c.SecretKey,
		"REDIS_ADDR":       &c.RedisAddr,
		"REDIS_PASSWORD":   &c.RedisPassword,
		"S3_ROOT_USER":     &c.S3RootUser,
		"S3_ROOT_PASSWORD": &c.S3RootPassword,
	}
	for name, dst := range strs {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("REDIS_DB"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.RedisDB = n
		}
	}
}
