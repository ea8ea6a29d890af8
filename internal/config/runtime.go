package config

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/redis/go-redis/v9"
)

// EnvOr returns the named environment variable, or fallback when it is
// unset. Flag defaults route through this so container environments can
// override them without argument plumbing.
func EnvOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// MaskDSN returns a log-safe form of a connection string. URL-style DSNs
// keep host and database with the password redacted; keyword DSNs and
// anything unparseable are hidden entirely.
func MaskDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return "***"
	}
	return u.Redacted()
}

// DialRedis connects to Redis and verifies the connection with a ping.
func DialRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}
