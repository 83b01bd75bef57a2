// Package cache provides an optional Redis-backed key/value layer. The facade
// degrades to no-ops when Redis is unconfigured or unreachable: every caller
// must stay fully correct (just slower) with caching entirely absent, so a
// read miss and a disabled cache are indistinguishable by design.
package cache

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DefaultTTL applies when Set is called with a non-positive TTL.
const DefaultTTL = time.Hour

// TLSConfig controls TLS behaviour for Redis connections.
type TLSConfig struct {
	CAFile             string
	CertFile           string
	KeyFile            string
	ServerName         string
	InsecureSkipVerify bool
}

// Config describes the Redis backing store. An empty Addr/Addrs set is the
// valid "disabled" configuration, not an error.
type Config struct {
	Addr         string
	Addrs        []string
	Username     string
	Password     string
	DB           int
	MasterName   string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	TLS          TLSConfig
	Logger       *slog.Logger
}

// Cache wraps a Redis client with serialize-on-write, deserialize-on-read
// semantics. The zero value and nil are both usable disabled facades.
type Cache struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// New connects to Redis using the provided configuration. When no address is
// configured, or the initial ping fails, the returned facade is disabled and
// every operation reports its no-op result. Failures are logged, never
// returned: an absent cache is not an error.
func New(cfg Config) *Cache {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return &Cache{logger: logger}
	}
	tlsConfig, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		logger.Warn("cache disabled: invalid redis tls configuration", "error", err)
		return &Cache{logger: logger}
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        addrs,
		MasterName:   strings.TrimSpace(cfg.MasterName),
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		DB:           cfg.DB,
		TLSConfig:    tlsConfig,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   2,
	})
	pingTimeout := cfg.DialTimeout
	if pingTimeout <= 0 {
		pingTimeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("cache disabled: redis unreachable", "error", err)
		_ = client.Close()
		return &Cache{logger: logger}
	}
	return &Cache{client: client, logger: logger}
}

// Enabled reports whether a backing store is connected.
func (c *Cache) Enabled() bool {
	return c != nil && c.client != nil
}

// Set serializes value as JSON and stores it under key with the provided TTL
// (DefaultTTL when ttl <= 0). Returns false without error when the facade is
// disabled or the write fails.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) bool {
	if !c.Enabled() {
		return false
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	payload, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache set skipped: value not serializable", "key", key, "error", err)
		return false
	}
	if err := c.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
		return false
	}
	return true
}

// Get reads key and deserializes the stored JSON into dest. Any miss —
// absent key, expired entry, unreadable payload, disabled facade — returns
// false and leaves dest untouched. "Not cached" is a value, not a failure.
func (c *Cache) Get(ctx context.Context, key string, dest any) bool {
	if !c.Enabled() {
		return false
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache get failed", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		c.logger.Warn("cache entry discarded: payload not deserializable", "key", key, "error", err)
		return false
	}
	return true
}

// Delete removes key from the backing store. Returns false when the facade is
// disabled, the key was absent, or the delete fails.
func (c *Cache) Delete(ctx context.Context, key string) bool {
	if !c.Enabled() {
		return false
	}
	removed, err := c.client.Del(ctx, key).Result()
	if err != nil {
		c.logger.Warn("cache delete failed", "key", key, "error", err)
		return false
	}
	return removed > 0
}

// Close releases the underlying Redis client, if any.
func (c *Cache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Close()
}

func buildTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	if cfg.CAFile == "" && cfg.CertFile == "" && cfg.KeyFile == "" && !cfg.InsecureSkipVerify {
		return nil, nil
	}
	tlsCfg := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.ServerName != "" {
		tlsCfg.ServerName = cfg.ServerName
	}
	if cfg.CAFile != "" {
		pemData, err := os.ReadFile(filepath.Clean(cfg.CAFile))
		if err != nil {
			return nil, fmt.Errorf("read redis tls ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("redis tls ca is invalid")
		}
		tlsCfg.RootCAs = pool
	}
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(filepath.Clean(cfg.CertFile), filepath.Clean(cfg.KeyFile))
		if err != nil {
			return nil, fmt.Errorf("load redis tls certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}
