package main

import (
	"net/url"
	"strings"

	"brightcart/internal/live"
	"brightcart/internal/server"
)

// startupSummaryInput collects the resolved runtime configuration so the
// listening log line can describe every backing service in one place.
type startupSummaryInput struct {
	StorageDriver  string
	StoragePath    string
	StorageDSN     string
	SessionConfig  sessionStoreConfig
	RateLimit      server.RateLimitConfig
	FeedDriver     string
	FeedConfig     live.RedisQueueConfig
	CacheEnabled   bool
	AssetsRemote   bool
	OAuthProviders int
}

type startupSummary struct {
	input startupSummaryInput
}

func newStartupSummary(input startupSummaryInput) startupSummary {
	return startupSummary{input: input}
}

// LogArgs renders the summary as slog key/value pairs. Connection strings are
// redacted so credentials never reach the logs.
func (s startupSummary) LogArgs() []any {
	datastore := map[string]any{"driver": s.input.StorageDriver}
	switch s.input.StorageDriver {
	case "json":
		datastore["path"] = s.input.StoragePath
	case "postgres":
		datastore["dsn"] = redactDSN(s.input.StorageDSN)
	}

	session := map[string]any{"driver": s.input.SessionConfig.Driver}
	if s.input.SessionConfig.Driver == "postgres" {
		session["dsn"] = redactDSN(s.input.SessionConfig.DSN)
	}

	login := map[string]any{"driver": "memory"}
	if addr := strings.TrimSpace(s.input.RateLimit.RedisAddr); addr != "" {
		login["driver"] = "redis"
		login["addr"] = addr
	}

	feedDriver := strings.ToLower(strings.TrimSpace(s.input.FeedDriver))
	if feedDriver == "" {
		feedDriver = "memory"
	}
	feed := map[string]any{"driver": feedDriver}
	if feedDriver == "redis" {
		feed["stream"] = s.input.FeedConfig.Stream
		feed["group"] = s.input.FeedConfig.Group
	}

	return []any{
		"datastore", datastore,
		"session_store", session,
		"login_throttle", login,
		"order_feed", feed,
		"cache", map[string]any{"enabled": s.input.CacheEnabled},
		"assets", map[string]any{"remote": s.input.AssetsRemote},
		"oauth", map[string]any{"providers": s.input.OAuthProviders},
	}
}

func redactDSN(dsn string) string {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return ""
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.User == nil {
		return trimmed
	}
	if _, hasPassword := parsed.User.Password(); hasPassword {
		parsed.User = url.UserPassword(parsed.User.Username(), "*****")
	}
	return parsed.String()
}
