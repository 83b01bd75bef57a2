// Command server starts the BrightCart storefront API HTTP service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"brightcart/internal/api"
	"brightcart/internal/assets"
	"brightcart/internal/auth"
	"brightcart/internal/auth/oauth"
	"brightcart/internal/cache"
	"brightcart/internal/live"
	"brightcart/internal/observability/logging"
	"brightcart/internal/observability/metrics"
	"brightcart/internal/server"
	"brightcart/internal/storage"
)

type keyValueFlag map[string]string

func (kv *keyValueFlag) String() string {
	if kv == nil || len(*kv) == 0 {
		return ""
	}
	parts := make([]string, 0, len(*kv))
	for key, value := range *kv {
		parts = append(parts, fmt.Sprintf("%s=%s", key, value))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func (kv *keyValueFlag) Set(value string) error {
	parts := strings.SplitN(value, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid format %q, expected provider=value", value)
	}
	name := strings.ToLower(strings.TrimSpace(parts[0]))
	if name == "" {
		return fmt.Errorf("provider name is required")
	}
	if *kv == nil {
		*kv = make(map[string]string)
	}
	(*kv)[name] = strings.TrimSpace(parts[1])
	return nil
}

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	sessionStoreDriver := flag.String("session-store", "", "session store driver (memory or postgres)")
	sessionPostgresDSN := flag.String("session-postgres-dsn", "", "Postgres DSN for the session store")
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	loginLimit := flag.Int("rate-login-limit", 0, "maximum login attempts per window for a single IP")
	loginWindow := flag.Duration("rate-login-window", 0, "window for counting login attempts")
	rateRedisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed login throttling")
	rateRedisPassword := flag.String("rate-redis-password", "", "Redis password for distributed login throttling")
	rateRedisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for login throttle Redis operations")
	adminOrigins := flag.String("cors-admin-origins", "", "comma separated origins allowed for the admin dashboard")
	storefrontOrigins := flag.String("cors-storefront-origins", "", "comma separated origins allowed for the storefront UI")
	contentSecurityPolicy := flag.String("security-csp", "", "override the Content-Security-Policy response header")
	frameAncestors := flag.String("security-frame-ancestors", "", "override the frame-ancestors CSP directive")
	cacheRedisAddr := flag.String("cache-redis-addr", "", "Redis address for the catalog cache")
	cacheRedisAddrs := flag.String("cache-redis-addrs", "", "comma separated Redis addresses for the catalog cache")
	cacheRedisUsername := flag.String("cache-redis-username", "", "Redis username for the catalog cache")
	cacheRedisPassword := flag.String("cache-redis-password", "", "Redis password for the catalog cache")
	cacheRedisDB := flag.Int("cache-redis-db", 0, "Redis database index for the catalog cache")
	cacheRedisMasterName := flag.String("cache-redis-sentinel-master", "", "Redis sentinel master name for the catalog cache")
	cacheRedisPoolSize := flag.Int("cache-redis-pool-size", 0, "maximum Redis connections for the catalog cache")
	cacheRedisTLSCA := flag.String("cache-redis-tls-ca", "", "path to Redis TLS CA certificate for the catalog cache")
	cacheRedisTLSCert := flag.String("cache-redis-tls-cert", "", "path to Redis TLS client certificate for the catalog cache")
	cacheRedisTLSKey := flag.String("cache-redis-tls-key", "", "path to Redis TLS client key for the catalog cache")
	cacheRedisTLSServerName := flag.String("cache-redis-tls-server-name", "", "override Redis TLS server name for the catalog cache")
	cacheRedisTLSSkipVerify := flag.Bool("cache-redis-tls-skip-verify", false, "skip Redis TLS verification for the catalog cache")
	assetBucket := flag.String("asset-bucket", "", "object storage bucket for product images")
	assetEndpoint := flag.String("asset-endpoint", "", "object storage endpoint (e.g. http://127.0.0.1:9000)")
	assetPublicEndpoint := flag.String("asset-public-endpoint", "", "public endpoint used for image URLs")
	assetRegion := flag.String("asset-region", "", "object storage region")
	assetAccessKey := flag.String("asset-access-key", "", "object storage access key")
	assetSecretKey := flag.String("asset-secret-key", "", "object storage secret key")
	assetPrefix := flag.String("asset-prefix", "", "object storage key prefix for uploads")
	assetUseSSL := flag.Bool("asset-use-ssl", false, "enable TLS for object storage requests")
	assetMaxFileBytes := flag.Int64("asset-max-file-bytes", 0, "maximum accepted upload size in bytes")
	liveQueueDriver := flag.String("live-queue-driver", "", "live order feed queue driver (memory or redis)")
	liveRedisAddr := flag.String("live-queue-redis-addr", "", "Redis address for live order feed transport")
	liveRedisAddrs := flag.String("live-queue-redis-addrs", "", "comma separated Redis addresses for live order feed transport")
	liveRedisUsername := flag.String("live-queue-redis-username", "", "Redis username for the live order feed")
	liveRedisPassword := flag.String("live-queue-redis-password", "", "Redis password for the live order feed")
	liveRedisStream := flag.String("live-queue-redis-stream", "", "Redis stream key for live order events")
	liveRedisGroup := flag.String("live-queue-redis-group", "", "Redis consumer group for the live order feed")
	liveRedisMasterName := flag.String("live-queue-redis-sentinel-master", "", "Redis sentinel master name for the live order feed")
	liveRedisPoolSize := flag.Int("live-queue-redis-pool-size", 0, "maximum Redis connections for the live order feed")
	liveRedisTLSCA := flag.String("live-queue-redis-tls-ca", "", "path to Redis TLS CA certificate for the live order feed")
	liveRedisTLSCert := flag.String("live-queue-redis-tls-cert", "", "path to Redis TLS client certificate for the live order feed")
	liveRedisTLSKey := flag.String("live-queue-redis-tls-key", "", "path to Redis TLS client key for the live order feed")
	liveRedisTLSServerName := flag.String("live-queue-redis-tls-server-name", "", "override Redis TLS server name for the live order feed")
	liveRedisTLSSkipVerify := flag.Bool("live-queue-redis-tls-skip-verify", false, "skip Redis TLS verification for the live order feed")
	liveHeartbeat := flag.Duration("live-heartbeat-interval", 0, "interval between live feed ping frames")
	oauthProvidersFlag := flag.String("oauth-providers", "", "JSON array or path describing OAuth providers")
	var oauthClientIDs keyValueFlag
	var oauthClientSecrets keyValueFlag
	var oauthRedirects keyValueFlag
	flag.Var(&oauthClientIDs, "oauth-client-id", "override OAuth client ID (provider=value)")
	flag.Var(&oauthClientSecrets, "oauth-client-secret", "override OAuth client secret (provider=value)")
	flag.Var(&oauthRedirects, "oauth-redirect-url", "override OAuth redirect URL (provider=value)")
	flag.Parse()

	logger := logging.New(logging.Config{Level: firstNonEmpty(*logLevel, os.Getenv("BRIGHTCART_LOG_LEVEL"))})
	auditLogger := logging.WithComponent(logger, "audit")
	recorder := metrics.Default()

	oauthProviders, oauthService, err := oauth.LoadFromFlagsAndEnv(oauth.LoadInput{
		Source:        *oauthProvidersFlag,
		ClientIDs:     oauthClientIDs,
		ClientSecrets: oauthClientSecrets,
		RedirectURLs:  oauthRedirects,
	})
	if err != nil {
		logger.Error("failed to configure oauth", "error", err)
		os.Exit(1)
	}

	serverMode := modeValue(*mode, os.Getenv("BRIGHTCART_MODE"))
	listenAddr := resolveListenAddr(*addr, serverMode, os.Getenv("BRIGHTCART_ADDR"))

	tlsCertPath := firstNonEmpty(*tlsCert, os.Getenv("BRIGHTCART_TLS_CERT"))
	tlsKeyPath := firstNonEmpty(*tlsKey, os.Getenv("BRIGHTCART_TLS_KEY"))

	postgresDefaultDSN := resolvePostgresDSN(*postgresDSN)
	driver, _, err := resolveStorageDriver(*storageDriver, os.Getenv("BRIGHTCART_STORAGE_DRIVER"), postgresDefaultDSN)
	if err != nil {
		logger.Error("failed to resolve storage driver", "error", err)
		os.Exit(1)
	}
	if serverMode == "production" {
		if err := validateProductionDatastore(driver, postgresDefaultDSN, os.Getenv("BRIGHTCART_POSTGRES_DSN")); err != nil {
			logger.Error("production datastore validation failed", "error", err)
			os.Exit(1)
		}
	}
	var (
		store              storage.Repository
		storagePostgresDSN string
		storageFilePath    string
	)
	switch driver {
	case "json":
		storageFilePath = resolveDataPath(*dataPath, os.Getenv("BRIGHTCART_DATA"))
		store, err = storage.NewJSONRepository(storageFilePath)
	case "postgres":
		storagePostgresDSN = postgresDefaultDSN
		if storagePostgresDSN == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(1)
		}
		var pgOptions []storage.Option
		maxConns := resolveInt(*postgresMaxConns, "BRIGHTCART_POSTGRES_MAX_CONNS")
		minConns := resolveInt(*postgresMinConns, "BRIGHTCART_POSTGRES_MIN_CONNS")
		if maxConns > 0 || minConns > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolLimits(int32(maxConns), int32(minConns)))
		}
		maxLifetime := resolveDuration(*postgresMaxConnLifetime, "BRIGHTCART_POSTGRES_MAX_CONN_LIFETIME", 0)
		maxIdle := resolveDuration(*postgresMaxConnIdle, "BRIGHTCART_POSTGRES_MAX_CONN_IDLE", 0)
		healthInterval := resolveDuration(*postgresHealthInterval, "BRIGHTCART_POSTGRES_HEALTH_INTERVAL", 0)
		if maxLifetime > 0 || maxIdle > 0 || healthInterval > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolDurations(maxLifetime, maxIdle, healthInterval))
		}
		if acquireTimeout := resolveDuration(*postgresAcquireTimeout, "BRIGHTCART_POSTGRES_ACQUIRE_TIMEOUT", 0); acquireTimeout > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresAcquireTimeout(acquireTimeout))
		}
		if appName := firstNonEmpty(*postgresAppName, os.Getenv("BRIGHTCART_POSTGRES_APP_NAME")); appName != "" {
			pgOptions = append(pgOptions, storage.WithPostgresApplicationName(appName))
		}
		store, err = storage.NewPostgresRepository(storagePostgresDSN, pgOptions...)
	default:
		logger.Error("unsupported storage driver", "driver", driver)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}

	sessionConfig, err := resolveSessionStoreConfig(
		*sessionStoreDriver,
		os.Getenv("BRIGHTCART_SESSION_STORE"),
		driver,
		storagePostgresDSN,
		*sessionPostgresDSN,
		os.Getenv("BRIGHTCART_SESSION_POSTGRES_DSN"),
		serverMode == "production",
	)
	if err != nil {
		logger.Error("failed to resolve session store", "error", err)
		os.Exit(1)
	}

	var (
		sessionStore  auth.SessionStore
		sessionCloser func(context.Context) error
	)
	switch sessionConfig.Driver {
	case "memory":
		sessionStore = auth.NewMemorySessionStore()
	case "postgres":
		pgStore, err := auth.NewPostgresSessionStore(sessionConfig.DSN)
		if err != nil {
			logger.Error("failed to open session store", "error", err)
			os.Exit(1)
		}
		sessionStore = pgStore
		sessionCloser = func(ctx context.Context) error { return pgStore.Close(ctx) }
	default:
		logger.Error("unsupported session store driver", "driver", sessionConfig.Driver)
		os.Exit(1)
	}

	sessions := auth.NewSessionManager(24*time.Hour, auth.WithStore(sessionStore))

	catalogCache := cache.New(cache.Config{
		Addr:       firstNonEmpty(*cacheRedisAddr, os.Getenv("BRIGHTCART_CACHE_REDIS_ADDR")),
		Addrs:      splitAndTrim(firstNonEmpty(*cacheRedisAddrs, os.Getenv("BRIGHTCART_CACHE_REDIS_ADDRS"))),
		Username:   firstNonEmpty(*cacheRedisUsername, os.Getenv("BRIGHTCART_CACHE_REDIS_USERNAME")),
		Password:   firstNonEmpty(*cacheRedisPassword, os.Getenv("BRIGHTCART_CACHE_REDIS_PASSWORD")),
		DB:         resolveInt(*cacheRedisDB, "BRIGHTCART_CACHE_REDIS_DB"),
		MasterName: firstNonEmpty(*cacheRedisMasterName, os.Getenv("BRIGHTCART_CACHE_REDIS_SENTINEL_MASTER")),
		PoolSize:   resolveInt(*cacheRedisPoolSize, "BRIGHTCART_CACHE_REDIS_POOL_SIZE"),
		TLS: cache.TLSConfig{
			CAFile:             firstNonEmpty(*cacheRedisTLSCA, os.Getenv("BRIGHTCART_CACHE_REDIS_TLS_CA")),
			CertFile:           firstNonEmpty(*cacheRedisTLSCert, os.Getenv("BRIGHTCART_CACHE_REDIS_TLS_CERT")),
			KeyFile:            firstNonEmpty(*cacheRedisTLSKey, os.Getenv("BRIGHTCART_CACHE_REDIS_TLS_KEY")),
			ServerName:         firstNonEmpty(*cacheRedisTLSServerName, os.Getenv("BRIGHTCART_CACHE_REDIS_TLS_SERVER_NAME")),
			InsecureSkipVerify: resolveBool(*cacheRedisTLSSkipVerify, "BRIGHTCART_CACHE_REDIS_TLS_SKIP_VERIFY"),
		},
		Logger: logging.WithComponent(logger, "cache"),
	})

	assetAdapter := assets.New(assets.Config{
		Bucket:         firstNonEmpty(*assetBucket, os.Getenv("BRIGHTCART_ASSET_BUCKET")),
		Endpoint:       firstNonEmpty(*assetEndpoint, os.Getenv("BRIGHTCART_ASSET_ENDPOINT")),
		PublicEndpoint: firstNonEmpty(*assetPublicEndpoint, os.Getenv("BRIGHTCART_ASSET_PUBLIC_ENDPOINT")),
		Region:         firstNonEmpty(*assetRegion, os.Getenv("BRIGHTCART_ASSET_REGION")),
		AccessKey:      firstNonEmpty(*assetAccessKey, os.Getenv("BRIGHTCART_ASSET_ACCESS_KEY")),
		SecretKey:      firstNonEmpty(*assetSecretKey, os.Getenv("BRIGHTCART_ASSET_SECRET_KEY")),
		Prefix:         strings.TrimSpace(firstNonEmpty(*assetPrefix, os.Getenv("BRIGHTCART_ASSET_PREFIX"))),
		UseSSL:         resolveBool(*assetUseSSL, "BRIGHTCART_ASSET_USE_SSL"),
		MaxFileBytes:   resolveInt64(*assetMaxFileBytes, "BRIGHTCART_ASSET_MAX_FILE_BYTES"),
		Logger:         logging.WithComponent(logger, "assets"),
	})

	feedQueueCfg := live.RedisQueueConfig{
		Addr:       firstNonEmpty(*liveRedisAddr, os.Getenv("BRIGHTCART_LIVE_QUEUE_REDIS_ADDR")),
		Addrs:      splitAndTrim(firstNonEmpty(*liveRedisAddrs, os.Getenv("BRIGHTCART_LIVE_QUEUE_REDIS_ADDRS"))),
		Username:   firstNonEmpty(*liveRedisUsername, os.Getenv("BRIGHTCART_LIVE_QUEUE_REDIS_USERNAME")),
		Password:   firstNonEmpty(*liveRedisPassword, os.Getenv("BRIGHTCART_LIVE_QUEUE_REDIS_PASSWORD")),
		Stream:     firstNonEmpty(*liveRedisStream, os.Getenv("BRIGHTCART_LIVE_QUEUE_REDIS_STREAM")),
		Group:      firstNonEmpty(*liveRedisGroup, os.Getenv("BRIGHTCART_LIVE_QUEUE_REDIS_GROUP")),
		MasterName: firstNonEmpty(*liveRedisMasterName, os.Getenv("BRIGHTCART_LIVE_QUEUE_REDIS_SENTINEL_MASTER")),
		PoolSize:   resolveInt(*liveRedisPoolSize, "BRIGHTCART_LIVE_QUEUE_REDIS_POOL_SIZE"),
		TLS: live.RedisTLSConfig{
			CAFile:             firstNonEmpty(*liveRedisTLSCA, os.Getenv("BRIGHTCART_LIVE_QUEUE_REDIS_TLS_CA")),
			CertFile:           firstNonEmpty(*liveRedisTLSCert, os.Getenv("BRIGHTCART_LIVE_QUEUE_REDIS_TLS_CERT")),
			KeyFile:            firstNonEmpty(*liveRedisTLSKey, os.Getenv("BRIGHTCART_LIVE_QUEUE_REDIS_TLS_KEY")),
			ServerName:         firstNonEmpty(*liveRedisTLSServerName, os.Getenv("BRIGHTCART_LIVE_QUEUE_REDIS_TLS_SERVER_NAME")),
			InsecureSkipVerify: resolveBool(*liveRedisTLSSkipVerify, "BRIGHTCART_LIVE_QUEUE_REDIS_TLS_SKIP_VERIFY"),
		},
	}
	feedDriver := firstNonEmpty(*liveQueueDriver, os.Getenv("BRIGHTCART_LIVE_QUEUE_DRIVER"))
	feedQueue, err := configureFeedQueue(feedDriver, feedQueueCfg, logger)
	if err != nil {
		logger.Error("failed to configure live order feed queue", "error", err)
		os.Exit(1)
	}
	feed := live.NewFeed(live.Config{
		Queue:             feedQueue,
		Logger:            logging.WithComponent(logger, "live-feed"),
		HeartbeatInterval: resolveDuration(*liveHeartbeat, "BRIGHTCART_LIVE_HEARTBEAT_INTERVAL", 0),
	})

	handler := api.NewHandler(store, sessions)
	handler.Cache = catalogCache
	handler.Assets = assetAdapter
	handler.Metrics = recorder
	handler.Live = feed
	handler.OAuth = oauthService

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go feed.Run(workerCtx)
	sessionPurgeStop := startSessionPurgeWorker(workerCtx, logging.WithComponent(logger, "session-purger"), sessions, 15*time.Minute)
	defer sessionPurgeStop()

	rateCfg := server.RateLimitConfig{
		GlobalRPS:     resolveFloat(*globalRPS, "BRIGHTCART_RATE_GLOBAL_RPS"),
		GlobalBurst:   resolveInt(*globalBurst, "BRIGHTCART_RATE_GLOBAL_BURST"),
		LoginLimit:    resolveInt(*loginLimit, "BRIGHTCART_RATE_LOGIN_LIMIT"),
		LoginWindow:   resolveDuration(*loginWindow, "BRIGHTCART_RATE_LOGIN_WINDOW", time.Minute),
		RedisAddr:     firstNonEmpty(*rateRedisAddr, os.Getenv("BRIGHTCART_RATE_REDIS_ADDR")),
		RedisPassword: firstNonEmpty(*rateRedisPassword, os.Getenv("BRIGHTCART_RATE_REDIS_PASSWORD")),
		RedisTimeout:  resolveDuration(*rateRedisTimeout, "BRIGHTCART_RATE_REDIS_TIMEOUT", 2*time.Second),
	}

	corsCfg := server.CORSConfig{
		AdminOrigins:      splitAndTrim(firstNonEmpty(*adminOrigins, os.Getenv("BRIGHTCART_CORS_ADMIN_ORIGINS"))),
		StorefrontOrigins: splitAndTrim(firstNonEmpty(*storefrontOrigins, os.Getenv("BRIGHTCART_CORS_STOREFRONT_ORIGINS"))),
	}

	securityCfg := server.SecurityConfig{
		ContentSecurityPolicy: firstNonEmpty(*contentSecurityPolicy, os.Getenv("BRIGHTCART_SECURITY_CSP")),
		FrameAncestors:        firstNonEmpty(*frameAncestors, os.Getenv("BRIGHTCART_SECURITY_FRAME_ANCESTORS")),
	}

	tlsCfg := server.TLSConfig{
		CertFile: tlsCertPath,
		KeyFile:  tlsKeyPath,
	}

	srv, err := server.New(handler, server.Config{
		Addr:        listenAddr,
		TLS:         tlsCfg,
		RateLimit:   rateCfg,
		CORS:        corsCfg,
		Security:    securityCfg,
		Logger:      logger,
		AuditLogger: auditLogger,
		Metrics:     recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	summary := newStartupSummary(startupSummaryInput{
		StorageDriver:  driver,
		StoragePath:    storageFilePath,
		StorageDSN:     storagePostgresDSN,
		SessionConfig:  sessionConfig,
		RateLimit:      rateCfg,
		FeedDriver:     feedDriver,
		FeedConfig:     feedQueueCfg,
		CacheEnabled:   catalogCache.Enabled(),
		AssetsRemote:   assetAdapter.RemoteEnabled(),
		OAuthProviders: len(oauthProviders),
	})

	runCtx, stopServer := context.WithCancel(context.Background())
	defer stopServer()

	errs := make(chan error, 1)
	go func() {
		logger.Info("BrightCart API listening", append([]any{"addr", listenAddr, "mode", serverMode}, summary.LogArgs()...)...)
		if tlsCfg.CertFile != "" && tlsCfg.KeyFile != "" {
			logger.Info("TLS enabled", "cert_file", tlsCfg.CertFile)
		}
		logger.Info("metrics endpoint available", "path", "/metrics")
		errs <- srv.Run(runCtx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
		stopServer()
		if err := <-errs; err != nil {
			logger.Warn("graceful shutdown failed", "error", err)
		}
	case err := <-errs:
		if err != nil {
			logger.Error("server error", "error", err)
		}
	}

	workerCancel()
	sessionPurgeStop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := catalogCache.Close(); err != nil {
		logger.Warn("failed to close cache", "error", err)
	}

	if err := store.Close(ctx); err != nil {
		logger.Warn("failed to close datastore", "error", err)
	}

	if sessionCloser != nil {
		if err := sessionCloser(ctx); err != nil {
			logger.Warn("failed to close session store", "error", err)
		}
	}

	logger.Info("server stopped")
}

type sessionStoreConfig struct {
	Driver string
	DSN    string
}

func resolveSessionStoreConfig(flagDriver, envDriver, storageDriver, storageDSN, flagDSN, envDSN string, requirePostgres bool) (sessionStoreConfig, error) {
	driver := strings.ToLower(strings.TrimSpace(flagDriver))
	if driver == "" {
		driver = strings.ToLower(strings.TrimSpace(envDriver))
	}

	sessionDSN := strings.TrimSpace(firstNonEmpty(flagDSN, envDSN))
	if driver == "" {
		switch {
		case sessionDSN != "":
			driver = "postgres"
		case storageDriver == "postgres":
			driver = "postgres"
		default:
			driver = "memory"
		}
	}

	if requirePostgres && driver != "postgres" {
		return sessionStoreConfig{}, fmt.Errorf("production mode requires the postgres session store, got %q", driver)
	}

	switch driver {
	case "memory":
		return sessionStoreConfig{Driver: "memory"}, nil
	case "postgres":
		if sessionDSN == "" {
			sessionDSN = strings.TrimSpace(storageDSN)
		}
		if sessionDSN == "" {
			return sessionStoreConfig{}, fmt.Errorf("postgres session store selected without DSN")
		}
		return sessionStoreConfig{Driver: "postgres", DSN: sessionDSN}, nil
	default:
		return sessionStoreConfig{}, fmt.Errorf("unsupported session store driver %q", driver)
	}
}

func configureFeedQueue(driver string, cfg live.RedisQueueConfig, logger *slog.Logger) (live.Queue, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	switch driver {
	case "redis":
		if len(cfg.Addrs) == 0 && strings.TrimSpace(cfg.Addr) == "" {
			return nil, fmt.Errorf("redis addr is required for the live order feed queue")
		}
		cfg.Logger = logging.WithComponent(logger, "live-queue")
		queue, err := live.NewRedisQueue(cfg)
		if err != nil {
			return nil, err
		}
		return queue, nil
	case "", "memory":
		return live.NewMemoryQueue(128), nil
	default:
		return nil, fmt.Errorf("unsupported live order feed queue driver %q", driver)
	}
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		listenAddr = defaultListenForMode(mode)
	}
	return listenAddr
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = "development"
	}
	return mode
}

func defaultListenForMode(mode string) string {
	if mode == "production" {
		return ":80"
	}
	return ":8080"
}

func resolveStorageDriver(flagValue, envValue, postgresDSN string) (string, bool, error) {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver, true, nil
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver, true, nil
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres", false, nil
	}
	return "", false, fmt.Errorf("no datastore configured: provide --storage-driver json or configure Postgres via BRIGHTCART_POSTGRES_DSN, DATABASE_URL, or --postgres-dsn")
}

func validateProductionDatastore(driver, resolvedPostgresDSN, envPostgresDSN string) error {
	if driver != "postgres" {
		if driver == "" {
			return fmt.Errorf("production mode requires the postgres datastore driver")
		}
		return fmt.Errorf("production mode requires the postgres datastore driver, got %q", driver)
	}
	if strings.TrimSpace(envPostgresDSN) == "" {
		return fmt.Errorf("production mode requires BRIGHTCART_POSTGRES_DSN to be set")
	}
	if strings.TrimSpace(resolvedPostgresDSN) == "" {
		return fmt.Errorf("postgres storage selected without DSN")
	}
	return nil
}

func resolveDataPath(flagValue, envValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := strings.TrimSpace(envValue); env != "" {
		return env
	}
	return "data/store.json"
}

func resolvePostgresDSN(flagValue string) string {
	return strings.TrimSpace(firstNonEmpty(flagValue, os.Getenv("BRIGHTCART_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := parseFloat(env); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := parseInt(env); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt64(flagValue int64, envKey string) int64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseInt(strings.TrimSpace(env), 10, 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}

func parseFloat(value string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(value), 64)
}

func parseInt(value string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	return v, nil
}
