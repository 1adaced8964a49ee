package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/smartmark/internal/auth"
	"github.com/MrSnakeDoc/smartmark/internal/config"
	"github.com/MrSnakeDoc/smartmark/internal/feed"
	"github.com/MrSnakeDoc/smartmark/internal/httpserver"
	"github.com/MrSnakeDoc/smartmark/internal/httpserver/deps"
	"github.com/MrSnakeDoc/smartmark/internal/logger"
	"github.com/MrSnakeDoc/smartmark/internal/redis"
	"github.com/MrSnakeDoc/smartmark/internal/repository"
	"github.com/MrSnakeDoc/smartmark/internal/scheduler"
	redisstore "github.com/MrSnakeDoc/smartmark/internal/store/redis"
	"github.com/MrSnakeDoc/smartmark/internal/version"
)

const discoveryTimeout = 15 * time.Second

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	server      *httpserver.Server
	redisClient *goredis.Client
	importer    *scheduler.Importer
}

func New() *App {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)

	// Initialize Redis early - fail fast if unavailable
	loggerClient.Infof("Connecting to Redis at %s", cfg.RedisAddr)
	redisClient, err := connectRedis(&cfg.Storage, loggerClient)
	if err != nil {
		loggerClient.Errorf("Failed to connect to Redis: %v", err)
		os.Exit(1)
	}
	loggerClient.Info("Redis initialized successfully")

	store := redisstore.NewStore(redisClient)

	subscriber := feed.NewSubscriber(redisClient, feed.Options{
		RetryInterval: cfg.FeedRetryInterval,
		MaxWait:       cfg.FeedMaxWait,
	}, loggerClient)

	discoverCtx, cancel := context.WithTimeout(context.Background(), discoveryTimeout)
	provider, err := auth.NewProvider(discoverCtx, auth.Config{
		IssuerURL:    cfg.OAuthIssuer,
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		RedirectURL:  cfg.RedirectURL(),
		Scopes:       cfg.OAuthScopes,
		StateSecret:  []byte(cfg.SessionSecret),
	}, loggerClient)
	cancel()
	if err != nil {
		loggerClient.Errorf("Failed to initialize OIDC provider: %v", err)
		_ = redisClient.Close()
		os.Exit(1)
	}

	repoOpts := repository.Options{ListAttempts: cfg.ListRetryAttempts}

	// Initialize importer (if an import file is configured)
	var importer *scheduler.Importer
	var importTrigger chan struct{}
	var lastImport func() time.Time
	if cfg.ImportFile != "" {
		loggerClient.Info("import file configured, initializing importer",
			logger.String("file", cfg.ImportFile),
			logger.String("owner_id", cfg.ImportOwner))
		importTrigger = make(chan struct{}, 1)
		importer = scheduler.NewImporter(
			cfg.ImportFile,
			cfg.ImportOwner,
			store,
			repoOpts,
			loggerClient,
			cfg.ImportInterval,
			importTrigger,
		)
		lastImport = importer.LastImport
	} else {
		loggerClient.Info("import file not configured, importer disabled")
	}

	// Dependencies passed to routes (extend as needed).
	d := deps.Deps{
		Logger:       loggerClient,
		StartTime:    time.Now(),
		Version:      version.Version,
		Commit:       version.Commit,
		BuildDate:    version.BuildDate,
		GoVersion:    version.GoVersion,
		TimeNow:      time.Now,
		AllowedHosts: cfg.AllowedHosts,
		AllowedCIDRS: cfg.AllowedCIDRS,
		TrustProxy:   cfg.TrustProxy,
		Store:        store,
		Subscriber:   subscriber,
		Auth:         provider,
		Cookie: deps.Cookie{
			Name:   cfg.CookieName,
			Secure: cfg.CookieSecure,
			TTL:    cfg.SessionTTL,
		},
		Repository:     repoOpts,
		ResyncInterval: cfg.ResyncInterval,
		SessionCheck:   cfg.SessionCheckInterval,
		ImportTrigger:  importTrigger,
		LastImport:     lastImport,
		LiveViews:      &deps.LiveViews{},
	}

	server := httpserver.New(cfg, loggerClient, d)

	return &App{
		cfg:         cfg,
		logger:      loggerClient,
		server:      server,
		redisClient: redisClient,
		importer:    importer,
	}
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting Smartmark %s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Infof("Smartmark %s", version.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start importer (if enabled)
	if a.importer != nil {
		a.importer.Start(ctx)
		a.logger.Info("importer started",
			logger.Duration("interval", a.cfg.ImportInterval))
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case err := <-errCh:
		return err
	}

	if a.importer != nil {
		a.importer.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warnf("failed to close redis: %v", err)
		} else {
			a.logger.Info("✅ Redis closed cleanly")
		}
	}

	a.logger.Info("✅ Smartmark stopped cleanly")
	_ = a.logger.Sync()
	return nil
}

// RunImport imports file into owner's collection once and exits. It needs
// Redis only, no OIDC or HTTP settings.
func RunImport(ctx context.Context, file, owner string) (scheduler.ImportResult, error) {
	st := config.LoadStorage()
	loggerClient := logger.New(st.LogLevel, st.PrettyLog)
	defer func() { _ = loggerClient.Sync() }()

	redisClient, err := connectRedis(st, loggerClient)
	if err != nil {
		return scheduler.ImportResult{}, fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer func() { _ = redisClient.Close() }()

	importer := scheduler.NewImporter(
		file,
		owner,
		redisstore.NewStore(redisClient),
		repository.Options{},
		loggerClient,
		0,
		nil,
	)
	return importer.Import(ctx)
}

func connectRedis(st *config.Storage, log logger.Logger) (*goredis.Client, error) {
	return redis.New(redis.ConnectOptions{
		Addr:           st.RedisAddr,
		User:           st.RedisUser,
		Password:       st.RedisPassword,
		RedisDB:        st.RedisDB,
		DialTimeout:    st.RedisDT,
		ReadTimeout:    st.RedisRT,
		WriteTimeout:   st.RedisWT,
		PoolSize:       st.RedisPoolSize,
		ConnectTimeout: st.RedisConnectTimeout,
		RetryInterval:  st.RedisRetryInterval,
		MaxWait:        st.RedisMaxWait,
		PingTimeout:    st.RedisPingTimeout,
		WarnThreshold:  st.RedisWarnThreshold,
	}, log)
}
