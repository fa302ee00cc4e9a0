package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/virtualpainter/painter/api"
	"github.com/virtualpainter/painter/internal/config"
	"github.com/virtualpainter/painter/internal/gesture"
	"github.com/virtualpainter/painter/internal/persistence"
	"github.com/virtualpainter/painter/internal/secrets"
	"github.com/virtualpainter/painter/internal/slogging"
	"github.com/virtualpainter/painter/internal/telemetry"
)

func main() {
	configFile, generateConfig, err := config.ParseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		os.Exit(1)
	}
	if generateConfig {
		if err := config.GenerateExampleConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := slogging.Initialize(slogging.Config{
		Level:            cfg.GetLogLevel(),
		IsDev:            cfg.Logging.IsDev,
		LogDir:           cfg.Logging.LogDir,
		MaxAgeDays:       cfg.Logging.MaxAgeDays,
		MaxSizeMB:        cfg.Logging.MaxSizeMB,
		MaxBackups:       cfg.Logging.MaxBackups,
		AlsoLogToConsole: cfg.Logging.AlsoLogToConsole,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger := slogging.Get()
	defer func() { _ = logger.Close() }()

	if err := run(cfg); err != nil {
		logger.Error("Server exited with error: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logger := slogging.Get()
	logger.Info("Starting %s", api.GetVersionString())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tel, err := telemetry.NewService(telemetryConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Telemetry shutdown: %v", err)
		}
	}()

	metrics, err := telemetry.NewMetrics(tel.GetMeter())
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	provider, err := secrets.NewProvider(ctx, cfg.Secrets)
	if err != nil {
		return fmt.Errorf("failed to initialize secrets provider: %w", err)
	}
	if err := secrets.Apply(ctx, provider, cfg); err != nil {
		return err
	}

	store, err := newBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.close()
	gateway := store.gateway

	var (
		restoreGateway persistence.Gateway
		persister      api.Persister
		breaker        api.BreakerStater
		queue          api.QueueDepther
		deleter        persistence.SessionDeleter
	)
	if gateway != nil {
		resilient := persistence.NewResilient(gateway, persistence.ResilientOptions{
			FailureThreshold: cfg.Persistence.FailureThreshold,
			ResetTimeout:     cfg.Persistence.BreakerReset,
			RetryAttempts:    cfg.Persistence.RetryAttempts,
			RetryInterval:    cfg.Persistence.RetryInterval,
			RequestTimeout:   cfg.Persistence.RequestTimeout,
			Metrics:          metrics,
		})
		dispatcher := persistence.NewDispatcher(resilient, cfg.Persistence.QueueSize, cfg.Persistence.Workers, metrics)
		dispatcher.Start(ctx)
		defer dispatcher.Stop()

		restoreGateway, persister, breaker, queue = resilient, dispatcher, resilient, dispatcher
		if _, ok := gateway.(persistence.SessionDeleter); ok {
			deleter = resilient
		}
	}

	registry := api.NewSessionRegistry(api.RegistryOptions{
		Gateway:        restoreGateway,
		Canvas:         cfg.CanvasOptions(),
		RestoreTimeout: cfg.Sessions.RestoreTimeout,
		Metrics:        metrics,
	})
	if cfg.Sessions.RestoreOnStartup && restoreGateway != nil {
		restoreCtx, done := context.WithTimeout(ctx, cfg.Sessions.RestoreTimeout)
		n, err := registry.RestoreActive(restoreCtx)
		done()
		if err != nil {
			logger.Warn("Failed to restore active sessions: %v", err)
		} else {
			logger.Info("Restored %d active sessions", n)
		}
	}

	handler := api.NewConnectionHandler(api.HandlerOptions{
		Registry:     registry,
		Hub:          api.NewBroadcastHub(metrics),
		Persister:    persister,
		Source:       newGestureSource(cfg),
		Metrics:      metrics,
		FrameTimeout: cfg.Gesture.Timeout,
	})

	wsHub := api.NewWebSocketHub(handler, api.TransportConfig{
		SendBufferSize:  cfg.WebSocket.SendBufferSize,
		MaxMessageBytes: cfg.WebSocket.MaxMessageBytes,
		PingInterval:    cfg.WebSocket.PingInterval,
		PongTimeout:     cfg.WebSocket.PongTimeout,
		WriteTimeout:    cfg.WebSocket.WriteTimeout,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		Logging: slogging.WebSocketLoggingConfig{
			Enabled:        cfg.Logging.LogWebSocketMsg,
			MaxMessageSize: 64 << 10,
			OnlyDebugLevel: true,
		},
	}, metrics)

	var retentionTTL time.Duration
	if cfg.Sessions.Retention == config.RetentionTTL {
		retentionTTL = cfg.Sessions.TTL
	}

	var redisClient redis.UniversalClient
	if store.redis != nil {
		redisClient = store.redis
	}
	health := api.NewHealthChecker(2*time.Second, breaker, queue, redisClient)
	if store.database != nil {
		health.WithDatabase(store.database)
	}
	server := api.NewServer(api.ServerOptions{
		Registry:     registry,
		Handler:      handler,
		Hub:          wsHub,
		Health:       health,
		Metrics:      tel.MetricsHandler(),
		Settings:     cfg.EffectiveSettings,
		Deleter:      deleter,
		RetentionTTL: retentionTTL,
		ReapInterval: cfg.Sessions.ReapInterval,
	})
	server.StartReaper(ctx)

	router := api.NewRouter(server, api.RouterOptions{
		ServiceName: cfg.Telemetry.ServiceName,
		Debug:       cfg.GetLogLevel() == slogging.LogLevelDebug,
		Tracing:     cfg.Telemetry.TracingEnabled,
		LogRequests: cfg.Logging.LogAPIRequests,
	})

	srv := &http.Server{
		Addr:        cfg.GetServerAddress(),
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening on %s (persistence=%s, gesture=%s, retention=%s)",
			srv.Addr, cfg.Persistence.Backend, cfg.Gesture.Source, cfg.Sessions.Retention)
		var err error
		if cfg.Server.TLSEnabled {
			err = srv.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("Received %s, shutting down server...", sig)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	cancel()
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown: %v", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("WebSocket connections did not close in time: %v", err)
	}

	logger.Info("Server gracefully stopped")
	return nil
}

func telemetryConfig(cfg *config.Config) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceName = cfg.Telemetry.ServiceName
	tc.ServiceVersion = fmt.Sprintf("%d.%d.%d", api.GetVersion().Major, api.GetVersion().Minor, api.GetVersion().Patch)
	tc.MetricsEnabled = cfg.Telemetry.MetricsEnabled
	tc.MetricsEndpoint = cfg.Telemetry.MetricsEndpoint
	tc.TracingEnabled = cfg.Telemetry.TracingEnabled
	tc.TracingEndpoint = cfg.Telemetry.TracingEndpoint
	tc.TracingSampleRate = cfg.Telemetry.TracingSampleRate
	tc.ConsoleExporter = cfg.Telemetry.ConsoleExporter
	tc.IsDevelopment = cfg.Logging.IsDev
	if !cfg.Logging.IsDev {
		tc.Environment = "production"
	}
	return tc
}

// backend is the configured durability store. gateway is nil for the none
// backend; redis and database are set when that store was opened.
type backend struct {
	gateway  persistence.Gateway
	redis    *redis.Client
	database *persistence.SQLGateway
}

func (b backend) close() {
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.database != nil {
		_ = b.database.Close()
	}
}

func newBackend(ctx context.Context, cfg *config.Config) (backend, error) {
	instrument := cfg.Telemetry.TracingEnabled || cfg.Telemetry.MetricsEnabled

	switch cfg.Persistence.Backend {
	case config.BackendHTTP:
		var opts []persistence.HTTPOption
		if cfg.Telemetry.TracingEnabled {
			opts = append(opts, persistence.WithClient(&http.Client{
				Timeout:   cfg.Persistence.RequestTimeout,
				Transport: otelhttp.NewTransport(http.DefaultTransport),
			}))
		}
		if cfg.Persistence.APIToken != "" {
			opts = append(opts, persistence.WithAPIToken(cfg.Persistence.APIToken))
		}
		return backend{gateway: persistence.NewHTTPGateway(cfg.Persistence.APIURL, cfg.Persistence.RequestTimeout, opts...)}, nil

	case config.BackendRedis:
		rc := cfg.Persistence.Redis
		client, err := persistence.NewRedisClient(ctx, persistence.RedisOptions{
			Addr:       cfg.GetRedisAddress(),
			Password:   rc.Password,
			DB:         rc.DB,
			KeyPrefix:  rc.KeyPrefix,
			SessionTTL: rc.SessionTTL,
			Instrument: instrument,
		})
		if err != nil {
			return backend{}, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return backend{gateway: persistence.NewRedisGateway(client, rc.KeyPrefix, rc.SessionTTL), redis: client}, nil

	case config.BackendSQL:
		sc := cfg.Persistence.SQL
		db, err := persistence.NewSQLGateway(ctx, persistence.SQLOptions{
			Driver:       sc.Driver,
			DSN:          sc.DSN,
			MaxOpenConns: sc.MaxOpenConns,
			SessionTTL:   sc.SessionTTL,
			Instrument:   cfg.Telemetry.TracingEnabled,
		})
		if err != nil {
			return backend{}, fmt.Errorf("failed to open %s database: %w", sc.Driver, err)
		}
		return backend{gateway: db, database: db}, nil

	default:
		return backend{}, nil
	}
}

func newGestureSource(cfg *config.Config) gesture.Source {
	if cfg.Gesture.Source != config.GestureSourceRemote {
		return gesture.NoneSource{}
	}
	var opts []gesture.RemoteOption
	opts = append(opts, gesture.WithJPEGQuality(cfg.Gesture.JPEGQuality))
	client := &http.Client{Timeout: cfg.Gesture.Timeout}
	if cfg.Telemetry.TracingEnabled {
		client.Transport = otelhttp.NewTransport(http.DefaultTransport)
	}
	opts = append(opts, gesture.WithHTTPClient(client))
	return gesture.NewRemoteSource(cfg.Gesture.Endpoint, opts...)
}
