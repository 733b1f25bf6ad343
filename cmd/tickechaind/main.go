package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tickechain/config"
	"tickechain/core"
	"tickechain/core/state"
	"tickechain/gateway/middleware"
	"tickechain/gateway/routes"
	"tickechain/indexer"
	"tickechain/observability/logging"
	telemetry "tickechain/observability/otel"
	"tickechain/rpc"
	"tickechain/storage"
)

const (
	serviceName = "tickechaind"
	envVar      = "TKT_ENV"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file (.toml or .yaml)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	env := strings.TrimSpace(os.Getenv(envVar))
	if env == "" {
		env = cfg.Logging.Env
	}
	logger := logging.SetupWithOptions(serviceName, env, loggingOptions(cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, env, logger); err != nil {
		logger.Error("node stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func loggingOptions(cfg *config.Config) logging.Options {
	opts := logging.Options{Level: cfg.Logging.Level}
	if strings.TrimSpace(cfg.Logging.File) != "" {
		opts.File = &logging.FileOptions{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
		}
	}
	return opts
}

func run(ctx context.Context, cfg *config.Config, env string, logger *slog.Logger) error {
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	lifecycleCfg, err := cfg.LifecycleConfig()
	if err != nil {
		return err
	}
	node := core.NewNode(state.NewManager(db), lifecycleCfg)
	node.SetLogger(logger)
	if len(lifecycleCfg.Admins) == 0 {
		logger.Warn("no administrators configured; pause, resume and refund overrides are unavailable")
	}

	if driver := strings.TrimSpace(cfg.Indexer.Driver); driver != "" {
		gormDB, err := indexer.Open(driver, cfg.Indexer.DSN)
		if err != nil {
			return err
		}
		idx, err := indexer.New(gormDB, node, logger)
		if err != nil {
			return err
		}
		node.AddSubscriber(idx)
		go func() {
			if err := idx.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("indexer stopped", slog.Any("error", err))
			}
		}()
		logger.Info("log indexer enabled", slog.String("driver", driver))
	}

	handler := buildHandler(cfg, node, logger)
	server := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(cfg.RPC.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.RPC.WriteTimeout) * time.Second,
		IdleTimeout:       time.Duration(cfg.RPC.IdleTimeout) * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("serving JSON-RPC", slog.String("address", cfg.RPCAddress))
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

// buildHandler assembles the HTTP surface of the node from cfg.
func buildHandler(cfg *config.Config, node *core.Node, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	secret := cfg.JWTSecret()
	if secret == "" {
		logger.Warn("JWT secret not set; only anonymous queries are served", slog.String("env", cfg.RPC.JWTSecretEnv))
	}
	server := rpc.NewServer(node, logger)
	limit := middleware.RateLimit{RequestsPerMinute: cfg.RPC.RequestsPerMinute, Burst: cfg.RPC.Burst}
	return routes.New(routes.Config{
		RPC:       server,
		LogStream: server.LogStreamHandler(),
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			HMACSecret:     secret,
			Issuer:         cfg.RPC.JWTIssuer,
			Audience:       cfg.RPC.JWTAudience,
			AllowAnonymous: true,
		}, logger),
		RateLimiter: middleware.NewRateLimiter(map[string]middleware.RateLimit{
			routes.RateLimitRPC:  limit,
			routes.RateLimitLogs: limit,
		}, logger),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{ServiceName: serviceName}, logger),
		CORS:          middleware.CORSConfig{AllowedOrigins: cfg.RPC.AllowedOrigins},
	})
}
