package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ka1ii/developer-challenge/crypto"
	gwconfig "github.com/ka1ii/developer-challenge/gateway/config"
	"github.com/ka1ii/developer-challenge/gateway/middleware"
	"github.com/ka1ii/developer-challenge/observability/logging"
	telemetry "github.com/ka1ii/developer-challenge/observability/otel"
	"github.com/ka1ii/developer-challenge/rpc/client"
	"github.com/ka1ii/developer-challenge/services/agreement-gateway/audit"
	"github.com/ka1ii/developer-challenge/services/agreement-gateway/documents"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to the gateway YAML configuration")
	envFile := flag.String("env", ".env", "optional dotenv file with AGREEMENT_GATEWAY_* overrides")
	flag.Parse()

	if err := gwconfig.LoadEnvFile(*envFile); err != nil {
		log.Fatalf("load env: %v", err)
	}
	cfg, err := gwconfig.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, logCloser := logging.SetupWithOptions(cfg.Observability.ServiceName, cfg.Environment, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: cfg.Observability.ServiceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Observability.OTLPEndpoint,
		Insecure:    cfg.Observability.OTLPInsecure,
		Traces:      cfg.Observability.Tracing,
		SampleRatio: cfg.Observability.SampleRatio,
	})
	if err != nil {
		logger.Error("init telemetry", slog.String("error", err.Error()))
		os.Exit(1)
	}

	scheme, err := crypto.ParseHashScheme(cfg.HashScheme)
	if err != nil {
		logger.Error("hash scheme", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("opening document store", slog.String("dsn", logging.MaskDSN(cfg.Documents.DSN)))
	docs, err := documents.Open(cfg.Documents.DSN)
	if err != nil {
		logger.Error("open document store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer docs.Close()

	auditStore, err := audit.Open(cfg.AuditDatabase)
	if err != nil {
		logger.Error("open audit store", slog.String("path", cfg.AuditDatabase), slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer auditStore.Close()

	directory, err := NewDirectory(cfg.Users)
	if err != nil {
		logger.Error("load users", slog.String("error", err.Error()))
		os.Exit(1)
	}

	node, err := client.New(client.Options{
		Endpoint:  cfg.Node.Endpoint,
		AuthToken: cfg.Node.AuthToken,
		Timeout:   cfg.Node.Timeout,
	})
	if err != nil {
		logger.Error("node client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	obs := middleware.NewObservability(middleware.ObservabilityConfig{
		ServiceName:   cfg.Observability.ServiceName,
		MetricsPrefix: cfg.Observability.MetricsPrefix,
		LogRequests:   cfg.Observability.LogRequests,
		Enabled:       cfg.Observability.Metrics,
	}, logger)

	server, err := NewServer(ServerConfig{
		Ledger:    node,
		Documents: docs,
		Audit:     auditStore,
		Directory: directory,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			JWT:           cfg.Auth.Enabled,
			HMACSecret:    cfg.Auth.HMACSecret,
			Issuer:        cfg.Auth.Issuer,
			Audience:      cfg.Auth.Audience,
			UsernameClaim: cfg.Auth.UsernameClaim,
			ClockSkew:     cfg.Auth.ClockSkew,
		}, directory, logger),
		RateLimiter: middleware.NewRateLimiter(middleware.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		}, logger),
		Observability: obs,
		CORS:          middleware.CORSConfig{AllowedOrigins: cfg.CORS.AllowedOrigins},
		HashScheme:    scheme,
		NodeTimeout:   cfg.Node.Timeout,
		Logger:        logger,
	})
	if err != nil {
		logger.Error("build server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      otelhttp.NewHandler(server.Handler(), cfg.Observability.ServiceName),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("agreement gateway listening",
			slog.String("addr", cfg.ListenAddress),
			slog.String("node", cfg.Node.Endpoint),
			slog.Int("users", len(cfg.Users)),
			slog.Bool("jwt", cfg.Auth.Enabled))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down agreement gateway")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", slog.String("error", err.Error()))
	}
	if err := shutdownTelemetry(ctx); err != nil {
		logger.Warn("telemetry shutdown", slog.String("error", err.Error()))
	}
}
