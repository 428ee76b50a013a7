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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ka1ii/developer-challenge/cmd/internal/passphrase"
	"github.com/ka1ii/developer-challenge/config"
	"github.com/ka1ii/developer-challenge/core"
	"github.com/ka1ii/developer-challenge/crypto"
	"github.com/ka1ii/developer-challenge/observability/logging"
	telemetry "github.com/ka1ii/developer-challenge/observability/otel"
	"github.com/ka1ii/developer-challenge/rpc"
	"github.com/ka1ii/developer-challenge/snapshot"
	"github.com/ka1ii/developer-challenge/storage"
)

const (
	serviceName     = "marketd"
	operatorPassEnv = "MARKET_OPERATOR_PASS"
	shutdownTimeout = 10 * time.Second
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.SetupWithOptions(serviceName, cfg.Environment, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	defer logCloser.Close()

	if err := run(cfg, logger); err != nil {
		logger.Error("marketd stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Observability.OTLPEndpoint,
		Insecure:    cfg.Observability.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Observability.OTLPHeaders),
		Metrics:     cfg.Observability.Metrics,
		Traces:      cfg.Observability.Traces,
		SampleRatio: cfg.Observability.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	passSource := passphrase.NewSource(operatorPassEnv)
	pass, err := passSource.Get()
	if err != nil {
		return err
	}
	key, created, err := crypto.LoadOrCreateKeystore(cfg.OperatorKeystorePath, pass)
	if err != nil {
		return fmt.Errorf("load operator key: %w", err)
	}
	operator := key.PubKey().Address()
	if created {
		logger.Info("generated operator key", slog.String("path", cfg.OperatorKeystorePath), slog.String("operator", operator.String()))
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	node, err := core.NewNode(db, operator.Raw(), logger)
	if err != nil {
		return err
	}
	genesis, err := genesisFromConfig(cfg.Token)
	if err != nil {
		return err
	}
	if _, err := node.InitGenesis(genesis); err != nil {
		return fmt.Errorf("genesis: %w", err)
	}

	authToken := resolveAuthToken(cfg.RPC.AuthTokenEnv, os.LookupEnv)
	if authToken == "" {
		logger.Warn("rpc auth token not set; state-changing methods are disabled", slog.String("env", cfg.RPC.AuthTokenEnv))
	}
	rpcServer, err := rpc.NewServer(node, rpc.Config{
		AuthToken:      authToken,
		RateLimit:      cfg.RPC.RateLimitPerSecond,
		Burst:          cfg.RPC.Burst,
		AllowedOrigins: cfg.RPC.AllowedOrigins,
	}, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	schedulerDone := make(chan struct{})
	if schedule := strings.TrimSpace(cfg.Snapshot.Schedule); schedule != "" {
		exporter, err := snapshot.NewExporter(snapshot.Config{Source: node, Dir: cfg.Snapshot.Dir, Logger: logger})
		if err != nil {
			return err
		}
		scheduler, err := snapshot.NewScheduler(exporter, schedule)
		if err != nil {
			return err
		}
		logger.Info("snapshot exports scheduled", slog.String("schedule", schedule), slog.String("dir", cfg.Snapshot.Dir))
		go func() {
			defer close(schedulerDone)
			scheduler.Start(ctx)
		}()
	} else {
		close(schedulerDone)
	}

	srv := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           otelhttp.NewHandler(rpcServer.Handler(), serviceName),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("rpc listening",
			slog.String("addr", cfg.RPCAddress),
			slog.String("operator", operator.String()),
			slog.String("token", cfg.Token.Symbol))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("rpc server: %w", err)
		}
		stop()
	}

	logger.Info("shutting down marketd")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.String("error", err.Error()))
	}
	<-schedulerDone
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown", slog.String("error", err.Error()))
	}
	return runErr
}

func genesisFromConfig(tok config.TokenConfig) (core.Genesis, error) {
	supply, err := tok.InitialSupplyAmount()
	if err != nil {
		return core.Genesis{}, err
	}
	return core.Genesis{
		Name:          tok.Name,
		Symbol:        tok.Symbol,
		Decimals:      tok.Decimals,
		InitialSupply: supply,
	}, nil
}

func resolveAuthToken(envVar string, lookup func(string) (string, bool)) string {
	envVar = strings.TrimSpace(envVar)
	if envVar == "" {
		return ""
	}
	value, _ := lookup(envVar)
	return strings.TrimSpace(value)
}
