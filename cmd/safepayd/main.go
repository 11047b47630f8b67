// Command safepayd runs the payment authorization server.
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
	"syscall"
	"time"

	"github.com/cudi-org/safepay"
	"github.com/cudi-org/safepay/authz"
	"github.com/cudi-org/safepay/dispatch"
	"github.com/cudi-org/safepay/httpapi"
	"github.com/cudi-org/safepay/intent"
	"github.com/cudi-org/safepay/internal/config"
	"github.com/cudi-org/safepay/ledger"
	"github.com/cudi-org/safepay/rail"
	"github.com/cudi-org/safepay/registry"
	"github.com/cudi-org/safepay/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to configure logging: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	chain, err := safepay.ChainByName(cfg.Chain)
	if err != nil {
		logger.Error("unknown chain", "chain", cfg.Chain, "error", err)
		os.Exit(1)
	}

	st, err := buildStore(cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("closing store failed", "error", err)
		}
	}()

	auth := authz.New(chain)
	reg := registry.New(st, auth, logger)
	ldg := ledger.New(st, logger)

	dispatcher := dispatch.New(dispatch.Config{
		Registry:   reg,
		Ledger:     ldg,
		Authorizer: auth,
		Rail:       buildRail(cfg, logger),
		Store:      st,
		Chain:      chain,
		Timeouts:   cfg.Timeouts,
		Logger:     logger,
	})

	server := httpapi.New(httpapi.Config{
		Dispatcher:     dispatcher,
		Registry:       reg,
		Ledger:         ldg,
		Parser:         buildParser(cfg, logger),
		Chain:          chain,
		Logger:         logger,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.RequestTimeout(),
		WriteTimeout:      cfg.RequestTimeout(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.BindAddr, "chain", chain.Name)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped unexpectedly", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("server stopped")
}

func buildLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
}

func buildStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.DBPath == "" {
		logger.Info("using in-memory store")
		return store.NewMemory(), nil
	}
	logger.Info("using sqlite store", "path", cfg.DBPath)
	return store.OpenSQLite(cfg.DBPath)
}

func buildRail(cfg *config.Config, logger *slog.Logger) rail.Rail {
	if cfg.CircleConfigured() {
		logger.Info("using circle settlement rail", "base_url", cfg.CircleBaseURL)
		return &rail.CircleClient{
			BaseURL:  cfg.CircleBaseURL,
			APIKey:   cfg.CircleAPIKey,
			EntityID: cfg.CircleEntityID,
			WalletID: cfg.CircleWalletID,
			Client:   &http.Client{Timeout: cfg.Timeouts.RailTimeout},
			Timeouts: cfg.Timeouts,
		}
	}
	logger.Warn("circle credentials absent, using simulated rail")
	return rail.NewSim()
}

func buildParser(cfg *config.Config, logger *slog.Logger) intent.Parser {
	if cfg.ParserURL != "" {
		logger.Info("using external intent parser", "base_url", cfg.ParserURL)
		return &intent.Client{
			BaseURL:  cfg.ParserURL,
			Client:   &http.Client{Timeout: cfg.Timeouts.ParserTimeout},
			Timeouts: cfg.Timeouts,
		}
	}
	logger.Info("using pattern intent parser")
	return intent.NewPatternParser()
}
