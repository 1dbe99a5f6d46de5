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

	"github.com/caseledger/custody-server/internal/auth"
	"github.com/caseledger/custody-server/internal/authz"
	"github.com/caseledger/custody-server/internal/config"
	"github.com/caseledger/custody-server/internal/database"
	"github.com/caseledger/custody-server/internal/server"
	"github.com/caseledger/custody-server/internal/services"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	sugar := logger.Sugar()
	sugar.Infow("Starting custody server",
		"port", cfg.Port,
		"env", cfg.Environment,
	)

	// Entity Store
	db, err := database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	authorizer, err := authz.New(cfg.PolicyFile)
	if err != nil {
		return err
	}

	provider, closeSessions, err := newProvider(ctx, cfg, sugar)
	if err != nil {
		return err
	}
	defer closeSessions()

	svc := services.New(db, authorizer, sugar, services.Options{Location: cfg.StatsLocation})
	merkleSvc := services.NewMerkleService(sugar)
	integrityWorker := services.NewIntegrityWorker(merkleSvc, db, sugar)

	// Start background integrity worker (rebuilds Merkle tree periodically)
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	go integrityWorker.Start(workerCtx, cfg.MerkleInterval())

	router := server.NewRouter(server.Deps{
		Store:          db,
		Service:        svc,
		Authorizer:     authorizer,
		Provider:       provider,
		Merkle:         merkleSvc,
		Logger:         logger,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimitRPM:   cfg.RateLimitRPM,
		SecureCookies:  cfg.IsProduction(),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		sugar.Infof("Server listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-done:
	case err := <-serveErr:
		return fmt.Errorf("server error: %w", err)
	}
	sugar.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	sugar.Info("Server stopped")
	return nil
}

// newProvider wires accounts, sessions and tokens. Without ACCOUNTS_FILE a
// development admin/admin account is bootstrapped.
func newProvider(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*auth.Provider, func(), error) {
	var (
		accounts *auth.Accounts
		err      error
	)
	if cfg.AccountsFile != "" {
		accounts, err = auth.LoadAccounts(cfg.AccountsFile)
	} else {
		logger.Warnw("ACCOUNTS_FILE not set; bootstrapping development admin account", "user_id", auth.BootstrapUserID)
		accounts, err = auth.BootstrapAccounts()
	}
	if err != nil {
		return nil, nil, err
	}

	var (
		sessions auth.Sessions
		closer   = func() {}
	)
	if cfg.RedisURL != "" {
		rs, err := auth.NewRedisSessions(ctx, cfg.RedisURL, cfg.SessionTTL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		sessions = rs
		closer = func() { _ = rs.Close() }
	} else {
		logger.Infow("REDIS_URL not set; keeping sessions in process")
		sessions = auth.NewMemorySessions(cfg.SessionTTL)
	}

	tokens := auth.NewTokens(cfg.JWTSecret, cfg.SessionTTL)
	return auth.NewProvider(accounts, sessions, tokens), closer, nil
}
