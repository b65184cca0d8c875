package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/paylance/ledger/internal/db"
	"github.com/paylance/ledger/internal/handlers"
	"github.com/paylance/ledger/internal/handlers/middleware"
	"github.com/paylance/ledger/internal/logger"
	"github.com/paylance/ledger/internal/repository/postgres"
	"github.com/paylance/ledger/internal/service/balance"
	"github.com/paylance/ledger/internal/service/identity"
	"github.com/paylance/ledger/internal/service/settlement"
	"github.com/paylance/ledger/internal/service/withdrawal"
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	// Initialize repositories
	storage := postgres.NewStorage(pool)

	// Initialize services
	verifier, err := identity.New(identity.Config{SecretKey: c.SecretKey})
	if err != nil {
		return nil, fmt.Errorf("error while creating identity verifier. Err: %w", err)
	}
	settler := settlement.NewClient(c.SettlementAddr, logger)
	balanceService := balance.NewService(storage, logger)
	withdrawalService := withdrawal.NewService(storage, settler, logger)

	mux := handlers.NewRouter(
		balanceService,
		withdrawalService,
		middleware.IdentityMiddleware(verifier),
		logger,
	)

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    mux,
	}, nil
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); err == context.DeadlineExceeded {
			slog.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		slog.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	slog.Info("Starting server")
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	return err
}
