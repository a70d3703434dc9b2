package main

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"chainattend/internal/api"
	"chainattend/internal/attendance"
	"chainattend/internal/auth"
	"chainattend/internal/chain"
	"chainattend/internal/config"
	"chainattend/internal/journal"
	"chainattend/internal/queue"
	"chainattend/internal/session"
	"chainattend/internal/store"
	"chainattend/pkg/logger"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(&cfg.Log, logger.DefaultServiceName)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to init logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	for _, w := range cfg.Warnings {
		log.Warn("config", zap.String("warning", w))
	}

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, log); err != nil {
		log.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return err
	}
	defer eth.Close()

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		if id, err := eth.ChainID(ctx); err != nil {
			log.Warn("chain id lookup failed, signing for chain 1337", zap.String("rpc", cfg.RPCURL), zap.Error(err))
			chainID = big.NewInt(1337)
		} else {
			chainID = id
		}
	}

	wallet, err := chain.NewWallet(cfg.SignerKeys, chainID)
	if err != nil {
		return err
	}
	if len(wallet.Accounts()) == 0 {
		log.Warn("no signer keys configured (SIGNER_KEYS); no account can connect")
	}
	if !cfg.ContractConfigured() {
		log.Error(session.ErrNotConfigured.Error())
	}

	metrics := chain.NewMetrics(prometheus.DefaultRegisterer)
	dialer := chain.NewEthDialer(cfg.ContractAddress, eth, wallet, metrics)
	sessions := session.NewManager(session.NewResolver(dialer, cfg.ContractAddress, log), cfg.SessionTTL, log)
	go sessions.RunSweeper(ctx, time.Minute)

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer func() { _ = redisClient.Close() }()

	var q queue.Queue
	checks := map[string]api.Check{
		"rpc": func(ctx context.Context) bool {
			_, err := eth.BlockNumber(ctx)
			return err == nil
		},
	}
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "")
		checks["redis"] = redisClient.Healthy
	}

	// tx events are only published when something consumes them
	var (
		journalReader api.JournalReader
		publisher     queue.Publisher
	)
	if cfg.QueueBackend != "memory" {
		publisher = q
	}
	if cfg.DatabaseURL != "" {
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Warn("db not reachable", zap.Error(err))
		} else if err := db.Migrate(ctx); err != nil {
			log.Warn("journal migrations failed", zap.Error(err))
		}
		if db != nil {
			defer func() { _ = db.Close() }()
			repo := journal.NewRepository(db.Client)
			journalReader = repo
			checks["db"] = db.Healthy
			if cfg.QueueBackend == "memory" {
				publisher = q
				go drainLocal(ctx, q, repo, log)
			}
		}
	}

	panels := attendance.NewRegistry(publisher, cfg.DetailConcurrency, log)
	events, unsubscribe := sessions.Subscribe(64)
	defer unsubscribe()
	go panels.Watch(ctx, events)

	h := api.New(api.Options{
		Sessions:      sessions,
		Panels:        panels,
		Accounts:      wallet,
		Journal:       journalReader,
		Checks:        checks,
		Challenges:    auth.NewChallenges(5 * time.Minute),
		JWTIssuer:     cfg.JWTIssuer,
		JWTSigningKey: cfg.JWTSigningKey,
		SessionTTL:    cfg.SessionTTL,
		CallTimeout:   cfg.CallTimeout,
		RatePerMinute: cfg.RateLimitPerMin,
		Log:           log,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      h.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute, // writes wait for the transaction to be mined
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server",
			zap.String("addr", srv.Addr),
			zap.String("contract", cfg.ContractAddress),
			zap.String("chain_id", chainID.String()),
			zap.Strings("accounts", wallet.Accounts()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", zap.Error(err))
	}

	log.Info("server exited")
	return nil
}

// drainLocal writes journal entries in-process when no external queue
// connects the API to cmd/worker.
func drainLocal(ctx context.Context, q queue.Queue, repo *journal.Repository, log *zap.Logger) {
	msgs, err := q.Consume(ctx)
	if err != nil {
		log.Warn("journal consume failed", zap.Error(err))
		return
	}
	n := journal.Drain(ctx, msgs, repo, log)
	log.Info("journal drained", zap.Int("entries", n))
}
