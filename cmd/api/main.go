package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/finvera/txn-engine/internal/api"
	"github.com/finvera/txn-engine/internal/api/handlers"
	"github.com/finvera/txn-engine/internal/config"
	"github.com/finvera/txn-engine/internal/db"
	"github.com/finvera/txn-engine/internal/events"
	"github.com/finvera/txn-engine/internal/gateway"
	"github.com/finvera/txn-engine/internal/limits"
	"github.com/finvera/txn-engine/internal/logger"
	"github.com/finvera/txn-engine/internal/metrics"
	"github.com/finvera/txn-engine/internal/reference"
	"github.com/finvera/txn-engine/internal/repository/postgres"
	"github.com/finvera/txn-engine/internal/scheduler"
	"github.com/finvera/txn-engine/internal/services"
	"github.com/finvera/txn-engine/internal/worker"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("db connect", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if os.Getenv("APP_MIGRATE") == "true" {
		if err := db.RunMigrations(ctx, pool); err != nil {
			log.Error("migrations", "err", err)
			os.Exit(1)
		}
	}

	metrics.Init()

	repos := postgres.NewRepositories(pool)
	wp := worker.NewPool(cfg.Fanout)
	defer wp.Stop()

	gw := gateway.NewHTTP(cfg.GatewayURL, cfg.GatewayAPIKey, cfg.GatewayTimeout)

	var limitChecker limits.Checker = limits.AllowAll{}
	if cfg.LimitsURL != "" {
		limitChecker = limits.NewHTTP(cfg.LimitsURL, 5*time.Second)
	}

	var pub events.Publisher = events.Nop{}
	if cfg.AMQPURL != "" {
		amqpPub, err := events.NewAMQP(cfg.AMQPURL, cfg.EventQueue)
		if err != nil {
			log.Error("amqp connect", "err", err)
			os.Exit(1)
		}
		defer amqpPub.Close()
		pub = amqpPub
	}

	intake := services.NewIntakeService(
		repos.Transactions, repos.Accounts, repos.Wallets,
		limitChecker, reference.New("TXN"), cfg.DefaultMaxRetries, log,
	)
	engine := services.NewEngine(repos.Transactions, gw, pub,
		services.RetryPolicy{Base: cfg.RetryBaseDelay, Max: cfg.RetryMaxDelay}, log)
	reversal := services.NewReversalService(repos.Transactions, intake, log)

	sched := scheduler.New(repos.Transactions, engine, wp, cfg.SchedulerInterval, cfg.BatchSize, log)
	sched.Start(ctx)
	defer sched.Stop()

	th := handlers.NewTransactionHandler(intake, reversal, repos.Transactions, repos.StatusHistory)
	r := api.NewRouter(cfg, th)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server", "err", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
