// Package main is the entry point for the ledger and commission service.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/igorlevin49-blip/nexus-growth-layer/internal/cache"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/config"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/events"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/gateway"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/handler"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/jobs"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/pkg/clock"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/pkg/db"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/repository"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("Failed to load .env file")
	}

	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log.Info().Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	if err := db.Migrate(ctx, dbPool.Pool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	txRepo := repository.NewTransactionRepository(dbPool.Pool)
	memberRepo := repository.NewMemberRepository(dbPool.Pool)
	planRepo := repository.NewPlanRepository(dbPool.Pool)
	orderRepo := repository.NewOrderRepository(dbPool.Pool)
	withdrawalRepo := repository.NewWithdrawalRepository(dbPool.Pool)

	var activationCache service.ActivationCache
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		c := cache.NewActivationCache(redisClient, cfg.Redis.Prefix)
		if err := c.Ping(ctx); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unreachable, activation cache disabled")
		} else {
			activationCache = c
			log.Info().Str("addr", cfg.Redis.Addr).Msg("Activation cache enabled")
		}
	}

	var publisher events.Publisher = events.Noop{}
	if cfg.RabbitMQ.URL != "" {
		rp, err := events.NewRabbitPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			log.Warn().Err(err).Msg("RabbitMQ unreachable, events disabled")
		} else {
			publisher = rp
			log.Info().Str("exchange", cfg.RabbitMQ.Exchange).Msg("Event publishing enabled")
		}
	}
	defer publisher.Close()

	fx, err := service.NewFXConverter(cfg.FX)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid FX configuration")
	}

	clk := clock.Real{}
	loc := cfg.Activation.Location()
	months := service.NewMonthWindow(loc)

	ledgerService := service.NewLedgerService(txRepo, clk, cfg.Ledger)
	network := service.NewNetworkGraph(memberRepo, orderRepo, clk, months, cfg.Ledger.MaxNetworkLevels)
	activation := service.NewActivationTracker(orderRepo, memberRepo, activationCache, clk, months, cfg.Activation)
	commission := service.NewCommissionEngine(network, planRepo, txRepo, activation, publisher, clk, cfg.Ledger, cfg.Commission)
	scheduler := service.NewWithdrawalScheduler(withdrawalRepo, txRepo, publisher, clk, loc, cfg.Ledger.Currency, cfg.Withdrawal.FeeMinor)
	reaper := service.NewFrozenFundsReaper(txRepo, publisher, clk, cfg.Reaper.BatchSize)
	payments := service.NewPaymentService(orderRepo, txRepo, commission, activation, gateway.NewClient(cfg.Gateway),
		fx, publisher, clk, cfg.Gateway, cfg.Ledger)
	plans := service.NewPlanService(planRepo, txRepo, cfg.Ledger.PlanID, cfg.Ledger.MaxNetworkLevels)

	registry := jobs.NewRegistry()
	mustRegister(registry, jobs.Func(jobs.AutoWithdrawals, func(ctx context.Context) (any, error) {
		return scheduler.Run(ctx)
	}))
	mustRegister(registry, jobs.Func(jobs.ReleaseFrozenFunds, func(ctx context.Context) (any, error) {
		return reaper.Run(ctx)
	}))
	runner := jobs.NewRunner(registry, cfg.Jobs.Timeout)

	log.Info().
		Int("job_count", registry.Count()).
		Strs("jobs", registry.Names()).
		Msg("Jobs registered")

	var cron *jobs.Scheduler
	if cfg.Jobs.Enabled {
		cron = jobs.NewScheduler(runner)
		if err := cron.Add(cfg.Jobs.AutoWithdrawSchedule, jobs.AutoWithdrawals); err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule auto-withdrawals")
		}
		if err := cron.Add(cfg.Jobs.FrozenReleaseSchedule, jobs.ReleaseFrozenFunds); err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule frozen funds release")
		}
		cron.Start()
	}

	h := handler.New(handler.Services{
		Ledger:     ledgerService,
		Network:    network,
		Activation: activation,
		Payments:   payments,
		Plans:      plans,
		Withdrawal: scheduler,
		Jobs:       runner,
		Health:     dbPool.HealthCheck,
	})
	auth := handler.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if cfg.Auth.JWTSecret == "" {
		log.Warn().Msg("auth.jwt_secret is empty, authenticated routes will reject every request")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler.NewRouter(h, auth, cfg.Server),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server is starting...")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if cron != nil {
		cron.Stop(shutdownCtx)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	log.Info().Msg("Service stopped gracefully")
}

func mustRegister(registry *jobs.Registry, job jobs.Job) {
	if err := registry.Register(job); err != nil {
		log.Fatal().Err(err).Str("job", job.Name()).Msg("Failed to register job")
	}
}
