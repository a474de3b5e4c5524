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

	_ "tapgame-backend/docs"
	"tapgame-backend/internal/common/config"
	"tapgame-backend/internal/common/logger"
	"tapgame-backend/internal/common/metrics"
	"tapgame-backend/internal/common/middleware"
	"tapgame-backend/internal/features/account/models"
	accountRepo "tapgame-backend/internal/features/account/repository"
	accountMemory "tapgame-backend/internal/features/account/repository/memory"
	accountMongo "tapgame-backend/internal/features/account/repository/mongo"
	accountRedis "tapgame-backend/internal/features/account/repository/redis"
	accountService "tapgame-backend/internal/features/account/service"
	txRepo "tapgame-backend/internal/features/transaction/repository"
	txMemory "tapgame-backend/internal/features/transaction/repository/memory"
	txMongo "tapgame-backend/internal/features/transaction/repository/mongo"
	txRedis "tapgame-backend/internal/features/transaction/repository/redis"
	txService "tapgame-backend/internal/features/transaction/service"
	apphttp "tapgame-backend/internal/http"
	"tapgame-backend/internal/platform/mongo"
	"tapgame-backend/internal/platform/redis"
	"tapgame-backend/internal/workers"
)

// @title           Tap Game Ledger API
// @version         1.0
// @description     Account ledger for the Telegram tap game. Player endpoints authenticate with Telegram init data.

// @host      localhost:8080
// @BasePath  /api/v1

// @securityDefinitions.apikey TelegramInitData
// @in header
// @name X-Telegram-Init-Data
// @description Telegram Mini App init data string

// @tag.name accounts
// @tag.description Player accounts - balance, energy, spins, perks, check-ins, wallets and referrals

// @tag.name admin
// @tag.description Maintenance endpoints restricted to admin ids

// @tag.name transactions
// @tag.description Payment transaction audit log

const energyResetLeaseKey = "ledger:lease:energy-reset"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger.Init("tapgame-backend", cfg.Debug)
	logger.Info().
		Str("version", "1.0.0").
		Str("store_driver", cfg.Store.Driver).
		Msg("Starting Tap Game Ledger")

	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := map[string]apphttp.HealthCheck{}

	var mongoClient *mongo.Client
	if cfg.Store.Driver == config.DriverMongo || archiveEnabled(cfg) {
		mongoClient, err = mongo.NewClient(cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to MongoDB")
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mongoClient.Close(closeCtx)
		}()
		checks["mongo"] = mongoClient.HealthCheck
	}

	var redisClient *redis.Client
	if cfg.RedisEnabled() {
		redisClient, err = redis.Open(ctx, cfg.RedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisClient.Close()
		checks["redis"] = redisClient.HealthCheck
		logger.Info().Str("addr", cfg.RedisAddr()).Msg("Redis connection established")
	}

	accounts, transactions := buildRepositories(ctx, cfg, mongoClient, redisClient)

	accountSvc, err := accountService.NewAccountService(accounts, accountService.Options{
		StartingEnergy:       cfg.Ledger.StartingEnergy,
		StartingLevel:        cfg.Ledger.StartingLevel,
		CheckInCooldown:      cfg.Ledger.CheckInCooldown,
		CheckInRewardBalance: cfg.Ledger.CheckInRewardBalance,
		CheckInRewardSpins:   cfg.Ledger.CheckInRewardSpins,
		ReferralBonusField:   models.Field(cfg.Ledger.ReferralBonusField),
		ReferralBonusAmount:  cfg.Ledger.ReferralBonusAmount,
		StoreTimeout:         cfg.Store.Timeout,
		CodeCacheSize:        cfg.Ledger.ReferralCodeCacheSize,
	}, m)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create account service")
	}
	transactionSvc := txService.NewTransactionService(transactions, cfg.Store.Timeout, m)

	auth := middleware.NewAuth(cfg.Telegram.BotToken, cfg.Telegram.InitDataTTL, cfg.Telegram.AdminIDs)
	if !auth.Enabled() {
		logger.Warn().Msg("BOT_TOKEN is empty, init data authentication is disabled")
	}

	router := apphttp.NewRouter(apphttp.Deps{
		Config:       cfg,
		Accounts:     accountSvc,
		Transactions: transactionSvc,
		Auth:         auth,
		Metrics:      m,
		Checks:       checks,
	})

	var energyWorker *workers.EnergyResetWorker
	if cfg.Workers.EnergyResetEnabled {
		var lease workers.LeaseFunc
		if redisClient != nil {
			lease = redisLease(redisClient, energyResetLeaseKey, cfg.Workers.EnergyResetInterval)
		}
		energyWorker = workers.NewEnergyResetWorker(accountSvc, cfg.Workers.EnergyResetInterval, lease)
		energyWorker.Start()
	}

	var archiveWorker *workers.TransactionArchiveWorker
	if archiveEnabled(cfg) {
		archive := txMongo.NewTransactionRepository(mongoClient.Database())
		archiveWorker = workers.NewTransactionArchiveWorker(redisClient.Client, archive)
		go archiveWorker.Start(ctx)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("Shutting down server...")

	if energyWorker != nil {
		energyWorker.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	if archiveWorker != nil {
		select {
		case <-archiveWorker.Done():
		case <-shutdownCtx.Done():
			logger.Warn().Msg("Transaction archive worker did not stop in time")
		}
	}

	logger.Info().Msg("Server exited")
}

// archiveEnabled reports whether transactions go through the Redis stream and
// get copied into Mongo.
func archiveEnabled(cfg *config.Config) bool {
	return cfg.Workers.TxArchiveEnabled && cfg.RedisEnabled()
}

func buildRepositories(ctx context.Context, cfg *config.Config, mc *mongo.Client, rc *redis.Client) (accountRepo.AccountRepository, txRepo.TransactionRepository) {
	var accounts accountRepo.AccountRepository
	switch cfg.Store.Driver {
	case config.DriverMongo:
		if err := accountMongo.EnsureIndexes(ctx, mc.Database()); err != nil {
			logger.Fatal().Err(err).Msg("Failed to create account indexes")
		}
		accounts = accountMongo.NewAccountRepository(mc.Database())
	case config.DriverRedis:
		accounts = accountRedis.NewAccountRepository(rc.Client)
	default:
		logger.Warn().Msg("Using in-memory store, data is lost on restart")
		accounts = accountMemory.NewRepository()
	}

	if mc != nil {
		if err := txMongo.EnsureIndexes(ctx, mc.Database()); err != nil {
			logger.Fatal().Err(err).Msg("Failed to create transaction indexes")
		}
	}

	var transactions txRepo.TransactionRepository
	switch {
	case archiveEnabled(cfg), cfg.Store.Driver == config.DriverRedis:
		transactions = txRedis.NewTransactionRepository(rc.Client)
	case cfg.Store.Driver == config.DriverMongo:
		transactions = txMongo.NewTransactionRepository(mc.Database())
	default:
		transactions = txMemory.NewRepository()
	}

	logger.Info().Msg("Repositories initialized")
	return accounts, transactions
}

func redisLease(rc *redis.Client, key string, ttl time.Duration) workers.LeaseFunc {
	return func(ctx context.Context) (func(context.Context) error, bool, error) {
		lease, err := rc.AcquireLease(ctx, key, ttl)
		if err != nil || lease == nil {
			return nil, false, err
		}
		return lease.Release, true, nil
	}
}
