package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/meridianhq/billing-ledger/internal/config"
	gateway "github.com/meridianhq/billing-ledger/internal/gateways"
	"github.com/meridianhq/billing-ledger/internal/model"
	"github.com/meridianhq/billing-ledger/internal/processor"
	"github.com/meridianhq/billing-ledger/internal/repository"
	"github.com/meridianhq/billing-ledger/internal/services"
	"github.com/meridianhq/billing-ledger/pkg/logger"
	"github.com/meridianhq/billing-ledger/pkg/pg"
	"github.com/meridianhq/billing-ledger/pkg/prom"
	"github.com/meridianhq/billing-ledger/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	readConf := pg.Config{
		User:     config.Get().PostgresReadUser,
		Host:     config.Get().PostgresReadHost,
		Port:     config.Get().PostgresReadPort,
		Password: config.Get().PostgresReadPassword,
		Database: config.Get().PostgresReadDatabase,
	}
	writeConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}

	pgDebug := false
	if config.Get().AppEnv == "dev" {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", config.Get().RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{config.Get().RedisAddr},
		ClientName: "default",
		DB:         config.Get().RedisDatabase,
		Username:   config.Get().RedisUsername,
		Password:   config.Get().RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Kill, os.Interrupt, syscall.SIGTERM)

	rails := gateway.Registry{
		model.ProcessorStripe: gateway.NewStripeRail(gateway.StripeConfig{
			BaseURL:    config.Get().StripeBaseUrl,
			APIKey:     config.Get().StripeApiKey,
			Timeout:    config.Get().StripeTimeout,
			MaxRetries: config.Get().StripeMaxRetries,
			RetryDelay: time.Millisecond * 100,
			MaxConns:   1000,
		}),
		model.ProcessorOpenCollective: gateway.NewOpenCollectiveRail(),
	}

	transactionRepo := repository.NewTransactionRepository(db)
	accountRepo := repository.NewAccountRepository(db)

	balanceService := services.NewBalanceService(transactionRepo, accountRepo, rails)
	transferService := services.NewTransferService(transactionRepo, accountRepo, rails)
	processorFeeService := services.NewProcessorFeeService(transactionRepo, rails)
	platformFeeService := services.NewPlatformFeeService(transactionRepo, balanceService, services.FeeConfig{
		PledgeFeePercent:       config.Get().PledgeFeePercent,
		SubscriptionFeePercent: config.Get().SubscriptionFeePercent,
	})
	paymentService := services.NewPaymentService(transactionRepo, rails, processorFeeService)
	disputeService := services.NewDisputeService(transactionRepo, rails, balanceService, processorFeeService)
	refundService := services.NewRefundService(transactionRepo, rails, transferService, processorFeeService)
	payoutService := services.NewPayoutService(transactionRepo, accountRepo, rails)

	// Initialize idempotency service
	idempotencyConfig := processor.DefaultIdempotencyConfig()
	idempotencyService := processor.NewIdempotencyService(redisAdap, idempotencyConfig)

	service, err := processor.NewProcessorService(redisAdap)
	if err != nil {
		logger.Error("failed to run the processor", "error", err)
		return
	}
	service.RegisterProcessor(processor.NewEventProcessor(
		rails,
		idempotencyService,
		accountRepo,
		paymentService,
		balanceService,
		transferService,
		platformFeeService,
		refundService,
		disputeService,
		payoutService,
	))

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, config.Get().AppEnv, config.Get().PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	go func() {
		prom.ListenAndServer(":9100", "/metrics")
	}()

	go func() {
		err := service.Start()
		if err != nil {
			logger.Error("failed to start processor", "error", err)
		}
	}()

	select {
	case <-c:
		service.Stop()
	}
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
