package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/api"
	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/domain"
	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/infrastructure/cache"
	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/infrastructure/events"
	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/infrastructure/providers"
	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/infrastructure/repository"
	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/infrastructure/tasks"
	"github.com/safe-global/safe-decoder-service/services/decoder-service/internal/service"
	"github.com/safe-global/safe-decoder-service/services/decoder-service/migrations"
	"github.com/safe-global/safe-decoder-service/shared/config"
	"github.com/safe-global/safe-decoder-service/shared/logging"
	"github.com/safe-global/safe-decoder-service/shared/messaging"
	"github.com/safe-global/safe-decoder-service/shared/metrics"
	"github.com/safe-global/safe-decoder-service/shared/migration"
	"github.com/safe-global/safe-decoder-service/shared/monitoring"
	"github.com/safe-global/safe-decoder-service/shared/postgres"
	"github.com/safe-global/safe-decoder-service/shared/redis"
	"github.com/safe-global/safe-decoder-service/shared/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.NewLogger(&logging.Config{
		Level:       logging.LogLevel(cfg.Monitoring.LogLevel),
		Service:     cfg.ServiceName,
		Environment: cfg.Environment,
		PrettyLog:   cfg.Environment == "development",
	})

	if err := monitoring.InitSentry(&monitoring.SentryConfig{
		DSN:              cfg.Monitoring.SentryDSN,
		Environment:      cfg.Monitoring.SentryEnv,
		Release:          cfg.ServiceVersion,
		ServiceName:      cfg.ServiceName,
		TracesSampleRate: cfg.Monitoring.TracingSampling,
	}); err != nil {
		logger.WithError(err).Warn("Failed to initialize Sentry")
	}
	defer monitoring.FlushSentry()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := buildApplication(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to build application: %v", err)
	}
	defer app.Close()

	// One-shot CLI commands run against the same wiring
	if len(os.Args) > 1 {
		if err := app.runCommand(ctx, os.Args[1:]); err != nil {
			logger.Fatalf("Command failed: %v", err)
		}
		return
	}

	app.start(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received, stopping decoder service")

	cancel()
	app.stop()
}

// application bundles the wired components
type application struct {
	cfg    *config.GlobalConfig
	logger *logging.Logger

	postgresClient *postgres.Postgres
	redisClient    *redis.Redis
	amqpClient     *messaging.RabbitMQ

	queue           *tasks.Queue
	runner          *tasks.Runner
	scheduler       *tasks.Scheduler
	consumer        *events.EventConsumer
	metadataService *service.ContractMetadataService
	decoderService  *service.DataDecoderService
	safeContracts   *service.SafeContractsService
	contractRepo    domain.ContractRepository
	server          *http.Server
}

func buildApplication(ctx context.Context, cfg *config.GlobalConfig, logger *logging.Logger) (*application, error) {
	postgresClient, err := postgres.NewPostgres(postgres.PostgresConfig{
		DatabaseURL:  cfg.Database.DatabaseURL,
		PoolSize:     cfg.Database.PoolSize,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		ConnLifetime: cfg.Database.ConnLifetime,
	})
	if err != nil {
		return nil, err
	}
	if err := postgresClient.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	migrator, err := migration.NewMigrator(&migration.Config{
		DB:         postgresClient.GetClient(),
		Migrations: migrations.Files,
		Dir:        ".",
	})
	if err != nil {
		return nil, err
	}
	if err := migrator.Migrate(); err != nil {
		return nil, err
	}

	redisClient, err := redis.NewRedis(redis.RedisConfig{URL: cfg.Cache.RedisURL})
	if err != nil {
		return nil, err
	}
	if err := redisClient.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	serviceMetrics := metrics.NewMetrics("safe", "decoder_service")

	abiRepo := repository.NewAbiRepository(postgresClient)
	abiSourceRepo := repository.NewAbiSourceRepository(postgresClient)
	contractRepo := repository.NewContractRepository(postgresClient)

	responseCache := cache.NewResponseCache(redisClient, cfg.Cache.ResponseCacheTTL)
	attemptCache := cache.NewAttemptCache(redisClient)

	queue := tasks.NewQueue(redisClient)
	pool := providers.NewPool(providers.PoolConfig{
		EtherscanAPIKey:       cfg.Providers.EtherscanAPIKey,
		EtherscanMaxRequests:  cfg.Providers.EtherscanMaxRequests,
		BlockscoutAPIKey:      cfg.Providers.BlockscoutAPIKey,
		BlockscoutMaxRequests: cfg.Providers.BlockscoutMaxRequests,
		SourcifyMaxRequests:   cfg.Providers.SourcifyMaxRequests,
		RequestTimeout:        cfg.Providers.RequestTimeout,
	}, logger)

	metadataService := service.NewContractMetadataService(
		contractRepo, abiRepo, abiSourceRepo,
		pool, attemptCache, responseCache, queue,
		cfg.Contracts.MaxDownloadRetries, logger,
	)

	decoderService, err := service.NewDataDecoderService(abiRepo, contractRepo, logger, serviceMetrics)
	if err != nil {
		return nil, err
	}

	abiService := service.NewAbiService(abiRepo, abiSourceRepo, logger)
	if err := abiService.LoadLocalAbisInDatabase(ctx); err != nil {
		return nil, fmt.Errorf("failed to seed bundled abis: %w", err)
	}
	if err := decoderService.Init(ctx); err != nil {
		return nil, err
	}

	safeContracts := service.NewSafeContractsService(contractRepo, cfg.Contracts.TrustedForDelegateCall, logger)
	if err := safeContracts.UpdateSafeContractsInfo(ctx); err != nil {
		logger.WithError(err).Warn("Failed to update well-known Safe contracts on startup")
	}

	runner := tasks.NewRunner(queue, cfg.Contracts.TaskWorkers, logger, serviceMetrics)
	runner.Register(tasks.TaskGetContractMetadata, func(taskCtx context.Context, args []interface{}) error {
		address, chainID, skipAttemptCheck, err := tasks.ParseMetadataFetchArgs(args)
		if err != nil {
			return err
		}
		return metadataService.ProcessMetadata(taskCtx, address, chainID, skipAttemptCheck)
	})

	scheduler, err := tasks.NewScheduler(tasks.ScheduledJobs{
		RescanContractsWithoutAbi: func(jobCtx context.Context) error {
			return contractRepo.StreamWithoutAbi(jobCtx, cfg.Contracts.MaxDownloadRetries, func(c *domain.Contract) error {
				return queue.EnqueueMetadataFetch(jobCtx, c.Address, c.ChainID, true)
			})
		},
		RefreshProxyContracts: func(jobCtx context.Context) error {
			return contractRepo.StreamProxyContracts(jobCtx, func(c *domain.Contract) error {
				return queue.EnqueueMetadataFetch(jobCtx, c.Address, c.ChainID, true)
			})
		},
		UpdateWellKnownContracts: safeContracts.UpdateSafeContractsInfo,
	}, logger)
	if err != nil {
		return nil, err
	}

	// A broken broker connection must not take the service down; the
	// API and the task runtime keep working without the consumer.
	var consumer *events.EventConsumer
	var amqpClient *messaging.RabbitMQ
	err = resilience.RetryWithConfig(ctx, &resilience.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		BackoffFactor: 2.0,
		RetryableErrors: func(err error) bool {
			return errors.Is(err, messaging.ErrUnableToConnect)
		},
	}, func(ctx context.Context) error {
		var connectErr error
		amqpClient, connectErr = messaging.NewRabbitMQ(messaging.RabbitMQConfig{
			AMQPURL:  cfg.Messaging.AMQPURL,
			Exchange: cfg.Messaging.Exchange,
		})
		return connectErr
	})
	if err != nil {
		if errors.Is(err, messaging.ErrUnableToConnect) {
			logger.WithError(err).Error("Unable to connect to the message broker, events will not be consumed")
			amqpClient = nil
		} else {
			return nil, err
		}
	} else {
		eventsService := service.NewEventsService(queue, logger)
		consumer = events.NewEventConsumer(amqpClient, cfg.Messaging.EventsQueueName,
			func(msgCtx context.Context, body []byte) {
				eventsService.ProcessEvent(msgCtx, body)
			}, logger, serviceMetrics)
	}

	contractService := service.NewContractService(contractRepo)
	handlers := api.NewHandlers(contractService, decoderService, responseCache, logger,
		cfg.ServiceVersion, cfg.Contracts.LogoBaseURL)

	health := map[string]api.HealthChecker{
		"postgres": postgresClient,
		"redis":    redisClient,
	}
	if amqpClient != nil {
		health["rabbitmq"] = amqpClient
	}

	router := api.NewRouter(api.RouterConfig{
		Version:     cfg.ServiceVersion,
		Environment: cfg.Environment,
		LogoBaseURL: cfg.Contracts.LogoBaseURL,
		MetricsPath: cfg.Monitoring.MetricsPath,
		HealthPath:  cfg.Monitoring.HealthCheckPath,
	}, handlers, logger, serviceMetrics, health)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		Handler:      router.Engine(),
		ReadTimeout:  cfg.API.RequestTimeout,
		WriteTimeout: cfg.API.RequestTimeout,
	}

	return &application{
		cfg:             cfg,
		logger:          logger,
		postgresClient:  postgresClient,
		redisClient:     redisClient,
		amqpClient:      amqpClient,
		queue:           queue,
		runner:          runner,
		scheduler:       scheduler,
		consumer:        consumer,
		metadataService: metadataService,
		decoderService:  decoderService,
		safeContracts:   safeContracts,
		contractRepo:    contractRepo,
		server:          server,
	}, nil
}

func (a *application) start(ctx context.Context) {
	a.runner.Start(ctx)
	a.scheduler.Start()

	if a.consumer != nil {
		if err := a.consumer.Start(ctx); err != nil {
			a.logger.WithError(err).Error("Failed to start event consumer")
		}
	}

	go func() {
		a.logger.Infof("Decoder service listening on %s", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Fatalf("HTTP server failed: %v", err)
		}
	}()
}

func (a *application) stop() {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.API.ShutdownTimeout)
	defer shutdownCancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.WithError(err).Error("Error during HTTP server shutdown")
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(); err != nil {
			a.logger.WithError(err).Error("Error during consumer shutdown")
		}
	}

	a.scheduler.Stop()
	a.runner.Wait()
	a.logger.Info("Decoder service stopped")
}

func (a *application) Close() {
	if a.amqpClient != nil {
		a.amqpClient.Close()
	}
	a.redisClient.Close()
	a.postgresClient.Close()
}

// runCommand dispatches one-shot CLI subcommands
func (a *application) runCommand(ctx context.Context, args []string) error {
	switch args[0] {
	case "download-contract":
		if len(args) != 3 {
			return fmt.Errorf("usage: download-contract <address> <chain-id>")
		}
		if !common.IsHexAddress(args[1]) {
			return fmt.Errorf("invalid address %q", args[1])
		}
		chainID, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid chain id %q", args[2])
		}
		return a.downloadContract(ctx, common.HexToAddress(args[1]), chainID)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// downloadContract fetches and persists metadata for one contract,
// reporting the state of the stored row first.
func (a *application) downloadContract(ctx context.Context, address common.Address, chainID int64) error {
	contract, err := a.contractRepo.Get(ctx, address, chainID)
	if err != nil {
		return err
	}
	if contract != nil {
		a.logger.Infof("Contract: %s, retries: %d, contains ABI: %t",
			address.Hex(), contract.FetchRetries, contract.HasAbi())
	} else {
		a.logger.Infof("Contract %s was never retrieved", address.Hex())
	}

	return a.metadataService.ProcessMetadata(ctx, address, chainID, true)
}
