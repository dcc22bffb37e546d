package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/rockstartushar/twilio-jb-activity/internal/api"
	"github.com/rockstartushar/twilio-jb-activity/internal/config"
	"github.com/rockstartushar/twilio-jb-activity/internal/datastore"
	"github.com/rockstartushar/twilio-jb-activity/internal/dedup"
	"github.com/rockstartushar/twilio-jb-activity/internal/descriptor"
	"github.com/rockstartushar/twilio-jb-activity/internal/domain"
	"github.com/rockstartushar/twilio-jb-activity/internal/events"
	"github.com/rockstartushar/twilio-jb-activity/internal/logging"
	"github.com/rockstartushar/twilio-jb-activity/internal/outbox"
	persistence "github.com/rockstartushar/twilio-jb-activity/internal/persistence/postgres"
	"github.com/rockstartushar/twilio-jb-activity/internal/provider/twilio"
	httptransport "github.com/rockstartushar/twilio-jb-activity/internal/transport/http"
	"github.com/rockstartushar/twilio-jb-activity/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []domain.Option{domain.WithLogger(logger.Named("execute"))}

	if cfg.RedisAddr != "" {
		rdb := dedup.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword)
		defer rdb.Close()
		opts = append(opts, domain.WithIdempotencyStore(dedup.NewStore(rdb, cfg.IdempotencyTTL)))
		logger.Info("idempotency store enabled", zap.String("redis", cfg.RedisAddr), zap.Duration("ttl", cfg.IdempotencyTTL))
	}

	var dispatcher *outbox.Dispatcher
	if cfg.DataStore.Enabled() {
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			logger.Fatal("failed to connect to postgres", zap.Error(err))
		}
		defer pool.Close()

		opts = append(opts, domain.WithRecorder(persistence.NewRepository(pool)))

		client := datastore.NewClient(datastore.Config{
			ClientID:     cfg.DataStore.ClientID,
			ClientSecret: cfg.DataStore.ClientSecret,
			AccountID:    cfg.DataStore.AccountID,
			AuthBaseURL:  cfg.DataStore.AuthBaseURL,
			RestBaseURL:  cfg.DataStore.RestBaseURL,
			ExtensionKey: cfg.DataStore.ExtensionKey,
			PrimaryKey:   cfg.DataStore.PrimaryKey,
			Timeout:      cfg.DataStore.Timeout,
		})
		dispatcher = outbox.NewDispatcher(pool, client, logger.Named("outbox"), cfg.OutboxPollInterval, cfg.OutboxBatchSize)
		go dispatcher.Start(ctx)
		logger.Info("status write-back enabled", zap.String("data_extension", cfg.DataStore.ExtensionKey))
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.KafkaEnabled() {
		producer := events.NewKafkaProducer(cfg.KafkaBrokers)
		defer producer.Close()
		publisher = events.NewKafkaPublisher(producer, cfg.StatusTopic, cfg.InboundTopic)
	}

	service := domain.NewService(twilio.NewSender(cfg.TwilioSID, cfg.TwilioToken, cfg.ProviderTimeout), domain.SenderConfig{
		From:                cfg.TwilioFrom,
		MessagingServiceSID: cfg.MessagingSID,
		StatusCallback:      cfg.StatusCallback,
		Timeout:             cfg.ProviderTimeout,
	}, opts...)

	handler, err := api.NewHandler(service, descriptor.NewLoader(cfg.DescriptorPath, cfg.BaseURL), publisher, web.Assets, logger.Named("http"))
	if err != nil {
		logger.Fatal("failed to build handler", zap.Error(err))
	}

	serverCfg := httptransport.DefaultServerConfig(cfg.HTTPAddress(), cfg.ProviderTimeout)
	server := httptransport.NewServer(serverCfg, handler.Router())

	if err := httptransport.Serve(ctx, server, serverCfg.ShutdownTimeout, logger); err != nil {
		logger.Error("http server stopped", zap.Error(err))
	}
	stop()

	if dispatcher != nil {
		dispatcher.Wait()
	}
	logger.Info("shutdown complete")
}
