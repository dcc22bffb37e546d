package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/rockstartushar/twilio-jb-activity/internal/config"
	"github.com/rockstartushar/twilio-jb-activity/internal/consumer"
	"github.com/rockstartushar/twilio-jb-activity/internal/logging"
	persistence "github.com/rockstartushar/twilio-jb-activity/internal/persistence/postgres"
	httptransport "github.com/rockstartushar/twilio-jb-activity/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cfg.ValidateWorker(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if !cfg.KafkaEnabled() {
		fmt.Fprintln(os.Stderr, "invalid configuration: missing required environment variables (KAFKA_BROKERS)")
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

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	handler := consumer.NewStatusHandler(persistence.NewRepository(pool), logger.Named("correlation"))

	metricsSrv := httptransport.NewServer(httptransport.ServerConfig{Address: cfg.MetricsAddress}, promhttp.Handler())
	go func() {
		if err := httptransport.Serve(ctx, metricsSrv, 10*time.Second, logger); err != nil {
			logger.Warn("metrics server error", zap.Error(err))
		}
	}()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:         cfg.KafkaBrokers,
		GroupID:         cfg.ConsumerGroupID,
		Topic:           cfg.StatusTopic,
		MinBytes:        1,
		MaxBytes:        10e6,
		CommitInterval:  time.Second,
		ReadLagInterval: -1,
	})

	proc := consumer.NewProcessor(reader, handler, consumer.WithLogger(logger.Named("consumer")))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer reader.Close()

		logger.Info("consumer started", zap.String("topic", cfg.StatusTopic), zap.String("group", cfg.ConsumerGroupID))
		if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("consumer stopped with error", zap.String("topic", cfg.StatusTopic), zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("consumer shutdown requested")
	wg.Wait()
}
