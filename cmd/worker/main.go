package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"mailcampaign/internal/config"
	"mailcampaign/internal/database"
	"mailcampaign/internal/logging"
	"mailcampaign/internal/progress"
	"mailcampaign/internal/queue"
	"mailcampaign/internal/reporting"
	"mailcampaign/internal/repository"
	"mailcampaign/internal/service"
)

var version = "dev"

func main() {
	// Load .env file (ignore error in production)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	logging.Configure(cfg.Log.Level, cfg.Log.Format)

	if err := reporting.Init(reporting.Options{DSN: cfg.Sentry.DSN, Environment: cfg.Env, Release: version}); err != nil {
		logrus.WithError(err).Warn("Error reporting disabled")
	}
	defer reporting.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.GetDatabaseDSN(), database.PoolConfig{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		logrus.Fatal(err)
	}
	defer db.Close()

	conn, err := queue.NewConnection(cfg.GetRabbitMQURL())
	if err != nil {
		logrus.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer conn.Close()

	progressPublisher, err := queue.NewProgressPublisher(conn, cfg.Dispatch.ProgressExchange)
	if err != nil {
		logrus.Fatalf("Failed to create progress publisher: %v", err)
	}

	store := repository.NewStore(db)
	simulator := service.NewSimulator(cfg.SimulatorConfig())
	notifier := progress.NewNotifier(store.Campaigns(), store.Recipients(), progressPublisher)
	dispatcher := service.NewDispatcher(store, simulator, simulator, notifier)

	consumer, err := queue.NewConsumer(conn, cfg.Dispatch.Queue, dispatchHandler(dispatcher))
	if err != nil {
		logrus.Fatalf("Failed to create consumer: %v", err)
	}
	if err := consumer.Start(cfg.Dispatch.WorkerConcurrency); err != nil {
		logrus.Fatalf("Failed to start consumer: %v", err)
	}

	<-ctx.Done()
	logrus.Info("Shutting down gracefully, waiting for running dispatches")

	if err := consumer.Stop(); err != nil {
		logrus.WithError(err).Error("Error stopping consumer")
	}
	logrus.Info("Worker stopped")
}

// dispatchHandler runs one campaign per job under the job's run id
func dispatchHandler(dispatcher service.CampaignDispatcher) queue.JobHandler {
	return func(ctx context.Context, job *queue.DispatchJob) error {
		_, err := service.RunDispatch(service.WithRunID(ctx, job.RunID), dispatcher, job.CampaignID)
		return err
	}
}
