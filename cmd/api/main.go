package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"mailcampaign/internal/config"
	"mailcampaign/internal/database"
	"mailcampaign/internal/handler"
	"mailcampaign/internal/logging"
	"mailcampaign/internal/progress"
	"mailcampaign/internal/queue"
	"mailcampaign/internal/reporting"
	"mailcampaign/internal/repository"
	"mailcampaign/internal/service"
)

// version is overridden at build time with -ldflags "-X main.version=..."
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

	store := repository.NewStore(db)
	hub := progress.NewHub(cfg.Stream.Buffer)

	var (
		scheduler service.JobScheduler
		inline    *service.AsyncScheduler
		relay     *queue.ProgressRelay
		probe     service.QueueProbe
	)

	if cfg.UsesQueue() {
		conn, err := queue.NewConnection(cfg.GetRabbitMQURL())
		if err != nil {
			logrus.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		defer conn.Close()

		publisher, err := queue.NewPublisher(conn, cfg.Dispatch.Queue)
		if err != nil {
			logrus.Fatalf("Failed to create publisher: %v", err)
		}

		scheduler = queue.NewDispatchScheduler(publisher)
		relay = queue.NewProgressRelay(conn, cfg.Dispatch.ProgressExchange, hub)
		probe = conn
	} else {
		simulator := service.NewSimulator(cfg.SimulatorConfig())
		notifier := progress.NewNotifier(store.Campaigns(), store.Recipients(), hub)
		inline = service.NewAsyncScheduler(service.NewDispatcher(store, simulator, simulator, notifier))
		scheduler = inline
	}

	campaignService := service.NewCampaignService(store, scheduler)
	healthService := service.NewHealthService(db, probe, cfg.Dispatch.Mode, version)

	router := handler.NewRouter(
		handler.NewCampaignHandler(campaignService),
		handler.NewStreamHandler(campaignService, hub, cfg.Stream.Heartbeat),
		handler.NewHealthHandler(healthService),
	)

	// cancelled on shutdown so open event streams end
	streamCtx, cancelStreams := context.WithCancel(context.Background())
	defer cancelStreams()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return streamCtx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logrus.WithFields(logrus.Fields{
			"addr":          srv.Addr,
			"env":           cfg.Env,
			"dispatch_mode": cfg.Dispatch.Mode,
		}).Info("API server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logrus.Info("Shutting down gracefully")

		cancelStreams()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if relay != nil {
		g.Go(func() error {
			return relay.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		logrus.WithError(err).Error("Server stopped with error")
	}

	if inline != nil {
		logrus.Info("Waiting for running dispatches to finish")
		inline.Close()
	}

	logrus.Info("API server stopped")
}
