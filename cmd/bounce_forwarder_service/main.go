package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aradsms/bounce_forwarder/internal/bounce_forwarder_service/adapters/sparkpost"
	"github.com/aradsms/bounce_forwarder/internal/bounce_forwarder_service/app"
	httptransport "github.com/aradsms/bounce_forwarder/internal/bounce_forwarder_service/transport/http"
	"github.com/aradsms/bounce_forwarder/internal/platform/config"
	"github.com/aradsms/bounce_forwarder/internal/platform/logger"
	"github.com/aradsms/bounce_forwarder/internal/platform/messagebroker"
)

const (
	serviceName     = "bounce_forwarder_service"
	shutdownTimeout = 30 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "service", serviceName, "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat).With("service", serviceName)
	log.Info("Bounce forwarder starting...", "port", cfg.Port, "config_file", cfg.ConfigFileUsed)

	if err := run(cfg, log); err != nil {
		log.Error("Bounce forwarder stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("Bounce forwarder shut down.")
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transport, err := messagebroker.Open(ctx, cfg.QueueURL, messagebroker.Options{
		Name:           "bounce-forwarder",
		HealthInterval: cfg.QueueHealthInterval,
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("open queue transport: %w", err)
	}
	defer func() {
		if err := transport.Close(); err != nil {
			log.Error("Failed to close queue transport", "error", err)
		}
	}()

	spClient := sparkpost.NewClient(log, cfg.SparkPostAPIURL, cfg.SparkPostAPIKey, &http.Client{Timeout: cfg.SparkPostTimeout})

	builder := app.NewBounceBuilder(cfg.ForwardFrom, cfg.ForwardTo)
	receiver := app.NewReceiver(transport.Publisher, transport.Subscriber, cfg.QueueChannel, builder, log)
	worker := app.NewRelayWorker(transport.Subscriber, spClient, cfg.QueueChannel, cfg.ForwardTo, log)
	registrar := app.NewRegistrar(spClient, cfg.WebhookAuthToken, log)

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Receiver:   receiver,
		Registrar:  registrar,
		Publisher:  transport.Publisher,
		Subscriber: transport.Subscriber,
		PublicDir:  cfg.PublicDir,
		Logger:     log,
	})
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return worker.Run(groupCtx)
	})

	g.Go(func() error {
		log.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		log.Info("Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
