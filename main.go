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

	"github.com/spf13/pflag"

	"service-dispatch/internal/booking/api"
	"service-dispatch/internal/booking/app"
	"service-dispatch/internal/booking/consumer"
	"service-dispatch/internal/booking/domain"
	"service-dispatch/internal/booking/repo"
	"service-dispatch/internal/notification"
	"service-dispatch/internal/shared/config"
	"service-dispatch/internal/shared/health"
	"service-dispatch/internal/shared/jwt"
	"service-dispatch/internal/shared/telemetry"
	"service-dispatch/internal/shared/util"
)

const (
	serviceAPI       = "api"
	serviceTelemetry = "telemetry"
	serviceAll       = "all"
)

func main() {
	service := pflag.StringP("service", "s", "", "Service to run: api|telemetry|all")
	configPath := pflag.StringP("config", "c", "config.yaml", "Path to the YAML configuration")
	migrate := pflag.Bool("migrate", false, "Apply the database schema before starting")
	seed := pflag.String("seed", "", "Load fixtures from a YAML file before starting")
	pflag.Parse()

	// Allow service to be specified via environment variable
	if *service == "" {
		*service = os.Getenv("SERVICE")
	}
	if *service == "" {
		*service = serviceAll
	}

	switch *service {
	case serviceAPI, serviceTelemetry, serviceAll:
	default:
		fmt.Println("Usage: service-dispatch --service=[api|telemetry|all] [--config=config.yaml] [--migrate] [--seed=fixtures.yaml]")
		fmt.Println("   or: SERVICE=api service-dispatch")
		os.Exit(1)
	}

	run(*service, *configPath, *migrate, *seed)
}

func run(service, configPath string, migrate bool, seed string) {
	log := util.New()
	instance := "DispatchService"
	log.Info(instance, "Starting "+service+" service initialization...")

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatal("Config", "Failed to load configuration", err)
	}
	log.OK("Config", "Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.Setup(ctx, cfg.Telemetry, log)

	deps, err := connect(ctx, cfg, log)
	if err != nil {
		log.Fatal("Dependencies", "Failed to connect", err)
	}
	defer deps.Close()

	if migrate || cfg.Database.Driver == "sqlite" {
		if err := deps.store.Migrate(ctx); err != nil {
			log.Fatal("Database", "Migration failed", err)
		}
		log.OK("Database", "Schema is up to date")
	}
	if seed != "" {
		if err := repo.LoadFixtures(ctx, deps.store, seed); err != nil {
			log.Fatal("Database", "Failed to load fixtures", err)
		}
		log.OK("Database", "Fixtures loaded from "+seed)
	}

	var senders map[domain.Channel]notification.Sender
	if deps.publisher != nil {
		senders, err = notification.NewSenders(cfg.Notifications, deps.publisher, log)
	} else {
		senders, err = notification.NewSenders(cfg.Notifications, nil, log)
	}
	if err != nil {
		log.Fatal("Notifications", "Invalid sender configuration", err)
	}
	gateway := notification.NewGateway(deps.store, deps.broadcaster, senders, cfg.Notifications.DeliveryTimeout, log)
	coordinator := app.NewCoordinator(deps.store, gateway, deps.broadcaster, app.Channels{
		User:     domain.Channel(cfg.Notifications.UserChannel),
		Provider: domain.Channel(cfg.Notifications.ProviderChannel),
	}, log)
	tracker := app.NewTracker(deps.store, coordinator, deps.broadcaster, app.TrackerOptions{
		Cache:             deps.cache,
		Archive:           deps.archive,
		Estimator:         app.HaversineEstimator{SpeedKmh: cfg.Tracking.AverageSpeedKmh},
		MinUpdateInterval: cfg.Tracking.MinUpdateInterval,
	}, log)

	var amqpConsumer *consumer.AMQPConsumer
	var mqttConsumer *consumer.MQTTConsumer
	if service == serviceTelemetry || service == serviceAll {
		if deps.rmq != nil {
			ch, err := deps.rmq.Channel()
			if err != nil {
				log.Fatal("RabbitMQ", "Failed to open consumer channel", err)
			}
			if err := consumer.DeclareTelemetry(ch); err != nil {
				log.Fatal("RabbitMQ", "Failed to declare telemetry queues", err)
			}
			amqpConsumer = consumer.NewAMQPConsumer(tracker, ch, log)
			if err := amqpConsumer.Start(ctx); err != nil {
				log.Fatal("AMQPConsumer", "Failed to start telemetry consumer", err)
			}
		}
		if cfg.MQTT.Broker != "" {
			mqttConsumer = consumer.NewMQTTConsumer(cfg.MQTT, tracker, log)
			if err := mqttConsumer.Start(ctx); err != nil {
				log.Fatal("MQTTConsumer", "Failed to start device telemetry consumer", err)
			}
			log.OK("MQTTConsumer", "Connected to "+cfg.MQTT.Broker)
		}
		if amqpConsumer == nil && mqttConsumer == nil {
			log.Warn(instance, "no telemetry transport configured; only REST telemetry is accepted")
		}
	}

	healthHandler := health.Handler(cfg.Telemetry.ServiceName, deps.checks...)
	var handler http.Handler
	if service == serviceAPI || service == serviceAll {
		if cfg.Auth.JWTSecret == "" {
			log.Fatal("Config", "auth.jwt_secret is required", nil)
		}
		tokens := jwt.NewManager(cfg.Auth.JWTSecret, time.Hour)
		h := api.NewHandler(coordinator, tracker, gateway, tokens, deps.hub, log)
		handler = h.Routes(api.RouterConfig{
			ServiceName:    cfg.Telemetry.ServiceName,
			RequestTimeout: cfg.HTTP.RequestTimeout,
			Health:         healthHandler,
		})
	} else {
		mux := http.NewServeMux()
		mux.Handle("/health", healthHandler)
		handler = mux
	}

	server := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.OK("HTTP", fmt.Sprintf("%s service running on :%s", service, cfg.HTTP.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP", "Server error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Warn(instance, "Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP", "Shutdown error", err)
	} else {
		log.OK("HTTP", "Server stopped gracefully")
	}
	if amqpConsumer != nil {
		amqpConsumer.Wait()
	}
	if mqttConsumer != nil {
		mqttConsumer.Stop()
	}
	gateway.Wait()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("Telemetry", "Failed to flush traces", err)
	}
	log.Info(instance, "Shutdown complete")
}
