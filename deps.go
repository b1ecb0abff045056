package main

import (
	"context"
	"fmt"

	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"service-dispatch/internal/booking/domain"
	"service-dispatch/internal/booking/repo"
	"service-dispatch/internal/realtime"
	"service-dispatch/internal/shared/db"
	"service-dispatch/internal/shared/health"
	"service-dispatch/internal/shared/models"
	"service-dispatch/internal/shared/mq"
	"service-dispatch/internal/shared/util"
)

type storeBackend interface {
	domain.Store
	repo.Seeder
	Migrate(ctx context.Context) error
}

// dependencies holds every connection opened at startup. Optional ones
// stay nil when their section of the config is empty.
type dependencies struct {
	store       storeBackend
	hub         *realtime.Hub
	broadcaster domain.Broadcaster
	cache       domain.LocationCache
	archive     domain.LocationArchive
	rmq         *amqp091.Connection
	publisher   *mq.Publisher
	checks      []health.Check
	closers     []func() error
	log         *util.Logger
}

func connect(ctx context.Context, cfg *models.Config, log *util.Logger) (*dependencies, error) {
	d := &dependencies{hub: realtime.NewHub(log), log: log}
	d.broadcaster = d.hub

	if err := d.openStore(ctx, cfg.Database); err != nil {
		d.Close()
		return nil, err
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			d.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		d.cache = repo.NewRedisLocationCache(client)
		d.checks = append(d.checks, health.Redis(client))
		d.closers = append(d.closers, client.Close)
		log.OK("Redis", "Location cache connected")
	}

	if len(cfg.Kafka.Brokers) > 0 {
		archive := repo.NewKafkaLocationArchive(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		d.archive = archive
		d.closers = append(d.closers, archive.Close)
		log.OK("Kafka", "Location archive writing to "+cfg.Kafka.Topic)
	}

	if cfg.RabbitMQ.Enabled() {
		if err := d.openBroker(ctx, cfg); err != nil {
			d.Close()
			return nil, err
		}
	}
	return d, nil
}

func (d *dependencies) openStore(ctx context.Context, cfg models.DatabaseConfig) error {
	switch cfg.Driver {
	case "postgres":
		pool, err := db.ConnectToDB(ctx, &cfg)
		if err != nil {
			return err
		}
		d.store = repo.NewPostgresRepo(pool)
		d.checks = append(d.checks, health.Postgres(pool))
		d.closers = append(d.closers, func() error { pool.Close(); return nil })
		d.log.OK("Database", "Connected to PostgreSQL")
	default:
		sqlDB, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return err
		}
		d.store = repo.NewSQLiteRepo(sqlDB)
		d.checks = append(d.checks, health.SQL(sqlDB))
		d.closers = append(d.closers, sqlDB.Close)
		d.log.OK("Database", "Opened SQLite at "+cfg.SQLitePath)
	}
	return nil
}

// openBroker connects to RabbitMQ, declares the notification exchange and
// starts the room relay so broadcasts reach every instance.
func (d *dependencies) openBroker(ctx context.Context, cfg *models.Config) error {
	conn, err := mq.ConnectToRMQ(ctx, &cfg.RabbitMQ, d.log)
	if err != nil {
		return err
	}
	d.rmq = conn
	d.checks = append(d.checks, health.RabbitMQ(conn))
	d.closers = append(d.closers, conn.Close)

	pubCh, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open publish channel: %w", err)
	}
	if err := mq.DeclareTopic(pubCh, cfg.Notifications.Exchange); err != nil {
		return err
	}
	d.publisher = mq.NewPublisher(pubCh)

	relayCh, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open relay channel: %w", err)
	}
	queue, err := realtime.DeclareRelay(relayCh)
	if err != nil {
		return err
	}
	relay := realtime.NewRelay(d.publisher, d.hub, d.log)
	go func() {
		if err := relay.Run(ctx, relayCh, queue); err != nil {
			d.log.Error("Relay", "Room relay stopped", err)
		}
	}()
	d.broadcaster = relay
	d.log.OK("RabbitMQ", "Connected; room relay on "+queue)
	return nil
}

// Close releases connections in reverse order of opening.
func (d *dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			d.log.Warn("Dependencies", fmt.Sprintf("close: %v", err))
		}
	}
	d.closers = nil
}
