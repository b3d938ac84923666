// Package app opens the storage, lease and event backends selected by
// configuration and hands them to the processes under cmd/.
package app

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/hackgods/slot-booking/internal/api"
	"github.com/hackgods/slot-booking/internal/booking"
	"github.com/hackgods/slot-booking/internal/clock"
	"github.com/hackgods/slot-booking/internal/config"
	"github.com/hackgods/slot-booking/internal/db"
	"github.com/hackgods/slot-booking/internal/events"
	"github.com/hackgods/slot-booking/internal/lock"
	"github.com/hackgods/slot-booking/internal/logger"
	redisclient "github.com/hackgods/slot-booking/internal/redis"
	"github.com/hackgods/slot-booking/migrations"
)

type Backends struct {
	Repo      booking.Repository
	Locks     lock.Manager
	Publisher events.Publisher
	Checks    []api.DependencyCheck

	// Sweeper is set when leases live in process memory.
	Sweeper *lock.MemoryManager

	closers []func() error
}

// Open connects every backend cfg selects. On failure whatever was already
// opened is closed again.
func Open(ctx context.Context, cfg config.Config, log *logger.Logger, clk clock.Clock) (*Backends, error) {
	b := &Backends{}

	if err := b.openStorage(ctx, cfg, log); err != nil {
		b.Close(log)
		return nil, err
	}
	if err := b.openLocks(ctx, cfg, log, clk); err != nil {
		b.Close(log)
		return nil, err
	}
	if err := b.openEvents(cfg, log); err != nil {
		b.Close(log)
		return nil, err
	}
	return b, nil
}

func (b *Backends) openStorage(ctx context.Context, cfg config.Config, log *logger.Logger) error {
	switch cfg.StorageBackend {
	case config.StorageMongo:
		client, err := db.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return fmt.Errorf("mongo connection: %w", err)
		}
		b.closers = append(b.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return client.Disconnect(ctx)
		})

		repo := booking.NewMongoRepository(client, cfg.MongoDatabase)
		if err := repo.EnsureIndexes(ctx); err != nil {
			return fmt.Errorf("mongo indexes: %w", err)
		}
		b.Repo = repo
		b.Checks = append(b.Checks, api.DependencyCheck{
			Name:     "mongo",
			Critical: true,
			Ping:     func(ctx context.Context) error { return client.Ping(ctx, readpref.Primary()) },
		})
		log.Info("connected to MongoDB", "database", cfg.MongoDatabase)

	default:
		pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("postgres connection: %w", err)
		}
		b.closers = append(b.closers, func() error { pool.Close(); return nil })

		if err := migrations.Apply(ctx, pool); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		b.Repo = booking.NewPgRepository(pool)
		b.Checks = append(b.Checks, api.DependencyCheck{
			Name:     "postgres",
			Critical: true,
			Ping:     pool.Ping,
		})
		log.Info("connected to Postgres")
	}
	return nil
}

func (b *Backends) openLocks(ctx context.Context, cfg config.Config, log *logger.Logger, clk clock.Clock) error {
	if cfg.LockBackend != config.LockRedis {
		b.Sweeper = lock.NewMemoryManager(clk)
		b.Locks = b.Sweeper
		log.Info("using in-process slot leases")
		return nil
	}

	rdb, err := redisclient.NewClient(ctx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		return fmt.Errorf("redis connection: %w", err)
	}
	b.closers = append(b.closers, rdb.Close)

	b.Locks = lock.NewRedisManager(rdb, clk)
	// Without the lease store every claim comes back busy.
	b.Checks = append(b.Checks, api.DependencyCheck{
		Name:     "redis",
		Critical: true,
		Ping:     func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	})
	log.Info("connected to Redis", "addr", cfg.RedisAddr)
	return nil
}

func (b *Backends) openEvents(cfg config.Config, log *logger.Logger) error {
	switch cfg.EventsBackend {
	case config.EventsKafka:
		p, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		if err != nil {
			return fmt.Errorf("kafka publisher: %w", err)
		}
		b.Publisher = p
		log.Info("publishing events to Kafka", "topic", cfg.KafkaTopic)
	case config.EventsAMQP:
		p, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return fmt.Errorf("amqp publisher: %w", err)
		}
		b.Publisher = p
		log.Info("publishing events to AMQP", "exchange", cfg.AMQPExchange)
	default:
		b.Publisher = events.NewLogPublisher(log)
	}
	b.closers = append(b.closers, b.Publisher.Close)
	return nil
}

// Close releases backends in reverse opening order.
func (b *Backends) Close(log *logger.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			log.Error("error closing backend", "error", err)
		}
	}
	b.closers = nil
}

// NewService builds the booking coordinator on top of b.
func (b *Backends) NewService(cfg config.Config, log *logger.Logger, clk clock.Clock) *booking.Service {
	return booking.NewService(b.Repo, b.Locks, b.Publisher, clk, log, booking.Options{
		Lock: lock.AcquireOptions{
			TTL:        cfg.LockTTL,
			RetryDelay: cfg.LockRetryDelay,
			MaxRetries: cfg.LockMaxRetries,
		},
	})
}
