package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/afroboost/campaign-scheduler/internal/api/handlers"
	"github.com/afroboost/campaign-scheduler/internal/config"
	"github.com/afroboost/campaign-scheduler/internal/delivery"
	"github.com/afroboost/campaign-scheduler/internal/domain"
	"github.com/afroboost/campaign-scheduler/internal/infra/db"
	"github.com/afroboost/campaign-scheduler/internal/infra/redis"
	"github.com/afroboost/campaign-scheduler/internal/queue"
	"github.com/afroboost/campaign-scheduler/internal/repository"
	pgrepo "github.com/afroboost/campaign-scheduler/internal/repository/postgres"
	scyllarepo "github.com/afroboost/campaign-scheduler/internal/repository/scylla"
	"github.com/afroboost/campaign-scheduler/internal/scheduler"
	campaignsvc "github.com/afroboost/campaign-scheduler/internal/service/campaign"
	"github.com/afroboost/campaign-scheduler/internal/service/concurrency"
	"github.com/afroboost/campaign-scheduler/pkg/logger"
)

// Container wires together shared infrastructure dependencies. Postgres is
// required; Redis, Kafka and Scylla are attached only when configured.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	components struct {
		once         sync.Once
		repositories *repositories
		services     *services
		publisher    *queue.EventPublisher
	}
}

type repositories struct {
	Campaigns repository.CampaignRepository
	Contacts  repository.ContactDirectory
	Attempts  repository.AttemptLog
}

type services struct {
	Campaign   *campaignsvc.Service
	Dispatcher *scheduler.Dispatcher
	Scheduler  *scheduler.Scheduler
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath, component string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env, component)
	if err != nil {
		return nil, err
	}

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	container := &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
	}

	if len(cfg.Scylla.Hosts) > 0 {
		scylla, err := db.NewScylla(cfg.Scylla)
		if err != nil {
			_ = container.Close()
			return nil, fmt.Errorf("bootstrap scylla: %w", err)
		}
		container.Scylla = scylla
	}

	if cfg.Redis.Address != "" {
		redisClient, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			_ = container.Close()
			return nil, fmt.Errorf("bootstrap redis: %w", err)
		}
		container.Redis = redisClient
	}

	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err := queue.NewKafka(cfg.Kafka)
		if err != nil {
			_ = container.Close()
			return nil, fmt.Errorf("bootstrap kafka: %w", err)
		}
		container.Kafka = kafka
	}

	lg.Info("container built",
		zap.Bool("scylla", container.Scylla != nil),
		zap.Bool("redis", container.Redis != nil),
		zap.Bool("kafka", container.Kafka != nil),
	)

	return container, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		repos := &repositories{
			Campaigns: pgrepo.NewCampaignRepository(c.Postgres.DB()),
			Contacts:  pgrepo.NewContactRepository(c.Postgres.DB()),
			Attempts:  repository.NopAttemptLog{},
		}
		if c.Scylla != nil {
			repos.Attempts = scyllarepo.NewAttemptStore(c.Scylla.Session())
		}

		var events scheduler.EventPublisher = queue.NopPublisher{}
		if c.Kafka != nil {
			c.components.publisher = queue.NewEventPublisher(c.Kafka, c.Config.Kafka.CampaignTopic, c.Config.Kafka.PublishBudget)
			events = c.components.publisher
		}

		var lock scheduler.Lock = concurrency.NopLock{}
		if c.Redis != nil {
			lock = concurrency.NewSweepLock(c.Redis.Inner(), c.Config.Scheduler.LockKey, c.Config.Scheduler.LockTTL)
		}

		dispatcher := scheduler.NewDispatcher(
			repos.Campaigns,
			repos.Contacts,
			delivery.NewClient(c.Config.Delivery.Endpoint(), c.Config.Delivery.Timeout),
			repos.Attempts,
			events,
			c.Logger,
			scheduler.Options{
				MaxAttempts:   c.Config.Scheduler.MaxAttempts,
				DryRun:        c.Config.Scheduler.DryRun,
				SubjectPrefix: c.Config.Delivery.SubjectPrefix,
				Statuses:      c.sweptStatuses(),
			},
		)

		c.components.repositories = repos
		c.components.services = &services{
			Campaign:   campaignsvc.NewService(repos.Campaigns, repos.Contacts, repos.Attempts),
			Dispatcher: dispatcher,
			Scheduler:  scheduler.New(dispatcher, lock, c.Logger),
		}
	})
}

func (c *Container) sweptStatuses() []domain.CampaignStatus {
	var statuses []domain.CampaignStatus
	for _, raw := range c.Config.Scheduler.Statuses {
		st, ok := domain.ParseCampaignStatus(raw)
		if !ok {
			c.Logger.Warn("ignoring unknown swept status", zap.String("status", raw))
			continue
		}
		statuses = append(statuses, st)
	}
	return statuses
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *repositories {
	c.initComponents()
	return c.components.repositories
}

// Services exposes initialized services.
func (c *Container) Services() *services {
	c.initComponents()
	return c.components.services
}

// HandlerSet builds HTTP handlers with dependencies.
func (c *Container) HandlerSet() *handlers.HandlerSet {
	checks := map[string]handlers.HealthCheck{
		"postgres": c.Postgres.Ping,
	}
	if c.Redis != nil {
		checks["redis"] = c.Redis.Ping
	}
	if c.Scylla != nil {
		checks["scylla"] = c.Scylla.Ping
	}
	return handlers.NewHandlerSet(c.Services().Campaign, checks, c.Logger)
}

// EnsureTopics creates the campaign event topic when Kafka is configured.
func (c *Container) EnsureTopics(ctx context.Context) error {
	if c.Kafka == nil {
		return nil
	}
	return c.Kafka.EnsureTopics(ctx, []string{c.Config.Kafka.CampaignTopic}, c.Config.Kafka.Partitions, 1)
}

// Close releases all held resources.
func (c *Container) Close() error {
	var errs []error
	if p := c.components.publisher; p != nil {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("event publisher close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	return errors.Join(errs...)
}
