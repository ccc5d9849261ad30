package container

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"spiget/parser/internal/client"
	"spiget/parser/internal/config"
	"spiget/parser/internal/metrics"
	"spiget/parser/internal/parser"
	"spiget/parser/internal/proxy"
	"spiget/parser/internal/queue"
	"spiget/parser/internal/repository"
	"spiget/parser/internal/service"
	"spiget/parser/internal/state"
)

// Container holds all initialized components
type Container struct {
	Config       *config.Config
	Client       client.ResourceClient
	Parser       *parser.ListItemParser
	Repository   repository.ResourceRepository
	Queue        queue.Queue
	StateManager state.StateManager
	Metrics      *metrics.Metrics

	Service *service.Service

	db    *pgxpool.Pool
	redis *redis.Client
}

// New creates a new container with all dependencies initialized
func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	container := &Container{
		Config:  cfg,
		Metrics: metrics.New(),
	}

	proxySupplier := proxy.NewSupplierFromList(ctx, cfg.Site.Proxies, cfg.Site.ValidateProxies, cfg.Site.BaseURL, 5*time.Second)

	db, err := pgxpool.New(ctx,
		fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			cfg.Database.Host,
			cfg.Database.Port,
			cfg.Database.User,
			cfg.Database.Password,
			cfg.Database.Name,
		))
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	container.db = db

	resourceRepo := repository.NewResourceRepository(db)
	if err := resourceRepo.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	container.Repository = resourceRepo

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.Database,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	container.redis = rdb

	log.Info("✅ Connected to Redis successfully")

	redisQueue, err := queue.NewRedisQueue(ctx, rdb, cfg.Redis)
	if err != nil {
		return nil, err
	}
	container.Queue = redisQueue

	container.StateManager = state.NewRedisStateManager(rdb, cfg.Redis.KeyPrefix)

	resourceClient := client.NewResourceClient(cfg.Site, proxySupplier, redisQueue)
	container.Client = resourceClient

	location, err := cfg.Parser.Location()
	if err != nil {
		return nil, err
	}
	iconParser := parser.NewIconParser(resourceClient, cfg.Site.BaseURL, cfg.Parser.FetchIcons)
	container.Parser = parser.NewListItemParser(iconParser, location)

	container.Service = service.NewService(
		resourceRepo,
		resourceClient,
		container.Parser,
		redisQueue,
		container.StateManager,
		container.Metrics,
		service.Options{
			MaxWorkers:      cfg.Parser.MaxWorkers,
			MinSaveInterval: cfg.Parser.MinSaveInterval,
			MaxItemRetries:  cfg.Parser.MaxItemRetries,
			GroupName:       cfg.Redis.ConsumerGroup,
			MinIdleTime:     time.Duration(cfg.Redis.MinIdleTime) * time.Second,
		},
	)

	return container, nil
}

// Run enqueues listing pages, processes them and serves metrics until ctx is done
func (c *Container) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.Service.ParseAll(ctx)
	})

	g.Go(func() error {
		return c.Service.RunWorkers(ctx, c.Config.Parser.MaxWorkers)
	})

	g.Go(func() error {
		return c.serveMetrics(ctx)
	})

	return g.Wait()
}

func (c *Container) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Metrics.Handler())

	server := &http.Server{
		Addr:              net.JoinHostPort(c.Config.Server.Host, strconv.Itoa(c.Config.Server.Port)),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Infof("📈 Serving metrics on %s/metrics", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}

// Close performs cleanup when shutting down
func (c *Container) Close() error {
	log.Info("Shutting down container...")

	if c.db != nil {
		c.db.Close()
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			return fmt.Errorf("failed to close Redis client: %w", err)
		}
	}

	log.Info("Container shut down successfully")
	return nil
}
