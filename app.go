package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"flowdesk/backend/internal/cache"
	"flowdesk/backend/internal/config"
	"flowdesk/backend/internal/database"
	"flowdesk/backend/internal/handlers"
	"flowdesk/backend/internal/logger"
	"flowdesk/backend/internal/middleware"
	"flowdesk/backend/internal/monitoring"
	"flowdesk/backend/internal/notify"
	"flowdesk/backend/internal/outbox"
	"flowdesk/backend/internal/realtime"
	"flowdesk/backend/internal/repositories"
	"flowdesk/backend/internal/resilience"
	"flowdesk/backend/internal/routes"
	"flowdesk/backend/internal/services"
	"flowdesk/backend/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

// app owns every long-lived component. start launches the background loops;
// shutdown stops them in dependency order.
type app struct {
	cfg *config.Config
	log *logger.Logger

	router    *gin.Engine
	redis     *redis.Client
	store     *storage
	userCache *cache.MultiLevelCache
	queue     *worker.JobQueue
	worker    *worker.Worker
	outbox    *outbox.Outbox
	daily     *worker.DailyTrigger
	hub       *realtime.Hub
	bridge    *realtime.RedisBridge
	limiter   *middleware.RateLimiter
	metrics   *monitoring.Metrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// storage is the selected persistence backend.
type storage struct {
	tasks repositories.TaskRepository
	users repositories.UserRepository
	ping  monitoring.HealthCheckFunc
	close func() error
}

func openStorage(ctx context.Context, cfg *config.Config, log *logger.Logger) (*storage, error) {
	switch cfg.Database.Driver {
	case "mongo":
		return openMongo(ctx, cfg, log)
	case database.DriverSQLite, database.DriverPostgres:
		return openGorm(cfg, log)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

func openGorm(cfg *config.Config, log *logger.Logger) (*storage, error) {
	poolConfig := database.DefaultPoolConfig()
	poolConfig.Driver = cfg.Database.Driver
	poolConfig.MaxOpenConns = cfg.Database.MaxOpenConns
	poolConfig.MaxIdleConns = cfg.Database.MaxIdleConns
	poolConfig.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
	poolConfig.ConnMaxIdleTime = cfg.Database.ConnMaxIdleTime
	poolConfig.LogLevel = gormlogger.Warn
	if cfg.Database.Driver == database.DriverSQLite {
		poolConfig.DSN = cfg.Database.SQLitePath
	} else {
		poolConfig.DSN = cfg.GetDatabaseDSN()
	}

	pool, err := database.NewDatabasePool(poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Migrate(); err != nil {
		pool.Close()
		return nil, err
	}
	log.Info("database ready", zap.String("driver", cfg.Database.Driver))

	return &storage{
		tasks: repositories.NewGormTaskRepository(pool.DB),
		users: repositories.NewGormUserRepository(pool.DB),
		ping:  pool.Ping,
		close: pool.Close,
	}, nil
}

func openMongo(ctx context.Context, cfg *config.Config, log *logger.Logger) (*storage, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.Database.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(cfg.Database.MongoDatabase)
	if err := repositories.EnsureMongoIndexes(connectCtx, db); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}
	log.Info("database ready", zap.String("driver", "mongo"), zap.String("database", cfg.Database.MongoDatabase))

	return &storage{
		tasks: repositories.NewMongoTaskRepository(db),
		users: repositories.NewMongoUserRepository(db),
		ping: func(ctx context.Context) error {
			return client.Ping(ctx, readpref.Primary())
		},
		close: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return client.Disconnect(ctx)
		},
	}, nil
}

func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	a.redis = cache.NewClient(&cache.ClientConfig{
		Addr:         cfg.GetRedisAddr(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		a.redis.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	store, err := openStorage(ctx, cfg, log)
	if err != nil {
		a.redis.Close()
		return nil, err
	}
	a.store = store

	a.userCache = cache.NewMultiLevelCache(
		cache.NewMemoryCache(1000),
		cache.NewRedisCache(a.redis, "flowdesk:cache:"),
		30*time.Second,
	)
	users := repositories.NewCachedUserRepository(store.users, a.userCache, cfg.Auth.UserCacheTTL, log)

	a.metrics = monitoring.NewMetrics()

	a.hub = realtime.NewHub(cfg.Realtime.RoomBuffer, log)
	a.hub.SetObserver(a.metrics)
	var publisher realtime.Publisher = a.hub
	if cfg.Realtime.RedisBridge {
		a.bridge = realtime.NewRedisBridge(a.redis, a.hub, log)
		publisher = a.bridge
	}

	renderer, err := notify.NewRenderer(cfg.Mail.AppURL)
	if err != nil {
		a.closeStores()
		return nil, err
	}
	dispatcher := notify.NewDispatcher(users, renderer, newMailer(cfg, log), publisher, log)
	dispatcher.SetObserver(a.metrics)

	a.queue = worker.NewJobQueue(a.redis, cfg.Worker.MaxTries)
	a.worker = worker.NewWorker(a.redis, a.queue, worker.Config{
		Concurrency:  cfg.Worker.Concurrency,
		PollInterval: cfg.Worker.PollInterval,
		JobTimeout:   cfg.Worker.JobTimeout,
	}, log)
	a.worker.SetObserver(a.metrics)
	services.NewReminderService(store.tasks, dispatcher, log).Register(a.worker)

	hour, minute, err := cfg.SummaryClock()
	if err != nil {
		a.closeStores()
		return nil, err
	}
	a.daily = worker.NewDailyTrigger(a.redis, a.queue, hour, minute, time.Local, log)

	a.outbox = outbox.New(services.NewEffectExecutor(a.queue, dispatcher), outbox.Config{
		Concurrency: cfg.Worker.OutboxConcurrency,
		Buffer:      cfg.Worker.OutboxBuffer,
		Timeout:     cfg.Worker.JobTimeout,
	}, log)
	a.outbox.SetObserver(a.metrics)

	authService := services.NewAuthService(users, services.AuthConfig{
		Secret:        cfg.Auth.JWTSecret,
		Issuer:        cfg.Auth.JWTIssuer,
		TokenTTL:      cfg.Auth.AccessTokenTTL,
		BCryptCost:    cfg.Auth.BCryptCost,
		AdminEmail:    cfg.Auth.AdminEmail,
		AdminPassword: cfg.Auth.AdminPassword,
	}, log)
	taskService := services.NewTaskService(store.tasks, users, a.outbox, log)

	health := monitoring.NewHealthChecker(3 * time.Second)
	health.Register("database", store.ping)
	health.Register("redis", a.userCache.Health)

	if cfg.RateLimit.Enabled {
		a.limiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerMin, cfg.RateLimit.BurstSize, cfg.RateLimit.CleanupInterval)
	}

	a.router, err = routes.SetupRouter(routes.Dependencies{
		ClientURL:       cfg.Server.ClientURL,
		Auth:            authService,
		Log:             log,
		AuthHandler:     handlers.NewAuthHandler(authService, log),
		TaskHandler:     handlers.NewTaskHandler(taskService, log),
		AdminHandler:    handlers.NewAdminHandler(taskService, services.NewUserService(users), log),
		RealtimeHandler: handlers.NewRealtimeHandler(a.hub, cfg.Server.ClientURL, cfg.Realtime.PingInterval, log),
		Metrics:         a.metrics,
		Health:          health,
		RateLimiter:     a.limiter,
	})
	if err != nil {
		a.closeStores()
		return nil, err
	}

	return a, nil
}

func newMailer(cfg *config.Config, log *logger.Logger) notify.Mailer {
	if cfg.Mail.BrevoAPIKey == "" {
		log.Warn("BREVO_API_KEY not set, emails are only logged")
		return notify.NewLogMailer(log)
	}

	breaker := resilience.NewCircuitBreaker(&resilience.CircuitBreakerConfig{
		Name:             "brevo",
		MaxFailures:      5,
		Timeout:          30 * time.Second,
		HalfOpenMaxCalls: 1,
		OnStateChange: func(name string, from, to resilience.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return notify.NewBrevoMailer(notify.BrevoConfig{
		APIKey:      cfg.Mail.BrevoAPIKey,
		BaseURL:     cfg.Mail.BrevoBaseURL,
		SenderName:  cfg.Mail.SenderName,
		SenderEmail: cfg.Mail.SenderEmail,
		Timeout:     cfg.Mail.Timeout,
	}, breaker)
}

func (a *app) start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	evictions, err := a.userCache.Subscribe(ctx)
	if err != nil {
		return err
	}
	a.goRun(func() { a.userCache.Run(ctx, evictions) })

	if a.bridge != nil {
		sub, err := a.bridge.Subscribe(ctx)
		if err != nil {
			return err
		}
		a.goRun(func() { a.bridge.Run(ctx, sub) })
	}

	a.outbox.Run(ctx)
	a.worker.Start(ctx)
	a.goRun(func() { a.daily.Run(ctx) })
	a.goRun(func() { a.metrics.WatchQueue(ctx, a.queue, 15*time.Second) })
	if a.limiter != nil {
		a.goRun(func() { a.limiter.Cleanup(ctx, a.cfg.RateLimit.CleanupInterval) })
	}
	return nil
}

func (a *app) goRun(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// shutdown drains the outbox before stopping the worker, since queued
// effects schedule jobs through it.
func (a *app) shutdown() {
	a.outbox.Stop()
	a.worker.Stop()
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.closeStores()
}

func (a *app) closeStores() {
	if a.store != nil {
		if err := a.store.close(); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Error("failed to close database", zap.Error(err))
		}
	}
	if err := a.redis.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		a.log.Error("failed to close redis", zap.Error(err))
	}
}
