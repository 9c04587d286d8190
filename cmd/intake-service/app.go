package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"homefeed/internal/config"
	"homefeed/internal/constants"
	"homefeed/internal/events"
	"homefeed/internal/extraction"
	"homefeed/internal/intake"
	"homefeed/internal/listing"
	"homefeed/internal/logger"
	"homefeed/internal/trigger"
	"homefeed/internal/worker"
	"homefeed/pkg/bootstrap"
	"homefeed/pkg/health"
	"homefeed/pkg/metrics"
	"homefeed/pkg/middleware"
	"homefeed/pkg/migrations"
	"homefeed/pkg/ratelimit"
	"homefeed/pkg/tracing"
)

type App struct {
	config         *config.Config
	logger         logger.Logger
	dbConnector    *bootstrap.DatabaseConnector
	mongoClient    *mongo.Client
	redisClient    *redis.Client
	publisher      events.Publisher
	server         *http.Server
	router         *gin.Engine
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		config:      cfg,
		logger:      log,
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.initRouter(ctx); err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}

	if err := a.initServer(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	tp, err := tracing.Init(a.config.Tracing, "intake-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return err
	}
	a.mongoClient = mongoClient

	redisClient, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		// Redis only backs the cross-process debounce; degrade to local.
		a.logger.WarnwCtx(ctx, "Redis connection failed, trigger debounce falls back to local", "error", err)
	} else {
		a.redisClient = redisClient
	}

	db := a.mongoDatabase()
	if err := migrations.EnsureIndexes(ctx, db); err != nil {
		return fmt.Errorf("failed to ensure indexes: %w", err)
	}
	return nil
}

func (a *App) mongoDatabase() *mongo.Database {
	dbName := a.config.Database.MongoDB.Database
	if dbName == "" {
		dbName = constants.DefaultMongoDBName
	}
	return a.mongoClient.Database(dbName)
}

func (a *App) initRouter(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware("intake-service"))
	}

	router.Use(middleware.RecoveryMiddleware(a.logger))
	router.Use(middleware.LoggerMiddleware(a.logger))
	router.Use(middleware.RequestIDMiddleware())

	db := a.mongoDatabase()
	messageRepo := intake.NewRepository(db)
	listingRepo := listing.NewRepository(db)
	auditRepo := worker.NewAuditRepository(db)

	extractor, err := a.buildExtractor(ctx)
	if err != nil {
		return err
	}

	a.publisher = events.NewPublisher(a.config.Broker.Kafka, a.logger)

	workerSvc := worker.NewService(messageRepo, listingRepo, extractor, auditRepo, a.publisher, a.config.Worker, a.logger)

	var debouncer trigger.Debouncer
	if a.redisClient != nil {
		debouncer = trigger.NewRedisDebouncer(a.redisClient)
	} else {
		debouncer = trigger.NewLocalDebouncer()
	}
	trig := trigger.New(debouncer, workerSvc, a.config.Worker, a.config.Trigger, a.logger)

	normalizer := intake.NewNormalizer(messageRepo, trig, a.config.Webhook.Provider, a.logger)

	intakeHandler := intake.NewHandler(normalizer, a.logger)
	workerHandler := worker.NewHandler(workerSvc, auditRepo, a.logger)
	listingHandler := listing.NewHandler(listingRepo, a.logger)

	webhooks := router.Group("/webhooks")
	if a.config.RateLimit.Enabled {
		rateLimitConfig := ratelimit.RateLimitConfig{
			RPS:             a.config.RateLimit.RPS,
			Burst:           a.config.RateLimit.Burst,
			CleanupInterval: time.Duration(a.config.RateLimit.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(a.config.RateLimit.MaxAge) * time.Second,
		}
		webhooks.Use(ratelimit.RateLimitMiddleware(rateLimitConfig))
		a.logger.InfowCtx(ctx, "Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}
	webhooks.Use(middleware.VerifyWebhookSignature(a.config.Webhook.AppSecret, a.logger))
	webhooks.POST("/whatsapp", intakeHandler.HandleWebhook)

	internal := router.Group("/internal/worker")
	internal.Use(middleware.SharedSecretAuth(a.config.Worker.SharedSecret))
	internal.POST("/process-pending", workerHandler.ProcessPending)
	internal.GET("/batches", workerHandler.RecentBatches)

	v1 := router.Group("/api/v1")
	v1.GET("/listings", listingHandler.Search)
	v1.GET("/listings/:id", listingHandler.GetByID)

	metrics.RegisterIntakeMetrics()
	metrics.RegisterWorkerMetrics()
	metrics.RegisterExtractionMetrics()
	metrics.RegisterHTTPMetrics()
	metrics.RegisterCircuitBreakerMetrics()
	metrics.RegisterBrokerMetrics()

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewMongoDBChecker(a.mongoClient))
	if a.redisClient != nil {
		healthRegistry.Register(health.NewRedisChecker(a.redisClient))
	}

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router = router
	return nil
}

func (a *App) buildExtractor(ctx context.Context) (extraction.Extractor, error) {
	client, err := extraction.NewClient(a.config.Extraction, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build extraction client: %w", err)
	}
	if a.config.CircuitBreaker.Enabled {
		a.logger.InfowCtx(ctx, "Circuit breaker enabled for extraction client")
		return extraction.NewBreakerClient(client, a.config.CircuitBreaker), nil
	}
	return client, nil
}

func (a *App) initServer() error {
	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  a.config.Server.ReadTimeoutSeconds * time.Second,
		WriteTimeout: a.config.Server.WriteTimeoutSeconds * time.Second,
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.InfowCtx(ctx, "HTTP server starting", "port", a.config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		return a.Shutdown(gCtx)
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.InfowCtx(ctx, "Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
	}

	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher close error: %w", err))
		}
	}

	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
		}
	}

	dbErrs := a.dbConnector.ShutdownDatabases(shutdownCtx, a.redisClient, a.mongoClient)
	errs = append(errs, dbErrs...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	a.logger.InfowCtx(ctx, "Server exited successfully")
	return nil
}
