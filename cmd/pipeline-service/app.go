package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"devpulse/internal/admission"
	"devpulse/internal/alerting"
	"devpulse/internal/audit"
	"devpulse/internal/broker"
	"devpulse/internal/config"
	"devpulse/internal/constants"
	"devpulse/internal/dispatcher"
	"devpulse/internal/hub"
	"devpulse/internal/ingest"
	"devpulse/internal/logger"
	"devpulse/internal/normalizer"
	"devpulse/internal/router"
	"devpulse/internal/verifier"
	"devpulse/pkg/bootstrap"
	"devpulse/pkg/health"
	"devpulse/pkg/logging"
	"devpulse/pkg/metrics"
	"devpulse/pkg/middleware"
	"devpulse/pkg/migrations"
	"devpulse/pkg/ratelimit"
	"devpulse/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	redis       *redis.Client
	db          *sql.DB
	mongoClient *mongo.Client
	nats        *nats.Conn

	tracker       *audit.Tracker
	admissionRepo admission.Repository
	admission     *admission.Service
	dispatcher    *dispatcher.Dispatcher
	evaluator     *alerting.Evaluator
	hub           *hub.Hub
	router        *router.Router
	rateLimits    *ratelimit.Buckets

	engine *gin.Engine
	server *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName(constants.ServiceName)
	}
	return &App{
		Base: bootstrap.NewBase(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.OnShutdown("tracer", tp.Shutdown)
	a.Logger.Infow("Tracing initialized", "exporting", tp.Exporting())

	metrics.RegisterPipelineMetrics()

	if err := a.initStores(ctx); err != nil {
		return fmt.Errorf("failed to initialize stores: %w", err)
	}

	if err := a.InitBroker(); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.initAudit(ctx); err != nil {
		return fmt.Errorf("failed to initialize audit log: %w", err)
	}

	if err := a.initAdmission(); err != nil {
		return fmt.Errorf("failed to initialize admission: %w", err)
	}

	a.initDispatcher()

	if err := a.initAlerting(); err != nil {
		return fmt.Errorf("failed to initialize alerting: %w", err)
	}

	if err := a.initRouter(); err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}

	if err := a.initHTTPServer(ctx); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	return nil
}

func (a *App) initStores(ctx context.Context) error {
	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var err error
	if a.redis, err = a.OpenRedis(initCtx); err != nil {
		return err
	}
	if a.db, err = a.OpenPostgres(initCtx); err != nil {
		return err
	}

	if a.db != nil && a.Config.Database.RunMigrations {
		if err := migrations.RunPostgres(a.db); err != nil {
			return err
		}
		a.Logger.InfowCtx(ctx, "PostgreSQL migrations applied")
	}

	if a.mongoClient, err = a.OpenMongoDB(initCtx); err != nil {
		return err
	}
	a.nats, err = a.OpenNATS()
	return err
}

func (a *App) mongoDatabase() *mongo.Database {
	name := a.Config.Database.MongoDB.Database
	if name == "" {
		name = constants.DefaultMongoDBName
	}
	return a.mongoClient.Database(name)
}

func (a *App) initAudit(ctx context.Context) error {
	var store audit.Store
	switch a.Config.Audit.Backend {
	case constants.BackendPostgres:
		store = audit.NewPostgresStore(a.db)
	case constants.BackendMongoDB:
		collection := a.Config.Audit.Collection
		if collection == "" {
			collection = audit.DefaultCollection
		}
		if err := migrations.EnsureAuditIndexes(ctx, a.mongoDatabase(), collection); err != nil {
			return err
		}
		store = audit.NewMongoStore(a.mongoDatabase(), collection)
	default:
		store = audit.NewMemoryStore()
	}

	a.tracker = audit.NewTracker(store, a.Config.Audit, a.Logger)
	a.Logger.InfowCtx(ctx, "Audit log initialized", "backend", a.Config.Audit.Backend)
	return nil
}

func (a *App) initAdmission() error {
	switch a.Config.Admission.Backend {
	case constants.BackendRedis:
		if a.redis == nil {
			return fmt.Errorf("redis admission backend requires database.redis")
		}
		a.admissionRepo = admission.NewCircuitBreakerRepository(
			admission.NewRedisRepository(a.redis),
			a.Config.CircuitBreaker,
		)
	default:
		a.admissionRepo = admission.NewMemoryRepository()
	}

	a.admission = admission.NewService(a.admissionRepo, a.Config.Admission, a.Logger)
	return nil
}

func (a *App) initDispatcher() {
	cfg := a.Config.Dispatcher
	client := &http.Client{Timeout: constants.DefaultHTTPTimeout}

	channels := []dispatcher.Channel{
		dispatcher.NewWebhookChannel(client, cfg.Channels.Webhook, a.Config.CircuitBreaker),
		dispatcher.NewSlackChannel(client, cfg.Channels.Slack),
		dispatcher.NewLogChannel(a.Logger),
	}
	if cfg.Channels.Email.Host != "" {
		channels = append(channels, dispatcher.NewEmailChannel(cfg.Channels.Email))
	}
	if a.nats != nil {
		channels = append(channels, dispatcher.NewPushChannel(a.nats, cfg.Channels.Push))
	}
	if cfg.Channels.Kafka.Enabled && a.Producer != nil {
		channels = append(channels, dispatcher.NewKafkaChannel(a.Producer))
	}

	a.dispatcher = dispatcher.New(cfg, a.Logger, channels...).WithTracker(a.tracker)
	if a.Producer != nil && a.Config.Broker.Kafka.DLQTopic != "" {
		a.dispatcher.WithDeadLetterSink(broker.NewDeadLetterPublisher(a.Producer, a.Config.Broker.Kafka.DLQTopic))
	}

	a.OnShutdown("dispatcher", a.dispatcher.Stop)
	a.Logger.Infow("Notification dispatcher initialized", "channels", a.dispatcher.Channels())
}

func (a *App) initAlerting() error {
	cfg := a.Config.Alerting
	if !cfg.Enabled {
		a.Logger.Info("Alert evaluation disabled")
		return nil
	}

	var source alerting.RuleSource
	switch cfg.Source {
	case constants.BackendPostgres:
		if a.db == nil {
			return fmt.Errorf("postgres rule source requires database.postgres")
		}
		source = alerting.NewPostgresRuleSource(a.db)
	default:
		source = alerting.NewConfigRuleSource(cfg.Rules)
	}

	var cooldowns alerting.CooldownStore
	if cfg.CooldownBackend == constants.BackendRedis && a.redis != nil {
		cooldowns = alerting.NewRedisCooldownStore(a.redis, "")
	} else {
		cooldowns = alerting.NewMemoryCooldownStore()
	}

	evaluator, err := alerting.NewEvaluator(source, cooldowns, a.dispatcher, cfg, a.Logger)
	if err != nil {
		return err
	}
	a.evaluator = evaluator.WithRecorder(a.tracker)
	return nil
}

func (a *App) initRouter() error {
	a.hub = hub.New(a.Config.Hub, a.Logger)
	a.OnShutdown("hub", func(context.Context) error {
		a.hub.Shutdown()
		return nil
	})

	consumers := []router.Consumer{a.hub}
	if a.evaluator != nil {
		consumers = append(consumers, a.evaluator)
	}
	if routes := a.Config.Dispatcher.Forwarding; len(routes) > 0 {
		consumers = append(consumers, dispatcher.NewForwarder(a.dispatcher, routes, a.Logger))
	}
	if a.Config.Router.PublishToKafka && a.Producer != nil {
		consumers = append(consumers, broker.NewStreamPublisher(a.Producer, a.Config.Broker.Kafka.EventsTopic))
	}

	var checkpoints router.CheckpointStore
	switch a.Config.Router.CheckpointBackend {
	case constants.BackendRedis:
		if a.redis == nil {
			return fmt.Errorf("redis checkpoint backend requires database.redis")
		}
		checkpoints = router.NewRedisCheckpointStore(a.redis, a.Config.Router.CheckpointKey)
	default:
		checkpoints = router.NewMemoryCheckpointStore()
	}

	a.router = router.New(a.Config.Router, checkpoints, a.Logger, consumers...)
	a.OnShutdown("router", a.router.Stop)
	return nil
}

func (a *App) initHTTPServer(ctx context.Context) error {
	v, err := verifier.New(a.Config.Webhooks, a.Logger)
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	if a.Config.Tracing.Enabled {
		engine.Use(tracing.GinMiddleware(constants.ServiceName))
	}
	engine.Use(middleware.RequestID())
	engine.Use(middleware.AccessLog(a.Logger, "/health", "/metrics"))
	engine.Use(middleware.Recovery(a.Logger))

	var webhookMiddleware []gin.HandlerFunc
	if a.Config.RateLimit.Enabled {
		settings := ratelimit.FromConfig(a.Config.RateLimit)
		a.rateLimits = ratelimit.NewBuckets(settings)
		webhookMiddleware = append(webhookMiddleware, ratelimit.Middleware(a.rateLimits))
		a.Logger.InfowCtx(ctx, "Webhook rate limiting enabled", "rps", settings.RPS, "burst", settings.Burst)
	}

	ingest.NewHandler(v, a.admission, normalizer.New(), a.router, a.tracker, a.Config.Webhooks.MaxBodyBytes, a.Logger).
		RegisterRoutes(engine, webhookMiddleware...)
	hub.NewHandler(a.hub, a.Logger).RegisterRoutes(engine)
	audit.NewHandler(a.tracker, a.Logger).RegisterRoutes(engine)

	engine.GET("/health", health.Handler(a.healthRegistry()))

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if a.Config.Server.EnableSwagger {
		engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	a.engine = engine
	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      engine,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}
	a.OnShutdown("http server", a.server.Shutdown)
	return nil
}

// healthRegistry treats the admission store as required. Audit, rules and
// push delivery only degrade the report.
func (a *App) healthRegistry() *health.Registry {
	registry := health.NewRegistry(5 * time.Second)
	if a.redis != nil {
		registry.Register(health.Redis(a.redis))
	}
	if a.db != nil {
		registry.RegisterOptional(health.Postgres(a.db))
	}
	if a.mongoClient != nil {
		registry.RegisterOptional(health.MongoDB(a.mongoClient))
	}
	if a.nats != nil {
		registry.RegisterOptional(health.NATS(a.nats))
	}
	if a.dispatcher != nil {
		registry.Register(health.Func("dispatcher", func(context.Context) error {
			size := a.Config.Dispatcher.QueueSize
			if pending := a.dispatcher.Pending(); size > 0 && pending >= size {
				return health.Degraded("dispatch queue full (%d pending)", pending)
			}
			return nil
		}))
	}
	if cb, ok := a.admissionRepo.(*admission.CircuitBreakerRepository); ok {
		registry.Register(health.Breaker("admission_store", cb))
	}
	return registry
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	a.dispatcher.Start()

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.hub.RunLagMonitor(gCtx)
		return nil
	})

	g.Go(func() error {
		a.admission.RunMetrics(gCtx)
		return nil
	})

	if a.rateLimits != nil {
		g.Go(func() error {
			a.rateLimits.Run(gCtx)
			return nil
		})
	}

	if repo, ok := a.admissionRepo.(*admission.MemoryRepository); ok {
		g.Go(func() error {
			repo.StartSweeper(gCtx, a.Config.Admission.SweepInterval)
			return nil
		})
	}

	if a.evaluator != nil {
		g.Go(func() error {
			return a.evaluator.StartReloader(gCtx)
		})

		if topic := a.Config.Broker.Kafka.RuleUpdateTopic; a.Consumer != nil && topic != "" {
			updates := alerting.NewRuleUpdateHandler(a.evaluator, a.Logger)
			g.Go(func() error {
				consumeCtx := logging.WithServiceName(gCtx, constants.ServiceName)
				a.Logger.InfowCtx(consumeCtx, "Starting rule update consumer", "topic", topic)
				return a.Consumer.Consume(gCtx, topic, updates.HandleRuleUpdate)
			})
		}
	}

	g.Go(func() error {
		<-gCtx.Done()
		return a.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Shutdown unwinds the registered steps in reverse order of construction:
// intake stops first, the router drains into its consumers and the
// dispatcher, and the stores and clients they write to close last.
func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, constants.ServiceName)
	a.Logger.InfowCtx(shutdownCtx, "Shutting down pipeline service")

	drainCtx, cancel := context.WithTimeout(shutdownCtx, a.shutdownTimeout())
	defer cancel()

	return a.Base.Shutdown(drainCtx)
}

func (a *App) shutdownTimeout() time.Duration {
	if a.Config.Server.ShutdownTimeout > 0 {
		return a.Config.Server.ShutdownTimeout
	}
	return constants.ShutdownTimeout
}

func runMigrations(ctx context.Context, cfg *config.Config, log logger.Logger) (err error) {
	base := bootstrap.NewBase(cfg, log)
	defer func() {
		err = errors.Join(err, base.Shutdown(context.Background()))
	}()

	db, err := base.OpenPostgres(ctx)
	if err != nil {
		return err
	}
	if db == nil {
		return fmt.Errorf("database.postgres is not configured")
	}
	if err := migrations.RunPostgres(db); err != nil {
		return err
	}
	log.Info("PostgreSQL migrations applied")

	if cfg.Audit.Backend != constants.BackendMongoDB {
		return nil
	}
	client, err := base.OpenMongoDB(ctx)
	if err != nil || client == nil {
		return err
	}
	name := cfg.Database.MongoDB.Database
	if name == "" {
		name = constants.DefaultMongoDBName
	}
	collection := cfg.Audit.Collection
	if collection == "" {
		collection = audit.DefaultCollection
	}
	if err := migrations.EnsureAuditIndexes(ctx, client.Database(name), collection); err != nil {
		return err
	}
	log.Info("MongoDB audit indexes ensured")
	return nil
}
