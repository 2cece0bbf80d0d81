package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"multiplayer-life/internal/config"
	httpHandler "multiplayer-life/internal/handler/http"
	wsHandler "multiplayer-life/internal/handler/websocket"
	"multiplayer-life/internal/hub"
	gormpersistence "multiplayer-life/internal/infra/persistence/gorm"
	"multiplayer-life/internal/infra/setup"
	redisstate "multiplayer-life/internal/infra/state/redis"
	"multiplayer-life/internal/service"
	"multiplayer-life/internal/tasks"
	"multiplayer-life/internal/worker"
)

// App holds every long-lived component of the server.
type App struct {
	Config      config.AppConfig
	Log         *logrus.Logger
	DB          *gorm.DB // nil unless archiving is enabled
	RedisClient *redis.Client
	Hub         *hub.Hub
	Batcher     *service.Batcher
	HttpServer  *http.Server

	localGrace     *service.LocalGraceScheduler
	asynqClient    *asynq.Client
	asynqInspector *asynq.Inspector
	workerServer   *worker.WorkerServer
	scheduler      *worker.PeriodicScheduler

	stopHub context.CancelFunc
	hubDone chan struct{}
}

// NewApp connects the infrastructure and wires services, hub and handlers.
func NewApp(cfg config.AppConfig) (*App, error) {
	log := NewLogger(cfg)
	app := &App{Config: cfg, Log: log}

	log.Info("Initializing infrastructure...")
	redisClient, err := setup.InitRedis(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}
	app.RedisClient = redisClient

	redisClientOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	useWorker := cfg.Presence.GraceBackend == config.GraceBackendAsynq || cfg.Archive.Enabled
	if useWorker {
		app.asynqClient = asynq.NewClient(redisClientOpt)
		app.asynqInspector = asynq.NewInspector(redisClientOpt)
		log.Info("Asynq client initialized")
	}

	var snapshotRepo *gormpersistence.GormSnapshotRepository
	if cfg.Archive.Enabled {
		db, err := setup.InitDB(cfg.Archive)
		if err != nil {
			app.closeInfra()
			return nil, fmt.Errorf("failed to init archive DB: %w", err)
		}
		app.DB = db
		if err := setup.MigrateDB(db); err != nil {
			app.closeInfra()
			return nil, fmt.Errorf("failed to migrate archive DB: %w", err)
		}
		snapshotRepo = gormpersistence.NewGormSnapshotRepository(db)
	}

	log.Info("Initializing repositories...")
	roomRepo := redisstate.NewRedisRoomRepository(redisClient, cfg.Redis.KeyPrefix, cfg.Room.TTL)
	stateRepo := redisstate.NewRedisStateRepository(redisClient, cfg.Redis.KeyPrefix, cfg.Room.TTL)

	log.Info("Initializing services...")
	merger := service.NewMergeService(stateRepo, service.RetryPolicy{
		Attempts: cfg.Sync.CASRetries,
		Backoff:  cfg.Sync.CASBackoff,
	}, cfg.Grid.Rows, cfg.Grid.Cols)

	var grace service.GraceScheduler
	if cfg.Presence.GraceBackend == config.GraceBackendAsynq {
		grace = worker.NewAsynqGraceScheduler(app.asynqClient, app.asynqInspector, log)
	} else {
		app.localGrace = service.NewLocalGraceScheduler(log.WithField("component", "grace"))
		grace = app.localGrace
	}
	presence := service.NewPresenceService(roomRepo, merger, grace, service.PresenceConfig{
		Capacity:    cfg.Room.Capacity,
		GracePeriod: cfg.Presence.GracePeriod,
	})
	if app.localGrace != nil {
		app.localGrace.Bind(presence.HandleGraceExpiry)
	}

	app.Batcher = service.NewBatcher(merger, service.BatcherConfig{
		Debounce:      cfg.Sync.Debounce,
		MaxWait:       cfg.Sync.MaxWait,
		FailurePolicy: cfg.Sync.FailurePolicy,
	}, nil, log.WithField("component", "batcher"))

	roomService := service.NewRoomService(roomRepo)
	tokens := service.NewTokenService(cfg.Auth.PlayerTokenSecret, cfg.Auth.PlayerTokenTTL)
	var snapshotService *service.SnapshotService
	if snapshotRepo != nil {
		snapshotService = service.NewSnapshotService(snapshotRepo, stateRepo)
	}

	log.Info("Initializing hub...")
	app.Hub = hub.NewHub(presence, merger, app.Batcher, hub.Config{Rows: cfg.Grid.Rows, Cols: cfg.Grid.Cols})

	if useWorker {
		log.Info("Initializing worker server...")
		app.workerServer = worker.NewWorkerServer(redisClientOpt, 10, log)
		if cfg.Presence.GraceBackend == config.GraceBackendAsynq {
			app.workerServer.Handle(tasks.TypeGraceExpire, worker.NewGraceExpireHandler(presence))
		}
		if snapshotService != nil {
			app.workerServer.Handle(tasks.TypeSnapshotArchive, worker.NewSnapshotArchiveHandler(app.Hub, snapshotService))
			app.scheduler = worker.NewPeriodicScheduler(redisClientOpt, log)
			if err := app.scheduler.Register(cfg.Archive.Schedule, tasks.NewSnapshotArchiveTask()); err != nil {
				app.closeInfra()
				return nil, err
			}
		}
	}

	log.Info("Setting up Gin router...")
	router := NewRouter(RouterDeps{
		Config:      cfg,
		Log:         log,
		RedisClient: redisClient,
		Tokens:      tokens,
		Rooms:       httpHandler.NewRoomHandler(roomService, presence, tokens, snapshotService),
		WebSocket:   wsHandler.NewWebSocketHandler(app.Hub, tokens, cfg.CORS.AllowedOrigin),
	})
	app.HttpServer = &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("Application assembled successfully")
	return app, nil
}

// Start launches the hub, the worker and the HTTP server. The returned channel
// reports a fatal serving error.
func (a *App) Start() <-chan error {
	errCh := make(chan error, 2)

	ctx, cancel := context.WithCancel(context.Background())
	a.stopHub = cancel
	a.hubDone = make(chan struct{})
	go func() {
		defer close(a.hubDone)
		a.Hub.Run(ctx)
	}()
	a.Log.Info("Hub routine started")

	if a.workerServer != nil {
		go func() {
			if err := a.workerServer.Start(); err != nil {
				errCh <- err
			}
		}()
		a.Log.Info("Asynq worker server routine started")
	}
	if a.scheduler != nil {
		if err := a.scheduler.Start(); err != nil {
			errCh <- fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
	return errCh
}

// Shutdown stops accepting work, flushes pending updates and releases connections.
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	} else {
		a.Log.Info("HTTP server shut down gracefully.")
	}

	if a.stopHub != nil {
		a.stopHub()
		<-a.hubDone
	}
	// Pending intents reach the store before Redis goes away.
	a.Batcher.Close()

	if a.localGrace != nil {
		a.localGrace.Stop()
	}
	if a.scheduler != nil {
		a.scheduler.Shutdown()
	}
	if a.workerServer != nil {
		a.workerServer.Shutdown()
	}
	a.closeInfra()
	a.Log.Info("Application shutdown complete.")
}

func (a *App) closeInfra() {
	if a.asynqInspector != nil {
		if err := a.asynqInspector.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq inspector: %v", err)
		}
	}
	if a.asynqClient != nil {
		if err := a.asynqClient.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq client: %v", err)
		}
	}
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
