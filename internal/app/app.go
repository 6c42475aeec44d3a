package app

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/mailscope-backend/internal/data/db"
	"github.com/yungbote/mailscope-backend/internal/observability"
	"github.com/yungbote/mailscope-backend/internal/platform/logger"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Router   *gin.Engine
	Cfg      Config
	Clients  Clients
	Repos    Repos
	Services Services
	Metrics  *observability.Metrics

	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.Migrate(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	theDB := pg.DB()

	metrics := observability.NewMetrics()
	otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "mailscope-backend",
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})

	clients, err := wireClients(log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}
	if err := clients.Store.EnsureCollection(context.Background()); err != nil {
		clients.Close()
		log.Sync()
		return nil, fmt.Errorf("ensure qdrant collection: %w", err)
	}

	reposet := wireRepos(theDB, log)

	serviceset, err := wireServices(log, cfg, clients, reposet, metrics)
	if err != nil {
		clients.Close()
		log.Sync()
		return nil, err
	}

	handlerset := wireHandlers(log, reposet, serviceset, metrics)
	router := wireRouter(handlerset, metrics)

	return &App{
		Log:          log,
		DB:           theDB,
		Router:       router,
		Cfg:          cfg,
		Clients:      clients,
		Repos:        reposet,
		Services:     serviceset,
		Metrics:      metrics,
		otelShutdown: otelShutdown,
	}, nil
}

// Start launches the background workers: the active pipeline backend and,
// when a mailbox owner is configured, the folder sweeper.
func (a *App) Start() error {
	if a == nil || a.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.Services.Broker != nil {
		if err := a.Services.Broker.Start(ctx); err != nil {
			return fmt.Errorf("start pipeline broker: %w", err)
		}
	}
	if a.Services.TemporalRunner != nil {
		if err := a.Services.TemporalRunner.Start(ctx); err != nil {
			return fmt.Errorf("start temporal runner: %w", err)
		}
	}

	if a.Cfg.SyncUserID != uuid.Nil {
		a.Services.Sweeper.Start(ctx, a.Cfg.SyncUserID)
	} else {
		a.Log.Warn("SYNC_USER_ID not set; folder sweeper disabled")
	}
	return nil
}

func (a *App) Run() error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(":" + a.Cfg.Port)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(context.Background())
	}
	a.Clients.Close()
	if a.Log != nil {
		a.Log.Sync()
	}
}
