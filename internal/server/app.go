// Package server wires the chat server together: room directory (PostgreSQL or
// SQLite), resilient store (Redis + MongoDB with in-memory fallback), session
// coordinator, WebSocket gateway and the admin health endpoint, and runs
// them until a signal arrives or one of them fails.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/pairchat/internal/logging"
	"github.com/dmitrijs2005/pairchat/internal/server/config"
	"github.com/dmitrijs2005/pairchat/internal/server/coordinator"
	"github.com/dmitrijs2005/pairchat/internal/server/gateway"
	"github.com/dmitrijs2005/pairchat/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/pairchat/internal/server/services"
	"github.com/dmitrijs2005/pairchat/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	gs "github.com/dmitrijs2005/pairchat/internal/server/grpc"
)

const migrationTimeout = 30 * time.Second

type App struct {
	config *config.Config
	logger logging.Logger

	db    *sql.DB
	redis *redis.Client
	mongo *mongo.Client

	store       *storage.ResilientStore
	coordinator *coordinator.Coordinator
	gateway     *gateway.Gateway
	admin       *gs.AdminServer
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	db, rm, err := repomanager.Open(c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	mctx, cancel := context.WithTimeout(ctx, migrationTimeout)
	defer cancel()
	if err := rm.RunMigrations(mctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db migrations: %w", err)
	}

	dir := services.NewDirectoryService(db, rm, c)
	cleared, err := dir.ResetPresence(mctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("reset room presence: %w", err)
	}
	if cleared > 0 {
		logger.Info(ctx, "stale room memberships cleared", "count", cleared, "instance", c.InstanceID)
	}

	rc, err := storage.DialRedis(c.RedisURL)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	mc, err := storage.ConnectMongo(ctx, c.MongoURI)
	if err != nil {
		_ = db.Close()
		_ = rc.Close()
		return nil, err
	}

	store := storage.NewResilientStore(
		storage.NewRedisCache(rc),
		storage.NewMongoLog(mc.Database(c.MongoDatabase)),
		logger,
		storage.Options{
			LocalCacheSize:  c.LocalCacheSize,
			MessageRingSize: c.MessageRingSize,
			OpTimeout:       c.StorageTimeout,
			HealthInterval:  c.HealthCheckInterval,
			CleanupInterval: c.CleanupInterval,
		},
	)

	admin := gs.NewAdminServer(c.AdminAddr, logger)
	store.OnHealthChange(admin.SetBackendHealth)

	coord := coordinator.New(store, dir, logger, coordinator.Options{
		InstanceID:   c.InstanceID,
		HistoryLimit: c.HistoryLimit,
	})
	gw := gateway.New(coord, logger, gateway.Options{
		Address:      c.ListenAddr,
		ReadTimeout:  c.HeartbeatTimeout,
		PingInterval: c.HeartbeatTimeout * 5 / 6,
	})

	return &App{
		config:      c,
		logger:      logger,
		db:          db,
		redis:       rc,
		mongo:       mc,
		store:       store,
		coordinator: coord,
		gateway:     gw,
		admin:       admin,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run blocks until a termination signal or until one component fails, then
// stops the rest and releases the backends. The returned error is the first
// component failure.
func (app *App) Run(ctx context.Context) error {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "listen", app.config.ListenAddr, "admin", app.config.AdminAddr)

	app.initSignalHandler(cancelFunc)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.store.Run(ctx) })
	g.Go(func() error { return app.coordinator.Run(ctx) })
	g.Go(func() error { return app.gateway.Run(ctx) })
	g.Go(func() error { return app.admin.Run(ctx) })

	err := g.Wait()
	if err != nil {
		app.logger.Error(ctx, "app stopped with error", "error", err)
	}

	app.close()
	app.logger.Info(context.Background(), "App stopped")
	return err
}

func (app *App) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.mongo.Disconnect(ctx); err != nil {
		app.logger.Warn(ctx, "mongo disconnect", "error", err)
	}
	if err := app.redis.Close(); err != nil {
		app.logger.Warn(ctx, "redis close", "error", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Warn(ctx, "db close", "error", err)
	}
}
