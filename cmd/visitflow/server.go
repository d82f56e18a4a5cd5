package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/visitflow/internal/config"
	"github.com/ehr/visitflow/internal/domain/directory"
	"github.com/ehr/visitflow/internal/domain/notification"
	"github.com/ehr/visitflow/internal/domain/records"
	"github.com/ehr/visitflow/internal/domain/visit"
	"github.com/ehr/visitflow/internal/platform/auth"
	"github.com/ehr/visitflow/internal/platform/db"
	"github.com/ehr/visitflow/internal/platform/metrics"
	"github.com/ehr/visitflow/internal/platform/middleware"
	"github.com/ehr/visitflow/internal/platform/redis"
	"github.com/ehr/visitflow/internal/platform/websocket"
)

// stores is one complete persistence backend.
type stores struct {
	visits        visit.Repository
	counter       visit.DayCounter
	seed          visit.DaySeeder
	directory     directory.Directory
	records       visit.Records
	notifications notification.Repository
	tx            visit.TxRunner
}

func postgresStores(pool *pgxpool.Pool) stores {
	return stores{
		visits:        visit.NewRepo(pool),
		counter:       visit.NewPGCounter(pool),
		seed:          visit.PGDaySeeder(pool),
		directory:     directory.NewPGDirectory(pool),
		records:       records.NewPGStore(pool),
		notifications: notification.NewRepo(pool),
		tx:            db.NewTransactor(pool),
	}
}

// memoryStores backs a development server with no database. The dev actor
// is provisioned as admin so unauthenticated requests can drive the
// workflow.
func memoryStores(ctx context.Context) (stores, error) {
	dir := directory.NewMemoryDirectory()
	err := dir.Upsert(ctx, &directory.User{
		ID:          auth.DevUserID,
		Username:    "dev",
		DisplayName: "Development user",
		Active:      true,
		Roles:       []string{directory.RoleAdmin},
	})
	if err != nil {
		return stores{}, err
	}
	visits := visit.NewMemoryRepo()
	return stores{
		visits:        visits,
		counter:       visit.NewMemoryCounter(),
		seed:          visits.MaxSequence,
		directory:     dir,
		records:       records.NewMemoryStore(),
		notifications: notification.NewMemoryRepo(),
	}, nil
}

type server struct {
	echo       *echo.Echo
	hub        *websocket.Hub
	metrics    *metrics.Metrics
	visits     *visit.Service
	notify     *notification.Service
	dispatcher *notification.Dispatcher
	closers    []func()
}

// Close drains queued notifications before releasing connections.
func (s *server) Close() {
	if s.dispatcher != nil {
		s.dispatcher.Close()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func newServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*server, error) {
	srv := &server{metrics: metrics.New()}
	var (
		st       stores
		pool     *pgxpool.Pool
		checkers []db.Checker
		err      error
	)

	switch cfg.Store {
	case config.StoreMemory:
		st, err = memoryStores(ctx)
		if err != nil {
			return nil, err
		}
		logger.Warn().Msg("using in-memory store; data is lost on restart")
	default:
		pool, err = db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		srv.closers = append(srv.closers, pool.Close)
		logger.Info().Msg("connected to database")
		st = postgresStores(pool)
		checkers = append(checkers, db.PoolChecker(pool))
	}

	rdb, err := redis.New(ctx, redis.Config{URL: cfg.RedisURL, PoolSize: cfg.RedisPool})
	if err != nil {
		srv.Close()
		return nil, err
	}
	if rdb != nil {
		srv.closers = append(srv.closers, func() { rdb.Close() })
		st.counter = visit.NewRedisCounter(rdb, "", st.seed)
		checkers = append(checkers, db.Checker{Name: "redis", Check: rdb.Health})
		logger.Info().Msg("visit numbering uses redis")
	}

	loc, err := cfg.Location()
	if err != nil {
		srv.Close()
		return nil, err
	}

	srv.hub = websocket.NewHub(logger)

	srv.notify = notification.NewService(st.notifications, st.directory, logger)
	srv.notify.SetPublisher(srv.hub)
	srv.notify.SetMetrics(srv.metrics)
	srv.dispatcher = notification.NewDispatcher(srv.notify, cfg.NotifyQueueSize, cfg.NotifyWorkers, logger)
	srv.dispatcher.SetMetrics(srv.metrics)

	srv.visits = visit.NewService(st.visits, visit.NewNumberer(st.counter, loc, cfg.VisitNumberWidth), st.directory, st.records, logger)
	srv.visits.SetNotifier(srv.dispatcher)
	srv.visits.SetPublisher(srv.hub)
	srv.visits.SetMetrics(srv.metrics)
	srv.visits.SetTxRunner(st.tx)
	srv.visits.SetMaxRetries(cfg.ToggleMaxRetries)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger, srv.metrics))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAud,
		SigningKey: []byte(cfg.JWTKey),
		Skipper:    auth.AuthSkipper,
	}
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	e.GET("/health", db.HealthHandler(pool, checkers...))
	e.GET("/metrics", echo.WrapHandler(srv.metrics.Handler()))

	websocket.NewHandler(srv.hub, cfg.CORSOrigins).RegisterRoutes(e.Group(""))

	api := e.Group("/api/v1")
	visit.NewHandler(srv.visits).RegisterRoutes(api)
	notification.NewHandler(srv.notify).RegisterRoutes(api)

	srv.echo = e
	return srv, nil
}
