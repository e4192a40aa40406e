package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"prism-board/api"
	"prism-board/storage"
	"prism-board/storage/sqlitestore"
	"prism-board/subscription"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the board HTTP API",
		Long: `Run the board HTTP API.

Configuration is read from the environment. With STORAGE_DRIVER=sqlite and no
REDIS_CONNECTION_STRING an in-process Redis is started for caching and
change notifications.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(os.Getenv)
			if err != nil {
				log.Fatalf("config: %v", err)
			}
			if addr == "" {
				addr = ":" + cfg.port
			}
			return runServe(cmd.Context(), cfg, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default \":$PORT\")")
	return cmd
}

func runServe(ctx context.Context, cfg config, addr string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := openBackend(cfg)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer closeBackend()

	rc, closeRedis, err := openRedis(cfg)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer closeRedis()

	auth, err := newAuth(os.Getenv)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	logger := log.New()
	logger.SetLevel(log.GetLevel())

	store := storage.NewCache(backend, rc, cfg.cacheTTL, cfg.updatesChannel)
	deduper := api.NewRedisDeduper(rc, cfg.deduperTTL)
	hub := subscription.NewHub(store, cfg.historyLimit, logger)
	go hub.Run(ctx, rc, cfg.updatesChannel)

	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = api.SonicSerializer{}
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(api.GzipRequestMiddleware())
	e.Use(echoprometheus.NewMiddleware("prism_board"))
	e.GET("/metrics", echoprometheus.NewHandler())

	srv := api.Register(ctx, e, store, auth, deduper, hub, api.Config{
		HistoryLimit:   cfg.historyLimit,
		DraftSaveDelay: cfg.draftDelay,
		ExpiryInterval: cfg.expiryInterval,
	}, logger)
	defer srv.Close()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("shutdown")
		}
	}()

	logger.WithFields(log.Fields{"addr": addr, "driver": cfg.driver}).Info("prism-board listening")
	if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func openBackend(cfg config) (storage.Backend, func(), error) {
	switch cfg.driver {
	case driverSQLite:
		st, err := sqlitestore.Open(cfg.sqlitePath)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	default:
		st, err := storage.New(cfg.connStr, cfg.tables, cfg.notificationQueue)
		if err != nil {
			return nil, nil, err
		}
		return st, func() {}, nil
	}
}

func openRedis(cfg config) (*redis.Client, func(), error) {
	if cfg.redisConn == "" {
		m, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start embedded redis: %w", err)
		}
		log.WithField("addr", m.Addr()).Warn("no REDIS_CONNECTION_STRING, using embedded redis")
		rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
		return rc, func() {
			_ = rc.Close()
			m.Close()
		}, nil
	}
	rc := redis.NewClient(redisOptions(cfg.redisConn))
	return rc, func() { _ = rc.Close() }, nil
}

func newAuth(getenv func(string) string) (*api.Auth, error) {
	cfg, jwksURL, err := authConfig(getenv)
	if err != nil {
		return nil, err
	}
	if jwksURL != "" {
		if cfg.JWKS, err = keyfunc.Get(jwksURL, keyfunc.Options{}); err != nil {
			return nil, fmt.Errorf("jwks: %w", err)
		}
	}
	return api.NewAuth(cfg)
}
