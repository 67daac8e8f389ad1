package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/promptstack/promptstack-billing/internal/config"
	"github.com/promptstack/promptstack-billing/internal/costgov"
	"github.com/promptstack/promptstack-billing/internal/db"
	"github.com/promptstack/promptstack-billing/internal/http/api/admin"
	"github.com/promptstack/promptstack-billing/internal/http/api/front"
	"github.com/promptstack/promptstack-billing/internal/ledger"
	"github.com/promptstack/promptstack-billing/internal/logging"
	"github.com/promptstack/promptstack-billing/internal/settings"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

var flagConfig string

func init() {
	flag.StringVar(&flagConfig, "config", "", "config path, eg: -config config.yaml")
}

func main() {
	flag.Parse()

	cfg, errLoad := config.Load(config.ResolveConfigPath(flagConfig))
	if errLoad != nil {
		log.WithError(errLoad).Fatal("failed to load config")
	}
	logging.Setup(cfg.Log)

	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		log.WithError(errOpen).Fatal("failed to open database")
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		log.WithError(errMigrate).Fatal("failed to migrate database")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if errRefresh := settings.RefreshDBConfigSnapshot(ctx, conn); errRefresh != nil {
		log.WithError(errRefresh).Warn("failed to load settings snapshot, using defaults")
	}

	var cache *ledger.BalanceCache
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if errPing := rdb.Ping(ctx).Err(); errPing != nil {
			log.WithError(errPing).Warn("redis unreachable, balance cache disabled")
		} else {
			cache = ledger.NewBalanceCache(rdb)
		}
	}

	creditLedger := ledger.NewService(conn, cache)
	governor := costgov.NewService(conn)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	front.RegisterFrontRoutes(engine, conn, cfg.JWT, creditLedger, governor)
	admin.RegisterAdminRoutes(engine, conn, cfg.Admin, creditLedger, governor)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("listening on %s", cfg.Server.Addr)
		if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			log.WithError(errServe).Error("server exited")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
		log.WithError(errShutdown).Error("graceful shutdown failed")
		os.Exit(1)
	}
}
