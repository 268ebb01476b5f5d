// Package main runs the gamification progress engine server.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	app "github.com/lifequest-app/progress-engine/internal/app"
	"github.com/lifequest-app/progress-engine/internal/app/cache"
	"github.com/lifequest-app/progress-engine/internal/app/httpapi"
	"github.com/lifequest-app/progress-engine/internal/app/metrics"
	"github.com/lifequest-app/progress-engine/internal/app/storage/postgres"
	"github.com/lifequest-app/progress-engine/internal/config"
	"github.com/lifequest-app/progress-engine/internal/database"
	"github.com/lifequest-app/progress-engine/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to yaml configuration")
	auditPath := flag.String("audit-log", "", "path to the JSONL audit log")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.NewDefault("server").WithError(err).Fatal("load configuration")
	}

	log := logger.New(cfg.Logging).WithField("component", "server")

	stores := app.Stores{}
	if cfg.Database.DSN != "" {
		db, err := database.Open(cfg.Database.DSN, database.Options{
			MaxOpenConns: cfg.Database.MaxOpenConns,
			MaxIdleConns: cfg.Database.MaxIdleConns,
		})
		if err != nil {
			log.WithError(err).Fatal("open database")
		}
		defer db.Close()

		store := postgres.New(db)
		stores = app.Stores{
			Ledger:       store,
			Habits:       store,
			Achievements: store,
			Quests:       store,
			Levels:       store,
			Catalog:      store,
		}
		log.Info("using postgres storage")
	} else {
		log.Warn("DATABASE_DSN not set; using in-memory storage")
	}

	var pointsCache cache.PointsCache = cache.Noop{}
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pointsCache = cache.NewRedis(client, cfg.Redis.TTL)
		log.Infof("points cache enabled at %s", cfg.Redis.Addr)
	}

	application, err := app.New(stores, app.Options{
		Streaks:       cfg.Gamification.Streaks,
		Levels:        cfg.Gamification.Levels,
		SweepSchedule: cfg.Gamification.SweepSchedule,
		PointsCache:   pointsCache,
	}, log)
	if err != nil {
		log.WithError(err).Fatal("build application")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Fatal("start application")
	}

	apiHandler, err := httpapi.NewHandler(application, httpapi.Options{AuditLogPath: *auditPath})
	if err != nil {
		log.WithError(err).Fatal("build http handler")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/", httpapi.RateLimit(apiHandler, cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst))

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           metrics.InstrumentHandler(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Infof("listening on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application shutdown")
	}
	log.Info("stopped")
}
