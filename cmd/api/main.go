package main

import (
	"context"
	"errors"
	"log"
	stdhttp "net/http"
	"os/signal"
	"syscall"
	"time"

	"shortlink/pkg/cache"
	"shortlink/pkg/clicks"
	"shortlink/pkg/config"
	"shortlink/pkg/http"
	"shortlink/pkg/logging"
	"shortlink/pkg/middleware"
	"shortlink/pkg/service"
	"shortlink/pkg/storage"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := storage.Migrate(cfg.DatabaseURL); err != nil {
		log.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal(err)
	}
	redisClient := redis.NewClient(opt)
	defer redisClient.Close()

	linkStorage := storage.NewPostgresLinkStorage(pool)
	linkCache := cache.NewLinkCache(redisClient)

	recorder := clicks.NewRecorder(linkStorage, logger, cfg.ClickWorkers, cfg.ClickBuffer)
	linkService := service.NewLinkService(linkStorage, linkCache, recorder, logger, cfg)

	reaper := service.NewReaper(linkStorage, logger, cfg.ReaperInterval)
	go reaper.Run(ctx)

	auth := middleware.NewAuth(cfg.JWTSecret)
	handler := http.NewHandler(linkService)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Throttle(1000))
	r.Use(middleware.RequestLogger(logger))
	http.SetupRoutes(r, handler, auth)

	server := &stdhttp.Server{Addr: cfg.Addr, Handler: r}
	go func() {
		logger.Info(ctx, "starting api server", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "server shutdown failed", "error", err)
	}

	// Drain buffered click events before the pool closes.
	recorder.Close()
}
