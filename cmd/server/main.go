package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/community-amenity-booking/internal/app"
	"github.com/iliyamo/community-amenity-booking/internal/config"
	"github.com/iliyamo/community-amenity-booking/internal/handler"
	"github.com/iliyamo/community-amenity-booking/internal/middleware"
	"github.com/iliyamo/community-amenity-booking/internal/queue"
	"github.com/iliyamo/community-amenity-booking/internal/router"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := app.NewLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer a.Close()

	if cfg.NotifyConsumer {
		consumer := &queue.Consumer{
			URL:      cfg.RabbitURL,
			Exchange: cfg.NotifyExchange,
			Queue:    cfg.NotifyQueue,
			LogDir:   "logs",
			Logger:   logger,
		}
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("notification consumer stopped", "err", err)
			}
		}()
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestMetrics(logger))

	health := &handler.Health{DB: a.DB, Optional: map[string]handler.Pinger{}}
	if a.Redis != nil {
		health.Optional["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		})
	}
	router.RegisterRoutes(e, health)
	router.RegisterBookings(e, handler.NewBookingHandler(a.Service), cfg.JWTSecret,
		middleware.RateLimit(config.LoadRateLimitConfig(), a.Redis, logger))
	router.RegisterCron(e, handler.NewCronHandler(a.Sweeper, a.Service), cfg.CronSecret, cfg.CronSecretBcrypt)

	addr := ":" + cfg.Port
	go func() {
		logger.Info("listening", "addr", addr, "env", cfg.Env)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
}
