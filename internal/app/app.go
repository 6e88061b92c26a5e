// Package app wires configuration, storage, messaging and the booking
// service together for the binaries under cmd/.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/community-amenity-booking/internal/config"
	"github.com/iliyamo/community-amenity-booking/internal/database"
	"github.com/iliyamo/community-amenity-booking/internal/queue"
	"github.com/iliyamo/community-amenity-booking/internal/repository"
	"github.com/iliyamo/community-amenity-booking/internal/service"
)

// App holds the long-lived collaborators of a process.
type App struct {
	Config    config.Config
	Log       *slog.Logger
	DB        *sqlx.DB
	Redis     *redis.Client // nil when Redis is unreachable
	Publisher *queue.Publisher
	Bookings  *repository.BookingRepo
	Service   *service.Service
	Sweeper   *service.Sweeper
}

// NewLogger returns a JSON logger in production and a text logger
// elsewhere.  LOG_LEVEL=debug lowers the threshold.
func NewLogger(env string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		opts.Level = slog.LevelDebug
	}
	var h slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if env == "prod" || env == "production" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(h).With("service", "amenity-booking")
}

// Build opens the database (migrating it when configured), connects to
// Redis when available and assembles the service and sweeper.
func Build(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.DBMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Warn("redis unavailable; amenity cache, rate limiting and sweep locks disabled")
	}

	bookings := repository.NewBookingRepo(db)
	amenities := repository.NewCachedAmenityRepo(repository.NewAmenityRepo(db), rdb, config.LoadCacheConfig())
	stats := repository.NewStatsRepo(db)
	publisher := queue.NewPublisher(cfg.RabbitURL, cfg.NotifyExchange, log)

	svc := service.New(bookings, amenities, stats, publisher, cfg.Policy, service.Options{
		BaseURL: cfg.BaseURL,
		Logger:  log,
	})
	sweeper := service.NewSweeper(svc, bookings, repository.NewRedisRunLock(rdb, "amenity-booking"))

	return &App{
		Config:    cfg,
		Log:       log,
		DB:        db,
		Redis:     rdb,
		Publisher: publisher,
		Bookings:  bookings,
		Service:   svc,
		Sweeper:   sweeper,
	}, nil
}

// Close releases every connection the App opened.
func (a *App) Close() {
	_ = a.Publisher.Close()
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	_ = a.DB.Close()
}
