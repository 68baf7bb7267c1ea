package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/cardledger/cardledger/internal/auth"
	"github.com/cardledger/cardledger/internal/cards"
	"github.com/cardledger/cardledger/internal/clock"
	"github.com/cardledger/cardledger/internal/config"
	"github.com/cardledger/cardledger/internal/fxrate"
	"github.com/cardledger/cardledger/internal/idempotency"
	"github.com/cardledger/cardledger/internal/logging"
	"github.com/cardledger/cardledger/internal/middleware"
	"github.com/cardledger/cardledger/internal/money"
	"github.com/cardledger/cardledger/internal/notification"
	"github.com/cardledger/cardledger/internal/payments"
	"github.com/cardledger/cardledger/internal/store"
	"github.com/cardledger/cardledger/internal/validation"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger

	// Optional overrides. Store defaults to Postgres when DB is set and to the
	// in-memory store otherwise; Rates defaults to the central bank feed.
	Store store.UnitOfWork
	Rates money.RateSource
	Clock clock.Clock
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !isDev(d.Cfg.AppEnv) {
		if d.DB == nil && d.Store == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Clock == nil {
		d.Clock = clock.System{}
	}
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	if isDev(d.Cfg.AppEnv) {
		// Plain text access log: [HH:MM:SS] 200 -  145ms METHOD /path
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	}
	app.Use(middleware.Metrics())
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	uow := d.Store
	if uow == nil {
		if d.DB != nil {
			uow = store.NewPostgres(d.DB)
		} else {
			d.Logger.Warn("no database configured, using in-memory store")
			uow = store.NewMemory()
		}
	}

	rates := d.Rates
	if rates == nil {
		rates = newRateProvider(d)
	}

	mode, err := idempotency.ParseMode(d.Cfg.Idempotency.Mode)
	if err != nil {
		return err
	}
	ledger := idempotency.NewLedger(
		idempotency.WithMode(mode),
		idempotency.WithTTL(d.Cfg.Idempotency.TTL),
		idempotency.WithClock(d.Clock),
		idempotency.WithLogger(d.Logger),
	)
	validate := validation.New()

	cardSvc := cards.NewService(uow, ledger, d.Clock, d.Logger, cards.Config{
		MaxPerUser:        d.Cfg.MaxCardsPerUser,
		MaxInitialBalance: d.Cfg.MaxInitialBalance,
	})
	paymentSvc := payments.NewService(uow, ledger, money.NewConverter(rates),
		notification.NewLoggerNotifier(d.Logger), d.Clock, d.Logger)
	authSvc := auth.NewService(d.Cfg.JWT.Secret, d.Cfg.JWT.TTL, d.Clock)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  d.Clock.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	if d.Cfg.EnableTestTokens {
		var limiter fiber.Handler
		if d.Cache != nil {
			limiter = middleware.RateLimit(d.Cache, "token", d.Cfg.TokenRateLimitPerMinute, d.Logger)
		}
		RegisterAuthRoutes(api, auth.NewHandler(authSvc), limiter)
	}

	// Protected routes
	protected := api.Group("", middleware.JWTAuth(authSvc))
	RegisterCardRoutes(protected, cards.NewHandler(cardSvc, validate))
	RegisterPaymentRoutes(protected, payments.NewHandler(paymentSvc, validate))

	return nil
}

func newRateProvider(d Deps) *fxrate.Provider {
	opts := []fxrate.Option{
		fxrate.WithTTL(d.Cfg.FX.TTL),
		fxrate.WithClock(d.Clock),
		fxrate.WithLogger(d.Logger),
	}
	if d.Cache != nil {
		opts = append(opts, fxrate.WithSharedCache(fxrate.NewRedisCache(d.Cache)))
	}
	return fxrate.NewProvider(fxrate.NewCBUSource(d.Cfg.FX.BaseURL, d.Cfg.FX.HTTPTimeout), opts...)
}

func isDev(env string) bool {
	switch strings.ToLower(env) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}
