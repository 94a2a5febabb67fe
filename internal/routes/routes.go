package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/qrpay_identity/internal/account"
	"github.com/congo-pay/qrpay_identity/internal/auth"
	"github.com/congo-pay/qrpay_identity/internal/config"
	"github.com/congo-pay/qrpay_identity/internal/logging"
	"github.com/congo-pay/qrpay_identity/internal/middleware"
	"github.com/congo-pay/qrpay_identity/internal/notification"
	"github.com/congo-pay/qrpay_identity/internal/otp"
	"github.com/congo-pay/qrpay_identity/internal/secret"
)

// Deps aggregates shared dependencies required to wire routes. DB and Cache
// may be nil in development, in which case in-memory stores are used.
type Deps struct {
	Cfg      config.Config
	DB       *pgxpool.Pool
	Cache    redis.UniversalClient
	Notifier notification.Notifier
	Logger   *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDevelopment() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))

	svc, err := NewAccountService(d)
	if err != nil {
		return err
	}
	handler := account.NewHandler(svc, d.Logger)

	RegisterHealthRoutes(app, d)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterAuthRoutes(api, handler, AuthLimits{
		Idempotency: middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger),
		Login:       middleware.RateLimit(d.Cache, "login", d.Cfg.LoginRateLimit, time.Minute, d.Logger),
		VerifyOTP:   middleware.RateLimit(d.Cache, "verify-otp", d.Cfg.LoginRateLimit, time.Minute, d.Logger),
	})

	protected := api.Group("/user", middleware.JWTAuth(svc))
	RegisterUserRoutes(protected, handler)

	return nil
}

// NewAccountService assembles the account lifecycle manager from config,
// picking Postgres and Redis backends when they are available.
func NewAccountService(d Deps) (*account.Service, error) {
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	cfg := d.Cfg

	var repo account.Repository
	if d.DB != nil {
		repo = account.NewPostgresRepository(d.DB)
	} else {
		repo = account.NewMemoryRepository()
	}

	var consumed auth.ConsumedTokens
	if d.Cache != nil {
		consumed = auth.NewRedisConsumedTokens(d.Cache)
	} else {
		consumed = auth.NewMemoryConsumedTokens()
	}

	notifier := d.Notifier
	if notifier == nil {
		notifier = notification.NewLoggerNotifier(d.Logger)
	}

	hasher, err := secret.New(cfg.HashAlgorithm, cfg.HashCost)
	if err != nil {
		return nil, fmt.Errorf("build hasher: %w", err)
	}
	tokens, err := auth.NewTokens([]byte(cfg.JWTSecret), cfg.JWTIssuer)
	if err != nil {
		return nil, fmt.Errorf("build token service: %w", err)
	}

	svc, err := account.NewService(account.Deps{
		Repo:     repo,
		Hasher:   hasher,
		OTP:      otp.NewIssuer(cfg.OTPTTL),
		Tokens:   tokens,
		Consumed: consumed,
		Notifier: notifier,
		Logger:   d.Logger,
	}, account.Options{
		RequirePIN:           cfg.RequirePIN,
		IssueAccountNumbers:  cfg.IssueAccountNumbers,
		RequireVerifiedLogin: cfg.RequireVerifiedLogin,
		SessionTTL:           cfg.SessionTTL,
		ResetTTL:             cfg.ResetTTL,
		ResetURL:             cfg.ResetURL,
	})
	if err != nil {
		return nil, fmt.Errorf("build account service: %w", err)
	}
	return svc, nil
}
