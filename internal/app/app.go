package app

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pixata/checkout/internal/module/checkout"
	"github.com/pixata/checkout/internal/module/checkout/flow"
	"github.com/pixata/checkout/internal/module/checkout/provider"
	"github.com/pixata/checkout/internal/shared/cache"
	"github.com/pixata/checkout/internal/shared/config"
	"github.com/pixata/checkout/internal/shared/database"
	"github.com/pixata/checkout/internal/shared/logger"
	"github.com/pixata/checkout/internal/utils/metrics"
	"github.com/pixata/checkout/internal/utils/middleware"
)

// App wires the settlement service, the durable session flow and the HTTP
// surface together.
type App struct {
	config *config.Config
	logger *zap.Logger
	db     *gorm.DB
	redis  redis.UniversalClient
	router *gin.Engine

	checkoutHandler *checkout.Handler
	returnHandler   *flow.ReturnHandler
	listener        *flow.ReturnListener
	coordinator     *flow.Coordinator
	sessionStore    flow.Store
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	app := &App{
		config: cfg,
		logger: log,
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := checkout.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	app.db = db

	redisClient, err := cache.NewRedisClient(&cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}
	app.redis = redisClient

	m := metrics.New("checkout")

	prov := provider.NewStripeProvider(&provider.StripeConfig{
		APIKey: cfg.Stripe.SecretKey,
	})
	repo := checkout.NewRepository(db)
	service := checkout.NewService(repo, prov, cfg.Stripe.PublishableKey, cfg.Checkout.ReturnPath, m, log)
	app.checkoutHandler = checkout.NewHandler(service)

	// Sessions awaiting 3DS authentication outlive any single process;
	// the redis store is what lets a return signal find them again.
	app.sessionStore = flow.NewRedisStore(redisClient, cfg.Checkout.SessionTTL)
	app.listener = flow.NewReturnListener()
	app.coordinator = flow.NewCoordinator(
		app.sessionStore,
		&intentResolver{provider: prov},
		&serviceSettlement{service: service},
		app.listener,
		nil,
		log,
	)
	if err := app.coordinator.Start(); err != nil {
		return nil, fmt.Errorf("start return coordinator: %w", err)
	}
	app.returnHandler = flow.NewReturnHandler(app.listener)

	app.router = app.setupRouter(m)

	return app, nil
}

// Router returns the HTTP router.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Stop releases application resources.
func (a *App) Stop() {
	a.coordinator.Stop()
	if err := a.listener.Close(); err != nil {
		a.logger.Warn("failed to close return listener", zap.Error(err))
	}
	if err := cache.Close(a.redis); err != nil {
		a.logger.Warn("failed to close redis client", zap.Error(err))
	}
	if err := database.Close(a.db); err != nil {
		a.logger.Warn("failed to close database", zap.Error(err))
	}
	_ = a.logger.Sync()
}

func (a *App) setupRouter(m *metrics.Metrics) *gin.Engine {
	if a.config.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(middleware.Recovery(a.logger))
	router.Use(middleware.RequestID())
	router.Use(middleware.Logging(a.logger))
	router.Use(middleware.Metrics(m))
	router.Use(middleware.PermissionsPolicy())

	corsCfg := middleware.DefaultCORSConfig()
	if len(a.config.Checkout.AllowedOrigins) > 0 {
		corsCfg.AllowOrigins = a.config.Checkout.AllowedOrigins
	}
	router.Use(middleware.CORS(corsCfg))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	a.checkoutHandler.RegisterRoutes(api)
	a.returnHandler.RegisterRoutes(api)

	return router
}
