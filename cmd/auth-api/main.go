package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/auth-api/api/swagger"
	"github.com/noah-isme/auth-api/internal/handler"
	internalmiddleware "github.com/noah-isme/auth-api/internal/middleware"
	"github.com/noah-isme/auth-api/internal/repository"
	"github.com/noah-isme/auth-api/internal/service"
	"github.com/noah-isme/auth-api/internal/token"
	"github.com/noah-isme/auth-api/pkg/cache"
	"github.com/noah-isme/auth-api/pkg/config"
	"github.com/noah-isme/auth-api/pkg/database"
	"github.com/noah-isme/auth-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/auth-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/auth-api/pkg/middleware/requestid"
)

// @title Auth API
// @version 1.0.0
// @description Token lifecycle service: registration, login, refresh rotation, revocation
// @BasePath /
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	limiter := internalmiddleware.NewRateLimiter(nil, logr, cfg.RateLimit.MaxAttempts, cfg.RateLimit.Window)
	if cfg.RateLimit.Enabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, rate limiting disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			limiter = internalmiddleware.NewRateLimiter(redisClient, logr, cfg.RateLimit.MaxAttempts, cfg.RateLimit.Window)
		}
	}

	codec := token.NewManager(token.Config{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
		TTL:      cfg.JWT.Expiration,
	})

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewRefreshTokenRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	authSvc := service.NewAuthService(userRepo, tokenRepo, auditRepo, codec, validate, logr, metricsSvc, service.AuthConfig{
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
	})

	authHandler := handler.NewAuthHandler(authSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	auth := r.Group(cfg.APIPrefix + "/auth")
	{
		auth.POST("/register", limiter.Limit("register"), authHandler.Register)
		auth.POST("/login", limiter.Limit("login"), authHandler.Login)
		auth.POST("/refresh", limiter.Limit("refresh"), authHandler.Refresh)
		auth.POST("/logout", authHandler.Logout)

		secured := auth.Group("")
		secured.Use(internalmiddleware.JWT(authSvc))
		secured.POST("/logout-all", authHandler.LogoutAll)
		secured.POST("/change-password", authHandler.ChangePassword)
		secured.GET("/me", authHandler.Me)
		secured.GET("/sessions", authHandler.Sessions)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
