// Package main runs the CrewSync membership HTTP server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/crewsync/backend/config"
	"github.com/crewsync/backend/internal/agents"
	"github.com/crewsync/backend/internal/auth"
	"github.com/crewsync/backend/internal/directory"
	"github.com/crewsync/backend/internal/mailer"
	"github.com/crewsync/backend/internal/membership"
	"github.com/crewsync/backend/internal/middleware"
	"github.com/crewsync/backend/internal/organizations"
	"github.com/crewsync/backend/internal/outbox"
	"github.com/crewsync/backend/internal/teams"
	"github.com/crewsync/backend/pkg/database"
	"github.com/crewsync/backend/pkg/redis"
	"github.com/crewsync/backend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	dir := directory.NewHTTPClient(cfg.Directory, rdb, logger)
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	mail := mailer.New(cfg.Email, logger)

	agentRepo := agents.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	svc := membership.NewService(dir, outboxRepo, agentRepo, mail, cfg.Root.Email, logger)
	reconciler := membership.NewReconciler(dir, outboxRepo, agentRepo, logger)

	authHandler := auth.NewHandler(agentRepo, reconciler, jwtService, cfg.Root.Email, logger)
	orgHandler := organizations.NewHandler(svc, agentRepo, logger)
	teamHandler := teams.NewHandler(svc, agentRepo, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Auth (public); the reconciler runs inside these before a session exists
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Agents (super agent only)
		api.GET("/agents", middleware.RequireRole(auth.RoleSuper), authHandler.List)

		// Organizations
		api.GET("/organizations", orgHandler.ListMine)
		api.POST("/organizations", orgHandler.Create)
		api.GET("/organizations/:id", orgHandler.Get)
		api.PUT("/organizations/:id", orgHandler.Rename)
		api.DELETE("/organizations/:id", orgHandler.Delete)
		api.POST("/organizations/:id/agents", orgHandler.AddMember)
		api.DELETE("/organizations/:id/agents/:email", orgHandler.RemoveMember)
		api.POST("/organizations/:id/accept", orgHandler.Accept)

		// Teams
		api.GET("/teams", teamHandler.ListMine)
		api.POST("/teams", teamHandler.Create)
		api.GET("/teams/:id", teamHandler.Get)
		api.PUT("/teams/:id", teamHandler.Rename)
		api.DELETE("/teams/:id", teamHandler.Delete)
		api.POST("/teams/:id/agents", teamHandler.AddMember)
		api.DELETE("/teams/:id/agents/:email", teamHandler.RemoveMember)
		api.POST("/teams/:id/accept", teamHandler.Accept)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
