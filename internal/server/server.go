// Package server contains HTTP and WebSocket handlers for the application's API endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "roadcrew/docs" // swagger docs
	"roadcrew/internal/cache"
	"roadcrew/internal/changefeed"
	"roadcrew/internal/community"
	"roadcrew/internal/config"
	"roadcrew/internal/database"
	"roadcrew/internal/featureflags"
	"roadcrew/internal/middleware"
	"roadcrew/internal/models"
	"roadcrew/internal/notifications"
	"roadcrew/internal/realtime"
	"roadcrew/internal/repository"
	"roadcrew/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/swagger"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	feed           changefeed.Feed
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	validate       *validator.Validate
	profileRepo    repository.ProfileRepository
	friends        community.FriendOps
	conversations  community.ConversationOps
	messages       community.MessageOps
	hub            *notifications.Hub
	featureFlags   *featureflags.Manager
}

// NewFeed picks the change feed backend. Redis is used when configured and
// reachable; otherwise events stay in process.
func NewFeed(cfg *config.Config, rdb *redis.Client) changefeed.Feed {
	if cfg.ChangefeedBackend == config.ChangefeedRedis {
		if rdb != nil {
			return changefeed.NewRedisFeed(rdb, changefeed.DefaultBreakerConfig)
		}
		middleware.Logger.Warn("redis change feed requested but redis is unavailable, using in-process feed")
	}
	return changefeed.NewMemoryFeed()
}

// NewServer creates a new server instance with all dependencies
func NewServer(cfg *config.Config) (*Server, error) {
	if cfg.ProfileCacheTTL > 0 {
		cache.ProfileTTL = cfg.ProfileCacheTTL
	}
	cache.InitRedis(cfg.RedisURL)
	redisClient := cache.GetClient()

	feed := NewFeed(cfg, redisClient)

	db, err := database.Connect(cfg, changefeed.NewPlugin(feed))
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	return NewServerWithDeps(cfg, db, redisClient, feed)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// The changefeed plugin must already be registered on db for live updates.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, feed changefeed.Feed) (*Server, error) {
	if db == nil {
		return nil, errors.New("server: database is required")
	}
	if feed == nil {
		feed = changefeed.NewMemoryFeed()
	}

	profileRepo := repository.NewProfileRepository(db)
	chatRepo := repository.NewChatRepository(db)
	friendRepo := repository.NewFriendRepository(db)

	flags := featureflags.NewManager(cfg.FeatureFlags)
	friends := service.NewFriendService(friendRepo, profileRepo)

	return &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		feed:           feed,
		promMiddleware: middleware.InitMetrics("roadcrew-api"),
		validate:       validator.New(),
		profileRepo:    profileRepo,
		friends:        friends,
		conversations:  service.NewConversationService(chatRepo, profileRepo, friends, flags),
		messages:       service.NewMessageService(chatRepo, profileRepo),
		hub:            notifications.NewHub(),
		featureFlags:   flags,
	}, nil
}

// App builds the Fiber application with middleware and routes.
func (s *Server) App() *fiber.App {
	if s.app != nil {
		return s.app
	}
	app := fiber.New(fiber.Config{
		AppName:      "roadcrew API",
		ErrorHandler: s.errorHandler,
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return app
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
	}
	middleware.Logger.ErrorContext(c.UserContext(), "unhandled request error",
		slog.String("path", c.Path()),
		slog.String("error", err.Error()))
	return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so rejected requests still carry CORS headers.
	app.Use(cors.New(cors.Config{
		AllowOrigins:     s.config.AllowedOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))

	app.Use(middleware.TracingMiddleware())
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api")
	api.Get("/swagger/*", swagger.HandlerDefault)

	protected := api.Group("", middleware.AuthRequired(s.config.JWTSecret))

	users := protected.Group("/users")
	users.Get("/me", s.GetMyProfile)
	users.Get("/search", middleware.RateLimit(s.redis, 30, time.Minute, "user_search"), s.SearchUsers)

	// Specific /requests routes before generic /:friendshipId
	friends := protected.Group("/friends")
	friends.Get("/", s.GetFriends)
	friends.Post("/requests/:userId", middleware.RateLimit(
		s.redis, 5, 5*time.Minute, "friend_request"), s.SendFriendRequest)
	friends.Post("/requests/:requestId/accept", s.AcceptFriendRequest)
	friends.Post("/requests/:requestId/reject", s.RejectFriendRequest)
	friends.Post("/requests/:requestId/block", s.BlockFriendRequest)
	friends.Delete("/requests/:requestId", s.CancelFriendRequest)
	friends.Delete("/:friendshipId", s.RemoveFriend)

	// Specific /:id/:resource routes before generic /:id
	conversations := protected.Group("/conversations")
	conversations.Get("/", s.GetConversations)
	conversations.Post("/", s.CreateConversation)
	conversations.Post("/private/:userId", s.CreatePrivateConversation)
	conversations.Get("/:id/messages", s.GetMessages)
	conversations.Post("/:id/messages", middleware.RateLimit(
		s.redis, 15, time.Minute, "send_chat"), s.SendMessage)
	conversations.Get("/:id", s.GetConversation)

	ws := protected.Group("/ws")
	ws.Get("/chat", s.WebSocketChatHandler())
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	// Redis only gates readiness when the change feed runs on it.
	redisStatus := "disabled"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	} else if s.config.ChangefeedBackend == config.ChangefeedRedis {
		redisStatus = "unavailable"
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus != "healthy" || redisStatus == "unhealthy" || redisStatus == "unavailable" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

func (s *Server) sessionDeps() community.Deps {
	return community.Deps{
		Friends:       s.friends,
		Conversations: s.conversations,
		Messages:      s.messages,
		Feed:          s.feed,
		Realtime: realtime.Options{
			RetryAttempts:  s.config.SubscribeRetryAttempts,
			RetryBaseDelay: s.config.SubscribeRetryBaseDelay,
		},
	}
}

// Start starts the server
func (s *Server) Start() error {
	app := s.App()
	middleware.Logger.Info("Server starting", slog.String("port", s.config.Port))
	return app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			middleware.Logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}

	if err := s.hub.Shutdown(ctx); err != nil {
		middleware.Logger.Error("error shutting down websocket hub", slog.String("error", err.Error()))
	}

	if err := s.feed.Close(); err != nil {
		middleware.Logger.Error("error closing change feed", slog.String("error", err.Error()))
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			middleware.Logger.Error("error closing sql DB", slog.String("error", cerr.Error()))
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			middleware.Logger.Error("error closing redis", slog.String("error", rerr.Error()))
		}
	}

	middleware.Logger.Info("Server shutdown complete")
	return nil
}
