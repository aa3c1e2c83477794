// Package server exposes posts and their live comment lists over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log"
	"time"

	"classroom/internal/cache"
	"classroom/internal/comments"
	"classroom/internal/config"
	"classroom/internal/database"
	"classroom/internal/docstore"
	"classroom/internal/identity"
	"classroom/internal/models"
	"classroom/internal/observability"
	"classroom/internal/posts"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	users          identity.UserRepository
	directory      *identity.Directory
	comments       *comments.Store
	posts          *posts.Service
	wsLogger       *observability.WSLogger
}

// NewServer connects the user directory database and Redis described by cfg
// and opens the configured document store.
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = cache.NewClient(cfg.RedisURL)
		if err != nil {
			if cfg.DocstoreDriver == config.DriverRedis {
				return nil, fmt.Errorf("redis connection failed: %w", err)
			}
			log.Printf("Redis unavailable, identity cache disabled: %v", err)
			redisClient = nil
		}
	}

	docs, err := docstore.Open(cfg, redisClient)
	if err != nil {
		return nil, err
	}

	prom := fiberprometheus.New("classroom-api")
	return NewServerWithDeps(cfg, db, redisClient, docs, prom), nil
}

// NewServerWithDeps wires a server from already constructed dependencies.
// redisClient and prom may be nil.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, docs docstore.Store, prom *fiberprometheus.FiberPrometheus) *Server {
	users := identity.NewUserRepository(db)
	directory := identity.NewDirectory(users, redisClient, cfg.IdentityCacheTTL)
	roles := identity.NewRoles(directory)
	confirmer := headerConfirmer{}

	return &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: prom,
		users:          users,
		directory:      directory,
		comments: comments.NewStore(docs, directory, roles, confirmer,
			comments.WithAlerter(logAlerter{}),
			comments.WithEnrichConcurrency(cfg.EnrichConcurrency)),
		posts:    posts.NewService(docs, roles, confirmer),
		wsLogger: observability.NewWSLogger("comments"),
	}
}

// NewMetrics builds the HTTP metrics middleware on its own registry.
func NewMetrics(registry prometheus.Registerer) *fiberprometheus.FiberPrometheus {
	return fiberprometheus.NewWithRegistry(registry, "classroom-api", "http", "", nil)
}

func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())

	app.Use(requestid.New())

	app.Use(TracingMiddleware())

	app.Use(ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(s.promMiddleware.Middleware)
	}

	app.Use(helmet.New())

	app.Use(StructuredLogger())

	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000"
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Confirm, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))
}

func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	api := app.Group("/api")
	protected := api.Group("", s.AuthRequired())

	users := protected.Group("/users")
	users.Get("/", s.ListUsers)
	users.Get("/me", s.GetMyProfile)
	users.Put("/me", s.UpdateMyProfile)
	users.Get("/:id", s.GetUserProfile)

	writes := s.RateLimit("writes", s.config.WriteRateLimit, writeWindow)

	posts := protected.Group("/posts")
	posts.Post("/", writes, s.CreatePost)
	posts.Get("/:id", s.GetPost)
	posts.Delete("/:id", s.DeletePost)
	posts.Post("/:id/like", s.LikePost)
	posts.Delete("/:id/like", s.UnlikePost)
	posts.Post("/:id/comments", writes, s.CreateComment)
	posts.Delete("/:id/comments/:commentId", s.DeleteComment)
	posts.Post("/:id/comments/:commentId/like", s.LikeComment)
	posts.Delete("/:id/comments/:commentId/like", s.UnlikeComment)
	posts.Post("/:id/comments/:commentId/replies", writes, s.CreateReply)
	posts.Delete("/:id/comments/:commentId/replies/:replyKey", s.DeleteReply)

	api.Post("/ws/ticket", s.AuthRequired(), s.IssueWSTicket)

	ws := api.Group("/ws", s.AuthRequired())
	ws.Get("/posts/:id/comments", RequireUpgrade, s.CommentsStreamHandler())
}

// App builds the fiber application with middleware and routes installed.
func (s *Server) App() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "Classroom API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return models.RespondWithError(c, fe.Code, err)
			}
			log.Printf("Error: %v", err)
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return app
}

// Start starts the server and blocks until it stops listening.
func (s *Server) Start() error {
	app := s.App()
	log.Printf("Server starting on port %s...", s.config.Port)
	return app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			log.Printf("error shutting down HTTP server: %v", err)
		}
	}

	if s.db != nil {
		if sqlDB, err := s.db.DB(); err == nil {
			if cerr := sqlDB.Close(); cerr != nil {
				log.Printf("error closing sql DB: %v", cerr)
			}
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			log.Printf("error closing redis: %v", rerr)
		}
	}

	log.Println("Server shutdown complete")
	return nil
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
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if s.db == nil {
		dbStatus = "unavailable"
	} else if sqlDB, err := s.db.DB(); err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "disabled"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus != "healthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
			"docstore": s.config.DocstoreDriver,
		},
		"time": time.Now(),
	})
}
