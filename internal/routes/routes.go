package routes

import (
	"time"

	"flowdesk/backend/internal/handlers"
	"flowdesk/backend/internal/logger"
	"flowdesk/backend/internal/middleware"
	"flowdesk/backend/internal/monitoring"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

// Dependencies is everything the router mounts. Metrics, Health and
// RateLimiter are optional.
type Dependencies struct {
	ClientURL string
	Auth      middleware.Authenticator
	Log       *logger.Logger

	AuthHandler     *handlers.AuthHandler
	TaskHandler     *handlers.TaskHandler
	AdminHandler    *handlers.AdminHandler
	RealtimeHandler *handlers.RealtimeHandler

	Metrics     *monitoring.Metrics
	Health      *monitoring.HealthChecker
	RateLimiter *middleware.RateLimiter
}

func SetupRouter(deps Dependencies) (*gin.Engine, error) {
	if err := handlers.RegisterValidators(); err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(middleware.RecoveryWithLog(deps.Log))
	router.Use(middleware.RequestLogger(deps.Log))
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware())
	}
	router.Use(cors.New(corsConfig(deps.ClientURL)))

	registerAuthRoutes(router, deps)
	registerTaskRoutes(router, deps)
	registerAdminRoutes(router, deps)

	if deps.RealtimeHandler != nil {
		router.GET("/ws", middleware.AuthzMiddleware(middleware.AuthzConfig{
			Auth:            deps.Auth,
			AllowQueryToken: true,
		}), deps.RealtimeHandler.Serve)
	}

	if deps.Health != nil {
		router.GET("/health", deps.Health.HealthHandler())
		router.GET("/health/live", deps.Health.LivenessHandler())
		router.GET("/health/ready", deps.Health.ReadinessHandler())
	}
	if deps.Metrics != nil {
		router.GET("/metrics", deps.Metrics.Handler())
	}

	return router, nil
}

func corsConfig(clientURL string) cors.Config {
	config := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Accept-Encoding", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Encoding"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if clientURL == "" || clientURL == "*" {
		config.AllowCredentials = false
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = []string{clientURL}
	}
	return config
}

func registerAuthRoutes(router *gin.Engine, deps Dependencies) {
	auth := router.Group("/api/auth")
	if deps.RateLimiter != nil {
		auth.Use(deps.RateLimiter.Middleware())
	}
	auth.POST("/register", deps.AuthHandler.Register)
	auth.POST("/login", deps.AuthHandler.Login)
}

func registerTaskRoutes(router *gin.Engine, deps Dependencies) {
	tasks := router.Group("/api/tasks")
	tasks.Use(middleware.Authenticated(deps.Auth))

	tasks.GET("", gzip.Gzip(gzip.DefaultCompression), deps.TaskHandler.ListMine)
	tasks.POST("", deps.TaskHandler.Create)
	tasks.PUT("/:id", deps.TaskHandler.Update)
}

func registerAdminRoutes(router *gin.Engine, deps Dependencies) {
	admin := router.Group("/api/admin")
	admin.Use(middleware.AdminOnly(deps.Auth))

	admin.GET("/users", gzip.Gzip(gzip.DefaultCompression), deps.AdminHandler.ListUsers)
	admin.GET("/all-tasks", gzip.Gzip(gzip.DefaultCompression), deps.AdminHandler.ListAllTasks)
	admin.POST("/tasks", deps.AdminHandler.CreateTask)
	admin.PUT("/tasks/:id", deps.AdminHandler.UpdateTask)
	admin.PUT("/extension-request/:id", deps.AdminHandler.ResolveExtension)
}
