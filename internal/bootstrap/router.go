package bootstrap

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"multiplayer-life/internal/config"
	httpHandler "multiplayer-life/internal/handler/http"
	wsHandler "multiplayer-life/internal/handler/websocket"
	"multiplayer-life/internal/middleware"
	"multiplayer-life/internal/service"
)

// RouterDeps lists what the HTTP surface needs.
type RouterDeps struct {
	Config      config.AppConfig
	Log         *logrus.Logger
	RedisClient *redis.Client
	Tokens      *service.TokenService
	Rooms       *httpHandler.RoomHandler
	WebSocket   *wsHandler.WebSocketHandler
}

// NewRouter builds the gin engine.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(deps.Log))
	router.Use(cors.New(corsConfig(deps.Config.CORS.AllowedOrigin)))

	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })

	api := router.Group("/api")
	api.Use(middleware.RateLimit(deps.RedisClient, deps.Config.Redis.KeyPrefix, deps.Config.RateLimit.Max, deps.Config.RateLimit.Window))
	{
		api.POST("/rooms", deps.Rooms.CreateRoom)
		api.GET("/rooms/:roomId", deps.Rooms.GetRoom)
		api.POST("/rooms/:roomId/join", deps.Rooms.JoinRoom)
		api.GET("/rooms/:roomId/snapshot", deps.Rooms.GetLatestSnapshot)
	}

	router.GET("/ws", middleware.PlayerAuth(deps.Tokens), deps.WebSocket.HandleConnection)
	return router
}

func corsConfig(allowedOrigin string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Requested-With"},
		MaxAge:       12 * time.Hour,
	}
	if allowedOrigin == "*" {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = []string{allowedOrigin}
	cfg.AllowCredentials = true
	return cfg
}
