package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"finrag/internal/bootstrap"
	"finrag/internal/transport/http/handler"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	// The static frontend is served from another origin.
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type"},
	}))

	sessionHandler := handler.NewSessionHandler(app.SessionService, app.Config.Ingest.MaxUploadMB)
	chatHandler := handler.NewChatHandler(app.ChatService)
	healthHandler := handler.NewHealthHandler(app)

	router.GET("/health", healthHandler.Check)

	api := router.Group("/api")
	api.POST("/upload", sessionHandler.Upload)
	api.GET("/status/:session_id", sessionHandler.Status)
	api.DELETE("/session/:session_id", sessionHandler.Delete)
	api.POST("/chat", chatHandler.Chat)
	api.GET("/history/:session_id", chatHandler.History)

	return router
}
