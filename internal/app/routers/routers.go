package routers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dify-chat-agent/internal/app/controllers"
	v1 "dify-chat-agent/internal/app/controllers/v1"
	"dify-chat-agent/internal/app/repositories"
	"dify-chat-agent/internal/app/services"
)

// SetUp 注册中继接口，records 为 nil 时对话记录接口返回 404
func SetUp(sessions *services.SessionManager, backend services.Backend, records *repositories.ConversationRecordRepository) *gin.Engine {
	g := gin.New()
	g.Use(gin.Logger(), gin.Recovery(), corsMiddleware())

	g.GET("/metrics", gin.WrapH(promhttp.Handler()))

	mainGroup := g.Group("/chat/")
	mainGroup.GET("/health", controllers.Health)

	controller := v1.NewChatController(sessions, backend)
	recordController := v1.NewRecordController(records)

	apiGroup := mainGroup.Group("/v1")
	{
		apiGroup.POST("/sessions", controller.CreateSession)
		apiGroup.POST("/sessions/:id/messages", controller.SendMessage)
		apiGroup.GET("/sessions/:id/messages", controller.Messages)
		apiGroup.POST("/sessions/:id/stop", controller.Stop)
		apiGroup.POST("/sessions/:id/reset", controller.Reset)
		apiGroup.GET("/sessions/:id/history", controller.History)
		apiGroup.POST("/sessions/:id/messages/:messageId/feedbacks", controller.Feedback)
		apiGroup.GET("/app/:kind", controller.AppInfo)

		apiGroup.GET("/sessions/:id/records", recordController.BySession)
		apiGroup.GET("/conversations/:conversationId/records", recordController.ByConversation)
	}

	return g
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Origin")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(200)
			return
		}
		c.Next()
	}
}
