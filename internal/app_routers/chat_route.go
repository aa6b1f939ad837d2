package approuters

import (
	"RoastMedia/internal/configuration"
	"RoastMedia/internal/handler"

	"github.com/gin-gonic/gin"
)

func ChatRouters(router *gin.Engine, container *configuration.Container) {
	chat := router.Group("/rm/api/chat")
	chat.Use(handler.AuthRequired(container.Authenticator))
	{
		chat.GET("/conversations", container.ChatHandler.ListConversations)
		chat.GET("/with/:userId", container.ChatHandler.GetThread)
		chat.POST("/seen", container.ChatHandler.MarkSeen)
		chat.DELETE("/conversations/:conversationId", container.ChatHandler.DeleteConversation)
		chat.POST("/conversations/:conversationId/clear", container.ChatHandler.ClearConversation)
	}
}
