package router

import (
	"github.com/gin-gonic/gin"
)

// RegisterV1Routes 注册 v1 版本路由
func RegisterV1Routes(v1 *gin.RouterGroup, identity gin.HandlerFunc, h Handlers) {
	// 认证
	if h.Auth != nil {
		auth := v1.Group("/auth")
		auth.POST("/guest", h.Auth.IssueGuestToken)
	}

	// 对话，访客与登录用户均需 token
	if h.Chat != nil {
		chat := v1.Group("/chat", identity)
		chat.POST("/messages", h.Chat.PostMessage)
		chat.GET("/threads/:tid/messages", h.Chat.ListThreadMessages)
	}
}
