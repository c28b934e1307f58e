package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taskchat/service"
)

// Services are the dependencies of the HTTP handlers.
type Services struct {
	Tokens      *service.TokenService
	Users       *service.UserService
	Chat        *service.ChatService
	CORSOrigins []string
}

// NewRouter builds the gin engine with middleware and every route.
func NewRouter(s Services) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(CORSMiddleware(s.CORSOrigins))
	r.Use(RequestIDMiddleware())
	r.Use(LogMiddleware())
	r.Use(MetricsMiddleware())

	auth := NewAuthController(s.Tokens)
	user := NewUserController(s.Users)
	chat := NewChatController(s.Chat)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	{
		v1.POST("/user/register", user.Register)
		v1.POST("/user/login", user.Login)

		//Refresh the token
		v1.POST("/token/refresh", auth.Refresh)

		v1.POST("/chat", auth.TokenValid, chat.Chat)
		v1.GET("/conversations", auth.TokenValid, chat.Conversations)
		v1.GET("/conversations/:id/messages", auth.TokenValid, chat.Messages)
	}

	api := r.Group("/api", auth.TokenValid)
	{
		api.POST("/:user_id/chat", chat.ChatForUser)
	}

	return r
}
