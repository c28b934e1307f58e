package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"taskchat/service"
)

// Context keys set by TokenValid.
const (
	ContextUserID   = "UserId"
	ContextUserName = "UserName"
)

// AuthController ...
type AuthController struct {
	tokens *service.TokenService
}

func NewAuthController(tokens *service.TokenService) *AuthController {
	return &AuthController{tokens: tokens}
}

// TokenValid is the JWT middleware. It rejects the request with 401 unless
// the bearer token is valid and stores the caller in the context.
func (a AuthController) TokenValid(c *gin.Context) {
	tokenAuth, err := a.tokens.ExtractTokenMetadata(c.Request)
	if err != nil {
		logger.Infof("[%s] Rejected token: %s", c.GetString("requestId"), err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Please login first"})
		return
	}

	c.Set(ContextUserID, tokenAuth.UserID)
	c.Set(ContextUserName, tokenAuth.UserName)
	c.Next()
}

// Refresh ...
func (a AuthController) Refresh(c *gin.Context) {
	td, err := a.tokens.Refresh(c.Request)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Invalid authorization, please login again"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": td.AccessToken})
}
