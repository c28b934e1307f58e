package controller

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"taskchat/agent"
	"taskchat/model"
	"taskchat/service"
)

const (
	defaultConversationLimit = 20
	maxConversationLimit     = 100
)

type ChatController struct {
	chat *service.ChatService
}

func NewChatController(chat *service.ChatService) *ChatController {
	return &ChatController{chat: chat}
}

type chatRequest struct {
	Message        string `json:"message" binding:"required,min=1,max=4000"`
	ConversationID *uint  `json:"conversation_id"`
	RenderHTML     bool   `json:"render_html"`
}

type chatResponse struct {
	ConversationID uint                   `json:"conversation_id"`
	Response       string                 `json:"response"`
	ResponseHTML   string                 `json:"response_html,omitempty"`
	ToolCalls      []agent.ToolCallRecord `json:"tool_calls"`
}

// Chat handles POST /v1/chat for the authenticated user.
func (ch ChatController) Chat(c *gin.Context) {
	ch.handleChat(c, c.GetString(ContextUserID))
}

// ChatForUser handles POST /api/:user_id/chat. The path user must be the
// authenticated user.
func (ch ChatController) ChatForUser(c *gin.Context) {
	userID := c.GetString(ContextUserID)
	if c.Param("user_id") != userID {
		logger.Warnf("[%s] User %s tried to chat as %s", c.GetString("requestId"), userID, c.Param("user_id"))
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}
	ch.handleChat(c, userID)
}

func (ch ChatController) handleChat(c *gin.Context, userID string) {
	requestID := c.GetString("requestId")

	var input chatRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		logger.Warnf("[%s] Invalid input, %s", requestID, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": bindError(err)})
		return
	}

	start := time.Now()
	result := ch.chat.Chat(c.Request.Context(), userID, input.Message, input.ConversationID)
	logger.Infof("[%s] Chat turn for user %s in conversation %d took %v with %d tool calls",
		requestID, userID, result.ConversationID, time.Since(start), len(result.ToolCalls))

	resp := chatResponse{
		ConversationID: result.ConversationID,
		Response:       result.Response,
		ToolCalls:      result.ToolCalls,
	}
	if resp.ToolCalls == nil {
		resp.ToolCalls = []agent.ToolCallRecord{}
	}
	if input.RenderHTML {
		html, err := ch.chat.RenderMarkdown(result.Response)
		if err != nil {
			logger.Warnf("[%s] Failed to render response: %s", requestID, err)
		} else {
			resp.ResponseHTML = html
		}
	}
	c.JSON(http.StatusOK, resp)
}

func bindError(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.Field() == "Message" {
				return "message must be between 1 and 4000 characters"
			}
		}
	}
	return "Invalid input"
}

// Conversations handles GET /v1/conversations.
func (ch ChatController) Conversations(c *gin.Context) {
	limit := defaultConversationLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxConversationLimit)
	}

	conversations, err := ch.chat.Conversations(c.Request.Context(), c.GetString(ContextUserID), limit)
	if err != nil {
		logger.Errorf("[%s] Failed to list conversations: %s", c.GetString("requestId"), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list conversations"})
		return
	}
	if conversations == nil {
		conversations = []model.Conversation{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

type messageView struct {
	ID        uint             `json:"id"`
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []model.ToolCall `json:"tool_calls"`
	CreatedAt time.Time        `json:"created_at"`
}

// Messages handles GET /v1/conversations/:id/messages.
func (ch ChatController) Messages(c *gin.Context) {
	requestID := c.GetString("requestId")
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid conversation id"})
		return
	}

	messages, err := ch.chat.History(c.Request.Context(), c.GetString(ContextUserID), uint(id))
	if err != nil {
		if errors.Is(err, model.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
			return
		}
		logger.Errorf("[%s] Failed to load conversation %d: %s", requestID, id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load conversation"})
		return
	}

	views := make([]messageView, 0, len(messages))
	for i := range messages {
		calls, err := messages[i].DecodeToolCalls()
		if err != nil {
			logger.Warnf("[%s] %s", requestID, err)
		}
		if calls == nil {
			calls = []model.ToolCall{}
		}
		views = append(views, messageView{
			ID:        messages[i].ID,
			Role:      messages[i].Role,
			Content:   messages[i].Content,
			ToolCalls: calls,
			CreatedAt: messages[i].CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"conversation_id": id, "messages": views})
}
