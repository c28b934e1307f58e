package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"taskchat/agent"
	"taskchat/controller"
	"taskchat/llm"
	"taskchat/model"
	"taskchat/platform"
	"taskchat/service"
)

type echoModel struct{}

func (echoModel) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	last := req.Messages[len(req.Messages)-1]
	return &llm.Response{Text: "You said **" + last.Content + "**"}, nil
}

type testServer struct {
	router *gin.Engine
	tokens *service.TokenService
	db     *gorm.DB
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dialector, err := platform.Dialector(platform.Settings{
		DBDriver:   "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "controller.db"),
	})
	require.NoError(t, err)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, model.InstallDB(db))

	log, _ := test.NewNullLogger()
	tokens := service.NewTokenService("test-secret")
	router := controller.NewRouter(controller.Services{
		Tokens:      tokens,
		Users:       service.NewUserService(model.NewUserRepository(db), tokens, log),
		Chat:        service.NewChatService(db, echoModel{}, agent.DefaultConfig(), log),
		CORSOrigins: []string{"http://localhost:3000"},
	})
	return &testServer{router: router, tokens: tokens, db: db}
}

func (s *testServer) token(t *testing.T, userID uint, name string) string {
	t.Helper()
	td, err := s.tokens.CreateToken(userID, name)
	require.NoError(t, err)
	return td.AccessToken
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

type chatBody struct {
	ConversationID uint              `json:"conversation_id"`
	Response       string            `json:"response"`
	ResponseHTML   string            `json:"response_html"`
	ToolCalls      []json.RawMessage `json:"tool_calls"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestChatRequiresToken(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "POST", "/v1/chat", "", map[string]any{"message": "hi"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, "POST", "/v1/chat", "not-a-token", map[string]any{"message": "hi"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestChatRoundTrip(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, 1, "alice")

	w := s.do(t, "POST", "/v1/chat", token, map[string]any{"message": "hello"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decode[chatBody](t, w)
	assert.NotZero(t, first.ConversationID)
	assert.Equal(t, "You said **hello**", first.Response)
	assert.Empty(t, first.ResponseHTML)
	assert.NotNil(t, first.ToolCalls)
	assert.Contains(t, w.Body.String(), `"tool_calls":[]`)

	w = s.do(t, "POST", "/v1/chat", token, map[string]any{
		"message":         "again",
		"conversation_id": first.ConversationID,
		"render_html":     true,
	})
	require.Equal(t, http.StatusOK, w.Code)
	second := decode[chatBody](t, w)
	assert.Equal(t, first.ConversationID, second.ConversationID)
	assert.Contains(t, second.ResponseHTML, "<strong>again</strong>")

	w = s.do(t, "GET", "/v1/conversations", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Conversations []model.Conversation `json:"conversations"`
	}](t, w)
	require.Len(t, list.Conversations, 1)

	w = s.do(t, "GET", fmt.Sprintf("/v1/conversations/%d/messages", first.ConversationID), token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}](t, w)
	require.Len(t, history.Messages, 4)
	assert.Equal(t, "user", history.Messages[0].Role)
	assert.Equal(t, "hello", history.Messages[0].Content)
	assert.Equal(t, "assistant", history.Messages[3].Role)
}

func TestChatValidatesMessageLength(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, 1, "alice")

	w := s.do(t, "POST", "/v1/chat", token, map[string]any{"message": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, "POST", "/v1/chat", token, map[string]any{"message": strings.Repeat("a", 4001)})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, "POST", "/v1/chat", token, map[string]any{"message": strings.Repeat("a", 4000)})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestChatBindErrors(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, 1, "alice")

	w := s.do(t, "POST", "/v1/chat", token, map[string]any{"message": "hi", "conversation_id": "abc"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid input", decode[map[string]string](t, w)["error"])

	w = s.do(t, "POST", "/v1/chat", token, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "message must be between 1 and 4000 characters", decode[map[string]string](t, w)["error"])

	w = s.do(t, "POST", "/v1/chat", token, map[string]any{"message": strings.Repeat("a", 4001)})
	assert.Equal(t, "message must be between 1 and 4000 characters", decode[map[string]string](t, w)["error"])
}

func TestChatForUserPath(t *testing.T) {
	s := newTestServer(t)
	token := s.token(t, 1, "alice")

	w := s.do(t, "POST", "/api/2/chat", token, map[string]any{"message": "hi"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, "POST", "/api/1/chat", token, map[string]any{"message": "hi"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotZero(t, decode[chatBody](t, w).ConversationID)
}

func TestConversationIsolation(t *testing.T) {
	s := newTestServer(t)
	alice := s.token(t, 1, "alice")
	bob := s.token(t, 2, "bob")

	w := s.do(t, "POST", "/v1/chat", alice, map[string]any{"message": "private"})
	require.Equal(t, http.StatusOK, w.Code)
	aliceConv := decode[chatBody](t, w).ConversationID

	w = s.do(t, "GET", fmt.Sprintf("/v1/conversations/%d/messages", aliceConv), bob, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, "POST", "/v1/chat", bob, map[string]any{"message": "hijack", "conversation_id": aliceConv})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEqual(t, aliceConv, decode[chatBody](t, w).ConversationID)

	w = s.do(t, "GET", "/v1/conversations/abc/messages", bob, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegisterLoginRefresh(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, "POST", "/v1/user/register", "", map[string]any{
		"username": "carol", "password": "Passw0rd!", "email": "carol@example.com",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, "POST", "/v1/user/register", "", map[string]any{
		"username": "carol", "password": "Passw0rd!", "email": "carol@example.com",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, "POST", "/v1/user/login", "", map[string]any{"username": "carol", "password": "N0pe-nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, "POST", "/v1/user/login", "", map[string]any{"username": "carol", "password": "Passw0rd!"})
	require.Equal(t, http.StatusOK, w.Code)
	token := decode[map[string]string](t, w)["token"]
	require.NotEmpty(t, token)

	w = s.do(t, "POST", "/v1/token/refresh", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, decode[map[string]string](t, w)["token"])

	w = s.do(t, "POST", "/v1/chat", token, map[string]any{"message": "hi"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("OPTIONS", "/v1/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSWildcardOmitsCredentials(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(controller.CORSMiddleware([]string{"*"}))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("Origin", "https://evil.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))

	r = gin.New()
	r.Use(controller.CORSMiddleware([]string{"http://localhost:3000"}))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
}
