package platform

import (
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

var (
	LLMClient *openai.Client
)

// InitLLMClient builds the shared client for the OpenAI compatible endpoint.
// SDK retries are off; the agent loop does its own rate limit backoff.
func InitLLMClient(settings Settings) *openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(settings.LLMAPIKey),
		option.WithMaxRetries(0),
	}
	if settings.LLMBaseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL(settings.LLMBaseURL)))
	}
	LLMClient = openai.NewClient(opts...)
	return LLMClient
}

// baseURL makes sure relative endpoint paths resolve under the configured prefix.
func baseURL(raw string) string {
	if raw == "" || strings.HasSuffix(raw, "/") {
		return raw
	}
	return raw + "/"
}
