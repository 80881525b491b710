package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// AssistantClient forwards openai-node conversations to the AI
// assistant service. Implements the engine's Assistant interface.
type AssistantClient struct {
	http *resty.Client
	log  *zap.Logger
}

func NewAssistantClient(baseURL, token string, log *zap.Logger) *AssistantClient {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second)
	if token != "" {
		http.SetAuthToken(token)
	}
	return &AssistantClient{http: http, log: log}
}

// Reply asks the assistant service for a conversational reply
func (a *AssistantClient) Reply(ctx context.Context, prompt string, vars map[string]any) (string, error) {
	var out struct {
		Reply string `json:"reply"`
	}
	resp, err := a.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"prompt": prompt, "variables": vars}).
		SetResult(&out).
		Post("/reply")
	if err != nil {
		return "", fmt.Errorf("assistant reply: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("assistant reply: status %d", resp.StatusCode())
	}
	return out.Reply, nil
}
