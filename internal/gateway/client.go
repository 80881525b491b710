package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Client talks to the WhatsApp gateway's HTTP API. It implements the
// engine's Messenger interface; the transport itself (session handling,
// message queuing) lives in the gateway service.
type Client struct {
	http *resty.Client
	log  *zap.Logger
}

func NewClient(baseURL, token string, log *zap.Logger) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetHeader("Content-Type", "application/json")
	if token != "" {
		http.SetAuthToken(token)
	}
	return &Client{http: http, log: log}
}

// SendText delivers a text message to a contact number
func (c *Client) SendText(ctx context.Context, number, text string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"number": number, "body": text}).
		Post("/messages")
	if err != nil {
		return fmt.Errorf("gateway send to %s: %w", number, err)
	}
	if resp.IsError() {
		return fmt.Errorf("gateway send to %s: status %d: %s", number, resp.StatusCode(), resp.String())
	}
	return nil
}

// SendPresence updates the typing/recording indicator for a contact
func (c *Client) SendPresence(ctx context.Context, number, state string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"number": number, "state": state}).
		Post("/presence")
	if err != nil {
		return fmt.Errorf("gateway presence for %s: %w", number, err)
	}
	if resp.IsError() {
		return fmt.Errorf("gateway presence for %s: status %d", number, resp.StatusCode())
	}
	return nil
}
