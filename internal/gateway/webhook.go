package gateway

import (
	"context"
	"fmt"
	"time"

	"botflow/internal/engine"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const defaultWebhookTimeout = 10 * time.Second

// WebhookInvoker performs webhook/API node calls. Implements the
// engine's WebhookClient interface.
type WebhookInvoker struct {
	http *resty.Client
	log  *zap.Logger
}

func NewWebhookInvoker(log *zap.Logger) *WebhookInvoker {
	return &WebhookInvoker{
		http: resty.New().SetTimeout(defaultWebhookTimeout),
		log:  log,
	}
}

// Call executes the declared request once and returns the raw response
// body. Retries, if wanted, belong to the remote side's contract.
func (w *WebhookInvoker) Call(ctx context.Context, req engine.WebhookRequest) ([]byte, error) {
	r := w.http.R().SetContext(ctx)
	if len(req.Headers) > 0 {
		r.SetHeaders(req.Headers)
	}
	if req.Body != nil {
		r.SetBody(req.Body)
	}

	start := time.Now()
	resp, err := r.Execute(req.Method, req.URL)
	if err != nil {
		return nil, fmt.Errorf("webhook %s %s: %w", req.Method, req.URL, err)
	}
	w.log.Debug("webhook call",
		zap.String("method", req.Method),
		zap.String("url", req.URL),
		zap.Int("status", resp.StatusCode()),
		zap.Duration("duration", time.Since(start)))
	if resp.IsError() {
		return nil, fmt.Errorf("webhook %s %s: status %d", req.Method, req.URL, resp.StatusCode())
	}
	return resp.Body(), nil
}
