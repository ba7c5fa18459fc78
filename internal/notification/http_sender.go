package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// SendPath is the backend endpoint that accepts notifications
const SendPath = "/api/send-notification"

// HTTPSender posts notifications to the backend REST API, retrying
// connection errors and 5xx/429 responses.
type HTTPSender struct {
	client  *retryablehttp.Client
	baseURL string
	logger  *zap.Logger
}

// NewHTTPSender creates a sender for the backend at baseURL
func NewHTTPSender(baseURL string, maxRetries int, logger *zap.Logger) *HTTPSender {
	client := retryablehttp.NewClient()
	client.RetryMax = maxRetries
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = 30 * time.Second
	client.Logger = nil
	client.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			logger.Warn("Retrying notification delivery",
				zap.String("url", req.URL.String()),
				zap.Int("attempt", attempt))
		}
	}

	return &HTTPSender{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// Send implements Sender
func (s *HTTPSender) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+SendPath, body)
	if err != nil {
		return fmt.Errorf("failed to build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification %s: %w", n.Type, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("notification backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	s.logger.Debug("Notification delivered",
		zap.String("type", n.Type),
		zap.Int("status_code", resp.StatusCode))
	return nil
}
