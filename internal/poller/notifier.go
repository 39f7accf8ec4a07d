package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"sheetsync/internal/domain"
)

// Notifier delivers a batch of changes to the source.
type Notifier interface {
	Push(ctx context.Context, payload domain.PushPayload) error
}

// HTTPNotifier POSTs the payload as JSON to the source's webhook.
type HTTPNotifier struct {
	client *http.Client

	mu  sync.RWMutex
	url string
}

// NewHTTPNotifier creates a notifier for url. The timeout bounds one push.
func NewHTTPNotifier(url string, timeout time.Duration) *HTTPNotifier {
	if timeout <= 0 {
		timeout = DefaultPushTimeout
	}
	return &HTTPNotifier{
		client: &http.Client{Timeout: timeout},
		url:    url,
	}
}

// SetURL swaps the target URL; used on config reload.
func (n *HTTPNotifier) SetURL(url string) {
	n.mu.Lock()
	n.url = url
	n.mu.Unlock()
}

// URL returns the current target.
func (n *HTTPNotifier) URL() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.url
}

func (n *HTTPNotifier) Push(ctx context.Context, payload domain.PushPayload) error {
	url := n.URL()
	if url == "" {
		return fmt.Errorf("push: no webhook url configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
