package cachepurge

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const httpPurgeTimeout = 30 * time.Second

// HTTPPurger sends a PURGE request per URL to a CDN or reverse proxy.
// The URL's path and query are appended to the purge endpoint.
type HTTPPurger struct {
	endpoint string
	client   *http.Client
}

func NewHTTPPurger(endpoint string) *HTTPPurger {
	return &HTTPPurger{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: httpPurgeTimeout},
	}
}

func (h *HTTPPurger) Name() string { return "http" }

func (h *HTTPPurger) Available(ctx context.Context) bool { return h.endpoint != "" }

func (h *HTTPPurger) Purge(ctx context.Context, itemID string, urls []string) error {
	for _, raw := range urls {
		target := h.endpoint
		if u, err := url.Parse(raw); err == nil {
			target += u.EscapedPath()
			if u.RawQuery != "" {
				target += "?" + u.RawQuery
			}
		}
		req, err := http.NewRequestWithContext(ctx, "PURGE", target, nil)
		if err != nil {
			return err
		}
		req.Header.Set("X-Purge-Item", itemID)
		resp, err := h.client.Do(req)
		if err != nil {
			return fmt.Errorf("purge %s: %w", target, err)
		}
		resp.Body.Close()
		// a proxy that never cached the object answers 404
		if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
			return fmt.Errorf("purge %s returned non-2xx status: %d", target, resp.StatusCode)
		}
	}
	return nil
}
