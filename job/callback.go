package job

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"mediagent/logger"
	"mediagent/models"
	"mediagent/utils"
)

const (
	callbackTimeout = 30 * time.Second
	callbackIssuer  = "mediagent"
	minSecretLen    = 32
)

// Notifier posts terminal job states to the controlling platform as HS256 JWS
type Notifier struct {
	url     string
	siteKey string
	secret  []byte
	client  *http.Client
	now     func() time.Time
}

// NewNotifier returns nil when no callback URL is configured or the
// secret is too short to key HS256
func NewNotifier(url, siteKey, secret string) *Notifier {
	if url == "" {
		return nil
	}
	if len(secret) < minSecretLen {
		logger.Warnf("Completion callbacks disabled: site secret must be at least %d bytes", minSecretLen)
		return nil
	}
	return &Notifier{
		url:     url,
		siteKey: siteKey,
		secret:  []byte(secret),
		client:  &http.Client{Timeout: callbackTimeout},
		now:     time.Now,
	}
}

func (n *Notifier) Notify(ctx context.Context, j models.ConversionJob, path string) error {
	now := n.now().Unix()
	token, err := utils.SignJobEvent(n.secret, &models.JobEvent{
		Issuer:    callbackIssuer,
		IssuedAt:  now,
		ExpiresAt: now + int64(DefaultLockTTL.Seconds()),
		SiteKey:   n.siteKey,
		JobID:     j.ID,
		ItemID:    j.ItemID,
		Status:    j.Status,
		Path:      path,
		Error:     j.Error,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, strings.NewReader(token))
	if err != nil {
		return fmt.Errorf("failed to create callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/jose")
	req.Header.Set("User-Agent", "mediagent/1.0")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("callback request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned non-2xx status: %d", resp.StatusCode)
	}

	logger.Debugf("Sent callback for job %s to %s", j.ID, n.url)
	return nil
}
