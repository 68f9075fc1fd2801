package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"ncmcheck/internal/config"
)

const maxAttempts = 5

type Client struct {
	url        string
	httpClient *http.Client
	limiter    *RateLimiter
	log        *zap.Logger
}

func NewClient(cfg config.Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		url:        cfg.DatasetURL,
		httpClient: &http.Client{Timeout: cfg.DatasetTimeout},
		limiter:    NewRateLimiter(cfg.DatasetRateLimitRPS),
		log:        log,
	}
}

// Download fetches the published dataset, retrying throttled and server
// errors with exponential backoff.
func (c *Client) Download(ctx context.Context) ([]byte, error) {
	if strings.TrimSpace(c.url) == "" {
		return nil, errors.New("missing NCM_DATASET_URL")
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.WaitTurn(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json, application/vnd.openxmlformats-officedocument.spreadsheetml.sheet;q=0.9, */*;q=0.1")
		req.Header.Set("User-Agent", "ncmcheck/1.0")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			c.log.Warn("dataset download failed", zap.Int("attempt", attempt), zap.Error(err))
			if err := sleepBackoff(ctx, attempt); err != nil {
				return nil, err
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			if isRetryableStatus(resp.StatusCode) && attempt < maxAttempts {
				lastErr = fmt.Errorf("dataset status %d", resp.StatusCode)
				c.log.Warn("dataset download retry", zap.Int("attempt", attempt), zap.Int("status", resp.StatusCode))
				if err := sleepBackoff(ctx, attempt); err != nil {
					return nil, err
				}
				continue
			}
			return nil, fmt.Errorf("dataset download error: status=%d body=%s", resp.StatusCode, truncate(string(body), 200))
		}

		c.log.Info("dataset downloaded", zap.String("url", c.url), zap.Int("bytes", len(body)), zap.Int("attempt", attempt))
		return body, nil
	}

	if lastErr == nil {
		lastErr = errors.New("dataset download failed")
	}
	return nil, lastErr
}

func sleepBackoff(ctx context.Context, attempt int) error {
	backoff := time.Duration(250*(1<<(attempt-1))+rand.Intn(100)) * time.Millisecond
	timer := time.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isRetryableStatus(status int) bool {
	switch status {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
