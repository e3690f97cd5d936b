// Package registry is the client for the Registry's internal API: the list of
// active targets, uptime counters and the incident audit trail.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimepipeline/internal/domain"
	"github.com/hamed0406/uptimepipeline/internal/metrics"
)

const HeaderAPIKey = "X-Internal-API-Key"

// ErrPermanent wraps responses that retrying cannot fix (4xx other than 408/429).
var ErrPermanent = errors.New("registry rejected request")

type Client struct {
	BaseURL  string
	APIKey   string
	HTTP     *http.Client
	Attempts int
	Backoff  time.Duration
	Logger   *zap.Logger
}

func New(baseURL, apiKey string, timeout time.Duration, attempts int, wait time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if attempts < 1 {
		attempts = 3
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		BaseURL:  baseURL,
		APIKey:   apiKey,
		HTTP:     &http.Client{Timeout: timeout},
		Attempts: attempts,
		Backoff:  wait,
		Logger:   log,
	}
}

// ListTargets returns the active, normalized targets. Invalid entries are
// logged and skipped rather than failing the whole list.
func (c *Client) ListTargets(ctx context.Context) ([]domain.Target, error) {
	var raw []domain.Target
	if err := c.do(ctx, "list", http.MethodGet, "/all_monitors", nil, &raw); err != nil {
		return nil, err
	}
	out := make([]domain.Target, 0, len(raw))
	for _, t := range raw {
		if !t.Active {
			continue
		}
		n, err := t.Normalize()
		if err != nil {
			c.Logger.Warn("registry_target_invalid",
				zap.String("target_id", string(t.ID)),
				zap.String("url", t.URL),
				zap.Error(err),
			)
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// RecordStats bumps the target's uptime counters by one check.
func (c *Client) RecordStats(ctx context.Context, id domain.TargetID, up bool) error {
	body := struct {
		IsUp bool `json:"is_up"`
	}{up}
	return c.do(ctx, "stats", http.MethodPost, "/monitors/"+url.PathEscape(string(id))+"/stats", body, nil)
}

// RecordIncident appends a transition to the audit trail.
func (c *Client) RecordIncident(ctx context.Context, id domain.TargetID, inc domain.Incident) error {
	return c.do(ctx, "incident", http.MethodPost, "/monitors/"+url.PathEscape(string(id))+"/incidents", inc, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", op, err)
		}
		payload = b
	}

	attempt := func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set(HeaderAPIKey, c.APIKey)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.HTTP.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			err := fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
			if permanentStatus(resp.StatusCode) {
				return backoff.Permanent(fmt.Errorf("%w: %w", ErrPermanent, err))
			}
			return err
		}
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("decode %s response: %w", op, err)
			}
		}
		return nil
	}

	var b backoff.BackOff = backoff.NewConstantBackOff(c.Backoff)
	b = backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.Attempts-1)), ctx)
	err := backoff.RetryNotify(attempt, b, func(err error, wait time.Duration) {
		c.Logger.Warn("registry_retry",
			zap.String("op", op),
			zap.String("path", path),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
	if err != nil {
		metrics.IncRegistryRequest(op, "error")
		return fmt.Errorf("registry %s: %w", op, err)
	}
	metrics.IncRegistryRequest(op, "ok")
	return nil
}

func permanentStatus(code int) bool {
	return code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests
}
