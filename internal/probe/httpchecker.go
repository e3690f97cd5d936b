package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hamed0406/uptimepipeline/internal/domain"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultUserAgent    = "UptimeMonitor-Engine/1.5"
	DefaultMaxRedirects = 10

	// ErrTimeout is the error text for probes that ran out of time.
	ErrTimeout = "timeout"

	maxDrain = 64 << 10
)

type HTTPChecker struct {
	Client    *http.Client
	Timeout   time.Duration
	UserAgent string
}

func NewHTTPChecker(timeout time.Duration) *HTTPChecker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPChecker{
		Client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= DefaultMaxRedirects {
					return fmt.Errorf("stopped after %d redirects", DefaultMaxRedirects)
				}
				return nil
			},
		},
		Timeout:   timeout,
		UserAgent: DefaultUserAgent,
	}
}

// Check issues one GET, following redirects, bounded by h.Timeout.
// 2xx and 3xx final statuses count as up.
func (h *HTTPChecker) Check(ctx context.Context, t domain.Target) domain.ProbeResult {
	start := time.Now()
	res := domain.ProbeResult{
		TargetID:  t.ID,
		URL:       t.URL,
		Timestamp: start.UTC(),
	}

	cctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodGet, t.URL, nil)
	if err != nil {
		return finish(res, start, describeError(ctx, err))
	}
	if h.UserAgent != "" {
		req.Header.Set("User-Agent", h.UserAgent)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return finish(res, start, describeError(ctx, err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))

	code := resp.StatusCode
	res.StatusCode = &code
	res.IsUp = code >= 200 && code < 400
	return finish(res, start, "")
}

func finish(res domain.ProbeResult, start time.Time, errText string) domain.ProbeResult {
	res.LatencyMS = time.Since(start).Milliseconds()
	if errText != "" {
		res.IsUp = false
		res.Error = &errText
	}
	return res
}
