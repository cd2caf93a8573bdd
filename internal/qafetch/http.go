package qafetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/trial-tracker/internal/model"
	"github.com/sells-group/trial-tracker/internal/resilience"
)

// ClientOptions configures the registry HTTP client.
type ClientOptions struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	// RatePerSec throttles requests to the registry; imports fetch one
	// page per in-QA trial, so politeness matters.
	RatePerSec float64
	Burst      int
}

// Client fetches QA correspondence pages over HTTP.
type Client struct {
	http    *http.Client
	baseURL string
	ua      string
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewClient builds a registry client from options, applying defaults for
// anything unset.
func NewClient(opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 2
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	retry := resilience.DefaultRetryConfig("registry fetch")
	if opts.MaxRetries > 0 {
		retry.MaxAttempts = opts.MaxRetries
	}
	return &Client{
		http:    &http.Client{Timeout: opts.Timeout},
		baseURL: opts.BaseURL,
		ua:      opts.UserAgent,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.Burst),
		retry:   retry,
	}
}

// Events fetches and parses the results-submission page for one trial.
func (c *Client) Events(ctx context.Context, registryID string) ([]model.QAEvent, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "qafetch: rate limit wait")
	}

	url := fmt.Sprintf("%s/%s", c.baseURL, registryID)
	body, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (string, error) {
		return c.get(ctx, url)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "qafetch: fetch %s", registryID)
	}

	events, err := parseEvents(body)
	if err != nil {
		return nil, eris.Wrapf(err, "qafetch: parse %s", registryID)
	}
	for i := range events {
		events[i].RegistryID = registryID
	}
	zap.L().Debug("qafetch: fetched correspondence",
		zap.String("registry_id", registryID),
		zap.Int("events", len(events)),
	)
	return events, nil
}

func (c *Client) get(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", eris.Wrap(err, "qafetch: build request")
	}
	if c.ua != "" {
		req.Header.Set("User-Agent", c.ua)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "qafetch: request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("qafetch: unexpected status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return "", resilience.NewTransientError(err, resp.StatusCode)
		}
		return "", err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "qafetch: read body")
	}
	return string(data), nil
}
