package tfl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// DefaultBaseURL is the public TfL Unified API endpoint.
const DefaultBaseURL = "https://api.tfl.gov.uk"

const (
	// minRequestSpacing is the client-side gap enforced between steady-state
	// requests. Calls inside the window fail with ErrThrottled rather than
	// queueing; catalog bootstrap bypasses it.
	minRequestSpacing = 500 * time.Millisecond

	// initialRetryWait and maxRetryWait bound the 429 backoff schedule:
	// 10s, 20s, 40s, 80s, 160s, then give up.
	initialRetryWait = 10 * time.Second
	maxRetryWait     = 200 * time.Second
)

var (
	// ErrThrottled reports a call made before the minimum request spacing
	// elapsed. The call was not sent and will not be retried.
	ErrThrottled = errors.New("tfl: request spacing not elapsed")

	// ErrRateLimitExceeded reports that the upstream kept answering 429
	// past the backoff cap.
	ErrRateLimitExceeded = errors.New("tfl: rate limit backoff exhausted")
)

// StatusError reports a non-2xx upstream response other than 429.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tfl: unexpected status code %d", e.Code)
}

// Client is a TfL Unified API client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	appKey     string
	logger     *logrus.Logger

	mu          sync.Mutex
	lastRequest time.Time

	sleep func(context.Context, time.Duration) error
}

// NewClient creates a new TfL client. appKey may be empty for anonymous
// (lower-quota) access.
func NewClient(baseURL, appKey string, logger *logrus.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		appKey:     appKey,
		logger:     logger,
		sleep:      sleepContext,
	}
}

// Lines retrieves all lines of the given mode. Used during catalog
// bootstrap, so it bypasses the request spacing.
func (c *Client) Lines(ctx context.Context, mode string) ([]Line, error) {
	var lines []Line
	if err := c.get(ctx, fmt.Sprintf("/Line/Mode/%s", mode), true, &lines); err != nil {
		return nil, fmt.Errorf("fetching lines of mode %s: %w", mode, err)
	}
	return lines, nil
}

// StopPoints retrieves all stop points of the given stop type. Used during
// catalog bootstrap, so it bypasses the request spacing.
func (c *Client) StopPoints(ctx context.Context, stopType string) ([]StopPoint, error) {
	var stops []StopPoint
	if err := c.get(ctx, fmt.Sprintf("/StopPoint/Type/%s", stopType), true, &stops); err != nil {
		return nil, fmt.Errorf("fetching stop points of type %s: %w", stopType, err)
	}
	return stops, nil
}

// Arrivals retrieves the current arrival predictions for a line at a
// station. Steady-state polling must leave bypass false so the spacing
// applies; platform discovery sets it.
func (c *Client) Arrivals(ctx context.Context, lineID, stationID string, bypass bool) ([]Prediction, error) {
	var predictions []Prediction
	if err := c.get(ctx, fmt.Sprintf("/Line/%s/Arrivals/%s", lineID, stationID), bypass, &predictions); err != nil {
		return nil, fmt.Errorf("fetching arrivals for %s at %s: %w", lineID, stationID, err)
	}
	return predictions, nil
}

func (c *Client) get(ctx context.Context, path string, bypass bool, out any) error {
	if err := c.reserveSlot(bypass); err != nil {
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialRetryWait
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = time.Hour
	bo.MaxElapsedTime = 0
	// The constructor seeds the first interval from its defaults before the
	// fields above are set; Reset re-seeds it from InitialInterval.
	bo.Reset()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("User-Agent", "tubeboard/1.0")
		if c.appKey != "" {
			req.Header.Set("app_key", c.appKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("executing request: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			wait := bo.NextBackOff()
			if wait == backoff.Stop || wait > maxRetryWait {
				return ErrRateLimitExceeded
			}
			c.logger.WithFields(logrus.Fields{
				"path": path,
				"wait": wait,
			}).Warn("rate limited by upstream, backing off")
			if err := c.sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}

		if resp.StatusCode/100 != 2 {
			resp.Body.Close()
			return &StatusError{Code: resp.StatusCode}
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		return nil
	}
}

// reserveSlot enforces the minimum inter-request spacing. Bypass calls skip
// the check but still stamp the window so a steady-state call right behind
// them is spaced too.
func (c *Client) reserveSlot(bypass bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if !bypass && !c.lastRequest.IsZero() && now.Sub(c.lastRequest) < minRequestSpacing {
		return ErrThrottled
	}
	c.lastRequest = now
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
