// Package fetch issues anti-bot-hardened HTTP GETs against the classifieds site.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// challengeTitle is the interstitial served by the anti-bot gate even with
// a 200 status code.
const challengeTitle = "<title>Just a moment...</title>"

// BlockedError indicates the anti-bot system denied or challenged a request.
type BlockedError struct {
	URL        string
	StatusCode int
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("blocked by anti-bot gate (HTTP %d): %s", e.StatusCode, e.URL)
}

// IsBlocked checks if an error is a block/challenge response.
func IsBlocked(err error) bool {
	var blocked *BlockedError
	return errors.As(err, &blocked)
}

// Client fetches pages while disguised as a real browser. It never retries;
// retry policy belongs to callers, and for scrape traffic the policy is
// "skip this cycle".
type Client struct {
	http     *resty.Client
	agents   []string
	delayMin time.Duration
	delayMax time.Duration
	logger   *slog.Logger
}

// New creates a fetch client with a rotating user-agent pool and the
// courtesy-delay range used between requests.
func New(agents []string, timeout, delayMin, delayMax time.Duration, logger *slog.Logger) *Client {
	return &Client{
		http:     resty.New().SetTimeout(timeout),
		agents:   agents,
		delayMin: delayMin,
		delayMax: delayMax,
		logger:   logger,
	}
}

// Get fetches one page. Any error means "treat this fetch as unavailable
// this cycle"; callers must not distinguish blocks from transport failures.
func (c *Client) Get(ctx context.Context, pageURL string) (string, error) {
	c.logger.Debug("HTTP request starting", "method", "GET", "url", pageURL)

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("User-Agent", c.userAgent()).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8").
		SetHeader("Accept-Language", "en-US,en;q=0.9").
		SetHeader("Upgrade-Insecure-Requests", "1").
		SetHeader("Sec-Fetch-Dest", "document").
		SetHeader("Sec-Fetch-Mode", "navigate").
		SetHeader("Sec-Fetch-Site", "none").
		Get(pageURL)
	duration := time.Since(start)

	if err != nil {
		c.logger.Warn("HTTP request failed",
			"url", pageURL,
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}

	body := resp.String()
	status := resp.StatusCode()

	c.logger.Info("HTTP request completed",
		"url", pageURL,
		"status_code", status,
		"duration_ms", duration.Milliseconds(),
		"content_length", len(body))

	lower := strings.ToLower(body)
	if status == http.StatusForbidden ||
		(status != http.StatusOK && (strings.Contains(lower, "challenge") || strings.Contains(lower, "cloudflare"))) {
		c.logger.Error("Anti-bot block detected", "url", pageURL, "status_code", status)
		return "", &BlockedError{URL: pageURL, StatusCode: status}
	}

	// The challenge page can arrive with a 200 status.
	if strings.Contains(body, challengeTitle) {
		c.logger.Error("Anti-bot challenge page detected", "url", pageURL, "status_code", status)
		return "", &BlockedError{URL: pageURL, StatusCode: status}
	}

	if status != http.StatusOK {
		return "", fmt.Errorf("fetch %s: HTTP %d", pageURL, status)
	}

	return body, nil
}

// Sleep pauses for a random duration in the configured delay range. This is
// the sole backpressure mechanism against the upstream site.
func (c *Client) Sleep(ctx context.Context) error {
	spread := c.delayMax - c.delayMin
	d := c.delayMin
	if spread > 0 {
		d += time.Duration(rand.Int63n(int64(spread)))
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (c *Client) userAgent() string {
	return c.agents[rand.Intn(len(c.agents))]
}
