package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"strconv"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
)

// ErrRetrievalFailed wraps the last relay error once every relay attempt is
// exhausted for a URL.
var ErrRetrievalFailed = errors.New("all relay endpoints failed")

// blockedMarkers are substrings of bot-challenge pages. A body containing
// any of them counts as a failed attempt even on HTTP 200.
var blockedMarkers = []string{"captcha", "verify you are human"}

type Options struct {
	// Relays are URL templates with one %s verb taking the encoded target.
	Relays       []string
	Timeout      time.Duration
	MinBodyBytes int
}

// Client retrieves raw page markup through a rotating set of relay
// endpoints. There is no per-relay retry: rotation across relays is the
// retry strategy.
type Client struct {
	http         *resty.Client
	relays       []string
	minBodyBytes int
	logger       *slog.Logger
	now          func() time.Time
	shuffle      func([]string)
}

func New(opts Options, logger *slog.Logger) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.MinBodyBytes == 0 {
		opts.MinBodyBytes = 500
	}

	client := resty.New()
	client.SetTimeout(opts.Timeout)
	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	return &Client{
		http:         client,
		relays:       opts.Relays,
		minBodyBytes: opts.MinBodyBytes,
		logger:       logger.With("component", "fetcher"),
		now:          time.Now,
		shuffle: func(relays []string) {
			rand.Shuffle(len(relays), func(i, j int) {
				relays[i], relays[j] = relays[j], relays[i]
			})
		},
	}
}

// Fetch retrieves the markup for targetURL through the first relay that
// returns a plausible page. It fails with ErrRetrievalFailed only when every
// relay has been tried.
func (c *Client) Fetch(ctx context.Context, targetURL string) (string, error) {
	busted, err := cacheBust(targetURL, c.now())
	if err != nil {
		return "", fmt.Errorf("invalid target url %q: %w", targetURL, err)
	}

	relays := make([]string, len(c.relays))
	copy(relays, c.relays)
	c.shuffle(relays)

	var lastErr error
	for _, relay := range relays {
		proxyURL := fmt.Sprintf(relay, url.QueryEscape(busted))

		resp, err := c.http.R().SetContext(ctx).Get(proxyURL)
		if err != nil {
			c.logger.Warn("relay attempt failed", "target", targetURL, "error", err)
			lastErr = err
			continue
		}
		if resp.StatusCode() != 200 {
			lastErr = fmt.Errorf("relay returned status %d", resp.StatusCode())
			c.logger.Warn("relay attempt failed", "target", targetURL, "error", lastErr)
			continue
		}

		body := string(resp.Body())
		if err := c.validate(body); err != nil {
			c.logger.Warn("relay response rejected", "target", targetURL, "error", err)
			lastErr = err
			continue
		}
		return body, nil
	}

	if lastErr == nil {
		lastErr = errors.New("no relay endpoints configured")
	}
	return "", fmt.Errorf("%w: %v", ErrRetrievalFailed, lastErr)
}

func (c *Client) validate(body string) error {
	if len(body) < c.minBodyBytes {
		return fmt.Errorf("response too short (%d bytes), likely blocked", len(body))
	}
	lower := strings.ToLower(body)
	for _, marker := range blockedMarkers {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("bot challenge detected (%q)", marker)
		}
	}
	return nil
}

// cacheBust appends a _v timestamp parameter so intermediary caches between
// the relays and the target cannot serve a stale copy.
func cacheBust(rawURL string, now time.Time) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("_v", strconv.FormatInt(now.UnixMilli(), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
