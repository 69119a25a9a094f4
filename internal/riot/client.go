package riot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"match-ingest/internal/metrics"
)

const (
	// API base URLs
	defaultPlatformURL = "https://na1.api.riotgames.com"
	defaultRegionalURL = "https://americas.api.riotgames.com"

	tokenHeader = "X-Riot-Token"
)

// Client calls the Riot API with the credential header, a courtesy throttle
// and a classified retry loop
type Client struct {
	apiKey      string
	platformURL string
	regionalURL string
	httpClient  *http.Client
	policy      RetryPolicy
	throttle    *Throttle
	logger      *slog.Logger

	// overridable in tests
	sleep func(ctx context.Context, d time.Duration) error
	rand  func(n int64) int64
	now   func() time.Time
}

// Option configures a Client
type Option func(*Client)

// WithPlatformURL sets the base URL for league and summoner endpoints
func WithPlatformURL(u string) Option {
	return func(c *Client) { c.platformURL = u }
}

// WithRegionalURL sets the base URL for match and account endpoints
func WithRegionalURL(u string) Option {
	return func(c *Client) { c.regionalURL = u }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.policy = p }
}

func WithThrottle(t *Throttle) Option {
	return func(c *Client) { c.throttle = t }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a Riot API client. An empty key is rejected.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("riot: API key is empty")
	}

	c := &Client{
		apiKey:      apiKey,
		platformURL: defaultPlatformURL,
		regionalURL: defaultRegionalURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		policy:      DefaultRetryPolicy(),
		throttle:    NewThrottle(0),
		logger:      slog.Default(),
		sleep:       sleepContext,
		rand:        rand.Int64N,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchOptions alters how FetchJSON reports exhausted retries
type FetchOptions struct {
	// SoftFail turns an exhausted throttled/5xx call into ErrUnavailable,
	// for reads that should degrade to "no data" rather than fail
	SoftFail bool
	// Endpoint labels metrics; defaults to "other"
	Endpoint string
}

// FetchJSON performs a GET against rawURL and decodes the JSON body into out.
//
// 404 returns a KindNotFound APIError at once. 429 waits Retry-After (capped
// at MaxWait) or the computed backoff; 5xx and transport errors back off with
// fewer attempts. Anything else fails without retry.
func (c *Client) FetchJSON(ctx context.Context, rawURL string, out any, opts FetchOptions) error {
	path := redactedPath(rawURL)
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = "other"
	}

	attempts := map[Kind]int{}
	for attempt := 0; ; attempt++ {
		if err := c.throttle.Wait(ctx); err != nil {
			return err
		}

		status, header, err := c.do(ctx, rawURL, out)
		metrics.UpstreamRequests.WithLabelValues(endpoint, metrics.StatusClass(status)).Inc()
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			apiErr = &APIError{Kind: KindTransientServer, Err: err}
		}
		apiErr.Path = path
		apiErr.Status = status
		attempts[apiErr.Kind]++
		apiErr.Attempts = attempt + 1

		if !apiErr.Kind.Retryable() {
			return apiErr
		}
		if attempts[apiErr.Kind] >= c.policy.maxAttempts(apiErr.Kind) {
			c.logger.Warn("riot_retries_exhausted",
				"path", path, "status", status, "kind", apiErr.Kind.String(), "attempts", apiErr.Attempts)
			if opts.SoftFail {
				return fmt.Errorf("%w: %w", ErrUnavailable, apiErr)
			}
			return apiErr
		}

		wait := Backoff(c.policy, attempt, c.rand)
		if apiErr.Kind == KindThrottled {
			if d, ok := parseRetryAfter(header.Get("Retry-After"), c.now()); ok {
				wait = d
				if c.policy.MaxWait > 0 && wait > c.policy.MaxWait {
					wait = c.policy.MaxWait
				}
			}
		}

		metrics.UpstreamRetries.WithLabelValues(apiErr.Kind.String()).Inc()
		c.logger.Debug("riot_retry",
			"path", path, "status", status, "kind", apiErr.Kind.String(), "attempt", attempt+1, "wait", wait)
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// do issues one request. The returned error is an *APIError for HTTP-level
// failures or the raw transport error otherwise.
func (c *Client) do(ctx context.Context, rawURL string, out any) (int, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, &APIError{Kind: KindBadResponse, Err: err}
	}
	req.Header.Set(tokenHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return resp.StatusCode, resp.Header, &APIError{Kind: classifyStatus(resp.StatusCode)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, resp.Header, &APIError{Kind: KindBadResponse, Err: fmt.Errorf("decode body: %w", err)}
	}
	return resp.StatusCode, resp.Header, nil
}

// redactedPath strips scheme, host and query so log lines carry only the path
func redactedPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid url>"
	}
	return u.Path
}

// AccountByRiotID fetches account info by Riot ID (gameName#tagLine)
func (c *Client) AccountByRiotID(ctx context.Context, gameName, tagLine string) (*Account, error) {
	u := fmt.Sprintf("%s/riot/account/v1/accounts/by-riot-id/%s/%s",
		c.regionalURL, url.PathEscape(gameName), url.PathEscape(tagLine))

	var account Account
	if err := c.FetchJSON(ctx, u, &account, FetchOptions{Endpoint: "account"}); err != nil {
		return nil, err
	}
	return &account, nil
}
