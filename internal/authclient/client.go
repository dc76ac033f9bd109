// Package authclient is the authenticated request client for the grading
// host's own endpoints. It owns the security token and session-validity
// state, caps concurrent and per-minute request volume locally, and
// classifies auth failures so callers never have to inspect raw status
// codes for session problems.
package authclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"rubricsync/internal/config"
	"rubricsync/internal/dom"
	"rubricsync/internal/logging"
)

// TokenSelector matches the host page's security token carrier.
const TokenSelector = `meta[name="csrf-token"]`

// tokenHeader is the header the host expects the token on.
const tokenHeader = "X-CSRF-Token"

var (
	// ErrNotAuthenticated is returned when a request is attempted before a
	// successful Initialize or after the session went invalid.
	ErrNotAuthenticated = errors.New("authclient: not authenticated")

	// ErrTooManyConcurrent is returned when the in-flight cap is reached.
	// The request is refused locally; nothing goes on the wire.
	ErrTooManyConcurrent = errors.New("authclient: concurrent request cap reached")

	// ErrRateLimited is returned when the trailing per-minute budget is
	// exhausted. Like ErrTooManyConcurrent, refused before sending.
	ErrRateLimited = errors.New("authclient: per-minute request cap reached")

	// ErrSessionInvalid is returned on a 401/403 response. The session is
	// marked invalid; subsequent requests fail with ErrNotAuthenticated
	// until Initialize succeeds again.
	ErrSessionInvalid = errors.New("authclient: session invalid")

	// ErrTokenRotated is returned on a 422 response. The client re-runs its
	// initialization to pick up the rotated token; the failed call is not
	// replayed.
	ErrTokenRotated = errors.New("authclient: token rotated")
)

// Session is a snapshot of the client's auth state.
type Session struct {
	TokenValid    bool
	SessionValid  bool
	LastValidated time.Time
	RetryCount    int
}

// Client wraps outbound requests to the grading host with token
// attachment, concurrency and rate limits, and failure classification.
// It is reused unmodified by every component that talks to the host.
type Client struct {
	http    *http.Client
	baseURL string
	probe   string
	page    dom.Page

	maxRetries  int
	backoffBase time.Duration

	sem     *semaphore.Weighted
	limiter *rate.Limiter

	mu            sync.Mutex
	token         string
	tokenValid    bool
	sessionValid  bool
	lastValidated time.Time
	retryCount    int
}

// New builds a client for the given host config, reading the security
// token from the provided page.
func New(cfg *config.Config, page dom.Page) *Client {
	clientCfg := cfg.Client
	return &Client{
		http: &http.Client{
			Timeout: config.Duration(clientCfg.Timeout, 120*time.Second),
		},
		baseURL:     strings.TrimSuffix(cfg.Host.BaseURL, "/"),
		probe:       cfg.Host.ProbePath,
		page:        page,
		maxRetries:  clientCfg.MaxRetries,
		backoffBase: config.Duration(clientCfg.BackoffBase, 500*time.Millisecond),
		sem:         semaphore.NewWeighted(clientCfg.MaxConcurrent),
		limiter: rate.NewLimiter(
			rate.Every(time.Minute/time.Duration(clientCfg.MaxPerMinute)),
			clientCfg.MaxPerMinute),
	}
}

// Session returns the current auth state.
func (c *Client) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Session{
		TokenValid:    c.tokenValid,
		SessionValid:  c.sessionValid,
		LastValidated: c.lastValidated,
		RetryCount:    c.retryCount,
	}
}

// Initialize extracts the security token from the page and validates the
// session with one inexpensive authenticated probe. On failure it retries
// with exponential backoff up to the configured limit, then reports a
// terminal error and stops.
func (c *Client) Initialize(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoffBase << (attempt - 1)
			logging.ClientDebug("initialize retry %d/%d after %s", attempt, c.maxRetries, wait)
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}

		c.mu.Lock()
		c.retryCount = attempt
		c.mu.Unlock()

		if err := c.initOnce(ctx); err != nil {
			lastErr = err
			logging.ClientWarn("initialize attempt %d failed: %v", attempt+1, err)
			continue
		}
		logging.Client("session initialized (attempt %d)", attempt+1)
		return nil
	}

	c.mu.Lock()
	c.tokenValid = false
	c.sessionValid = false
	c.mu.Unlock()
	return fmt.Errorf("authclient: initialization failed after %d attempts: %w",
		c.maxRetries+1, lastErr)
}

func (c *Client) initOnce(ctx context.Context) error {
	token, err := c.extractToken(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.probe, nil)
	if err != nil {
		return err
	}
	req.Header.Set(tokenHeader, token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("session probe: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("session probe: status %d", resp.StatusCode)
	}

	c.mu.Lock()
	c.token = token
	c.tokenValid = true
	c.sessionValid = true
	c.lastValidated = time.Now()
	c.mu.Unlock()
	return nil
}

func (c *Client) extractToken(ctx context.Context) (string, error) {
	meta, err := c.page.Query(ctx, TokenSelector)
	if err != nil {
		return "", fmt.Errorf("security token not found on page: %w", err)
	}
	token, ok, err := meta.Attribute(ctx, "content")
	if err != nil {
		return "", err
	}
	if !ok || token == "" {
		return "", errors.New("authclient: security token carrier is empty")
	}
	return token, nil
}

func (c *Client) authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokenValid && c.sessionValid
}

// Do issues an authenticated request against the host. It rejects locally
// when not authenticated, when the in-flight cap is reached, or when the
// per-minute budget is spent. The returned response's Body must be closed;
// closing it releases the in-flight slot.
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	if !c.authenticated() {
		return nil, ErrNotAuthenticated
	}
	if !c.sem.TryAcquire(1) {
		logging.ClientWarn("refused %s %s: concurrency cap", method, path)
		return nil, ErrTooManyConcurrent
	}
	release := func() { c.sem.Release(1) }

	if !c.limiter.Allow() {
		release()
		logging.ClientWarn("refused %s %s: rate cap", method, path)
		return nil, ErrRateLimited
	}

	url := path
	if strings.HasPrefix(path, "/") {
		url = c.baseURL + path
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		release()
		return nil, err
	}
	c.mu.Lock()
	req.Header.Set(tokenHeader, c.token)
	c.mu.Unlock()
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		release()
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		drainAndClose(resp.Body)
		release()
		c.mu.Lock()
		c.sessionValid = false
		c.mu.Unlock()
		logging.ClientError("%s %s: status %d, session marked invalid", method, path, resp.StatusCode)
		return nil, fmt.Errorf("%w (status %d)", ErrSessionInvalid, resp.StatusCode)

	case http.StatusUnprocessableEntity:
		drainAndClose(resp.Body)
		release()
		logging.ClientWarn("%s %s: status 422, re-initializing for rotated token", method, path)
		if err := c.Initialize(ctx); err != nil {
			return nil, fmt.Errorf("%w: re-initialize: %v", ErrTokenRotated, err)
		}
		return nil, ErrTokenRotated
	}

	// Other non-2xx responses are returned for the caller to interpret.
	resp.Body = &releasingBody{ReadCloser: resp.Body, release: release}
	return resp, nil
}

// Get issues an authenticated GET.
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

// releasingBody frees the client's in-flight slot when the response body
// is closed. Close is idempotent.
type releasingBody struct {
	io.ReadCloser
	release func()
	once    sync.Once
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.release)
	return err
}

func drainAndClose(body io.ReadCloser) {
	io.Copy(io.Discard, body)
	body.Close()
}
