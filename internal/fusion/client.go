// Package fusion talks to the application portal: it fetches manifests,
// icons and script bundles over HTTP and runs the bundles so they can
// register their components with the directory.
package fusion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"hostshell/internal/directory"
	logx "hostshell/pkg/logx"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

var ErrNoBaseURL = errors.New("fusion: base url is required")

type Config struct {
	BaseURL        string
	RequestTimeout time.Duration // 0 means 15s
	RatePerSec     float64       // <=0 means unlimited
	Burst          int
	RetryCount     int
	UserAgent      string
	ScriptTimeout  time.Duration // 0 means 10s
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Path string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("GET %s: HTTP %d", e.Path, e.Code)
	}
	return fmt.Sprintf("GET %s: HTTP %d: %s", e.Path, e.Code, e.Body)
}

// Client implements directory.Client against the portal's REST API.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	scripts *ScriptRunner
	log     logx.Logger
}

var _ directory.Client = (*Client)(nil)

// New builds a client. Scripts register their components through handle.
func New(cfg Config, handle *directory.Handle, log logx.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, ErrNoBaseURL
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "hostshell/1"
	}

	hc := resty.New().
		SetBaseURL(base).
		SetTimeout(cfg.RequestTimeout).
		SetRetryCount(max(cfg.RetryCount, 0)).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "application/json")

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = max(int(cfg.RatePerSec), 1)
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}

	return &Client{
		http:    hc,
		limiter: limiter,
		scripts: NewScriptRunner(handle, cfg.ScriptTimeout, log),
		log:     log.With(logx.String("component", "fusion")),
	}, nil
}

func (c *Client) request(ctx context.Context) (*resty.Request, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return c.http.R().SetContext(ctx), nil
}

func (c *Client) get(ctx context.Context, path string, key string, result any) (*resty.Response, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	if key != "" {
		req.SetPathParam("key", key)
	}
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Get(path)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		body := strings.TrimSpace(resp.String())
		if len(body) > 200 {
			body = body[:200]
		}
		return nil, &StatusError{Path: resp.Request.URL, Code: resp.StatusCode(), Body: body}
	}
	c.log.Debug("portal request", logx.String("path", resp.Request.URL), logx.Duration("took", resp.Time()))
	return resp, nil
}

func (c *Client) ListApps(ctx context.Context) ([]directory.Manifest, error) {
	var out []directory.Manifest
	if _, err := c.get(ctx, "/api/apps", "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) FetchManifest(ctx context.Context, key string) (directory.Manifest, error) {
	var m directory.Manifest
	if _, err := c.get(ctx, "/api/apps/{key}", key, &m); err != nil {
		return directory.Manifest{}, err
	}
	return m, nil
}

func (c *Client) FetchIcon(ctx context.Context, key string) (directory.Icon, error) {
	resp, err := c.get(ctx, "/api/apps/{key}/icon", key, nil)
	if err != nil {
		return directory.Icon{}, err
	}
	return directory.Icon{
		ContentType: resp.Header().Get("Content-Type"),
		URL:         resp.Request.URL,
		Data:        resp.Body(),
	}, nil
}

// LoadScript downloads the bundle for key and runs it.
func (c *Client) LoadScript(ctx context.Context, key string) error {
	resp, err := c.get(ctx, "/api/apps/{key}/script", key, nil)
	if err != nil {
		return err
	}
	return c.scripts.Run(ctx, key, resp.String())
}
