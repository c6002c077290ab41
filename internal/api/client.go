// Package api is the client for the marketplace messaging REST API. Calls
// carry their credentials explicitly; the client holds no mutable auth
// state, so one Client can serve several sessions.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/homefix/messenger/internal/apperr"
	"github.com/homefix/messenger/internal/logger"
	"github.com/homefix/messenger/internal/metrics"
	"github.com/homefix/messenger/internal/model"
	"github.com/homefix/messenger/internal/ratelimit"
)

// Credentials authenticate a single API call.
type Credentials struct {
	Token string
}

// Config holds REST client settings.
type Config struct {
	BaseURL   string        // e.g. http://localhost:8000
	Timeout   time.Duration // per request
	SendRate  float64       // sends per second, <= 0 disables throttling
	SendBurst int
}

// DefaultConfig returns sensible defaults for a local API.
func DefaultConfig() Config {
	return Config{
		BaseURL:   "http://localhost:8000",
		Timeout:   10 * time.Second,
		SendRate:  float64(ratelimit.RuleSend.Rate),
		SendBurst: ratelimit.RuleSend.Burst,
	}
}

// Option customises a Client.
type Option func(*Client)

// WithUnauthorizedHandler registers fn to run whenever the API answers 401.
func WithUnauthorizedHandler(fn func()) Option {
	return func(c *Client) { c.onUnauthorized = fn }
}

// WithHTTPClient replaces the underlying fasthttp client.
func WithHTTPClient(hc *fasthttp.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client calls the messaging endpoints.
type Client struct {
	cfg            Config
	http           *fasthttp.Client
	sendLimiter    *ratelimit.Limiter
	onUnauthorized func()
	log            *zap.SugaredLogger
}

// NewClient creates a Client for cfg.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		cfg: cfg,
		http: &fasthttp.Client{
			Name:                "homefix-messenger",
			ReadTimeout:         cfg.Timeout,
			WriteTimeout:        cfg.Timeout,
			MaxIdleConnDuration: 90 * time.Second,
		},
		sendLimiter: ratelimit.NewLimiter(ratelimit.PerSecond("send", cfg.SendRate, cfg.SendBurst)),
		log:         logger.Named("api"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ---------------------------------------------------------------------------
// Endpoints
// ---------------------------------------------------------------------------

// Contacts fetches the caller's contact list as the server returns it,
// duplicates included.
func (c *Client) Contacts(ctx context.Context, creds Credentials) ([]model.Contact, error) {
	var out []model.Contact
	if err := c.do(ctx, "contacts", fasthttp.MethodGet, "/messages/contacts", creds, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Conversation fetches the full message history with contactID.
func (c *Client) Conversation(ctx context.Context, creds Credentials, contactID string) ([]model.Message, error) {
	if contactID == "" {
		return nil, apperr.InvalidArg("api: conversation: empty contact id")
	}
	var out []model.Message
	path := "/messages/conversation/" + url.PathEscape(contactID)
	if err := c.do(ctx, "conversation", fasthttp.MethodGet, path, creds, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type initiateRequest struct {
	ProviderID string `json:"provider_id"`
}

type initiateResponse struct {
	Provider *model.Profile `json:"provider"`
}

// Initiate opens a conversation with providerID and returns the canonical
// counterparty profile.
func (c *Client) Initiate(ctx context.Context, creds Credentials, providerID string) (*model.Profile, error) {
	if providerID == "" {
		return nil, apperr.InvalidArg("api: initiate: empty provider id")
	}
	var out initiateResponse
	if err := c.do(ctx, "initiate", fasthttp.MethodPost, "/messages/initiate", creds, initiateRequest{ProviderID: providerID}, &out); err != nil {
		return nil, err
	}
	if out.Provider == nil || out.Provider.ID == "" {
		return nil, apperr.NetworkFailure("initiate", fmt.Errorf("response missing provider"))
	}
	return out.Provider, nil
}

type sendRequest struct {
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

// Send posts content to receiverID and returns the server's canonical
// message. Sends are throttled per session token.
func (c *Client) Send(ctx context.Context, creds Credentials, receiverID, content string) (*model.Message, error) {
	if receiverID == "" {
		return nil, apperr.InvalidArg("api: send: empty receiver id")
	}
	if err := c.sendLimiter.Wait(ctx, creds.Token); err != nil {
		return nil, apperr.NetworkFailure("send", err)
	}
	var out model.Message
	if err := c.do(ctx, "send", fasthttp.MethodPost, "/messages/send", creds, sendRequest{ReceiverID: receiverID, Content: content}, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, apperr.NetworkFailure("send", fmt.Errorf("response missing message id"))
	}
	return &out, nil
}

// Stats fetches the dashboard unread summary.
func (c *Client) Stats(ctx context.Context, creds Credentials) (*model.Stats, error) {
	var out model.Stats
	if err := c.do(ctx, "stats", fasthttp.MethodPost, "/messages/stats", creds, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

// do performs one request. The effective timeout is the smaller of the
// configured timeout and ctx's deadline; fasthttp has no context support.
func (c *Client) do(ctx context.Context, op, method, path string, creds Credentials, body, out interface{}) (err error) {
	start := time.Now()
	outcome := "ok"
	defer func() {
		if err != nil && outcome == "ok" {
			outcome = "error"
		}
		metrics.APIRequestDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
	}()

	if err := ctx.Err(); err != nil {
		return apperr.NetworkFailure(op, err)
	}
	timeout := c.cfg.Timeout
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d < timeout {
			timeout = d
		}
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	requestID := uuid.NewString()
	req.SetRequestURI(c.cfg.BaseURL + path)
	req.Header.SetMethod(method)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if creds.Token != "" {
		req.Header.Set("Authorization", "Bearer "+creds.Token)
	}
	if body != nil {
		data, merr := json.Marshal(body)
		if merr != nil {
			return apperr.NetworkFailure(op, fmt.Errorf("marshal request: %w", merr))
		}
		req.Header.SetContentType("application/json")
		req.SetBody(data)
	}

	if derr := c.http.DoTimeout(req, resp, timeout); derr != nil {
		c.log.Warnw("request failed", "op", op, "request_id", requestID, "err", derr)
		return apperr.NetworkFailure(op, derr)
	}

	status := resp.StatusCode()
	if status == fasthttp.StatusUnauthorized {
		outcome = "unauthorized"
		c.log.Warnw("unauthorized", "op", op, "request_id", requestID)
		if c.onUnauthorized != nil {
			c.onUnauthorized()
		}
		return apperr.Unauthorized(op)
	}
	if status < 200 || status > 299 {
		c.log.Warnw("unexpected status", "op", op, "status", status, "request_id", requestID)
		return apperr.NetworkFailure(op, fmt.Errorf("status %d: %s", status, truncate(resp.Body(), 200)))
	}

	if out == nil {
		return nil
	}
	if uerr := json.Unmarshal(resp.Body(), out); uerr != nil {
		return apperr.NetworkFailure(op, fmt.Errorf("decode response: %w", uerr))
	}
	c.log.Debugw("request ok", "op", op, "status", status, "took", time.Since(start))
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
