// Package remoterpc talks to a destination helpdesk instance over its JSON-RPC API.
package remoterpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/goatkit/tickettransfer/internal/logger"
	"github.com/goatkit/tickettransfer/internal/models"
)

const (
	DefaultAuthTimeout = 10 * time.Second
	DefaultCallTimeout = 30 * time.Second

	maxResponseBytes = 64 << 20
)

// Endpoint identifies a destination instance and the credentials used on it.
type Endpoint struct {
	BaseURL  string
	Database string
	Login    string
	Secret   string
}

// EndpointFromConfig builds an endpoint from a stored destination config.
func EndpointFromConfig(cfg *models.TransferConfig) Endpoint {
	return Endpoint{
		BaseURL:  strings.TrimRight(strings.TrimSpace(cfg.URL), "/"),
		Database: cfg.Database,
		Login:    cfg.Login,
		Secret:   cfg.Secret,
	}
}

// Session is an authenticated destination session. The session cookie lives
// in the session's own cookie jar.
type Session struct {
	Endpoint Endpoint
	UserID   int
	http     *http.Client
}

// Invoker executes a model method on the destination.
type Invoker interface {
	Invoke(ctx context.Context, model, method string, args []any, kwargs map[string]any) (json.RawMessage, error)
}

// Client performs authentication and model calls.
type Client struct {
	transport   http.RoundTripper
	authTimeout time.Duration
	callTimeout time.Duration
	log         logrus.FieldLogger
	metrics     *rpcMetrics
	seq         atomic.Int64
}

// Option configures a Client.
type Option func(*Client)

// WithAuthTimeout overrides the authentication timeout.
func WithAuthTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.authTimeout = d
		}
	}
}

// WithCallTimeout overrides the per-call timeout.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithLogger injects a logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// WithTransport overrides the HTTP transport, mainly for tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.transport = rt
	}
}

// NewClient creates a client with the default 10s/30s timeouts.
func NewClient(opts ...Option) *Client {
	c := &Client{
		transport:   http.DefaultTransport,
		authTimeout: DefaultAuthTimeout,
		callTimeout: DefaultCallTimeout,
		metrics:     globalRPCMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logger.Component(c.log, "remoterpc")
	return c
}

// Authenticate opens a new session on the endpoint.
func (c *Client) Authenticate(ctx context.Context, ep Endpoint) (*Session, error) {
	if err := models.ValidateBaseURL(ep.BaseURL); err != nil {
		return nil, &AuthenticationError{URL: ep.BaseURL, Message: err.Error(), Err: err}
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	sess := &Session{
		Endpoint: ep,
		http:     &http.Client{Transport: c.transport, Jar: jar},
	}

	ctx, cancel := context.WithTimeout(ctx, c.authTimeout)
	defer cancel()

	done := c.metrics.observe("authenticate")
	resp, err := c.post(ctx, sess.http, ep.BaseURL+authenticatePath, authParams{
		DB:       ep.Database,
		Login:    ep.Login,
		Password: ep.Secret,
	})
	if err != nil {
		done("error")
		return nil, &AuthenticationError{URL: ep.BaseURL, Message: err.Error(), Err: err}
	}
	if resp.Error != nil {
		done("rejected")
		return nil, &AuthenticationError{URL: ep.BaseURL, Message: resp.Error.text("Authentication failed")}
	}

	var result authResult
	if len(resp.Result) > 0 {
		_ = json.Unmarshal(resp.Result, &result)
	}
	uid, ok := result.userID()
	if !ok {
		done("rejected")
		return nil, &AuthenticationError{URL: ep.BaseURL, Message: "Authentication failed"}
	}
	done("ok")

	sess.UserID = uid
	c.log.WithFields(logrus.Fields{"url": ep.BaseURL, "db": ep.Database, "uid": uid}).Debug("authenticated")
	return sess, nil
}

// Call executes model.method on an authenticated session.
func (c *Client) Call(ctx context.Context, sess *Session, model, method string, args []any, kwargs map[string]any) (json.RawMessage, error) {
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	done := c.metrics.observe(model + "." + method)
	resp, err := c.post(ctx, sess.http, sess.Endpoint.BaseURL+callKWPath, callParams{
		Model:  model,
		Method: method,
		Args:   args,
		Kwargs: kwargs,
	})
	if err != nil {
		done("error")
		return nil, &RemoteCallError{Model: model, Method: method, Message: err.Error(), Err: err}
	}
	if resp.Error != nil {
		done("rejected")
		return nil, &RemoteCallError{
			Model:   model,
			Method:  method,
			Code:    resp.Error.Code,
			Name:    resp.Error.Data.Name,
			Message: resp.Error.text("Unknown error"),
		}
	}
	done("ok")
	return resp.Result, nil
}

// Connect returns an Invoker bound to ep. Every Invoke authenticates a fresh
// session unless reuse is set, in which case one session is kept for the
// lifetime of the returned connection.
func (c *Client) Connect(ep Endpoint, reuse bool) *Conn {
	return &Conn{client: c, endpoint: ep, reuse: reuse}
}

func (c *Client) post(ctx context.Context, hc *http.Client, url string, params any) (*rpcResponse, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		ID:      c.seq.Add(1),
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected HTTP status %d", res.StatusCode)
	}

	out := &rpcResponse{}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("invalid JSON-RPC response: %w", err)
	}
	return out, nil
}

// Conn is an Invoker bound to one endpoint.
type Conn struct {
	client   *Client
	endpoint Endpoint
	reuse    bool

	mu      sync.Mutex
	session *Session
}

// Endpoint returns the endpoint the connection targets.
func (c *Conn) Endpoint() Endpoint {
	return c.endpoint
}

// Invoke authenticates (or reuses the cached session) and calls model.method.
func (c *Conn) Invoke(ctx context.Context, model, method string, args []any, kwargs map[string]any) (json.RawMessage, error) {
	sess, err := c.sessionFor(ctx)
	if err != nil {
		return nil, err
	}

	result, err := c.client.Call(ctx, sess, model, method, args, kwargs)
	var callErr *RemoteCallError
	if c.reuse && errors.As(err, &callErr) && callErr.SessionExpired() {
		c.dropSession()
		if sess, err = c.sessionFor(ctx); err != nil {
			return nil, err
		}
		return c.client.Call(ctx, sess, model, method, args, kwargs)
	}
	return result, err
}

func (c *Conn) sessionFor(ctx context.Context) (*Session, error) {
	if !c.reuse {
		return c.client.Authenticate(ctx, c.endpoint)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		return c.session, nil
	}
	sess, err := c.client.Authenticate(ctx, c.endpoint)
	if err != nil {
		return nil, err
	}
	c.session = sess
	return sess, nil
}

func (c *Conn) dropSession() {
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
}
