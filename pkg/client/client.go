package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/agrisentinel/lotchain/pkg/custody"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
	ErrBadRequest   = errors.New("bad request")
)

// APIError is a non-2xx response from the server. It unwraps to one of the
// package's sentinel errors when the status code has one.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusConflict:
		return ErrConflict
	case http.StatusBadRequest:
		return ErrBadRequest
	}
	return nil
}

// Actor is the authenticated party returned by Login.
type Actor struct {
	UID   string `json:"uid"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
}

// LoginResult holds the session token returned by Login.
type LoginResult struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
	Actor     Actor  `json:"actor"`
}

// RecordRequest is the payload for Record. The server assigns ID and
// Timestamp when they are empty.
type RecordRequest struct {
	ID        string            `json:"id,omitempty"`
	Type      custody.EventType `json:"type"`
	Timestamp *time.Time        `json:"timestamp,omitempty"`
	Data      custody.Payload   `json:"data,omitempty"`
}

// LotView is a lot's chain and the server's assessment of it.
type LotView struct {
	LotID      string              `json:"lotId"`
	Status     custody.Status      `json:"status"`
	Head       string              `json:"head"`
	Trusted    bool                `json:"trusted"`
	Verdict    custody.Verdict     `json:"verdict"`
	Events     []custody.Event     `json:"events"`
	Actions    []custody.EventType `json:"actions,omitempty"`
	VerifiedAt time.Time           `json:"verifiedAt"`
}

// HashResult is the response of Hash.
type HashResult struct {
	Hash      string `json:"hash"`
	Canonical string `json:"canonical"`
}

// Client talks to a lotchain server.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu          sync.Mutex
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches a previously issued session token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", d)
		}
		c.httpClient.Timeout = d
		return nil
	}
}

// New creates a Client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", baseURL)
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Token returns the session token currently attached to requests.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bearerToken
}

// Login exchanges credentials for a session token and attaches it to
// subsequent requests.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var result LoginResult
	body := map[string]string{"email": email, "password": password}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/auth/login", body, &result); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.bearerToken = result.Token
	c.mu.Unlock()
	return &result, nil
}

// Record appends a custody action to lotID as the logged-in actor.
func (c *Client) Record(ctx context.Context, lotID string, req RecordRequest) (*custody.Event, error) {
	var ev custody.Event
	if err := c.doJSON(ctx, http.MethodPost, lotPath(lotID)+"/events", req, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Lots returns every lot id.
func (c *Client) Lots(ctx context.Context) ([]string, error) {
	var resp struct {
		Lots []string `json:"lots"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/lots", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Lots, nil
}

// Lot returns the lot view for the logged-in actor.
func (c *Client) Lot(ctx context.Context, lotID string) (*LotView, error) {
	var v LotView
	if err := c.doJSON(ctx, http.MethodGet, lotPath(lotID), nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// PublicLot returns the lot view served to anonymous viewers.
func (c *Client) PublicLot(ctx context.Context, lotID string) (*LotView, error) {
	var v LotView
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/public/lots/"+url.PathEscape(lotID), nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Events returns a lot's stored events in append order.
func (c *Client) Events(ctx context.Context, lotID string) ([]custody.Event, error) {
	var resp struct {
		Events []custody.Event `json:"events"`
	}
	if err := c.doJSON(ctx, http.MethodGet, lotPath(lotID)+"/events", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// Verify returns the server's verdict for a lot.
func (c *Client) Verify(ctx context.Context, lotID string) (custody.Verdict, error) {
	var resp struct {
		Verdict custody.Verdict `json:"verdict"`
	}
	if err := c.doJSON(ctx, http.MethodGet, lotPath(lotID)+"/verify", nil, &resp); err != nil {
		return custody.Verdict{}, err
	}
	return resp.Verdict, nil
}

// VerifyLocally fetches the lot's public chain and validates it in-process.
// The server's own verdict is ignored.
func (c *Client) VerifyLocally(ctx context.Context, lotID string, opts ...custody.ValidateOption) (custody.Verdict, error) {
	v, err := c.PublicLot(ctx, lotID)
	if err != nil {
		return custody.Verdict{}, err
	}
	return custody.Validate(v.Events, opts...)
}

// ValidateChain asks the server to validate events it does not store.
func (c *Client) ValidateChain(ctx context.Context, events []custody.Event) (custody.Verdict, error) {
	var v custody.Verdict
	body := map[string]any{"events": events}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/chains/validate", body, &v); err != nil {
		return custody.Verdict{}, err
	}
	return v, nil
}

// Hash asks the server for the canonical encoding and hash of fields over
// prevHash.
func (c *Client) Hash(ctx context.Context, fields custody.Fields, prevHash string) (*HashResult, error) {
	var r HashResult
	body := map[string]any{"event": fields, "prevHash": prevHash}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/chains/hash", body, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func lotPath(lotID string) string {
	return "/api/v1/lots/" + url.PathEscape(lotID)
}

// doJSON sends reqBody (if non-nil) as JSON and decodes a 2xx response into
// respBody. Non-2xx responses become *APIError.
func (c *Client) doJSON(ctx context.Context, method, path string, reqBody, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		msg := string(raw)
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if respBody != nil {
		if err := json.Unmarshal(raw, respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
