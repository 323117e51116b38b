package restreamer

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

	"streamguard/internal/core/domain"
	"streamguard/pkg/utils"
)

// AuthLocalJWT is the only login method this client speaks.
const AuthLocalJWT = "localjwt"

const maxErrorBody = 512

var (
	ErrUnauthorized = errors.New("restreamer: unauthorized")
	ErrUnavailable  = errors.New("restreamer: host unreachable or transport failure")
	ErrUpstream     = errors.New("restreamer: unexpected status")
	ErrBadResponse  = errors.New("restreamer: invalid response format")
)

// APIError wraps one of the sentinels above with request context.
type APIError struct {
	Sentinel  error
	Operation string
	Status    int
	Body      string
	Err       error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("restreamer: %s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *APIError) Unwrap() error {
	return e.Sentinel
}

// Client talks to the restreamer core API. It holds no session state;
// tokens are passed in by the caller.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// About probes the API root for the app name and supported auth methods.
func (c *Client) About(ctx context.Context) (*About, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api", nil)
	if err != nil {
		return nil, fmt.Errorf("build about request: %w", err)
	}

	var about About
	if err := c.do(req, "about", &about); err != nil {
		return nil, err
	}
	return &about, nil
}

// Login checks that local JWT auth is offered and exchanges the credentials
// for a token pair. An unsupported auth method is not retried.
func (c *Client) Login(ctx context.Context, username, password string) (domain.TokenPair, error) {
	about, err := c.About(ctx)
	if err != nil {
		return domain.TokenPair{}, err
	}

	if !about.SupportsAuth(AuthLocalJWT) {
		return domain.TokenPair{}, fmt.Errorf("%w: server offers %v", domain.ErrUnsupportedAuth, about.Auths)
	}

	return c.basicLogin(ctx, username, password)
}

func (c *Client) basicLogin(ctx context.Context, username, password string) (domain.TokenPair, error) {
	body, err := json.Marshal(loginRequest{Username: username, Password: password})
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("encode login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/login", bytes.NewReader(body))
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var tokens domain.TokenPair
	if err := c.do(req, "login", &tokens); err != nil {
		return domain.TokenPair{}, err
	}
	if tokens.AccessToken == "" {
		return domain.TokenPair{}, &APIError{Sentinel: ErrBadResponse, Operation: "login", Body: "empty access token"}
	}
	return tokens, nil
}

// Refresh trades a refresh token for a new access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/login/refresh", nil)
	if err != nil {
		return "", fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+refreshToken)

	var resp refreshResponse
	if err := c.do(req, "refresh", &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", &APIError{Sentinel: ErrBadResponse, Operation: "refresh", Body: "empty access token"}
	}
	return resp.AccessToken, nil
}

// Process fetches one process, filtered server side to the given fields.
func (c *Client) Process(ctx context.Context, accessToken, id, filter string) (*Process, error) {
	u := fmt.Sprintf("%s/api/v3/process/%s", c.baseURL, url.PathEscape(id))
	if filter != "" {
		u += "?filter=" + url.QueryEscape(filter)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build process request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var process Process
	if err := c.do(req, "process", &process); err != nil {
		return nil, err
	}
	return &process, nil
}

// ProcessState fetches only the state of a process.
func (c *Client) ProcessState(ctx context.Context, accessToken, id string) (*Process, error) {
	return c.Process(ctx, accessToken, id, "state")
}

func (c *Client) do(req *http.Request, op string, out any) error {
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return &APIError{Sentinel: ErrUnavailable, Operation: op, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody+1))
		sentinel := ErrUpstream
		if res.StatusCode == http.StatusUnauthorized {
			sentinel = ErrUnauthorized
		}
		return &APIError{
			Sentinel:  sentinel,
			Operation: op,
			Status:    res.StatusCode,
			Body:      utils.TruncateString(utils.SanitizeString(string(snippet)), maxErrorBody),
		}
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return &APIError{Sentinel: ErrBadResponse, Operation: op, Status: res.StatusCode, Err: err}
	}
	return nil
}
