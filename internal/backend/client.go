// Package backend provides the HTTP client for the scanning backend.
// It speaks the backend's JSON protocol for registration, one-time-code
// verification, login and scan submission.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/scanconsole/internal/config"
)

// Endpoints relative to the configured base URL.
const (
	PathRegister  = "/register"
	PathVerifyOTP = "/verify-otp"
	PathLogin     = "/login"
	PathScan      = "/scan"
)

// HeaderRequestID carries the per-request correlation ID.
const HeaderRequestID = "X-Request-ID"

// Client talks to the scanning backend
type Client struct {
	baseURL        string
	httpClient     *http.Client
	userAgent      string
	requestTimeout time.Duration
}

// Outcome is the backend's answer to register and verify-otp
type Outcome struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// LoginResponse is the backend's answer to a successful login
type LoginResponse struct {
	Token     string  `json:"token"`
	LastLogin *string `json:"lastLogin"`
}

// APIError represents a non-2xx backend answer
type APIError struct {
	StatusCode int
	// Message is the backend-provided error or message field, empty if the
	// body carried neither.
	Message   string
	RequestID string
	Body      []byte
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("Request failed with status code %d", e.StatusCode)
}

// errorBody captures the fields the backend uses to describe failures
type errorBody struct {
	Error   *string `json:"error"`
	Message *string `json:"message"`
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type otpRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

// New creates a backend client. The underlying HTTP client has no overall
// timeout because scans may run for minutes; session calls are bounded by the
// configured request timeout instead.
func New(cfg config.BackendConfig) *Client {
	return NewWithHTTPClient(cfg, &http.Client{
		Transport: &http.Transport{
			Proxy:              http.ProxyFromEnvironment,
			MaxIdleConns:       10,
			IdleConnTimeout:    30 * time.Second,
			DisableCompression: false,
		},
	})
}

// NewWithHTTPClient creates a backend client using the given HTTP client.
func NewWithHTTPClient(cfg config.BackendConfig, httpClient *http.Client) *Client {
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "scanconsole/1.0"
	}
	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:     httpClient,
		userAgent:      userAgent,
		requestTimeout: cfg.RequestTimeout,
	}
}

// BaseURL returns the configured base URL without a trailing slash
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Register asks the backend to create an account. A non-2xx answer with a
// decodable body is returned as an unsuccessful Outcome, not as an error.
func (c *Client) Register(ctx context.Context, email, password string) (*Outcome, error) {
	return c.outcome(ctx, PathRegister, credentials{Email: email, Password: password})
}

// VerifyOTP submits the one-time code sent to the registered address.
func (c *Client) VerifyOTP(ctx context.Context, email, otp string) (*Outcome, error) {
	return c.outcome(ctx, PathVerifyOTP, otpRequest{Email: email, OTP: otp})
}

func (c *Client) outcome(ctx context.Context, path string, payload interface{}) (*Outcome, error) {
	ctx, cancel := c.sessionContext(ctx)
	defer cancel()

	status, body, _, err := c.post(ctx, path, "", payload)
	if err != nil {
		return nil, err
	}

	var out Outcome
	if err := json.Unmarshal(body, &out); err != nil {
		if !isSuccess(status) {
			return nil, &APIError{StatusCode: status, Body: body}
		}
		return nil, fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	if !isSuccess(status) {
		out.Success = false
	}
	return &out, nil
}

// Login exchanges identity and secret for a bearer credential. Failures are
// returned as *APIError carrying the backend's message when it sent one.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	ctx, cancel := c.sessionContext(ctx)
	defer cancel()

	status, body, requestID, err := c.post(ctx, PathLogin, "", credentials{Email: email, Password: password})
	if err != nil {
		return nil, err
	}
	if !isSuccess(status) {
		return nil, newAPIError(status, requestID, body, true)
	}

	var out LoginResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode login response: %w", err)
	}
	return &out, nil
}

// Scan submits a scan request with the credential attached and returns the
// raw 2xx body for classification. Non-2xx answers come back as *APIError.
// No timeout is applied beyond the caller's context.
func (c *Client) Scan(ctx context.Context, credential string, payload interface{}) (json.RawMessage, error) {
	status, body, requestID, err := c.post(ctx, PathScan, credential, payload)
	if err != nil {
		return nil, err
	}
	if !isSuccess(status) {
		return nil, newAPIError(status, requestID, body, false)
	}
	return json.RawMessage(body), nil
}

func (c *Client) sessionContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.requestTimeout)
}

// post performs a JSON POST and returns the status, body and request ID
func (c *Client) post(ctx context.Context, path, credential string, payload interface{}) (int, []byte, string, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return 0, nil, "", fmt.Errorf("failed to create HTTP request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(HeaderRequestID, requestID)
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, requestID, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, requestID, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, body, requestID, nil
}

// newAPIError builds the error for a non-2xx answer. The login endpoint
// reports failures in "message", the scan endpoints in "error"; preferMessage
// picks which one wins when a body carries both.
func newAPIError(status int, requestID string, body []byte, preferMessage bool) *APIError {
	apiErr := &APIError{StatusCode: status, RequestID: requestID, Body: body}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		first, second := eb.Error, eb.Message
		if preferMessage {
			first, second = eb.Message, eb.Error
		}
		switch {
		case first != nil && *first != "":
			apiErr.Message = *first
		case second != nil && *second != "":
			apiErr.Message = *second
		}
	}
	return apiErr
}

func isSuccess(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}
