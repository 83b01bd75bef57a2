package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"brightcart/internal/models"
	"brightcart/internal/validate"
)

// networkErrorMessage is the fixed payload surfaced when the server never
// responded. Transport internals are deliberately not leaked to callers.
const networkErrorMessage = "Network error. Please try again."

const defaultTimeout = 10 * time.Second

// APIError is the normalized failure payload every client call rejects
// with: the server's decoded error envelope when the server responded, or
// a fixed generic message when it did not.
type APIError struct {
	Success    bool                  `json:"success"`
	Message    string                `json:"message"`
	Errors     []validate.FieldError `json:"errors,omitempty"`
	StatusCode int                   `json:"-"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return "request failed"
	}
	return e.Message
}

// IsNetworkError reports whether err is the fixed no-response payload.
func IsNetworkError(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == 0
}

// Navigator receives forced client-side navigation, such as the redirect
// to the login entry point after an unauthorized response.
type Navigator func(target string)

// Config wires a Client to its origin and collaborators.
type Config struct {
	// Origin is the scheme+host the API is served from. Requests are
	// issued against Origin + "/api".
	Origin string
	// HTTPClient overrides the transport. When nil a client with a
	// 10-second timeout and a cookie jar is used so session cookies are
	// included on every request.
	HTTPClient *http.Client
	// Credentials is the durable token and profile store. Required.
	Credentials CredentialStore
	// Loading receives Begin/End around each foreground request. Optional.
	Loading *LoadingTracker
	// Navigate handles forced navigation on session teardown. Optional.
	Navigate Navigator
	Logger   *slog.Logger
}

// Client issues JSON requests against the BrightCart API. All methods
// reject with *APIError so callers handle one failure shape.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	credentials CredentialStore
	loading     *LoadingTracker
	navigate    Navigator
	logger      *slog.Logger

	logoutMu sync.Mutex
}

// New validates cfg and returns a ready Client.
func New(cfg Config) (*Client, error) {
	origin := strings.TrimRight(strings.TrimSpace(cfg.Origin), "/")
	if origin == "" {
		return nil, fmt.Errorf("client origin is required")
	}
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("credential store is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		httpClient = &http.Client{Timeout: defaultTimeout, Jar: jar}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:     origin + "/api",
		httpClient:  httpClient,
		credentials: cfg.Credentials,
		loading:     cfg.Loading,
		navigate:    cfg.Navigate,
		logger:      logger,
	}, nil
}

type requestOptions struct {
	suppressLoader bool
	background     bool
}

// RequestOption adjusts how a single request is dispatched.
type RequestOption func(*requestOptions)

// SuppressLoader keeps the request out of the shared loading counter, for
// calls whose UI renders its own progress state.
func SuppressLoader() RequestOption {
	return func(o *requestOptions) { o.suppressLoader = true }
}

// Background marks the request as not user-initiated: it skips the loading
// counter so polling never raises the busy indicator.
func Background() RequestOption {
	return func(o *requestOptions) { o.background = true }
}

// Get issues a GET and decodes the envelope's data field into dest.
func (c *Client) Get(ctx context.Context, path string, dest any, opts ...RequestOption) error {
	return c.do(ctx, http.MethodGet, path, nil, dest, opts...)
}

// Post issues a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, payload, dest any, opts ...RequestOption) error {
	return c.do(ctx, http.MethodPost, path, payload, dest, opts...)
}

// Put issues a PUT with a JSON body.
func (c *Client) Put(ctx context.Context, path string, payload, dest any, opts ...RequestOption) error {
	return c.do(ctx, http.MethodPut, path, payload, dest, opts...)
}

// Delete issues a DELETE.
func (c *Client) Delete(ctx context.Context, path string, opts ...RequestOption) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil, opts...)
}

// LoginResult is the authentication payload returned by the API.
type LoginResult struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      models.User `json:"user"`
}

// Login authenticates against the API and persists the returned token and
// profile so subsequent requests carry the bearer credential.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	var result LoginResult
	payload := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", payload, &result); err != nil {
		return LoginResult{}, err
	}
	if err := c.credentials.SetToken(result.Token); err != nil {
		return LoginResult{}, &APIError{Message: "failed to persist session: " + err.Error(), StatusCode: http.StatusOK}
	}
	if err := c.credentials.SetProfile(result.User); err != nil {
		return LoginResult{}, &APIError{Message: "failed to persist profile: " + err.Error(), StatusCode: http.StatusOK}
	}
	return result, nil
}

// RefreshProfile revalidates the stored token against the API and updates
// the cached profile. It runs as a background request so session resolution
// on startup never raises the busy indicator. A 401 tears the session down
// through the usual eviction path.
func (c *Client) RefreshProfile(ctx context.Context) (models.User, error) {
	var result LoginResult
	if err := c.Get(ctx, "/auth/session", &result, Background()); err != nil {
		return models.User{}, err
	}
	if err := c.credentials.SetProfile(result.User); err != nil {
		return models.User{}, &APIError{Message: "failed to persist profile: " + err.Error(), StatusCode: http.StatusOK}
	}
	return result.User, nil
}

// Logout revokes the server session and clears stored credentials. The
// local store is cleared even when the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodDelete, "/auth/session", nil, nil)
	if clearErr := c.credentials.Clear(); clearErr != nil && err == nil {
		err = &APIError{Message: "failed to clear session: " + clearErr.Error(), StatusCode: http.StatusOK}
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload, dest any, opts ...RequestOption) error {
	var options requestOptions
	for _, opt := range opts {
		opt(&options)
	}

	tracked := c.loading != nil && !options.suppressLoader && !options.background
	if tracked {
		c.loading.Begin()
		defer c.loading.End()
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return &APIError{Message: "failed to encode request: " + err.Error()}
		}
		body = bytes.NewReader(encoded)
	}

	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &APIError{Message: "failed to build request: " + err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token, ok := c.credentials.Token(); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("api request failed", "method", method, "path", path, "error", err)
		return &APIError{Message: networkErrorMessage}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Debug("api response read failed", "method", method, "path", path, "error", err)
		return &APIError{Message: networkErrorMessage}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.forceLogout()
	}

	var envelope struct {
		Success bool                  `json:"success"`
		Message string                `json:"message"`
		Errors  []validate.FieldError `json:"errors"`
		Data    json.RawMessage       `json:"data"`
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &envelope); err != nil {
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return &APIError{Message: "failed to decode response: " + err.Error(), StatusCode: resp.StatusCode}
			}
			return &APIError{Message: http.StatusText(resp.StatusCode), StatusCode: resp.StatusCode}
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := envelope.Message
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return &APIError{Message: message, Errors: envelope.Errors, StatusCode: resp.StatusCode}
	}

	if dest != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, dest); err != nil {
			return &APIError{Message: "failed to decode response: " + err.Error(), StatusCode: resp.StatusCode}
		}
	}
	return nil
}

// forceLogout evicts the stored token and profile and navigates to the
// login entry point. The eviction happens at most once per stored token:
// concurrent 401 responses race to clear the same credential, and only the
// goroutine that observes the token still present performs the navigation.
func (c *Client) forceLogout() {
	c.logoutMu.Lock()
	defer c.logoutMu.Unlock()

	if _, ok := c.credentials.Token(); !ok {
		return
	}
	if err := c.credentials.Clear(); err != nil {
		c.logger.Warn("failed to clear credentials after unauthorized response", "error", err)
	}
	if c.navigate != nil {
		c.navigate("/login")
	}
}
