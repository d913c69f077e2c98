package scrapyd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUnreachable is returned when the daemon cannot be reached or answers
// with something that is not a scrapyd JSON envelope.
var ErrUnreachable = errors.New("scrapyd unreachable")

// APIError is a well-formed scrapyd response with "status": "error".
type APIError struct {
	Endpoint string
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Endpoint, e.Message)
}

// Client is an HTTP client for the scrapyd JSON API.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

// NewClient creates a new scrapyd API client. Basic auth is sent only when
// username is non-empty.
func NewClient(baseURL, username, password string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		username:   username,
		password:   password,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// get performs a GET request and decodes the scrapyd envelope into result.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, result interface{}) error {
	u := c.baseURL + "/" + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	slog.Debug("scrapyd request", "url", u)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w: %v", endpoint, ErrUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("GET %s: %w: reading body: %v", endpoint, ErrUnreachable, err)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("GET %s: %w: HTTP %d: %s", endpoint, ErrUnreachable, resp.StatusCode, truncate(body))
	}

	return decodeEnvelope(endpoint, body, result)
}

// decodeEnvelope checks the "status" field every scrapyd response carries and
// decodes the remaining fields into result.
func decodeEnvelope(endpoint string, body []byte, result interface{}) error {
	var env struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("GET %s: %w: parsing envelope: %v", endpoint, ErrUnreachable, err)
	}
	switch env.Status {
	case "ok":
	case "error":
		return &APIError{Endpoint: endpoint, Message: env.Message}
	default:
		return fmt.Errorf("GET %s: %w: unexpected status %q", endpoint, ErrUnreachable, env.Status)
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("GET %s: %w: parsing body: %v", endpoint, ErrUnreachable, err)
	}
	return nil
}

func truncate(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
