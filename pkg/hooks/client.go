package hooks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/thebtf/clusterd/pkg/models"
)

// DefaultServerPort matches the serve command's default port.
const DefaultServerPort = 37888

// PortEnv overrides the server port.
const PortEnv = "CLUSTERD_HTTP_PORT"

const (
	healthTimeout  = 500 * time.Millisecond
	requestTimeout = 10 * time.Second
)

// ServerPort returns the server port from the environment, or the default.
func ServerPort() int {
	if v := os.Getenv(PortEnv); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 && p < 65536 {
			return p
		}
	}
	return DefaultServerPort
}

// Client talks to a clusterd server.
type Client struct {
	http    *http.Client
	baseURL string
}

// NewClient returns a client for the server on localhost:port.
func NewClient(port int) *Client {
	return NewClientWithURL(fmt.Sprintf("http://127.0.0.1:%d", port))
}

// NewClientWithURL returns a client for baseURL.
func NewClientWithURL(baseURL string) *Client {
	return &Client{http: &http.Client{Timeout: requestTimeout}, baseURL: baseURL}
}

func (c *Client) BaseURL() string { return c.baseURL }

// Healthy reports whether the server answers /health with 200.
func (c *Client) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Index fetches a progressive index report.
func (c *Client) Index(ctx context.Context, indexType, sessionID, prompt string) (string, error) {
	q := url.Values{}
	q.Set("type", indexType)
	if sessionID != "" {
		q.Set("sessionId", sessionID)
	}
	if prompt != "" {
		q.Set("prompt", prompt)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/index?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	body, err := c.do(req)
	if err != nil {
		return "", fmt.Errorf("fetch index: %w", err)
	}
	return string(body), nil
}

// Autocluster asks the server for an autocluster run over scope.
func (c *Client) Autocluster(ctx context.Context, scope models.Scope) (*models.AutoclusterResult, error) {
	payload, err := json.Marshal(map[string]string{"scope": string(scope)})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/autocluster", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("autocluster: %w", err)
	}
	var result models.AutoclusterResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode autocluster result: %w", err)
	}
	return &result, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode, e.Error)
		}
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return body, nil
}
