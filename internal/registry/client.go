package registry

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
	"time"
)

// Client is a minimal registry HTTP client for agents and the matcher.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("registry api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) Register(ctx context.Context, entry Entry) (Entry, error) {
	var resp Entry
	err := c.do(ctx, http.MethodPost, "register", entry, &resp)
	return resp, err
}

// Heartbeat refreshes liveness. ErrAgentUnknown means the registry no longer
// knows the agent and it must re-register.
func (c *Client) Heartbeat(ctx context.Context, agentID string) error {
	body := map[string]string{"agent_id": agentID}
	err := c.do(ctx, http.MethodPost, "heartbeat", body, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return ErrAgentUnknown
	}
	return err
}

func (c *Client) ListAgents(ctx context.Context, agentType string) ([]Entry, error) {
	endpoint := "agents"
	if agentType != "" {
		endpoint += "?type=" + url.QueryEscape(agentType)
	}
	var resp []Entry
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) Deregister(ctx context.Context, agentID string) error {
	return c.do(ctx, http.MethodDelete, "agents/"+url.PathEscape(agentID), nil, nil)
}

// RegisterCapabilities replaces the agent's capability set and returns how
// many capabilities the registry now holds for it.
func (c *Client) RegisterCapabilities(ctx context.Context, agentID string, caps []Capability) (int, error) {
	body := capabilitiesRequest{Capabilities: caps}
	var resp struct {
		Registered int `json:"registered"`
	}
	err := c.do(ctx, http.MethodPut, "agents/"+url.PathEscape(agentID)+"/capabilities", body, &resp)
	return resp.Registered, err
}

func (c *Client) Capabilities(ctx context.Context, agentID string) ([]Capability, error) {
	var resp []Capability
	err := c.do(ctx, http.MethodGet, "agents/"+url.PathEscape(agentID)+"/capabilities", nil, &resp)
	return resp, err
}

func (c *Client) Match(ctx context.Context, query string, tags []string, minScore float64) ([]Candidate, error) {
	body := matchRequest{Query: query, Tags: tags, MinScore: minScore}
	var resp []Candidate
	err := c.do(ctx, http.MethodPost, "capabilities/match", body, &resp)
	return resp, err
}

func (c *Client) Health(ctx context.Context) (HealthInfo, error) {
	var resp HealthInfo
	err := c.do(ctx, http.MethodGet, "health", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
