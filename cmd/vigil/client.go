package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// APIClient talks to a running vigil daemon over its HTTP API.
type APIClient struct {
	baseURL string
	client  *http.Client
}

// NewAPIClient creates a new API client
func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	if baseURL == "" {
		baseURL = "http://localhost:8080/api"
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *APIClient) IsReachable() bool {
	resp, err := c.client.Get(c.baseURL + "/healthz")
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

func (c *APIClient) get(path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	resp, err := c.client.Get(u)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	return decodeResponse(resp, out)
}

func (c *APIClient) post(path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	resp, err := c.client.Post(u, "application/json", nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode != http.StatusOK {
		var errorResp struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
			return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("API error: %s", errorResp.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func nameQuery(name string) url.Values {
	q := url.Values{}
	if name != "" {
		q.Set("name", name)
	}
	return q
}

// GetStatus fetches service state via API; empty name means all services.
func (c *APIClient) GetStatus(name string) (any, error) {
	var out any
	if err := c.get("/status", nameQuery(name), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TriggerCheck runs one health check cycle immediately.
func (c *APIClient) TriggerCheck(name string) (any, error) {
	var out any
	if err := c.post("/check", nameQuery(name), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Rearm clears a service out of the down state so checking resumes.
func (c *APIClient) Rearm(name string) error {
	return c.post("/rearm", nameQuery(name), nil)
}

// GetBackups lists recorded snapshots; empty name means all jobs.
func (c *APIClient) GetBackups(name string) (any, error) {
	var out any
	if err := c.get("/backups", nameQuery(name), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TriggerBackup runs a backup job immediately.
func (c *APIClient) TriggerBackup(name string) error {
	return c.post("/backup", nameQuery(name), nil)
}

// GetEvents fetches recent alert events from the queryable sink.
func (c *APIClient) GetEvents(service string, limit int) (any, error) {
	q := url.Values{}
	if service != "" {
		q.Set("service", service)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	var out any
	if err := c.get("/events", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}
