package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mshibata0117/gitlab-mirror-manager/internal/domain"
)

// Client is the API client for gitlab-mirror-manager
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CreateInstance registers a GitLab instance
func (c *Client) CreateInstance(name, instanceURL, token string) (*domain.GitLabInstance, error) {
	body := map[string]string{
		"name":  name,
		"url":   instanceURL,
		"token": token,
	}

	var response struct {
		Data *domain.GitLabInstance `json:"data"`
	}
	if err := c.do(http.MethodPost, "/api/v1/instances", nil, body, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// ListInstances retrieves all registered instances
func (c *Client) ListInstances() ([]*domain.GitLabInstance, error) {
	var response struct {
		Data []*domain.GitLabInstance `json:"data"`
	}
	if err := c.do(http.MethodGet, "/api/v1/instances", nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetInstance retrieves a single instance
func (c *Client) GetInstance(id string) (*domain.GitLabInstance, error) {
	var response struct {
		Data *domain.GitLabInstance `json:"data"`
	}
	if err := c.do(http.MethodGet, fmt.Sprintf("/api/v1/instances/%s", id), nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// DeleteInstance removes an instance and reports the remote cleanup outcome
func (c *Client) DeleteInstance(id string) (*domain.CascadeResult, error) {
	var response struct {
		Data *domain.CascadeResult `json:"data"`
	}
	if err := c.do(http.MethodDelete, fmt.Sprintf("/api/v1/instances/%s", id), nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// HealthSweep probes every registered instance
func (c *Client) HealthSweep() (*domain.HealthReport, error) {
	var response struct {
		Data *domain.HealthReport `json:"data"`
	}
	if err := c.do(http.MethodPost, "/api/v1/instances/health", nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// CreatePair links two instances for mirroring
func (c *Client) CreatePair(pair *domain.InstancePair) (*domain.InstancePair, error) {
	var response struct {
		Data *domain.InstancePair `json:"data"`
	}
	if err := c.do(http.MethodPost, "/api/v1/pairs", nil, pair, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// ListPairs retrieves all instance pairs
func (c *Client) ListPairs() ([]*domain.InstancePair, error) {
	var response struct {
		Data []*domain.InstancePair `json:"data"`
	}
	if err := c.do(http.MethodGet, "/api/v1/pairs", nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// DeletePair removes a pair and its mirrors
func (c *Client) DeletePair(id string) (*domain.BatchReport, error) {
	var response struct {
		Data *domain.BatchReport `json:"data"`
	}
	if err := c.do(http.MethodDelete, fmt.Sprintf("/api/v1/pairs/%s", id), nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// CleanupPair deletes the remote mirrors of a pair
func (c *Client) CleanupPair(id string) (*domain.BatchReport, error) {
	var response struct {
		Data *domain.BatchReport `json:"data"`
	}
	if err := c.do(http.MethodPost, fmt.Sprintf("/api/v1/pairs/%s/cleanup", id), nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// RefreshPairStatus pulls the current sync state of a pair's mirrors
func (c *Client) RefreshPairStatus(id string) (*domain.BatchReport, error) {
	var response struct {
		Data *domain.BatchReport `json:"data"`
	}
	if err := c.do(http.MethodPost, fmt.Sprintf("/api/v1/pairs/%s/refresh", id), nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// CreateMirror configures a mirror for a project under a pair
func (c *Client) CreateMirror(pairID string, hostProjectID int, remoteURL string) (*domain.Mirror, error) {
	body := map[string]interface{}{
		"host_project_id": hostProjectID,
		"remote_url":      remoteURL,
	}

	var response struct {
		Data *domain.Mirror `json:"data"`
	}
	if err := c.do(http.MethodPost, fmt.Sprintf("/api/v1/pairs/%s/mirrors", pairID), nil, body, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// ListMirrors retrieves the mirrors of a pair
func (c *Client) ListMirrors(pairID string) ([]*domain.Mirror, error) {
	var response struct {
		Data []*domain.Mirror `json:"data"`
	}
	if err := c.do(http.MethodGet, fmt.Sprintf("/api/v1/pairs/%s/mirrors", pairID), nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// DeleteMirror removes a mirror remotely and locally
func (c *Client) DeleteMirror(id string) error {
	return c.do(http.MethodDelete, fmt.Sprintf("/api/v1/mirrors/%s", id), nil, nil, nil)
}

// HealthCheck checks if the API is healthy
func (c *Client) HealthCheck() error {
	var response struct {
		Status string `json:"status"`
	}
	if err := c.do(http.MethodGet, "/health", nil, nil, &response); err != nil {
		return err
	}
	if response.Status != "ok" {
		return fmt.Errorf("unhealthy status: %s", response.Status)
	}
	return nil
}

func (c *Client) do(method, path string, params url.Values, body, result interface{}) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return err
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, u.String(), reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s - %s", resp.Status, string(respBody))
	}

	if result == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(result)
}
