package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultClientTimeout is the default timeout for API requests. Execution
// requests wait on the oracle and use executeTimeout instead.
const DefaultClientTimeout = 10 * time.Second

// apiClient is the shared HTTP client with timeout.
var apiClient = &http.Client{
	Timeout: DefaultClientTimeout,
}

// apiError is a non-2xx API response.
type apiError struct {
	Status int
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
	Msg    string `json:"error"`
}

func (e *apiError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("API error (%d %s): %s", e.Status, e.Kind, e.Reason)
	}
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Msg)
}

func apiDo(client *http.Client, method, path string, data interface{}) ([]byte, error) {
	var body io.Reader
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, apiAddr+path, body)
	if err != nil {
		return nil, err
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+apiToken)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		apiErr := &apiError{Status: resp.StatusCode, Msg: string(respBody)}
		_ = json.Unmarshal(respBody, apiErr)
		return nil, apiErr
	}
	return respBody, nil
}

// apiGet performs a GET request to the API with timeout.
func apiGet(path string) ([]byte, error) {
	return apiDo(apiClient, http.MethodGet, path, nil)
}

// apiPost performs a POST request to the API with timeout.
func apiPost(path string, data interface{}) ([]byte, error) {
	return apiDo(apiClient, http.MethodPost, path, data)
}

// apiGetJSON decodes a GET response into v.
func apiGetJSON(path string, v interface{}) error {
	resp, err := apiGet(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(resp, v)
}

// apiPostJSON decodes a POST response into v.
func apiPostJSON(path string, data, v interface{}) error {
	resp, err := apiPost(path, data)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return json.Unmarshal(resp, v)
}

// CheckHealth checks if the daemon is healthy and returns the health response.
// The parsed payload is returned alongside the error on non-200 responses.
func CheckHealth() (*HealthResponse, error) {
	resp, err := apiClient.Get(apiAddr + "/health")
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var health HealthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		return nil, fmt.Errorf("failed to parse health response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &health, fmt.Errorf("health check failed (status %d): %s", resp.StatusCode, string(body))
	}
	return &health, nil
}

// HealthResponse matches the server's health response structure.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}
