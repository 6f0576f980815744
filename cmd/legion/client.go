package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/viper"
)

const defaultOrchestratorURL = "http://localhost:8420"

// clientConfig holds the per-project settings read from .agent-team/config.yaml.
type clientConfig struct {
	Orchestrator struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"orchestrator"`
	Project struct {
		Name string `mapstructure:"name"`
	} `mapstructure:"project"`
}

// loadClientConfig reads the project config from the current directory.
// It checks .agent-team/config.yaml first, then the legacy .legatus/ path.
// A missing config is not an error; all fields fall back to defaults.
func loadClientConfig() *clientConfig {
	cfg := &clientConfig{}

	for _, dir := range []string{".agent-team", ".legatus"} {
		path := filepath.Join(dir, "config.yaml")
		if _, err := os.Stat(path); err != nil {
			continue
		}

		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not read %s: %v\n", path, err)
			continue
		}
		if err := v.Unmarshal(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not parse %s: %v\n", path, err)
			continue
		}
		return cfg
	}

	return cfg
}

// orchestratorURL resolves the orchestrator base URL.
// Precedence: LEGATUS_ORCHESTRATOR_URL env var, project config, built-in default.
func orchestratorURL() string {
	if url := os.Getenv("LEGATUS_ORCHESTRATOR_URL"); url != "" {
		return url
	}
	if cfg := loadClientConfig(); cfg.Orchestrator.URL != "" {
		return cfg.Orchestrator.URL
	}
	return defaultOrchestratorURL
}

// projectName returns the project name from the project config, if any.
func projectName() string {
	return loadClientConfig().Project.Name
}

// apiClient talks to the orchestrator's REST API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient() *apiClient {
	return &apiClient{
		baseURL: orchestratorURL(),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// get issues a GET request and decodes the JSON response into out.
func (c *apiClient) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// post issues a POST request with an optional JSON body and decodes the
// response into out. Both body and out may be nil.
func (c *apiClient) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

// del issues a DELETE request and decodes the JSON response into out.
func (c *apiClient) del(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodDelete, path, nil, out)
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			return fmt.Errorf("cannot reach orchestrator at %s (is legatus running?)", c.baseURL)
		}
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiError(resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// apiError extracts the server's error message from an error response.
func apiError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		return fmt.Errorf("%s (HTTP %d)", payload.Error, resp.StatusCode)
	}
	return fmt.Errorf("orchestrator returned HTTP %d", resp.StatusCode)
}

// wsURL converts the orchestrator base URL to its WebSocket endpoint.
func (c *apiClient) wsURL() string {
	url := c.baseURL
	switch {
	case len(url) > 8 && url[:8] == "https://":
		url = "wss://" + url[8:]
	case len(url) > 7 && url[:7] == "http://":
		url = "ws://" + url[7:]
	}
	return url + "/ws"
}
