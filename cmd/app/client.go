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
	"strings"
	"time"
)

const (
	defaultServer = "http://127.0.0.1:8080"
	defaultSocket = "/tmp/formlayout.sock"
)

// cliConfig is the persisted choice of how the CLI reaches a server.
type cliConfig struct {
	Transport string `json:"transport"`
	Server    string `json:"server"`
	Socket    string `json:"socket"`
}

// withDefaults fills every blank setting.
func (c cliConfig) withDefaults() cliConfig {
	if c.Transport == "" {
		c.Transport = "uds"
	}
	if c.Server == "" {
		c.Server = defaultServer
	}
	if c.Socket == "" {
		c.Socket = defaultSocket
	}
	return c
}

func (c cliConfig) validate() error {
	switch c.Transport {
	case "uds", "http":
		return nil
	}
	return fmt.Errorf("unknown transport %q (want uds or http)", c.Transport)
}

// remoteError is a failure reported by the server over either transport.
// Status is the HTTP status or the JSON-RPC error code.
type remoteError struct {
	Status  int
	Message string
	Field   string
}

func (e *remoteError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("server error (%d): %s: %s", e.Status, e.Field, e.Message)
	}
	return fmt.Sprintf("server error (%d): %s", e.Status, e.Message)
}

type apiClient struct {
	httpClient *http.Client
	baseURL    string
}

func newAPIClient(server string) *apiClient {
	return &apiClient{
		httpClient: &http.Client{Timeout: 20 * time.Second},
		baseURL:    strings.TrimRight(server, "/"),
	}
}

// request sends in as the JSON body (json.RawMessage is sent verbatim) and
// decodes a successful reply into out.
func (c *apiClient) request(ctx context.Context, method, path string, in any, out any) error {
	body, err := encodeBody(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
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
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeHTTPError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func encodeBody(in any) (io.Reader, error) {
	switch v := in.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return bytes.NewReader(v), nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return bytes.NewReader(raw), nil
	}
}

func decodeHTTPError(resp *http.Response) error {
	payload, _ := io.ReadAll(resp.Body)
	var body struct {
		Error string `json:"error"`
		Field string `json:"field"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(payload))
	}
	return &remoteError{Status: resp.StatusCode, Message: body.Error, Field: body.Field}
}

func configPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".formlayout", "config.json"), nil
}

// loadConfig reads the saved connection settings. A missing file means the
// local unix socket.
func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	var cfg cliConfig
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cliConfig{}, err
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cliConfig{}, fmt.Errorf("%s: %w", path, err)
		}
	}
	return cfg.withDefaults(), nil
}

func saveConfig(cfg cliConfig) error {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return err
	}
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
