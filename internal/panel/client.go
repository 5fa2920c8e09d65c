package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nerrad567/panelsync/internal/panel/deviceconfig"
)

// DeviceClient talks to a panel's HTTP configuration interface.
type DeviceClient interface {
	ReadConfig(ctx context.Context, address string) (*deviceconfig.Document, error)
	WriteConfig(ctx context.Context, address string, partial deviceconfig.Partial) error
	UpdateFirmware(ctx context.Context, address string) error
}

const (
	defaultHTTPTimeout = 2 * time.Second
	maxConfigSize      = 1 << 20
)

// HTTPClient is the DeviceClient used against real panels.
type HTTPClient struct {
	httpClient *http.Client
}

// NewHTTPClient creates a client whose requests time out after timeout.
func NewHTTPClient(timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &HTTPClient{httpClient: &http.Client{Timeout: timeout}}
}

func baseURL(address string) string {
	address = strings.TrimRight(address, "/")
	if strings.HasPrefix(address, "http://") || strings.HasPrefix(address, "https://") {
		return address
	}
	return "http://" + address
}

// ReadConfig fetches GET /config.
func (c *HTTPClient) ReadConfig(ctx context.Context, address string) (*deviceconfig.Document, error) {
	body, err := c.do(ctx, http.MethodGet, address, "/config", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConfigRead, address, err)
	}
	var doc deviceconfig.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: decoding: %w", ErrConfigRead, address, err)
	}
	return &doc, nil
}

// WriteConfig posts a partial document to /configsave.
func (c *HTTPClient) WriteConfig(ctx context.Context, address string, partial deviceconfig.Partial) error {
	payload, err := partial.Marshal()
	if err != nil {
		return fmt.Errorf("%w: encoding: %w", ErrConfigWrite, err)
	}
	if _, err := c.do(ctx, http.MethodPost, address, "/configsave", payload); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConfigWrite, address, err)
	}
	return nil
}

// UpdateFirmware triggers GET /updatefirmware. The response body is ignored.
func (c *HTTPClient) UpdateFirmware(ctx context.Context, address string) error {
	if _, err := c.do(ctx, http.MethodGet, address, "/updatefirmware", nil); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrFirmwareUpdate, address, err)
	}
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, address, path string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, baseURL(address)+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxConfigSize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return body, nil
}
