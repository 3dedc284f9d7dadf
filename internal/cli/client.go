package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/config"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/version"
)

// apiClient talks to a running gateway over its REST API.
type apiClient struct {
	base   string
	secret string
	http   *http.Client
}

// newAPIClient targets url, or the local gateway from cfg when url is
// empty. The secret defaults to the configured token or password.
func newAPIClient(cfg config.Config, url, secret string) *apiClient {
	if url == "" {
		host := "127.0.0.1"
		if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost != "" {
			host = cfg.Gateway.CustomBindHost
		}
		scheme := "http"
		if cfg.Gateway.TLS.Enabled {
			scheme = "https"
		}
		url = fmt.Sprintf("%s://%s:%d", scheme, host, cfg.Gateway.Port)
	}
	if secret == "" {
		secret = cfg.Gateway.Auth.Token
	}
	if secret == "" {
		secret = cfg.Gateway.Auth.Password
	}
	if secret == "" {
		secret = os.Getenv("MASITAPREX_GATEWAY_TOKEN")
	}
	return &apiClient{
		base:   strings.TrimRight(url, "/"),
		secret: secret,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError is the error body returned by the gateway.
type apiError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("gateway returned %d", e.Status)
	}
	return fmt.Sprintf("gateway returned %d: %s: %s", e.Status, e.Code, e.Message)
}

// do sends body as JSON and decodes the response into out when non-nil.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var wrapped struct {
			Error apiError `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&wrapped)
		wrapped.Error.Status = resp.StatusCode
		return &wrapped.Error
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
