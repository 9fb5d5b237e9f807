// Package buildfyapi talks to the hosted upload and code generation endpoints.
package buildfyapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/manash/buildfy/internal/log"
	"github.com/manash/buildfy/internal/provider"
	"github.com/manash/buildfy/pkg/models"
)

const (
	BackendName = "buildfy"

	uploadPath   = "/api/upload"
	generatePath = "/api/generateCode"

	defaultTimeout = 120 * time.Second
	errorBodyLimit = 512
)

type generateRequest struct {
	Model    string `json:"model"`
	Shadcn   bool   `json:"shadcn"`
	ImageURL string `json:"imageUrl"`
}

type uploadResponse struct {
	URL   string `json:"url"`
	Error string `json:"error,omitempty"`
}

type Client struct {
	apiKey  string
	baseURL string
	// uploadClient bounds the whole exchange; streamClient only bounds the
	// wait for response headers so long generations are not cut off.
	uploadClient *http.Client
	streamClient *http.Client
	logger       zerolog.Logger
	verbose      bool
}

func New(cfg *provider.Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, provider.ErrBaseURLRequired
	}

	timeout := defaultTimeout
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: timeout,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
	}

	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		uploadClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		streamClient: &http.Client{
			Transport: transport,
		},
		logger:  log.WithComponent("api"),
		verbose: cfg.Verbose,
	}, nil
}

// NewBackend adapts New to provider.NewFunc.
func NewBackend(cfg *provider.Config) (provider.Backend, error) {
	return New(cfg)
}

func (c *Client) Name() string {
	return BackendName
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Generate(ctx context.Context, req *models.GenerateRequest) (io.ReadCloser, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrGenerationRequestFailed, err)
	}

	apiReq := generateRequest{
		Model:    req.Model,
		Shadcn:   req.UseComponentLibrary,
		ImageURL: req.ImageURL,
	}

	jsonData, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + generatePath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", provider.ErrGenerationRequestFailed, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/plain")
	c.authorize(httpReq)

	c.logRequest(http.MethodPost, url, httpReq.Header, jsonData)

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrGenerationRequestFailed, err)
	}

	c.logResponse(resp.StatusCode, resp.Header, nil)

	if resp.StatusCode != http.StatusOK {
		detail := readErrorBody(resp.Body)
		resp.Body.Close()
		if detail != "" {
			return nil, fmt.Errorf("%w: status %d: %s", provider.ErrGenerationRequestFailed, resp.StatusCode, detail)
		}
		return nil, fmt.Errorf("%w: status %d", provider.ErrGenerationRequestFailed, resp.StatusCode)
	}

	if resp.Body == nil || resp.Body == http.NoBody {
		if resp.Body != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("%w: no response body", provider.ErrGenerationRequestFailed)
	}

	return resp.Body, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func readErrorBody(body io.Reader) string {
	if body == nil {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(body, errorBodyLimit))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
