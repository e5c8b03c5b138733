package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"glossa/internal/egress"
	"glossa/internal/llm"
)

const (
	DefaultBaseURL        = "https://api.openai.com"
	defaultRequestTimeout = 180 * time.Second
	maxErrorBodyBytes     = 2048
	readChunkBytes        = 32 * 1024
)

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string
	// Timeout bounds one whole call, connect through last stream byte.
	Timeout time.Duration
	// AllowInsecure permits plain HTTP to the configured host, for local proxies.
	AllowInsecure bool
	Transport     http.RoundTripper
	Logger        *slog.Logger
}

// Client performs single streaming calls against a Responses-compatible endpoint.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Hostname() == "" {
		return nil, fmt.Errorf("openai: invalid base url %q", opts.BaseURL)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	transport := egress.NewGuard(opts.Transport, egress.Policy{
		Hosts:    []string{parsed.Hostname()},
		Insecure: opts.AllowInsecure,
	}, logger)
	return &Client{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(opts.APIKey),
		timeout: timeout,
		client:  &http.Client{Transport: transport},
		logger:  logger,
	}, nil
}

func (c *Client) BaseURL() (*url.URL, error) {
	return url.Parse(c.baseURL)
}

func (c *Client) responsesEndpoint() string {
	return c.baseURL + "/v1/responses"
}

// BuildPayload serializes a request into the streaming Responses body.
func BuildPayload(req llm.Request) ([]byte, error) {
	input := make([]map[string]any, 0, len(req.Turns))
	for _, turn := range req.Turns {
		input = append(input, map[string]any{
			"role":    turn.Role,
			"content": turn.Content,
		})
	}
	return json.Marshal(map[string]any{
		"model":       req.Model,
		"input":       input,
		"temperature": req.Temperature,
		"stream":      true,
	})
}

// Complete builds the payload for req and performs one call.
func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	payload, err := BuildPayload(req)
	if err != nil {
		return "", err
	}
	return c.Call(ctx, payload)
}

// Call performs exactly one streaming request with a pre-serialized payload
// and returns the accumulated response text. It never retries.
func (c *Client) Call(ctx context.Context, payload []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.responsesEndpoint(), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	c.logger.Debug("openai.request", "endpoint", c.responsesEndpoint(), "diag", summarizeRequestPayload(payload))
	resp, err := c.client.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.Is(err, llm.ErrEgressBlocked) && errors.As(err, &urlErr) {
			return "", urlErr.Err
		}
		return "", c.transportError(ctx, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", requestError(resp)
	}

	text, err := c.readStream(ctx, resp.Body)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", llm.ErrEmptyResponse
	}
	return text, nil
}

func (c *Client) transportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", llm.ErrTimeout, c.timeout)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return err
}

func requestError(resp *http.Response) error {
	body := readErrorBody(resp)
	statusErr := &llm.StatusError{Status: resp.StatusCode, Message: resp.Status}
	var envelope struct {
		Error *errorPayload `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &envelope); err == nil && envelope.Error != nil {
		if msg := strings.TrimSpace(envelope.Error.Message); msg != "" {
			statusErr.Message = msg
		}
		statusErr.Code = envelope.Error.codeString()
	} else if body != "" {
		statusErr.Message = resp.Status + " - " + body
	}
	if requestID := strings.TrimSpace(resp.Header.Get("x-request-id")); requestID != "" {
		statusErr.Message += " request_id=" + requestID
	}
	return statusErr
}

func summarizeRequestPayload(payload []byte) string {
	var decoded struct {
		Model  string            `json:"model"`
		Input  []json.RawMessage `json:"input"`
		Stream bool              `json:"stream"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Sprintf("bytes=%d undecodable=true", len(payload))
	}
	return fmt.Sprintf(
		"model=%s input_items=%d bytes=%d stream=%t",
		decoded.Model,
		len(decoded.Input),
		len(payload),
		decoded.Stream,
	)
}

func readErrorBody(resp *http.Response) string {
	if resp == nil || resp.Body == nil {
		return ""
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return strings.TrimSpace(string(body))
}
