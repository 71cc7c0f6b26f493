package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rendis/procflow/internal/expressions"
	"github.com/rendis/procflow/pkg/schema"
)

// HTTPConfig configures the HTTP_REQUEST action.
type HTTPConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

var resolver = expressions.NewVariableResolver()

// HTTPRequestAction implements HTTP_REQUEST. URL, headers and body are
// templates resolved against the run scope. A 4xx/5xx response fails the step.
type HTTPRequestAction struct {
	config HTTPConfig
	client *http.Client
}

// NewHTTPRequestAction creates the HTTP_REQUEST action.
func NewHTTPRequestAction(cfg HTTPConfig) *HTTPRequestAction {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultHTTPTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	return &HTTPRequestAction{config: cfg, client: client}
}

func (a *HTTPRequestAction) Name() schema.Action { return schema.ActionHTTPRequest }

func (a *HTTPRequestAction) Describe() string {
	return "Call an HTTP endpoint; the response becomes the step output."
}

func (a *HTTPRequestAction) Validate(cfg schema.StepConfig) error {
	c, err := configAs[schema.HTTPRequestConfig](a.Name(), cfg)
	if err != nil {
		return err
	}
	if c.URL == "" {
		return schema.NewError(schema.ErrCodeValidation, "HTTP_REQUEST: url is required")
	}
	if !expressions.HasTemplate(c.URL) {
		if err := checkURL(c.URL); err != nil {
			return err
		}
	}
	if c.TimeoutSeconds < 0 {
		return schema.NewError(schema.ErrCodeValidation, "HTTP_REQUEST: timeout_seconds must not be negative")
	}
	return nil
}

func (a *HTTPRequestAction) Execute(ctx context.Context, input ActionInput) (*schema.StepOutput, error) {
	c, err := configAs[schema.HTTPRequestConfig](a.Name(), input.Step.Config)
	if err != nil {
		return nil, err
	}

	rawURL := resolver.Resolve(c.URL, input.Scope)
	if err := checkURL(rawURL); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecutionFailure, "HTTP_REQUEST: %s", err.Error()).WithCause(err)
	}
	method := strings.ToUpper(c.Method)
	if method == "" {
		method = http.MethodGet
	}

	timeout := a.config.DefaultTimeout
	if c.TimeoutSeconds > 0 {
		timeout = time.Duration(c.TimeoutSeconds) * time.Second
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var bodyReader io.Reader
	body := resolver.Resolve(c.Body, input.Scope)
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, bodyReader)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecutionFailure, "HTTP_REQUEST: failed to create request").WithCause(err)
	}
	if body != "" && json.Valid([]byte(body)) {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.Headers {
		req.Header.Set(k, resolver.Resolve(v, input.Scope))
	}

	start := time.Now()
	resp, err := a.client.Do(req)
	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecutionFailure, "HTTP_REQUEST: request failed: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, a.config.MaxResponseBody))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecutionFailure, "HTTP_REQUEST: failed to read response body").WithCause(err)
	}

	respContentType := resp.Header.Get("Content-Type")
	var parsedBody any
	if len(bodyBytes) > 0 {
		parsedBody = string(bodyBytes)
		if strings.Contains(respContentType, "json") {
			var jsonBody any
			if err := json.Unmarshal(bodyBytes, &jsonBody); err == nil {
				parsedBody = jsonBody
			}
		}
	}

	respHeaders := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	result := map[string]any{
		"status_code":  resp.StatusCode,
		"headers":      respHeaders,
		"body":         parsedBody,
		"content_type": respContentType,
		"duration_ms":  durationMs,
	}

	if resp.StatusCode >= 400 {
		return nil, schema.NewErrorf(schema.ErrCodeExecutionFailure, "HTTP_REQUEST: %s %s returned %d", method, rawURL, resp.StatusCode).
			WithDetails(map[string]any{"status_code": resp.StatusCode, "body": parsedBody})
	}
	return schema.RecordOutput(result), nil
}

func checkURL(raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return schema.NewError(schema.ErrCodeValidation, fmt.Sprintf("invalid url %q", raw))
	}
	return nil
}
