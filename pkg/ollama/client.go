// Package ollama is a minimal client for the Ollama text-generation API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/labelmatch/internal/resilience"
)

const (
	defaultBaseURL = "http://localhost:11434"
	defaultModel   = "gemma:2b"
	defaultTimeout = 120 * time.Second
)

// ErrEmptyResponse is returned when the server answers 200 with no text.
var ErrEmptyResponse = eris.New("ollama: empty response")

// Client generates text from a local model.
type Client interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// GenerateRequest is the body for POST /api/generate.
type GenerateRequest struct {
	Model   string   `json:"model"`
	Prompt  string   `json:"prompt"`
	Stream  bool     `json:"stream"`
	Format  string   `json:"format,omitempty"`
	Options *Options `json:"options,omitempty"`
}

// Options are sampling parameters.
type Options struct {
	Temperature float64 `json:"temperature"`
	Seed        *int    `json:"seed,omitempty"`
	NumPredict  *int    `json:"num_predict,omitempty"`
}

// GenerateResponse is the non-streaming reply.
type GenerateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason,omitempty"`
	TotalDuration   int64  `json:"total_duration"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides http://localhost:11434.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *httpClient) {
		c.model = model
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout on the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRateLimit caps requests per second. Zero or less disables the limiter.
func WithRateLimit(perSec float64) Option {
	return func(c *httpClient) {
		if perSec > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSec), 1)
		}
	}
}

type httpClient struct {
	baseURL string
	model   string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates an Ollama client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: defaultBaseURL,
		model:   defaultModel,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	req.Stream = false

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "ollama: rate limit wait")
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "ollama: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "ollama: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "ollama: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "ollama: read response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("ollama: unexpected status %d: %s", resp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var result GenerateResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "ollama: unmarshal response")
	}
	if strings.TrimSpace(result.Response) == "" {
		return nil, ErrEmptyResponse
	}

	return &result, nil
}

// Generator adapts a Client to a prompt-in, text-out function with
// deterministic sampling.
type Generator struct {
	Client Client
}

// Generate sends prompt at temperature zero and returns the model's text.
func (g Generator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.Client.Generate(ctx, GenerateRequest{
		Prompt:  prompt,
		Options: &Options{Temperature: 0},
	})
	if err != nil {
		return "", err
	}
	return resp.Response, nil
}
