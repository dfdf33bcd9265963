// Package generate is an HTTP client for the text-generation backend
// used by the Synthesizer and the Guardrail. It speaks the same
// Ollama-shaped wire contract as internal/embed's OllamaEmbedder
// (GET /api/tags, POST /api/generate) but drops the embedder's
// thermal/batch-progress timeout machinery, since a single synthesis
// or validation call has no batch to progress through.
package generate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chw-health/clinicalrag/internal/errors"
)

// Options carries the sampling parameters named in spec.md §6's wire
// contract.
type Options struct {
	NumPredict    int     `json:"num_predict"`
	Temperature   float64 `json:"temperature"`
	TopP          float64 `json:"top_p"`
	RepeatPenalty float64 `json:"repeat_penalty"`
}

type generateRequest struct {
	Model   string  `json:"model"`
	Prompt  string  `json:"prompt"`
	Stream  bool    `json:"stream"`
	Options Options `json:"options"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Config configures a Client.
type Config struct {
	URL           string
	Model         string
	Temperature   float64
	TopP          float64
	RepeatPenalty float64
	NumPredict    int
	Timeout       time.Duration
	MaxRetries    int
}

// Client talks to the generation backend over HTTP, grounded on
// OllamaEmbedder's transport and cancellation pattern.
type Client struct {
	httpClient *http.Client
	transport  *http.Transport
	cfg        Config
	breaker    *errors.CircuitBreaker

	mu     sync.Mutex
	closed bool
}

// New builds a Client. Defaults mirror the ones set in
// internal/config.NewConfig's GenerationConfig.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	transport := &http.Transport{
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		MaxConnsPerHost:     8,
		IdleConnTimeout:     10 * time.Second,
	}
	return &Client{
		httpClient: &http.Client{Transport: transport},
		transport:  transport,
		cfg:        cfg,
		breaker: errors.NewCircuitBreaker("generate:"+cfg.URL,
			errors.WithMaxFailures(5),
			errors.WithResetTimeout(30*time.Second)),
	}
}

// Available reports whether the backend is reachable and the
// configured model is present, by calling GET /api/tags.
func (c *Client) Available(ctx context.Context) bool {
	models, err := c.listModels(ctx)
	if err != nil {
		return false
	}
	for _, m := range models {
		if strings.EqualFold(m, c.cfg.Model) || strings.HasPrefix(strings.ToLower(m), strings.ToLower(c.cfg.Model)+":") {
			return true
		}
	}
	return false
}

func (c *Client) listModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeNetworkUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var parsed tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode tags response: %w", err)
	}
	names := make([]string, len(parsed.Models))
	for i, m := range parsed.Models {
		names[i] = m.Name
	}
	return names, nil
}

// Generate sends a non-streaming POST /api/generate request and
// returns the assembled response text. Retries with exponential
// backoff on transport failure, honoring ctx cancellation throughout.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return "", fmt.Errorf("generation client is closed")
	}
	if !c.breaker.Allow() {
		return "", errors.Wrap(errors.ErrCodeGenerationFailed, errors.ErrCircuitOpen)
	}

	retryCfg := errors.RetryConfig{
		MaxRetries:   c.cfg.MaxRetries,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}

	text, err := errors.RetryWithResult(ctx, retryCfg, func() (string, error) {
		timeoutCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
		resp, err := c.doGenerate(timeoutCtx, prompt)
		if err != nil {
			return "", errors.Wrap(errors.ErrCodeGenerationFailed, err)
		}
		return resp, nil
	})
	if err != nil {
		c.breaker.RecordFailure()
		return "", err
	}
	c.breaker.RecordSuccess()
	return text, nil
}

// doGenerate performs a single request/response cycle. It runs the
// HTTP call in a goroutine so ctx cancellation can force-close the
// connection and return promptly, matching OllamaEmbedder.doEmbed.
func (c *Client) doGenerate(ctx context.Context, prompt string) (string, error) {
	reqBody := generateRequest{
		Model:  c.cfg.Model,
		Prompt: prompt,
		Stream: false,
		Options: Options{
			NumPredict:    c.cfg.NumPredict,
			Temperature:   c.cfg.Temperature,
			TopP:          c.cfg.TopP,
			RepeatPenalty: c.cfg.RepeatPenalty,
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	type result struct {
		text string
		err  error
	}
	resultCh := make(chan result, 1)

	go func() {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			resultCh <- result{err: err}
			return
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			resultCh <- result{err: fmt.Errorf("generate failed with status %d: %s", resp.StatusCode, string(respBody))}
			return
		}

		text, err := readGenerateStream(resp.Body)
		resultCh <- result{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		c.forceCloseConnections()
		select {
		case <-resultCh:
		case <-time.After(100 * time.Millisecond):
		}
		return "", ctx.Err()
	case r := <-resultCh:
		return r.text, r.err
	}
}

// readGenerateStream decodes the backend's response. Per spec.md §6
// the non-streaming response is a single JSON object with a
// "response" field, but the backend may emit line-delimited JSON
// chunks regardless of the requested stream flag, so accumulate every
// "response" fragment until a line with "done":true, tolerating a
// single-object body as a degenerate one-line stream.
func readGenerateStream(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var sb strings.Builder
	sawAny := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var chunk generateResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			return "", fmt.Errorf("failed to decode generate response: %w", err)
		}
		sawAny = true
		sb.WriteString(chunk.Response)
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read generate response: %w", err)
	}
	if !sawAny {
		return "", fmt.Errorf("empty generate response")
	}
	return sb.String(), nil
}

// forceCloseConnections replaces the transport so in-flight reads
// unblock on cancellation, matching OllamaEmbedder.ForceCloseConnections.
func (c *Client) forceCloseConnections() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport != nil {
		c.transport.CloseIdleConnections()
		c.transport = &http.Transport{
			MaxIdleConns:        4,
			MaxIdleConnsPerHost: 4,
			MaxConnsPerHost:     8,
			IdleConnTimeout:     10 * time.Second,
			DisableKeepAlives:   true,
		}
		c.httpClient.Transport = c.transport
	}
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.transport != nil {
		c.transport.CloseIdleConnections()
	}
	return nil
}
