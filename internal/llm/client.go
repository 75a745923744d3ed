// Package llm talks to an OpenAI-compatible chat completions endpoint.
// Ollama serves the same API under /v1, which is the default.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultBaseURL = "http://127.0.0.1:11434/v1"
	DefaultModel   = "phi3:mini"
	DefaultTimeout = 300 * time.Second
)

// maxResponseBytes bounds one completion body.
const maxResponseBytes = 8 << 20

const completionsPath = "/chat/completions"

// ErrNoChoices is returned when the server answers without any choice.
var ErrNoChoices = errors.New("llm: no choices in response")

// Config selects one chat endpoint. It is built once at startup and passed
// in; the client never reads the environment itself.
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	Timeout        time.Duration
	EnableThinking bool   // sends "enable_thinking":true (Kimi/Qwen thinking mode)
	Label          string // used in log lines and validation errors
}

// APIError is a non-200 status or an error object in the reply body.
type APIError struct {
	Status  int // 0 when the error came inside a 200 body
	Message string
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("llm: HTTP %d: %s", e.Status, e.Message)
	}
	return "llm: API error: " + e.Message
}

// Usage reports token consumption for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Client struct {
	cfg      Config
	endpoint string
	http     *http.Client
}

// completionsURL trims trailing slashes and an already present
// "/chat/completions" from base, then appends the path once.
//
// Expectations:
//   - "http://h/v1" and "http://h/v1/" both become "http://h/v1/chat/completions"
//   - A base that already ends in /chat/completions is not doubled
//   - Returns "" for an empty base
func completionsURL(base string) string {
	base = strings.TrimSuffix(strings.TrimRight(base, "/"), completionsPath)
	if base == "" {
		return ""
	}
	return base + completionsPath
}

// New creates a Client from cfg. Empty fields take the package defaults.
//
// Expectations:
//   - Empty BaseURL selects DefaultBaseURL (local Ollama)
//   - Empty Model selects DefaultModel
//   - Non-positive Timeout selects DefaultTimeout
//   - Empty Label becomes "llm"
func New(cfg Config) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Label == "" {
		cfg.Label = "llm"
	}
	return &Client{
		cfg:      cfg,
		endpoint: completionsURL(cfg.BaseURL),
		http:     &http.Client{Timeout: cfg.Timeout},
	}
}

// Validate reports configuration that cannot work. The API key is optional
// because local Ollama does not check it.
//
// Expectations:
//   - Returns nil when base URL and model are set
//   - Lists every missing field comma-separated
//   - Names the client label in the message
func (c *Client) Validate() error {
	var missing []string
	if c.endpoint == "" {
		missing = append(missing, "base URL")
	}
	if c.cfg.Model == "" {
		missing = append(missing, "model")
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("llm: %s client is missing %s", c.cfg.Label, strings.Join(missing, ", "))
}

// Model returns the model name requests are sent to.
func (c *Client) Model() string { return c.cfg.Model }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model          string    `json:"model"`
	Messages       []message `json:"messages"`
	Stream         bool      `json:"stream"`
	EnableThinking bool      `json:"enable_thinking,omitempty"`
}

type completionReply struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Chat sends one system and one user message and returns the first choice's
// content with the reported token usage.
//
// Expectations:
//   - Authorization is sent only when an API key is configured
//   - A non-200 status is an *APIError carrying the status and body
//   - An error object inside a 200 body is an *APIError with Status 0
//   - An empty choices list is ErrNoChoices
func (c *Client) Chat(ctx context.Context, system, user string) (string, Usage, error) {
	req := completionRequest{
		Model:          c.cfg.Model,
		Messages:       []message{{Role: "system", Content: system}, {Role: "user", Content: user}},
		EnableThinking: c.cfg.EnableThinking,
	}
	log.Debug().Str("client", c.cfg.Label).Str("model", c.cfg.Model).Int("user_bytes", len(user)).Msg("[llm] request")

	start := time.Now()
	var reply completionReply
	if err := c.post(ctx, req, &reply); err != nil {
		return "", Usage{}, err
	}
	if reply.Error != nil {
		return "", Usage{}, &APIError{Message: reply.Error.Message}
	}
	if len(reply.Choices) == 0 {
		return "", Usage{}, ErrNoChoices
	}
	content := reply.Choices[0].Message.Content
	log.Debug().Str("client", c.cfg.Label).
		Int("prompt_tokens", reply.Usage.PromptTokens).
		Int("completion_tokens", reply.Usage.CompletionTokens).
		Dur("elapsed", time.Since(start)).
		Msg("[llm] reply")
	return content, reply.Usage, nil
}

func (c *Client) post(ctx context.Context, body any, into any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return fmt.Errorf("llm: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &buf)
	if err != nil {
		return fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	defer resp.Body.Close()
	limited := io.LimitReader(resp.Body, maxResponseBytes)

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(limited)
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(text))}
	}
	if err := json.NewDecoder(limited).Decode(into); err != nil {
		return fmt.Errorf("llm: decode reply: %w", err)
	}
	return nil
}

// StripThinkBlocks removes <think>...</think> spans that reasoning models
// emit around their answer. An unclosed block runs to the end of s.
//
// Expectations:
//   - Removes one or several closed blocks
//   - Drops everything after an unclosed <think>
//   - Returns s trimmed and otherwise unchanged when no tag is present
func StripThinkBlocks(s string) string {
	var out strings.Builder
	rest := s
	for {
		before, after, found := strings.Cut(rest, "<think>")
		out.WriteString(before)
		if !found {
			break
		}
		_, tail, closed := strings.Cut(after, "</think>")
		if !closed {
			break
		}
		rest = tail
	}
	return strings.TrimSpace(out.String())
}
