package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sashabaranov/go-openai"

	"github.com/dshills/roomscan-mcp/pkg/types"
)

// DefaultTimeout bounds a single chat completion.
const DefaultTimeout = 60 * time.Second

// logExcerptRunes caps model output copied into log lines.
const logExcerptRunes = 200

// ErrNoAPIKey is returned by New when no API key is configured.
var ErrNoAPIKey = errors.New("openai api key not set")

// JSONRequest is a single-turn chat completion in JSON mode.
type JSONRequest struct {
	Model       string
	System      string
	User        string
	ImageURL    string // optional; sent as an image part after the User text
	Temperature float32
	MaxTokens   int
}

// Completer runs a JSON-mode completion and decodes the reply into out.
type Completer interface {
	CompleteJSON(ctx context.Context, req JSONRequest, out interface{}) error
}

// Config configures an OpenAI-compatible chat endpoint.
type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Client implements Completer with go-openai.
type Client struct {
	client  *openai.Client
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a chat client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		client:  openai.NewClientWithConfig(clientCfg),
		timeout: timeout,
		logger:  logger,
	}, nil
}

// CompleteJSON sends req with response_format json_object and unmarshals the
// first choice into out. Transport failures wrap types.ErrUpstream; an empty
// or undecodable reply wraps types.ErrUpstreamParse.
func (c *Client) CompleteJSON(ctx context.Context, req JSONRequest, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if req.ImageURL != "" {
		user.MultiContent = []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: req.User},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
				URL:    req.ImageURL,
				Detail: openai.ImageURLDetailAuto,
			}},
		}
	} else {
		user.Content = req.User
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			user,
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	latency := time.Since(start)
	if err != nil {
		c.logger.Error("chat_completion_failed",
			"model", req.Model,
			"error", err,
			"latency_ms", latency.Milliseconds())
		return fmt.Errorf("%w: chat completion: %v", types.ErrUpstream, err)
	}

	if len(resp.Choices) == 0 {
		return fmt.Errorf("%w: no choices returned by %s", types.ErrUpstreamParse, req.Model)
	}

	content := resp.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(content), out); err != nil {
		c.logger.Warn("chat_completion_parse_failed",
			"model", req.Model,
			"content", Truncate(content, logExcerptRunes),
			"error", err)
		return fmt.Errorf("%w: %s reply is not the expected JSON: %v", types.ErrUpstreamParse, req.Model, err)
	}

	c.logger.Debug("chat_completion",
		"model", req.Model,
		"latency_ms", latency.Milliseconds(),
		"total_tokens", resp.Usage.TotalTokens)
	return nil
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
