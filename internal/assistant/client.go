// Package assistant drafts chat replies with the Gemini generateContent API.
package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/roach88/chatsync/internal/chat"
)

// Defaults for Config.
const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com"
	DefaultModel   = "gemini-2.5-flash"
	DefaultTimeout = 20 * time.Second
)

// Config configures a Client.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Client drafts replies. It satisfies responder.Drafter.
type Client struct {
	cfg    Config
	http   *fasthttp.Client
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the fasthttp client.
func WithHTTPClient(c *fasthttp.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

// New creates a client. An empty API key makes every Draft fail with
// chat.ErrAssistantUnavailable.
func New(cfg Config, opts ...Option) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	c := &Client{
		cfg:    cfg,
		http:   &fasthttp.Client{Name: "chatsync"},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ReplyPrompt is the instruction sent for a received message.
func ReplyPrompt(received string) string {
	return "You are a helpful AI assistant drafting a reply for a user in a direct message chat.\n" +
		"The last message received was: \"" + received + "\".\n" +
		"Draft a short, casual, and engaging reply that fits the context.\n" +
		"Keep it natural, friendly, and under 25 words. Do not include quotes."
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func unavailable(format string, args ...any) error {
	return &chat.Error{
		Code:    chat.CodeAssistantUnavailable,
		Op:      "draft reply",
		Message: fmt.Sprintf(format, args...),
	}
}

// Draft asks the model for a reply to received. An empty received message
// yields an empty reply without a request.
func (c *Client) Draft(ctx context.Context, received string) (string, error) {
	if received == "" {
		return "", nil
	}
	if c.cfg.APIKey == "" {
		return "", unavailable("no API key configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: ReplyPrompt(received)}}}},
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		strings.TrimRight(c.cfg.BaseURL, "/"), url.PathEscape(c.cfg.Model), url.QueryEscape(c.cfg.APIKey))
	req.SetRequestURI(endpoint)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	deadline := time.Now().Add(c.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return "", unavailable("request: %v", err)
	}

	var out generateResponse
	decodeErr := json.Unmarshal(resp.Body(), &out)

	if resp.StatusCode() != fasthttp.StatusOK {
		msg := fasthttp.StatusMessage(resp.StatusCode())
		if decodeErr == nil && out.Error != nil && out.Error.Message != "" {
			msg = out.Error.Message
		}
		c.logger.Warn("assistant request rejected", "status", resp.StatusCode(), "message", msg)
		return "", unavailable("status %d: %s", resp.StatusCode(), msg)
	}
	if decodeErr != nil {
		return "", unavailable("decode response: %v", decodeErr)
	}

	if len(out.Candidates) == 0 {
		return "", nil
	}
	var b strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return strings.TrimSpace(b.String()), nil
}
