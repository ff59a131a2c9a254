// Package llama is a streaming client for the OpenAI-compatible chat API
// served by llama-server and similar backends.
//
// A request echoes the model's thinking to the configured output while it
// streams, stops echoing once an action marker appears, and finishes with a
// timing report. The returned llm.Response is always derived from the full
// text, independent of what was echoed.
package llama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"github.com/blixt/llama-stream/config"
	"github.com/blixt/llama-stream/llm"
)

const chatCompletionsPath = "/v1/chat/completions"

// maxErrorBody caps how much of an error response is kept in a StatusError.
const maxErrorBody = 4 << 10

// ErrTimeout is returned when the configured timeout expires before the
// stream has finished.
var ErrTimeout = errors.New("request timed out")

// StatusError is returned when the server answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server returned %s", e.Status)
	}
	return fmt.Sprintf("server returned %s: %s", e.Status, e.Body)
}

type Client struct {
	cfg        config.ModelConfig
	endpoint   string
	httpClient *http.Client
	out        io.Writer
	logger     zerolog.Logger
}

var _ llm.Provider = (*Client)(nil)

type Option func(*Client)

// WithHTTPClient sets the HTTP client used for requests. Timeouts should be
// configured with ModelConfig.Timeout rather than on the client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithOutput sets where thinking text and the timing report are written.
// Defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(c *Client) { c.out = w }
}

// WithLogger sets the logger. Defaults to a disabled logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func New(cfg config.ModelConfig, opts ...Option) *Client {
	c := &Client{
		cfg:        cfg,
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + chatCompletionsPath,
		httpClient: http.DefaultClient,
		out:        os.Stdout,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the URL requests are posted to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

type chatRequest struct {
	Model            string                         `json:"model"`
	Messages         []openai.ChatCompletionMessage `json:"messages"`
	MaxTokens        int                            `json:"max_tokens"`
	Temperature      float64                        `json:"temperature"`
	TopP             float64                        `json:"top_p"`
	FrequencyPenalty float64                        `json:"frequency_penalty"`
	Stream           bool                           `json:"stream"`
}

// Request sends messages, streams the response and returns it classified and
// timed. Transport errors and non-2xx responses are returned as is; there is
// no retry. Events that are not valid JSON are skipped.
func (c *Client) Request(ctx context.Context, messages []openai.ChatCompletionMessage) (*llm.Response, error) {
	start := time.Now()
	logger := c.logger.With().Str("request_id", uuid.NewString()).Logger()

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	resp, err := c.post(ctx, messages, logger)
	if err != nil {
		return nil, timeoutOr(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		logger.Debug().Int("status", resp.StatusCode).Msg("request rejected")
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var (
		raw               strings.Builder
		timeToFirstToken  *time.Duration
		timeToThinkingEnd *time.Duration
		echoFailed        bool
	)
	stream := llm.NewMessageStream(resp.Body, logger)
	splitter := llm.NewSplitter(c.out)
	for text := range stream.Iter() {
		raw.WriteString(text)
		if timeToFirstToken == nil {
			d := time.Since(start)
			timeToFirstToken = &d
		}
		if splitter.InAction() {
			continue
		}
		entered, err := splitter.Write(text)
		if err != nil && !echoFailed {
			// Echoing is best effort; the response is still built from raw.
			echoFailed = true
			logger.Warn().Err(err).Msg("failed to echo thinking")
		}
		if entered && timeToThinkingEnd == nil {
			d := time.Since(start)
			timeToThinkingEnd = &d
			logger.Debug().Dur("elapsed", d).Msg("thinking finished")
		}
	}
	if err := stream.Err(); err != nil {
		return nil, timeoutOr(ctx, err)
	}

	content := raw.String()
	thinking, action := llm.ParseResponse(content)
	r := &llm.Response{
		Thinking:          thinking,
		Action:            action,
		RawContent:        content,
		TimeToFirstToken:  timeToFirstToken,
		TimeToThinkingEnd: timeToThinkingEnd,
		TotalTime:         time.Since(start),
	}

	logger.Debug().
		Int("events", stream.Events()).
		Int("skipped", stream.Skipped()).
		Int("chars", len(content)).
		Dur("total", r.TotalTime).
		Msg("stream finished")

	if err := llm.WriteMetrics(c.out, c.cfg.Lang, r); err != nil {
		logger.Warn().Err(err).Msg("failed to write metrics")
	}
	return r, nil
}

func (c *Client) post(ctx context.Context, messages []openai.ChatCompletionMessage, logger zerolog.Logger) (*http.Response, error) {
	payload := chatRequest{
		Model:            c.cfg.ModelName,
		Messages:         messages,
		MaxTokens:        c.cfg.MaxTokens,
		Temperature:      c.cfg.Temperature,
		TopP:             c.cfg.TopP,
		FrequencyPenalty: c.cfg.FrequencyPenalty,
		Stream:           true,
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("error encoding JSON: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	logger.Debug().
		Str("url", c.endpoint).
		Str("model", c.cfg.ModelName).
		Int("messages", len(messages)).
		Msg("sending request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error making request: %w", err)
	}
	return resp, nil
}

// timeoutOr marks err as a timeout if the request deadline has passed. The
// transport does not always wrap the context error itself, so it is added.
func timeoutOr(ctx context.Context, err error) error {
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w: %w", ErrTimeout, context.DeadlineExceeded, err)
}
