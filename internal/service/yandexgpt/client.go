// Package yandexgpt calls the YandexGPT Foundation Models completion API.
package yandexgpt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/zhouzirui/yagpt-chat/backend/internal/clock"
	"github.com/zhouzirui/yagpt-chat/backend/internal/metrics"
	"github.com/zhouzirui/yagpt-chat/backend/internal/model/chat"
	"github.com/zhouzirui/yagpt-chat/backend/internal/service/auth"
)

// DefaultBaseURL is the Foundation Models v1 API root.
const DefaultBaseURL = "https://llm.api.cloud.yandex.net/foundationModels/v1"

const maxErrorBody = 4 << 10

var errNoAlternatives = errors.New("response contains no alternatives")

// TokenSource yields a valid IAM token. *auth.TokenCache is the production implementation.
type TokenSource interface {
	Token(ctx context.Context) (auth.Token, error)
}

// Client maps conversation turns onto completion requests.
type Client struct {
	tokens     TokenSource
	folderID   string
	baseURL    string
	modelURI   string
	defaults   Settings
	httpClient *http.Client
	clock      clock.Clock
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides DefaultBaseURL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithModelURI sets the default model, e.g. gpt://<folder>/yandexgpt/latest.
func WithModelURI(uri string) Option {
	return func(c *Client) { c.modelURI = uri }
}

// WithDefaults sets the generation settings used when a request leaves them unset.
func WithDefaults(s Settings) Option {
	return func(c *Client) { c.defaults = s }
}

// WithHTTPClient sets the client used for completion calls. Its Timeout bounds each call.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

// WithClock injects the time source used to stamp assistant turns.
func WithClock(cl clock.Clock) Option {
	return func(c *Client) { c.clock = cl }
}

// WithMetrics records attempt outcomes and latency.
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a Client billed to folderID.
func New(tokens TokenSource, folderID string, opts ...Option) *Client {
	c := &Client{
		tokens:     tokens,
		folderID:   folderID,
		baseURL:    DefaultBaseURL,
		defaults:   Settings{Temperature: DefaultTemperature, MaxTokens: DefaultMaxTokens},
		httpClient: &http.Client{Timeout: 60 * time.Second},
		clock:      clock.Real(),
		metrics:    metrics.Nop{},
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Defaults returns the settings applied when a request leaves them unset.
func (c *Client) Defaults() Settings {
	return c.defaults
}

// ModelURI resolves the model for opts.
func (c *Client) ModelURI(opts Options) string {
	if opts.ModelURI != "" {
		return opts.ModelURI
	}
	if c.modelURI != "" {
		return c.modelURI
	}
	return fmt.Sprintf("gpt://%s/yandexgpt-lite/latest", c.folderID)
}

type message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type completionOptions struct {
	Stream      bool    `json:"stream"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
}

type completionRequest struct {
	ModelURI          string            `json:"modelUri"`
	CompletionOptions completionOptions `json:"completionOptions"`
	Messages          []message         `json:"messages"`
}

type completionResponse struct {
	Result struct {
		Alternatives []struct {
			Message message `json:"message"`
			Status  string  `json:"status"`
		} `json:"alternatives"`
		Usage struct {
			InputTextTokens  string `json:"inputTextTokens"`
			CompletionTokens string `json:"completionTokens"`
			TotalTokens      string `json:"totalTokens"`
		} `json:"usage"`
		ModelVersion string `json:"modelVersion"`
	} `json:"result"`
}

// Complete sends turns in order and returns the first alternative as an assistant turn.
func (c *Client) Complete(ctx context.Context, turns []chat.Turn, opts Options) (chat.Turn, error) {
	started := time.Now()
	reply, err := c.complete(ctx, turns, opts)

	outcome := "ok"
	if err != nil {
		outcome = string(ReasonOf(err))
	}
	c.metrics.RecordCompletion(outcome, time.Since(started))
	return reply, err
}

func (c *Client) complete(ctx context.Context, turns []chat.Turn, opts Options) (chat.Turn, error) {
	if len(turns) == 0 {
		return chat.Turn{}, &CompletionError{Reason: ReasonBadRequest, Err: errors.New("no messages to send")}
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return chat.Turn{}, tokenError(err)
	}

	settings := opts.Resolve(c.defaults)
	payload := completionRequest{
		ModelURI: c.ModelURI(opts),
		CompletionOptions: completionOptions{
			Stream:      false,
			Temperature: settings.Temperature,
			MaxTokens:   settings.MaxTokens,
		},
		Messages: make([]message, 0, len(turns)),
	}
	for _, t := range turns {
		payload.Messages = append(payload.Messages, message{Role: string(t.Role), Text: t.Text})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return chat.Turn{}, &CompletionError{Reason: ReasonBadRequest, Err: fmt.Errorf("encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/completion", bytes.NewReader(body))
	if err != nil {
		return chat.Turn{}, &CompletionError{Reason: ReasonBadRequest, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+token.Value)
	req.Header.Set("Content-Type", "application/json")
	if c.folderID != "" {
		req.Header.Set("x-folder-id", c.folderID)
	}

	c.logger.Debug("sending completion request", "model", payload.ModelURI, "messages", len(payload.Messages), "chars", len(body))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return chat.Turn{}, &CompletionError{Reason: ReasonNetwork, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		detail := strings.TrimSpace(string(raw))
		if detail == "" {
			detail = http.StatusText(resp.StatusCode)
		}
		c.logger.Error("completion api error", "status", resp.StatusCode, "body", detail)
		cerr := &CompletionError{Reason: reasonForStatus(resp.StatusCode), Status: resp.StatusCode, Err: errors.New(detail)}
		if cerr.Reason == ReasonAuth {
			cerr.token = token
		}
		return chat.Turn{}, cerr
	}

	var decoded completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return chat.Turn{}, &CompletionError{Reason: ReasonServer, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}

	alternatives := decoded.Result.Alternatives
	if len(alternatives) == 0 || strings.TrimSpace(alternatives[0].Message.Text) == "" {
		return chat.Turn{}, &CompletionError{Reason: ReasonEmptyResponse, Status: resp.StatusCode, Err: errNoAlternatives}
	}

	c.logger.Debug("completion succeeded",
		"modelVersion", decoded.Result.ModelVersion,
		"status", alternatives[0].Status,
		"totalTokens", decoded.Result.Usage.TotalTokens,
	)

	return chat.NewTurn(chat.RoleAssistant, alternatives[0].Message.Text, c.clock.Now()), nil
}

// tokenError keeps the AuthError reachable while classifying it for the orchestrator:
// transport failures stay network errors, anything else is treated as an auth failure.
func tokenError(err error) error {
	var authErr *auth.AuthError
	if errors.As(err, &authErr) && authErr.Reason == auth.ReasonNetwork {
		return &CompletionError{Reason: ReasonNetwork, Err: err}
	}
	return &CompletionError{Reason: ReasonAuth, Err: err}
}
