// Package proxy exposes an OpenAI-compatible surface over YandexGPT so that existing
// OpenAI clients and evaluation tools can talk to the relay unchanged.
package proxy

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	chathandler "github.com/zhouzirui/yagpt-chat/backend/internal/handler/chat"
	"github.com/zhouzirui/yagpt-chat/backend/internal/service/ai"
	"github.com/zhouzirui/yagpt-chat/backend/internal/service/yandexgpt"
	"github.com/zhouzirui/yagpt-chat/backend/pkg/utils"
)

// DefaultModelID is reported by /v1/models and echoed when a request names no model.
const DefaultModelID = "yandex-gpt"

// Handler OpenAI 兼容代理
type Handler struct {
	chatModel model.BaseChatModel
	logger    *slog.Logger
	now       func() time.Time
}

// New 创建代理处理器
func New(chatModel model.BaseChatModel, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		chatModel: chatModel,
		logger:    logger.With("component", "proxy"),
		now:       time.Now,
	}
}

// RegisterRoutes 注册 /v1 路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/models", h.handleModels)
	r.Post("/chat/completions", h.handleChatCompletions)
	r.Post("/completions", h.handleCompletions)
}

// Content accepts both the plain string form and the list-of-parts form.
type Content string

func (c *Content) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*c = Content(text)
		return nil
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return errors.New("content must be a string or a list of parts")
	}
	var b strings.Builder
	for _, raw := range parts {
		var part struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(raw, &part); err == nil {
			b.WriteString(part.Text)
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			b.WriteString(s)
		}
	}
	*c = Content(b.String())
	return nil
}

// Prompt accepts a string or a list of strings joined by newlines.
type Prompt string

func (p *Prompt) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*p = Prompt(text)
		return nil
	}
	var lines []string
	if err := json.Unmarshal(data, &lines); err != nil {
		return errors.New("prompt must be a string or a list of strings")
	}
	*p = Prompt(strings.Join(lines, "\n"))
	return nil
}

type chatMessage struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float32      `json:"temperature"`
	MaxTokens   *int          `json:"max_tokens"`
}

type completionRequest struct {
	Model       string   `json:"model"`
	Prompt      Prompt   `json:"prompt"`
	Temperature *float32 `json:"temperature"`
	MaxTokens   *int     `json:"max_tokens"`
}

type choiceMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatChoice struct {
	Index        int           `json:"index"`
	Message      choiceMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type textChoice struct {
	Index        int    `json:"index"`
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason"`
	Logprobs     any    `json:"logprobs"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type completionResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices any    `json:"choices"`
	Usage   usage  `json:"usage"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (h *Handler) handleModels(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data": []map[string]any{
			{"id": DefaultModelID, "object": "model", "owned_by": "yandex"},
		},
	})
}

func (h *Handler) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatCompletionRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		respondAPIError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "invalid_request_error")
		return
	}
	if len(req.Messages) == 0 {
		respondAPIError(w, http.StatusBadRequest, "messages must not be empty", "invalid_request_error")
		return
	}

	input := make([]*schema.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		input = append(input, &schema.Message{Role: schema.RoleType(m.Role), Content: string(m.Content)})
	}

	reply, ok := h.generate(w, r, input, req.Model, req.Temperature, req.MaxTokens)
	if !ok {
		return
	}

	utils.RespondJSON(w, http.StatusOK, completionResponse{
		ID:      "chatcmpl-" + shortID(),
		Object:  "chat.completion",
		Created: h.now().Unix(),
		Model:   modelName(req.Model),
		Choices: []chatChoice{{
			Message:      choiceMessage{Role: "assistant", Content: reply.Content},
			FinishReason: "stop",
		}},
	})
}

func (h *Handler) handleCompletions(w http.ResponseWriter, r *http.Request) {
	var req completionRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		respondAPIError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "invalid_request_error")
		return
	}

	input := []*schema.Message{schema.UserMessage(string(req.Prompt))}
	reply, ok := h.generate(w, r, input, req.Model, req.Temperature, req.MaxTokens)
	if !ok {
		return
	}

	utils.RespondJSON(w, http.StatusOK, completionResponse{
		ID:      "cmpl-" + shortID(),
		Object:  "text_completion",
		Created: h.now().Unix(),
		Model:   modelName(req.Model),
		Choices: []textChoice{{Text: reply.Content, FinishReason: "stop"}},
	})
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request, input []*schema.Message, modelID string, temperature *float32, maxTokens *int) (*schema.Message, bool) {
	var opts []model.Option
	if temperature != nil {
		opts = append(opts, model.WithTemperature(*temperature))
	}
	if maxTokens != nil {
		opts = append(opts, model.WithMaxTokens(*maxTokens))
	}
	// Only full model URIs are forwarded; aliases such as "gpt-4" fall back to the
	// configured model.
	if strings.HasPrefix(modelID, "gpt://") {
		opts = append(opts, model.WithModel(modelID))
	}

	reply, err := h.chatModel.Generate(r.Context(), input, opts...)
	if err != nil {
		reason := yandexgpt.ReasonOf(err)
		h.logger.Warn("proxy completion failed", "path", r.URL.Path, "reason", reason, "error", err)
		respondAPIError(w, chathandler.StatusForReason(ai.Reason(reason)), ai.Reason(reason).Message(), string(reason))
		return nil, false
	}
	return reply, true
}

func respondAPIError(w http.ResponseWriter, status int, message, kind string) {
	var body apiError
	body.Error.Message = message
	body.Error.Type = kind
	utils.RespondJSON(w, status, body)
}

func modelName(requested string) string {
	if requested == "" {
		return DefaultModelID
	}
	return requested
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}
