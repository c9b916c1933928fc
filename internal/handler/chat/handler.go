package chat

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/yagpt-chat/backend/internal/model/chat"
	"github.com/zhouzirui/yagpt-chat/backend/internal/model/preset"
	aiService "github.com/zhouzirui/yagpt-chat/backend/internal/service/ai"
	chatService "github.com/zhouzirui/yagpt-chat/backend/internal/service/chat"
	"github.com/zhouzirui/yagpt-chat/backend/internal/service/yandexgpt"
	"github.com/zhouzirui/yagpt-chat/backend/pkg/utils"
)

const defaultSearchLimit = 20

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
	aiSvc   *aiService.Service
	presets preset.Store
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, aiSvc *aiService.Service, presets preset.Store) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		aiSvc:   aiSvc,
		presets: presets,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.handleCreateSession)
		r.Get("/", h.handleListSessions)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Put("/", h.handleRenameSession)
			r.Delete("/", h.handleDeleteSession)
			r.Post("/messages", h.handleSubmitMessage)
			r.Get("/history", h.handleGetHistory)
			r.Delete("/history", h.handleClearHistory)
			r.Get("/stats", h.handleStats)
			r.Get("/search", h.handleSearch)
		})
	})
}

// MessageRequest 是提交消息的请求体。
type MessageRequest struct {
	Message     string   `json:"message"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"maxTokens,omitempty"`
}

// MessageResponse 返回助手回复和实际使用的生成参数。
type MessageResponse struct {
	Reply    chat.Turn          `json:"reply"`
	Settings yandexgpt.Settings `json:"settings"`
}

// StatusForReason 将聊天失败原因映射为 HTTP 状态码。
func StatusForReason(reason aiService.Reason) int {
	switch reason {
	case aiService.ReasonEmptyInput, aiService.ReasonBadRequest:
		return http.StatusBadRequest
	case aiService.ReasonQuota:
		return http.StatusTooManyRequests
	case aiService.ReasonNetwork:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PresetID string `json:"presetId"`
		Title    string `json:"title"`
	}

	if err := utils.DecodeJSON(r, &payload); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	presetID := strings.TrimSpace(payload.PresetID)
	if presetID == "" {
		presetID = preset.DefaultID
	}
	if _, ok := h.presets.FindByID(presetID); !ok {
		utils.RespondError(w, http.StatusBadRequest, "preset not found")
		return
	}

	session, err := h.chatSvc.CreateSession(r.Context(), presetID, payload.Title)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.chatSvc.ListSessions(r.Context()))
}

func (h *Handler) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title string `json:"title"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.chatSvc.RenameSession(r.Context(), chi.URLParam(r, "sessionID"), payload.Title)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.chatSvc.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSubmitMessage 将用户消息转发给 YandexGPT 并返回回复。
func (h *Handler) handleSubmitMessage(w http.ResponseWriter, r *http.Request) {
	var payload MessageRequest
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	opts := yandexgpt.Options{Temperature: payload.Temperature, MaxTokens: payload.MaxTokens}
	reply, err := h.aiSvc.SubmitMessage(r.Context(), chi.URLParam(r, "sessionID"), payload.Message, opts)
	if err != nil {
		var chatErr *aiService.ChatError
		if errors.As(err, &chatErr) {
			utils.RespondReason(w, StatusForReason(chatErr.Reason), chatErr.Reason.Message(), string(chatErr.Reason))
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, MessageResponse{Reply: reply, Settings: h.aiSvc.Settings(opts)})
}

func (h *Handler) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, 0)
	if !ok {
		return
	}

	turns, err := h.aiSvc.GetHistory(r.Context(), chi.URLParam(r, "sessionID"), limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if turns == nil {
		turns = []chat.Turn{}
	}
	utils.RespondJSON(w, http.StatusOK, turns)
}

func (h *Handler) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.aiSvc.ClearHistory(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.aiSvc.Stats(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		utils.RespondError(w, http.StatusBadRequest, "q query parameter is required")
		return
	}
	limit, ok := parseLimit(w, r, defaultSearchLimit)
	if !ok {
		return
	}

	turns, err := h.aiSvc.Search(r.Context(), chi.URLParam(r, "sessionID"), query, limit)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if turns == nil {
		turns = []chat.Turn{}
	}
	utils.RespondJSON(w, http.StatusOK, turns)
}

func parseLimit(w http.ResponseWriter, r *http.Request, fallback int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return fallback, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		utils.RespondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return limit, true
}

func respondServiceError(w http.ResponseWriter, err error) {
	var chatErr *aiService.ChatError
	switch {
	case errors.As(err, &chatErr):
		utils.RespondReason(w, StatusForReason(chatErr.Reason), chatErr.Reason.Message(), string(chatErr.Reason))
	case errors.Is(err, chatService.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chatService.ErrSessionRequired), errors.Is(err, chatService.ErrTitleRequired):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
	}
}
