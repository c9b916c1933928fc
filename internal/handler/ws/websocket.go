package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/yagpt-chat/backend/internal/model/chat"
	"github.com/zhouzirui/yagpt-chat/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/yagpt-chat/backend/internal/service/chat"
	"github.com/zhouzirui/yagpt-chat/backend/internal/service/yandexgpt"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// Handler WebSocket聊天处理器。每条回复是完整的一轮，不做逐 token 推送。
type Handler struct {
	aiSvc    *ai.Service
	chatSvc  *chatservice.Service
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New 创建WebSocket处理器
func New(aiSvc *ai.Service, chatSvc *chatservice.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		aiSvc:   aiSvc,
		chatSvc: chatSvc,
		logger:  logger.With("component", "websocket"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MessagePayload 是 type=message 的数据。
type MessagePayload struct {
	Text        string   `json:"text"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"maxTokens,omitempty"`
}

// HistoryPayload 是 type=history 的数据。
type HistoryPayload struct {
	Limit int `json:"limit"`
}

// ReplyPayload 是 type=reply 的数据。
type ReplyPayload struct {
	Reply    chat.Turn          `json:"reply"`
	Settings yandexgpt.Settings `json:"settings"`
}

// ErrorPayload 是 type=error 的数据。
type ErrorPayload struct {
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	session, err := h.chatSvc.EnsureSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	h.logger.Info("connection opened", "session", session.ID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	go h.pingLoop(ctx, conn)

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("read error", "session", session.ID, "error", err)
			}
			h.logger.Info("connection closed", "session", session.ID)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		h.handleMessage(ctx, conn, session.ID, &msg)
	}
}

func (h *Handler) handleMessage(ctx context.Context, conn *websocket.Conn, sessionID string, msg *inboundMessage) {
	switch msg.Type {
	case "message":
		h.handleChatMessage(ctx, conn, sessionID, msg.Data)
	case "history":
		h.handleHistory(ctx, conn, sessionID, msg.Data)
	case "clear":
		if err := h.aiSvc.ClearHistory(ctx, sessionID); err != nil {
			h.send(conn, sessionID, "error", ErrorPayload{Message: err.Error()})
			return
		}
		h.send(conn, sessionID, "cleared", nil)
	default:
		h.send(conn, sessionID, "error", ErrorPayload{Message: "unsupported message type: " + msg.Type})
	}
}

func (h *Handler) handleChatMessage(ctx context.Context, conn *websocket.Conn, sessionID string, raw json.RawMessage) {
	var payload MessagePayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			h.send(conn, sessionID, "error", ErrorPayload{Message: "invalid message payload"})
			return
		}
	}

	opts := yandexgpt.Options{Temperature: payload.Temperature, MaxTokens: payload.MaxTokens}
	reply, err := h.aiSvc.SubmitMessage(ctx, sessionID, payload.Text, opts)
	if err != nil {
		var chatErr *ai.ChatError
		if errors.As(err, &chatErr) {
			h.send(conn, sessionID, "error", ErrorPayload{Message: chatErr.Reason.Message(), Reason: string(chatErr.Reason)})
			return
		}
		h.send(conn, sessionID, "error", ErrorPayload{Message: err.Error()})
		return
	}

	h.send(conn, sessionID, "reply", ReplyPayload{Reply: reply, Settings: h.aiSvc.Settings(opts)})
}

func (h *Handler) handleHistory(ctx context.Context, conn *websocket.Conn, sessionID string, raw json.RawMessage) {
	var payload HistoryPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			h.send(conn, sessionID, "error", ErrorPayload{Message: "invalid history payload"})
			return
		}
	}

	turns, err := h.aiSvc.GetHistory(ctx, sessionID, payload.Limit)
	if err != nil {
		h.send(conn, sessionID, "error", ErrorPayload{Message: err.Error()})
		return
	}
	if turns == nil {
		turns = []chat.Turn{}
	}
	h.send(conn, sessionID, "history", turns)
}

func (h *Handler) send(conn *websocket.Conn, sessionID, kind string, data any) {
	msg := outgoingMessage{
		Type:      kind,
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Warn("write failed", "session", sessionID, "type", kind, "error", err)
	}
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
