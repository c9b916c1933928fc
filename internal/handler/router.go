package handler

import (
	"log/slog"
	"net/http"

	"github.com/cloudwego/eino/components/model"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zhouzirui/yagpt-chat/backend/internal/handler/chat"
	"github.com/zhouzirui/yagpt-chat/backend/internal/handler/preset"
	"github.com/zhouzirui/yagpt-chat/backend/internal/handler/proxy"
	"github.com/zhouzirui/yagpt-chat/backend/internal/handler/ws"
	"github.com/zhouzirui/yagpt-chat/backend/internal/metrics"
	middlewarePkg "github.com/zhouzirui/yagpt-chat/backend/internal/middleware"
	presetModel "github.com/zhouzirui/yagpt-chat/backend/internal/model/preset"
	aiService "github.com/zhouzirui/yagpt-chat/backend/internal/service/ai"
	chatService "github.com/zhouzirui/yagpt-chat/backend/internal/service/chat"
	"github.com/zhouzirui/yagpt-chat/backend/pkg/utils"
)

// Dependencies are the services the router exposes. ChatModel and Gatherer are
// optional: a nil ChatModel disables the /v1 proxy, a nil Gatherer disables /metrics.
type Dependencies struct {
	Presets   presetModel.Store
	ChatSvc   *chatService.Service
	AISvc     *aiService.Service
	ChatModel model.BaseChatModel
	Gatherer  prometheus.Gatherer
	Logger    *slog.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.NewLoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	presetHandler := preset.New(deps.Presets)
	chatHandler := chat.New(deps.ChatSvc, deps.AISvc, deps.Presets)
	wsHandler := ws.New(deps.AISvc, deps.ChatSvc, logger)

	r.Route("/api", func(api chi.Router) {
		presetHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)
	})

	if deps.ChatModel != nil {
		proxyHandler := proxy.New(deps.ChatModel, logger)
		r.Route("/v1", proxyHandler.RegisterRoutes)
	}

	return r
}
