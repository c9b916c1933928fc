package ai

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/zhouzirui/yagpt-chat/backend/internal/chatlog"
	"github.com/zhouzirui/yagpt-chat/backend/internal/clock"
	"github.com/zhouzirui/yagpt-chat/backend/internal/metrics"
	"github.com/zhouzirui/yagpt-chat/backend/internal/model/chat"
	"github.com/zhouzirui/yagpt-chat/backend/internal/model/preset"
	"github.com/zhouzirui/yagpt-chat/backend/internal/service/auth"
	chatservice "github.com/zhouzirui/yagpt-chat/backend/internal/service/chat"
	"github.com/zhouzirui/yagpt-chat/backend/internal/service/yandexgpt"
)

// Completer turns a context window into an assistant turn. *yandexgpt.Client is the
// production implementation.
type Completer interface {
	Complete(ctx context.Context, turns []chat.Turn, opts yandexgpt.Options) (chat.Turn, error)
}

// TokenInvalidator drops a cached credential that the API refused. *auth.TokenCache
// keeps a token refreshed after stale was handed out.
type TokenInvalidator interface {
	Invalidate(stale auth.Token)
}

// Config tunes the orchestrator.
type Config struct {
	// ContextTurns bounds the history window sent with each completion.
	ContextTurns int
	// Defaults are the generation settings applied when a request leaves them unset.
	Defaults yandexgpt.Settings
}

// Dependencies are the collaborators of Service. Recorder, Metrics, Clock and Logger
// are optional.
type Dependencies struct {
	Chats     *chatservice.Service
	Presets   preset.Store
	Completer Completer
	Tokens    TokenInvalidator
	Recorder  chatlog.Recorder
	Metrics   metrics.MetricsCollector
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Service relays user messages to the model while keeping the session transcript.
type Service struct {
	deps Dependencies
	cfg  Config
}

// NewService wires the orchestrator.
func NewService(deps Dependencies, cfg Config) *Service {
	if deps.Recorder == nil {
		deps.Recorder = chatlog.Nop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Presets == nil {
		deps.Presets = preset.NewMemoryStore(nil)
	}
	if cfg.ContextTurns <= 0 {
		cfg.ContextTurns = chatservice.DefaultContextTurns
	}
	if cfg.Defaults == (yandexgpt.Settings{}) {
		cfg.Defaults = yandexgpt.Settings{Temperature: yandexgpt.DefaultTemperature, MaxTokens: yandexgpt.DefaultMaxTokens}
	}
	return &Service{deps: deps, cfg: cfg}
}

// Settings resolves the generation settings a request with opts will use.
func (s *Service) Settings(opts yandexgpt.Options) yandexgpt.Settings {
	return opts.Resolve(s.cfg.Defaults)
}

// SubmitMessage appends the user turn, asks the model for a reply over the recent
// context and appends the reply. A failed reply leaves the user turn in place with
// a failure marker. Every call, including rejected input, writes one chat log entry.
func (s *Service) SubmitMessage(ctx context.Context, sessionID, text string, opts yandexgpt.Options) (chat.Turn, error) {
	text = strings.TrimSpace(text)
	settings := s.Settings(opts)

	entry := chatlog.Entry{
		Time:        s.deps.Clock.Now(),
		SessionID:   sessionID,
		Input:       text,
		Temperature: settings.Temperature,
		MaxTokens:   settings.MaxTokens,
	}

	reply, attempts, err := s.exchange(ctx, sessionID, text, opts)

	entry.Attempts = attempts
	outcome := "ok"
	if err != nil {
		outcome = string(ReasonOf(err))
		entry.Reason = outcome
		s.deps.Logger.Warn("chat message failed", "session", sessionID, "reason", outcome, "attempts", attempts, "error", err)
	} else {
		entry.Reply = reply.Text
		s.deps.Logger.Info("chat message answered", "session", sessionID, "attempts", attempts, "replyLength", len(reply.Text))
	}

	if logErr := s.deps.Recorder.Record(context.WithoutCancel(ctx), entry); logErr != nil {
		s.deps.Logger.Error("failed to write chat log", "error", logErr)
	}
	s.deps.Metrics.RecordChatRequest(outcome)

	return reply, err
}

func (s *Service) exchange(ctx context.Context, sessionID, text string, opts yandexgpt.Options) (chat.Turn, int, error) {
	if text == "" {
		return chat.Turn{}, 0, &ChatError{Reason: ReasonEmptyInput, Err: errEmptyInput}
	}

	session, err := s.deps.Chats.EnsureSession(ctx, sessionID)
	if err != nil {
		return chat.Turn{}, 0, &ChatError{Reason: ReasonBadRequest, Err: err}
	}

	release, err := s.deps.Chats.LockExchange(ctx, session.ID)
	if err != nil {
		return chat.Turn{}, 0, lockError(err)
	}
	defer release()

	conv, err := s.deps.Chats.Conversation(ctx, session.ID)
	if err != nil {
		return chat.Turn{}, 0, &ChatError{Reason: ReasonBadRequest, Err: err}
	}

	userTurn := chat.NewTurn(chat.RoleUser, text, s.deps.Clock.Now())
	if err := conv.Append(userTurn); err != nil {
		return chat.Turn{}, 0, &ChatError{Reason: ReasonBadRequest, Err: err}
	}

	window := s.buildContext(session, conv)

	reply, attempts, err := s.complete(ctx, window, opts)
	if err != nil {
		reason := Reason(yandexgpt.ReasonOf(err))
		conv.MarkFailed(userTurn.ID, string(reason))
		return chat.Turn{}, attempts, &ChatError{Reason: reason, Err: err}
	}

	if err := conv.Append(reply); err != nil {
		conv.MarkFailed(userTurn.ID, string(ReasonServer))
		return chat.Turn{}, attempts, &ChatError{Reason: ReasonServer, Err: err}
	}
	return reply, attempts, nil
}

// complete calls the model, invalidating the token and retrying once when the API
// reports an auth failure.
func (s *Service) complete(ctx context.Context, window []chat.Turn, opts yandexgpt.Options) (chat.Turn, int, error) {
	reply, err := s.deps.Completer.Complete(ctx, window, opts)
	if err == nil || yandexgpt.ReasonOf(err) != yandexgpt.ReasonAuth {
		return reply, 1, err
	}

	s.deps.Logger.Info("completion refused credentials, refreshing token", "error", err)
	if s.deps.Tokens != nil {
		s.deps.Tokens.Invalidate(yandexgpt.RejectedToken(err))
	}
	s.deps.Metrics.RecordAuthRetry()

	reply, err = s.deps.Completer.Complete(ctx, window, opts)
	return reply, 2, err
}

// buildContext prepends the session preset's system prompt to the recent window.
func (s *Service) buildContext(session chat.Session, conv *chatservice.Conversation) []chat.Turn {
	recent := conv.RecentContext(s.cfg.ContextTurns)

	p, ok := s.deps.Presets.FindByID(session.PresetID)
	if !ok || strings.TrimSpace(p.SystemPrompt) == "" {
		return recent
	}

	window := make([]chat.Turn, 0, len(recent)+1)
	window = append(window, chat.Turn{Role: chat.RoleSystem, Text: p.SystemPrompt, Timestamp: session.CreatedAt})
	return append(window, recent...)
}

// GetHistory returns up to limit recent turns; failed user turns carry their error.
func (s *Service) GetHistory(ctx context.Context, sessionID string, limit int) ([]chat.Turn, error) {
	return s.deps.Chats.LoadTranscript(ctx, sessionID, limit)
}

// ClearHistory empties the session transcript after any in-flight exchange on it.
// A wait cut short by ctx is reported as a ChatError; lookup failures pass through.
func (s *Service) ClearHistory(ctx context.Context, sessionID string) error {
	if err := s.deps.Chats.ClearTranscript(ctx, sessionID); err != nil {
		if isContextErr(err) {
			return lockError(err)
		}
		return err
	}
	s.deps.Logger.Info("chat history cleared", "session", sessionID)
	return nil
}

// Stats summarises the session transcript.
func (s *Service) Stats(ctx context.Context, sessionID string) (chat.Stats, error) {
	conv, err := s.deps.Chats.Conversation(ctx, sessionID)
	if err != nil {
		return chat.Stats{}, err
	}
	return conv.Stats(), nil
}

// Search finds turns containing query, newest first.
func (s *Service) Search(ctx context.Context, sessionID, query string, limit int) ([]chat.Turn, error) {
	conv, err := s.deps.Chats.Conversation(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return conv.Search(query, limit), nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func lockError(err error) error {
	if isContextErr(err) {
		return &ChatError{Reason: ReasonNetwork, Err: err}
	}
	return &ChatError{Reason: ReasonBadRequest, Err: err}
}
