package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/zhouzirui/yagpt-chat/backend/internal/clock"
	"github.com/zhouzirui/yagpt-chat/backend/internal/model/chat"
)

var (
	ErrSessionRequired = errors.New("session id is required")
	ErrSessionNotFound = errors.New("session not found")
	ErrTitleRequired   = errors.New("title is required")
	ErrInvalidRole     = errors.New("invalid turn role")
)

// DefaultHistoryLimit caps the turns kept per session.
const DefaultHistoryLimit = 100

type sessionState struct {
	session      chat.Session
	conversation *Conversation
	// exchange admits one append→complete→append cycle at a time.
	exchange chan struct{}
}

// Service owns every session's conversation, keyed by session ID.
type Service struct {
	mu           sync.RWMutex
	sessions     map[string]*sessionState
	historyLimit int
	clock        clock.Clock
}

// Option configures a Service.
type Option func(*Service)

// WithHistoryLimit caps retained turns per session; zero means unbounded.
func WithHistoryLimit(limit int) Option {
	return func(s *Service) { s.historyLimit = limit }
}

// WithClock injects the time source for session timestamps.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// NewService bootstraps the in-memory chat service.
func NewService(opts ...Option) *Service {
	s := &Service{
		sessions:     make(map[string]*sessionState),
		historyLimit: DefaultHistoryLimit,
		clock:        clock.Real(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CreateSession provisions a session bound to presetID. An empty title gets a
// timestamped default.
func (s *Service) CreateSession(_ context.Context, presetID, title string) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(uuid.NewString(), presetID, title).session, nil
}

// EnsureSession returns the session with id, creating it on first use.
func (s *Service) EnsureSession(_ context.Context, sessionID string) (chat.Session, error) {
	if sessionID == "" {
		return chat.Session{}, ErrSessionRequired
	}

	s.mu.RLock()
	state, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		return state.session, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.sessions[sessionID]; ok {
		return state.session, nil
	}
	return s.createLocked(sessionID, "", "").session, nil
}

func (s *Service) createLocked(id, presetID, title string) *sessionState {
	now := s.clock.Now()
	title = strings.TrimSpace(title)
	if title == "" {
		title = fmt.Sprintf("Чат от %s", now.Format("2006-01-02 15:04"))
	}

	state := &sessionState{
		session: chat.Session{
			ID:        id,
			Title:     title,
			PresetID:  presetID,
			CreatedAt: now,
		},
		conversation: NewConversation(s.historyLimit),
		exchange:     make(chan struct{}, 1),
	}
	s.sessions[id] = state
	return state
}

// GetSession retrieves a session by identifier.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	state, err := s.lookup(sessionID)
	if err != nil {
		return chat.Session{}, err
	}
	return state.session, nil
}

// ListSessions returns all sessions, oldest first.
func (s *Service) ListSessions(_ context.Context) []chat.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]chat.Session, 0, len(s.sessions))
	for _, state := range s.sessions {
		sessions = append(sessions, state.session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions
}

// RenameSession changes a session title.
func (s *Service) RenameSession(_ context.Context, sessionID, title string) (chat.Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return chat.Session{}, ErrTitleRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	state.session.Title = title
	return state.session, nil
}

// DeleteSession drops a session and its transcript. It waits for an exchange in
// progress on the session to finish first.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	release, err := s.LockExchange(ctx, sessionID)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	return nil
}

// Conversation returns the transcript owned by sessionID.
func (s *Service) Conversation(_ context.Context, sessionID string) (*Conversation, error) {
	state, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return state.conversation, nil
}

// LockExchange serialises message handling for one session. The returned func
// releases the lock. It fails if ctx ends while waiting.
func (s *Service) LockExchange(ctx context.Context, sessionID string) (func(), error) {
	state, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	select {
	case state.exchange <- struct{}{}:
		return func() { <-state.exchange }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SaveMessage appends a turn to the session history.
func (s *Service) SaveMessage(ctx context.Context, sessionID string, turn chat.Turn) error {
	conv, err := s.Conversation(ctx, sessionID)
	if err != nil {
		return err
	}
	return conv.Append(turn)
}

// LoadTranscript returns stored turns for the provided session; limit <= 0 returns all.
func (s *Service) LoadTranscript(ctx context.Context, sessionID string, limit int) ([]chat.Turn, error) {
	conv, err := s.Conversation(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return conv.History(limit), nil
}

// ClearTranscript empties the session history once no exchange holds the session,
// so a user turn and its reply are never split by a clear.
func (s *Service) ClearTranscript(ctx context.Context, sessionID string) error {
	release, err := s.LockExchange(ctx, sessionID)
	if err != nil {
		return err
	}
	defer release()

	conv, err := s.Conversation(ctx, sessionID)
	if err != nil {
		return err
	}
	conv.Clear()
	return nil
}

func (s *Service) lookup(sessionID string) (*sessionState, error) {
	if sessionID == "" {
		return nil, ErrSessionRequired
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return state, nil
}
