package chat

import (
	"strings"
	"sync"

	"github.com/zhouzirui/yagpt-chat/backend/internal/model/chat"
)

// DefaultContextTurns bounds the history sent with each completion.
const DefaultContextTurns = 10

// Conversation is the ordered transcript of one session. All methods are safe for
// concurrent use; callers that need append→read→append to be atomic hold the
// owning session's exchange lock.
type Conversation struct {
	mu       sync.RWMutex
	turns    []chat.Turn
	failures map[string]string
	limit    int
}

// NewConversation creates an empty conversation. limit caps the number of retained
// turns, dropping the oldest; zero means unbounded.
func NewConversation(limit int) *Conversation {
	return &Conversation{
		turns:    make([]chat.Turn, 0, 16),
		failures: make(map[string]string),
		limit:    limit,
	}
}

// Append adds turn to the end of the transcript.
func (c *Conversation) Append(turn chat.Turn) error {
	if !turn.Role.Valid() {
		return ErrInvalidRole
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.turns = append(c.turns, turn)
	if c.limit > 0 && len(c.turns) > c.limit {
		drop := len(c.turns) - c.limit
		for _, t := range c.turns[:drop] {
			delete(c.failures, t.ID)
		}
		c.turns = append([]chat.Turn(nil), c.turns[drop:]...)
	}
	return nil
}

// MarkFailed records that the reply to turnID could not be produced. The turn itself
// is unchanged; History projects the marker onto its copy.
func (c *Conversation) MarkFailed(turnID, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range c.turns {
		if t.ID == turnID {
			c.failures[turnID] = reason
			return
		}
	}
}

// RecentContext returns the last maxTurns turns in chronological order. A
// non-positive maxTurns uses DefaultContextTurns.
func (c *Conversation) RecentContext(maxTurns int) []chat.Turn {
	if maxTurns <= 0 {
		maxTurns = DefaultContextTurns
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	start := 0
	if len(c.turns) > maxTurns {
		start = len(c.turns) - maxTurns
	}

	window := make([]chat.Turn, len(c.turns)-start)
	copy(window, c.turns[start:])
	return window
}

// History returns up to limit of the most recent turns with failure markers applied.
// A non-positive limit returns everything.
func (c *Conversation) History(limit int) []chat.Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()

	start := 0
	if limit > 0 && len(c.turns) > limit {
		start = len(c.turns) - limit
	}

	out := make([]chat.Turn, 0, len(c.turns)-start)
	for _, t := range c.turns[start:] {
		if reason, ok := c.failures[t.ID]; ok {
			t.Error = reason
		}
		out = append(out, t)
	}
	return out
}

// Len returns the number of stored turns.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns)
}

// Clear empties the transcript. There is no undo.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = make([]chat.Turn, 0, 16)
	c.failures = make(map[string]string)
}

// Search returns up to limit turns whose text contains query, newest first.
func (c *Conversation) Search(query string, limit int) []chat.Turn {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var results []chat.Turn
	for i := len(c.turns) - 1; i >= 0; i-- {
		t := c.turns[i]
		if t.Role == chat.RoleSystem || !strings.Contains(strings.ToLower(t.Text), needle) {
			continue
		}
		if reason, ok := c.failures[t.ID]; ok {
			t.Error = reason
		}
		results = append(results, t)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results
}

// Stats summarises the transcript.
func (c *Conversation) Stats() chat.Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var stats chat.Stats
	stats.TotalTurns = len(c.turns)
	stats.FailedTurns = len(c.failures)

	for _, t := range c.turns {
		switch t.Role {
		case chat.RoleUser:
			stats.UserTurns++
			stats.UserCharacters += len([]rune(t.Text))
		case chat.RoleAssistant:
			stats.AssistantTurns++
			stats.AssistantCharacters += len([]rune(t.Text))
		}
	}
	if stats.UserTurns > 0 {
		stats.AverageUserLength = stats.UserCharacters / stats.UserTurns
	}
	if stats.AssistantTurns > 0 {
		stats.AverageAssistantLength = stats.AssistantCharacters / stats.AssistantTurns
	}
	if len(c.turns) > 0 {
		first := c.turns[0].Timestamp
		last := c.turns[len(c.turns)-1].Timestamp
		stats.FirstTurnAt = &first
		stats.LastTurnAt = &last
	}
	return stats
}
