package chat

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/yagpt-chat/backend/internal/model/chat"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fill(t *testing.T, c *Conversation, n int) []chat.Turn {
	t.Helper()
	turns := make([]chat.Turn, 0, n)
	for i := range n {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleAssistant
		}
		turn := chat.NewTurn(role, fmt.Sprintf("turn %d", i), base.Add(time.Duration(i)*time.Second))
		require.NoError(t, c.Append(turn))
		turns = append(turns, turn)
	}
	return turns
}

func TestAppendRejectsInvalidRole(t *testing.T) {
	c := NewConversation(0)
	err := c.Append(chat.Turn{Role: "tool", Text: "x"})
	assert.ErrorIs(t, err, ErrInvalidRole)
	assert.Zero(t, c.Len())
}

func TestRecentContextWindow(t *testing.T) {
	c := NewConversation(0)
	turns := fill(t, c, 15)

	assert.Equal(t, turns[10:], c.RecentContext(5))
	assert.Equal(t, turns[5:], c.RecentContext(0), "non-positive uses default of 10")
	assert.Equal(t, turns, c.RecentContext(100), "short history is returned whole")
}

func TestRecentContextShorterThanWindow(t *testing.T) {
	c := NewConversation(0)
	turns := fill(t, c, 3)

	got := c.RecentContext(10)
	assert.Equal(t, turns, got)

	got[0].Text = "mutated"
	assert.Equal(t, "turn 0", c.RecentContext(10)[0].Text)
}

func TestHistoryProjectsFailureMarker(t *testing.T) {
	c := NewConversation(0)
	turns := fill(t, c, 3)

	c.MarkFailed(turns[2].ID, "quota")
	c.MarkFailed("unknown", "server")

	history := c.History(0)
	require.Len(t, history, 3)
	assert.Empty(t, history[0].Error)
	assert.Equal(t, "quota", history[2].Error)
	assert.Empty(t, c.RecentContext(10)[2].Error, "context turns carry no marker")

	assert.Equal(t, 1, c.Stats().FailedTurns)
	assert.Len(t, c.History(2), 2)
}

func TestClearEmptiesEverything(t *testing.T) {
	c := NewConversation(0)
	turns := fill(t, c, 4)
	c.MarkFailed(turns[0].ID, "auth")

	c.Clear()

	assert.Empty(t, c.History(0))
	assert.Empty(t, c.RecentContext(10))
	assert.Zero(t, c.Stats().FailedTurns)
}

func TestHistoryLimitDropsOldest(t *testing.T) {
	c := NewConversation(4)
	turns := fill(t, c, 6)

	assert.Equal(t, turns[2:], c.History(0))
}

func TestSearchNewestFirst(t *testing.T) {
	c := NewConversation(0)
	require.NoError(t, c.Append(chat.NewTurn(chat.RoleUser, "Погода в Москве", base)))
	require.NoError(t, c.Append(chat.NewTurn(chat.RoleAssistant, "В москве солнечно", base.Add(time.Second))))
	require.NoError(t, c.Append(chat.NewTurn(chat.RoleUser, "спасибо", base.Add(2*time.Second))))

	results := c.Search("МОСКВ", 10)
	require.Len(t, results, 2)
	assert.Equal(t, "В москве солнечно", results[0].Text)

	assert.Len(t, c.Search("москв", 1), 1)
	assert.Nil(t, c.Search("  ", 10))
}

func TestStats(t *testing.T) {
	c := NewConversation(0)
	require.NoError(t, c.Append(chat.NewTurn(chat.RoleUser, "привет", base)))
	require.NoError(t, c.Append(chat.NewTurn(chat.RoleAssistant, "hello!!", base.Add(time.Minute))))

	stats := c.Stats()
	assert.Equal(t, 2, stats.TotalTurns)
	assert.Equal(t, 6, stats.UserCharacters)
	assert.Equal(t, 7, stats.AverageAssistantLength)
	require.NotNil(t, stats.FirstTurnAt)
	assert.Equal(t, base, *stats.FirstTurnAt)
	assert.Equal(t, base.Add(time.Minute), *stats.LastTurnAt)

	assert.Nil(t, NewConversation(0).Stats().FirstTurnAt)
}

func TestConcurrentAppendKeepsEveryTurn(t *testing.T) {
	c := NewConversation(0)
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = c.Append(chat.NewTurn(chat.RoleUser, fmt.Sprint(i), base))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, c.Len())
}
