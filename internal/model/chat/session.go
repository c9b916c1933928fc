package chat

import "time"

// Session captures a transient anonymous conversation.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	PresetID  string    `json:"presetId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Stats summarises a conversation transcript.
type Stats struct {
	TotalTurns             int        `json:"totalTurns"`
	UserTurns              int        `json:"userTurns"`
	AssistantTurns         int        `json:"assistantTurns"`
	FailedTurns            int        `json:"failedTurns"`
	UserCharacters         int        `json:"userCharacters"`
	AssistantCharacters    int        `json:"assistantCharacters"`
	AverageUserLength      int        `json:"averageUserLength"`
	AverageAssistantLength int        `json:"averageAssistantLength"`
	FirstTurnAt            *time.Time `json:"firstTurnAt,omitempty"`
	LastTurnAt             *time.Time `json:"lastTurnAt,omitempty"`
}
