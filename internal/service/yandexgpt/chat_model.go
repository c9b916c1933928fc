package yandexgpt

import (
	"context"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/yagpt-chat/backend/internal/model/chat"
)

var _ model.BaseChatModel = (*ChatModel)(nil)

// ChatModel exposes Client through eino's chat model interface so that callers
// speaking schema.Message (the OpenAI-compatible proxy) can reach YandexGPT.
type ChatModel struct {
	client *Client
}

// NewChatModel wraps client.
func NewChatModel(client *Client) *ChatModel {
	return &ChatModel{client: client}
}

// Generate runs one completion over input.
func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	common := model.GetCommonOptions(&model.Options{}, opts...)

	var options Options
	if common.Temperature != nil {
		v := float64(*common.Temperature)
		options.Temperature = &v
	}
	if common.MaxTokens != nil {
		v := *common.MaxTokens
		options.MaxTokens = &v
	}
	if common.Model != nil {
		options.ModelURI = *common.Model
	}

	reply, err := m.client.Complete(ctx, TurnsFromMessages(input), options)
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(reply.Text, nil), nil
}

// Stream returns the whole reply as a single chunk; the completion API is called
// with stream=false.
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// TurnsFromMessages converts eino messages to turns. Tool and unknown roles are sent
// as user text, which is what the completion API accepts.
func TurnsFromMessages(input []*schema.Message) []chat.Turn {
	turns := make([]chat.Turn, 0, len(input))
	for _, msg := range input {
		if msg == nil {
			continue
		}
		role := chat.RoleUser
		switch msg.Role {
		case schema.System:
			role = chat.RoleSystem
		case schema.Assistant:
			role = chat.RoleAssistant
		}
		turns = append(turns, chat.Turn{Role: role, Text: msg.Content})
	}
	return turns
}
