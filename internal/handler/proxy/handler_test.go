package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/yagpt-chat/backend/internal/service/yandexgpt"
)

type fakeModel struct {
	input   []*schema.Message
	options *model.Options
	reply   string
	err     error
}

func (m *fakeModel) Generate(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.input = input
	m.options = model.GetCommonOptions(&model.Options{}, opts...)
	if m.err != nil {
		return nil, m.err
	}
	return schema.AssistantMessage(m.reply, nil), nil
}

func (m *fakeModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func setupRouter(m *fakeModel) *chi.Mux {
	r := chi.NewRouter()
	r.Route("/v1", New(m, nil).RegisterRoutes)
	return r
}

func post(r http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestModels(t *testing.T) {
	resp := httptest.NewRecorder()
	setupRouter(&fakeModel{}).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	require.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"object":"list","data":[{"id":"yandex-gpt","object":"model","owned_by":"yandex"}]}`, resp.Body.String())
}

func TestChatCompletions(t *testing.T) {
	m := &fakeModel{reply: "Привет!"}
	resp := post(setupRouter(m), "/v1/chat/completions", `{
		"model": "gpt://b1g/yandexgpt/latest",
		"temperature": 0.3,
		"max_tokens": 256,
		"messages": [
			{"role": "system", "content": "Будь вежлив."},
			{"role": "user", "content": [{"type": "text", "text": "При"}, {"type": "text", "text": "вет"}]}
		]
	}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var out struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		Model   string `json:"model"`
		Choices []struct {
			Message      choiceMessage `json:"message"`
			FinishReason string        `json:"finish_reason"`
		} `json:"choices"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	assert.True(t, strings.HasPrefix(out.ID, "chatcmpl-"))
	assert.Len(t, out.ID, len("chatcmpl-")+24)
	assert.Equal(t, "chat.completion", out.Object)
	assert.Equal(t, "gpt://b1g/yandexgpt/latest", out.Model)
	require.Len(t, out.Choices, 1)
	assert.Equal(t, choiceMessage{Role: "assistant", Content: "Привет!"}, out.Choices[0].Message)
	assert.Equal(t, "stop", out.Choices[0].FinishReason)

	require.Len(t, m.input, 2)
	assert.Equal(t, schema.System, m.input[0].Role)
	assert.Equal(t, "Привет", m.input[1].Content)
	require.NotNil(t, m.options.Temperature)
	assert.InDelta(t, 0.3, *m.options.Temperature, 1e-6)
	require.NotNil(t, m.options.MaxTokens)
	assert.Equal(t, 256, *m.options.MaxTokens)
	require.NotNil(t, m.options.Model)
	assert.Equal(t, "gpt://b1g/yandexgpt/latest", *m.options.Model)
}

func TestChatCompletionsIgnoresModelAliases(t *testing.T) {
	m := &fakeModel{reply: "ok"}
	resp := post(setupRouter(m), "/v1/chat/completions", `{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Nil(t, m.options.Model)
	assert.Nil(t, m.options.Temperature)
}

func TestChatCompletionsValidation(t *testing.T) {
	r := setupRouter(&fakeModel{})

	resp := post(r, "/v1/chat/completions", `{"messages":[]}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = post(r, "/v1/chat/completions", `{"messages":[{"role":"user","content":42}]}`)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestChatCompletionsMapsFailures(t *testing.T) {
	m := &fakeModel{err: &yandexgpt.CompletionError{Reason: yandexgpt.ReasonQuota, Status: 429}}
	resp := post(setupRouter(m), "/v1/chat/completions", `{"messages":[{"role":"user","content":"hi"}]}`)

	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	var body apiError
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "quota", body.Error.Type)
	assert.NotEmpty(t, body.Error.Message)
}

func TestCompletions(t *testing.T) {
	m := &fakeModel{reply: "42"}
	resp := post(setupRouter(m), "/v1/completions", `{"prompt":["first line","second line"],"max_tokens":100}`)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var out struct {
		ID      string       `json:"id"`
		Object  string       `json:"object"`
		Model   string       `json:"model"`
		Choices []textChoice `json:"choices"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	assert.True(t, strings.HasPrefix(out.ID, "cmpl-"))
	assert.Equal(t, "text_completion", out.Object)
	assert.Equal(t, DefaultModelID, out.Model)
	require.Len(t, out.Choices, 1)
	assert.Equal(t, "42", out.Choices[0].Text)

	require.Len(t, m.input, 1)
	assert.Equal(t, schema.User, m.input[0].Role)
	assert.Equal(t, "first line\nsecond line", m.input[0].Content)
}
