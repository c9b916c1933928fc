package ai

import (
	"errors"
	"fmt"

	"github.com/zhouzirui/yagpt-chat/backend/internal/service/yandexgpt"
)

// Reason is the user-visible failure class of a chat message. Apart from
// ReasonEmptyInput it mirrors yandexgpt.Reason.
type Reason string

const (
	ReasonEmptyInput    Reason = "empty_input"
	ReasonAuth          Reason = Reason(yandexgpt.ReasonAuth)
	ReasonQuota         Reason = Reason(yandexgpt.ReasonQuota)
	ReasonBadRequest    Reason = Reason(yandexgpt.ReasonBadRequest)
	ReasonNetwork       Reason = Reason(yandexgpt.ReasonNetwork)
	ReasonServer        Reason = Reason(yandexgpt.ReasonServer)
	ReasonEmptyResponse Reason = Reason(yandexgpt.ReasonEmptyResponse)
)

var errEmptyInput = errors.New("message must not be empty")

// ChatError is returned by SubmitMessage.
type ChatError struct {
	Reason Reason
	Err    error
}

func (e *ChatError) Error() string {
	return fmt.Sprintf("chat %s: %v", e.Reason, e.Err)
}

func (e *ChatError) Unwrap() error { return e.Err }

// ReasonOf extracts the chat reason from err, defaulting to server.
func ReasonOf(err error) Reason {
	var ce *ChatError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return ReasonServer
}

// Message returns the text shown to the user in place of an assistant reply.
func (r Reason) Message() string {
	switch r {
	case ReasonEmptyInput:
		return "Сообщение не может быть пустым"
	case ReasonAuth:
		return "Не удалось авторизоваться в YandexGPT"
	case ReasonQuota:
		return "Превышена квота запросов к YandexGPT, попробуйте позже"
	case ReasonBadRequest:
		return "YandexGPT отклонил запрос"
	case ReasonNetwork:
		return "Таймаут или ошибка сети при запросе к YandexGPT"
	case ReasonEmptyResponse:
		return "YandexGPT вернул пустой ответ"
	default:
		return "Ошибка сервера YandexGPT"
	}
}
