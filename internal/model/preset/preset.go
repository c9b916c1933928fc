package preset

// Preset is a named system prompt a session can be bound to. The prompt becomes the
// leading system turn of every completion request for that session.
type Preset struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
}

// DefaultID is used when a session is created without an explicit preset.
const DefaultID = "assistant"

// Seed provides the built-in presets.
func Seed() []Preset {
	return []Preset{
		{
			ID:           DefaultID,
			Name:         "Ассистент",
			Description:  "Универсальный помощник без особых ограничений.",
			SystemPrompt: "Ты — вежливый и полезный ассистент. Отвечай по существу.",
		},
		{
			ID:           "concise",
			Name:         "Кратко",
			Description:  "Короткие ответы в одно-два предложения.",
			SystemPrompt: "Отвечай максимально кратко: не более двух предложений.",
		},
		{
			ID:           "translator",
			Name:         "Переводчик",
			Description:  "Переводит текст пользователя между русским и английским.",
			SystemPrompt: "Ты переводчик. Если текст на русском — переведи на английский, иначе — на русский. Выводи только перевод.",
		},
		{
			ID:          "raw",
			Name:        "Без системного промпта",
			Description: "Диалог без системной инструкции.",
		},
	}
}
