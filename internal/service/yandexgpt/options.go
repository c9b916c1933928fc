package yandexgpt

const (
	DefaultTemperature = 0.6
	DefaultMaxTokens   = 2000

	MinTemperature = 0.0
	MaxTemperature = 1.0
	MinMaxTokens   = 100
	MaxMaxTokens   = 8000
)

// Options tunes a single completion. Nil fields fall back to the client defaults.
type Options struct {
	Temperature *float64
	MaxTokens   *int
	ModelURI    string
}

// Settings is the resolved, clamped form of Options sent to the API.
type Settings struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
}

// Resolve fills unset fields from defaults and clamps values into the accepted range.
func (o Options) Resolve(defaults Settings) Settings {
	s := defaults
	if o.Temperature != nil {
		s.Temperature = *o.Temperature
	}
	if o.MaxTokens != nil {
		s.MaxTokens = *o.MaxTokens
	}

	if s.Temperature < MinTemperature {
		s.Temperature = MinTemperature
	}
	if s.Temperature > MaxTemperature {
		s.Temperature = MaxTemperature
	}
	if s.MaxTokens < MinMaxTokens {
		s.MaxTokens = MinMaxTokens
	}
	if s.MaxTokens > MaxMaxTokens {
		s.MaxTokens = MaxMaxTokens
	}
	return s
}
