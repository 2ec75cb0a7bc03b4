package core

// Temperature bounds accepted from channel annotations and workspace
// defaults. Values outside the range are not clamped; they fall through to
// the next priority source.
const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
)

// Built-in fallbacks used when no source text supplies a field.
const (
	DefaultTemperature = 1.0
	DefaultTimezone    = "+00:00"
	DefaultSystemMessage = "Assistant is designed to be able to assist with a wide range of tasks, " +
		"from answering simple questions to providing in-depth explanations " +
		"and discussions on a wide range of topics."
)

// Settings is the per-conversation model configuration. It is an immutable
// value object: resolution produces a new instance, nothing mutates one in
// place. All fields are always populated; resolution is total.
type Settings struct {
	Temperature   float64
	Timezone      string
	SystemMessage string
}

// DefaultSettings returns the built-in fallback configuration.
func DefaultSettings() Settings {
	return Settings{
		Temperature:   DefaultTemperature,
		Timezone:      DefaultTimezone,
		SystemMessage: DefaultSystemMessage,
	}
}
