package activity

// Payload is the activity document the journey canvas hands to the widget and to the
// lifecycle endpoints.
type Payload struct {
	Arguments Arguments `json:"arguments"`
	MetaData  MetaData  `json:"metaData"`
}

// Arguments groups the execute arguments.
type Arguments struct {
	Execute Execute `json:"execute"`
}

// Execute holds the runtime argument list.
type Execute struct {
	InArguments ArgumentList `json:"inArguments"`
}

// MetaData carries the configured flag checked by the canvas.
type MetaData struct {
	IsConfigured bool `json:"isConfigured"`
}

// HasArguments reports whether a previous save left an argument list behind.
func (p Payload) HasArguments() bool {
	return len(p.Arguments.Execute.InArguments) > 0
}

// Configuration reads the saved configuration. An unsaved payload yields the widget's
// initial state (blank fields, sms channel).
func (p Payload) Configuration() Configuration {
	return ConfigurationFromArguments(p.Arguments.Execute.InArguments)
}
