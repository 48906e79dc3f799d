package engine

import "time"

// Recognized input keys. Which keys a request must carry depends on the
// requested capability: LLM and TTS use InputText, VLM adds InputImage,
// ASR uses InputAudio or InputAudioID.
const (
	InputText    = "text"
	InputImage   = "image"
	InputAudio   = "audio"
	InputAudioID = "audio_id"
)

// Commonly recognized parameter keys. Runners may define further keys
// through their parameter schemas.
const (
	ParamTemperature = "temperature"
	ParamMaxTokens   = "max_tokens"
	ParamLanguage    = "language"
	ParamModelID     = "model"
	ParamStream      = "stream"
)

// Request is a single piece of client work. The coordinator stamps
// SessionID when the client did not supply one.
type Request struct {
	SessionID string                 `json:"session_id"`
	Inputs    map[string]interface{} `json:"inputs"`
	Params    map[string]interface{} `json:"params,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewRequest creates a request stamped with the current time.
func NewRequest(sessionID string, inputs, params map[string]interface{}) *Request {
	return &Request{
		SessionID: sessionID,
		Inputs:    inputs,
		Params:    params,
		Timestamp: time.Now(),
	}
}

// Text returns the InputText input, if present and non-empty.
func (r *Request) Text() (string, bool) {
	s, ok := r.Inputs[InputText].(string)
	return s, ok && s != ""
}

// Audio returns the InputAudio input, if present.
func (r *Request) Audio() ([]byte, bool) {
	b, ok := r.Inputs[InputAudio].([]byte)
	return b, ok && len(b) > 0
}

// AudioID returns the InputAudioID input, if present and non-empty.
func (r *Request) AudioID() (string, bool) {
	s, ok := r.Inputs[InputAudioID].(string)
	return s, ok && s != ""
}

// Image returns the InputImage input, if present.
func (r *Request) Image() ([]byte, bool) {
	b, ok := r.Inputs[InputImage].([]byte)
	return b, ok && len(b) > 0
}

// StringParam returns a string parameter, falling back to def when absent
// or mis-typed.
func (r *Request) StringParam(key, def string) string {
	if s, ok := r.Params[key].(string); ok && s != "" {
		return s
	}
	return def
}

// FloatParam returns a numeric parameter, falling back to def when absent
// or mis-typed. JSON decoding produces float64 for all numbers; integers
// stored by Go callers are accepted too.
func (r *Request) FloatParam(key string, def float64) float64 {
	switch v := r.Params[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

// IntParam returns an integer parameter, falling back to def when absent,
// mis-typed, or non-integral.
func (r *Request) IntParam(key string, def int) int {
	switch v := r.Params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		if v == float64(int(v)) {
			return int(v)
		}
		return def
	default:
		return def
	}
}

// BoolParam returns a boolean parameter, falling back to def when absent
// or mis-typed.
func (r *Request) BoolParam(key string, def bool) bool {
	if b, ok := r.Params[key].(bool); ok {
		return b
	}
	return def
}
