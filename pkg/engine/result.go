package engine

// Standard output keys.
const (
	// OutputText carries generated or transcribed text (LLM, VLM, ASR) and
	// the guardian verdict summary.
	OutputText = "text"
	// OutputAudio carries synthesized PCM audio (TTS).
	OutputAudio = "audio"
)

// Standard metadata keys.
const (
	MetaSessionID    = "session_id"
	MetaModelName    = "model_name"
	MetaLanguage     = "language"
	MetaProcessingMS = "processing_time_ms"
	MetaSegments     = "segments"
	MetaSampleRate   = "sample_rate"
	MetaFinishReason = "finish_reason"
)

// Result is a single emission for a request. In a stream every frame but
// the last has Partial set; the terminal frame has Partial false and is the
// only frame allowed to carry an error.
type Result struct {
	Outputs  map[string]interface{} `json:"outputs,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Partial  bool                   `json:"partial"`
	Error    *Error                 `json:"error,omitempty"`
}

// TextResult builds a terminal result carrying text output.
func TextResult(text string, metadata map[string]interface{}) Result {
	return Result{
		Outputs:  map[string]interface{}{OutputText: text},
		Metadata: metadata,
	}
}

// PartialTextResult builds a partial result carrying a text delta.
func PartialTextResult(text string, metadata map[string]interface{}) Result {
	r := TextResult(text, metadata)
	r.Partial = true
	return r
}

// ErrorResult builds a terminal result carrying err. Error results are
// never partial.
func ErrorResult(err *Error) Result {
	return Result{Error: err}
}

// ErrorResultFor is shorthand for ErrorResult(NewError(code, message)).
func ErrorResultFor(code, message string) Result {
	return ErrorResult(NewError(code, message))
}

// IsError reports whether the result carries an error.
func (r Result) IsError() bool {
	return r.Error != nil
}

// Terminal reports whether the result ends its stream.
func (r Result) Terminal() bool {
	return !r.Partial
}

// Text returns the OutputText output, if present.
func (r Result) Text() (string, bool) {
	s, ok := r.Outputs[OutputText].(string)
	return s, ok
}
