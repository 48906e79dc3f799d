package engine

import "fmt"

// ValidateInputs checks that req carries the inputs the capability
// requires: text for LLM, VLM, TTS and GUARDIAN, an image for VLM, and
// audio bytes or an audio id for ASR. Violations are reported as an E401
// error.
func ValidateInputs(c Capability, req *Request) *Error {
	switch c {
	case CapabilityLLM, CapabilityTTS, CapabilityGuardian:
		if _, ok := req.Text(); !ok {
			return NewError(CodeInvalidInput, fmt.Sprintf("%s request requires a non-empty %q input", c, InputText))
		}
	case CapabilityVLM:
		if _, ok := req.Text(); !ok {
			return NewError(CodeInvalidInput, fmt.Sprintf("%s request requires a non-empty %q input", c, InputText))
		}
		if _, ok := req.Image(); !ok {
			return NewError(CodeInvalidInput, fmt.Sprintf("%s request requires an %q input", c, InputImage))
		}
	case CapabilityASR:
		_, haveAudio := req.Audio()
		_, haveID := req.AudioID()
		if !haveAudio && !haveID {
			return NewError(CodeInvalidInput,
				fmt.Sprintf("%s request requires an %q or %q input", c, InputAudio, InputAudioID))
		}
	}
	return nil
}
