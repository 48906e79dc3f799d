package engine

import "fmt"

// Capability identifies the shape of input and output a runner promises,
// independent of its vendor or implementation.
type Capability uint8

const (
	// CapabilityLLM is text generation from a text prompt.
	CapabilityLLM Capability = iota
	// CapabilityVLM is text generation from a text prompt plus an image.
	CapabilityVLM
	// CapabilityASR is speech recognition from PCM audio.
	CapabilityASR
	// CapabilityTTS is speech synthesis to PCM audio.
	CapabilityTTS
	// CapabilityGuardian is content-safety analysis of text.
	CapabilityGuardian
)

// Capabilities lists every known capability in declaration order.
func Capabilities() []Capability {
	return []Capability{CapabilityLLM, CapabilityVLM, CapabilityASR, CapabilityTTS, CapabilityGuardian}
}

// String implements fmt.Stringer.String.
func (c Capability) String() string {
	switch c {
	case CapabilityLLM:
		return "LLM"
	case CapabilityVLM:
		return "VLM"
	case CapabilityASR:
		return "ASR"
	case CapabilityTTS:
		return "TTS"
	case CapabilityGuardian:
		return "GUARDIAN"
	default:
		return "unknown"
	}
}

// ParseCapability parses a capability name as it appears in catalogs and
// persisted settings.
func ParseCapability(s string) (Capability, error) {
	switch s {
	case "LLM":
		return CapabilityLLM, nil
	case "VLM":
		return CapabilityVLM, nil
	case "ASR":
		return CapabilityASR, nil
	case "TTS":
		return CapabilityTTS, nil
	case "GUARDIAN":
		return CapabilityGuardian, nil
	default:
		return 0, fmt.Errorf("unknown capability: %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.MarshalText. It allows
// capabilities to appear as JSON object keys in persisted settings.
func (c Capability) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.UnmarshalText.
func (c *Capability) UnmarshalText(text []byte) error {
	parsed, err := ParseCapability(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// HasCapability returns whether the capability set contains c.
func HasCapability(set []Capability, c Capability) bool {
	for _, have := range set {
		if have == c {
			return true
		}
	}
	return false
}
