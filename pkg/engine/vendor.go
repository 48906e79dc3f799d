package engine

import "fmt"

// Vendor identifies the backend family a runner belongs to. The declaration
// order is load-bearing: the priority resolver scores candidates by vendor
// index, lower first.
type Vendor uint8

const (
	VendorMediaTek Vendor = iota
	VendorExecuTorch
	VendorSherpa
	VendorOpenRouter
	VendorLlamaStack
	VendorCustom
	VendorUnknown
)

// Index returns the vendor's ordinal used by the priority resolver.
func (v Vendor) Index() int {
	if v > VendorUnknown {
		return int(VendorUnknown)
	}
	return int(v)
}

// String implements fmt.Stringer.String.
func (v Vendor) String() string {
	switch v {
	case VendorMediaTek:
		return "MEDIATEK"
	case VendorExecuTorch:
		return "EXECUTORCH"
	case VendorSherpa:
		return "SHERPA"
	case VendorOpenRouter:
		return "OPENROUTER"
	case VendorLlamaStack:
		return "LLAMASTACK"
	case VendorCustom:
		return "CUSTOM"
	default:
		return "UNKNOWN"
	}
}

// ParseVendor parses a vendor name as it appears in runner catalogs.
// Unrecognized names map to VendorUnknown with a non-nil error so callers
// can decide whether to tolerate them.
func ParseVendor(s string) (Vendor, error) {
	switch s {
	case "MEDIATEK":
		return VendorMediaTek, nil
	case "EXECUTORCH":
		return VendorExecuTorch, nil
	case "SHERPA":
		return VendorSherpa, nil
	case "OPENROUTER":
		return VendorOpenRouter, nil
	case "LLAMASTACK":
		return VendorLlamaStack, nil
	case "CUSTOM":
		return VendorCustom, nil
	case "UNKNOWN":
		return VendorUnknown, nil
	default:
		return VendorUnknown, fmt.Errorf("unknown vendor: %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.MarshalText.
func (v Vendor) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.UnmarshalText.
func (v *Vendor) UnmarshalText(text []byte) error {
	parsed, err := ParseVendor(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Priority orders runners of the same vendor. Lower values are preferred.
type Priority uint8

const (
	PriorityHigh   Priority = 0
	PriorityNormal Priority = 1
	PriorityLow    Priority = 2
)

// String implements fmt.Stringer.String.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "HIGH"
	case PriorityNormal:
		return "NORMAL"
	case PriorityLow:
		return "LOW"
	default:
		return fmt.Sprintf("priority(%d)", uint8(p))
	}
}

// ParsePriority parses a priority name as it appears in runner catalogs.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "HIGH":
		return PriorityHigh, nil
	case "NORMAL":
		return PriorityNormal, nil
	case "LOW":
		return PriorityLow, nil
	default:
		return PriorityNormal, fmt.Errorf("unknown priority: %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.MarshalText.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.UnmarshalText.
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
