package engine

import "fmt"

// HardwareRequirement is a host capability a runner needs to operate.
// Discovery evaluates every requirement of a candidate against host probes
// and skips candidates whose requirements are not met.
type HardwareRequirement uint8

const (
	// RequiresNPU requires a MediaTek NPU (or compatible accelerator).
	RequiresNPU HardwareRequirement = iota
	// RequiresHighMemory requires at least 8 GiB of total system memory.
	RequiresHighMemory
	// RequiresMediumMemory requires at least 4 GiB of total system memory.
	RequiresMediumMemory
	// RequiresLowMemory requires at least 2 GiB of total system memory.
	RequiresLowMemory
	// RequiresLargeStorage requires at least 8 GiB of free storage.
	RequiresLargeStorage
	// RequiresMediumStorage requires at least 2 GiB of free storage.
	RequiresMediumStorage
	// RequiresInternet requires outbound network connectivity.
	RequiresInternet
	// RequiresMicrophone requires an audio capture device on the host.
	RequiresMicrophone
	// RequiresCamera requires an image capture device on the host.
	RequiresCamera
	// RequiresCPU is satisfied on every host; it marks pure-CPU runners.
	RequiresCPU
)

// String implements fmt.Stringer.String.
func (r HardwareRequirement) String() string {
	switch r {
	case RequiresNPU:
		return "MTK_NPU"
	case RequiresHighMemory:
		return "HIGH_MEMORY"
	case RequiresMediumMemory:
		return "MEDIUM_MEMORY"
	case RequiresLowMemory:
		return "LOW_MEMORY"
	case RequiresLargeStorage:
		return "LARGE_STORAGE"
	case RequiresMediumStorage:
		return "MEDIUM_STORAGE"
	case RequiresInternet:
		return "INTERNET"
	case RequiresMicrophone:
		return "MICROPHONE"
	case RequiresCamera:
		return "CAMERA"
	case RequiresCPU:
		return "CPU"
	default:
		return fmt.Sprintf("hardware(%d)", uint8(r))
	}
}

// ParseHardwareRequirement parses a requirement name as it appears in
// runner catalogs.
func ParseHardwareRequirement(s string) (HardwareRequirement, error) {
	switch s {
	case "MTK_NPU":
		return RequiresNPU, nil
	case "HIGH_MEMORY":
		return RequiresHighMemory, nil
	case "MEDIUM_MEMORY":
		return RequiresMediumMemory, nil
	case "LOW_MEMORY":
		return RequiresLowMemory, nil
	case "LARGE_STORAGE":
		return RequiresLargeStorage, nil
	case "MEDIUM_STORAGE":
		return RequiresMediumStorage, nil
	case "INTERNET":
		return RequiresInternet, nil
	case "MICROPHONE":
		return RequiresMicrophone, nil
	case "CAMERA":
		return RequiresCamera, nil
	case "CPU":
		return RequiresCPU, nil
	default:
		return 0, fmt.Errorf("unknown hardware requirement: %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.MarshalText.
func (r HardwareRequirement) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.UnmarshalText.
func (r *HardwareRequirement) UnmarshalText(text []byte) error {
	parsed, err := ParseHardwareRequirement(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
