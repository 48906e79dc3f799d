package discovery

import (
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/docker/go-units"
	"github.com/elastic/go-sysinfo"
	"github.com/jaypipes/ghw"

	"github.com/edgehive/engine-runner/pkg/engine"
	"github.com/edgehive/engine-runner/pkg/logging"
)

// Memory and storage floors for the graded hardware requirements.
const (
	highMemoryBytes    uint64 = 8 * units.GiB
	mediumMemoryBytes  uint64 = 4 * units.GiB
	lowMemoryBytes     uint64 = 2 * units.GiB
	largeStorageBytes  uint64 = 8 * units.GiB
	mediumStorageBytes uint64 = 2 * units.GiB
)

// HostInfo answers the hardware questions discovery asks when filtering
// runner candidates.
type HostInfo interface {
	TotalMemoryBytes() uint64
	TotalStorageBytes() uint64
	HasNPU() bool
	HasInternet() bool
	HasMicrophone() bool
	HasCamera() bool
}

// Meets evaluates a single hardware requirement against host. The string
// explains the failure when the requirement is not met.
func Meets(host HostInfo, req engine.HardwareRequirement) (bool, string) {
	switch req {
	case engine.RequiresNPU:
		if !host.HasNPU() {
			return false, "no NPU detected"
		}
	case engine.RequiresHighMemory:
		return meetsMemory(host, highMemoryBytes)
	case engine.RequiresMediumMemory:
		return meetsMemory(host, mediumMemoryBytes)
	case engine.RequiresLowMemory:
		return meetsMemory(host, lowMemoryBytes)
	case engine.RequiresLargeStorage:
		return meetsStorage(host, largeStorageBytes)
	case engine.RequiresMediumStorage:
		return meetsStorage(host, mediumStorageBytes)
	case engine.RequiresInternet:
		if !host.HasInternet() {
			return false, "no network connectivity"
		}
	case engine.RequiresMicrophone:
		if !host.HasMicrophone() {
			return false, "no audio capture device"
		}
	case engine.RequiresCamera:
		if !host.HasCamera() {
			return false, "no video capture device"
		}
	case engine.RequiresCPU:
		// Every host qualifies.
	}
	return true, ""
}

func meetsMemory(host HostInfo, want uint64) (bool, string) {
	if have := host.TotalMemoryBytes(); have < want {
		return false, fmt.Sprintf("requires %s memory, host has %s",
			units.BytesSize(float64(want)), units.BytesSize(float64(have)))
	}
	return true, ""
}

func meetsStorage(host HostInfo, want uint64) (bool, string) {
	if have := host.TotalStorageBytes(); have < want {
		return false, fmt.Sprintf("requires %s storage, host has %s",
			units.BytesSize(float64(want)), units.BytesSize(float64(have)))
	}
	return true, ""
}

// hostProbes inspects the host once, on first use, and caches the answers.
type hostProbes struct {
	log logging.Logger

	once     sync.Once
	memory   uint64
	storage  uint64
	npu      bool
	internet bool
	mic      bool
	camera   bool
}

// ProbeHost returns a HostInfo backed by the running host. Probing is
// deferred until the first query and performed once.
func ProbeHost(log logging.Logger) HostInfo {
	return &hostProbes{log: log}
}

func (h *hostProbes) probe() {
	h.once.Do(func() {
		if host, err := sysinfo.Host(); err != nil {
			h.log.Warnf("Could not read host info: %s", err)
		} else if mem, err := host.Memory(); err != nil {
			h.log.Warnf("Could not read host RAM size: %s", err)
		} else {
			h.memory = mem.Total
		}

		if block, err := ghw.Block(); err != nil {
			h.log.Warnf("Could not read block storage info: %s", err)
		} else {
			h.storage = block.TotalPhysicalBytes
		}

		h.npu = detectNPU()
		h.internet = detectInternet()
		h.mic = deviceExists("/dev/snd")
		h.camera = deviceExists("/dev/video0", "/dev/video1")

		h.log.Infof("Host probes: memory=%s storage=%s npu=%t internet=%t microphone=%t camera=%t",
			units.BytesSize(float64(h.memory)), units.BytesSize(float64(h.storage)),
			h.npu, h.internet, h.mic, h.camera)
	})
}

func (h *hostProbes) TotalMemoryBytes() uint64  { h.probe(); return h.memory }
func (h *hostProbes) TotalStorageBytes() uint64 { h.probe(); return h.storage }
func (h *hostProbes) HasNPU() bool              { h.probe(); return h.npu }
func (h *hostProbes) HasInternet() bool         { h.probe(); return h.internet }
func (h *hostProbes) HasMicrophone() bool       { h.probe(); return h.mic }
func (h *hostProbes) HasCamera() bool           { h.probe(); return h.camera }

// detectNPU looks for a MediaTek APU device node, then for accelerator-ish
// names among the graphics devices.
func detectNPU() bool {
	if deviceExists("/dev/apusys") {
		return true
	}
	gpu, err := ghw.GPU()
	if err != nil {
		return false
	}
	for _, card := range gpu.GraphicsCards {
		if card.DeviceInfo == nil || card.DeviceInfo.Product == nil {
			continue
		}
		name := strings.ToLower(card.DeviceInfo.Product.Name)
		if strings.Contains(name, "npu") || strings.Contains(name, "neural") {
			return true
		}
	}
	return false
}

// detectInternet reports whether any non-loopback interface is up with an
// address. It checks link presence, not reachability.
func detectInternet() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if addrs, err := iface.Addrs(); err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}

func deviceExists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return true
		}
	}
	return false
}
