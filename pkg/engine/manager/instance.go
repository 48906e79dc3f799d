package manager

import (
	"sync"
	"time"

	"github.com/edgehive/engine-runner/pkg/engine"
)

// instance is a registered runner under management: the runner itself plus
// the bookkeeping that serializes its lifecycle and drains it before
// unloading.
type instance struct {
	runner     engine.Runner
	descriptor engine.Descriptor

	// opMu serializes Load and Unload. The manager never calls either
	// concurrently on one instance.
	opMu sync.Mutex

	mu       sync.Mutex
	cond     *sync.Cond
	refs     int
	lastUsed time.Time
}

func newInstance(runner engine.Runner, desc engine.Descriptor) *instance {
	i := &instance{runner: runner, descriptor: desc}
	i.cond = sync.NewCond(&i.mu)
	return i
}

// acquire marks one in-flight request on the instance.
func (i *instance) acquire() {
	i.mu.Lock()
	i.refs++
	i.mu.Unlock()
}

// release ends one in-flight request and reports whether the instance just
// became idle.
func (i *instance) release() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.refs--
	if i.refs > 0 {
		return false
	}
	i.lastUsed = time.Now()
	i.cond.Broadcast()
	return true
}

// drain blocks until no requests are in flight.
func (i *instance) drain() {
	i.mu.Lock()
	for i.refs > 0 {
		i.cond.Wait()
	}
	i.mu.Unlock()
}

func (i *instance) inFlight() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.refs
}

// idleSince returns when the instance last became idle. ok is false while
// requests are in flight or before the instance has served anything.
func (i *instance) idleSince() (time.Time, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.refs > 0 || i.lastUsed.IsZero() {
		return time.Time{}, false
	}
	return i.lastUsed, true
}
