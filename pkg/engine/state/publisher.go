package state

import (
	"sync"

	"github.com/edgehive/engine-runner/pkg/logging"
)

// subscriberBuffer bounds how many undelivered states a subscriber may
// accumulate before old ones are dropped in favor of newer ones.
const subscriberBuffer = 16

// Publisher is the single source of truth for the service state. Publish
// never blocks: slow subscribers lose intermediate states but always
// receive the latest one.
type Publisher struct {
	log logging.Logger

	mu         sync.Mutex
	current    State
	processing int
	download   *Download
	subs       map[int]chan State
	nextSubID  int
}

// NewPublisher creates a publisher in the Ready state.
func NewPublisher(log logging.Logger) *Publisher {
	return &Publisher{
		log:     log,
		current: Ready(),
		subs:    make(map[int]chan State),
	}
}

// Current returns the latest published state.
func (p *Publisher) Current() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Subscribe registers a new observer. The returned channel immediately
// carries the current state. The cancel function must be called to release
// the subscription; it closes the channel.
func (p *Publisher) Subscribe() (<-chan State, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextSubID
	p.nextSubID++
	ch := make(chan State, subscriberBuffer)
	ch <- p.current
	p.subs[id] = ch

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if ch, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// SetProcessing records the number of in-flight requests. While a download
// is being reported the processing count is retained but not shown; it
// becomes visible again when the download clears.
func (p *Publisher) SetProcessing(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processing = n
	if p.download != nil {
		return
	}
	p.publishLocked(Processing(n))
}

// SetDownloading reports download progress for the identified model.
func (p *Publisher) SetDownloading(id string, percent int, size int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Downloading(id, percent, size)
	p.download = s.Download
	p.publishLocked(s)
}

// ClearDownloading ends the download view and restores the processing or
// ready state.
func (p *Publisher) ClearDownloading() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.download = nil
	p.publishLocked(Processing(p.processing))
}

// SetError reports a service-level failure. The state remains Error until
// the next publication.
func (p *Publisher) SetError(message string, recoverable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publishLocked(ErrorState(message, recoverable))
}

// Publish replaces the current state verbatim.
func (p *Publisher) Publish(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.publishLocked(s)
}

func (p *Publisher) publishLocked(s State) {
	if p.current.Equal(s) {
		return
	}
	p.current = s
	p.log.Debugf("service state: %s (active=%d)", s.Kind, s.ActiveCount)
	for _, ch := range p.subs {
		deliver(ch, s)
	}
}

// deliver enqueues s without ever blocking. When the subscriber's buffer
// is full the oldest pending state is dropped so the newest always lands.
func deliver(ch chan State, s State) {
	select {
	case ch <- s:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}
