// Package state publishes the service's observable state: Ready,
// Processing(n), Downloading(id, percent), or Error. The publisher is a
// current-value observable; new subscribers immediately see the latest
// state.
package state

// Kind discriminates the State union.
type Kind string

const (
	KindReady       Kind = "ready"
	KindProcessing  Kind = "processing"
	KindDownloading Kind = "downloading"
	KindError       Kind = "error"
)

// Download describes an in-progress model download.
type Download struct {
	ID      string `json:"id"`
	Percent int    `json:"percent"`
	Size    int64  `json:"size,omitempty"`
}

// Failure describes an error state.
type Failure struct {
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// State is the tagged service state. Exactly the fields of the active
// variant are populated.
type State struct {
	Kind        Kind      `json:"state"`
	ActiveCount int       `json:"active_count,omitempty"`
	Download    *Download `json:"download,omitempty"`
	Error       *Failure  `json:"error,omitempty"`
}

// Ready is the idle state.
func Ready() State {
	return State{Kind: KindReady}
}

// Processing reports n in-flight requests. Zero or negative collapses to
// Ready.
func Processing(n int) State {
	if n <= 0 {
		return Ready()
	}
	return State{Kind: KindProcessing, ActiveCount: n}
}

// Downloading reports a model download in progress. size may be zero when
// unknown.
func Downloading(id string, percent int, size int64) State {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return State{Kind: KindDownloading, Download: &Download{ID: id, Percent: percent, Size: size}}
}

// ErrorState reports a service-level failure.
func ErrorState(message string, recoverable bool) State {
	return State{Kind: KindError, Error: &Failure{Message: message, Recoverable: recoverable}}
}

// Equal reports whether two states are observably identical. Used to
// coalesce duplicate publications.
func (s State) Equal(other State) bool {
	if s.Kind != other.Kind || s.ActiveCount != other.ActiveCount {
		return false
	}
	if (s.Download == nil) != (other.Download == nil) {
		return false
	}
	if s.Download != nil && *s.Download != *other.Download {
		return false
	}
	if (s.Error == nil) != (other.Error == nil) {
		return false
	}
	if s.Error != nil && *s.Error != *other.Error {
		return false
	}
	return true
}
