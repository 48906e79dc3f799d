package registry

import "github.com/edgehive/engine-runner/pkg/engine"

// Less orders descriptors for selection: lower score first (vendor index
// times ten plus priority), ties broken by ascending name. The ordering is
// total, so selection over a fixed registry state is deterministic.
func Less(a, b engine.Descriptor) bool {
	if sa, sb := a.Score(), b.Score(); sa != sb {
		return sa < sb
	}
	return a.Name < b.Name
}

// SelectBest returns the minimum-score candidate among descriptors, ties
// broken by ascending name. The second return is false when descriptors is
// empty.
func SelectBest(descriptors []engine.Descriptor) (engine.Descriptor, bool) {
	if len(descriptors) == 0 {
		return engine.Descriptor{}, false
	}
	best := descriptors[0]
	for _, d := range descriptors[1:] {
		if Less(d, best) {
			best = d
		}
	}
	return best, true
}
