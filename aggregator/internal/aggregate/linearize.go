package aggregate

import (
	"github.com/williamhogman/aggregate-lb/aggregator/internal/upstream"
)

// Resolver looks up the live handle of a member cluster
type Resolver func(name string) (*upstream.Cluster, bool)

// SkipFunc excludes a member from one linearization
type SkipFunc func(name string) bool

func skipNone(string) bool { return false }

func skipOnly(name string) SkipFunc {
	return func(n string) bool { return n == name }
}

// Linearize concatenates the priority levels of members, in list order and then in
// increasing priority order, into one contiguous priority space starting at 0. Members
// that are skipped or cannot be resolved contribute nothing.
func Linearize(version uint64, members []string, resolve Resolver, skip SkipFunc) *PriorityContext {
	if skip == nil {
		skip = skipNone
	}

	pc := newPriorityContext(version)
	for _, name := range members {
		if skip(name) {
			continue
		}
		cluster, ok := resolve(name)
		if !ok || cluster == nil {
			continue
		}
		for _, hs := range cluster.PrioritySet().HostSetsPerPriority() {
			pc.add(cluster, hs)
		}
	}
	return pc
}
