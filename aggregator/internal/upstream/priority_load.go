package upstream

// DefaultPanicThreshold is the healthy+degraded percentage below which a host set is in panic mode
const DefaultPanicThreshold uint32 = 50

// Availability returns the healthy and degraded availability of a host set in percent,
// scaled by its overprovisioning factor and capped at 100.
func Availability(hs *HostSet) (healthy, degraded uint32) {
	state := hs.state.Load()
	total := uint64(len(state.hosts))
	if total == 0 {
		return 0, 0
	}
	factor := uint64(state.overprovisioningFactor)
	healthy = uint32(min(100, factor*uint64(len(state.healthy))/total))
	degraded = uint32(min(100, factor*uint64(len(state.degraded))/total))
	return healthy, degraded
}

// ComputePriorityLoad distributes 100% of traffic across hostSets: every priority takes as
// much load as its availability allows, healthy capacity first, then degraded capacity.
func ComputePriorityLoad(hostSets []*HostSet) HealthyAndDegradedLoad {
	load := HealthyAndDegradedLoad{
		Healthy:  make(PriorityLoad, len(hostSets)),
		Degraded: make(PriorityLoad, len(hostSets)),
	}
	if len(hostSets) == 0 {
		return load
	}

	health := make([]uint32, len(hostSets))
	degraded := make([]uint32, len(hostSets))
	var sum uint32
	for i, hs := range hostSets {
		health[i], degraded[i] = Availability(hs)
		sum += health[i] + degraded[i]
	}
	normalized := min(100, sum)

	if normalized == 0 {
		// Nothing is available anywhere; send everything to P0.
		load.Healthy[0] = 100
		return load
	}

	firstHealthy, remaining := distributeLoad(load.Healthy, health, 100, normalized)
	firstDegraded, remaining := distributeLoad(load.Degraded, degraded, remaining, normalized)

	// Only rounding errors are left at this point.
	if remaining != 0 {
		if firstHealthy >= 0 {
			load.Healthy[firstHealthy] += remaining
		} else if firstDegraded >= 0 {
			load.Degraded[firstDegraded] += remaining
		}
	}
	return load
}

func distributeLoad(out PriorityLoad, availability []uint32, total, normalized uint32) (first int, remaining uint32) {
	first = -1
	for i, a := range availability {
		if first < 0 && a > 0 {
			first = i
		}
		out[i] = min(total, a*100/normalized)
		total -= out[i]
	}
	return first, total
}

// ChoosePriority maps a random value onto the priority load
func ChoosePriority(random uint64, load HealthyAndDegradedLoad) (int, HostAvailability) {
	point := uint32(random%100) + 1

	var cumulative uint32
	for p, l := range load.Healthy {
		cumulative += l
		if point <= cumulative {
			return p, AvailabilityHealthy
		}
	}
	for p, l := range load.Degraded {
		cumulative += l
		if point <= cumulative {
			return p, AvailabilityDegraded
		}
	}
	return 0, AvailabilityHealthy
}

// InPanic reports whether the share of healthy and degraded hosts in hs is below threshold percent
func InPanic(hs *HostSet, threshold uint32) bool {
	state := hs.state.Load()
	if len(state.hosts) == 0 {
		return true
	}
	available := 100 * float64(len(state.healthy)+len(state.degraded)) / float64(len(state.hosts))
	return available < float64(min(100, threshold))
}

// PrioritySelector is the generic priority-aware choice shared by every load balancer:
// given any ordered list of host sets it picks one index and the bucket to draw from.
type PrioritySelector struct {
	random RandomGenerator
}

// NewPrioritySelector creates a selector; a nil generator uses DefaultRandom
func NewPrioritySelector(random RandomGenerator) *PrioritySelector {
	if random == nil {
		random = DefaultRandom()
	}
	return &PrioritySelector{random: random}
}

// ChooseHostSet picks a priority among hostSets. ok is false only when hostSets is empty.
func (s *PrioritySelector) ChooseHostSet(ctx LoadBalancerContext, hostSets []*HostSet) (priority int, availability HostAvailability, ok bool) {
	if len(hostSets) == 0 {
		return 0, AvailabilityHealthy, false
	}
	load := determinePriorityLoad(ctx, hostSets, ComputePriorityLoad(hostSets))
	priority, availability = ChoosePriority(s.random.Random(), load)
	return priority, availability, true
}
