package aggregate

// Stats receives the aggregate cluster's events. Implementations must be safe for
// concurrent use; HostChosen and NoHost are called from every worker.
type Stats interface {
	// ContextPublished is called once per refresh with the size of the merged priority set
	ContextPublished(aggregate string, version uint64, priorities int)
	HostChosen(aggregate, member string)
	NoHost(aggregate string)
}

// NopStats discards everything
type NopStats struct{}

func (NopStats) ContextPublished(string, uint64, int) {}
func (NopStats) HostChosen(string, string)            {}
func (NopStats) NoHost(string)                        {}
