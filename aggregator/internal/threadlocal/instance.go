package threadlocal

import (
	"sync"
	"sync/atomic"
)

// Instance owns a fixed set of worker dispatchers
type Instance struct {
	dispatchers []*Dispatcher
	wg          sync.WaitGroup
	started     atomic.Bool
}

// NewInstance creates workers dispatchers; at least one is always created
func NewInstance(workers int) *Instance {
	if workers < 1 {
		workers = 1
	}
	i := &Instance{dispatchers: make([]*Dispatcher, workers)}
	for id := range i.dispatchers {
		i.dispatchers[id] = newDispatcher(id)
	}
	return i
}

// Dispatchers returns the worker dispatchers in index order
func (i *Instance) Dispatchers() []*Dispatcher {
	return i.dispatchers
}

// Start runs one goroutine per dispatcher. Calling it twice has no effect.
func (i *Instance) Start() {
	if !i.started.CompareAndSwap(false, true) {
		return
	}
	for _, d := range i.dispatchers {
		i.wg.Add(1)
		go func(d *Dispatcher) {
			defer i.wg.Done()
			d.loop()
		}(d)
	}
}

// Shutdown stops accepting work, drains what was already posted and waits for the loops to exit
func (i *Instance) Shutdown() {
	for _, d := range i.dispatchers {
		d.shutdown()
	}
	i.wg.Wait()
}
