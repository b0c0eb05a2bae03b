package threadlocal

import "sync/atomic"

// Slot holds one value per worker. Values are created and updated by functions posted to
// each worker, so a worker only ever observes its own value change between two of its
// own tasks.
type Slot[T any] struct {
	instance *Instance
	values   []atomic.Pointer[T]
}

// NewSlot allocates an empty slot on every dispatcher of instance
func NewSlot[T any](instance *Instance) *Slot[T] {
	return &Slot[T]{
		instance: instance,
		values:   make([]atomic.Pointer[T], len(instance.dispatchers)),
	}
}

// Set posts init to every worker; each worker stores the value init returns for it
func (s *Slot[T]) Set(init func(d *Dispatcher) *T) {
	for _, d := range s.instance.dispatchers {
		d.Post(func() {
			s.values[d.id].Store(init(d))
		})
	}
}

// Get returns the value of worker d, or nil before Set has run there
func (s *Slot[T]) Get(d *Dispatcher) *T {
	return s.values[d.id].Load()
}

// RunOnAllThreads posts update to every worker holding a value. When complete is not nil
// it is called once every worker has run update, or skipped it because it was shut down.
// It runs on the last worker to finish, or on the caller if no worker accepted the post.
func (s *Slot[T]) RunOnAllThreads(update func(d *Dispatcher, v *T), complete func()) {
	var remaining atomic.Int64
	remaining.Store(int64(len(s.instance.dispatchers)))
	finish := func() {
		if remaining.Add(-1) == 0 && complete != nil {
			complete()
		}
	}
	if len(s.instance.dispatchers) == 0 && complete != nil {
		complete()
		return
	}

	for _, d := range s.instance.dispatchers {
		posted := d.Post(func() {
			defer finish()
			if v := s.values[d.id].Load(); v != nil {
				update(d, v)
			}
		})
		if !posted {
			finish()
		}
	}
}
