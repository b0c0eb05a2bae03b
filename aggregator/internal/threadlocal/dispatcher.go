package threadlocal

import "sync"

// Dispatcher is the event loop of one worker. Functions posted to it run on a single
// goroutine in posting order, so state owned by the worker needs no locking.
type Dispatcher struct {
	id int

	mu     sync.Mutex
	queue  []func()
	closed bool

	wake chan struct{}
	stop chan struct{}
}

func newDispatcher(id int) *Dispatcher {
	return &Dispatcher{
		id:   id,
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
}

// ID returns the worker index, stable for the lifetime of the instance
func (d *Dispatcher) ID() int {
	return d.id
}

// Post queues fn for execution on the worker. It never blocks and returns false once the
// dispatcher has been shut down.
func (d *Dispatcher) Post(fn func()) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

// RunPending runs everything queued so far on the calling goroutine and returns how many
// functions ran. Only call it on a dispatcher whose loop is not running.
func (d *Dispatcher) RunPending() int {
	d.mu.Lock()
	batch := d.queue
	d.queue = nil
	d.mu.Unlock()

	for _, fn := range batch {
		fn()
	}
	return len(batch)
}

func (d *Dispatcher) loop() {
	for {
		select {
		case <-d.wake:
			d.RunPending()
		case <-d.stop:
			d.RunPending()
			return
		}
	}
}

func (d *Dispatcher) shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.stop)
	}
}
