package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering and filtering.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull makes Emit drop instead of waiting when the queue is full.
	DropIfFull bool
	// Types limits forwarding to the listed event types. Empty forwards all.
	Types []string
	// OnDrop, if set, is called synchronously for every dropped event.
	OnDrop func(Event)
}

// Dispatcher relays events to a sink from one goroutine, preserving order.
// A nil *Dispatcher is valid and discards everything.
type Dispatcher struct {
	sink       Sink
	queue      chan Event
	dropIfFull bool
	allow      map[string]struct{}
	onDrop     func(Event)

	stop     chan struct{}
	finished chan struct{}
	stopOnce sync.Once
	stopped  atomic.Bool

	dropped   atomic.Uint64
	delivered atomic.Uint64
	filtered  atomic.Uint64
}

// NewDispatcher starts a dispatcher, or returns nil when cfg.Enabled is false.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		sink:       sink,
		queue:      make(chan Event, size),
		dropIfFull: cfg.DropIfFull,
		onDrop:     cfg.OnDrop,
		stop:       make(chan struct{}),
		finished:   make(chan struct{}),
	}
	if len(cfg.Types) > 0 {
		d.allow = make(map[string]struct{}, len(cfg.Types))
		for _, t := range cfg.Types {
			d.allow[t] = struct{}{}
		}
	}

	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer close(d.finished)

	for {
		select {
		case ev := <-d.queue:
			d.forward(ev)
		case <-d.stop:
			for {
				select {
				case ev := <-d.queue:
					d.forward(ev)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) forward(ev Event) {
	d.sink.Emit(context.Background(), ev)
	d.delivered.Add(1)
}

func (d *Dispatcher) drop(ev Event) {
	d.dropped.Add(1)
	if d.onDrop != nil {
		d.onDrop(ev)
	}
}

// Emit queues ev and reports whether it was accepted. Filtered-out types and
// events emitted after Close are ignored without counting as drops.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) bool {
	if d == nil || d.stopped.Load() {
		return false
	}
	if d.allow != nil {
		if _, ok := d.allow[ev.EventType]; !ok {
			d.filtered.Add(1)
			return false
		}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.dropIfFull {
		select {
		case d.queue <- ev:
			return true
		case <-d.stop:
			return false
		default:
			d.drop(ev)
			return false
		}
	}

	select {
	case d.queue <- ev:
		return true
	case <-ctx.Done():
		d.drop(ev)
		return false
	case <-d.stop:
		return false
	}
}

// Close stops intake and returns once every accepted event reached the sink.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() {
		d.stopped.Store(true)
		close(d.stop)
	})
	<-d.finished
}

// Dropped counts events lost to a full queue or a cancelled context.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Delivered counts events handed to the sink.
func (d *Dispatcher) Delivered() uint64 {
	if d == nil {
		return 0
	}
	return d.delivered.Load()
}

// Filtered counts events skipped by Config.Types.
func (d *Dispatcher) Filtered() uint64 {
	if d == nil {
		return 0
	}
	return d.filtered.Load()
}
