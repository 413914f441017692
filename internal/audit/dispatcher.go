package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull sheds routine events when the queue is full. Critical
	// events still wait for room.
	DropIfFull bool
}

// critical events record key material changes or a fail-closed revocation
// path. Losing one hides an incident, so they are never shed.
var critical = map[string]bool{
	EventSecretRotated:      true,
	EventSigningKeyRotated:  true,
	EventEncryptionRotated:  true,
	EventRevocationDegraded: true,
	EventSecurityAuditRun:   true,
}

// IsCritical reports whether eventType bypasses DropIfFull.
func IsCritical(eventType string) bool { return critical[eventType] }

// Dispatcher hands events to a sink on a single background goroutine so
// token operations never wait on sink I/O. A nil *Dispatcher drops
// everything.
type Dispatcher struct {
	shed  bool
	sink  Sink
	queue chan Event
	stop  chan struct{}
	idle  sync.WaitGroup

	stopping atomic.Bool
	stopOnce sync.Once

	delivered atomic.Uint64
	panicked  atomic.Uint64

	mu        sync.Mutex
	shedCount map[string]uint64
	shedTotal atomic.Uint64
}

// NewDispatcher returns nil when cfg is disabled.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	d := &Dispatcher{
		shed:      cfg.DropIfFull,
		sink:      sink,
		queue:     make(chan Event, max(cfg.BufferSize, 1)),
		stop:      make(chan struct{}),
		shedCount: make(map[string]uint64),
	}
	d.idle.Add(1)
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer d.idle.Done()
	for {
		select {
		case ev := <-d.queue:
			d.hand(ev)
		case <-d.stop:
			d.flush()
			return
		}
	}
}

// flush delivers whatever is still queued once stop is closed.
func (d *Dispatcher) flush() {
	for {
		select {
		case ev := <-d.queue:
			d.hand(ev)
		default:
			return
		}
	}
}

// hand delivers one event. A panicking sink costs that event, not the
// goroutine.
func (d *Dispatcher) hand(ev Event) {
	defer func() {
		if recover() != nil {
			d.panicked.Add(1)
		}
	}()
	d.sink.Emit(context.Background(), ev)
	d.delivered.Add(1)
}

// Emit queues ev. Routine events are shed on a full queue when DropIfFull is
// set; otherwise Emit waits for room, ctx or Close.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	if d == nil || d.stopping.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if d.shed && !critical[ev.EventType] {
		select {
		case d.queue <- ev:
		case <-d.stop:
		default:
			d.countShed(ev.EventType)
		}
		return
	}
	select {
	case d.queue <- ev:
	case <-ctx.Done():
	case <-d.stop:
	}
}

func (d *Dispatcher) countShed(eventType string) {
	d.shedTotal.Add(1)
	d.mu.Lock()
	d.shedCount[eventType]++
	d.mu.Unlock()
}

// Close delivers what is queued, then stops. Later calls are no-ops.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() {
		d.stopping.Store(true)
		close(d.stop)
		d.idle.Wait()
	})
}

// Dropped is the number of events shed because the queue was full.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.shedTotal.Load()
}

// DroppedByType splits Dropped by event type.
func (d *Dispatcher) DroppedByType() map[string]uint64 {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]uint64, len(d.shedCount))
	for k, v := range d.shedCount {
		out[k] = v
	}
	return out
}

func (d *Dispatcher) Emitted() uint64 {
	if d == nil {
		return 0
	}
	return d.delivered.Load()
}

// SinkPanics counts events lost to a panicking sink.
func (d *Dispatcher) SinkPanics() uint64 {
	if d == nil {
		return 0
	}
	return d.panicked.Load()
}
