package gossip

import (
	"context"
	"log/slog"
	"sync"
)

// dispatcher pumps feed events from a channel to subscribers on a single
// delivery goroutine, so subscriber ordering matches observation order.
type dispatcher struct {
	mu   sync.RWMutex
	subs []func(Event)

	in     chan Event
	wg     sync.WaitGroup
	cancel func()
}

func newDispatcher(buffer int) *dispatcher {
	return &dispatcher{
		in:     make(chan Event, buffer),
		cancel: func() {},
	}
}

func (d *dispatcher) subscribe(fn func(Event)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = append(d.subs, fn)
}

// publish enqueues an event for delivery. Drops the event when the buffer is
// full rather than stalling the watcher that observed it; a dropped version
// signal is re-detected on the next advertisement.
func (d *dispatcher) publish(ev Event) {
	select {
	case d.in <- ev:
	default:
		slog.Warn("gossip event buffer full, dropping event", "kind", ev.Kind.String(), "addr", ev.Addr)
	}
}

func (d *dispatcher) start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)

	go func() {
		defer d.wg.Done()
		for {
			select {
			case ev := <-d.in:
				d.deliver(ev)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (d *dispatcher) deliver(ev Event) {
	d.mu.RLock()
	subs := make([]func(Event), len(d.subs))
	copy(subs, d.subs)
	d.mu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}

func (d *dispatcher) stop() {
	d.cancel()
	d.wg.Wait()
}
