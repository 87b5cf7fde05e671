package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"clawbot/internal/bus"
	"clawbot/internal/domain"
)

// Registry holds all configured channels and owns their listen-loop
// goroutines. A panicking channel is isolated: the panic is recovered,
// reported, and the remaining channels keep running.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]domain.Channel
	order    []string
	logger   *slog.Logger
	events   *bus.EventBus
	wg       sync.WaitGroup
}

// NewRegistry creates an empty registry. The event bus may be nil; lifecycle
// events are then only logged.
func NewRegistry(logger *slog.Logger, events *bus.EventBus) *Registry {
	return &Registry{
		channels: make(map[string]domain.Channel),
		logger:   logger,
		events:   events,
	}
}

// Register adds a channel under its own name. Duplicate names are an error.
// Channels that emit ingestion events get the registry's event bus attached.
func (r *Registry) Register(ch domain.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := ch.Name()
	if _, exists := r.channels[name]; exists {
		return fmt.Errorf("channel %q already registered", name)
	}
	if ea, ok := ch.(eventsAttacher); ok && r.events != nil {
		ea.attachEvents(r.events)
	}
	r.channels[name] = ch
	r.order = append(r.order, name)
	return nil
}

// eventsAttacher is implemented by channels whose listen loops emit
// ingestion events (message.denied, poll.failed, ...).
type eventsAttacher interface {
	attachEvents(*bus.EventBus)
}

// Get returns the channel registered under name.
func (r *Registry) Get(name string) (domain.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[name]
	return ch, ok
}

// Names returns channel names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Send routes an outbound message directly to a named channel. Unknown
// channel names are an error, never a silent drop.
func (r *Registry) Send(ctx context.Context, name, chatID, content string) error {
	ch, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownChannel, name)
	}
	return ch.Send(ctx, chatID, content)
}

// StartAll launches one listen-loop goroutine per registered channel. Each
// goroutine recovers its own panics so one faulty adapter cannot bring the
// ingestion core down.
func (r *Registry) StartAll(ctx context.Context, mbus domain.MessageBus) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range r.order {
		ch := r.channels[name]
		r.wg.Add(1)
		go func(name string, ch domain.Channel) {
			defer r.wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("channel panicked", "channel", name, "panic", rec)
					r.emit(bus.EventChannelPanic, name, map[string]any{"panic": fmt.Sprint(rec)})
				}
			}()

			r.logger.Info("channel starting", "channel", name)
			r.emit(bus.EventChannelStarted, name, nil)

			if err := ch.Start(ctx, mbus); err != nil {
				r.logger.Error("channel exited with error", "channel", name, "err", err)
			} else {
				r.logger.Info("channel stopped", "channel", name)
			}
			r.emit(bus.EventChannelStopped, name, nil)
		}(name, ch)
	}
}

// Wait blocks until every listen loop has returned.
func (r *Registry) Wait() {
	r.wg.Wait()
}

// StopAll stops every channel in registration order. Individual stop
// failures are logged and do not prevent stopping the rest.
func (r *Registry) StopAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		if err := r.channels[name].Stop(); err != nil {
			r.logger.Warn("channel stop failed", "channel", name, "err", err)
		}
	}
}

// Health probes every channel and returns its readiness by name.
func (r *Registry) Health(ctx context.Context) map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(r.channels))
	for name, ch := range r.channels {
		out[name] = ch.Healthy(ctx)
	}
	return out
}

func (r *Registry) emit(eventType, channelName string, payload map[string]any) {
	if r.events == nil {
		return
	}
	r.events.Emit(bus.Event{Type: eventType, Channel: channelName, Payload: payload})
}

// busDone exposes the bus's shutdown signal when the implementation has one.
// A nil channel blocks forever in a select, so callers on a bus without one
// fall back to ctx cancellation alone.
func busDone(b domain.MessageBus) <-chan struct{} {
	if d, ok := b.(interface{ Done() <-chan struct{} }); ok {
		return d.Done()
	}
	return nil
}
