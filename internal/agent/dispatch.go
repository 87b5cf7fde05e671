package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"clawbot/internal/bus"
	"clawbot/internal/domain"
	"clawbot/internal/metrics"
)

// Responder produces the reply for one inbound message.
type Responder interface {
	Respond(ctx context.Context, msg domain.InboundMessage) (string, error)
}

// ResponderFunc adapts a function to the Responder interface.
type ResponderFunc func(ctx context.Context, msg domain.InboundMessage) (string, error)

func (f ResponderFunc) Respond(ctx context.Context, msg domain.InboundMessage) (string, error) {
	return f(ctx, msg)
}

// Dispatcher is the single consumer of the delivery queue. It hands each
// message to the responder, bounded by a concurrency limit, and routes the
// reply back through the channel that produced the message.
type Dispatcher struct {
	bus       domain.MessageBus
	responder Responder
	logger    *slog.Logger
	events    *bus.EventBus
	sem       chan struct{}
	wg        sync.WaitGroup
}

// DispatcherConfig configures the dispatcher.
type DispatcherConfig struct {
	Bus       domain.MessageBus
	Responder Responder
	// Events receives delivery-failure events when set.
	Events *bus.EventBus
	// MaxConcurrent bounds in-flight responder calls, default 5.
	MaxConcurrent int
}

func NewDispatcher(cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	return &Dispatcher{
		bus:       cfg.Bus,
		responder: cfg.Responder,
		logger:    logger,
		events:    cfg.Events,
		sem:       make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Run consumes the queue until ctx is cancelled, then waits for in-flight
// messages to finish.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started", "max_concurrent", cap(d.sem))
	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			d.logger.Info("dispatcher stopped")
			return
		case msg := <-d.bus.Subscribe():
			metrics.QueueDepth.Set(int64(queueDepth(d.bus)))

			select {
			case d.sem <- struct{}{}:
			case <-ctx.Done():
				d.wg.Wait()
				return
			}

			d.wg.Add(1)
			go func(msg domain.InboundMessage) {
				defer d.wg.Done()
				defer func() { <-d.sem }()
				d.handle(ctx, msg)
			}(msg)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, msg domain.InboundMessage) {
	start := time.Now()
	reply, err := d.responder.Respond(ctx, msg)
	if err != nil {
		d.logger.Error("responder failed",
			"channel", msg.Channel, "chat_id", msg.ChatID, "err", err)
		reply = "Sorry, something went wrong handling that message."
	}
	if reply == "" {
		return
	}

	if err := d.bus.SendOutbound(domain.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: reply,
	}); err != nil {
		// A reply that cannot be delivered is an operational failure worth
		// surfacing, never a silent drop.
		d.logger.Error("reply delivery failed",
			"channel", msg.Channel, "chat_id", msg.ChatID, "err", err)
		if d.events != nil {
			d.events.Emit(bus.Event{
				Type:    bus.EventSendFailed,
				Channel: msg.Channel,
				Payload: map[string]any{"chat_id": msg.ChatID, "err": err.Error()},
			})
		}
		return
	}
	d.logger.Debug("message handled",
		"channel", msg.Channel, "duration", time.Since(start))
}

// queueDepth reads the bus depth when the implementation exposes it.
func queueDepth(b domain.MessageBus) int {
	if d, ok := b.(interface{ Depth() int }); ok {
		return d.Depth()
	}
	return 0
}
