package channel

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"clawbot/internal/bus"
	"clawbot/internal/domain"
	"clawbot/internal/metrics"
)

// pollPageSize bounds how many rows one tick may fetch, capping per-tick latency.
const pollPageSize = 20

// Record is one row fetched from a polled local message store.
type Record struct {
	Position int64
	Sender   string
	Text     string
}

// StoreSource abstracts the external query mechanism of a local message
// store, so the cursor arithmetic, filtering, and dedup logic can be tested
// without spawning real subprocesses.
type StoreSource interface {
	// MaxPosition returns the store's current maximum position, used to seed
	// the cursor so pre-existing history is never replayed.
	MaxPosition(ctx context.Context) (int64, error)

	// FetchAfter returns up to limit records with position strictly greater
	// than pos, in ascending position order.
	FetchAfter(ctx context.Context, pos int64, limit int) ([]Record, error)
}

// Poller drives the fetch/filter/emit cycle for a polling channel. The
// cursor only moves forward, lives for the duration of the loop, and is
// owned exclusively by the running loop. Send never touches it.
type Poller struct {
	channel  string
	source   StoreSource
	allow    AllowList
	interval time.Duration
	logger   *slog.Logger
	events   *bus.EventBus
	cursor   int64
}

// NewPoller creates a poller for the named channel.
func NewPoller(channelName string, source StoreSource, allow AllowList, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Poller{
		channel:  channelName,
		source:   source,
		allow:    allow,
		interval: interval,
		logger:   logger,
	}
}

// Cursor returns the current cursor position. Only meaningful to the owning
// loop and to tests driving the poller synchronously.
func (p *Poller) Cursor() int64 { return p.cursor }

// Seed initializes the cursor from the store's current maximum position so
// history before startup is never replayed. On failure the cursor starts at
// zero: that risks replaying history but beats refusing to start.
func (p *Poller) Seed(ctx context.Context) {
	max, err := p.source.MaxPosition(ctx)
	if err != nil {
		p.logger.Warn("cursor seed failed, starting from zero", "channel", p.channel, "err", err)
		max = 0
	}
	p.cursor = max
}

// Run polls until ctx is cancelled or the bus is closed. Fetch failures are
// logged and retried next tick; they never end the loop.
func (p *Poller) Run(ctx context.Context, mbus domain.MessageBus) error {
	p.Seed(ctx)
	p.logger.Info("polling started",
		"channel", p.channel, "cursor", p.cursor, "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if closed := p.Tick(ctx, mbus); closed {
				return nil
			}
		}
	}
}

// Tick performs one fetch/filter/emit step. It reports true once the bus is
// closed, which is the cooperative shutdown signal for the loop.
func (p *Poller) Tick(ctx context.Context, mbus domain.MessageBus) (closed bool) {
	records, err := p.source.FetchAfter(ctx, p.cursor, pollPageSize)
	if err != nil {
		// Cursor stays put so nothing is skipped; next tick retries.
		p.logger.Warn("poll fetch failed", "channel", p.channel, "err", err)
		metrics.PollFailures(p.channel).Inc()
		p.emit(bus.EventPollFailed, map[string]any{"err": err.Error()})
		return false
	}

	for _, rec := range records {
		// Advance the cursor for every fetched row, including denied and
		// empty ones, so they are consumed exactly once and never retried.
		if rec.Position > p.cursor {
			p.cursor = rec.Position
		}

		if !p.allow.Allows(rec.Sender) {
			metrics.Denied(p.channel).Inc()
			p.emit(bus.EventMessageDenied, map[string]any{"sender": rec.Sender})
			continue
		}
		if strings.TrimSpace(rec.Text) == "" {
			metrics.Empty(p.channel).Inc()
			p.emit(bus.EventMessageEmpty, map[string]any{"sender": rec.Sender})
			continue
		}

		msg := domain.InboundMessage{
			ID:        strconv.FormatInt(rec.Position, 10),
			Channel:   p.channel,
			SenderID:  rec.Sender,
			ChatID:    rec.Sender,
			Content:   rec.Text,
			Timestamp: time.Now(),
		}
		if err := mbus.Publish(msg); err != nil {
			return true
		}
		metrics.Received(p.channel).Inc()
		p.emit(bus.EventMessageReceived, map[string]any{"id": msg.ID, "sender": rec.Sender})
	}
	return false
}

func (p *Poller) emit(eventType string, payload map[string]any) {
	if p.events == nil {
		return
	}
	p.events.Emit(bus.Event{Type: eventType, Channel: p.channel, Payload: payload})
}
