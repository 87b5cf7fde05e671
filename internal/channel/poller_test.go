package channel

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"clawbot/internal/bus"
	"clawbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// fakeStore is an in-memory StoreSource for driving the poller synchronously.
type fakeStore struct {
	records  []Record
	maxErr   error
	fetchErr error
	fetches  int
}

func (f *fakeStore) MaxPosition(ctx context.Context) (int64, error) {
	if f.maxErr != nil {
		return 0, f.maxErr
	}
	var max int64
	for _, r := range f.records {
		if r.Position > max {
			max = r.Position
		}
	}
	return max, nil
}

func (f *fakeStore) FetchAfter(ctx context.Context, pos int64, limit int) ([]Record, error) {
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var out []Record
	for _, r := range f.records {
		if r.Position > pos {
			out = append(out, r)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func drain(b *bus.InMemoryBus) []domain.InboundMessage {
	var out []domain.InboundMessage
	for {
		select {
		case msg := <-b.Subscribe():
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestPollerSeedExcludesHistory(t *testing.T) {
	store := &fakeStore{records: []Record{
		{Position: 1, Sender: "+111", Text: "old one"},
		{Position: 2, Sender: "+111", Text: "old two"},
	}}
	b := bus.New(10, testLogger())
	defer b.Close()

	p := NewPoller("imessage", store, AllowList{"*"}, time.Second, testLogger())
	p.Seed(context.Background())

	if p.Cursor() != 2 {
		t.Fatalf("seed cursor = %d, want 2", p.Cursor())
	}
	p.Tick(context.Background(), b)
	if msgs := drain(b); len(msgs) != 0 {
		t.Errorf("pre-existing history was replayed: %+v", msgs)
	}
}

func TestPollerSeedFailureFallsBackToZero(t *testing.T) {
	store := &fakeStore{maxErr: errors.New("store locked")}
	p := NewPoller("imessage", store, AllowList{"*"}, time.Second, testLogger())
	p.Seed(context.Background())
	if p.Cursor() != 0 {
		t.Errorf("cursor = %d after failed seed, want 0", p.Cursor())
	}
}

func TestPollerCursorMonotonicAndIdempotentRepoll(t *testing.T) {
	store := &fakeStore{}
	b := bus.New(10, testLogger())
	defer b.Close()

	p := NewPoller("imessage", store, AllowList{"*"}, time.Second, testLogger())
	p.Seed(context.Background())

	store.records = []Record{
		{Position: 1, Sender: "+111", Text: "one"},
		{Position: 2, Sender: "+111", Text: "two"},
		{Position: 3, Sender: "+111", Text: "three"},
	}
	p.Tick(context.Background(), b)

	if p.Cursor() != 3 {
		t.Fatalf("cursor = %d, want 3", p.Cursor())
	}
	msgs := drain(b)
	if len(msgs) != 3 {
		t.Fatalf("emitted %d messages, want 3", len(msgs))
	}
	for i, want := range []string{"1", "2", "3"} {
		if msgs[i].ID != want {
			t.Errorf("message %d has id %s, want %s (ascending order)", i, msgs[i].ID, want)
		}
	}

	// Re-polling the same underlying data emits nothing.
	p.Tick(context.Background(), b)
	if msgs := drain(b); len(msgs) != 0 {
		t.Errorf("re-poll emitted %d duplicate messages", len(msgs))
	}
}

func TestPollerAllowedSenderEmitted(t *testing.T) {
	store := &fakeStore{records: []Record{{Position: 1, Sender: "+1234567890", Text: "hi"}}}
	b := bus.New(10, testLogger())
	defer b.Close()

	p := NewPoller("imessage", store, AllowList{"+1234567890"}, time.Second, testLogger())
	p.Tick(context.Background(), b)

	msgs := drain(b)
	if len(msgs) != 1 {
		t.Fatalf("emitted %d messages, want 1", len(msgs))
	}
	if msgs[0].SenderID != "+1234567890" || msgs[0].Channel != "imessage" {
		t.Errorf("unexpected message: %+v", msgs[0])
	}
}

func TestPollerDeniedSenderStillAdvancesCursor(t *testing.T) {
	store := &fakeStore{records: []Record{{Position: 5, Sender: "+9999999999", Text: "spam"}}}
	b := bus.New(10, testLogger())
	defer b.Close()

	p := NewPoller("imessage", store, AllowList{"+1234567890"}, time.Second, testLogger())
	p.Tick(context.Background(), b)

	if msgs := drain(b); len(msgs) != 0 {
		t.Errorf("denied sender was emitted: %+v", msgs)
	}
	if p.Cursor() != 5 {
		t.Errorf("cursor = %d, want 5 (denied rows are still consumed)", p.Cursor())
	}
}

func TestPollerCaseInsensitiveAllow(t *testing.T) {
	store := &fakeStore{records: []Record{{Position: 1, Sender: "user@example.com", Text: "hello"}}}
	b := bus.New(10, testLogger())
	defer b.Close()

	p := NewPoller("imessage", store, AllowList{"User@Example.com"}, time.Second, testLogger())
	p.Tick(context.Background(), b)

	if msgs := drain(b); len(msgs) != 1 {
		t.Errorf("case-insensitive match should emit, got %d messages", len(msgs))
	}
}

func TestPollerEmptyBodyNeverEmitted(t *testing.T) {
	store := &fakeStore{records: []Record{
		{Position: 1, Sender: "+111", Text: ""},
		{Position: 2, Sender: "+111", Text: "   \t\n"},
		{Position: 3, Sender: "+111", Text: "real"},
	}}
	b := bus.New(10, testLogger())
	defer b.Close()

	p := NewPoller("imessage", store, AllowList{"*"}, time.Second, testLogger())
	p.Tick(context.Background(), b)

	msgs := drain(b)
	if len(msgs) != 1 || msgs[0].Content != "real" {
		t.Errorf("expected only the non-empty message, got %+v", msgs)
	}
	if p.Cursor() != 3 {
		t.Errorf("cursor = %d, want 3", p.Cursor())
	}
}

func TestPollerFetchFailureLeavesCursorAndContinues(t *testing.T) {
	store := &fakeStore{fetchErr: errors.New("sqlite3 exited 1")}
	b := bus.New(10, testLogger())
	defer b.Close()

	p := NewPoller("imessage", store, AllowList{"*"}, time.Second, testLogger())
	before := p.Cursor()

	if closed := p.Tick(context.Background(), b); closed {
		t.Error("fetch failure must not end the loop")
	}
	if p.Cursor() != before {
		t.Errorf("cursor moved on failed fetch: %d -> %d", before, p.Cursor())
	}

	// Next tick succeeds and picks everything up.
	store.fetchErr = nil
	store.records = []Record{{Position: 1, Sender: "+111", Text: "late"}}
	p.Tick(context.Background(), b)
	if msgs := drain(b); len(msgs) != 1 {
		t.Errorf("recovered tick emitted %d messages, want 1", len(msgs))
	}
}

func TestPollerClosedBusEndsLoop(t *testing.T) {
	store := &fakeStore{records: []Record{{Position: 1, Sender: "+111", Text: "hi"}}}
	b := bus.New(10, testLogger())
	b.Close()

	p := NewPoller("imessage", store, AllowList{"*"}, time.Second, testLogger())
	if closed := p.Tick(context.Background(), b); !closed {
		t.Error("closed bus should end the loop cooperatively")
	}
}

func TestPollerEmitsIngestionEvents(t *testing.T) {
	store := &fakeStore{records: []Record{
		{Position: 1, Sender: "+999", Text: "spam"},
		{Position: 2, Sender: "+111", Text: "   "},
		{Position: 3, Sender: "+111", Text: "hello"},
	}}
	b := bus.New(10, testLogger())
	defer b.Close()

	ev := bus.NewEventBus(testLogger())
	var got []string
	ev.On("*", func(e bus.Event) { got = append(got, e.Type) })

	p := NewPoller("imessage", store, AllowList{"+111"}, time.Second, testLogger())
	p.events = ev
	p.Tick(context.Background(), b)

	want := []string{bus.EventMessageDenied, bus.EventMessageEmpty, bus.EventMessageReceived}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, got[i], want[i])
		}
	}

	got = nil
	store.records = nil
	store.fetchErr = errors.New("sqlite3 exited 1")
	p.Tick(context.Background(), b)
	if len(got) != 1 || got[0] != bus.EventPollFailed {
		t.Errorf("events after failed fetch = %v, want [%s]", got, bus.EventPollFailed)
	}
}

func TestPollerPageSizeBoundsFetch(t *testing.T) {
	store := &fakeStore{}
	for i := int64(1); i <= 50; i++ {
		store.records = append(store.records, Record{Position: i, Sender: "+111", Text: "m"})
	}
	b := bus.New(64, testLogger())
	defer b.Close()

	p := NewPoller("imessage", store, AllowList{"*"}, time.Second, testLogger())
	p.Tick(context.Background(), b)

	if got := len(drain(b)); got != pollPageSize {
		t.Errorf("one tick emitted %d messages, want %d", got, pollPageSize)
	}
	if p.Cursor() != pollPageSize {
		t.Errorf("cursor = %d, want %d", p.Cursor(), pollPageSize)
	}
}
