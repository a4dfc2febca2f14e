package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Emit(context.Context, Event) {
	<-s.release
}

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NoOpSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{EventType: EventAccountAdded})
	d.Close()
	if d.Dropped() != 0 || d.Delivered() != 0 {
		t.Fatal("nil dispatcher must read as zero")
	}
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	sink := NewChannelSink(4)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4}, sink)

	d.Emit(context.Background(), Event{EventType: EventAccountAdded, AccountID: "acc_1"})
	d.Emit(context.Background(), Event{EventType: EventAccountRemoved, AccountID: "acc_1"})
	d.Close()

	first := <-sink.Events()
	second := <-sink.Events()
	if first.EventType != EventAccountAdded || second.EventType != EventAccountRemoved {
		t.Fatalf("unexpected order: %s, %s", first.EventType, second.EventType)
	}
	if d.Delivered() != 2 {
		t.Fatalf("expected 2 delivered, got %d", d.Delivered())
	}
}

func TestDispatcherDropIfFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	// The first event is taken by the worker and blocks in the sink; the
	// second fills the buffer; the rest are dropped.
	d.Emit(context.Background(), Event{EventType: EventAccountAdded})
	deadline := time.Now().Add(time.Second)
	for len(d.queue) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	for i := 0; i < 4; i++ {
		d.Emit(context.Background(), Event{EventType: EventAccountAdded})
	}

	if got := d.Dropped(); got != 3 {
		t.Fatalf("expected 3 dropped, got %d", got)
	}
	close(sink.release)
	d.Close()
}

func TestDispatcherIgnoresEmitAfterClose(t *testing.T) {
	sink := NewChannelSink(2)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 2}, sink)
	d.Close()
	d.Emit(context.Background(), Event{EventType: EventAccountAdded})

	select {
	case ev := <-sink.Events():
		t.Fatalf("unexpected event after close: %+v", ev)
	default:
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{EventType: EventAccountInvalidated, AccountID: "acc_9", Email: "abc***@example.com"})
	sink.Emit(context.Background(), Event{EventType: EventRateLimitsReset, Success: true})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var ev Event
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.AccountID != "acc_9" || ev.EventType != EventAccountInvalidated {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestDispatcherTypeFilter(t *testing.T) {
	sink := NewChannelSink(4)
	d := NewDispatcher(Config{
		Enabled:    true,
		BufferSize: 4,
		Types:      []string{EventAccountInvalidated},
	}, sink)

	if d.Emit(context.Background(), Event{EventType: EventAccountAdded}) {
		t.Fatal("filtered event reported as accepted")
	}
	if !d.Emit(context.Background(), Event{EventType: EventAccountInvalidated, AccountID: "acc_2"}) {
		t.Fatal("allowed event rejected")
	}
	d.Close()

	if d.Filtered() != 1 || d.Delivered() != 1 || d.Dropped() != 0 {
		t.Fatalf("unexpected counters: filtered=%d delivered=%d dropped=%d", d.Filtered(), d.Delivered(), d.Dropped())
	}
	if ev := <-sink.Events(); ev.AccountID != "acc_2" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestDispatcherOnDropAndCancelledContext(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	var droppedTypes []string
	d := NewDispatcher(Config{
		Enabled:    true,
		BufferSize: 1,
		OnDrop:     func(ev Event) { droppedTypes = append(droppedTypes, ev.EventType) },
	}, sink)

	d.Emit(context.Background(), Event{EventType: EventAccountAdded})
	deadline := time.Now().Add(time.Second)
	for len(d.queue) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	d.Emit(context.Background(), Event{EventType: EventAccountUpdated})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if d.Emit(ctx, Event{EventType: EventRetryExhausted}) {
		t.Fatal("expected cancelled emit to be rejected")
	}

	if d.Dropped() != 1 || len(droppedTypes) != 1 || droppedTypes[0] != EventRetryExhausted {
		t.Fatalf("unexpected drops: %d %v", d.Dropped(), droppedTypes)
	}
	close(sink.release)
	d.Close()
	if d.Delivered() != 2 {
		t.Fatalf("expected queued events delivered on close, got %d", d.Delivered())
	}
}

func TestLogrusSink(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	sink := NewLogrusSink(logger)

	sink.Emit(context.Background(), Event{EventType: EventAccountAdded, AccountID: "acc_1", Success: true})
	sink.Emit(context.Background(), Event{
		EventType: EventAccountInvalidated,
		AccountID: "acc_1",
		Email:     "abc***@example.com",
		Error:     "invalid credentials",
		Metadata:  map[string]string{"reason": "upstream"},
	})

	entries := hook.AllEntries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != logrus.InfoLevel || entries[1].Level != logrus.WarnLevel {
		t.Fatalf("unexpected levels: %s, %s", entries[0].Level, entries[1].Level)
	}
	if entries[1].Data["meta_reason"] != "upstream" || entries[1].Data["email"] != "abc***@example.com" {
		t.Fatalf("unexpected fields: %v", entries[1].Data)
	}
}

func TestMultiSinkFansOut(t *testing.T) {
	a, b := NewChannelSink(1), NewChannelSink(1)
	MultiSink{a, nil, b}.Emit(context.Background(), Event{EventType: EventSettingsUpdated})

	if (<-a.Events()).EventType != EventSettingsUpdated || (<-b.Events()).EventType != EventSettingsUpdated {
		t.Fatal("expected both sinks to receive the event")
	}
}
