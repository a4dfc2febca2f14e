package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Event types emitted by the pool.
const (
	EventAccountAdded       = "account_added"
	EventAccountRemoved     = "account_removed"
	EventAccountUpdated     = "account_updated"
	EventAccountInvalidated = "account_invalidated"
	EventAccountRateLimited = "account_rate_limited"
	EventRateLimitsReset    = "rate_limits_reset"
	EventSettingsUpdated    = "settings_updated"
	EventRetryExhausted     = "retry_exhausted"
)

// Event is one audit record. Email is always masked.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	AccountID string            `json:"account_id,omitempty"`
	Email     string            `json:"email,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// EventTypes lists every type the pool emits.
var EventTypes = []string{
	EventAccountAdded,
	EventAccountRemoved,
	EventAccountUpdated,
	EventAccountInvalidated,
	EventAccountRateLimited,
	EventRateLimitsReset,
	EventSettingsUpdated,
	EventRetryExhausted,
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	mu     sync.Mutex
	writer io.Writer
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	data = append(data, '\n')

	s.mu.Lock()
	_, _ = s.writer.Write(data)
	s.mu.Unlock()
}

// LogrusSink writes each event as one structured log entry at Info level,
// or Warn for unsuccessful events.
type LogrusSink struct {
	log logrus.FieldLogger
}

func NewLogrusSink(l logrus.FieldLogger) *LogrusSink {
	return &LogrusSink{log: l}
}

func (s *LogrusSink) Emit(_ context.Context, event Event) {
	if s == nil || s.log == nil {
		return
	}
	fields := logrus.Fields{
		"audit":      true,
		"event_type": event.EventType,
		"success":    event.Success,
	}
	if event.AccountID != "" {
		fields["account_id"] = event.AccountID
	}
	if event.Email != "" {
		fields["email"] = event.Email
	}
	if event.Error != "" {
		fields["error"] = event.Error
	}
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}

	entry := s.log.WithFields(fields)
	if event.Success {
		entry.Info("audit event")
		return
	}
	entry.Warn("audit event")
}

// MultiSink fans each event out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, event)
		}
	}
}
