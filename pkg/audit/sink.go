// Package audit records structured security events: pairing attempts,
// authorization failures, and revocations. Event detail never carries secret
// material (tokens, codes, private keys).
package audit

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event types emitted by the trusted channel server and registry callers.
const (
	EventPairingSucceeded = "pairing_succeeded"
	EventPairingFailed    = "pairing_failed"
	EventAuthFailed       = "auth_failed"
	EventRateLimited      = "rate_limited"
	EventRejected         = "connection_rejected"
	EventDeviceRevoked    = "device_revoked"
)

// Event is a single audit record.
type Event struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Client    string         `json:"client"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Sink receives audit events. Implementations must be safe for concurrent use.
type Sink interface {
	Record(event Event)
}

// LogSink writes audit events to a zerolog logger.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink builds a sink over logger.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "audit").Logger()}
}

func (s *LogSink) Record(event Event) {
	entry := s.logger.Info().
		Str("event", event.Type).
		Time("at", event.Timestamp).
		Str("client", event.Client)
	if len(event.Detail) > 0 {
		entry = entry.Fields(event.Detail)
	}
	entry.Msg("audit event")
}

// MemorySink retains events in memory for tests and the admin API.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Record(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// Events returns a copy of everything recorded so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// Record is a convenience for emitting a timestamped event to sink.
func Record(sink Sink, eventType, client string, detail map[string]any) {
	if sink == nil {
		return
	}
	sink.Record(Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Client:    client,
		Detail:    detail,
	})
}
