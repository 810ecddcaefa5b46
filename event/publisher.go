/*
Package event provides EventPublisher implementations.

PURPOSE:
  The ledger engine and bin registry publish post-commit events through
  the Publish(event, payload) contract. Delivery transport (websocket
  broker, message queue) is out of scope; this package ships a logging
  publisher for the server and a recording publisher for tests.
*/
package event

import (
	"log"
	"sync"
)

// =============================================================================
// LOG PUBLISHER - Server default
// =============================================================================

// Log writes events to the standard logger.
type Log struct{}

func NewLog() *Log { return &Log{} }

func (l *Log) Publish(event string, payload map[string]any) {
	log.Printf("event %s: %v", event, payload)
}

// =============================================================================
// MEMORY PUBLISHER - Records events for tests
// =============================================================================

// Recorded is a captured event.
type Recorded struct {
	Event   string
	Payload map[string]any
}

// Memory records every published event.
type Memory struct {
	mu     sync.Mutex
	events []Recorded
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Publish(event string, payload map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, Recorded{Event: event, Payload: payload})
}

// Events returns a copy of everything published so far.
func (m *Memory) Events() []Recorded {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Recorded{}, m.events...)
}

// ByName returns published events matching the given name.
func (m *Memory) ByName(event string) []Recorded {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Recorded
	for _, e := range m.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}
