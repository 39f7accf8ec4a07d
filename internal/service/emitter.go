package service

import (
	"context"
	"encoding/json"
	"log"
	"sync"
)

// Events published by SyncService.
const (
	EventRowIngested   = "sync:row-ingested"
	EventCellUpdated   = "sync:cell-updated"
	EventRowDeleted    = "sync:row-deleted"
	EventReconciled    = "sync:reconciled"
	EventPollCompleted = "sync:poll-completed"
)

// ─────────────────────────────────────────────────────────────
// EventEmitter: decouples services from whoever listens
// ─────────────────────────────────────────────────────────────

// EventEmitter receives a notification after every state change the service
// makes. The server wires a LogEmitter; tests use MockEmitter.
type EventEmitter interface {
	Emit(ctx context.Context, event string, data any)
}

// LogEmitter writes each event as one JSON log line.
type LogEmitter struct {
	Logger *log.Logger
}

func (e LogEmitter) Emit(_ context.Context, event string, data any) {
	if e.Logger == nil {
		return
	}
	b, err := json.Marshal(data)
	if err != nil {
		e.Logger.Printf("%s (unencodable payload: %v)", event, err)
		return
	}
	e.Logger.Printf("%s %s", event, b)
}

// MockEmitter is a test-friendly EventEmitter that records all calls.
type MockEmitter struct {
	mu     sync.Mutex
	Events []EmittedEvent
}

// EmittedEvent holds a single recorded emission for test assertions.
type EmittedEvent struct {
	Event string
	Data  any
}

func (m *MockEmitter) Emit(_ context.Context, event string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, EmittedEvent{Event: event, Data: data})
}

// Names returns the recorded event names in order.
func (m *MockEmitter) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.Events))
	for i, e := range m.Events {
		names[i] = e.Event
	}
	return names
}
