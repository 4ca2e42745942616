// Package store keeps the latest tool input and tool result a host pushed to each widget, so a
// widget that reloads can be brought back to the same state.
package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Memory is an in-process store. Entries older than the TTL are treated as missing; a zero TTL
// keeps them forever.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	widgets map[string]widgetState
}

type widgetState struct {
	input        json.RawMessage
	inputExpiry  time.Time
	result       json.RawMessage
	resultExpiry time.Time
}

// NewMemory creates an empty in-process store.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		now:     time.Now,
		widgets: make(map[string]widgetState),
	}
}

// SaveToolInput stores input as the latest tool input of the widget.
func (m *Memory) SaveToolInput(_ context.Context, widgetID string, input json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.widgets[widgetID]
	st.input = clone(input)
	st.inputExpiry = m.expiry()
	m.widgets[widgetID] = st
	return nil
}

// SaveToolResult stores result as the latest tool result of the widget.
func (m *Memory) SaveToolResult(_ context.Context, widgetID string, result json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.widgets[widgetID]
	st.result = clone(result)
	st.resultExpiry = m.expiry()
	m.widgets[widgetID] = st
	return nil
}

// ToolState returns the stored values, nil for missing or expired ones.
func (m *Memory) ToolState(_ context.Context, widgetID string) (json.RawMessage, json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.widgets[widgetID]
	if !ok {
		return nil, nil, nil
	}

	now := m.now()
	var input, result json.RawMessage
	if st.inputExpiry.IsZero() || now.Before(st.inputExpiry) {
		input = st.input
	}
	if st.resultExpiry.IsZero() || now.Before(st.resultExpiry) {
		result = st.result
	}
	return input, result, nil
}

func (m *Memory) expiry() time.Time {
	if m.ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(m.ttl)
}

func clone(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	c := make(json.RawMessage, len(raw))
	copy(c, raw)
	return c
}
