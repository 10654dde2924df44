// Package testutils 提供測試用的共用工具
//
//   - FakeClock：手動推進的時鐘，驅動回合計時器
//   - EventRecorder：記錄所有派送事件的 Dispatcher
//   - 測試容器（PostgreSQL、Redis、NATS）
package testutils

import (
	"slices"
	"sync"

	"github.com/alexandreohara/pictionary-test/internal/game"
)

// EventRecorder 記錄派送事件的 Dispatcher
type EventRecorder struct {
	mu        sync.Mutex
	envelopes []game.Envelope
}

// NewEventRecorder 建立事件記錄器
func NewEventRecorder() *EventRecorder {
	return &EventRecorder{}
}

// Dispatch 實作 game.Dispatcher
func (r *EventRecorder) Dispatch(envelopes []game.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envelopes = append(r.envelopes, envelopes...)
}

// Envelopes 所有已派送的事件
func (r *EventRecorder) Envelopes() []game.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.envelopes)
}

// OfType 指定類型的事件
func (r *EventRecorder) OfType(eventType string) []game.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []game.Envelope
	for _, env := range r.envelopes {
		if env.Event.Type == eventType {
			out = append(out, env)
		}
	}
	return out
}

// Count 指定類型的事件數
func (r *EventRecorder) Count(eventType string) int {
	return len(r.OfType(eventType))
}

// Last 指定類型的最後一個事件
func (r *EventRecorder) Last(eventType string) (game.Envelope, bool) {
	envs := r.OfType(eventType)
	if len(envs) == 0 {
		return game.Envelope{}, false
	}
	return envs[len(envs)-1], true
}

// For 送達指定連線的事件，依派送順序
func (r *EventRecorder) For(connID string) []game.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []game.Event
	for _, env := range r.envelopes {
		if slices.Contains(env.To, connID) {
			out = append(out, env.Event)
		}
	}
	return out
}

// TypesFor 送達指定連線的事件類型
func (r *EventRecorder) TypesFor(connID string) []string {
	events := r.For(connID)
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

// Reset 清空紀錄
func (r *EventRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envelopes = nil
}
