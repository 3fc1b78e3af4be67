package notify

import (
	"context"
	"sync"
)

// Alert is one captured user notification.
type Alert struct {
	UserID  int64
	Message string
	Warning bool
}

// Memory is an in-process Notifier that records everything it is asked to
// send. Used in tests and as a fallback when no bus is configured.
type Memory struct {
	mu      sync.Mutex
	reloads []string
	alerts  []Alert
}

// NewMemory creates an empty Memory notifier.
func NewMemory() *Memory {
	return &Memory{}
}

// ReloadView implements Notifier.
func (m *Memory) ReloadView(_ context.Context, view string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloads = append(m.reloads, view)
	return nil
}

// NotifyUser implements Notifier.
func (m *Memory) NotifyUser(_ context.Context, userID int64, message string, warning bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, Alert{UserID: userID, Message: message, Warning: warning})
	return nil
}

// Reloads returns the captured reload views.
func (m *Memory) Reloads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.reloads...)
}

// Alerts returns the captured user alerts.
func (m *Memory) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Alert(nil), m.alerts...)
}
