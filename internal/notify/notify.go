// Package notify pushes UI refresh signals and user alerts onto the
// message bus. The correlator treats the sink as best effort: a failed
// publish is logged by the caller and never blocks call-state updates.
package notify

import "context"

// View names for reload signals.
const (
	ViewCalls    = "calls"
	ViewChannels = "channels"
)

// Notifier is the push channel for UI refresh and user alerts.
type Notifier interface {
	// ReloadView asks clients to refresh the list view of a model.
	ReloadView(ctx context.Context, view string) error
	// NotifyUser delivers an alert to one user.
	NotifyUser(ctx context.Context, userID int64, message string, warning bool) error
}

// Nop is a Notifier that does nothing.
type Nop struct{}

func (Nop) ReloadView(context.Context, string) error              { return nil }
func (Nop) NotifyUser(context.Context, int64, string, bool) error { return nil }
