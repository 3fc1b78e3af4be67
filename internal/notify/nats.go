package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Subject layout on the bus. Clients subscribe to pbxlink.actions for view
// reloads and pbxlink.actions.<user-id> for personal alerts.
const (
	subjectActions = "pbxlink.actions"
)

// reloadMessage is the payload of a reload_view action.
type reloadMessage struct {
	Action string `json:"action"`
	View   string `json:"view"`
}

// alertMessage is the payload of a user alert.
type alertMessage struct {
	Action  string `json:"action"`
	Message string `json:"message"`
	Warning bool   `json:"warning"`
}

// NATSNotifier publishes notifications over a NATS connection.
type NATSNotifier struct {
	nc *nats.Conn
}

// ConnectNATS connects to the NATS server at the given URL and returns a
// notifier on top of the connection.
func ConnectNATS(url string) (*NATSNotifier, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	slog.Info("connected to nats", "url", nc.ConnectedUrl())
	return &NATSNotifier{nc: nc}, nil
}

// ReloadView implements Notifier.
func (n *NATSNotifier) ReloadView(_ context.Context, view string) error {
	payload, err := json.Marshal(reloadMessage{Action: "reload_view", View: view})
	if err != nil {
		return fmt.Errorf("encoding reload message: %w", err)
	}
	if err := n.nc.Publish(subjectActions, payload); err != nil {
		return fmt.Errorf("publishing reload: %w", err)
	}
	return nil
}

// NotifyUser implements Notifier.
func (n *NATSNotifier) NotifyUser(_ context.Context, userID int64, message string, warning bool) error {
	payload, err := json.Marshal(alertMessage{Action: "notify", Message: message, Warning: warning})
	if err != nil {
		return fmt.Errorf("encoding alert message: %w", err)
	}
	subject := fmt.Sprintf("%s.%d", subjectActions, userID)
	if err := n.nc.Publish(subject, payload); err != nil {
		return fmt.Errorf("publishing alert: %w", err)
	}
	return nil
}

// Conn exposes the underlying connection for components that share the
// bus, e.g. the originate action sender.
func (n *NATSNotifier) Conn() *nats.Conn {
	return n.nc
}

// Close drains and closes the underlying connection.
func (n *NATSNotifier) Close() {
	if err := n.nc.Drain(); err != nil {
		slog.Warn("nats drain failed", "error", err)
		n.nc.Close()
	}
}
