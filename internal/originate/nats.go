package originate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// subjectAgentActions is where the switch agent picks up actions.
const subjectAgentActions = "pbxlink.agent.actions"

// NATSSender publishes actions on the bus the agent listens on.
type NATSSender struct {
	nc *nats.Conn
}

// NewNATSSender creates a sender on an established connection.
func NewNATSSender(nc *nats.Conn) *NATSSender {
	return &NATSSender{nc: nc}
}

// Send implements ActionSender.
func (s *NATSSender) Send(_ context.Context, action *Action) error {
	payload, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("encoding action: %w", err)
	}
	if err := s.nc.Publish(subjectAgentActions, payload); err != nil {
		return fmt.Errorf("publishing action: %w", err)
	}
	return nil
}
