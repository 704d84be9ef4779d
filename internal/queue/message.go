package queue

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/rti-portal/internal/channel"
	"github.com/kursadbilgin/rti-portal/internal/domain"
)

// EventMessage is the broker payload for a relayed channel event.
type EventMessage struct {
	UserID        string        `json:"userId"`
	Event         channel.Event `json:"event"`
	CorrelationID string        `json:"correlationId,omitempty"`
}

func (m EventMessage) Validate() error {
	if strings.TrimSpace(m.UserID) == "" {
		return fmt.Errorf("%w: userId is required", domain.ErrValidation)
	}
	if strings.TrimSpace(m.Event.Name) == "" {
		return fmt.Errorf("%w: event name is required", domain.ErrValidation)
	}
	return nil
}
