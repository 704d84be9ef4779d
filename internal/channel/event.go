package channel

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kursadbilgin/rti-portal/internal/domain"
)

const (
	// EventNotification carries a full Notification record, server to client.
	EventNotification = "notification"
	// EventRead carries {"id": n} after a durable mark-read, server to client.
	EventRead = "read"
	// EventMarkAsRead carries a notification id, client to server.
	EventMarkAsRead = "markAsRead"
)

// Event is the wire envelope for every channel message in both directions.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ReadPayload is the body of a read event.
type ReadPayload struct {
	ID uint64 `json:"id"`
}

func NewEvent(name string, payload any) (Event, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Event{}, fmt.Errorf("%w: event name is required", domain.ErrValidation)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("%w: encode %s payload: %v", domain.ErrValidation, name, err)
	}
	return Event{Name: name, Data: data}, nil
}

func NewNotificationEvent(n domain.Notification) (Event, error) {
	return NewEvent(EventNotification, n)
}

func NewReadEvent(id uint64) (Event, error) {
	return NewEvent(EventRead, ReadPayload{ID: id})
}

func NewMarkAsReadEvent(id uint64) (Event, error) {
	return NewEvent(EventMarkAsRead, id)
}

// DecodeEvent parses a raw channel frame.
func DecodeEvent(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: malformed event: %v", domain.ErrValidation, err)
	}
	ev.Name = strings.TrimSpace(ev.Name)
	if ev.Name == "" {
		return Event{}, fmt.Errorf("%w: event name is required", domain.ErrValidation)
	}
	return ev, nil
}

// NotificationID extracts a notification id from a markAsRead or read
// payload. Bare numbers, numeric strings and {"id": n} objects are accepted.
func (e Event) NotificationID() (uint64, error) {
	raw := []byte(strings.TrimSpace(string(e.Data)))
	if len(raw) == 0 {
		return 0, fmt.Errorf("%w: %s payload is empty", domain.ErrValidation, e.Name)
	}

	var id uint64
	if err := json.Unmarshal(raw, &id); err == nil {
		return validID(id)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		parsed, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: invalid notification id %q", domain.ErrValidation, s)
		}
		return validID(parsed)
	}

	var obj ReadPayload
	if err := json.Unmarshal(raw, &obj); err == nil {
		return validID(obj.ID)
	}

	return 0, fmt.Errorf("%w: invalid %s payload", domain.ErrValidation, e.Name)
}

func validID(id uint64) (uint64, error) {
	if id == 0 {
		return 0, fmt.Errorf("%w: notification id must be positive", domain.ErrValidation)
	}
	return id, nil
}
