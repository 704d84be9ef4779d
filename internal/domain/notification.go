package domain

import (
	"fmt"
	"strings"
	"time"
)

// NotificationType classifies what produced a notification.
type NotificationType string

const (
	NotificationTypeRequestUpdate  NotificationType = "request_update"
	NotificationTypeStatusChange   NotificationType = "status_change"
	NotificationTypeDocumentUpload NotificationType = "document_upload"
	NotificationTypeSystem         NotificationType = "system"
)

func (t NotificationType) String() string { return string(t) }

func (t NotificationType) IsValid() bool {
	switch t {
	case NotificationTypeRequestUpdate, NotificationTypeStatusChange, NotificationTypeDocumentUpload, NotificationTypeSystem:
		return true
	}
	return false
}

func ParseNotificationTypeFromString(s string) (NotificationType, error) {
	t := NotificationType(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: invalid notification type %q", ErrValidation, s)
	}
	return t, nil
}

const (
	// MaxUserID matches the width of the stored user id columns.
	MaxUserID              = 64
	MaxNotificationTitle   = 255
	MaxNotificationMessage = 2000
)

// Notification is a durable message addressed to exactly one user. Read is
// the only field that changes after creation.
type Notification struct {
	ID        uint64           `json:"id"`
	UserID    string           `json:"userId"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Type      NotificationType `json:"type"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"createdAt"`
	RequestID *uint64          `json:"requestId,omitempty"`
}

// NotificationInput is what callers supply; id, read and createdAt are
// assigned by the store.
type NotificationInput struct {
	UserID    string
	Title     string
	Message   string
	Type      NotificationType
	RequestID *uint64
}

func (in *NotificationInput) Normalize() {
	in.UserID = strings.TrimSpace(in.UserID)
	in.Title = strings.TrimSpace(in.Title)
	in.Message = strings.TrimSpace(in.Message)
}

func (in *NotificationInput) Validate() error {
	if in.UserID == "" {
		return fmt.Errorf("%w: userId is required", ErrValidation)
	}
	if n := len([]rune(in.UserID)); n > MaxUserID {
		return fmt.Errorf("%w: userId exceeds %d characters (got %d)", ErrValidation, MaxUserID, n)
	}
	if in.Title == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if in.Message == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	if !in.Type.IsValid() {
		return fmt.Errorf("%w: invalid type %q", ErrValidation, in.Type)
	}
	if n := len([]rune(in.Title)); n > MaxNotificationTitle {
		return fmt.Errorf("%w: title exceeds %d characters (got %d)", ErrValidation, MaxNotificationTitle, n)
	}
	if n := len([]rune(in.Message)); n > MaxNotificationMessage {
		return fmt.Errorf("%w: message exceeds %d characters (got %d)", ErrValidation, MaxNotificationMessage, n)
	}
	return nil
}

// StatusChangeNotification derives the notification recorded alongside a
// request status change.
func StatusChangeNotification(r *Request) (NotificationInput, error) {
	owner := r.OwnerID()
	if owner == "" {
		return NotificationInput{}, fmt.Errorf("%w: request %d has no owning user", ErrConflict, r.ID)
	}
	id := r.ID
	return NotificationInput{
		UserID:    owner,
		Title:     "Request Status Updated",
		Message:   fmt.Sprintf("Your request \"%s\" status has been updated to %s.", r.Title, r.Status),
		Type:      NotificationTypeStatusChange,
		RequestID: &id,
	}, nil
}

// RequestSubmittedNotification derives the acknowledgement sent when a
// citizen files a new request.
func RequestSubmittedNotification(r *Request) NotificationInput {
	id := r.ID
	return NotificationInput{
		UserID:    r.OwnerID(),
		Title:     "Request Submitted",
		Message:   fmt.Sprintf("Your request \"%s\" has been received and is %s.", r.Title, r.Status),
		Type:      NotificationTypeRequestUpdate,
		RequestID: &id,
	}
}
