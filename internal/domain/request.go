package domain

import (
	"fmt"
	"strings"
	"time"
)

// RequestStatus is the processing state of an RTI request. Any status may
// follow any other; admins are free to move a request backwards.
type RequestStatus string

const (
	RequestStatusPending    RequestStatus = "pending"
	RequestStatusProcessing RequestStatus = "processing"
	RequestStatusCompleted  RequestStatus = "completed"
	RequestStatusRejected   RequestStatus = "rejected"
)

func (s RequestStatus) String() string { return string(s) }

func (s RequestStatus) IsValid() bool {
	switch s {
	case RequestStatusPending, RequestStatusProcessing, RequestStatusCompleted, RequestStatusRejected:
		return true
	}
	return false
}

func ParseRequestStatusFromString(s string) (RequestStatus, error) {
	st := RequestStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid request status %q", ErrValidation, s)
	}
	return st, nil
}

const (
	MaxRequestTitle       = 255
	MaxRequestDescription = 10000
)

// Request is a citizen's document request addressed to an institution.
type Request struct {
	ID            uint64
	Title         string
	Description   string
	Status        RequestStatus
	UserID        *string
	InstitutionID *uint64
	DocumentURL   *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OwnerID returns the owning user or "" when the request has none.
func (r *Request) OwnerID() string {
	if r == nil || r.UserID == nil {
		return ""
	}
	return strings.TrimSpace(*r.UserID)
}

func (r *Request) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if strings.TrimSpace(r.Description) == "" {
		return fmt.Errorf("%w: description is required", ErrValidation)
	}
	if n := len([]rune(r.Title)); n > MaxRequestTitle {
		return fmt.Errorf("%w: title exceeds %d characters (got %d)", ErrValidation, MaxRequestTitle, n)
	}
	if n := len([]rune(r.Description)); n > MaxRequestDescription {
		return fmt.Errorf("%w: description exceeds %d characters (got %d)", ErrValidation, MaxRequestDescription, n)
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, r.Status)
	}
	if n := len([]rune(r.OwnerID())); n > MaxUserID {
		return fmt.Errorf("%w: userId exceeds %d characters (got %d)", ErrValidation, MaxUserID, n)
	}
	return nil
}
