package repository

import (
	"time"

	"github.com/kursadbilgin/rti-portal/internal/domain"
)

// NotificationModel is the persistence model for the notifications table.
// RequestID is a weak reference and carries no foreign key.
type NotificationModel struct {
	ID        uint64                  `gorm:"primaryKey;autoIncrement"`
	UserID    string                  `gorm:"type:varchar(64);not null"`
	Title     string                  `gorm:"type:varchar(255);not null"`
	Message   string                  `gorm:"type:text;not null"`
	Type      domain.NotificationType `gorm:"type:varchar(20);not null"`
	Read      bool                    `gorm:"column:is_read;not null"`
	RequestID *uint64
	CreatedAt time.Time `gorm:"not null"`
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// RequestModel is the persistence model for the requests table.
type RequestModel struct {
	ID            uint64               `gorm:"primaryKey;autoIncrement"`
	Title         string               `gorm:"type:varchar(255);not null"`
	Description   string               `gorm:"type:text;not null"`
	Status        domain.RequestStatus `gorm:"type:varchar(20);not null"`
	UserID        *string              `gorm:"type:varchar(64)"`
	InstitutionID *uint64
	DocumentURL   *string `gorm:"type:varchar(1024)"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (RequestModel) TableName() string {
	return "requests"
}

func notificationModelFromInput(in domain.NotificationInput, createdAt time.Time) *NotificationModel {
	return &NotificationModel{
		UserID:    in.UserID,
		Title:     in.Title,
		Message:   in.Message,
		Type:      in.Type,
		RequestID: in.RequestID,
		CreatedAt: createdAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	return &domain.Notification{
		ID:        m.ID,
		UserID:    m.UserID,
		Title:     m.Title,
		Message:   m.Message,
		Type:      m.Type,
		Read:      m.Read,
		CreatedAt: m.CreatedAt,
		RequestID: m.RequestID,
	}
}

func requestModelFromDomain(r *domain.Request) *RequestModel {
	if r == nil {
		return nil
	}

	return &RequestModel{
		ID:            r.ID,
		Title:         r.Title,
		Description:   r.Description,
		Status:        r.Status,
		UserID:        r.UserID,
		InstitutionID: r.InstitutionID,
		DocumentURL:   r.DocumentURL,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func requestModelToDomain(m *RequestModel) *domain.Request {
	if m == nil {
		return nil
	}

	return &domain.Request{
		ID:            m.ID,
		Title:         m.Title,
		Description:   m.Description,
		Status:        m.Status,
		UserID:        m.UserID,
		InstitutionID: m.InstitutionID,
		DocumentURL:   m.DocumentURL,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}
