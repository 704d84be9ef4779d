package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/rti-portal/internal/domain"
	"gorm.io/gorm"
)

// NotificationRepository is the durable Notification Store. Rows are only
// ever inserted or have their read flag set.
type NotificationRepository interface {
	EnsureSchema(ctx context.Context) error
	Create(ctx context.Context, in domain.NotificationInput) (*domain.Notification, error)
	GetByID(ctx context.Context, id uint64) (*domain.Notification, error)
	MarkRead(ctx context.Context, id uint64) (*domain.Notification, error)
	// MarkAllRead marks the user's unread notifications read and returns
	// exactly the ids it changed.
	MarkAllRead(ctx context.Context, userID string) ([]uint64, error)
	ListForUser(ctx context.Context, userID string) ([]domain.Notification, error)
	CountUnread(ctx context.Context, userID string) (int64, error)
}

type GormNotificationRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db, now: time.Now}
}

func (r *GormNotificationRepo) EnsureSchema(ctx context.Context) error {
	if !r.db.WithContext(ctx).Migrator().HasTable(&NotificationModel{}) {
		return fmt.Errorf("%w: notifications table is missing or unreachable", domain.ErrPersistence)
	}
	return nil
}

func (r *GormNotificationRepo) Create(ctx context.Context, in domain.NotificationInput) (*domain.Notification, error) {
	model := notificationModelFromInput(in, r.now().UTC())
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return nil, wrapDBError(err, "create notification")
	}
	return notificationModelToDomain(model), nil
}

func (r *GormNotificationRepo) GetByID(ctx context.Context, id uint64) (*domain.Notification, error) {
	var model NotificationModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, wrapDBError(err, fmt.Sprintf("get notification %d", id))
	}
	return notificationModelToDomain(&model), nil
}

func (r *GormNotificationRepo) MarkRead(ctx context.Context, id uint64) (*domain.Notification, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ?", id).
		Update("is_read", true)
	if result.Error != nil {
		return nil, wrapDBError(result.Error, fmt.Sprintf("mark notification %d read", id))
	}
	// Existence is decided by the reload.
	return r.GetByID(ctx, id)
}

func (r *GormNotificationRepo) MarkAllRead(ctx context.Context, userID string) ([]uint64, error) {
	var ids []uint64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&NotificationModel{}).
			Where("user_id = ? AND is_read = ?", userID, false).
			Order("id").
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		// Rows inserted after the select stay unread.
		return tx.Model(&NotificationModel{}).
			Where("id IN ? AND is_read = ?", ids, false).
			Update("is_read", true).Error
	})
	if err != nil {
		return nil, wrapDBError(err, "mark all notifications read")
	}
	return ids, nil
}

func (r *GormNotificationRepo) ListForUser(ctx context.Context, userID string) ([]domain.Notification, error) {
	var models []NotificationModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&models).Error
	if err != nil {
		return nil, wrapDBError(err, "list notifications")
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}
	return notifications, nil
}

func (r *GormNotificationRepo) CountUnread(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	if err != nil {
		return 0, wrapDBError(err, "count unread notifications")
	}
	return count, nil
}
