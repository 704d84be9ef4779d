package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/rti-portal/internal/domain"
	"gorm.io/gorm"
)

// NotificationDeriver builds the notification recorded with a status change
// from the request as it looks after the update.
type NotificationDeriver func(r *domain.Request) (domain.NotificationInput, error)

type RequestRepository interface {
	Create(ctx context.Context, r *domain.Request) error
	GetByID(ctx context.Context, id uint64) (*domain.Request, error)
	UpdateStatusWithNotification(
		ctx context.Context,
		id uint64,
		status domain.RequestStatus,
		at time.Time,
		derive NotificationDeriver,
	) (*domain.Request, *domain.Notification, error)
}

type GormRequestRepo struct {
	db *gorm.DB
}

func NewGormRequestRepo(db *gorm.DB) *GormRequestRepo {
	return &GormRequestRepo{db: db}
}

func (r *GormRequestRepo) Create(ctx context.Context, req *domain.Request) error {
	model := requestModelFromDomain(req)
	if model == nil {
		return fmt.Errorf("%w: request is required", domain.ErrValidation)
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return wrapDBError(err, "create request")
	}
	*req = *requestModelToDomain(model)
	return nil
}

func (r *GormRequestRepo) GetByID(ctx context.Context, id uint64) (*domain.Request, error) {
	var model RequestModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, wrapDBError(err, fmt.Sprintf("get request %d", id))
	}
	return requestModelToDomain(&model), nil
}

// UpdateStatusWithNotification sets the request status and inserts the
// derived notification in one transaction. Either both rows are written or
// neither is.
func (r *GormRequestRepo) UpdateStatusWithNotification(
	ctx context.Context,
	id uint64,
	status domain.RequestStatus,
	at time.Time,
	derive NotificationDeriver,
) (*domain.Request, *domain.Notification, error) {
	if derive == nil {
		return nil, nil, fmt.Errorf("%w: notification deriver is required", domain.ErrValidation)
	}

	var (
		updated      *domain.Request
		notification *domain.Notification
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&RequestModel{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"status":     status,
				"updated_at": at,
			})
		if result.Error != nil {
			return wrapDBError(result.Error, fmt.Sprintf("update request %d status", id))
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: request %d", domain.ErrNotFound, id)
		}

		var model RequestModel
		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			return wrapDBError(err, fmt.Sprintf("reload request %d", id))
		}
		updated = requestModelToDomain(&model)

		input, err := derive(updated)
		if err != nil {
			return err
		}
		input.Normalize()
		if err := input.Validate(); err != nil {
			return err
		}

		row := notificationModelFromInput(input, at)
		if err := tx.Create(row).Error; err != nil {
			return wrapDBError(err, "insert status change notification")
		}
		notification = notificationModelToDomain(row)
		return nil
	})
	if err != nil {
		return nil, nil, wrapDBError(err, "status change transaction")
	}

	return updated, notification, nil
}
