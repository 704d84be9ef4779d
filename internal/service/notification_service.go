package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kursadbilgin/rti-portal/internal/channel"
	"github.com/kursadbilgin/rti-portal/internal/domain"
	"github.com/kursadbilgin/rti-portal/internal/observability"
	"github.com/kursadbilgin/rti-portal/internal/repository"
	"go.uber.org/zap"
)

const defaultPushTimeout = 5 * time.Second

// NotificationPusher sends an already persisted notification to the owner's
// live connections. It never reports failure.
type NotificationPusher interface {
	Push(ctx context.Context, n domain.Notification)
}

// Notifier persists and pushes a new notification.
type Notifier interface {
	Notify(ctx context.Context, in domain.NotificationInput) (*domain.Notification, error)
}

var (
	_ NotificationPusher     = (*NotificationService)(nil)
	_ Notifier               = (*NotificationService)(nil)
	_ channel.InboundHandler = (*NotificationService)(nil)
)

type NotificationService struct {
	notifications repository.NotificationRepository
	pusher        channel.Pusher
	retry         RetryPolicy
	pushTimeout   time.Duration
	logger        *zap.Logger
	metrics       *observability.Metrics

	schemaReady atomic.Bool
}

func NewNotificationService(
	notifications repository.NotificationRepository,
	pusher channel.Pusher,
	retry RetryPolicy,
	pushTimeout time.Duration,
	logger *zap.Logger,
	metrics *observability.Metrics,
) (*NotificationService, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if pushTimeout <= 0 {
		pushTimeout = defaultPushTimeout
	}

	return &NotificationService{
		notifications: notifications,
		pusher:        pusher,
		retry:         retry.normalized(),
		pushTimeout:   pushTimeout,
		logger:        logger,
		metrics:       metrics,
	}, nil
}

// VerifySchema checks that the notification store is reachable. It is run
// at startup so misconfiguration fails the process before traffic arrives.
func (s *NotificationService) VerifySchema(ctx context.Context) error {
	if err := s.notifications.EnsureSchema(ctx); err != nil {
		return err
	}
	s.schemaReady.Store(true)
	return nil
}

// Notify persists a notification under the retry policy, then pushes it to
// the owner's live connections. Push failures are logged, never returned.
func (s *NotificationService) Notify(ctx context.Context, in domain.NotificationInput) (*domain.Notification, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	log := observability.WithContextLogger(s.logger, ctx)

	var created *domain.Notification
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		if !s.schemaReady.Load() {
			if err := s.VerifySchema(ctx); err != nil {
				return err
			}
		}

		n, err := s.notifications.Create(ctx, in)
		if err != nil {
			return err
		}
		created = n
		return nil
	}, func(attempt int, err error) {
		switch {
		case err == nil:
			s.metrics.IncPersistAttempt("success")
		case errors.Is(err, domain.ErrPersistence) && attempt < s.retry.MaxAttempts:
			s.metrics.IncPersistAttempt("retry")
			log.Warn("notification persist failed, retrying",
				zap.Int("attempt", attempt),
				zap.String("recipient", in.UserID),
				zap.Error(err),
			)
		default:
			s.metrics.IncPersistAttempt("failed")
		}
	})
	if err != nil {
		log.Error("notification not persisted",
			zap.String("recipient", in.UserID),
			zap.String("type", in.Type.String()),
			zap.Error(err),
		)
		return nil, err
	}

	s.metrics.IncNotificationCreated(created.Type.String())
	s.Push(ctx, *created)
	return created, nil
}

// Push publishes n to its owner. The publish runs detached from the
// caller's cancellation but bounded by the push timeout.
func (s *NotificationService) Push(ctx context.Context, n domain.Notification) {
	event, err := channel.NewNotificationEvent(n)
	if err != nil {
		s.logger.Error("failed to encode notification event", zap.Uint64("notificationId", n.ID), zap.Error(err))
		return
	}
	s.publish(ctx, n.UserID, event)
}

func (s *NotificationService) List(ctx context.Context, userID string) ([]domain.Notification, error) {
	userID, err := requireUser(userID)
	if err != nil {
		return nil, err
	}
	return s.notifications.ListForUser(ctx, userID)
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	userID, err := requireUser(userID)
	if err != nil {
		return 0, err
	}
	return s.notifications.CountUnread(ctx, userID)
}

// MarkRead flips the read flag of a notification owned by userID. A
// notification owned by someone else is reported as not found.
func (s *NotificationService) MarkRead(ctx context.Context, userID string, id uint64) (*domain.Notification, error) {
	userID, err := requireUser(userID)
	if err != nil {
		return nil, err
	}

	existing, err := s.notifications.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.UserID != userID {
		return nil, fmt.Errorf("%w: notification %d", domain.ErrNotFound, id)
	}
	if existing.Read {
		return existing, nil
	}

	updated, err := s.notifications.MarkRead(ctx, id)
	if err != nil {
		return nil, err
	}
	s.pushRead(ctx, userID, id)
	return updated, nil
}

// MarkAllRead marks every unread notification of userID and returns how many
// changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	userID, err := requireUser(userID)
	if err != nil {
		return 0, err
	}

	ids, err := s.notifications.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		s.pushRead(ctx, userID, id)
	}
	return int64(len(ids)), nil
}

// HandleInbound applies client-to-server channel events. userID is the
// identity bound at handshake.
func (s *NotificationService) HandleInbound(ctx context.Context, userID string, event channel.Event) error {
	switch event.Name {
	case channel.EventMarkAsRead:
		id, err := event.NotificationID()
		if err != nil {
			return err
		}
		_, err = s.MarkRead(observability.WithUserID(ctx, userID), userID, id)
		return err
	default:
		return fmt.Errorf("%w: unsupported event %q", domain.ErrValidation, event.Name)
	}
}

func (s *NotificationService) pushRead(ctx context.Context, userID string, id uint64) {
	event, err := channel.NewReadEvent(id)
	if err != nil {
		s.logger.Error("failed to encode read event", zap.Uint64("notificationId", id), zap.Error(err))
		return
	}
	s.publish(ctx, userID, event)
}

func (s *NotificationService) publish(ctx context.Context, userID string, event channel.Event) {
	if s.pusher == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.pushTimeout)
	defer cancel()

	if err := s.pusher.Publish(pushCtx, userID, event); err != nil {
		observability.WithContextLogger(s.logger, ctx).Warn("channel push failed",
			zap.String("recipient", userID),
			zap.String("event", event.Name),
			zap.Error(err),
		)
		s.metrics.IncPushEvent(event.Name, "failed")
	}
}

func requireUser(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("%w: missing caller identity", domain.ErrUnauthorized)
	}
	return userID, nil
}
