package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kursadbilgin/rti-portal/internal/domain"
	"github.com/kursadbilgin/rti-portal/internal/observability"
	"github.com/kursadbilgin/rti-portal/internal/repository"
	"go.uber.org/zap"
)

// StatusService changes request status. The status update and its
// notification commit together; the push happens afterwards and can never
// undo the change.
type StatusService struct {
	requests repository.RequestRepository
	pusher   NotificationPusher
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	mu       sync.Mutex
	draining bool
	inflight sync.WaitGroup
}

func NewStatusService(
	requests repository.RequestRepository,
	pusher NotificationPusher,
	logger *zap.Logger,
	metrics *observability.Metrics,
) (*StatusService, error) {
	if requests == nil {
		return nil, fmt.Errorf("request repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StatusService{
		requests: requests,
		pusher:   pusher,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}, nil
}

// UpdateStatus requires an admin actor. Any status may follow any other.
func (s *StatusService) UpdateStatus(
	ctx context.Context,
	actor domain.Identity,
	requestID uint64,
	status domain.RequestStatus,
) (*domain.Request, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if actor.IsZero() || !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: admin role required", domain.ErrUnauthorized)
	}
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: invalid status %q", domain.ErrValidation, status)
	}

	log := observability.WithContextLogger(s.logger, ctx)

	updated, notification, err := s.requests.UpdateStatusWithNotification(
		ctx,
		requestID,
		status,
		s.now().UTC(),
		domain.StatusChangeNotification,
	)
	if err != nil {
		log.Warn("request status change rolled back",
			zap.Uint64("requestId", requestID),
			zap.String("status", status.String()),
			zap.Error(err),
		)
		return nil, err
	}

	s.metrics.IncStatusChange(status.String())
	s.metrics.IncNotificationCreated(notification.Type.String())
	log.Info("request status changed",
		zap.Uint64("requestId", requestID),
		zap.String("status", status.String()),
		zap.Uint64("notificationId", notification.ID),
	)

	if s.pusher != nil {
		s.push(context.WithoutCancel(ctx), *notification)
	}

	return updated, nil
}

// push runs in the background until Drain starts; after that it runs inline
// so no push is added while Drain waits.
func (s *StatusService) push(ctx context.Context, n domain.Notification) {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		s.pusher.Push(ctx, n)
		return
	}
	s.inflight.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.inflight.Done()
		s.pusher.Push(ctx, n)
	}()
}

// Drain waits for pushes started by UpdateStatus, or for ctx to end.
func (s *StatusService) Drain(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
