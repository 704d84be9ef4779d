package service

import (
	"context"
	"sync"
	"time"

	"github.com/kursadbilgin/rti-portal/internal/channel"
	"github.com/kursadbilgin/rti-portal/internal/domain"
	"github.com/kursadbilgin/rti-portal/internal/repository"
)

type fakeNotificationRepo struct {
	ensureSchemaFn func(ctx context.Context) error
	createFn       func(ctx context.Context, in domain.NotificationInput) (*domain.Notification, error)
	getByIDFn      func(ctx context.Context, id uint64) (*domain.Notification, error)
	markReadFn     func(ctx context.Context, id uint64) (*domain.Notification, error)
	markAllReadFn  func(ctx context.Context, userID string) ([]uint64, error)
	listForUserFn  func(ctx context.Context, userID string) ([]domain.Notification, error)
	countUnreadFn  func(ctx context.Context, userID string) (int64, error)
}

var _ repository.NotificationRepository = (*fakeNotificationRepo)(nil)

func (f *fakeNotificationRepo) EnsureSchema(ctx context.Context) error {
	if f.ensureSchemaFn != nil {
		return f.ensureSchemaFn(ctx)
	}
	return nil
}

func (f *fakeNotificationRepo) Create(ctx context.Context, in domain.NotificationInput) (*domain.Notification, error) {
	if f.createFn != nil {
		return f.createFn(ctx, in)
	}
	return &domain.Notification{
		ID:        1,
		UserID:    in.UserID,
		Title:     in.Title,
		Message:   in.Message,
		Type:      in.Type,
		RequestID: in.RequestID,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (f *fakeNotificationRepo) GetByID(ctx context.Context, id uint64) (*domain.Notification, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeNotificationRepo) MarkRead(ctx context.Context, id uint64) (*domain.Notification, error) {
	if f.markReadFn != nil {
		return f.markReadFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeNotificationRepo) MarkAllRead(ctx context.Context, userID string) ([]uint64, error) {
	if f.markAllReadFn != nil {
		return f.markAllReadFn(ctx, userID)
	}
	return nil, nil
}

func (f *fakeNotificationRepo) ListForUser(ctx context.Context, userID string) ([]domain.Notification, error) {
	if f.listForUserFn != nil {
		return f.listForUserFn(ctx, userID)
	}
	return []domain.Notification{}, nil
}

func (f *fakeNotificationRepo) CountUnread(ctx context.Context, userID string) (int64, error) {
	if f.countUnreadFn != nil {
		return f.countUnreadFn(ctx, userID)
	}
	return 0, nil
}

type fakeRequestRepo struct {
	createFn       func(ctx context.Context, r *domain.Request) error
	getByIDFn      func(ctx context.Context, id uint64) (*domain.Request, error)
	updateStatusFn func(
		ctx context.Context,
		id uint64,
		status domain.RequestStatus,
		at time.Time,
		derive repository.NotificationDeriver,
	) (*domain.Request, *domain.Notification, error)
}

var _ repository.RequestRepository = (*fakeRequestRepo)(nil)

func (f *fakeRequestRepo) Create(ctx context.Context, r *domain.Request) error {
	if f.createFn != nil {
		return f.createFn(ctx, r)
	}
	r.ID = 1
	return nil
}

func (f *fakeRequestRepo) GetByID(ctx context.Context, id uint64) (*domain.Request, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeRequestRepo) UpdateStatusWithNotification(
	ctx context.Context,
	id uint64,
	status domain.RequestStatus,
	at time.Time,
	derive repository.NotificationDeriver,
) (*domain.Request, *domain.Notification, error) {
	if f.updateStatusFn != nil {
		return f.updateStatusFn(ctx, id, status, at, derive)
	}
	return nil, nil, domain.ErrNotFound
}

// recordingPusher is a channel.Pusher that remembers every publish.
type recordingPusher struct {
	mu        sync.Mutex
	events    []pushed
	publishFn func(ctx context.Context, userID string, event channel.Event) error
}

type pushed struct {
	userID string
	event  channel.Event
}

var _ channel.Pusher = (*recordingPusher)(nil)

func (p *recordingPusher) Publish(ctx context.Context, userID string, event channel.Event) error {
	p.mu.Lock()
	p.events = append(p.events, pushed{userID: userID, event: event})
	p.mu.Unlock()

	if p.publishFn != nil {
		return p.publishFn(ctx, userID, event)
	}
	return nil
}

func (p *recordingPusher) published() []pushed {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pushed(nil), p.events...)
}

type fakeNotificationPusher struct {
	mu     sync.Mutex
	pushes []domain.Notification
}

func (f *fakeNotificationPusher) Push(ctx context.Context, n domain.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, n)
}

func (f *fakeNotificationPusher) pushed() []domain.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Notification(nil), f.pushes...)
}

type fakeNotifier struct {
	notifyFn func(ctx context.Context, in domain.NotificationInput) (*domain.Notification, error)
}

func (f *fakeNotifier) Notify(ctx context.Context, in domain.NotificationInput) (*domain.Notification, error) {
	if f.notifyFn != nil {
		return f.notifyFn(ctx, in)
	}
	return &domain.Notification{ID: 1, UserID: in.UserID}, nil
}

func noSleep(calls *int) func(ctx context.Context, d time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*calls++
		return nil
	}
}

func ptr[T any](v T) *T { return &v }
