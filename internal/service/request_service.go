package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/rti-portal/internal/domain"
	"github.com/kursadbilgin/rti-portal/internal/observability"
	"github.com/kursadbilgin/rti-portal/internal/repository"
	"go.uber.org/zap"
)

type CreateRequestInput struct {
	Title         string
	Description   string
	InstitutionID *uint64
	DocumentURL   *string
}

type RequestService struct {
	requests repository.RequestRepository
	notifier Notifier
	logger   *zap.Logger
}

func NewRequestService(
	requests repository.RequestRepository,
	notifier Notifier,
	logger *zap.Logger,
) (*RequestService, error) {
	if requests == nil {
		return nil, fmt.Errorf("request repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RequestService{
		requests: requests,
		notifier: notifier,
		logger:   logger,
	}, nil
}

// Create files a pending request for the actor and acknowledges it with a
// request_update notification. The request stands even if the
// acknowledgement cannot be stored.
func (s *RequestService) Create(ctx context.Context, actor domain.Identity, in CreateRequestInput) (*domain.Request, error) {
	if actor.IsZero() {
		return nil, fmt.Errorf("%w: missing caller identity", domain.ErrUnauthorized)
	}

	owner := strings.TrimSpace(actor.UserID)
	req := &domain.Request{
		Title:         strings.TrimSpace(in.Title),
		Description:   strings.TrimSpace(in.Description),
		Status:        domain.RequestStatusPending,
		UserID:        &owner,
		InstitutionID: in.InstitutionID,
		DocumentURL:   in.DocumentURL,
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if err := s.requests.Create(ctx, req); err != nil {
		return nil, err
	}

	if s.notifier != nil {
		if _, err := s.notifier.Notify(ctx, domain.RequestSubmittedNotification(req)); err != nil {
			observability.WithContextLogger(s.logger, ctx).Error("request submitted without acknowledgement",
				zap.Uint64("requestId", req.ID),
				zap.Error(err),
			)
		}
	}

	return req, nil
}

// Get returns a request to its owner or to an admin. Anyone else sees it as
// not found.
func (s *RequestService) Get(ctx context.Context, actor domain.Identity, id uint64) (*domain.Request, error) {
	if actor.IsZero() {
		return nil, fmt.Errorf("%w: missing caller identity", domain.ErrUnauthorized)
	}

	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && req.OwnerID() != strings.TrimSpace(actor.UserID) {
		return nil, fmt.Errorf("%w: request %d", domain.ErrNotFound, id)
	}
	return req, nil
}
