package handler

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/rti-portal/internal/auth"
	"github.com/kursadbilgin/rti-portal/internal/domain"
)

type NotificationService interface {
	List(ctx context.Context, userID string) ([]domain.Notification, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
	MarkRead(ctx context.Context, userID string, id uint64) (*domain.Notification, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

type NotificationHandler struct {
	service NotificationService
}

func NewNotificationHandler(service NotificationService) (*NotificationHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("notification service is required")
	}
	return &NotificationHandler{service: service}, nil
}

// RegisterNotificationRoutes mounts the caller-scoped notification routes.
// authenticate must populate the caller identity.
func RegisterNotificationRoutes(router fiber.Router, service NotificationService, authenticate fiber.Handler) error {
	h, err := NewNotificationHandler(service)
	if err != nil {
		return err
	}

	group := router.Group("/notifications", authenticate)
	group.Get("/", h.ListNotifications)
	group.Get("/unread-count", h.UnreadCount)
	group.Put("/read-all", h.MarkAllRead)
	group.Put("/:id/read", h.MarkRead)

	return nil
}

func (h *NotificationHandler) ListNotifications(c *fiber.Ctx) error {
	identity, err := callerIdentity(c)
	if err != nil {
		return err
	}

	notifications, err := h.service.List(c.UserContext(), identity.UserID)
	if err != nil {
		return toHTTPError(err)
	}
	if notifications == nil {
		notifications = []domain.Notification{}
	}
	return c.Status(fiber.StatusOK).JSON(notifications)
}

func (h *NotificationHandler) UnreadCount(c *fiber.Ctx) error {
	identity, err := callerIdentity(c)
	if err != nil {
		return err
	}

	count, err := h.service.UnreadCount(c.UserContext(), identity.UserID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"unreadCount": count})
}

func (h *NotificationHandler) MarkRead(c *fiber.Ctx) error {
	identity, err := callerIdentity(c)
	if err != nil {
		return err
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		return toHTTPError(err)
	}

	notification, err := h.service.MarkRead(c.UserContext(), identity.UserID, id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(notification)
}

func (h *NotificationHandler) MarkAllRead(c *fiber.Ctx) error {
	identity, err := callerIdentity(c)
	if err != nil {
		return err
	}

	updated, err := h.service.MarkAllRead(c.UserContext(), identity.UserID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"updated": updated})
}

func callerIdentity(c *fiber.Ctx) (domain.Identity, error) {
	identity, ok := auth.IdentityFromCtx(c)
	if !ok {
		return domain.Identity{}, fiber.NewError(fiber.StatusUnauthorized, "authentication required")
	}
	return identity, nil
}
