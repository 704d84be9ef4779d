package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/rti-portal/internal/auth"
	"github.com/kursadbilgin/rti-portal/internal/domain"
	"github.com/kursadbilgin/rti-portal/internal/service"
)

type RequestService interface {
	Create(ctx context.Context, actor domain.Identity, in service.CreateRequestInput) (*domain.Request, error)
	Get(ctx context.Context, actor domain.Identity, id uint64) (*domain.Request, error)
}

type StatusService interface {
	UpdateStatus(ctx context.Context, actor domain.Identity, requestID uint64, status domain.RequestStatus) (*domain.Request, error)
}

type RequestHandler struct {
	requests RequestService
	status   StatusService
}

func NewRequestHandler(requests RequestService, status StatusService) (*RequestHandler, error) {
	if requests == nil {
		return nil, fmt.Errorf("request service is required")
	}
	if status == nil {
		return nil, fmt.Errorf("status service is required")
	}
	return &RequestHandler{requests: requests, status: status}, nil
}

func RegisterRequestRoutes(
	router fiber.Router,
	requests RequestService,
	status StatusService,
	authenticate fiber.Handler,
) error {
	h, err := NewRequestHandler(requests, status)
	if err != nil {
		return err
	}

	group := router.Group("/requests", authenticate)
	group.Post("/", h.CreateRequest)
	group.Get("/:id", h.GetRequest)
	group.Put("/:id/status", auth.RequireAdmin(), h.UpdateStatus)

	return nil
}

type createRequestBody struct {
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	InstitutionID *uint64 `json:"institutionId"`
	DocumentURL   *string `json:"documentUrl"`
}

type updateStatusBody struct {
	Status string `json:"status"`
}

type requestResponse struct {
	ID            uint64    `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Status        string    `json:"status"`
	UserID        *string   `json:"userId"`
	InstitutionID *uint64   `json:"institutionId"`
	DocumentURL   *string   `json:"documentUrl,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (h *RequestHandler) CreateRequest(c *fiber.Ctx) error {
	identity, err := callerIdentity(c)
	if err != nil {
		return err
	}

	var body createRequestBody
	if err := c.BodyParser(&body); err != nil {
		return toHTTPError(fmt.Errorf("%w: invalid request body", domain.ErrValidation))
	}

	created, err := h.requests.Create(c.UserContext(), identity, service.CreateRequestInput{
		Title:         body.Title,
		Description:   body.Description,
		InstitutionID: body.InstitutionID,
		DocumentURL:   body.DocumentURL,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(toRequestResponse(created))
}

func (h *RequestHandler) GetRequest(c *fiber.Ctx) error {
	identity, err := callerIdentity(c)
	if err != nil {
		return err
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		return toHTTPError(err)
	}

	req, err := h.requests.Get(c.UserContext(), identity, id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toRequestResponse(req))
}

func (h *RequestHandler) UpdateStatus(c *fiber.Ctx) error {
	identity, err := callerIdentity(c)
	if err != nil {
		return err
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		return toHTTPError(err)
	}

	var body updateStatusBody
	if err := c.BodyParser(&body); err != nil {
		return toHTTPError(fmt.Errorf("%w: invalid request body", domain.ErrValidation))
	}
	status, err := domain.ParseRequestStatusFromString(body.Status)
	if err != nil {
		return toHTTPError(err)
	}

	updated, err := h.status.UpdateStatus(c.UserContext(), identity, id, status)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toRequestResponse(updated))
}

func toRequestResponse(r *domain.Request) requestResponse {
	return requestResponse{
		ID:            r.ID,
		Title:         r.Title,
		Description:   r.Description,
		Status:        r.Status.String(),
		UserID:        r.UserID,
		InstitutionID: r.InstitutionID,
		DocumentURL:   r.DocumentURL,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}
