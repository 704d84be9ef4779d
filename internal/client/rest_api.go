package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/rti-portal/internal/domain"
)

const defaultAPITimeout = 10 * time.Second

type errorBody struct {
	Error string `json:"error"`
}

// RESTAPI pulls and mutates notifications through the portal HTTP API.
type RESTAPI struct {
	client *resty.Client
}

func NewRESTAPI(baseURL string, token string) (*RESTAPI, error) {
	client := resty.New()
	client.SetTimeout(defaultAPITimeout)

	return NewRESTAPIWithClient(baseURL, token, client)
}

func NewRESTAPIWithClient(baseURL string, token string, client *resty.Client) (*RESTAPI, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("api base url is required")
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("access token is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultAPITimeout)
	}
	client.SetRetryCount(0)
	client.SetBaseURL(trimmed)
	client.SetAuthToken(token)
	client.SetHeader("Accept", "application/json")

	return &RESTAPI{client: client}, nil
}

func (a *RESTAPI) ListNotifications(ctx context.Context) ([]domain.Notification, error) {
	var notifications []domain.Notification

	resp, err := a.client.R().
		SetContext(ctx).
		SetResult(&notifications).
		SetError(&errorBody{}).
		Get("/notifications")
	if err != nil {
		return nil, fmt.Errorf("%w: list notifications: %v", domain.ErrTransport, err)
	}
	if resp.IsError() {
		return nil, apiErrorFrom(resp)
	}

	if notifications == nil {
		notifications = []domain.Notification{}
	}
	return notifications, nil
}

func (a *RESTAPI) MarkRead(ctx context.Context, id uint64) error {
	resp, err := a.client.R().
		SetContext(ctx).
		SetPathParam("id", fmt.Sprintf("%d", id)).
		SetError(&errorBody{}).
		Put("/notifications/{id}/read")
	if err != nil {
		return fmt.Errorf("%w: mark notification read: %v", domain.ErrTransport, err)
	}
	if resp.IsError() {
		return apiErrorFrom(resp)
	}
	return nil
}

func apiErrorFrom(resp *resty.Response) error {
	message := strings.TrimSpace(resp.String())
	if body, ok := resp.Error().(*errorBody); ok && strings.TrimSpace(body.Error) != "" {
		message = body.Error
	}
	return &APIError{StatusCode: resp.StatusCode(), Message: message}
}
