package transport

import (
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/rti-portal/internal/observability"
)

// RequestIDLocalsKey is where the requestid middleware stores the id.
const RequestIDLocalsKey = "requestid"

// CorrelationID copies the request id into the user context so service logs
// carry it. It must run after the requestid middleware.
func CorrelationID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if requestID, ok := c.Locals(RequestIDLocalsKey).(string); ok && requestID != "" {
			c.SetUserContext(observability.WithCorrelationID(c.UserContext(), requestID))
		}
		return c.Next()
	}
}
