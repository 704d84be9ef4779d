package handler

import (
	"context"
	"fmt"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/rti-portal/internal/channel"
	"github.com/kursadbilgin/rti-portal/internal/observability"
	"github.com/kursadbilgin/rti-portal/internal/transport"
	"go.uber.org/zap"
)

const channelUserLocalsKey = "channelUserId"

// ChannelServer runs a bound delivery channel connection until it closes.
type ChannelServer interface {
	Serve(ctx context.Context, conn channel.Conn, userID string) error
}

// RegisterChannelRoutes mounts the delivery channel handshake at /ws. The
// connection is bound to the authenticated caller, never to a user named by
// the client.
func RegisterChannelRoutes(router fiber.Router, server ChannelServer, authenticate fiber.Handler, logger *zap.Logger) error {
	if server == nil {
		return fmt.Errorf("channel server is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	router.Get("/ws", authenticate, requireUpgrade, websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals(channelUserLocalsKey).(string)
		ctx := observability.WithUserID(context.Background(), userID)
		if requestID, ok := conn.Locals(transport.RequestIDLocalsKey).(string); ok {
			ctx = observability.WithCorrelationID(ctx, requestID)
		}

		if err := server.Serve(ctx, conn, userID); err != nil {
			observability.WithContextLogger(logger, ctx).Warn("channel connection rejected", zap.Error(err))
		}
	}))

	return nil
}

func requireUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.NewError(fiber.StatusUpgradeRequired, "websocket upgrade required")
	}

	identity, err := callerIdentity(c)
	if err != nil {
		return err
	}
	c.Locals(channelUserLocalsKey, identity.UserID)
	return c.Next()
}
